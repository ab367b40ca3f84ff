package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send transport pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Incident images ride the HTTP path or fit
	// well under this for WS submissions.
	maxFrameSize = 10 << 20 // 10MiB

	// Per-connection outbound buffer. A slow viewer drops frames rather than
	// blocking the dispatcher.
	sendQueueSize = 64
)

// Connection roles. Every connection starts unclassified and is pinned by its
// first register frame.
type role int

const (
	roleUnclassified role = iota
	roleViewer
	roleField
)

// Client is one open bidirectional connection. The write pump goroutine owns
// all writes to the socket; everything else goes through the send channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	role     role
	deviceID string // set for field connections; drives registry cleanup
	closed   bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

func (c *Client) setRole(r role, deviceID string) {
	c.mu.Lock()
	c.role = r
	c.deviceID = deviceID
	c.mu.Unlock()
}

func (c *Client) roleInfo() (role, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.deviceID
}

// trySend queues a frame without ever blocking the caller. Returns false when
// the client is closed or its buffer is full — per-connection send failures
// are isolated by design and must never stall delivery to other connections.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close marks the client dead and wakes the write pump. Idempotent; called
// from both the read loop teardown and the hub's unregister path.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// writePump drains the send queue onto the socket and keeps the transport
// alive with pings. Runs in its own goroutine per connection; exits when the
// send channel closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
