package hub

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
	"github.com/technosupport/ts-roadwatch/internal/metrics"
)

// EventPublisher mirrors accepted incidents to an external bus. Publish
// failures are the publisher's problem; the hub never blocks on it.
type EventPublisher interface {
	PublishIncident(inc incidents.Incident)
}

// Hub owns every open persistent connection, routes inbound frames to the
// store and registry, and fans state changes back out. It is shared between
// the WS handler and the HTTP gateway so both ingestion paths trigger the
// same broadcasts.
type Hub struct {
	store     *incidents.Store
	registry  *devices.Registry
	publisher EventPublisher
	metrics   *metrics.Collector

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// New creates a hub. publisher may be nil; metrics is required.
func New(store *incidents.Store, registry *devices.Registry, publisher EventPublisher, collector *metrics.Collector) *Hub {
	return &Hub{
		store:     store,
		registry:  registry,
		publisher: publisher,
		metrics:   collector,
		clients:   make(map[*Client]struct{}),
	}
}

// HandleConn runs a freshly upgraded connection to completion. Before any
// classification the client receives one sync frame carrying the full
// incident log, so late joiners catch up without polling.
func (h *Hub) HandleConn(conn *websocket.Conn) {
	client := newClient(conn)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metrics.ConnectionOpened()

	go client.writePump()

	client.trySend(encodeFrame(FrameSync, map[string]any{
		"incidents": h.store.List(),
	}))

	h.readLoop(client)
	h.dropClient(client)
}

// readLoop processes frames in receipt order until the transport closes or a
// fatal read error occurs. Malformed frames answer the sender only; they
// never tear the connection down.
func (h *Hub) readLoop(client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WS read error: %v", err)
			}
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			h.sendError(client, err.Error())
			continue
		}
		h.handleFrame(client, frame)
	}
}

func (h *Hub) handleFrame(client *Client, frame *inboundFrame) {
	switch frame.Type {
	case FrameRegister:
		h.handleRegister(client, frame.Register)
	case FrameHeartbeat:
		h.handleHeartbeat(frame.Heartbeat)
	case FrameIncident:
		h.handleIncident(client, frame.Incident)
	case FramePing:
		client.trySend(encodeFrame(FramePong, map[string]any{
			"ts": time.Now().UTC().Format(time.RFC3339),
		}))
	}
}

func (h *Hub) handleRegister(client *Client, p *RegisterPayload) {
	if p.IsViewer() {
		client.setRole(roleViewer, "")
		h.metrics.ConnectionClassified("viewer")
		log.Printf("WS viewer registered: %s (role=%s)", p.ID, p.Role)
		// Direct reply so the new viewer has a device list immediately.
		client.trySend(h.devicesFrame())
		return
	}

	client.setRole(roleField, p.ID)
	h.registry.Register(p.ID, p.Info())
	h.metrics.ConnectionClassified("field")
	h.metrics.SetDevicesOnline(h.registry.Count())
	log.Printf("WS field device registered: %s", p.ID)
	h.BroadcastDevices()
}

func (h *Hub) handleHeartbeat(p *HeartbeatPayload) {
	// Only register can create an entry; a heartbeat for an unknown id is a
	// silent no-op and no broadcast fires.
	if h.registry.Heartbeat(p.ID, p.Update()) {
		h.BroadcastDevices()
	}
}

func (h *Hub) handleIncident(client *Client, p *incidents.Payload) {
	inc, err := h.store.Submit(*p)
	if err != nil {
		// Image persistence failed but the textual record is in. The sender
		// still gets its ack; the degraded record is already broadcast-worthy.
		log.Printf("Incident %s ingested degraded: %v", inc.ID, err)
	}
	h.metrics.IncidentReceived("ws")
	log.Printf("Incident received via WS: %s (%s/%s)", inc.ID, inc.Type, inc.Severity)

	h.BroadcastIncident(inc)
	client.trySend(encodeFrame(FrameAck, map[string]any{
		"incidentId": inc.ID,
	}))
}

// BroadcastIncident serializes the incident once and writes it to every open
// connection. Also the entry point for the HTTP gateway.
func (h *Hub) BroadcastIncident(inc incidents.Incident) {
	data := encodeFrame(FrameIncident, map[string]any{"incident": inc})
	h.fanOut(data, false)
	h.metrics.Broadcast(FrameIncident)

	if h.publisher != nil {
		h.publisher.PublishIncident(inc)
	}
}

// BroadcastDevices pushes the current registry snapshot to viewer connections
// only; field devices have no use for the list.
func (h *Hub) BroadcastDevices() {
	h.metrics.SetDevicesOnline(h.registry.Count())
	h.fanOut(h.devicesFrame(), true)
	h.metrics.Broadcast(FrameDevicesUpdate)
}

func (h *Hub) devicesFrame() []byte {
	return encodeFrame(FrameDevicesUpdate, map[string]any{
		"devices": h.registry.Snapshot(),
	})
}

// fanOut delivers pre-serialized bytes. A failed or slow connection is
// counted and skipped; it cannot block or fail delivery to the others.
func (h *Hub) fanOut(data []byte, viewersOnly bool) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if viewersOnly {
			if r, _ := c.roleInfo(); r != roleViewer {
				continue
			}
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.trySend(data) {
			h.metrics.BroadcastDropped()
		}
	}
}

func (h *Hub) sendError(client *Client, message string) {
	client.trySend(encodeFrame(FrameError, map[string]any{"message": message}))
}

// dropClient removes the connection and, for field connections, evicts the
// device it controlled and tells the viewers. The sweep would catch the entry
// within its timeout anyway; this closes the staleness window early.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if !present {
		return
	}

	client.close()
	h.metrics.ConnectionClosed()

	if r, deviceID := client.roleInfo(); r == roleField && deviceID != "" {
		h.registry.Remove(deviceID)
		log.Printf("WS field device disconnected: %s", deviceID)
		h.BroadcastDevices()
	}
}

// ClientCount reports the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
