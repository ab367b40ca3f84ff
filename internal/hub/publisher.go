package hub

import (
	"encoding/json"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

// NATSPublisher mirrors accepted incidents onto a NATS subject for downstream
// consumers (dispatch systems, archival pipelines). The reference client
// submits each incident over both the WS frame and the HTTP backup path, so
// publishes are deduplicated by incident id within a TTL window.
type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	dedup      *lru.Cache[string, time.Time]
	dedupTTL   time.Duration
}

func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries, dedupKeys int, dedupTTL time.Duration) *NATSPublisher {
	if dedupKeys <= 0 {
		dedupKeys = 2048
	}
	if dedupTTL <= 0 {
		dedupTTL = 30 * time.Second
	}
	cache, _ := lru.New[string, time.Time](dedupKeys)
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		dedup:      cache,
		dedupTTL:   dedupTTL,
	}
}

// PublishIncident publishes with bounded retry. Failures are logged and
// swallowed: the bus mirror is best-effort and must never affect the hub.
func (p *NATSPublisher) PublishIncident(inc incidents.Incident) {
	if p.isDuplicate(inc.ID) {
		return
	}

	data, err := json.Marshal(inc)
	if err != nil {
		log.Printf("NATS publish: marshal failed for %s: %v", inc.ID, err)
		return
	}

	for i := 0; i <= p.maxRetries; i++ {
		if err = p.conn.Publish(p.subject, data); err == nil {
			return
		}
		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	log.Printf("NATS publish failed after %d retries for %s: %v", p.maxRetries, inc.ID, err)
}

func (p *NATSPublisher) isDuplicate(id string) bool {
	if seenAt, ok := p.dedup.Get(id); ok {
		if time.Since(seenAt) < p.dedupTTL {
			return true
		}
	}
	p.dedup.Add(id, time.Now())
	return false
}
