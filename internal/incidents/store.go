package incidents

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// MaxRetained bounds the in-memory log. Oldest entries are trimmed first.
const MaxRetained = 1000

// Archiver receives accepted incidents for durable mirroring. The in-memory
// log stays authoritative; archive failures never surface to reporters.
type Archiver interface {
	ArchiveIncident(ctx context.Context, inc Incident)
}

// Store is the process-wide incident log. Most-recent-first, capped at
// MaxRetained. One mutex guards the whole aggregate; critical sections are
// small so contention is a non-issue at this scale.
type Store struct {
	mu       sync.Mutex
	log      []Incident
	imageDir string
	archiver Archiver

	lastIDMillis int64 // collision guard for generated ids
}

// NewStore creates a store writing incident images under imageDir.
// archiver may be nil.
func NewStore(imageDir string, archiver Archiver) *Store {
	return &Store{imageDir: imageDir, archiver: archiver}
}

// Submit records an incident. The identity is taken from the payload or
// generated, the receipt timestamp is hub-assigned, and the optional image is
// persisted next to the record. A failed image write is logged and reported
// but the textual record is always kept: prefer a degraded record over total
// loss.
func (s *Store) Submit(payload Payload) (Incident, error) {
	now := time.Now().UTC()

	inc := Incident{
		ID:         payload.IncidentID,
		Type:       payload.Type,
		Message:    payload.Message,
		Location:   payload.Location,
		Timestamp:  payload.Timestamp,
		Severity:   payload.Severity,
		ReceivedAt: now.Format(time.RFC3339),
	}
	if inc.ID == "" {
		inc.ID = s.nextID(now)
	}
	if inc.Timestamp == "" {
		inc.Timestamp = inc.ReceivedAt
	}

	// Image persistence happens outside the lock: it is the only IO on this
	// path, and ids are unique so concurrent writes never collide.
	var imageErr error
	if payload.Image != "" {
		path, err := s.writeImage(inc.ID, payload.Image, payload.ImageType)
		if err != nil {
			log.Printf("Incident %s: image write failed: %v. Recording without image.", inc.ID, err)
			imageErr = fmt.Errorf("%w: %v", ErrImagePersist, err)
		} else {
			inc.ImagePath = path
		}
	}

	s.mu.Lock()
	s.log = append([]Incident{inc}, s.log...)
	if len(s.log) > MaxRetained {
		s.log = s.log[:MaxRetained]
	}
	s.mu.Unlock()

	if s.archiver != nil {
		go s.archiver.ArchiveIncident(context.Background(), inc)
	}

	return inc, imageErr
}

// List returns the retained log, most-recent-first. The returned slice is a
// copy; callers can hold it across broadcasts safely.
func (s *Store) List() []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Incident, len(s.log))
	copy(out, s.log)
	return out
}

// Count returns the number of retained incidents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// nextID generates "INC-<epochMillis>". Two submissions in the same
// millisecond bump forward so ids stay unique within the process.
func (s *Store) nextID(now time.Time) string {
	millis := now.UnixMilli()
	s.mu.Lock()
	if millis <= s.lastIDMillis {
		millis = s.lastIDMillis + 1
	}
	s.lastIDMillis = millis
	s.mu.Unlock()
	return fmt.Sprintf("INC-%d", millis)
}
