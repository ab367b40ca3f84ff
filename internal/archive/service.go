package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

// Service mirrors accepted incidents into Postgres. The in-memory store is
// authoritative; this is the durable trail behind it. A DB outage spools
// records to disk and the replayer drains them once the DB returns.
type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// ArchiveIncident satisfies the store's Archiver hook. It is called off the
// ingestion path; failures are logged and spooled, never propagated back to
// the reporter.
func (s *Service) ArchiveIncident(ctx context.Context, inc incidents.Incident) {
	if err := s.WriteIncident(ctx, inc); err != nil {
		log.Printf("Archive: incident %s not persisted: %v", inc.ID, err)
	}
}

// WriteIncident inserts the record, idempotent on incident id. On DB failure
// the record spools to the local failover file.
func (s *Service) WriteIncident(ctx context.Context, inc incidents.Incident) error {
	var lat, lng sql.NullFloat64
	if inc.Location != nil {
		lat = sql.NullFloat64{Float64: inc.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: inc.Location.Longitude, Valid: true}
	}

	raw, _ := json.Marshal(inc)

	query := `
		INSERT INTO incident_archive (
			event_id, incident_id, kind, message, severity,
			latitude, longitude, reported_at, received_at, image_path, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (incident_id) DO NOTHING
	`

	_, err := s.DB.ExecContext(ctx, query,
		uuid.New(), inc.ID, inc.Type, inc.Message, inc.Severity,
		lat, lng, inc.Timestamp, inc.ReceivedAt, inc.ImagePath, raw,
	)
	if err != nil {
		log.Printf("Archive DB write failed: %v. Spooling incident %s", err, inc.ID)
		if spoolErr := SpoolIncident(inc); spoolErr != nil {
			log.Printf("CRITICAL: Archive spool FAILED for incident %s: %v", inc.ID, spoolErr)
			return fmt.Errorf("archive critical failure: %v", spoolErr)
		}
		return nil // Swallow DB error if spooled successfully
	}

	return nil
}
