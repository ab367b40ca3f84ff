package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

var (
	SpoolDir           = "data/archive_spool"
	MaxSpoolSize int64 = 256 * 1024 * 1024 // 256MB
)

const spoolFile = "incident_spool.log"

// FailoverRecord wraps a spooled incident as one JSONL line.
type FailoverRecord struct {
	IncidentID string             `json:"incident_id"`
	Payload    incidents.Incident `json:"payload"`
	Timestamp  time.Time          `json:"timestamp"`
}

func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolIncident appends the record to the local failover file.
func SpoolIncident(inc incidents.Incident) error {
	if isSpoolFull() {
		return fmt.Errorf("archive spool full (limit %d bytes)", MaxSpoolSize)
	}

	line, err := json.Marshal(FailoverRecord{
		IncidentID: inc.ID,
		Payload:    inc,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(SpoolDir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

// StartReplayer periodically drains the spool back into the DB.
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

// ReplaySpool re-inserts spooled records. If the DB is still down,
// WriteIncident re-spools each record to a fresh spool file, so nothing is
// lost and nothing tight-loops.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, spoolFile)
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return
	}

	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("Archive: failed to rotate spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var succeeded int
	for scanner.Scan() {
		var rec FailoverRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if err := s.WriteIncident(ctx, rec.Payload); err == nil {
			succeeded++
		}
	}

	if succeeded > 0 {
		log.Printf("Archive: replayed %d spooled incidents", succeeded)
	}
	os.Remove(replayFile)
}
