package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

func useTempSpool(t *testing.T) string {
	t.Helper()
	origDir, origSize := SpoolDir, MaxSpoolSize
	t.Cleanup(func() {
		SpoolDir, MaxSpoolSize = origDir, origSize
	})
	dir := t.TempDir()
	ConfigureFailover(dir, 1)
	return dir
}

func sampleIncident() incidents.Incident {
	return incidents.Incident{
		ID:         "INC-1700000000000",
		Type:       "accident",
		Message:    "collision at km 12",
		Severity:   "critical",
		Location:   &incidents.Location{Latitude: 24.71, Longitude: 46.67},
		Timestamp:  "2026-08-28T10:00:00Z",
		ReceivedAt: "2026-08-28T10:00:01Z",
	}
}

func TestWriteIncident(t *testing.T) {
	useTempSpool(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	inc := sampleIncident()
	mock.ExpectExec("INSERT INTO incident_archive").
		WithArgs(sqlmock.AnyArg(), inc.ID, inc.Type, inc.Message, inc.Severity,
			sqlmock.AnyArg(), sqlmock.AnyArg(), inc.Timestamp, inc.ReceivedAt, inc.ImagePath, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	svc := NewService(db)
	require.NoError(t, svc.WriteIncident(context.Background(), inc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteIncidentDBDownSpools(t *testing.T) {
	dir := useTempSpool(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO incident_archive").
		WillReturnError(assert.AnError)

	svc := NewService(db)
	inc := sampleIncident()
	// The DB error is swallowed once the record is safely on disk.
	require.NoError(t, svc.WriteIncident(context.Background(), inc))

	f, err := os.Open(filepath.Join(dir, "incident_spool.log"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one spooled line")
	var rec FailoverRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, inc.ID, rec.IncidentID)
	assert.Equal(t, inc.Message, rec.Payload.Message)
	assert.False(t, scanner.Scan(), "exactly one line")
}

func TestSpoolFull(t *testing.T) {
	useTempSpool(t)
	MaxSpoolSize = 1 // Anything already on disk makes the spool full.

	require.NoError(t, SpoolIncident(sampleIncident()))
	err := SpoolIncident(sampleIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spool full")
}

func TestReplaySpoolDrains(t *testing.T) {
	dir := useTempSpool(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, SpoolIncident(sampleIncident()))
	other := sampleIncident()
	other.ID = "INC-1700000000001"
	require.NoError(t, SpoolIncident(other))

	mock.ExpectExec("INSERT INTO incident_archive").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO incident_archive").WillReturnResult(sqlmock.NewResult(2, 1))

	svc := NewService(db)
	svc.ReplaySpool(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool and replay files are gone after a clean drain")
}

func TestReplaySpoolDBStillDownRespools(t *testing.T) {
	dir := useTempSpool(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, SpoolIncident(sampleIncident()))

	// Replay attempts the insert, fails, and the record lands in a fresh
	// spool file instead of being lost.
	mock.ExpectExec("INSERT INTO incident_archive").WillReturnError(assert.AnError)

	svc := NewService(db)
	svc.ReplaySpool(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, "incident_spool.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "INC-1700000000000")
}

func TestReplaySpoolNoFile(t *testing.T) {
	useTempSpool(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(db)
	svc.ReplaySpool(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet(), "no spool means no DB traffic")
}
