package incidents_test

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

// Tiny valid payload; content doesn't matter, only that it round-trips.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func newStore(t *testing.T) *incidents.Store {
	t.Helper()
	return incidents.NewStore(filepath.Join(t.TempDir(), "images"), nil)
}

func TestSubmit_AssignsIdentityAndReceipt(t *testing.T) {
	store := newStore(t)

	inc, err := store.Submit(incidents.Payload{
		Type:     "accident",
		Message:  "collision on ring road",
		Severity: "critical",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^INC-\d+$`, inc.ID)
	assert.NotEmpty(t, inc.ReceivedAt)
	assert.Equal(t, inc.ReceivedAt, inc.Timestamp, "missing reporter timestamp defaults to receipt time")
	assert.Equal(t, "accident", inc.Type)
}

func TestSubmit_KeepsReporterIdentityAndTimestamp(t *testing.T) {
	store := newStore(t)

	inc, err := store.Submit(incidents.Payload{
		IncidentID: "INC-CLIENT-7",
		Type:       "lane_departure",
		Timestamp:  "2026-08-01T10:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "INC-CLIENT-7", inc.ID)
	assert.Equal(t, "2026-08-01T10:00:00Z", inc.Timestamp)
	assert.NotEqual(t, inc.Timestamp, inc.ReceivedAt, "receipt timestamp is hub-assigned")
}

func TestSubmit_GeneratedIdsAreUnique(t *testing.T) {
	store := newStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		inc, err := store.Submit(incidents.Payload{Type: "accident"})
		require.NoError(t, err)
		assert.False(t, seen[inc.ID], "duplicate id %s", inc.ID)
		seen[inc.ID] = true
	}
}

func TestList_MostRecentFirst(t *testing.T) {
	store := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.Submit(incidents.Payload{
			IncidentID: fmt.Sprintf("INC-%d", i),
			Type:       "accident",
		})
		require.NoError(t, err)
	}

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, "INC-2", list[0].ID)
	assert.Equal(t, "INC-0", list[2].ID)
}

func TestList_TrimsOldestBeyondCap(t *testing.T) {
	store := newStore(t)

	for i := 0; i <= incidents.MaxRetained; i++ {
		_, err := store.Submit(incidents.Payload{
			IncidentID: fmt.Sprintf("INC-%d", i),
			Type:       "accident",
		})
		require.NoError(t, err)
	}

	list := store.List()
	require.Len(t, list, incidents.MaxRetained)
	assert.Equal(t, fmt.Sprintf("INC-%d", incidents.MaxRetained), list[0].ID, "newest present")
	for _, inc := range list {
		assert.NotEqual(t, "INC-0", inc.ID, "oldest trimmed")
	}
}

func TestSubmit_PersistsPNGImage(t *testing.T) {
	dir := t.TempDir()
	store := incidents.NewStore(filepath.Join(dir, "images"), nil)

	inc, err := store.Submit(incidents.Payload{
		IncidentID: "INC-IMG-1",
		Type:       "accident",
		Image:      base64.StdEncoding.EncodeToString(pngBytes),
		ImageType:  "image/png",
	})
	require.NoError(t, err)

	assert.Equal(t, "images/INC-IMG-1.png", inc.ImagePath)
	data, err := os.ReadFile(filepath.Join(dir, "images", "INC-IMG-1.png"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestSubmit_DataURIOverridesMIME(t *testing.T) {
	dir := t.TempDir()
	store := incidents.NewStore(filepath.Join(dir, "images"), nil)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	inc, err := store.Submit(incidents.Payload{
		IncidentID: "INC-IMG-2",
		Type:       "accident",
		Image:      uri,
		ImageType:  "image/jpeg", // data URI wins
	})
	require.NoError(t, err)
	assert.Equal(t, "images/INC-IMG-2.png", inc.ImagePath)
}

func TestSubmit_DefaultsToJPG(t *testing.T) {
	dir := t.TempDir()
	store := incidents.NewStore(filepath.Join(dir, "images"), nil)

	inc, err := store.Submit(incidents.Payload{
		IncidentID: "INC-IMG-3",
		Type:       "accident",
		Image:      base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF}),
		ImageType:  "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "images/INC-IMG-3.jpg", inc.ImagePath)
}

func TestSubmit_ImageFailureKeepsTextualRecord(t *testing.T) {
	store := newStore(t)

	inc, err := store.Submit(incidents.Payload{
		IncidentID: "INC-BAD-IMG",
		Type:       "accident",
		Message:    "still recorded",
		Image:      "%%% not base64 %%%",
	})
	require.ErrorIs(t, err, incidents.ErrImagePersist)

	assert.Empty(t, inc.ImagePath)
	assert.Equal(t, "still recorded", inc.Message)

	list := store.List()
	require.Len(t, list, 1, "textual record retained despite image failure")
	assert.Equal(t, "INC-BAD-IMG", list[0].ID)
	assert.Empty(t, list[0].ImagePath)
}

func TestList_ReturnsCopy(t *testing.T) {
	store := newStore(t)
	_, err := store.Submit(incidents.Payload{IncidentID: "INC-A", Type: "accident"})
	require.NoError(t, err)

	list := store.List()
	list[0].Message = "mutated"

	assert.NotEqual(t, "mutated", store.List()[0].Message)
}
