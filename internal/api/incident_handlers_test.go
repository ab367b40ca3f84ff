package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-roadwatch/internal/api"
	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/hub"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
	"github.com/technosupport/ts-roadwatch/internal/metrics"
)

type apiFixture struct {
	store    *incidents.Store
	registry *devices.Registry
	hub      *hub.Hub
	metrics  *metrics.Collector
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := incidents.NewStore(t.TempDir(), nil)
	registry := devices.NewRegistry()
	collector := metrics.NewCollector()
	return &apiFixture{
		store:    store,
		registry: registry,
		hub:      hub.New(store, registry, nil, collector),
		metrics:  collector,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateIncident(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewIncidentHandler(fx.store, fx.hub, fx.metrics)

	rec := postJSON(t, h.Create, `{"type":"accident","message":"collision at km 12","severity":"critical"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		AlertID string `json:"alertId"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Regexp(t, `^INC-\d+$`, resp.AlertID)
	assert.Equal(t, "تم استلام الحادث بنجاح", resp.Message)

	list := fx.store.List()
	require.Len(t, list, 1)
	assert.Equal(t, resp.AlertID, list[0].ID)
	assert.Equal(t, "critical", list[0].Severity)
}

func TestCreateIncidentInvalidJSON(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewIncidentHandler(fx.store, fx.hub, fx.metrics)

	rec := postJSON(t, h.Create, `{"type": broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid JSON", resp.Error)
	assert.Zero(t, fx.store.Count())
}

func TestCreateIncidentBodyTooLarge(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewIncidentHandler(fx.store, fx.hub, fx.metrics)

	// Valid JSON that crosses the body cap: one oversized string field.
	var buf bytes.Buffer
	buf.WriteString(`{"message":"`)
	buf.Write(bytes.Repeat([]byte("x"), api.MaxIncidentBody+1))
	buf.WriteString(`"}`)

	rec := postJSON(t, h.Create, buf.String())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, fx.store.Count())
}

func TestCreateIncidentDegradedImageStillSucceeds(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewIncidentHandler(fx.store, fx.hub, fx.metrics)

	rec := postJSON(t, h.Create, `{"type":"debris","message":"tire on road","image":"^^not-base64^^"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	list := fx.store.List()
	require.Len(t, list, 1)
	assert.Empty(t, list[0].ImagePath, "image dropped, record kept")
	assert.Equal(t, "tire on road", list[0].Message)
}

func TestListIncidents(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewIncidentHandler(fx.store, fx.hub, fx.metrics)

	for _, kind := range []string{"accident", "congestion"} {
		_, err := fx.store.Submit(incidents.Payload{Type: kind})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success   bool                 `json:"success"`
		Count     int                  `json:"count"`
		Incidents []incidents.Incident `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Incidents, 2)
	assert.Equal(t, "congestion", resp.Incidents[0].Type, "most recent first")
}

func TestListDevices(t *testing.T) {
	fx := newAPIFixture(t)
	h := api.NewDeviceHandler(fx.registry)

	battery := 75
	fx.registry.Register("UNIT-2", devices.Info{Name: "Patrol B", Battery: &battery})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Devices []devices.Summary `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "UNIT-2", resp.Devices[0].ID)
	assert.Equal(t, 75, *resp.Devices[0].Battery)
}
