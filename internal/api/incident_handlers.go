package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/technosupport/ts-roadwatch/internal/hub"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
	"github.com/technosupport/ts-roadwatch/internal/metrics"
)

// MaxIncidentBody caps POST /incidents bodies. Incident images ride inline as
// base64, so the bound is generous; anything larger is rejected up front.
const MaxIncidentBody = 10 << 20 // 10MiB

// Localized acknowledgement returned to reporters (product ships in Arabic).
const incidentReceivedMsg = "تم استلام الحادث بنجاح"

type IncidentHandler struct {
	Store   *incidents.Store
	Hub     *hub.Hub
	Metrics *metrics.Collector
}

func NewIncidentHandler(store *incidents.Store, h *hub.Hub, collector *metrics.Collector) *IncidentHandler {
	return &IncidentHandler{Store: store, Hub: h, Metrics: collector}
}

// POST /api/v1/incidents
// One-shot submission path for clients that cannot hold a persistent
// connection. Converges on the same store and broadcast as the WS frame.
func (h *IncidentHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxIncidentBody)

	var payload incidents.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	inc, err := h.Store.Submit(payload)
	if err != nil {
		// Image failure only: the textual record is stored and the reporter
		// still gets success for it.
		log.Printf("Incident %s accepted degraded via HTTP: %v", inc.ID, err)
	}
	h.Metrics.IncidentReceived("http")
	log.Printf("Incident received via HTTP: %s (%s/%s)", inc.ID, inc.Type, inc.Severity)

	h.Hub.BroadcastIncident(inc)

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"alertId": inc.ID,
		"message": incidentReceivedMsg,
	})
}

// GET /api/v1/incidents
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.Store.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"count":     len(list),
		"incidents": list,
	})
}
