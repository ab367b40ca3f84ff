package api

import (
	"net/http"

	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/incidents"
)

type StatsHandler struct {
	Store    *incidents.Store
	Registry *devices.Registry
}

func NewStatsHandler(store *incidents.Store, reg *devices.Registry) *StatsHandler {
	return &StatsHandler{Store: store, Registry: reg}
}

// GET /api/v1/stats
// Pure aggregation over the retained window, recomputed per call. With the
// log capped at 1000 entries there is nothing worth caching.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	list := h.Store.List()

	stats := map[string]any{
		"total":         len(list),
		"activeDevices": h.Registry.Count(),
	}

	var critical, warning int
	byKind := make(map[string]int)
	for _, inc := range list {
		if inc.Type != "" {
			byKind[inc.Type]++
		}
		switch inc.Severity {
		case "critical":
			critical++
		case "warning":
			warning++
		}
	}
	// Kind tags are opaque to the hub, so the per-kind keys are whatever the
	// reporters sent.
	for kind, n := range byKind {
		stats[kind] = n
	}
	stats["critical"] = critical
	stats["warning"] = warning

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}
