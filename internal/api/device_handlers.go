package api

import (
	"net/http"

	"github.com/technosupport/ts-roadwatch/internal/devices"
)

type DeviceHandler struct {
	Registry *devices.Registry
}

func NewDeviceHandler(reg *devices.Registry) *DeviceHandler {
	return &DeviceHandler{Registry: reg}
}

// GET /api/v1/devices
// Read-only projection of the registry. The snapshot may lag a dead
// connection by up to one sweep interval; callers tolerate that window.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"devices": h.Registry.Snapshot(),
	})
}
