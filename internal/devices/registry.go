package devices

import (
	"sort"
	"sync"
	"time"
)

// StatusOnline is the only status the hub assigns itself. Field units may
// push their own status strings via heartbeat (e.g. "patrolling").
const StatusOnline = "online"

// Location mirrors the heartbeat GPS fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Info is the authoritative profile supplied at registration. A register
// replaces the whole entry; absent fields reset.
type Info struct {
	Name     string    `json:"name,omitempty"`
	Type     string    `json:"type,omitempty"`
	Battery  *int      `json:"battery,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Update is the typed partial update carried by heartbeats. Only fields
// present overwrite; everything else persists. This keeps the device shape
// well-defined instead of an unconstrained key/value merge.
type Update struct {
	Name     *string   `json:"name,omitempty"`
	Type     *string   `json:"type,omitempty"`
	Battery  *int      `json:"battery,omitempty"`
	Location *Location `json:"location,omitempty"`
	Status   *string   `json:"status,omitempty"`
}

type device struct {
	id       string
	name     string
	devType  string
	battery  *int
	location *Location
	status   string
	lastSeen time.Time
}

// Summary is the serialization-safe projection broadcast to viewers.
// It never leaks the owning connection.
type Summary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Type     string    `json:"type,omitempty"`
	Battery  *int      `json:"battery,omitempty"`
	Location *Location `json:"location,omitempty"`
	Status   string    `json:"status"`
	LastSeen string    `json:"lastSeen"`
}

// Registry tracks connected field units. One mutex guards the aggregate; all
// mutations complete under it so no caller ever observes a torn entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*device
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*device)}
}

// Register inserts or replaces the entry. Registration is authoritative:
// unlike heartbeat, previous attributes are overwritten entirely.
func (r *Registry) Register(id string, info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &device{
		id:       id,
		name:     info.Name,
		devType:  info.Type,
		battery:  info.Battery,
		location: info.Location,
		status:   StatusOnline,
		lastSeen: time.Now(),
	}
}

// Heartbeat merges the update into an existing entry and refreshes lastSeen.
// A heartbeat cannot create a device; unknown ids are a silent no-op so a
// stray heartbeat from a never-registered connection cannot fabricate a
// phantom entry. Returns whether the heartbeat was applied.
func (r *Registry) Heartbeat(id string, up Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.entries[id]
	if !ok {
		return false
	}
	if up.Name != nil {
		d.name = *up.Name
	}
	if up.Type != nil {
		d.devType = *up.Type
	}
	if up.Battery != nil {
		d.battery = up.Battery
	}
	if up.Location != nil {
		d.location = up.Location
	}
	d.status = StatusOnline
	if up.Status != nil && *up.Status != "" {
		d.status = *up.Status
	}
	d.lastSeen = time.Now()
	return true
}

// Remove deletes the entry unconditionally. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Sweep evicts every entry whose lastSeen is older than timeout relative to
// now. Returns whether anything was removed, which drives whether the caller
// needs to broadcast a fresh device list.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for id, d := range r.entries {
		if now.Sub(d.lastSeen) > timeout {
			delete(r.entries, id)
			changed = true
		}
	}
	return changed
}

// Snapshot returns the device summaries sorted by id. Stable projection safe
// to hand to the dispatcher.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, Summary{
			ID:       d.id,
			Name:     d.name,
			Type:     d.devType,
			Battery:  d.battery,
			Location: d.location,
			Status:   d.status,
			LastSeen: d.lastSeen.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of tracked devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
