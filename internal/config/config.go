package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-roadwatch/internal/devices"
	"github.com/technosupport/ts-roadwatch/internal/ratelimit"
)

// File is the YAML schema of config/default.yaml. Durations are milliseconds
// in the file; typed accessors convert. Addresses and secrets come from env
// vars, not from the file.
type File struct {
	Server struct {
		Port     string `yaml:"port"`
		ImageDir string `yaml:"image_dir"`
	} `yaml:"server"`

	Sweep struct {
		IntervalMs         int `yaml:"interval_ms"`
		HeartbeatTimeoutMs int `yaml:"heartbeat_timeout_ms"`
	} `yaml:"sweep"`

	RateLimit struct {
		Incidents struct {
			Rate     int `yaml:"rate"`
			WindowMs int `yaml:"window_ms"`
		} `yaml:"incidents"`
	} `yaml:"rate_limit"`

	Events struct {
		Nats struct {
			Subject         string `yaml:"subject"`
			PublishRetryMax int    `yaml:"publish_retry_max"`
			DedupTTLSeconds int    `yaml:"dedup_ttl_seconds"`
			DedupMaxKeys    int    `yaml:"dedup_max_keys"`
		} `yaml:"nats"`
	} `yaml:"events"`

	Archive struct {
		SpoolDir   string `yaml:"spool_dir"`
		SpoolMaxMB int64  `yaml:"spool_max_mb"`
	} `yaml:"archive"`
}

func (f *File) applyDefaults() {
	if f.Server.Port == "" {
		f.Server.Port = "3000"
	}
	if f.Server.ImageDir == "" {
		f.Server.ImageDir = "data/incident_images"
	}
	if f.Sweep.IntervalMs <= 0 {
		f.Sweep.IntervalMs = 10000
	}
	if f.Sweep.HeartbeatTimeoutMs <= 0 {
		f.Sweep.HeartbeatTimeoutMs = 30000
	}
	if f.Events.Nats.Subject == "" {
		f.Events.Nats.Subject = "roadwatch.incidents"
	}
}

func (f *File) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		f.Server.Port = v
	}
	if v := os.Getenv("IMAGE_DIR"); v != "" {
		f.Server.ImageDir = v
	}
}

// Load parses the file at path. A missing file is not an error: defaults plus
// env overrides make a runnable dev config, matching the original's
// zero-config startup.
func Load(path string) (*File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	f.applyDefaults()
	f.applyEnv()
	return &f, nil
}

// Dynamic holds the reloadable tunables behind an atomic pointer. The
// watcher swaps the whole snapshot; readers never see a half-applied reload.
type Dynamic struct {
	path    string
	current atomic.Pointer[File]
}

// NewDynamic loads path and wraps it for hot reload.
func NewDynamic(path string) (*Dynamic, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	d := &Dynamic{path: path}
	d.current.Store(f)
	return d, nil
}

// Snapshot returns the current config. The returned value must be treated as
// read-only.
func (d *Dynamic) Snapshot() *File {
	return d.current.Load()
}

// Reload re-reads the file. Invoked by the watcher; safe to call directly.
func (d *Dynamic) Reload() error {
	f, err := Load(d.path)
	if err != nil {
		return err
	}
	d.current.Store(f)
	return nil
}

// SweepSettings implements devices.Settings so the sweeper picks up reloaded
// values on its next tick.
func (d *Dynamic) SweepSettings() devices.SweeperConfig {
	f := d.Snapshot()
	return devices.SweeperConfig{
		Interval: time.Duration(f.Sweep.IntervalMs) * time.Millisecond,
		Timeout:  time.Duration(f.Sweep.HeartbeatTimeoutMs) * time.Millisecond,
	}
}

// IncidentLimit maps the file's rate-limit section onto the limiter config.
func (d *Dynamic) IncidentLimit() ratelimit.LimitConfig {
	f := d.Snapshot()
	return ratelimit.LimitConfig{
		Rate:   f.RateLimit.Incidents.Rate,
		Window: time.Duration(f.RateLimit.Incidents.WindowMs) * time.Millisecond,
	}
}
