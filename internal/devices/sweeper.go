package devices

import (
	"log"
	"sync"
	"time"
)

// SweeperConfig defines the eviction cadence. Settings provides the live
// values so a config reload takes effect on the next tick without a restart.
type SweeperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Settings yields the current sweep tuning. Implemented by the config holder.
type Settings interface {
	SweepSettings() SweeperConfig
}

type staticSettings SweeperConfig

func (s staticSettings) SweepSettings() SweeperConfig { return SweeperConfig(s) }

// StaticSettings wraps fixed values for callers without a dynamic config.
func StaticSettings(cfg SweeperConfig) Settings { return staticSettings(cfg) }

// Sweeper periodically evicts registry entries that stopped heartbeating.
// It runs independently of any single connection's activity: a field unit
// whose transport silently died is removed here even though its connection
// close was never observed.
type Sweeper struct {
	registry *Registry
	settings Settings
	onChange func()
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper builds a sweeper. onChange fires after a sweep that removed at
// least one entry (drives a devices broadcast); it may be nil.
func NewSweeper(reg *Registry, settings Settings, onChange func()) *Sweeper {
	return &Sweeper{
		registry: reg,
		settings: settings,
		onChange: onChange,
		quit:     make(chan struct{}),
	}
}

// Start initiates the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	cfg := s.normalized()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cfg = s.normalized()
			// Re-arm in case the interval was reloaded.
			ticker.Reset(cfg.Interval)
			if s.registry.Sweep(time.Now(), cfg.Timeout) {
				log.Printf("Device sweep: evicted stale entries (timeout %s)", cfg.Timeout)
				if s.onChange != nil {
					s.onChange()
				}
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Sweeper) normalized() SweeperConfig {
	cfg := s.settings.SweepSettings()
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}
