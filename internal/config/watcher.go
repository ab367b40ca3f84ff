package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher reloads the config file on change so sweep and rate-limit
// tuning apply without a restart. fsnotify when available, with a slow
// polling loop as a safety net (some mounts never deliver events).
func (d *Dynamic) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("Config watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := watcher.Add(d.path); err != nil {
			// File may not exist yet (defaults-only dev run); poll instead.
			log.Printf("Config watcher: cannot watch %s (%v), falling back to polling", d.path, err)
			usePolling = true
			watcher.Close()
		}
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						// Editors often write in two steps; let the file settle.
						time.Sleep(100 * time.Millisecond)
						if err := d.Reload(); err != nil {
							log.Printf("Config watcher: reload failed: %v", err)
						} else {
							log.Printf("Config watcher: reloaded %s", d.path)
						}
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("Config watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Reload(); err != nil {
					log.Printf("Config poll: reload failed: %v", err)
				}
			}
		}
	}()
}
