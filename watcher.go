package lotus

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// manifestWatcher observes module-category locations and publishes a
// system.manifest.changed event whenever a manifest file is created,
// modified, or removed. The nucleus does not hot-reload; the event is an
// operator signal that a restart would pick up changes.
type manifestWatcher struct {
	locations []string
	bus       *eventbus.EventBus
	logger    Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func newManifestWatcher(locations []string, bus *eventbus.EventBus, logger Logger) *manifestWatcher {
	return &manifestWatcher{
		locations: locations,
		bus:       bus,
		logger:    logger,
	}
}

// Start begins watching. Locations that don't exist are skipped; failing
// to watch any location at all is an error.
func (w *manifestWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := 0
	for _, location := range w.locations {
		if err := watcher.Add(location); err != nil {
			w.logger.Debug("Not watching module location", "path", location, "error", err)
			continue
		}
		watched++
		// Watch one level down so per-module manifest edits are seen.
		entries, err := filepath.Glob(filepath.Join(location, "*"))
		if err == nil {
			for _, entry := range entries {
				_ = watcher.Add(entry)
			}
		}
	}
	if watched == 0 {
		_ = watcher.Close()
		return ErrNoWatchableLocations
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("Watching module locations for manifest changes", "locations", watched)
	return nil
}

func (w *manifestWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ManifestFileName) {
				continue
			}
			w.logger.Info("Module manifest changed", "path", event.Name, "op", event.Op.String())
			if err := w.bus.Publish(context.Background(), ChannelManifestChanged, map[string]interface{}{
				"path":      event.Name,
				"operation": event.Op.String(),
			}); err != nil {
				w.logger.Debug("Failed to publish manifest change", "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Manifest watcher error", "error", err)
		}
	}
}

// Stop halts the watcher and releases its resources.
func (w *manifestWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
}
