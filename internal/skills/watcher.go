package skills

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openkoi/openkoi/internal/logging"
)

// Watch reloads the registry when any SKILL.md under its search paths
// changes. Events are debounced so editors that write in several steps
// trigger one reload. Blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, logger *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range r.paths {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("skill path not watchable", map[string]interface{}{
				"path": dir, "error": err.Error(),
			})
		}
	}

	const debounce = 250 * time.Millisecond
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("skill watcher error", map[string]interface{}{"error": err.Error()})

		case <-reload:
			errs := r.LoadAll()
			logger.Info("skills reloaded", map[string]interface{}{
				"count": len(r.List()), "errors": len(errs),
			})
			for _, e := range errs {
				logger.Warn("skill rejected", map[string]interface{}{"error": e.Error()})
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	return base == "SKILL.md" || !strings.Contains(base, ".")
}
