package throttle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/staykeeper/gatehouse/pkg/observability"
)

// WatchPolicies reloads the engine's policy set whenever the YAML file
// changes, until the context is canceled. A file that fails to parse
// leaves the previous set in force. Watching the directory rather than the
// file survives the rename-over-write editors and config mounts do.
func WatchPolicies(ctx context.Context, engine *Engine, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
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
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				policies, err := LoadPolicies(path)
				if err != nil {
					logger.WithError(err).WithField("path", path).Warn("policy reload failed, keeping previous set")
					continue
				}
				engine.SetPolicies(policies)
				logger.WithFields(map[string]any{"path": path, "policies": len(policies)}).Info("throttle policies reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("policy watcher error")
			}
		}
	}()
	return nil
}
