package gateway

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the route table whenever the file at path changes, until ctx
// is done. The directory is watched rather than the file so that editors
// replacing the file by rename are picked up. A table that fails to load is
// logged and the previous one keeps serving.
func (g *Gateway) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve route file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := g.logger.WithField("route_file", abs)
	log.Info("Watching route file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := g.reload(abs); err != nil {
				log.WithError(err).Error("Route table reload failed, keeping current table")
				continue
			}
			log.Infof("Route table reloaded with %d routes", len(g.Routes()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}

func (g *Gateway) reload(path string) error {
	routes, err := LoadRoutes(path)
	if err != nil {
		return err
	}
	return g.Load(routes)
}
