package pages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-imports the manifest at path into s whenever it is written or
// recreated. It blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, s *Store, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so a replaced file is picked up.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve manifest path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			n, err := s.Import(ctx, abs)
			if err != nil {
				logger.Warn("manifest reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("manifest reloaded", zap.String("path", abs), zap.Int("pages", n))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("manifest watcher error", zap.Error(err))
		}
	}
}
