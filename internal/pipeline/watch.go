package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"samplib/internal/logging"
)

const watchDebounce = 2 * time.Second

// watchLoop translates filesystem events under the source roots into
// debounced rescan requests. Watch failures degrade to interval scanning
// rather than stopping the pipeline.
func (m *Manager) watchLoop(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("watch mode unavailable", logging.Error(err))
		return nil
	}
	defer watcher.Close()

	for _, src := range m.cfg.Sources {
		if err := watchTree(watcher, src.Root); err != nil {
			m.logger.Warn("failed to watch source root",
				logging.String("root", src.Root), logging.Error(err))
		}
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New directories need their own watches; everything else just
			// schedules a rescan.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						m.logger.Warn("failed to watch new directory",
							logging.String("dir", event.Name), logging.Error(err))
					}
				}
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watcher error", logging.Error(err))
		case <-debounce:
			debounce = nil
			m.TriggerRescan()
		}
	}
}

// watchTree registers a directory and all its subdirectories, skipping
// symlinks the same way the scanner does.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
