package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates the knowledge cache when files appear, change or
// vanish under the document root out of band, e.g. an operator copying
// files straight into a tier directory. Uploads through the service
// invalidate synchronously and do not depend on this.
type Watcher struct {
	fsw    *fsnotify.Watcher
	svc    *Service
	logger *zap.Logger
	done   chan struct{}
}

// NewWatcher watches root and every directory below it.
func NewWatcher(svc *Service, root string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	w := &Watcher{fsw: fsw, svc: svc, logger: logger, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("document root changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			w.svc.Invalidate()

			// New tier subdirectories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops watching. Safe to call once.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
