package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	"github.com/fsnotify/fsnotify"
)

const keyWatchDebounce = 500 * time.Millisecond

// KeyWatcher adopts new keys dropped into the key directory in file mode.
// Bursts of filesystem events are collapsed into one rescan.
type KeyWatcher struct {
	dir      string
	rotation *service.KeyRotationService
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

func NewKeyWatcher(dir string, rotation *service.KeyRotationService, logger *slog.Logger) (*KeyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &KeyWatcher{dir: dir, rotation: rotation, logger: logger, watcher: watcher}, nil
}

// Start watches until ctx is cancelled.
func (w *KeyWatcher) Start(ctx context.Context) {
	ctx = slogx.WithContext(ctx, w.logger)
	reload := make(chan struct{}, 1)
	go w.scheduleReload(ctx, reload)
	go w.handleEvents(ctx, reload)
	w.logger.Info("key directory watcher started", "dir", w.dir)
}

// Close stops delivery of filesystem events.
func (w *KeyWatcher) Close() error {
	return w.watcher.Close()
}

func (w *KeyWatcher) handleEvents(ctx context.Context, reload chan<- struct{}) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("key watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *KeyWatcher) scheduleReload(ctx context.Context, reload <-chan struct{}) {
	var timer *time.Timer
	var c <-chan time.Time
	for {
		select {
		case <-reload:
			if timer != nil {
				timer.Reset(keyWatchDebounce)
			} else {
				timer = time.NewTimer(keyWatchDebounce)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			if err := w.Rescan(ctx); err != nil {
				w.logger.Error("key directory rescan failed", "dir", w.dir, "error", err)
			}

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Rescan makes the last key in the directory active if the KeyStore has not
// seen it yet. A newest file that is already known (for example after the
// active key's file was deleted) is left alone: keys never roll back.
func (w *KeyWatcher) Rescan(ctx context.Context) error {
	pairs, err := loadKeyDir(w.dir, w.rotation.Keys.Algorithm())
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errNoKeys
	}

	newest := pairs[len(pairs)-1]
	for _, k := range w.rotation.Keys.Keys() {
		if k.KeyID == newest.KeyID {
			return nil
		}
	}
	return w.rotation.Adopt(ctx, newest)
}
