package engine

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// AllowListWatcher hot-reloads the self-trade allow-list when its file
// changes on disk. Write bursts are debounced: the reload runs once the file
// has been quiet for the debounce window, so the last write of a burst is
// never skipped.
type AllowListWatcher struct {
	path     string
	policy   *AllowListPolicy
	watcher  *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration
}

func NewAllowListWatcher(path string, policy *AllowListPolicy, log *zap.Logger) (*AllowListWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	return &AllowListWatcher{
		path:     path,
		policy:   policy,
		watcher:  w,
		log:      log,
		debounce: time.Second,
	}, nil
}

// Run blocks until ctx is done, reloading the policy on file changes.
func (w *AllowListWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true
		case <-timer.C:
			pending = false
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("allow-list watcher error", zap.Error(err))
		}
	}
}

func (w *AllowListWatcher) reload() {
	ids, err := ReadAllowListFile(w.path)
	if err != nil {
		w.log.Warn("allow-list reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.policy.Reload(ids)
	w.log.Info("self-trade allow-list reloaded",
		zap.String("path", w.path),
		zap.Int("entries", len(ids)))
}
