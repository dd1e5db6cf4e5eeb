package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for a burst of file events to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Holder whenever files behind its sources change.
type Watcher struct {
	holder   *Holder
	debounce time.Duration
	onError  func(error)
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the settle delay between the last file event and the reload
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadErrorHandler is called with every rejected reload
func WithReloadErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher for the holder's sources
func NewWatcher(holder *Holder, opts ...WatcherOption) *Watcher {
	w := &Watcher{holder: holder, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. A failed reload keeps the current
// registry and is reported through the error handler.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer fsw.Close()

	paths := WatchPaths(w.holder.Sources())
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			logger.G(ctx).WithError(err).WithField("path", p).Debug("Cannot watch path, skipping")
			continue
		}
		logger.G(ctx).WithField("path", p).Debug("Watching registry path")
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fsw.Add(event.Name)
				}
			}
			logger.G(ctx).WithFields(map[string]any{
				"file":      event.Name,
				"operation": event.Op.String(),
			}).Debug("Registry file changed")
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("Error watching registry files")
		case <-timer.C:
			if _, err := w.holder.Reload(ctx); err != nil && w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// WatchPaths lists the directories to watch for a set of sources. Skill
// folders are included one level deep since SKILL.md lives inside them.
func WatchPaths(sources []Source) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, src := range sources {
		switch s := src.(type) {
		case *MarkdownSource:
			for _, d := range expandDirs(s.agentDirs) {
				add(d)
			}
			for _, d := range expandDirs(s.skillDirs) {
				add(d)
				entries, err := os.ReadDir(d)
				if err != nil {
					continue
				}
				for _, e := range entries {
					if e.IsDir() {
						add(filepath.Join(d, e.Name()))
					}
				}
			}
		case YAMLSource:
			add(filepath.Dir(s.Path))
		case *YAMLSource:
			add(filepath.Dir(s.Path))
		}
	}
	return paths
}
