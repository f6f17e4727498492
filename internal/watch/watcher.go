// Package watch triggers preview compiles when watched source files change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/texbuild/internal/util/sets"
)

// TriggerFunc is invoked after the debounce window closes. A trigger that
// finds a compile already in flight should simply log and drop the event.
type TriggerFunc func(ctx context.Context)

// Watcher watches a directory tree and debounces change bursts into single
// trigger invocations.
type Watcher struct {
	dir        string
	extensions sets.Set[string]
	debounce   time.Duration
	trigger    TriggerFunc
}

// New creates a watcher over dir. Only files whose extension is listed fire
// the trigger; an empty list watches everything.
func New(dir string, extensions []string, debounce time.Duration, trigger TriggerFunc) *Watcher {
	if debounce <= 0 {
		debounce = 400 * time.Millisecond
	}
	exts := sets.New[string]()
	for _, e := range extensions {
		exts.Add(strings.ToLower(e))
	}
	return &Watcher{
		dir:        dir,
		extensions: exts,
		debounce:   debounce,
		trigger:    trigger,
	}
}

// Run watches until the context is cancelled. Subdirectories present at
// start, or created while watching, are included.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	if err := w.addRecursive(fw, w.dir); err != nil {
		return err
	}
	slog.Info("Watching for changes", "dir", w.dir, "debounce", w.debounce)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// New directories must be picked up for recursive coverage.
				if err := w.addIfDir(fw, event.Name); err != nil {
					slog.Warn("Failed to watch new directory", "path", event.Name, "err", err)
				}
			}
			if !w.relevant(event) {
				continue
			}
			slog.Debug("Change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "err", err)

		case <-fire:
			timer = nil
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions.Has(strings.ToLower(filepath.Ext(event.Name)))
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		// Hidden directories (.git and friends) generate churn without
		// carrying sources.
		if name := d.Name(); name != "." && strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) addIfDir(fw *fsnotify.Watcher, path string) error {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return nil
	}
	return fw.Add(path)
}
