// Package watch keeps the entry store current between scans by reacting
// to filesystem notifications on the monitored roots.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"fimd/internal/event"
	"fimd/internal/filter"
	"fimd/internal/scan"
	"fimd/internal/store"
)

// Config controls a watcher.
type Config struct {
	Roots  []string
	Filter *filter.Chain
	SHA256 bool
	Events chan<- event.Event
	Logger *slog.Logger
}

// Watcher subscribes to filesystem events under the configured roots and
// applies each change to the store as it happens. Deletion of a whole
// subtree only reports the directory itself; the next scan cycle sweeps
// the children.
type Watcher struct {
	st  *store.Store
	cfg Config
	fw  *fsnotify.Watcher
	log *slog.Logger
}

// New creates a watcher over the store. Run must be called to start it.
func New(st *store.Store, cfg Config) *Watcher {
	if cfg.Filter == nil {
		cfg.Filter = filter.NewChain()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{st: st, cfg: cfg, log: cfg.Logger}
}

// Run subscribes to all roots and processes notifications until the
// context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	w.fw = fw

	for _, root := range w.cfg.Roots {
		if err := w.addTree(root, root); err != nil {
			return err
		}
	}
	w.log.Info("watching", "roots", w.cfg.Roots)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// addTree registers watches for dir and every subdirectory, observing any
// files already present. Files created inside a new directory before its
// watch lands are caught here rather than by a notification.
func (w *Watcher) addTree(dir, root string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("skipping path", "path", path, "error", err)
			return nil
		}
		rel := w.relTo(path, root)
		switch {
		case d.IsDir():
			if path != root && !w.cfg.Filter.Match(rel, true) {
				return filepath.SkipDir
			}
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		case d.Type().IsRegular():
			if w.cfg.Filter.Match(rel, false) {
				w.observe(path)
			}
		}
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			return
		}
		switch {
		case info.IsDir():
			if err := w.addTree(ev.Name, w.rootOf(ev.Name)); err != nil {
				w.log.Warn("watch new directory", "path", ev.Name, "error", err)
			}
		case info.Mode().IsRegular():
			if w.allowed(ev.Name, false) {
				w.observe(ev.Name)
			}
		}

	case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Chmod):
		if w.allowed(ev.Name, false) {
			w.observe(ev.Name)
		}

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.remove(ev.Name)
	}
}

// observe records the current state of one file, reusing stored digests
// when the metadata has not moved.
func (w *Watcher) observe(path string) {
	attrs, err := scan.Stat(path)
	if err != nil {
		// Gone already. The Remove notification handles it.
		return
	}

	typ := event.FileAdded
	prior, err := w.st.GetPath(path)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		w.log.Error("lookup entry", "path", path, "error", err)
		return
	case scan.Unchanged(prior.Attrs, attrs, w.cfg.SHA256):
		return
	default:
		typ = event.FileModified
	}

	b3, sha, err := scan.Hash(path, w.cfg.SHA256)
	if err != nil {
		w.log.Warn("hash file", "path", path, "error", err)
		return
	}
	attrs.BLAKE3, attrs.SHA256 = b3, sha

	if err := w.st.Insert(path, attrs); err != nil {
		w.log.Error("record entry", "path", path, "error", err)
		return
	}
	event.Emit(w.cfg.Events, event.Event{Type: typ, Path: path, Size: attrs.Size, Digest: attrs.BLAKE3})

	if err := w.st.CheckTransaction(); err != nil {
		w.log.Error("commit", "error", err)
	}
}

func (w *Watcher) remove(path string) {
	e, err := w.st.GetPath(path)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		w.log.Error("lookup entry", "path", path, "error", err)
		return
	}
	if err := w.st.RemovePath(path); err != nil {
		w.log.Error("remove entry", "path", path, "error", err)
		return
	}
	event.Emit(w.cfg.Events, event.Event{Type: event.EntryRemoved, Path: path, Size: e.Attrs.Size, Digest: e.Attrs.BLAKE3})

	if err := w.st.CheckTransaction(); err != nil {
		w.log.Error("commit", "error", err)
	}
}

// rootOf returns the configured root containing path, defaulting to the
// first root.
func (w *Watcher) rootOf(path string) string {
	for _, root := range w.cfg.Roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return w.cfg.Roots[0]
}

func (w *Watcher) relTo(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) allowed(path string, isDir bool) bool {
	return w.cfg.Filter.Match(w.relTo(path, w.rootOf(path)), isDir)
}
