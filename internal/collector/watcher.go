package collector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
)

// Watcher triggers a callback when a feed file is created, written,
// renamed or removed. Bursts of changes are coalesced: the callback runs
// once the paths have been quiet for the debounce period.
type Watcher struct {
	paths    []string
	debounce time.Duration
	onChange func(ctx context.Context)

	watcher *fsnotify.Watcher
	files   map[string]struct{} // single watched files
	roots   []string            // watched directory trees
	done    chan struct{}
}

// NewWatcher creates a watcher over feed paths. Start must be called.
func NewWatcher(paths []string, debounce time.Duration, onChange func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		paths:    paths,
		debounce: debounce,
		onChange: onChange,
		files:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Start registers every path and begins watching until ctx is cancelled
// or Stop is called. A file path is watched through its directory;
// directories are watched recursively, skipping hidden ones.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}

	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			_ = fw.Close()
			return goerr.Wrap(err, "cannot watch feed path", goerr.V("path", p))
		}
		if !info.IsDir() {
			w.files[filepath.Clean(p)] = struct{}{}
			if err := fw.Add(filepath.Dir(p)); err != nil {
				_ = fw.Close()
				return goerr.Wrap(err, "failed to watch feed directory", goerr.V("path", p))
			}
			continue
		}
		if err := addTree(fw, p); err != nil {
			_ = fw.Close()
			return err
		}
		w.roots = append(w.roots, filepath.Clean(p))
	}
	w.watcher = fw

	go w.loop(ctx)
	log.WithField("paths", w.paths).Info("watching feeds for changes")
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 {
				w.watchNewDir(evt.Name)
			}
			if !w.relevant(evt) {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true
		case <-timer.C:
			pending = false
			log.Debug("feed change detected, running ingest cycle")
			w.onChange(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("feed watcher error")
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if !isFeedFile(evt.Name) {
		return false
	}
	if _, ok := w.files[filepath.Clean(evt.Name)]; ok {
		return true
	}
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, evt.Name)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (w *Watcher) watchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if err := addTree(w.watcher, path); err != nil {
		log.WithError(err).WithField("path", path).Warn("failed to watch new feed directory")
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return goerr.Wrap(err, "failed to watch feed directory", goerr.V("path", p))
		}
		return nil
	})
}
