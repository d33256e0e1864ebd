package fixture

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one filesystem change observed inside a working directory.
type Event struct {
	Path string    `json:"path"`
	Op   string    `json:"op"`
	At   time.Time `json:"at"`
}

// Activity records filesystem events under a working directory while the
// agent runs. New subdirectories are watched as they appear.
type Activity struct {
	root    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	events []Event
	errs   []error
}

// Watch starts recording events under dir, skipping version-control internals.
func Watch(dir string) (*Activity, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	a := &Activity{root: dir, watcher: w, done: make(chan struct{})}
	if err := a.addTree(dir); err != nil {
		w.Close()
		return nil, err
	}
	go a.loop()
	return a, nil
}

// Stop ends recording and returns every event in arrival order.
// Calling Stop more than once returns the same events.
func (a *Activity) Stop() []Event {
	_ = a.watcher.Close()
	<-a.done

	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Errors returns watcher errors observed while recording.
func (a *Activity) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.errs...)
}

func (a *Activity) loop() {
	defer close(a.done)
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.record(ev)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.mu.Lock()
			a.errs = append(a.errs, err)
			a.mu.Unlock()
		}
	}
}

func (a *Activity) record(ev fsnotify.Event) {
	rel, err := filepath.Rel(a.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if IsGitInternal(rel) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			_ = a.addTree(ev.Name)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, Event{Path: rel, Op: opName(ev.Op), At: time.Now()})
}

func (a *Activity) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(a.root, path)
		if IsGitInternal(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := a.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %q: %w", path, err)
		}
		return nil
	})
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	default:
		return op.String()
	}
}
