package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// saveSettle is how long the config file must stay quiet after an event
// before it is re-read. Editors save as truncate+write or temp+rename.
const saveSettle = 100 * time.Millisecond

// Watcher signals edits to the config file. A signal is sent only when
// the file's bytes differ from the last version seen.
type Watcher struct {
	fsw     *fsnotify.Watcher
	path    string
	settle  time.Duration
	changed chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
// It watches the parent directory so editors that save by rename are seen.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		path:    path,
		settle:  saveSettle,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	last, _ := os.ReadFile(path)
	go w.loop(last)
	return w, nil
}

// Changes returns a channel that receives a signal when the file changes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changed
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) touchesConfig(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != filepath.Base(w.path) {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// loop owns last, the config bytes from the most recent signal.
func (w *Watcher) loop(last []byte) {
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.touchesConfig(ev) {
				timer.Reset(w.settle)
			}

		case <-timer.C:
			cur, err := os.ReadFile(w.path)
			if err != nil || bytes.Equal(cur, last) {
				// Mid-rename or unchanged; a later event re-arms the timer.
				continue
			}
			last = cur
			select {
			case w.changed <- struct{}{}:
			default:
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
