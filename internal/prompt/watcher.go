package prompt

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies a prompt file change.
type ChangeType string

const (
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeCreated  ChangeType = "created"
)

// Change is one typed prompt-file change notification.
type Change struct {
	Path string
	Type ChangeType
	At   time.Time
}

// Watcher forwards raw filesystem notifications for watched prompt files
// as typed Change values over a bounded channel. When the channel is full
// the change is dropped rather than blocking delivery. The watcher does no
// parsing; consumers re-invoke the loader on a change.
type Watcher struct {
	fsw        *fsnotify.Watcher
	changes    chan Change
	extensions []string

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewWatcher creates a watcher delivering at most bufferSize undelivered
// changes. If extensions is non-empty, changes to other file extensions
// are ignored.
func NewWatcher(bufferSize int, extensions []string) (*Watcher, error) {
	if bufferSize <= 0 {
		bufferSize = 16
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:        fsw,
		changes:    make(chan Change, bufferSize),
		extensions: extensions,
		done:       make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Watch adds a file or directory to the watch set.
func (w *Watcher) Watch(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	return nil
}

// Changes returns the channel typed changes arrive on. It is closed when
// the watcher shuts down.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Close stops the watcher and closes the change channel.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
		w.wg.Wait()
		close(w.changes)
	})
	return w.closeErr
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			change, relevant := w.classify(event)
			if !relevant {
				continue
			}
			// Non-blocking send: a full buffer drops the change
			select {
			case w.changes <- change:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			// Drained so fsnotify's pipeline never blocks. A failed
			// watch only costs notifications; loads always re-read
			// and hash the file, so staleness cannot result.
			if !ok {
				return
			}
		}
	}
}

// classify maps a raw fsnotify event onto a typed Change.
func (w *Watcher) classify(event fsnotify.Event) (Change, bool) {
	if !w.accepts(event.Name) {
		return Change{}, false
	}

	var ct ChangeType
	switch {
	case event.Has(fsnotify.Create):
		ct = ChangeCreated
	case event.Has(fsnotify.Write):
		ct = ChangeModified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		ct = ChangeDeleted
	default:
		return Change{}, false
	}

	return Change{Path: event.Name, Type: ct, At: time.Now().UTC()}, true
}

func (w *Watcher) accepts(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, allowed := range w.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
