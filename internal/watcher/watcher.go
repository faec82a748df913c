// Package watcher turns filesystem notifications under the document root into
// document change events.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterCallback returns true if events for the document key should be dropped.
type FilterCallback func(key string) bool

var markdownExt = map[string]struct{}{
	".md":       {},
	".markdown": {},
}

// renamed marks a pending rename, resolved against the filesystem on flush.
const renamed event.Kind = 0

type pending struct {
	kind  event.Kind
	timer *time.Timer
}

type FileWatcher struct {
	watchDir  string
	events    chan event.Event
	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	// Debouncing fields
	pending         map[string]*pending
	closed          bool
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	// Debounced events waiting for the consumer, unbounded so a slow consumer
	// never loses one
	queue []event.Event
	wake  chan struct{}
	// Raw event filtering
	ignoreCallback FilterCallback
	callbackMu     sync.RWMutex
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		done:            make(chan struct{}),
		pending:         make(map[string]*pending),
		debounceTimeout: defaultDebounceTimeout,
		wake:            make(chan struct{}, 1),
	}
}

// SetDebounceTimeout sets how long a path must stay quiet before its event is sent.
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops events before debouncing.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.callbackMu.Lock()
	defer fw.callbackMu.Unlock()
	fw.ignoreCallback = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	// notify reports resolved paths, so keys must be computed against the resolved root
	dir, err := filepath.EvalSymlinks(fw.watchDir)
	if err != nil {
		return err
	}
	fw.watchDir = dir
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	fw.startDelivery()
	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) startDelivery() {
	fw.events = make(chan event.Event, eventBufferSize)
	fw.wg.Add(1)
	go fw.deliverEvents()
}

// Stop ends the watch and discards events still queued. Safe to call more than once.
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		slog.Info("file watcher stopping")
		close(fw.done)
		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()
		slog.Info("file watcher stopped")
	})
}

// Events delivers debounced document events. Events are held until they are
// received; the channel is closed once the watcher is stopped and drained.
func (fw *FileWatcher) Events() <-chan event.Event {
	return fw.events
}

// key maps an absolute path reported by notify to a document key, or false if
// the path is not a document under the watched root.
func (fw *FileWatcher) key(path string) (string, bool) {
	if _, ok := markdownExt[strings.ToLower(filepath.Ext(path))]; !ok {
		return "", false
	}
	rel, err := filepath.Rel(fw.watchDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	key := utils.NormPath(rel)

	fw.callbackMu.RLock()
	cb := fw.ignoreCallback
	fw.callbackMu.RUnlock()
	if cb != nil && cb(key) {
		return "", false
	}
	return key, true
}

func kindOf(ev notify.Event) (event.Kind, bool) {
	switch {
	case ev&notify.Remove != 0:
		return event.Delete, true
	case ev&notify.Rename != 0:
		return renamed, true
	case ev&notify.Create != 0:
		return event.Create, true
	case ev&notify.Write != 0:
		return event.Update, true
	}
	return 0, false
}

// filterEvents drops non-document paths, debounces the rest and forwards them.
func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		slog.Debug("file watcher filter events done")

		fw.debounceMu.Lock()
		for key, p := range fw.pending {
			p.timer.Stop()
			fw.queue = append(fw.queue, fw.resolve(key, p.kind))
			slog.Debug("file watcher flushing pending event on exit", "path", key)
		}
		fw.pending = make(map[string]*pending)
		fw.closed = true
		fw.debounceMu.Unlock()
		fw.signal()

		fw.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case raw, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			key, ok := fw.key(raw.Path())
			if !ok {
				continue
			}
			kind, ok := kindOf(raw.Event())
			if !ok {
				continue
			}
			// editors emit a burst of writes while saving; one event per path is sent
			// after the path has been quiet for the debounce timeout
			fw.debounceEvent(key, kind)
		}
	}
}

func (fw *FileWatcher) debounceEvent(key string, kind event.Kind) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if p, exists := fw.pending[key]; exists {
		p.timer.Stop()
		p.kind = merge(p.kind, kind)
		p.timer = time.AfterFunc(fw.debounceTimeout, func() { fw.flushEvent(key) })
		return
	}

	fw.pending[key] = &pending{
		kind:  kind,
		timer: time.AfterFunc(fw.debounceTimeout, func() { fw.flushEvent(key) }),
	}
}

func (fw *FileWatcher) flushEvent(key string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	p, exists := fw.pending[key]
	if !exists || fw.closed {
		return
	}
	delete(fw.pending, key)

	fw.queue = append(fw.queue, fw.resolve(key, p.kind))
	fw.signal()
}

func (fw *FileWatcher) signal() {
	select {
	case fw.wake <- struct{}{}:
	default:
	}
}

// deliverEvents hands queued events to the consumer in order, blocking until
// each one is received. It closes the events channel once the filter has exited
// and the queue is empty, or on Stop.
func (fw *FileWatcher) deliverEvents() {
	defer fw.wg.Done()
	defer close(fw.events)

	for {
		fw.debounceMu.Lock()
		queued, closed := fw.queue, fw.closed
		fw.queue = nil
		fw.debounceMu.Unlock()

		for i, ev := range queued {
			select {
			case fw.events <- ev:
				slog.Debug("file watcher", "event", ev.Kind, "path", ev.Path)
			case <-fw.done:
				slog.Warn("file watcher stopped with undelivered events", "count", len(queued)-i)
				return
			}
		}
		if len(queued) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-fw.wake:
		case <-fw.done:
			return
		}
	}
}

// merge folds a new notification into the pending kind of a path.
func merge(prev, next event.Kind) event.Kind {
	switch {
	case prev == event.Create && next == event.Update:
		// a create followed by writes is still a create
		return event.Create
	case prev == event.Delete && next == event.Create:
		// unlinked and recreated by a save
		return event.Update
	case prev == renamed && next == event.Create:
		// something now sits at the path; resolve against the filesystem
		return renamed
	}
	return next
}

// resolve turns a rename into an update or delete depending on whether the file
// is still there. A file renamed into place is most often an editor replacing
// an existing document.
func (fw *FileWatcher) resolve(key string, kind event.Kind) event.Event {
	if kind == renamed {
		kind = event.Delete
		if utils.FileExists(filepath.Join(fw.watchDir, filepath.FromSlash(key))) {
			kind = event.Update
		}
	}
	return event.Event{Path: key, Kind: kind}
}
