// Package mirror is the durable record of pending document changes and of the
// documents believed to be present in the remote index.
package mirror

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/utils"
)

const filePerm = 0o644

// Store holds the mirror state in memory and writes it through to a single JSON file
// on every mutation.
type Store struct {
	path  string
	root  string
	flock *flock.Flock

	mu      sync.Mutex
	created *pathSet
	updated *pathSet
	deleted *pathSet
	synced  *syncedSet
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithRoot sets the document root. Mirror keys are relative to it, and the
// absolute source paths of the legacy format are converted against it.
func WithRoot(root string) Option {
	return func(s *Store) {
		s.root = root
	}
}

// New returns an unlocked store backed by path. Call Load before use.
// Most callers want Open.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

// Open locks the mirror file against other processes and loads it.
func Open(path string, opts ...Option) (*Store, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureParent(path); err != nil {
		return nil, &PersistenceError{Path: path, Op: "open", Err: err}
	}

	s := New(path, opts...)
	s.flock = flock.New(path + ".lock")
	locked, err := s.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock mirror: %w", err)
	}
	if !locked {
		return nil, ErrMirrorLocked
	}

	if err := s.Load(); err != nil {
		s.unlock()
		return nil, err
	}
	return s, nil
}

// Path of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Close releases the process lock. The lock file stays on disk so every process
// locks the same inode. The store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.unlock()
}

func (s *Store) unlock() error {
	if s.flock == nil || !s.flock.Locked() {
		return nil
	}
	if err := s.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock mirror: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the file contents. A missing file is
// created empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.reset()
		slog.Debug("mirror created", "path", s.path)
		return s.saveLocked()
	} else if err != nil {
		return &PersistenceError{Path: s.path, Op: "load", Err: err}
	}

	state, err := decodeState(data, s.root)
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "load", Err: err}
	}
	s.apply(state)
	slog.Debug("mirror loaded", "path", s.path,
		"created", s.created.len(), "updated", s.updated.len(),
		"deleted", s.deleted.len(), "synced", s.synced.paths.len())
	return nil
}

// Save writes the whole aggregate to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// RecordEvent folds a watcher event into the pending sets.
//
// A create for a path that is already synced or pending is dropped, since the
// watcher reports every document as created whenever any of them changes. An
// update never demotes a pending create. Either one cancels a pending delete.
// A delete withdraws pending creates and updates and queues the path.
func (s *Store) RecordEvent(path string, kind event.Kind) error {
	path = utils.NormPath(path)
	if path == "" {
		return fmt.Errorf("record %s: empty path", kind)
	}
	return s.mutate("record", func() bool {
		switch kind {
		case event.Create:
			if s.deleted.remove(path) {
				s.queueChange(path)
				return true
			}
			if s.isSynced(path) || s.created.contains(path) || s.updated.contains(path) {
				return false
			}
			return s.created.add(path)
		case event.Update:
			if s.created.contains(path) || s.updated.contains(path) {
				return false
			}
			s.deleted.remove(path)
			s.queueChange(path)
			return true
		case event.Delete:
			changed := s.created.remove(path)
			changed = s.updated.remove(path) || changed
			return s.deleted.add(path) || changed
		}
		return false
	}, func() error {
		if kind < event.Create || kind > event.Delete {
			return fmt.Errorf("record %s: unknown event kind %d", path, int(kind))
		}
		return nil
	})
}

// queueChange puts path into updated when the remote index already has it,
// else into created.
func (s *Store) queueChange(path string) {
	if s.isSynced(path) {
		s.updated.add(path)
	} else {
		s.created.add(path)
	}
}

// Pending returns the ordered paths pending for kind.
func (s *Store) Pending(kind event.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.pendingSet(kind); set != nil {
		return set.items()
	}
	return nil
}

// Synced returns path to identifier for every document believed to be indexed.
func (s *Store) Synced() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.synced.ids))
	for p, id := range s.synced.ids {
		out[p] = id
	}
	return out
}

// SyncedRecords returns the synced set in insertion order.
func (s *Store) SyncedRecords() []SyncedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced.records()
}

// IsSynced reports whether path is believed to be in the remote index.
func (s *Store) IsSynced(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSynced(utils.NormPath(path))
}

func (s *Store) isSynced(path string) bool {
	_, ok := s.synced.get(path)
	return ok
}

// CommitSyncedCreates records documents as present in the remote index. A later
// record for a path supersedes the earlier one.
func (s *Store) CommitSyncedCreates(records []SyncedRecord) error {
	return s.mutate("commit creates", func() bool {
		changed := false
		for _, r := range records {
			r.Path = utils.NormPath(r.Path)
			if r.Path == "" || r.Identifier == "" {
				continue
			}
			changed = s.synced.put(r) || changed
		}
		return changed
	}, nil)
}

// CommitSyncedDeletes forgets the synced records for paths.
func (s *Store) CommitSyncedDeletes(paths []string) error {
	return s.mutate("commit deletes", func() bool {
		changed := false
		for _, p := range paths {
			changed = s.synced.remove(utils.NormPath(p)) || changed
		}
		return changed
	}, nil)
}

// ClearPending empties the pending set for kind.
func (s *Store) ClearPending(kind event.Kind) error {
	return s.mutate("clear "+kind.String(), func() bool {
		set := s.pendingSet(kind)
		if set == nil || set.len() == 0 {
			return false
		}
		*set = *newPathSet()
		return true
	}, func() error { return s.checkKind(kind) })
}

// RemovePending drops paths from the pending set for kind, leaving entries
// recorded after the caller read the set.
func (s *Store) RemovePending(kind event.Kind, paths []string) error {
	return s.mutate("clear "+kind.String(), func() bool {
		set := s.pendingSet(kind)
		if set == nil {
			return false
		}
		changed := false
		for _, p := range paths {
			changed = set.remove(utils.NormPath(p)) || changed
		}
		return changed
	}, func() error { return s.checkKind(kind) })
}

// Reset empties every set and persists the empty mirror.
func (s *Store) Reset() error {
	return s.mutate("reset", func() bool {
		s.reset()
		return true
	}, nil)
}

// Snapshot returns a copy of the current aggregate.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Store) checkKind(kind event.Kind) error {
	if s.pendingSet(kind) == nil {
		return fmt.Errorf("unknown event kind %d", int(kind))
	}
	return nil
}

func (s *Store) pendingSet(kind event.Kind) *pathSet {
	switch kind {
	case event.Create:
		return s.created
	case event.Update:
		return s.updated
	case event.Delete:
		return s.deleted
	}
	return nil
}

// mutate applies fn under the lock and writes the result through. When the write
// fails the pre-call state is restored.
func (s *Store) mutate(op string, fn func() bool, check func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}

	created, updated, deleted, synced := s.created.clone(), s.updated.clone(), s.deleted.clone(), s.synced.clone()
	if !fn() {
		return nil
	}
	if err := s.saveLocked(); err != nil {
		s.created, s.updated, s.deleted, s.synced = created, updated, deleted, synced
		slog.Error("mirror write failed, state reverted", "op", op, "path", s.path, "error", err)
		return err
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state(), "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "encode", Err: err}
	}
	data = append(data, '\n')
	if err := utils.WriteFileAtomic(s.path, data, filePerm); err != nil {
		return &PersistenceError{Path: s.path, Op: "save", Err: err}
	}
	return nil
}

func (s *Store) reset() {
	s.created = newPathSet()
	s.updated = newPathSet()
	s.deleted = newPathSet()
	s.synced = newSyncedSet()
}

func (s *Store) state() State {
	return State{
		Created: s.created.items(),
		Updated: s.updated.items(),
		Deleted: s.deleted.items(),
		Synced:  s.synced.records(),
	}
}

// apply loads st, resolving any path that appears in more than one pending set.
// Deleted wins over updated, which wins over created.
func (s *Store) apply(st State) {
	s.reset()
	for _, r := range st.Synced {
		r.Path = utils.NormPath(r.Path)
		if r.Path != "" && r.Identifier != "" {
			s.synced.put(r)
		}
	}
	for _, p := range st.Deleted {
		s.deleted.add(utils.NormPath(p))
	}
	for _, p := range st.Updated {
		if p = utils.NormPath(p); !s.deleted.contains(p) {
			s.updated.add(p)
		}
	}
	for _, p := range st.Created {
		if p = utils.NormPath(p); !s.deleted.contains(p) && !s.updated.contains(p) {
			s.created.add(p)
		}
	}
}

func decodeState(data []byte, root string) (State, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return State{}, nil
	}

	if data[0] == '[' {
		var legacy []legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return State{}, fmt.Errorf("decode legacy mirror: %w", err)
		}
		st := State{}
		for _, r := range legacy {
			key, ok := legacyKey(root, r.FullSource)
			if !ok {
				slog.Warn("legacy mirror entry dropped", "reason", "outside document root",
					"source", r.FullSource, "id", r.ObjectID, "root", root)
				continue
			}
			st.Synced = append(st.Synced, SyncedRecord{Identifier: r.ObjectID, Path: key})
		}
		return st, nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode mirror: %w", err)
	}
	return st, nil
}

// legacyKey converts a legacy full_source value to a key relative to root.
// The legacy format stored absolute paths; a relative value is taken as a key.
func legacyKey(root, source string) (string, bool) {
	if source == "" {
		return "", false
	}
	if !filepath.IsAbs(source) {
		key := utils.NormPath(source)
		if key == "" || escapes(key) {
			return "", false
		}
		return key, true
	}
	if root == "" {
		return "", false
	}

	roots := []string{root}
	if resolved, err := filepath.EvalSymlinks(root); err == nil && resolved != root {
		roots = append(roots, resolved)
	}
	for _, base := range roots {
		rel, err := filepath.Rel(base, source)
		if err != nil {
			continue
		}
		if key := utils.NormPath(rel); key != "" && !escapes(key) {
			return key, true
		}
	}
	return "", false
}

func escapes(key string) bool {
	return key == ".." || strings.HasPrefix(key, "../")
}
