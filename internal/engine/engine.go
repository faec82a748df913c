// Package engine reconciles the local mirror with the remote search index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/mirror"
	"github.com/openmined/searchsync/internal/projector"
	"github.com/openmined/searchsync/internal/searchindex"
)

// Mirror is the durable change record the engine drives.
type Mirror interface {
	RecordEvent(path string, kind event.Kind) error
	Pending(kind event.Kind) []string
	Synced() map[string]string
	CommitSyncedCreates(records []mirror.SyncedRecord) error
	CommitSyncedDeletes(paths []string) error
	RemovePending(kind event.Kind, paths []string) error
	Reset() error
}

// DocumentSource lists and renders documents by key.
type DocumentSource interface {
	Discover() ([]string, error)
	Load(key string) (*document.Document, error)
}

// IdentifierAssigner stamps stable identifiers onto documents.
type IdentifierAssigner interface {
	Assign(key string) (string, error)
}

// Result summarises one reconciliation cycle.
type Result struct {
	CycleID  string
	Upserted int
	Deleted  int
	// Skipped paths failed to load or be stamped and stay pending.
	Skipped []string
	// Dropped paths were consumed without a remote call: missing files and
	// deletions of documents that never reached the index.
	Dropped  []string
	Duration time.Duration
}

// HasChanges reports whether the cycle touched the remote index.
func (r *Result) HasChanges() bool {
	return r.Upserted > 0 || r.Deleted > 0
}

type Engine struct {
	store  Mirror
	client searchindex.Client
	docs   DocumentSource
	proj   *projector.Projector
	ids    IdentifierAssigner

	muSync sync.Mutex
	phase  atomic.Int32
}

func New(store Mirror, client searchindex.Client, docs DocumentSource, proj *projector.Projector, ids IdentifierAssigner) *Engine {
	return &Engine{
		store:  store,
		client: client,
		docs:   docs,
		proj:   proj,
		ids:    ids,
	}
}

// Phase reports the current cycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// HandleEvent records a watcher event. Documents reported as created get their
// identifier first; a failure to stamp one is logged and the event still recorded.
func (e *Engine) HandleEvent(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.Kind == event.Create {
		if _, err := e.ids.Assign(ev.Path); err != nil {
			slog.Warn("identifier assignment failed", "path", ev.Path, "error", err)
		}
	}

	if err := e.store.RecordEvent(ev.Path, ev.Kind); err != nil {
		return fmt.Errorf("record %s: %w", ev, err)
	}
	e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseCollecting))
	slog.Debug("event recorded", "path", ev.Path, "kind", ev.Kind)
	return nil
}

// cycle accumulates the push-sets of one Sync call.
type cycle struct {
	log    *slog.Logger
	res    *Result
	synced map[string]string

	records     []searchindex.Record
	commits     []mirror.SyncedRecord
	deleteIDs   []string
	deletePaths []string
}

func (c *cycle) withdraw(path, id string) {
	c.deleteIDs = append(c.deleteIDs, id)
	c.deletePaths = append(c.deletePaths, path)
}

// Sync runs one reconciliation cycle. The mirror only advances after every
// remote call succeeds.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	tStart := time.Now()
	res := &Result{CycleID: uuid.NewString()}

	created := e.store.Pending(event.Create)
	updated := e.store.Pending(event.Update)
	deleted := e.store.Pending(event.Delete)
	if len(created)+len(updated)+len(deleted) == 0 {
		e.phase.Store(int32(PhaseIdle))
		return res, nil
	}

	c := &cycle{
		log:    slog.With("cycle", res.CycleID),
		res:    res,
		synced: e.store.Synced(),
	}

	e.setPhase(c.log, PhaseDiffing)
	createdDone := e.diffUpserts(c, created)
	updatedDone := e.diffUpserts(c, updated)
	for _, path := range deleted {
		if id, ok := c.synced[path]; ok {
			c.withdraw(path, id)
		} else {
			res.Dropped = append(res.Dropped, path)
		}
	}

	if err := ctx.Err(); err != nil {
		e.setPhase(c.log, PhaseIdle)
		return nil, err
	}

	// deletes wait for the upsert so a failed push never loses entries
	e.setPhase(c.log, PhasePushing)
	if len(c.records) > 0 {
		if err := e.client.Upsert(ctx, c.records); err != nil {
			return nil, e.fail(c.log, &RemoteCallError{Op: "upsert", Err: err})
		}
	}
	if len(c.deleteIDs) > 0 {
		if err := e.client.Delete(ctx, c.deleteIDs); err != nil {
			return nil, e.fail(c.log, &RemoteCallError{Op: "delete", Err: err})
		}
	}

	e.setPhase(c.log, PhaseCommitting)
	if err := e.store.CommitSyncedCreates(c.commits); err != nil {
		return nil, e.fail(c.log, err)
	}
	if err := e.store.RemovePending(event.Create, createdDone); err != nil {
		return nil, e.fail(c.log, err)
	}
	if err := e.store.RemovePending(event.Update, updatedDone); err != nil {
		return nil, e.fail(c.log, err)
	}
	if err := e.store.CommitSyncedDeletes(c.deletePaths); err != nil {
		return nil, e.fail(c.log, err)
	}
	if err := e.store.RemovePending(event.Delete, deleted); err != nil {
		return nil, e.fail(c.log, err)
	}

	res.Upserted = len(c.records)
	res.Deleted = len(c.deleteIDs)
	res.Duration = time.Since(tStart)
	e.setPhase(c.log, PhaseIdle)

	c.log.Info("sync complete",
		"upserted", res.Upserted,
		"deleted", res.Deleted,
		"skipped", len(res.Skipped),
		"dropped", len(res.Dropped),
		"tsTotal", res.Duration,
	)
	return res, nil
}

// diffUpserts renders pending documents into the push-sets and returns the paths
// it consumed. Documents that fail to load or be stamped stay pending. Missing or
// unpublished documents are withdrawn when the index has them, and an identifier
// that changed since the last push has its stale record deleted.
func (e *Engine) diffUpserts(c *cycle, paths []string) []string {
	var consumed []string

	for _, path := range paths {
		prev, wasSynced := c.synced[path]

		doc, err := e.docs.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			consumed = append(consumed, path)
			if wasSynced {
				c.log.Debug("document gone, withdrawing", "path", path)
				c.withdraw(path, prev)
			} else {
				c.res.Dropped = append(c.res.Dropped, path)
			}
			continue
		} else if err != nil {
			c.log.Warn("document skipped", "path", path, "error", err)
			c.res.Skipped = append(c.res.Skipped, path)
			continue
		}

		if doc.Identifier == "" {
			id, err := e.ids.Assign(path)
			if err != nil {
				c.log.Warn("document skipped", "path", path, "error", err)
				c.res.Skipped = append(c.res.Skipped, path)
				continue
			}
			doc.Identifier = id
		}
		consumed = append(consumed, path)

		if !doc.Published {
			if wasSynced {
				c.log.Debug("document unpublished, withdrawing", "path", path)
				c.withdraw(path, prev)
			}
			continue
		}

		if wasSynced && prev != doc.Identifier {
			c.deleteIDs = append(c.deleteIDs, prev)
		}
		c.records = append(c.records, e.proj.Project(doc))
		c.commits = append(c.commits, mirror.SyncedRecord{Identifier: doc.Identifier, Path: path})
	}
	return consumed
}

// Rebuild queues every discovered document, and a delete for every synced
// document that no longer exists, then runs a cycle.
func (e *Engine) Rebuild(ctx context.Context) (*Result, error) {
	keys, err := e.docs.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover documents: %w", err)
	}

	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
		if err := e.store.RecordEvent(key, event.Update); err != nil {
			return nil, fmt.Errorf("queue %s: %w", key, err)
		}
	}
	for path := range e.store.Synced() {
		if _, ok := present[path]; ok {
			continue
		}
		if err := e.store.RecordEvent(path, event.Delete); err != nil {
			return nil, fmt.Errorf("queue %s: %w", path, err)
		}
	}

	slog.Info("rebuild queued", "documents", len(keys))
	return e.Sync(ctx)
}

// Clear empties the remote index and then the mirror.
func (e *Engine) Clear(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	if err := e.client.Clear(ctx); err != nil {
		return &RemoteCallError{Op: "clear", Err: err}
	}
	if err := e.store.Reset(); err != nil {
		return err
	}
	e.phase.Store(int32(PhaseIdle))
	slog.Info("index and mirror cleared")
	return nil
}

func (e *Engine) setPhase(log *slog.Logger, p Phase) {
	e.phase.Store(int32(p))
	log.Info("sync phase", "phase", p)
}

func (e *Engine) fail(log *slog.Logger, err error) error {
	e.setPhase(log, PhaseFailed)
	log.Error("sync failed", "error", err)
	return err
}
