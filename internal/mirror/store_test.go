package mirror

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/searchsync/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "search-local.json"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesEmptyMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "search-local.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdPosts"`)
	assert.Contains(t, string(data), `"syncedPosts"`)
	assert.Empty(t, s.Pending(event.Create))
	assert.Empty(t, s.Synced())
}

func TestOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrMirrorLocked)

	require.NoError(t, s.Close())
	// the lock file is kept so a later process locks the same inode
	assert.FileExists(t, path+".lock")

	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRecordEvent(t *testing.T) {
	tests := []struct {
		name    string
		synced  []SyncedRecord
		events  []event.Event
		created []string
		updated []string
		deleted []string
	}{
		{
			name:    "create new path",
			events:  []event.Event{{Path: "a.md", Kind: event.Create}},
			created: []string{"a.md"},
		},
		{
			name:   "create for synced path is dropped",
			synced: []SyncedRecord{{Identifier: "id-a", Path: "a.md"}},
			events: []event.Event{{Path: "a.md", Kind: event.Create}},
		},
		{
			name: "repeated create is counted once",
			events: []event.Event{
				{Path: "a.md", Kind: event.Create},
				{Path: "b.md", Kind: event.Create},
				{Path: "a.md", Kind: event.Create},
			},
			created: []string{"a.md", "b.md"},
		},
		{
			name:   "create after update stays updated",
			synced: []SyncedRecord{{Identifier: "id-a", Path: "a.md"}},
			events: []event.Event{
				{Path: "a.md", Kind: event.Update},
				{Path: "a.md", Kind: event.Create},
			},
			updated: []string{"a.md"},
		},
		{
			name: "update after create stays created",
			events: []event.Event{
				{Path: "a.md", Kind: event.Create},
				{Path: "a.md", Kind: event.Update},
			},
			created: []string{"a.md"},
		},
		{
			name:    "update for synced path",
			synced:  []SyncedRecord{{Identifier: "id-a", Path: "a.md"}},
			events:  []event.Event{{Path: "a.md", Kind: event.Update}},
			updated: []string{"a.md"},
		},
		{
			name:    "update for unknown path is a create",
			events:  []event.Event{{Path: "a.md", Kind: event.Update}},
			created: []string{"a.md"},
		},
		{
			name:   "delete withdraws pending update",
			synced: []SyncedRecord{{Identifier: "id-a", Path: "a.md"}},
			events: []event.Event{
				{Path: "a.md", Kind: event.Update},
				{Path: "a.md", Kind: event.Delete},
			},
			deleted: []string{"a.md"},
		},
		{
			name: "delete of never synced path is still queued",
			events: []event.Event{
				{Path: "a.md", Kind: event.Create},
				{Path: "a.md", Kind: event.Delete},
			},
			deleted: []string{"a.md"},
		},
		{
			// the one create for a synced path that is not dropped: a pending delete
			// means the file was gone, so a create is a real recreation
			name:   "create cancels pending delete of synced path",
			synced: []SyncedRecord{{Identifier: "id-a", Path: "a.md"}},
			events: []event.Event{
				{Path: "a.md", Kind: event.Delete},
				{Path: "a.md", Kind: event.Create},
			},
			updated: []string{"a.md"},
		},
		{
			name: "update cancels pending delete of unsynced path",
			events: []event.Event{
				{Path: "a.md", Kind: event.Delete},
				{Path: "a.md", Kind: event.Update},
			},
			created: []string{"a.md"},
		},
		{
			name: "paths are normalized",
			events: []event.Event{
				{Path: "./posts/a.md", Kind: event.Create},
				{Path: "posts/x/../a.md", Kind: event.Create},
			},
			created: []string{"posts/a.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			require.NoError(t, s.CommitSyncedCreates(tt.synced))
			for _, ev := range tt.events {
				require.NoError(t, s.RecordEvent(ev.Path, ev.Kind))
			}
			assert.Equal(t, tt.created, nilIfEmpty(s.Pending(event.Create)))
			assert.Equal(t, tt.updated, nilIfEmpty(s.Pending(event.Update)))
			assert.Equal(t, tt.deleted, nilIfEmpty(s.Pending(event.Delete)))
		})
	}
}

func TestRecordEventRejectsBadInput(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.RecordEvent("", event.Create))
	assert.Error(t, s.RecordEvent("a.md", event.Kind(42)))
	assert.Empty(t, s.Pending(event.Create))
}

func TestPendingSetsStayDisjoint(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{
		{Identifier: "id-a", Path: "a.md"},
		{Identifier: "id-b", Path: "b.md"},
	}))

	paths := []string{"a.md", "b.md", "c.md", "d.md"}
	kinds := []event.Kind{event.Create, event.Update, event.Delete}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		p := paths[rng.Intn(len(paths))]
		k := kinds[rng.Intn(len(kinds))]
		require.NoError(t, s.RecordEvent(p, k))

		seen := map[string]event.Kind{}
		for _, kind := range kinds {
			for _, path := range s.Pending(kind) {
				prev, dup := seen[path]
				require.Falsef(t, dup, "step %d: %s in both %s and %s", i, path, prev, kind)
				seen[path] = kind
			}
		}
	}
}

func TestCommitSyncedCreatesLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{
		{Identifier: "one", Path: "a.md"},
		{Identifier: "b", Path: "b.md"},
	}))
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{
		{Identifier: "two", Path: "a.md"},
		{Identifier: "b", Path: "b.md"},
	}))

	assert.Equal(t, map[string]string{"a.md": "two", "b.md": "b"}, s.Synced())
	assert.Len(t, s.SyncedRecords(), 2)
	assert.True(t, s.IsSynced("./a.md"))
}

func TestCommitSyncedDeletes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{{Identifier: "a", Path: "a.md"}}))
	require.NoError(t, s.RecordEvent("a.md", event.Delete))

	require.NoError(t, s.CommitSyncedDeletes([]string{"a.md", "never.md"}))
	require.NoError(t, s.ClearPending(event.Delete))

	assert.Empty(t, s.Synced())
	assert.Empty(t, s.Pending(event.Delete))
}

func TestRemovePendingKeepsOthers(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		require.NoError(t, s.RecordEvent(p, event.Create))
	}

	require.NoError(t, s.RemovePending(event.Create, []string{"a.md", "c.md"}))
	assert.Equal(t, []string{"b.md"}, s.Pending(event.Create))

	assert.Error(t, s.RemovePending(event.Kind(0), []string{"b.md"}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{
		{Identifier: "id-a", Path: "a.md"},
		{Identifier: "id-b", Path: "b.md"},
	}))
	require.NoError(t, s.RecordEvent("c.md", event.Create))
	require.NoError(t, s.RecordEvent("a.md", event.Update))
	require.NoError(t, s.RecordEvent("b.md", event.Delete))
	want := s.Snapshot()
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.Snapshot()
	assert.Equal(t, want.Created, got.Created)
	assert.Equal(t, want.Updated, got.Updated)
	assert.Equal(t, want.Deleted, got.Deleted)
	assert.ElementsMatch(t, want.Synced, got.Synced)
}

func TestLoadLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	legacy := `[
  {"algolia_object_id": "x1", "full_source": "posts/a.md"},
  {"algolia_object_id": "x2", "full_source": "posts/b.md"}
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, map[string]string{"posts/a.md": "x1", "posts/b.md": "x2"}, s.Synced())
	assert.Empty(t, s.Pending(event.Create))
}

func TestLoadLegacyFormat_AbsoluteSources(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blog", "source", "_posts")
	path := filepath.Join(t.TempDir(), "search-local.json")
	outside := filepath.Join(t.TempDir(), "elsewhere", "c.md")

	legacy, err := json.Marshal([]legacyRecord{
		{ObjectID: "x1", FullSource: filepath.Join(root, "a.md")},
		{ObjectID: "x2", FullSource: filepath.Join(root, "2024", "b.md")},
		{ObjectID: "x3", FullSource: outside},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, legacy, 0o644))

	s, err := Open(path, WithRoot(root))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, map[string]string{"a.md": "x1", "2024/b.md": "x2"}, s.Synced())
	assert.True(t, s.IsSynced("2024/b.md"))
}

func TestLegacyKey(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "blog", "source", "_posts")

	tests := []struct {
		name   string
		root   string
		source string
		want   string
		ok     bool
	}{
		{name: "absolute under root", root: root, source: filepath.Join(root, "a.md"), want: "a.md", ok: true},
		{name: "nested", root: root, source: filepath.Join(root, "x", "b.md"), want: "x/b.md", ok: true},
		{name: "outside root", root: root, source: filepath.Join(string(filepath.Separator), "other", "a.md")},
		{name: "the root itself", root: root, source: root},
		{name: "absolute without root", source: filepath.Join(root, "a.md")},
		{name: "relative is a key", root: root, source: "a.md", want: "a.md", ok: true},
		{name: "relative escaping", root: root, source: "../a.md"},
		{name: "empty", root: root},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := legacyKey(tt.root, tt.source)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadResolvesOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	raw := `{
  "createdPosts": ["a.md", "b.md", "c.md"],
  "updatedPosts": ["b.md"],
  "deletedPosts": ["a.md"],
  "syncedPosts": []
}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"c.md"}, s.Pending(event.Create))
	assert.Equal(t, []string{"b.md"}, s.Pending(event.Update))
	assert.Equal(t, []string{"a.md"}, s.Pending(event.Delete))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)

	// the lock is released on a failed open
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, lock.Unlock())
}

func TestWriteFailureRevertsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search-local.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.RecordEvent("a.md", event.Create))

	// a non-empty directory in place of the mirror file makes the rename fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	err = s.RecordEvent("b.md", event.Create)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
	assert.Equal(t, []string{"a.md"}, s.Pending(event.Create))

	err = s.CommitSyncedCreates([]SyncedRecord{{Identifier: "id", Path: "a.md"}})
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, s.Synced())
}

func TestNoOpEventDoesNotWrite(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{{Identifier: "id-a", Path: "a.md"}}))

	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, s.RecordEvent("a.md", event.Create))
	assert.NoFileExists(t, s.Path())
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitSyncedCreates([]SyncedRecord{{Identifier: "id-a", Path: "a.md"}}))
	require.NoError(t, s.RecordEvent("b.md", event.Create))

	require.NoError(t, s.Reset())
	assert.Equal(t, State{Created: []string{}, Updated: []string{}, Deleted: []string{}, Synced: []SyncedRecord{}}, s.Snapshot())
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "search-local.json"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.RecordEvent("a.md", event.Create), ErrClosed)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
