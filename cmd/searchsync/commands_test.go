package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openmined/searchsync/internal/config"
	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/engine"
	"github.com/openmined/searchsync/internal/event"
	"github.com/openmined/searchsync/internal/identity"
	"github.com/openmined/searchsync/internal/mirror"
	"github.com/openmined/searchsync/internal/projector"
	"github.com/openmined/searchsync/internal/searchindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingIndex is an in-memory searchindex.Client.
type recordingIndex struct {
	mu      sync.Mutex
	objects map[string]searchindex.Record
	calls   int
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{objects: map[string]searchindex.Record{}}
}

func (r *recordingIndex) Upsert(_ context.Context, records []searchindex.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, rec := range records {
		r.objects[rec.ObjectID()] = rec
	}
	return nil
}

func (r *recordingIndex) Delete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, id := range ids {
		delete(r.objects, id)
	}
	return nil
}

func (r *recordingIndex) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = map[string]searchindex.Record{}
	return nil
}

func (r *recordingIndex) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.objects))
	for id := range r.objects {
		out = append(out, id)
	}
	return out
}

func newTestEngine(t *testing.T, root string) (*engine.Engine, *mirror.Store, *recordingIndex) {
	t.Helper()
	docs, err := document.NewSource(root)
	require.NoError(t, err)
	store, err := mirror.Open(filepath.Join(t.TempDir(), "search-local.json"), mirror.WithRoot(root))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	proj, err := projector.New([]string{"title"})
	require.NoError(t, err)
	index := newRecordingIndex()
	return engine.New(store, index, docs, proj, identity.New(docs)), store, index
}

func TestRunWatch_SyncsOnTimerAndShutdown(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("---\ntitle: A\nsearch_object_id: a\n---\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.md"), []byte("---\ntitle: B\nsearch_object_id: b\n---\n"), 0o644))
	eng, store, index := newTestEngine(t, root)

	events := make(chan event.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, eng, events, 20*time.Millisecond) }()

	events <- event.Event{Path: "a.md", Kind: event.Create}
	require.Eventually(t, func() bool { return store.IsSynced("a.md") }, 2*time.Second, 10*time.Millisecond)

	// recorded but not yet synced when shutdown starts
	events <- event.Event{Path: "b.md", Kind: event.Create}
	close(events)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "runWatch did not return")
	}
	cancel()

	assert.ElementsMatch(t, []string{"a", "b"}, index.ids())
	assert.Empty(t, store.Pending(event.Create))
}

func TestRunWatch_FinalSyncAfterCancel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("---\ntitle: A\nsearch_object_id: a\n---\n"), 0o644))
	eng, store, index := newTestEngine(t, root)
	require.NoError(t, store.RecordEvent("a.md", event.Create))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, runWatch(ctx, eng, make(chan event.Event), time.Hour))
	assert.Equal(t, []string{"a"}, index.ids())
}

func TestPrintStatus(t *testing.T) {
	cfg := &config.Config{
		MirrorPath:  "/tmp/search-local.json",
		PostsDir:    "/tmp/posts",
		IndexName:   "posts",
		AdminAPIKey: "abcdefgh",
	}
	st := mirror.State{
		Created: []string{"new.md"},
		Updated: []string{},
		Deleted: []string{"old.md", "older.md"},
		Synced:  []mirror.SyncedRecord{{Identifier: "x", Path: "x.md"}},
	}

	var out bytes.Buffer
	printStatus(&out, cfg, st, true)
	got := out.String()

	assert.Contains(t, got, "posts")
	assert.Contains(t, got, "****efgh")
	assert.NotContains(t, got, "abcdefgh")
	assert.Contains(t, got, "new.md")
	assert.Contains(t, got, "older.md")
	lines := strings.Split(strings.TrimSpace(got), "\n")
	assert.Contains(t, lines[len(lines)-1], "synced")
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, &engine.Result{})
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	printResult(&out, &engine.Result{Upserted: 1200, Deleted: 1, Skipped: []string{"bad.md"}})
	assert.Contains(t, out.String(), "1,200")
	assert.Contains(t, out.String(), "bad.md")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	posts := filepath.Join(dir, "posts")
	require.NoError(t, os.MkdirAll(posts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(posts, "a.md"), []byte("---\ntitle: A\n---\nbody\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(posts, "b.md"), []byte("---\ntitle: B\nsearch_object_id: keep\n---\n"), 0o644))
	t.Setenv("SEARCHSYNC_LOG_FILE", filepath.Join(dir, "searchsync.log"))

	configPath := filepath.Join(dir, "searchsync.json")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"init", "--config", configPath, "--posts-dir", posts, "--write-config"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	require.NoError(t, logCloser.Close())

	assert.Contains(t, out.String(), "stamped a.md")
	assert.Contains(t, out.String(), "1 stamped, 1 unchanged, 0 failed")
	assert.FileExists(t, configPath)

	data, err := os.ReadFile(filepath.Join(posts, "a.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "search_object_id:")
}
