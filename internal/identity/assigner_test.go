package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/openmined/searchsync/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirResolver string

func (d dirResolver) Abs(key string) string {
	return filepath.Join(string(d), filepath.FromSlash(key))
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestAssign_StampsMissingIdentifier(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "post.md", "---\ntitle: Post\ntags: [a]\n---\nBody\n")

	a := New(dirResolver(dir))
	id, err := a.Assign("post.md")
	require.NoError(t, err)

	_, parseErr := ulid.ParseStrict(id)
	assert.NoError(t, parseErr, "identifier should be a ULID")

	data, err := os.ReadFile(filepath.Join(dir, "post.md"))
	require.NoError(t, err)
	fm, err := document.ParseFrontMatter(data)
	require.NoError(t, err)

	stored, ok := fm.Get(document.IdentifierKey)
	assert.True(t, ok)
	assert.Equal(t, id, stored)
	title, _ := fm.Get("title")
	assert.Equal(t, "Post", title)
	assert.Equal(t, "Body\n", string(fm.Body()))
}

func TestAssign_IsStable(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "post.md", "---\ntitle: Post\n---\n")

	a := New(dirResolver(dir))
	first, err := a.Assign("post.md")
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, "post.md"))
	require.NoError(t, err)

	second, err := a.Assign("post.md")
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, "post.md"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after, "a stamped document is not rewritten")
}

func TestAssign_KeepsLegacyIdentifier(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "old.md", "---\nalgolia_object_id: cjld2cjxh0000qzrmn831i7rn\n---\n")

	id, err := New(dirResolver(dir)).Assign("old.md")
	require.NoError(t, err)
	assert.Equal(t, "cjld2cjxh0000qzrmn831i7rn", id)
}

func TestAssign_MissingFile(t *testing.T) {
	_, err := New(dirResolver(t.TempDir())).Assign("missing.md")

	var assignErr *AssignmentError
	require.True(t, errors.As(err, &assignErr))
	assert.Equal(t, "missing.md", assignErr.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAssignAll_IsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.md", "---\ntitle: A\n---\n")
	write(t, dir, "b.md", "---\nsearch_object_id: keep\n---\n")
	write(t, dir, "broken.md", "---\ntitle: [unclosed\n---\n")

	a := New(dirResolver(dir))
	n := 0
	a.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}

	sum, errs := a.AssignAll([]string{"a.md", "broken.md", "b.md", "gone.md"})
	assert.Equal(t, []string{"a.md"}, sum.Assigned)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Len(t, errs, 2)

	id, err := a.Assign("a.md")
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
}
