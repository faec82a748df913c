package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/searchsync/internal/utils"
)

// Pattern selects the files tracked as documents, relative to the root.
const Pattern = "**/*.{md,markdown}"

var ErrOutsideRoot = errors.New("path is outside the document root")

// Source discovers and loads documents under a root directory.
// Document keys are slash separated paths relative to the root.
type Source struct {
	root   string
	ignore *IgnoreList
}

func NewSource(root string, extraIgnore ...string) (*Source, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve document root: %w", err)
	}
	ignore := NewIgnoreList(abs, extraIgnore...)
	ignore.Load()
	return &Source{root: abs, ignore: ignore}, nil
}

func (s *Source) Root() string {
	return s.root
}

// Discover returns every tracked document key, sorted.
func (s *Source) Discover() ([]string, error) {
	if !utils.DirExists(s.root) {
		return nil, fmt.Errorf("document root %s: %w", s.root, fs.ErrNotExist)
	}

	matches, err := doublestar.Glob(os.DirFS(s.root), Pattern)
	if err != nil {
		return nil, fmt.Errorf("discover documents: %w", err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if s.ignore.ShouldIgnore(m) {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// IsDocument reports whether a key names a tracked document.
func (s *Source) IsDocument(key string) bool {
	ok, err := doublestar.Match(Pattern, key)
	if err != nil || !ok {
		return false
	}
	return !s.ignore.ShouldIgnore(key)
}

// Key converts an absolute or root-relative path to a document key.
func (s *Source) Key(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return utils.NormPath(path), nil
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return utils.NormPath(rel), nil
}

// Abs returns the filesystem path of a document key.
func (s *Source) Abs(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Load reads and renders the document stored under key.
func (s *Source) Load(key string) (*Document, error) {
	data, err := os.ReadFile(s.Abs(key))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", key, err)
	}
	fm, err := ParseFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", key, err)
	}
	return FromFrontMatter(key, fm)
}
