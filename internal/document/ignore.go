package document

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/searchsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const ignoreFileName = ".searchignore"

var defaultIgnoreLines = []string{
	// editors
	"*.swp",
	"*~",
	".#*",
	"*.tmp",
	// vcs
	".git",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides which paths under the document root are never tracked.
type IgnoreList struct {
	baseDir string
	extra   []string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, extra ...string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, extra: extra}
}

// Load compiles the default rules, the configured rules and the root .searchignore file.
func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, l.extra...)

	ignorePath := filepath.Join(l.baseDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		lines = append(lines, readIgnoreFile(ignorePath)...)
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

func readIgnoreFile(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		slog.Warn("failed to open ignore file", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", path, "error", err)
	} else {
		slog.Debug("loaded ignore file", "path", path, "rules", len(lines))
	}
	return lines
}

// ShouldIgnore reports whether the root-relative path matches an ignore rule.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	if l.ignore == nil {
		l.Load()
	}
	return l.ignore.MatchesPath(relPath)
}
