package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyPath = errors.New("path cannot be empty")

// ResolvePath expands a leading ~ and returns the cleaned absolute path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		path = filepath.Join(home, path[1:])
	}

	return filepath.Abs(path)
}

// ResolvePathFrom resolves path against base when it is relative.
func ResolvePathFrom(base, path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}
	if strings.HasPrefix(path, "~") || filepath.IsAbs(path) || base == "" {
		return ResolvePath(path)
	}
	return ResolvePath(filepath.Join(base, path))
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormPath converts an OS path to the slash separated form used as a mirror key.
// An empty path stays empty.
func NormPath(path string) string {
	if path == "" {
		return ""
	}
	p := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./")
	if p == "." {
		return ""
	}
	return p
}
