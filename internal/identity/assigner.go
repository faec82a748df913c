// Package identity stamps stable search identifiers into document front matter.
package identity

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/utils"
)

// AssignmentError reports a document that could not be stamped.
// It is isolated to that document: callers log it and continue.
type AssignmentError struct {
	Path string
	Err  error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("assign identifier %s: %v", e.Path, e.Err)
}

func (e *AssignmentError) Unwrap() error {
	return e.Err
}

// Resolver maps a document key to its file on disk.
type Resolver interface {
	Abs(key string) string
}

// Assigner generates identifiers once per document and persists them in the document header.
type Assigner struct {
	docs  Resolver
	newID func() string
}

func New(docs Resolver) *Assigner {
	return &Assigner{
		docs:  docs,
		newID: func() string { return ulid.Make().String() },
	}
}

// Assign returns the document identifier, generating and writing one if the header has none.
func (a *Assigner) Assign(key string) (string, error) {
	id, _, err := a.assign(key)
	return id, err
}

func (a *Assigner) assign(key string) (id string, created bool, err error) {
	path := a.docs.Abs(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, &AssignmentError{Path: key, Err: err}
	}

	fm, err := document.ParseFrontMatter(data)
	if err != nil {
		return "", false, &AssignmentError{Path: key, Err: err}
	}

	if existing, ok := fm.Get(document.IdentifierKey); ok && existing != "" {
		return existing, false, nil
	}
	// documents stamped by the previous tooling keep their identifier
	if legacy, ok := fm.Get(document.LegacyIdentifierKey); ok && legacy != "" {
		return legacy, false, nil
	}

	id = a.newID()
	fm.Set(document.IdentifierKey, id)

	out, err := fm.Bytes()
	if err != nil {
		return "", false, &AssignmentError{Path: key, Err: err}
	}
	if err := utils.WriteFileAtomic(path, out, utils.FileMode(path, 0o644)); err != nil {
		return "", false, &AssignmentError{Path: key, Err: err}
	}

	slog.Debug("identifier assigned", "path", key, "id", id)
	return id, true, nil
}

// Summary counts the outcome of AssignAll.
type Summary struct {
	Assigned  []string
	Unchanged int
}

// AssignAll stamps every document missing an identifier.
// A failing document does not stop the run; its error is returned alongside the others.
func (a *Assigner) AssignAll(keys []string) (Summary, []error) {
	var (
		sum  Summary
		errs []error
	)
	for _, key := range keys {
		_, created, err := a.assign(key)
		switch {
		case err != nil:
			slog.Warn("identifier assignment failed", "path", key, "error", err)
			errs = append(errs, err)
		case created:
			sum.Assigned = append(sum.Assigned, key)
		default:
			sum.Unchanged++
		}
	}
	return sum, errs
}
