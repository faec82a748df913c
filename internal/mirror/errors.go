package mirror

import (
	"errors"
	"fmt"
)

var (
	ErrMirrorLocked = errors.New("mirror locked by another process")
	ErrClosed       = errors.New("mirror closed")
)

// PersistenceError reports that the mirror file could not be read or written.
// The in-memory state is left as it was before the failing call.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mirror %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
