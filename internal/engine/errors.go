package engine

import (
	"errors"
	"fmt"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
)

// RemoteCallError wraps a failed search index call. The cycle that returned it
// left the mirror untouched and can be retried.
type RemoteCallError struct {
	Op  string
	Err error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
