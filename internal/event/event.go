// Package event defines the document change notifications raised by the watcher.
package event

import (
	"fmt"
	"strings"
)

// Kind is the change reported for a document.
type Kind int

const (
	// Create reports a new document. The upstream watcher also reports every
	// existing document as created whenever any document changes.
	Create Kind = iota + 1
	// Update reports an edited document.
	Update
	// Delete reports a removed document.
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create", "created":
		return Create, nil
	case "update", "updated", "modify":
		return Update, nil
	case "delete", "deleted", "remove":
		return Delete, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is a change to the document stored under Path (a root-relative key).
type Event struct {
	Path string
	Kind Kind
}

func (e Event) String() string {
	return e.Kind.String() + " " + e.Path
}
