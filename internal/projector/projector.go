// Package projector maps rendered documents into flat search records.
package projector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openmined/searchsync/internal/document"
	"github.com/openmined/searchsync/internal/searchindex"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrMalformedField = errors.New("malformed field entry")
)

const (
	tagsField       = "tags"
	categoriesField = "categories"
)

// ConfigError reports an invalid field spec entry. It is raised when the projector is
// built so a bad configuration stops the process before any document is synced.
type ConfigError struct {
	Entry string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("projection config %q: %v", e.Entry, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type customField struct {
	field string
	key   string
	apply Action
}

// Projector selects and transforms document fields per a field spec such as
// ["title", "tags", "content:strip", "title:truncate"].
type Projector struct {
	fields []string
	custom []customField
}

// New validates every entry of the field spec against the action registry.
func New(spec []string) (*Projector, error) {
	p := &Projector{}
	seen := map[string]bool{}
	for _, raw := range spec {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			return nil, &ConfigError{Entry: raw, Err: ErrMalformedField}
		}

		field, action, custom := strings.Cut(entry, ":")
		field, action = strings.TrimSpace(field), strings.TrimSpace(action)
		if field == "" || (custom && action == "") {
			return nil, &ConfigError{Entry: raw, Err: ErrMalformedField}
		}
		if seen[entry] {
			continue
		}
		seen[entry] = true

		if !custom {
			p.fields = append(p.fields, field)
			continue
		}

		fn, ok := actions[action]
		if !ok {
			return nil, &ConfigError{
				Entry: raw,
				Err:   fmt.Errorf("%w %q (known: %s)", ErrUnknownAction, action, strings.Join(ActionNames(), ", ")),
			}
		}
		p.custom = append(p.custom, customField{field: field, key: field + upperFirst(action), apply: fn})
	}
	return p, nil
}

// Project renders the record pushed to the search index for doc.
func (p *Projector) Project(doc *document.Document) searchindex.Record {
	rec := searchindex.Record{}

	for _, field := range p.fields {
		switch field {
		case tagsField:
			rec[field] = labelNames(doc.Tags)
		case categoriesField:
			rec[field] = labelNames(doc.Categories)
		default:
			if v, ok := doc.Field(field); ok {
				rec[field] = v
			}
		}
	}

	for _, cf := range p.custom {
		v, ok := rawValue(doc, cf.field)
		if !ok {
			continue
		}
		rec[cf.key] = cf.apply(v)
	}

	rec[searchindex.ObjectIDKey] = doc.Identifier
	return rec
}

func rawValue(doc *document.Document, field string) (any, bool) {
	switch field {
	case tagsField:
		return labelNames(doc.Tags), true
	case categoriesField:
		return labelNames(doc.Categories), true
	}
	return doc.Field(field)
}

func labelNames(labels []document.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.Name != "" {
			names = append(names, l.Name)
		}
	}
	return names
}
