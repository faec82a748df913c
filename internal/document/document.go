// Package document reads locally authored markdown documents and renders them
// into the in-memory shape consumed by the projector and the reconciliation engine.
package document

import (
	"fmt"
	"path"
	"strings"
)

const (
	// IdentifierKey is the front matter key holding the stable search identifier.
	IdentifierKey = "search_object_id"
	// LegacyIdentifierKey is honoured when reading documents stamped by older tooling.
	LegacyIdentifierKey = "algolia_object_id"

	excerptMarker = "<!-- more -->"
)

// Label is a named taxonomy entry (tag or category).
type Label struct {
	Name string `json:"name"`
}

// Document is a rendered document with its metadata.
type Document struct {
	Path       string
	Identifier string
	Published  bool
	Fields     map[string]any
	Tags       []Label
	Categories []Label
	Body       string
}

// Field returns a rendered field value.
func (d *Document) Field(name string) (any, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// FromFrontMatter renders a document from its parsed front matter.
func FromFrontMatter(relPath string, fm *FrontMatter) (*Document, error) {
	fields, err := fm.Fields()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Path:      relPath,
		Published: true,
		Fields:    fields,
		Body:      string(fm.Body()),
	}

	if id, ok := fm.Get(IdentifierKey); ok && id != "" {
		doc.Identifier = id
	} else if id, ok := fm.Get(LegacyIdentifierKey); ok && id != "" {
		doc.Identifier = id
	}
	delete(fields, IdentifierKey)
	delete(fields, LegacyIdentifierKey)

	if v, ok := fields["published"]; ok {
		published, isBool := v.(bool)
		if !isBool {
			return nil, fmt.Errorf("%s: published must be a boolean, got %T", relPath, v)
		}
		doc.Published = published
	}

	doc.Tags = toLabels(fields["tags"])
	doc.Categories = toLabels(fields["categories"])
	delete(fields, "tags")
	delete(fields, "categories")

	slug := strings.TrimSuffix(path.Base(relPath), path.Ext(relPath))
	if _, ok := fields["title"]; !ok {
		fields["title"] = slug
	}
	fields["slug"] = slug
	fields["path"] = relPath
	fields["content"] = doc.Body
	if i := strings.Index(doc.Body, excerptMarker); i >= 0 {
		if _, ok := fields["excerpt"]; !ok {
			fields["excerpt"] = strings.TrimSpace(doc.Body[:i])
		}
	}

	return doc, nil
}

// toLabels accepts a single name, a list of names, nested lists (category
// hierarchies), labeled objects, or a collection wrapping them under "data".
func toLabels(v any) []Label {
	var out []Label
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, Label{Name: s})
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if name, ok := t["name"].(string); ok {
				walk(name)
			} else if data, ok := t["data"]; ok {
				walk(data)
			}
		default:
			walk(fmt.Sprint(t))
		}
	}
	walk(v)
	return out
}
