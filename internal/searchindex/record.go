// Package searchindex pushes records to a hosted Algolia-compatible search index.
package searchindex

import "context"

// ObjectIDKey is the primary key field of every record.
const ObjectIDKey = "objectID"

// Record is a flat document as stored in the search index.
type Record map[string]any

// ObjectID returns the record primary key.
func (r Record) ObjectID() string {
	id, _ := r[ObjectIDKey].(string)
	return id
}

// Client is the remote side of a reconciliation cycle.
// Every call either fully succeeds or returns an error; callers treat errors as opaque.
type Client interface {
	Upsert(ctx context.Context, records []Record) error
	Delete(ctx context.Context, objectIDs []string) error
	Clear(ctx context.Context) error
}
