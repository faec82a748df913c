package mirror

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// SyncedRecord is a document believed to be present in the remote index.
type SyncedRecord struct {
	Identifier string `json:"identifier"`
	Path       string `json:"path"`
}

// State is the persisted mirror aggregate, one JSON document on disk.
type State struct {
	Created []string       `json:"createdPosts"`
	Updated []string       `json:"updatedPosts"`
	Deleted []string       `json:"deletedPosts"`
	Synced  []SyncedRecord `json:"syncedPosts"`
}

// legacyRecord is an entry of the bare-array format written by the original plugin,
// which only tracked synced documents.
type legacyRecord struct {
	ObjectID   string `json:"algolia_object_id"`
	FullSource string `json:"full_source"`
}

// pathSet is an insertion ordered set of paths.
type pathSet struct {
	order   []string
	members mapset.Set[string]
}

func newPathSet(paths ...string) *pathSet {
	s := &pathSet{members: mapset.NewThreadUnsafeSet[string]()}
	for _, p := range paths {
		s.add(p)
	}
	return s
}

func (s *pathSet) contains(path string) bool {
	return s.members.Contains(path)
}

func (s *pathSet) add(path string) bool {
	if !s.members.Add(path) {
		return false
	}
	s.order = append(s.order, path)
	return true
}

func (s *pathSet) remove(path string) bool {
	if !s.members.Contains(path) {
		return false
	}
	s.members.Remove(path)
	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *pathSet) len() int {
	return len(s.order)
}

func (s *pathSet) items() []string {
	return append([]string{}, s.order...)
}

func (s *pathSet) clone() *pathSet {
	return newPathSet(s.order...)
}

// syncedSet maps path to identifier, keeping insertion order for display and persistence.
type syncedSet struct {
	paths *pathSet
	ids   map[string]string
}

func newSyncedSet(records ...SyncedRecord) *syncedSet {
	s := &syncedSet{paths: newPathSet(), ids: map[string]string{}}
	for _, r := range records {
		s.put(r)
	}
	return s
}

// put stores r, superseding any earlier record for the same path.
func (s *syncedSet) put(r SyncedRecord) bool {
	if prev, ok := s.ids[r.Path]; ok {
		if prev == r.Identifier {
			return false
		}
		s.paths.remove(r.Path)
	}
	s.paths.add(r.Path)
	s.ids[r.Path] = r.Identifier
	return true
}

func (s *syncedSet) remove(path string) bool {
	if !s.paths.remove(path) {
		return false
	}
	delete(s.ids, path)
	return true
}

func (s *syncedSet) get(path string) (string, bool) {
	id, ok := s.ids[path]
	return id, ok
}

func (s *syncedSet) records() []SyncedRecord {
	out := make([]SyncedRecord, 0, s.paths.len())
	for _, p := range s.paths.order {
		out = append(out, SyncedRecord{Identifier: s.ids[p], Path: p})
	}
	return out
}

func (s *syncedSet) clone() *syncedSet {
	return newSyncedSet(s.records()...)
}
