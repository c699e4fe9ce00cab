// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package record holds the ordered collection of records a data manager owns.
//
// Every read hands out a deep copy. The only writers are the commit helpers,
// which callers invoke while holding the conflict tracker's admission for the
// affected scope.
package record

import (
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/scopesync/pkg/merge"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// TempEntry is the in-flight view of one scope of a record.
type TempEntry struct {
	Value    any
	Mutation Mutation
	State    State
	SkipUI   bool
}

// Record is a committed value plus its in-flight entries. Master holds the
// whole-record entry, Scoped the entries keyed by mapped scope key.
type Record struct {
	ID        string
	Committed any
	Master    *TempEntry
	Scoped    map[string]*TempEntry
}

// Store is an ordered, concurrency-safe record collection.
type Store struct {
	mu      sync.RWMutex
	syntax  scope.Syntax
	records map[string]*Record
	order   []string
}

// NewStore creates an empty store. The syntax decides which mapped key denotes
// the whole record.
func NewStore(syntax scope.Syntax) *Store {
	return &Store{
		syntax:  syntax,
		records: make(map[string]*Record),
	}
}

func copyRecord(r *Record) Record {
	var out Record
	if err := deepcopy.Copy(&out, r); err != nil {
		// deepcopy only fails on unsupported types, which JSON-like trees never contain
		out = Record{ID: r.ID, Committed: merge.Clone(r.Committed)}
	}

	return out
}

// Has reports whether the record exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[id]

	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// IDs returns record ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.order...)
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}

	return copyRecord(rec), true
}

// Snapshot returns copies of all records in insertion order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyRecord(s.records[id]))
	}

	return out
}

// Committed returns a copy of the committed value.
func (s *Store) Committed(id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}

	return merge.Clone(rec.Committed), true
}

// CommittedAt returns a copy of the committed value addressed by path.
func (s *Store) CommittedAt(id string, path scope.Path, indices scope.Indices) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}

	value, ok := scope.Resolve(path, rec.Committed, indices, false)
	if !ok {
		return nil, false
	}

	return merge.Clone(value), true
}

// Create adds a record. It fails if the id is taken.
func (s *Store) Create(id string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return fmt.Errorf("%w: %s", standarderrors.ErrRecordExists, id)
	}

	s.insert(id, merge.Clone(value))

	return nil
}

// Overwrite replaces the committed value of a record, creating it if needed,
// and returns the previous committed value.
func (s *Store) Overwrite(id string, value any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		s.insert(id, merge.Clone(value))

		return nil
	}

	old := rec.Committed
	rec.Committed = merge.Clone(value)

	return old
}

func (s *Store) insert(id string, value any) {
	s.records[id] = &Record{
		ID:        id,
		Committed: value,
		Scoped:    make(map[string]*TempEntry),
	}
	s.order = append(s.order, id)
}

// CommitMerge spawns value at path and merges it into the committed tree.
// With create set, a missing record is created from the partial.
// It returns a copy of the committed value before the merge.
func (s *Store) CommitMerge(id string, path scope.Path, value any, indices scope.Indices, create bool) (any, error) {
	partial, err := scope.SpawnPartial(path, merge.Clone(value), nil, indices)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, id)
		}

		s.insert(id, partial)

		return nil, nil
	}

	old := merge.Clone(rec.Committed)
	rec.Committed = merge.Merge(rec.Committed, partial, indices)

	return old, nil
}

// CommitReplace overwrites the value at path, keeping everything outside it.
// A missing record is created from the spawned skeleton. It returns a copy of the
// committed value before the write.
func (s *Store) CommitReplace(id string, path scope.Path, value any, indices scope.Indices) (any, error) {
	if path.IsRoot() {
		return s.Overwrite(id, value), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		partial, err := scope.SpawnPartial(path, merge.Clone(value), nil, indices)
		if err != nil {
			return nil, err
		}

		s.insert(id, partial)

		return nil, nil
	}

	old := merge.Clone(rec.Committed)

	updated, err := scope.SpawnPartial(path, merge.Clone(value), merge.Clone(rec.Committed), indices)
	if err != nil {
		return nil, err
	}

	rec.Committed = updated

	return old, nil
}

// CommitRemove deletes the value at path. The root path removes the record.
// An indexed array leaf splices the element; an array leaf without index
// removes the whole array. It returns a copy of the removed value.
func (s *Store) CommitRemove(id string, path scope.Path, indices scope.Indices) (any, error) {
	if path.IsRoot() {
		rec, ok := s.Remove(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, id)
		}

		return rec.Committed, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, id)
	}

	return s.removeAt(rec, path, indices)
}

func (s *Store) removeAt(rec *Record, path scope.Path, indices scope.Indices) (any, error) {
	removed, ok := scope.Resolve(path, rec.Committed, indices, false)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no value at %s", standarderrors.ErrScopeConflict, rec.ID, s.syntax.Format(path))
	}

	removed = merge.Clone(removed)
	leaf, _ := path.Leaf()

	if leaf.IsArray() {
		if len(indices) < path.ArrayDepth() {
			if path.Parent().IsRoot() {
				rec.Committed = nil

				return removed, nil
			}

			return s.removeAt(rec, path.Parent(), indices)
		}

		partial, err := scope.SpawnPartial(path, nil, nil, indices)
		if err != nil {
			return nil, err
		}

		rec.Committed = merge.Merge(rec.Committed, partial, indices)

		return removed, nil
	}

	parent, ok := scope.Resolve(path, rec.Committed, indices, true)
	if !ok {
		return nil, fmt.Errorf("%w: %s", standarderrors.ErrScopeConflict, s.syntax.Format(path))
	}

	object, ok := parent.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: parent of %s is not an object", standarderrors.ErrScopeConflict, s.syntax.Format(path))
	}

	delete(object, leaf.Name)

	return removed, nil
}

// Remove deletes a record and returns its last state.
func (s *Store) Remove(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}

	delete(s.records, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}

	return *rec, true
}

// Flush removes all records and returns them in insertion order.
func (s *Store) Flush() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}

	s.records = make(map[string]*Record)
	s.order = nil

	return out
}
