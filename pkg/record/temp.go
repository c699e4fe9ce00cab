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

package record

import (
	"fmt"

	"github.com/united-manufacturing-hub/scopesync/pkg/merge"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

func (s *Store) entry(rec *Record, key string) *TempEntry {
	if key == s.syntax.Root {
		return rec.Master
	}

	return rec.Scoped[key]
}

func (s *Store) setEntry(rec *Record, key string, entry *TempEntry) {
	if key == s.syntax.Root {
		rec.Master = entry

		return
	}

	if entry == nil {
		delete(rec.Scoped, key)

		return
	}

	rec.Scoped[key] = entry
}

// SetTemp replaces the in-flight entry for a mapped scope key.
func (s *Store) SetTemp(id, key string, entry TempEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, id)
	}

	entry.Value = merge.Clone(entry.Value)
	s.setEntry(rec, key, &entry)

	return nil
}

// Temp returns a copy of the in-flight entry for a mapped scope key.
func (s *Store) Temp(id, key string) (TempEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return TempEntry{}, false
	}

	entry := s.entry(rec, key)
	if entry == nil {
		return TempEntry{}, false
	}

	out := *entry
	out.Value = merge.Clone(entry.Value)

	return out, true
}

// SetTempState moves the entry to a new lifecycle state.
func (s *Store) SetTempState(id, key string, state State) error {
	return s.updateTemp(id, key, func(entry *TempEntry) {
		entry.State = state
	})
}

// SetTempValue stores the accepted response value and marks the entry committed.
func (s *Store) SetTempValue(id, key string, value any) error {
	return s.updateTemp(id, key, func(entry *TempEntry) {
		entry.Value = merge.Clone(value)
		entry.State = StateCommit
	})
}

func (s *Store) updateTemp(id, key string, fn func(*TempEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, id)
	}

	entry := s.entry(rec, key)
	if entry == nil {
		entry = &TempEntry{}
		s.setEntry(rec, key, entry)
	}

	fn(entry)

	return nil
}

// ClearTemp drops the in-flight entry for a mapped scope key.
func (s *Store) ClearTemp(id, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}

	s.setEntry(rec, key, nil)
}
