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

// Package memory provides an in-memory implementation of persistence.Store.
//
// It is meant for tests and for deployments that do not need to survive a
// restart. Values are deep-copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/united-manufacturing-hub/scopesync/pkg/merge"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence"
)

type collection struct {
	docs  map[string]any
	order []string
}

func newCollection() *collection {
	return &collection{docs: make(map[string]any)}
}

func (c *collection) put(doc persistence.Document) {
	if _, ok := c.docs[doc.ID]; !ok {
		c.order = append(c.order, doc.ID)
	}

	c.docs[doc.ID] = merge.Clone(doc.Value)
}

// InMemoryStore is a thread-safe in-memory persistence.Store. Collections are
// created on first write.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

// NewInMemoryStore creates a new empty in-memory document store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

var _ persistence.Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) writable(name string) (*collection, error) {
	if s.closed {
		return nil, persistence.ErrClosed
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return nil, err
	}

	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}

	return c, nil
}

func (s *InMemoryStore) CreateCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.writable(name)

	return err
}

func (s *InMemoryStore) DropCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	delete(s.collections, name)

	return nil
}

func (s *InMemoryStore) Put(ctx context.Context, name string, doc persistence.Document) error {
	return s.PutMany(ctx, name, []persistence.Document{doc})
}

func (s *InMemoryStore) PutMany(ctx context.Context, name string, docs []persistence.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.writable(name)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document in %s has no id", name)
		}
	}

	for _, doc := range docs {
		c.put(doc)
	}

	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, name, id string) (persistence.Document, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.Document{}, persistence.ErrClosed
	}

	c, ok := s.collections[name]
	if !ok {
		return persistence.Document{}, fmt.Errorf("%w: collection %s", persistence.ErrNotFound, name)
	}

	value, ok := c.docs[id]
	if !ok {
		return persistence.Document{}, fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, name, id)
	}

	return persistence.Document{ID: id, Value: merge.Clone(value)}, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, name, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	c, ok := s.collections[name]
	if !ok {
		return nil
	}

	if _, ok := c.docs[id]; !ok {
		return nil
	}

	delete(c.docs, id)

	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)

			break
		}
	}

	return nil
}

func (s *InMemoryStore) List(ctx context.Context, name string) ([]persistence.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}

	out := make([]persistence.Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, persistence.Document{ID: id, Value: merge.Clone(c.docs[id])})
	}

	return out, nil
}

func (s *InMemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrClosed
	}

	s.closed = true
	s.collections = nil

	return nil
}
