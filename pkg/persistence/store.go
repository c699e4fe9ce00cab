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

// Package persistence stores committed record values between restarts.
//
// A Store holds named collections of JSON documents keyed by record id.
// Documents come back in the order they were first written, so a data manager
// hydrated from a store sees its records in their original order.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Document is one stored record value.
type Document struct {
	ID    string
	Value any
}

// Store provides CRUD operations on collections of documents.
//
// Concurrency: all methods are safe for concurrent use.
//
// Error handling: methods return ErrNotFound for a missing document and
// ErrClosed after Close. Backend errors are wrapped.
type Store interface {
	// CreateCollection creates a collection if it does not exist.
	CreateCollection(ctx context.Context, name string) error

	// DropCollection removes a collection and all its documents. Dropping a
	// missing collection is not an error.
	DropCollection(ctx context.Context, name string) error

	// Put inserts or replaces a document. A replaced document keeps its position.
	Put(ctx context.Context, collection string, doc Document) error

	// PutMany writes all documents atomically.
	PutMany(ctx context.Context, collection string, docs []Document) error

	Get(ctx context.Context, collection, id string) (Document, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// List returns every document in first-write order.
	List(ctx context.Context, collection string) ([]Document, error)

	Close(ctx context.Context) error
}

var (
	// ErrNotFound indicates a document or collection was not found.
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store is closed")
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateCollectionName rejects names that cannot be used as a table name.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("invalid collection name: cannot be empty")
	}

	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: must contain only alphanumeric characters and underscores, and must start with a letter or underscore", name)
	}

	return nil
}
