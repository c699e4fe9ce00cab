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

package mutation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

// Args are the build arguments of one mutation.
type Args struct {
	RecordID string
	Mutation record.Mutation
	Scope    scope.Path
	// Key is the mapped scope key the conflict tracker admitted.
	Key     string
	ChildID string
	Data    any
	Indices scope.Indices
	SkipUI  bool
	// AutoCancelOnError cancels on network failures instead of asking the views.
	AutoCancelOnError bool
	// Collection marks a load whose response is a list of records.
	Collection bool
	// Stamp and Token identify the tracker entry to release.
	Stamp string
	Token string
	// NetworkOnly is set by a build-only cancellation: the network call may
	// finish, everything else is skipped.
	NetworkOnly bool

	Request      transport.Options
	Response     *transport.Response
	Processed    observer.Processed
	OldData      any
	RecordIDs    []string
	ErrorPayload any
	Err          error

	pending *Pending
}

// Status tells whether a mutation ran at all.
type Status string

const (
	StatusInvoked Status = "invoked"
	StatusDenied  Status = "denied"
)

// Result is what a mutation resolves with.
type Result struct {
	Status   Status
	State    record.State
	Msg      string
	RecordID string
	Data     any
}

// Pending is the deferred result of a mutation.
type Pending struct {
	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

// NewPending returns an unresolved result.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved returns an already resolved result.
func Resolved(res Result, err error) *Pending {
	p := NewPending()
	p.Resolve(res, err)

	return p
}

// Resolve settles the result. Later calls are ignored.
func (p *Pending) Resolve(res Result, err error) {
	p.once.Do(func() {
		p.result = res
		p.err = err
		close(p.done)
	})
}

// Done is closed once the result is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the result is settled or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

var buildNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("scopesync/build"))

// BuildID derives the build id of a worker for a record scope, so at most one
// build per record and mapped scope runs in a worker.
func BuildID(worker, recordID, key string) string {
	return uuid.NewSHA1(buildNamespace, []byte(worker+"|"+recordID+"|"+key)).String()
}

const (
	WorkerLoad   = "load"
	WorkerUpload = "upload"
	WorkerUpdate = "update"
	WorkerDelete = "delete"
)

// WorkerFor names the worker that runs a mutation kind. Create has none.
func WorkerFor(m record.Mutation) (string, bool) {
	switch m {
	case record.MutationLoad:
		return WorkerLoad, true
	case record.MutationUpload, record.MutationUploadNew:
		return WorkerUpload, true
	case record.MutationUpdate:
		return WorkerUpdate, true
	case record.MutationDelete, record.MutationDeleteAll:
		return WorkerDelete, true
	default:
		return "", false
	}
}
