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

// Package observer defines the collaborators a data manager notifies while a
// mutation runs, and the scope tree they are attached to.
package observer

import (
	"context"

	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

// Event is what every view callback receives.
type Event struct {
	Mutation  record.Mutation
	NewData   any
	OldData   any
	ChildID   string
	RecordIDs []string
	Scope     scope.Path
	Indices   scope.Indices
	Extras    map[string]any
	// Error is the payload shaped by the network collaborator for onError.
	Error any
	Err   error
}

// Retry answers a failure: true sends the request again, false cancels.
type Retry interface {
	Retry(retry bool)
}

// RetryFunc adapts a function to Retry.
type RetryFunc func(retry bool)

// Retry implements Retry.
func (f RetryFunc) Retry(retry bool) { f(retry) }

// View is notified at every lifecycle state of a mutation on its scope.
// OnMutate, OnCommit and OnCancel must call done once they are finished.
type View interface {
	OnMutate(ctx context.Context, evt Event, done func())
	OnCommit(ctx context.Context, evt Event, done func())
	OnError(ctx context.Context, evt Event, retry Retry)
	OnCancel(ctx context.Context, evt Event, done func())
}

// Watcher passively observes commits, after all views.
type Watcher interface {
	OnExternalWatchCommit(mutation record.Mutation, newData, oldData any)
}

// Address locates the data a network collaborator works on.
type Address struct {
	RecordID string
	Scope    scope.Path
	// Path is the formatted scope.
	Path    string
	Indices scope.Indices
	ChildID string
}

// Processed is the shaped outcome of an accepted response.
type Processed struct {
	Data     any
	Response *transport.Response
	Extras   map[string]any
}

// Network builds requests and shapes responses for one scope.
type Network interface {
	// GetReqBody builds the request. An error here ends the build without retry.
	GetReqBody(ctx context.Context, addr Address, newData any, mutation record.Mutation, oldRecord any) (transport.Options, error)
	OnDataLoadPostProcess(ctx context.Context, addr Address, resp *transport.Response, newData, oldData any, mutation record.Mutation, childID, method string) (Processed, error)
	OnDataLoadError(ctx context.Context, addr Address, resp *transport.Response, newData, oldData any, mutation record.Mutation) any
}
