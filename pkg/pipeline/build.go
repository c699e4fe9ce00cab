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

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Advance moves a build on: true follows the state's Next, false its Fail.
// Only the first call per state counts.
type Advance func(goToNext bool)

// Callback is the side effect of a state. It must eventually call advance
// unless the build is aborted. ctx is cancelled once the build has left the
// state.
type Callback[A any] func(ctx context.Context, b *Build[A], advance Advance)

// RetryFunc answers a held failure.
type RetryFunc func(retry bool)

// Outcome describes how a build ended.
type Outcome struct {
	// State is the last state whose callback ran.
	State string
	Flow  Flow
	// DeadEnd is set when a failure hit a state without fail target.
	DeadEnd bool
	// Aborted is set when an abort moved the build into the cancel flow.
	Aborted bool
	// Err holds the last recovered callback panic or refused transition.
	Err error
}

// Build is one run through the state table.
type Build[A any] struct {
	ID string

	worker  *Worker[A]
	ctx     context.Context
	machine *fsm.FSM
	started time.Time

	mu      sync.Mutex
	args    A
	request string
	outcome Outcome

	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

// Args returns a copy of the build arguments.
func (b *Build[A]) Args() A {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.args
}

// Update changes the build arguments in place.
func (b *Build[A]) Update(fn func(*A)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn(&b.args)
}

// State returns the current state.
func (b *Build[A]) State() string {
	return b.machine.Current()
}

// Done is closed once the build has ended.
func (b *Build[A]) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the build has ended or ctx is done.
func (b *Build[A]) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-b.done:
		return b.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome is only meaningful after Done is closed.
func (b *Build[A]) Outcome() Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.outcome
}

// Aborted reports whether an abort was requested.
func (b *Build[A]) Aborted() bool {
	select {
	case <-b.abort:
		return true
	default:
		return false
	}
}

// NewRequest registers a fresh network request id for the build, replacing
// the previous one.
func (b *Build[A]) NewRequest() string {
	id := uuid.NewString()

	b.mu.Lock()
	previous := b.request
	b.request = id
	b.mu.Unlock()

	b.worker.trackRequest(previous, id, b.ID)

	return id
}

// Request returns the live network request id.
func (b *Build[A]) Request() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.request, b.request != ""
}

// ClearRequest forgets the live network request.
func (b *Build[A]) ClearRequest() {
	b.mu.Lock()
	previous := b.request
	b.request = ""
	b.mu.Unlock()

	b.worker.trackRequest(previous, "", b.ID)
}

// Hold parks a failure until somebody answers it and returns the answer. The
// answer runs fn at most once, and not at all once a newer hold of the build
// replaced this one or the build ended.
func (b *Build[A]) Hold(fn RetryFunc) RetryFunc {
	return b.worker.hold(b, fn)
}

// Abort moves the build into the cancel flow at its next interruptible state.
// It also works on detached builds.
func (b *Build[A]) Abort() {
	b.requestAbort()
}

func (b *Build[A]) requestAbort() {
	b.abortOnce.Do(func() { close(b.abort) })
}
