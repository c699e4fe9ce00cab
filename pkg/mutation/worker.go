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

// Package mutation runs load, upload, update and delete mutations through the
// pipeline.
//
// All four workers share one state table:
//
//	success: mutate_notify -> build_request -> send_request -> post_process -> commit -> commit_notify -> finalize
//	failure: error_notify (retry -> send_request, deny -> cancel_notify)
//	cancel:  cancel_notify -> abort
//
// They differ in how the accepted data is committed into the record store.
package mutation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/pipeline"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

const (
	StateMutateNotify = "mutate_notify"
	StateBuildRequest = "build_request"
	StateSendRequest  = "send_request"
	StatePostProcess  = "post_process"
	StateCommit       = "commit"
	StateCommitNotify = "commit_notify"
	StateFinalize     = "finalize"
	StateErrorNotify  = "error_notify"
	StateCancelNotify = "cancel_notify"
	StateAbort        = "abort"
)

// Deps are the collaborators shared by all workers of a data manager.
type Deps struct {
	Store     *record.Store
	Requester transport.Requester
	Views     *observer.Tree
	Watchers  *observer.Watchers
	Syntax    scope.Syntax
	// IDField names the property holding a record id in collection loads.
	IDField string
	// Release drops the tracker entry of a build.
	Release func(a Args)
	// Persist is told which records a commit changed.
	Persist func(ctx context.Context, recordIDs []string)
}

type commitFunc func(w *Worker, a Args) (recordIDs []string, newData, oldData any, err error)

// Worker is a specialized pipeline worker.
type Worker struct {
	name   string
	deps   Deps
	commit commitFunc
	pipe   *pipeline.Worker[Args]
	logger *zap.SugaredLogger
}

// NewLoadWorker runs loads. A load replaces the scope it targets.
func NewLoadWorker(deps Deps, logger *zap.SugaredLogger) (*Worker, error) {
	return newWorker(WorkerLoad, deps, commitLoad, logger)
}

// NewUploadWorker runs upload and upload_new. Both merge, upload_new creates
// the record if needed.
func NewUploadWorker(deps Deps, logger *zap.SugaredLogger) (*Worker, error) {
	return newWorker(WorkerUpload, deps, commitUpload, logger)
}

// NewUpdateWorker runs updates, which merge into an existing record.
func NewUpdateWorker(deps Deps, logger *zap.SugaredLogger) (*Worker, error) {
	return newWorker(WorkerUpdate, deps, commitUpdate, logger)
}

// NewDeleteWorker runs delete and delete_all.
func NewDeleteWorker(deps Deps, logger *zap.SugaredLogger) (*Worker, error) {
	return newWorker(WorkerDelete, deps, commitDelete, logger)
}

func newWorker(name string, deps Deps, commit commitFunc, logger *zap.SugaredLogger) (*Worker, error) {
	if deps.Store == nil || deps.Requester == nil || deps.Views == nil {
		return nil, fmt.Errorf("%s worker needs a store, a requester and a view tree", name)
	}

	if deps.Watchers == nil {
		deps.Watchers = &observer.Watchers{}
	}

	if deps.Release == nil {
		deps.Release = func(Args) {}
	}

	if deps.Persist == nil {
		deps.Persist = func(context.Context, []string) {}
	}

	w := &Worker{name: name, deps: deps, commit: commit, logger: logger}

	pipe, err := pipeline.NewWorker(w.table(), logger)
	if err != nil {
		return nil, err
	}

	w.pipe = pipe

	return w, nil
}

func (w *Worker) table() pipeline.Config[Args] {
	return pipeline.Config[Args]{
		Name:        w.name,
		Entry:       StateMutateNotify,
		CancelEntry: StateCancelNotify,
		States: []pipeline.State[Args]{
			{Name: StateMutateNotify, Flow: pipeline.FlowSuccess, Next: StateBuildRequest, Fail: StateCancelNotify, Callback: w.mutateNotify},
			{Name: StateBuildRequest, Flow: pipeline.FlowSuccess, Prev: StateMutateNotify, Next: StateSendRequest, Fail: StateCancelNotify, Callback: w.buildRequest},
			{Name: StateSendRequest, Flow: pipeline.FlowSuccess, Prev: StateBuildRequest, Next: StatePostProcess, Fail: StateErrorNotify, Callback: w.sendRequest},
			{Name: StatePostProcess, Flow: pipeline.FlowSuccess, Prev: StateSendRequest, Next: StateCommit, Fail: StateErrorNotify, Callback: w.postProcess},
			{Name: StateCommit, Flow: pipeline.FlowSuccess, Prev: StatePostProcess, Next: StateCommitNotify, Fail: StateCancelNotify, Callback: w.commitState},
			{Name: StateCommitNotify, Flow: pipeline.FlowSuccess, Prev: StateCommit, Next: StateFinalize, Fail: StateFinalize, Callback: w.commitNotify},
			{Name: StateFinalize, Flow: pipeline.FlowSuccess, Prev: StateCommitNotify, Callback: w.finalize},
			{Name: StateErrorNotify, Flow: pipeline.FlowFailure, Prev: StateSendRequest, Next: StateSendRequest, Fail: StateCancelNotify, Callback: w.errorNotify},
			{Name: StateCancelNotify, Flow: pipeline.FlowCancel, Prev: StateErrorNotify, Next: StateAbort, Callback: w.cancelNotify},
			{Name: StateAbort, Flow: pipeline.FlowCancel, Prev: StateCancelNotify, Callback: w.abort},
		},
		Interruptible: []string{StateMutateNotify, StateBuildRequest, StateSendRequest, StatePostProcess, StateErrorNotify},
		OnEnd:         w.settle,
	}
}

// settle resolves a build that ended before finalize or abort could, which
// happens when a terminal callback panics.
func (w *Worker) settle(b *build, outcome pipeline.Outcome) {
	a := b.Args()

	select {
	case <-a.pending.Done():
		return
	default:
	}

	if !a.NetworkOnly {
		w.deps.Store.ClearTemp(a.RecordID, a.Key)
		w.deps.Release(a)
	}

	cause := outcome.Err
	if cause == nil {
		cause = a.Err
	}

	err := standarderrors.ErrCancelled
	if cause != nil {
		err = fmt.Errorf("%w: %w", standarderrors.ErrCancelled, cause)
	}

	w.logger.Warnf("%s on %s/%s ended in %s without a result: %v", a.Mutation, a.RecordID, a.Key, outcome.State, cause)

	a.pending.Resolve(Result{
		Status:   StatusInvoked,
		State:    record.StateError,
		Msg:      fmt.Sprintf("%s on %s/%s ended in %s without a result", a.Mutation, a.RecordID, w.deps.Syntax.Format(a.Scope), outcome.State),
		RecordID: a.RecordID,
	}, err)
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// Run starts the success flow for a.
func (w *Worker) Run(ctx context.Context, a Args) (*Pending, error) {
	p := NewPending()
	a.pending = p

	if _, err := w.pipe.Start(ctx, BuildID(w.name, a.RecordID, a.Key), a); err != nil {
		return nil, err
	}

	return p, nil
}

// Running reports whether a build runs for the record scope.
func (w *Worker) Running(recordID, key string) bool {
	_, ok := w.pipe.Running(BuildID(w.name, recordID, key))

	return ok
}

// Len is the number of running builds.
func (w *Worker) Len() int {
	return len(w.pipe.RunningIDs())
}

// Answer resolves a failure that waits for a retry decision.
func (w *Worker) Answer(recordID, key string, retry bool) bool {
	fn, ok := w.pipe.Held(BuildID(w.name, recordID, key))
	if !ok {
		return false
	}

	fn(retry)

	return true
}

// Cancel cancels the build of one record scope, or every running build with
// cancelAll. A full cancellation runs the cancel flow, aborts the network call
// and returns once the builds have ended. A network-only cancellation detaches
// the builds and releases their tracker entries right away, letting their
// network calls finish unobserved. It returns how many builds were cancelled.
func (w *Worker) Cancel(ctx context.Context, recordID, key string, cancelAll, networkOnly bool) (int, error) {
	ids := []string{BuildID(w.name, recordID, key)}
	if cancelAll {
		ids = w.pipe.RunningIDs()
	}

	var aborted []*pipeline.Build[Args]

	count := 0

	for _, id := range ids {
		if networkOnly {
			if w.detach(id) {
				count++
			}

			continue
		}

		if b, ok := w.pipe.Abort(id); ok {
			aborted = append(aborted, b)
			count++
		}
	}

	for _, b := range aborted {
		if _, err := b.Wait(ctx); err != nil {
			return count, fmt.Errorf("waiting for %s build %s to cancel: %w", w.name, b.ID, err)
		}
	}

	return count, nil
}

func (w *Worker) detach(id string) bool {
	retry, held := w.pipe.Held(id)

	b, ok := w.pipe.Detach(id)
	if !ok {
		return false
	}

	b.Update(func(a *Args) { a.NetworkOnly = true })
	a := b.Args()

	w.deps.Store.ClearTemp(a.RecordID, a.Key)
	w.deps.Release(a)

	switch {
	case held:
		// a failure waiting for a decision has nothing left to wait for
		retry(false)
	case b.State() == StateMutateNotify || b.State() == StateBuildRequest:
		// nothing was sent yet
		b.Abort()
	}

	w.logger.Debugf("Detached %s build for %s/%s, its network call continues", w.name, a.RecordID, a.Key)

	return true
}

func (w *Worker) address(a Args) observer.Address {
	return observer.Address{
		RecordID: a.RecordID,
		Scope:    a.Scope,
		Path:     w.deps.Syntax.Format(a.Scope),
		Indices:  a.Indices,
		ChildID:  a.ChildID,
	}
}

func (w *Worker) event(a Args, newData, oldData any) observer.Event {
	ids := a.RecordIDs
	if len(ids) == 0 {
		ids = []string{a.RecordID}
	}

	return observer.Event{
		Mutation:  a.Mutation,
		NewData:   newData,
		OldData:   oldData,
		ChildID:   a.ChildID,
		RecordIDs: ids,
		Scope:     a.Scope,
		Indices:   a.Indices,
		Extras:    a.Processed.Extras,
		Error:     a.ErrorPayload,
		Err:       a.Err,
	}
}

func (w *Worker) network(a Args) (observer.Network, error) {
	network, ok := w.deps.Views.Network(a.Scope)
	if !ok {
		return nil, fmt.Errorf("no network collaborator for scope %s", w.deps.Syntax.Format(a.Scope))
	}

	return network, nil
}

// setTemp applies a temp update and tolerates records that do not exist yet.
func (w *Worker) setTemp(a Args, fn func() error) {
	if a.NetworkOnly {
		return
	}

	if err := fn(); err != nil && !errors.Is(err, standarderrors.ErrRecordNotFound) {
		w.logger.Warnf("Updating temp entry of %s/%s: %v", a.RecordID, a.Key, err)
	}
}

func (w *Worker) notifyFailed(ctx context.Context, hook string, a Args, err error) {
	if ctx.Err() != nil {
		return
	}

	w.logger.Warnf("%s notification of %s on %s/%s failed: %v", hook, a.Mutation, a.RecordID, a.Key, err)
}
