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
	"errors"
	"fmt"
	"net/http"

	"github.com/united-manufacturing-hub/scopesync/pkg/backoff"
	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/pipeline"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/sentry"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

type build = pipeline.Build[Args]

func (w *Worker) mutateNotify(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly || a.SkipUI {
		advance(true)

		return
	}

	old, _ := w.deps.Store.CommittedAt(a.RecordID, a.Scope, a.Indices)

	if err := w.deps.Views.NotifyMutate(ctx, w.event(a, a.Data, old)); err != nil {
		w.notifyFailed(ctx, "onMutate", a, err)

		return
	}

	advance(true)
}

func (w *Worker) buildRequest(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()

	network, err := w.network(a)
	if err == nil {
		oldRecord, _ := w.deps.Store.Committed(a.RecordID)

		var opts transport.Options

		opts, err = network.GetReqBody(ctx, w.address(a), a.Data, a.Mutation, oldRecord)
		if err == nil {
			b.Update(func(a *Args) { a.Request = opts })
			advance(true)

			return
		}
	}

	b.Update(func(a *Args) {
		a.Err = fmt.Errorf("%w: %s on %s/%s: %w", standarderrors.ErrRequestConstruction, a.Mutation, a.RecordID, a.Key, err)
	})
	advance(false)
}

func (w *Worker) sendRequest(_ context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	requestID := b.NewRequest()

	w.deps.Requester.Send(a.Request,
		func(resp *transport.Response) {
			b.ClearRequest()
			b.Update(func(a *Args) {
				a.Response = resp
				a.Err = nil
			})
			advance(true)
		},
		func(resp *transport.Response, err error) {
			b.ClearRequest()
			b.Update(func(a *Args) {
				a.Response = resp
				a.Err = categorize(resp, err)
			})
			advance(false)
		},
		requestID)
}

// categorize marks client errors as permanent so automatic retries leave them
// alone. Timeouts and throttling keep the default category.
func categorize(resp *transport.Response, err error) error {
	if resp == nil || resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return err
	}

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}

	return backoff.NewPermanentError(err)
}

func (w *Worker) postProcess(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly {
		advance(true)

		return
	}

	network, err := w.network(a)
	if err == nil {
		old, _ := w.deps.Store.CommittedAt(a.RecordID, a.Scope, a.Indices)

		var processed observer.Processed

		processed, err = network.OnDataLoadPostProcess(ctx, w.address(a), a.Response, a.Data, old, a.Mutation, a.ChildID, a.Request.Method)
		if err == nil {
			b.Update(func(a *Args) { a.Processed = processed })
			advance(true)

			return
		}
	}

	b.Update(func(a *Args) {
		a.Err = fmt.Errorf("%w: post-processing %s on %s/%s: %w", standarderrors.ErrNetwork, a.Mutation, a.RecordID, a.Key, err)
	})
	advance(false)
}

func (w *Worker) commitState(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly {
		advance(true)

		return
	}

	w.setTemp(a, func() error {
		return w.deps.Store.SetTempValue(a.RecordID, a.Key, a.Processed.Data)
	})

	ids, newData, oldData, err := w.commit(w, a)
	if err != nil {
		sentry.ReportIntegrityError(w.logger, string(a.Mutation), a.RecordID, w.deps.Syntax.Format(a.Scope), err)
		b.Update(func(a *Args) { a.Err = err })
		advance(false)

		return
	}

	b.Update(func(a *Args) {
		a.Processed.Data = newData
		a.OldData = oldData
		a.RecordIDs = ids
	})

	w.deps.Persist(ctx, ids)
	advance(true)
}

func (w *Worker) commitNotify(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly || a.SkipUI {
		advance(true)

		return
	}

	if err := w.deps.Views.NotifyCommit(ctx, w.event(a, a.Processed.Data, a.OldData)); err != nil {
		w.notifyFailed(ctx, "onCommit", a, err)
	}

	advance(true)
}

func (w *Worker) finalize(_ context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()

	if a.NetworkOnly {
		a.pending.Resolve(Result{
			Status:   StatusInvoked,
			State:    record.StateComplete,
			Msg:      fmt.Sprintf("%s on %s/%s finished its network call after a build-only cancellation", a.Mutation, a.RecordID, a.Key),
			RecordID: a.RecordID,
		}, nil)
		advance(true)

		return
	}

	w.deps.Watchers.Notify(a.Mutation, a.Processed.Data, a.OldData)
	w.deps.Store.ClearTemp(a.RecordID, a.Key)
	w.deps.Release(a)

	a.pending.Resolve(Result{
		Status:   StatusInvoked,
		State:    record.StateComplete,
		Msg:      fmt.Sprintf("%s on %s/%s completed", a.Mutation, a.RecordID, w.deps.Syntax.Format(a.Scope)),
		RecordID: a.RecordID,
		Data:     a.Processed.Data,
	}, nil)
	advance(true)
}

func (w *Worker) errorNotify(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly {
		advance(false)

		return
	}

	old, _ := w.deps.Store.CommittedAt(a.RecordID, a.Scope, a.Indices)

	if network, err := w.network(a); err == nil {
		payload := network.OnDataLoadError(ctx, w.address(a), a.Response, a.Data, old, a.Mutation)
		b.Update(func(a *Args) { a.ErrorPayload = payload })
		a = b.Args()
	}

	w.setTemp(a, func() error {
		return w.deps.Store.SetTempState(a.RecordID, a.Key, record.StateError)
	})

	w.logger.Debugf("%s on %s/%s failed: %v", a.Mutation, a.RecordID, a.Key, a.Err)

	if a.AutoCancelOnError || a.SkipUI {
		advance(false)

		return
	}

	answer := b.Hold(func(retry bool) {
		if retry {
			w.setTemp(a, func() error {
				return w.deps.Store.SetTempState(a.RecordID, a.Key, record.StateMutate)
			})
		}

		advance(retry)
	})

	if w.deps.Views.NotifyError(ctx, w.event(a, a.Data, old), observer.RetryFunc(answer)) == 0 {
		// nobody can answer
		answer(false)
	}
}

func (w *Worker) cancelNotify(ctx context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()
	if a.NetworkOnly {
		advance(true)

		return
	}

	w.setTemp(a, func() error {
		return w.deps.Store.SetTempState(a.RecordID, a.Key, record.StateCancel)
	})

	if !a.SkipUI {
		old, _ := w.deps.Store.CommittedAt(a.RecordID, a.Scope, a.Indices)
		if err := w.deps.Views.NotifyCancel(ctx, w.event(a, a.Data, old)); err != nil {
			w.notifyFailed(ctx, "onCancel", a, err)
		}
	}

	advance(true)
}

func (w *Worker) abort(_ context.Context, b *build, advance pipeline.Advance) {
	a := b.Args()

	if requestID, ok := b.Request(); ok && !a.NetworkOnly {
		w.deps.Requester.Abort(requestID)
		b.ClearRequest()
	}

	res := Result{
		Status:   StatusInvoked,
		State:    record.StateCancel,
		RecordID: a.RecordID,
	}

	if !a.NetworkOnly {
		w.deps.Store.ClearTemp(a.RecordID, a.Key)
		w.deps.Release(a)
	}

	var err error

	switch {
	case b.Aborted():
		res.Msg = fmt.Sprintf("%s on %s/%s was cancelled", a.Mutation, a.RecordID, w.deps.Syntax.Format(a.Scope))
	case a.Err != nil:
		res.Msg = fmt.Sprintf("%s on %s/%s was cancelled after a failure: %v", a.Mutation, a.RecordID, w.deps.Syntax.Format(a.Scope), a.Err)
		err = fmt.Errorf("%w: %w", standarderrors.ErrCancelled, a.Err)
	default:
		res.Msg = fmt.Sprintf("%s on %s/%s was cancelled", a.Mutation, a.RecordID, w.deps.Syntax.Format(a.Scope))
		err = standarderrors.ErrCancelled
	}

	if a.NetworkOnly && a.Err != nil && !errors.Is(a.Err, standarderrors.ErrCancelled) {
		w.logger.Infof("Network call of build-only cancelled %s on %s/%s failed: %v", a.Mutation, a.RecordID, a.Key, a.Err)
	}

	a.pending.Resolve(res, err)
	advance(true)
}
