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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/sentry"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

type held[A any] struct {
	build *Build[A]
	token string
	fn    RetryFunc
}

// Worker owns the running builds of one state table.
type Worker[A any] struct {
	cfg    Config[A]
	states map[string]State[A]
	events fsm.Events
	cancel map[string]bool
	logger *zap.SugaredLogger

	mu       sync.Mutex
	running  map[string]*Build[A]
	requests map[string]string
	holds    map[string]held[A]
}

// NewWorker validates cfg and compiles its event table.
func NewWorker[A any](cfg Config[A], logger *zap.SugaredLogger) (*Worker[A], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Worker[A]{
		cfg:      cfg,
		states:   make(map[string]State[A], len(cfg.States)),
		cancel:   make(map[string]bool),
		logger:   logger,
		running:  make(map[string]*Build[A]),
		requests: make(map[string]string),
		holds:    make(map[string]held[A]),
	}

	for _, st := range cfg.States {
		w.states[st.Name] = st

		if st.Next != "" {
			w.events = append(w.events, fsm.EventDesc{Name: EventNext, Src: []string{st.Name}, Dst: st.Next})
		}

		if st.Fail != "" {
			w.events = append(w.events, fsm.EventDesc{Name: EventFail, Src: []string{st.Name}, Dst: st.Fail})
		}
	}

	interruptible := cfg.interruptible()
	for _, name := range interruptible {
		w.cancel[name] = true
	}

	w.events = append(w.events, fsm.EventDesc{Name: EventCancel, Src: interruptible, Dst: cfg.CancelEntry})

	return w, nil
}

// Name returns the worker name.
func (w *Worker[A]) Name() string {
	return w.cfg.Name
}

// Start runs a new build. Only one build per id may run at a time.
func (w *Worker[A]) Start(ctx context.Context, id string, args A) (*Build[A], error) {
	w.mu.Lock()
	if _, ok := w.running[id]; ok {
		w.mu.Unlock()

		return nil, fmt.Errorf("%w: %s build %s", standarderrors.ErrBuildRunning, w.cfg.Name, id)
	}

	b := &Build[A]{
		ID:      id,
		worker:  w,
		ctx:     context.WithoutCancel(ctx),
		started: time.Now(),
		args:    args,
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.machine = fsm.NewFSM(w.cfg.Entry, w.events, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			w.logger.Debugf("%s build %s: %s -> %s (%s)", w.cfg.Name, id, e.Src, e.Dst, e.Event)
		},
	})
	w.running[id] = b
	w.mu.Unlock()

	go w.drive(b)

	return b, nil
}

func (w *Worker[A]) drive(b *Build[A]) {
	var outcome Outcome

	defer func() { w.finish(b, outcome) }()

	for {
		st := w.states[b.machine.Current()]
		outcome.State = st.Name
		outcome.Flow = st.Flow

		goToNext, aborted, panicked := w.run(b, st)
		if panicked != nil {
			outcome.Err = panicked
		}

		event := EventFail

		switch {
		case aborted:
			event = EventCancel
			outcome.Aborted = true
		case goToNext:
			if st.Next == "" {
				return
			}

			event = EventNext
		case st.Fail == "":
			outcome.DeadEnd = true

			return
		}

		if err := b.machine.Event(b.ctx, event); err != nil {
			outcome.Err = fmt.Errorf("%s build %s: %s from %s: %w", w.cfg.Name, b.ID, event, st.Name, err)
			sentry.ReportBuildError(w.logger, w.cfg.Name, b.ID, st.Name, outcome.Err)
			metrics.IncErrorCount(metrics.ComponentPipeline, w.cfg.Name)

			return
		}
	}
}

// run executes the callback of st and waits for its verdict or an abort.
// A recovered panic is returned as err and counts as a failure.
func (w *Worker[A]) run(b *Build[A], st State[A]) (goToNext bool, aborted bool, err error) {
	stateCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()

	verdict := make(chan bool, 1)
	panics := make(chan error, 1)

	var once sync.Once

	advance := func(next bool) {
		once.Do(func() { verdict <- next })
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				perr := fmt.Errorf("%s build %s: %s callback panicked: %v", w.cfg.Name, b.ID, st.Name, r)
				sentry.ReportBuildError(w.logger, w.cfg.Name, b.ID, st.Name, perr)
				panics <- perr
				advance(false)
			}
		}()

		st.Callback(stateCtx, b, advance)
	}()

	var abort <-chan struct{}
	if w.cancel[st.Name] {
		abort = b.abort
	}

	select {
	case next := <-verdict:
		select {
		case perr := <-panics:
			return false, false, perr
		default:
		}

		return next, false, nil
	case <-abort:
		return false, true, nil
	}
}

func (w *Worker[A]) finish(b *Build[A], outcome Outcome) {
	b.mu.Lock()
	b.outcome = outcome
	request := b.request
	b.request = ""
	b.mu.Unlock()

	w.mu.Lock()
	if w.running[b.ID] == b {
		delete(w.running, b.ID)
	}

	if request != "" {
		delete(w.requests, request)
	}

	if h, ok := w.holds[b.ID]; ok && h.build == b {
		delete(w.holds, b.ID)
	}
	w.mu.Unlock()

	metrics.ObserveBuild(w.cfg.Name, outcome.State, time.Since(b.started))
	w.logger.Debugf("%s build %s ended in %s (aborted: %t, dead end: %t)", w.cfg.Name, b.ID, outcome.State, outcome.Aborted, outcome.DeadEnd)

	if w.cfg.OnEnd != nil {
		w.end(b, outcome)
	}

	close(b.done)
}

func (w *Worker[A]) end(b *Build[A], outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			sentry.ReportBuildError(w.logger, w.cfg.Name, b.ID, outcome.State, fmt.Errorf("end hook panicked: %v", r))
		}
	}()

	w.cfg.OnEnd(b, outcome)
}

// Abort moves the build into the cancel flow at its next interruptible state.
// A build past its last interruptible state runs to its end.
func (w *Worker[A]) Abort(id string) (*Build[A], bool) {
	w.mu.Lock()
	b, ok := w.running[id]
	w.mu.Unlock()

	if !ok {
		return nil, false
	}

	b.requestAbort()

	return b, true
}

// Detach forgets a running build without stopping it, so a new build with the
// same id may start.
func (w *Worker[A]) Detach(id string) (*Build[A], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.running[id]
	if ok {
		delete(w.running, id)
	}

	return b, ok
}

// Running returns the build running under id.
func (w *Worker[A]) Running(id string) (*Build[A], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.running[id]

	return b, ok
}

// RunningIDs returns the ids of all running builds, sorted.
func (w *Worker[A]) RunningIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.running))
	for id := range w.running {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Requests maps live network request ids to their build ids.
func (w *Worker[A]) Requests() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]string, len(w.requests))
	for k, v := range w.requests {
		out[k] = v
	}

	return out
}

func (w *Worker[A]) trackRequest(previous, next, buildID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if previous != "" {
		delete(w.requests, previous)
	}

	if next != "" {
		w.requests[next] = buildID
	}
}

// Held returns the parked failure answer of a build.
func (w *Worker[A]) Held(id string) (RetryFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.holds[id]

	return h.fn, ok
}

func (w *Worker[A]) hold(b *Build[A], fn RetryFunc) RetryFunc {
	token := uuid.NewString()

	var answer RetryFunc = func(retry bool) {
		if w.releaseHold(b, token) {
			fn(retry)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.holds[b.ID] = held[A]{build: b, token: token, fn: answer}

	return answer
}

func (w *Worker[A]) releaseHold(b *Build[A], token string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.holds[b.ID]
	if !ok || h.build != b || h.token != token {
		return false
	}

	delete(w.holds, b.ID)

	return true
}
