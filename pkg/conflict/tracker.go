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

// Package conflict decides whether a requested mutation may run next to the
// operations already in flight on the same record.
//
// Operations are grouped per record under a generation stamp. A flush rotates the
// stamp, which discards every group at once; admissions that started under an
// older stamp are reported as stale.
package conflict

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

// Policy decides what happens when a request targets a mapped scope key that is
// already in flight.
type Policy string

const (
	// PolicyWait denies the new request.
	PolicyWait Policy = "wait"
	// PolicyCancel cancels the running operation and admits the new one.
	PolicyCancel Policy = "cancel"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyWait, PolicyCancel:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown override policy %q", s)
	}
}

// Canceller cancels the running operation of the given kind and returns once
// the cancellation is confirmed.
type Canceller interface {
	CancelOperation(ctx context.Context, mutation record.Mutation, recordID, key string) error
}

// TempWriter receives the in-flight entry of every admitted operation.
type TempWriter interface {
	SetTemp(recordID, key string, entry record.TempEntry) error
}

// Request describes a mutation asking for admission.
type Request struct {
	// Stamp is the generation observed when the mutation was requested.
	Stamp    string
	RecordID string
	Mutation record.Mutation
	Scope    scope.Path
	ChildID  string
	Data     any
	SkipUI   bool
}

// Decision is the outcome of Admit.
type Decision struct {
	Operable bool
	// Previous is the kind of the operation that blocked or was replaced.
	Previous record.Mutation
	Msg      string
	// Stale is set when the generation changed before the admission resolved.
	// A stale operation is not tracked and must not touch the record store.
	Stale bool
	Key   string
	Token string
}

// Operation is a tracked entry as seen from outside.
type Operation struct {
	RecordID string
	Key      string
	Scope    scope.Path
	ChildID  string
	Mutation record.Mutation
}

type entry struct {
	key       string
	path      scope.Path
	childID   string
	mutation  record.Mutation
	token     string
	replacing bool
	released  bool
}

type operation struct {
	recordID string
	entries  []*entry
}

func (o *operation) find(key string) *entry {
	for _, e := range o.entries {
		if e.key == key {
			return e
		}
	}

	return nil
}

func (o *operation) remove(target *entry) {
	for i, e := range o.entries {
		if e == target {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)

			return
		}
	}
}

// Config holds the tracker's collaborators and policies.
type Config struct {
	Syntax scope.Syntax
	Policy Policy
	// MaintainNetwork tells whether a stale operation of the given kind may keep
	// its network call.
	MaintainNetwork func(record.Mutation) bool
	Canceller       Canceller
	Temp            TempWriter
}

// Tracker is the per-record stack of in-flight operations.
type Tracker struct {
	mu     *ctxmutex.CtxMutex
	cfg    Config
	stamp  string
	stacks map[string]map[string]*operation
	logger *zap.SugaredLogger
}

// NewTracker creates a tracker with a fresh generation stamp.
func NewTracker(cfg Config, logger *zap.SugaredLogger) *Tracker {
	if cfg.Policy == "" {
		cfg.Policy = PolicyWait
	}

	if cfg.MaintainNetwork == nil {
		cfg.MaintainNetwork = func(record.Mutation) bool { return false }
	}

	stamp := uuid.NewString()

	return &Tracker{
		mu:     ctxmutex.NewCtxMutex(),
		cfg:    cfg,
		stamp:  stamp,
		stacks: map[string]map[string]*operation{stamp: {}},
		logger: logger,
	}
}

// SetCanceller wires the canceller after construction. It must be called
// before the first Admit.
func (t *Tracker) SetCanceller(c Canceller) {
	t.cfg.Canceller = c
}

// Stamp returns the current generation.
func (t *Tracker) Stamp() string {
	t.mu.LockDetached(context.Background())
	defer t.mu.Unlock()

	return t.stamp
}

// Admit runs the admission algorithm for req.
func (t *Tracker) Admit(ctx context.Context, req Request) (Decision, error) {
	if err := t.mu.Lock(ctx); err != nil {
		return Decision{}, err
	}

	decision := t.admitLocked(ctx, req)
	t.mu.Unlock()

	metrics.IncAdmission(string(req.Mutation), decisionLabel(decision))

	return decision, nil
}

func decisionLabel(d Decision) string {
	switch {
	case d.Stale:
		return "stale"
	case d.Operable && d.Previous != "":
		return "replaced"
	case d.Operable:
		return "admitted"
	default:
		return "denied"
	}
}

// admitLocked is called with t.mu held. It may release and reacquire the lock
// while a cancel-and-replace waits for the running operation.
func (t *Tracker) admitLocked(ctx context.Context, req Request) Decision {
	if req.Stamp != t.stamp {
		return t.stale(req)
	}

	key := t.cfg.Syntax.MappedKey(req.Scope, req.ChildID)
	scopeName := t.cfg.Syntax.Format(req.Scope)
	stack := t.stacks[t.stamp]

	op, ok := stack[req.RecordID]
	if !ok {
		op = &operation{recordID: req.RecordID}
		stack[req.RecordID] = op

		return t.admit(op, req, key, "")
	}

	if existing := op.find(key); existing != nil {
		return t.override(ctx, op, existing, req, key, scopeName)
	}

	if req.Scope.IsRoot() {
		for _, e := range op.entries {
			if !e.path.IsRoot() {
				return Decision{
					Previous: e.mutation,
					Key:      key,
					Msg: fmt.Sprintf("%s on %s denied: %s on %s must finish first",
						req.Mutation, scopeName, e.mutation, t.cfg.Syntax.Format(e.path)),
				}
			}
		}

		return t.admit(op, req, key, "")
	}

	for _, e := range op.entries {
		blocked := e.path.IsAncestorOf(req.Scope) || req.Scope.IsAncestorOf(e.path)
		if e.path.Equal(req.Scope) && (e.childID == "" || req.ChildID == "") {
			blocked = true
		}

		if blocked {
			return Decision{
				Previous: e.mutation,
				Key:      key,
				Msg: fmt.Sprintf("%s on %s denied: overlaps %s on %s",
					req.Mutation, scopeName, e.mutation, t.cfg.Syntax.Format(e.path)),
			}
		}
	}

	return t.admit(op, req, key, "")
}

func (t *Tracker) override(ctx context.Context, op *operation, existing *entry, req Request, key, scopeName string) Decision {
	previous := existing.mutation

	if t.cfg.Policy == PolicyWait || existing.replacing || t.cfg.Canceller == nil {
		return Decision{
			Previous: previous,
			Key:      key,
			Msg:      fmt.Sprintf("%s on %s denied: wait for pending %s on scope %s", req.Mutation, scopeName, previous, scopeName),
		}
	}

	existing.replacing = true
	stamp := t.stamp

	t.mu.Unlock()
	err := t.cfg.Canceller.CancelOperation(ctx, previous, req.RecordID, key)
	t.mu.LockDetached(ctx)

	existing.replacing = false

	if err != nil {
		if existing.released {
			op.remove(existing)
			t.dropIfEmpty(stamp, op)
		}

		t.logger.Warnf("Could not cancel %s on %s/%s: %v", previous, req.RecordID, key, err)
		metrics.IncErrorCount(metrics.ComponentTracker, string(previous))

		return Decision{
			Previous: previous,
			Key:      key,
			Msg:      fmt.Sprintf("%s on %s denied: cancelling %s failed: %v", req.Mutation, scopeName, previous, err),
		}
	}

	if stamp != t.stamp {
		return t.stale(req)
	}

	op.remove(existing)

	if t.stacks[t.stamp][req.RecordID] != op {
		t.stacks[t.stamp][req.RecordID] = op
	}

	return t.admit(op, req, key, previous)
}

func (t *Tracker) admit(op *operation, req Request, key string, previous record.Mutation) Decision {
	token := uuid.NewString()
	op.entries = append(op.entries, &entry{
		key:      key,
		path:     req.Scope,
		childID:  req.ChildID,
		mutation: req.Mutation,
		token:    token,
	})

	data := req.Data
	if data == nil {
		data = map[string]any{}
	}

	if t.cfg.Temp != nil {
		err := t.cfg.Temp.SetTemp(req.RecordID, key, record.TempEntry{
			Value:    data,
			Mutation: req.Mutation,
			State:    record.StateMutate,
			SkipUI:   req.SkipUI,
		})
		if err != nil {
			// loads and upload_new create their record on commit
			t.logger.Debugf("No temp entry for %s/%s yet: %v", req.RecordID, key, err)
		}
	}

	msg := fmt.Sprintf("%s on %s admitted", req.Mutation, t.cfg.Syntax.Format(req.Scope))
	if previous != "" {
		msg = fmt.Sprintf("%s after cancelling %s", msg, previous)
	}

	return Decision{Operable: true, Previous: previous, Key: key, Token: token, Msg: msg}
}

func (t *Tracker) stale(req Request) Decision {
	operable := t.cfg.MaintainNetwork(req.Mutation)

	return Decision{
		Operable: operable,
		Stale:    true,
		Key:      t.cfg.Syntax.MappedKey(req.Scope, req.ChildID),
		Msg:      fmt.Sprintf("%s on %s started before a flush (network kept: %t)", req.Mutation, req.RecordID, operable),
	}
}

func (t *Tracker) dropIfEmpty(stamp string, op *operation) {
	if len(op.entries) != 0 {
		return
	}

	if stack, ok := t.stacks[stamp]; ok && stack[op.recordID] == op {
		delete(stack, op.recordID)
	}
}

// Release removes the entry admitted with token. It is a no-op if the entry was
// already replaced or the generation was rotated.
func (t *Tracker) Release(stamp, recordID, key, token string) {
	t.mu.LockDetached(context.Background())
	defer t.mu.Unlock()

	op, ok := t.stacks[stamp][recordID]
	if !ok {
		return
	}

	e := op.find(key)
	if e == nil || e.token != token {
		return
	}

	if e.replacing {
		e.released = true

		return
	}

	op.remove(e)
	t.dropIfEmpty(stamp, op)
}

// Rotate starts a new generation and forgets every tracked operation. It
// returns the previous stamp and the operations it dropped, read under the
// same lock so no admission slips between them. Without force a tracker with
// operations is left untouched and ok is false.
func (t *Tracker) Rotate(force bool) (previous string, dropped []Operation, ok bool) {
	t.mu.LockDetached(context.Background())
	defer t.mu.Unlock()

	dropped = t.pending()
	if len(dropped) > 0 && !force {
		return t.stamp, dropped, false
	}

	previous = t.stamp
	t.stamp = uuid.NewString()
	t.stacks = map[string]map[string]*operation{t.stamp: {}}

	return previous, dropped, true
}

// Pending lists the operations of the current generation.
func (t *Tracker) Pending() []Operation {
	t.mu.LockDetached(context.Background())
	defer t.mu.Unlock()

	return t.pending()
}

func (t *Tracker) pending() []Operation {
	var out []Operation

	for _, op := range t.stacks[t.stamp] {
		for _, e := range op.entries {
			out = append(out, Operation{
				RecordID: op.recordID,
				Key:      e.key,
				Scope:    e.path,
				ChildID:  e.childID,
				Mutation: e.mutation,
			})
		}
	}

	return out
}

// Lookup returns the operation tracked under a mapped scope key.
func (t *Tracker) Lookup(recordID, key string) (Operation, bool) {
	for _, op := range t.Pending() {
		if op.RecordID == recordID && op.Key == key {
			return op, true
		}
	}

	return Operation{}, false
}

// HasRecord reports whether any operation is tracked for the record.
func (t *Tracker) HasRecord(recordID string) bool {
	t.mu.LockDetached(context.Background())
	defer t.mu.Unlock()

	op, ok := t.stacks[t.stamp][recordID]

	return ok && len(op.entries) > 0
}
