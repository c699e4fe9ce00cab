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

// Package fakes provides scriptable collaborators for tests.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

// Journal records hook calls of several views in order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(entry string) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
}

// Entries returns "view:hook" strings in call order.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...)
}

// Call is one recorded view hook.
type Call struct {
	Hook  string
	Event observer.Event
}

// View records its hooks. Hooks listed in Hold keep their done callback until
// Release is called; all others complete at once. ErrorAnswer, when set, answers
// every OnError directly.
type View struct {
	Name        string
	Journal     *Journal
	Hold        map[string]bool
	ErrorAnswer *bool

	mu      sync.Mutex
	calls   []Call
	pending []func()
	retries []observer.Retry
}

func (v *View) record(hook string, evt observer.Event) {
	v.mu.Lock()
	v.calls = append(v.calls, Call{Hook: hook, Event: evt})
	v.mu.Unlock()

	v.Journal.add(v.Name + ":" + hook)
}

func (v *View) complete(hook string, done func()) {
	v.mu.Lock()
	hold := v.Hold[hook]
	if hold {
		v.pending = append(v.pending, done)
	}
	v.mu.Unlock()

	if !hold {
		done()
	}
}

func (v *View) OnMutate(_ context.Context, evt observer.Event, done func()) {
	v.record("onMutate", evt)
	v.complete("onMutate", done)
}

func (v *View) OnCommit(_ context.Context, evt observer.Event, done func()) {
	v.record("onCommit", evt)
	v.complete("onCommit", done)
}

func (v *View) OnCancel(_ context.Context, evt observer.Event, done func()) {
	v.record("onCancel", evt)
	v.complete("onCancel", done)
}

func (v *View) OnError(_ context.Context, evt observer.Event, retry observer.Retry) {
	v.record("onError", evt)

	v.mu.Lock()
	v.retries = append(v.retries, retry)
	answer := v.ErrorAnswer
	v.mu.Unlock()

	if answer != nil {
		retry.Retry(*answer)
	}
}

// Release completes every held hook.
func (v *View) Release() {
	v.mu.Lock()
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, done := range pending {
		done()
	}
}

// Pending is the number of held hooks.
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.pending)
}

// Calls returns the recorded calls of one hook, or all calls if hook is empty.
func (v *View) Calls(hook string) []Call {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []Call

	for _, c := range v.calls {
		if hook == "" || c.Hook == hook {
			out = append(out, c)
		}
	}

	return out
}

// Hooks returns the hook names in call order.
func (v *View) Hooks() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, 0, len(v.calls))
	for _, c := range v.calls {
		out = append(out, c.Hook)
	}

	return out
}

// LastRetry returns the retry handle of the latest OnError.
func (v *View) LastRetry() (observer.Retry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.retries) == 0 {
		return nil, false
	}

	return v.retries[len(v.retries)-1], true
}

// Network builds REST-style requests: GET for loads, POST for upload_new,
// PUT for uploads, PATCH for updates and DELETE for deletes.
type Network struct {
	// ReqBodyErr fails GetReqBody.
	ReqBodyErr error
	// PostProcess replaces the default shaping, which takes the response data or
	// falls back to the new data.
	PostProcess func(resp *transport.Response, newData any) (observer.Processed, error)

	mu        sync.Mutex
	addresses []observer.Address
}

// MethodFor maps a mutation to its HTTP method.
func MethodFor(m record.Mutation) string {
	switch m {
	case record.MutationLoad:
		return "GET"
	case record.MutationUploadNew:
		return "POST"
	case record.MutationUpload:
		return "PUT"
	case record.MutationUpdate:
		return "PATCH"
	default:
		return "DELETE"
	}
}

func (n *Network) GetReqBody(_ context.Context, addr observer.Address, newData any, mutation record.Mutation, _ any) (transport.Options, error) {
	n.mu.Lock()
	n.addresses = append(n.addresses, addr)
	n.mu.Unlock()

	if n.ReqBodyErr != nil {
		return transport.Options{}, n.ReqBodyErr
	}

	opts := transport.Options{
		Method: MethodFor(mutation),
		URL:    "/records/" + addr.RecordID,
		Query:  map[string]string{"scope": addr.Path},
	}

	if mutation != record.MutationLoad && mutation != record.MutationDelete && mutation != record.MutationDeleteAll {
		opts.Body = newData
	}

	return opts, nil
}

func (n *Network) OnDataLoadPostProcess(_ context.Context, _ observer.Address, resp *transport.Response, newData, _ any, _ record.Mutation, _, _ string) (observer.Processed, error) {
	if n.PostProcess != nil {
		return n.PostProcess(resp, newData)
	}

	if resp != nil && resp.Data != nil {
		return observer.Processed{Data: resp.Data, Response: resp}, nil
	}

	return observer.Processed{Data: newData, Response: resp}, nil
}

func (n *Network) OnDataLoadError(_ context.Context, _ observer.Address, resp *transport.Response, _, _ any, _ record.Mutation) any {
	if resp == nil {
		return map[string]any{"status": 0}
	}

	return map[string]any{"status": resp.StatusCode, "body": resp.Data}
}

// Addresses returns every address a request body was built for.
func (n *Network) Addresses() []observer.Address {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]observer.Address(nil), n.addresses...)
}

// Sent is one request handed to the Requester.
type Sent struct {
	Options   transport.Options
	RequestID string

	owner   *Requester
	onDone  transport.DoneFunc
	onError transport.ErrorFunc
}

// Succeed answers the request with status 200 and data.
func (s *Sent) Succeed(data any) {
	if s.owner.finish(s) {
		s.onDone(&transport.Response{StatusCode: 200, Data: data})
	}
}

// Fail answers the request with an error status.
func (s *Sent) Fail(status int, data any) {
	if s.owner.finish(s) {
		s.onError(&transport.Response{StatusCode: status, Data: data},
			fmt.Errorf("%w: status %d", standarderrors.ErrNetwork, status))
	}
}

// Requester is a manually answered transport. With Auto set, every request is
// answered right away with Auto's result.
type Requester struct {
	Auto func(opts transport.Options) (data any, status int)

	mu      sync.Mutex
	sent    []*Sent
	open    map[*Sent]bool
	aborted []string
}

func (r *Requester) Send(opts transport.Options, onDone transport.DoneFunc, onError transport.ErrorFunc, requestID string) {
	s := &Sent{Options: opts, RequestID: requestID, owner: r, onDone: onDone, onError: onError}

	r.mu.Lock()
	if r.open == nil {
		r.open = make(map[*Sent]bool)
	}

	r.sent = append(r.sent, s)
	r.open[s] = true
	auto := r.Auto
	r.mu.Unlock()

	if auto == nil {
		return
	}

	go func() {
		data, status := auto(opts)
		if status >= 200 && status < 300 {
			s.Succeed(data)
		} else {
			s.Fail(status, data)
		}
	}()
}

func (r *Requester) Abort(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.aborted = append(r.aborted, requestID)

	for s := range r.open {
		if s.RequestID == requestID {
			delete(r.open, s)
		}
	}
}

func (r *Requester) finish(s *Sent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open[s] {
		return false
	}

	delete(r.open, s)

	return true
}

// Sent returns every request in send order.
func (r *Requester) Sent() []*Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Sent(nil), r.sent...)
}

// Last returns the latest request.
func (r *Requester) Last() *Sent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sent) == 0 {
		return nil
	}

	return r.sent[len(r.sent)-1]
}

// Aborted returns the aborted request ids.
func (r *Requester) Aborted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.aborted...)
}
