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

package observer

import (
	"context"
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

type attached struct {
	view View
}

type node struct {
	children map[scope.Segment]*node
	views    []*attached
	network  Network
}

func newNode() *node {
	return &node{children: make(map[scope.Segment]*node)}
}

// Tree holds views and network collaborators keyed by scope.
// Nodes are created when something is attached and never on lookups.
type Tree struct {
	mu   sync.RWMutex
	root *node
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{root: newNode()}
}

func (t *Tree) ensure(path scope.Path) *node {
	n := t.root

	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			child = newNode()
			n.children[seg] = child
		}

		n = child
	}

	return n
}

// Attach registers a view on a scope and returns its detach function.
func (t *Tree) Attach(path scope.Path, v View) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := &attached{view: v}
	n := t.ensure(path)
	n.views = append(n.views, a)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		for i, existing := range n.views {
			if existing == a {
				n.views = append(n.views[:i], n.views[i+1:]...)

				return
			}
		}
	}
}

// SetNetwork registers the network collaborator of a scope and everything below
// it that has none of its own.
func (t *Tree) SetNetwork(path scope.Path, network Network) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(path).network = network
}

// Network returns the collaborator of the nearest scope at or above path.
func (t *Tree) Network(path scope.Path) (Network, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	found := t.root.network
	n := t.root

	for _, seg := range path {
		child, ok := n.children[seg]
		if !ok {
			break
		}

		n = child
		if n.network != nil {
			found = n.network
		}
	}

	return found, found != nil
}

// Views returns the views concerned by a change at path: those of every
// ancestor from the root down, those of path itself, then those of its
// descendants depth first in segment order.
func (t *Tree) Views(path scope.Path) []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []View

	n := t.root
	for _, seg := range path {
		out = appendViews(out, n)

		child, ok := n.children[seg]
		if !ok {
			return out
		}

		n = child
	}

	return collect(out, n)
}

func appendViews(out []View, n *node) []View {
	for _, a := range n.views {
		out = append(out, a.view)
	}

	return out
}

func collect(out []View, n *node) []View {
	out = appendViews(out, n)

	segments := make([]scope.Segment, 0, len(n.children))
	for seg := range n.children {
		segments = append(segments, seg)
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Kind != segments[j].Kind {
			return segments[i].Kind < segments[j].Kind
		}

		return segments[i].Name < segments[j].Name
	})

	for _, seg := range segments {
		out = collect(out, n.children[seg])
	}

	return out
}

// NotifyMutate calls OnMutate on every concerned view, one after another.
func (t *Tree) NotifyMutate(ctx context.Context, evt Event) error {
	return fanOut(ctx, t.Views(evt.Scope), func(v View, done func()) { v.OnMutate(ctx, evt, done) })
}

// NotifyCommit calls OnCommit on every concerned view, one after another.
func (t *Tree) NotifyCommit(ctx context.Context, evt Event) error {
	return fanOut(ctx, t.Views(evt.Scope), func(v View, done func()) { v.OnCommit(ctx, evt, done) })
}

// NotifyCancel calls OnCancel on every concerned view, one after another.
func (t *Tree) NotifyCancel(ctx context.Context, evt Event) error {
	return fanOut(ctx, t.Views(evt.Scope), func(v View, done func()) { v.OnCancel(ctx, evt, done) })
}

// NotifyError hands retry to every concerned view and reports how many were
// told. The first answer wins.
func (t *Tree) NotifyError(ctx context.Context, evt Event, retry Retry) int {
	var once sync.Once

	answer := RetryFunc(func(r bool) {
		once.Do(func() { retry.Retry(r) })
	})

	views := t.Views(evt.Scope)
	for _, v := range views {
		v.OnError(ctx, evt, answer)
	}

	return len(views)
}

// fanOut waits for each view to call done before moving to the next one.
func fanOut(ctx context.Context, views []View, call func(View, func())) error {
	for _, v := range views {
		finished := make(chan struct{})

		var once sync.Once

		call(v, func() { once.Do(func() { close(finished) }) })

		select {
		case <-finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
