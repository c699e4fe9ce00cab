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

// Package pipeline runs builds through a fixed table of states.
//
// A worker is configured once with its states, grouped into flows, and compiles
// them into a looplab/fsm event table. Every build gets its own machine and a
// driver goroutine that runs the callback of the current state, waits for the
// callback to advance, and fires the matching event. Builds never time out; they
// end when a state without a successor advances, or when a failure reaches a
// state without a fail target.
package pipeline

import (
	"fmt"
	"slices"
)

// Flow names a directed group of states.
type Flow string

const (
	FlowSuccess Flow = "success"
	FlowFailure Flow = "failure"
	FlowCancel  Flow = "cancel"
)

const (
	EventNext   = "next"
	EventFail   = "fail"
	EventCancel = "cancel"
)

// State is one row of the state table.
type State[A any] struct {
	Name string
	Flow Flow
	// Prev documents the expected predecessor and is checked by Validate only.
	Prev     string
	Next     string
	Fail     string
	Callback Callback[A]
}

// Config describes a worker.
type Config[A any] struct {
	// Name labels logs and metrics.
	Name   string
	States []State[A]
	// Entry is the first state of every build.
	Entry string
	// CancelEntry is where an abort jumps to.
	CancelEntry string
	// Interruptible lists the states an abort may leave. Empty means every state
	// outside the cancel flow.
	Interruptible []string
	// OnEnd runs once per build after its last state, before Done closes.
	// It sees every ending, including dead ends and recovered panics.
	OnEnd func(b *Build[A], outcome Outcome)
}

// Validate checks the state table for dangling references.
func (c Config[A]) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("worker name is empty")
	}

	known := make(map[string]State[A], len(c.States))

	for _, st := range c.States {
		if st.Name == "" {
			return fmt.Errorf("%s: state without name", c.Name)
		}

		if _, dup := known[st.Name]; dup {
			return fmt.Errorf("%s: duplicate state %q", c.Name, st.Name)
		}

		if st.Callback == nil {
			return fmt.Errorf("%s: state %q has no callback", c.Name, st.Name)
		}

		if st.Next == st.Name || st.Fail == st.Name {
			return fmt.Errorf("%s: state %q loops onto itself", c.Name, st.Name)
		}

		known[st.Name] = st
	}

	for _, st := range c.States {
		for _, ref := range []string{st.Prev, st.Next, st.Fail} {
			if ref == "" {
				continue
			}

			if _, ok := known[ref]; !ok {
				return fmt.Errorf("%s: state %q references unknown state %q", c.Name, st.Name, ref)
			}
		}

		if st.Prev != "" {
			prev := known[st.Prev]
			if prev.Next != st.Name && prev.Fail != st.Name {
				return fmt.Errorf("%s: state %q does not follow %q", c.Name, st.Name, st.Prev)
			}
		}
	}

	if _, ok := known[c.Entry]; !ok {
		return fmt.Errorf("%s: unknown entry state %q", c.Name, c.Entry)
	}

	cancelEntry, ok := known[c.CancelEntry]
	if !ok {
		return fmt.Errorf("%s: unknown cancel entry state %q", c.Name, c.CancelEntry)
	}

	if cancelEntry.Flow != FlowCancel {
		return fmt.Errorf("%s: cancel entry %q is not in the cancel flow", c.Name, c.CancelEntry)
	}

	for _, name := range c.Interruptible {
		st, ok := known[name]
		if !ok {
			return fmt.Errorf("%s: unknown interruptible state %q", c.Name, name)
		}

		if st.Flow == FlowCancel {
			return fmt.Errorf("%s: cancel flow state %q cannot be interrupted", c.Name, name)
		}
	}

	return nil
}

func (c Config[A]) interruptible() []string {
	if len(c.Interruptible) > 0 {
		return slices.Clone(c.Interruptible)
	}

	var out []string

	for _, st := range c.States {
		if st.Flow != FlowCancel {
			out = append(out, st.Name)
		}
	}

	return out
}
