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

package scope

// Indices are the ordered array positions of a mutation, outermost first.
// Every walk works on its own Queue, so an Indices value is never consumed.
type Indices []int

// Clone returns an independent copy.
func (ix Indices) Clone() Indices {
	if ix == nil {
		return nil
	}

	out := make(Indices, len(ix))
	copy(out, ix)

	return out
}

// Queue returns a fresh FIFO over the indices.
func (ix Indices) Queue() *Queue {
	return &Queue{items: ix.Clone()}
}

// Queue is a FIFO cursor over Indices.
type Queue struct {
	items Indices
}

// Next dequeues the next index.
func (q *Queue) Next() (int, bool) {
	if q == nil || len(q.items) == 0 {
		return 0, false
	}

	i := q.items[0]
	q.items = q.items[1:]

	return i, true
}

// Len is the number of indices left.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}

	return len(q.items)
}
