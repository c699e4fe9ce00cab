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

// Package merge deep-merges partial values into committed record trees.
package merge

import (
	"sort"

	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

// Merge folds source into target and returns the resulting value.
//
// Maps are merged key by key and untouched subtrees are skipped when their
// fingerprints already match. A source slice replaces the target slice unless an
// ordered index is left in the queue; with an index only that element is merged,
// and a nil source element at that index splices the element out of the target.
// Everything else is copied.
//
// Target maps and slices are modified in place. Values taken from source are
// cloned, so source stays independent of the result.
func Merge(target, source any, indices scope.Indices) any {
	return mergeValue(target, source, indices.Queue())
}

func mergeValue(target, source any, queue *scope.Queue) any {
	switch src := source.(type) {
	case map[string]any:
		dst, ok := target.(map[string]any)
		if !ok || dst == nil {
			return Clone(src)
		}

		mergeMap(dst, src, queue)

		return dst
	case []any:
		return mergeArray(target, src, queue)
	default:
		return Clone(source)
	}
}

func mergeMap(dst, src map[string]any, queue *scope.Queue) {
	// sorted so that the index queue is consumed deterministically
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		value := src[key]
		existing, exists := dst[key]

		switch v := value.(type) {
		case map[string]any:
			child, ok := existing.(map[string]any)
			if !exists || !ok {
				dst[key] = Clone(v)

				continue
			}

			if !Equal(child, v) {
				dst[key] = mergeValue(child, v, queue)
			}
		case []any:
			dst[key] = mergeArray(existing, v, queue)
		default:
			dst[key] = Clone(value)
		}
	}
}

func mergeArray(target any, src []any, queue *scope.Queue) any {
	idx, ok := queue.Next()
	if !ok {
		return Clone(src)
	}

	dst, _ := target.([]any)
	if idx < 0 {
		return dst
	}

	var value any
	if idx < len(src) {
		value = src[idx]
	}

	if value == nil {
		if idx >= len(dst) {
			return dst
		}

		out := make([]any, 0, len(dst)-1)
		out = append(out, dst[:idx]...)

		return append(out, dst[idx+1:]...)
	}

	for len(dst) <= idx {
		dst = append(dst, nil)
	}

	if dst[idx] != nil && Equal(dst[idx], value) {
		return dst
	}

	dst[idx] = mergeValue(dst[idx], value, queue)

	return dst
}
