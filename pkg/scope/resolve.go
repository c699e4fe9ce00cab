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

import (
	"fmt"

	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// Resolve walks path against model and returns the addressed value.
//
// A Field segment indexes a map. An ArrayElement segment dequeues the next
// ordered index; without one the whole array is returned when the segment is the
// leaf. An ArrayType segment falls back to element 0 when no index is left.
// Whenever a step cannot be taken the second return value is false.
//
// With stopBeforeLeaf the leaf segment is not applied, which yields the
// container the leaf lives in.
func Resolve(path Path, model any, indices Indices, stopBeforeLeaf bool) (any, bool) {
	segments := path
	if stopBeforeLeaf && len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}

	queue := indices.Queue()
	current := model

	for i, seg := range segments {
		switch seg.Kind {
		case Field:
			object, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}

			value, ok := object[seg.Name]
			if !ok {
				return nil, false
			}

			current = value
		case ArrayElement, ArrayType:
			array, ok := current.([]any)
			if !ok {
				return nil, false
			}

			idx, ok := queue.Next()
			if !ok {
				if seg.Kind == ArrayElement {
					if i == len(segments)-1 {
						return array, true
					}

					return nil, false
				}

				idx = 0
			}

			if idx < 0 || idx >= len(array) {
				return nil, false
			}

			current = array[idx]
		}
	}

	return current, true
}

// SpawnPartial writes value at path into target and returns the resulting root.
//
// Missing containers are instantiated from the kind of the segment that indexes
// them: maps for Field segments, slices for array segments. Slices are padded
// with nil up to the addressed index, so a fresh skeleton only holds value.
// Existing containers in target are reused and written in place; pass an empty
// map or nil to get a standalone partial.
//
// An ArrayElement leaf without an index addresses the array itself, so value
// replaces it. An ArrayElement segment without an index before the leaf cannot
// be placed and returns ErrScopeConflict.
func SpawnPartial(path Path, value any, target any, indices Indices) (any, error) {
	return spawn(path, value, target, indices.Queue())
}

func spawn(path Path, value any, container any, queue *Queue) (any, error) {
	if len(path) == 0 {
		return value, nil
	}

	seg, rest := path[0], path[1:]

	if seg.Kind == Field {
		object, ok := container.(map[string]any)
		if !ok || object == nil {
			object = make(map[string]any)
		}

		child, err := spawn(rest, value, object[seg.Name], queue)
		if err != nil {
			return nil, err
		}

		object[seg.Name] = child

		return object, nil
	}

	idx, ok := queue.Next()
	if !ok {
		switch {
		case seg.Kind == ArrayType:
			idx = 0
		case len(rest) == 0:
			return value, nil
		default:
			return nil, fmt.Errorf("%w: array segment without ordered index", standarderrors.ErrScopeConflict)
		}
	}

	if idx < 0 {
		return nil, fmt.Errorf("%w: negative array index %d", standarderrors.ErrScopeConflict, idx)
	}

	array, _ := container.([]any)
	for len(array) <= idx {
		array = append(array, nil)
	}

	child, err := spawn(rest, value, array[idx], queue)
	if err != nil {
		return nil, err
	}

	array[idx] = child

	return array, nil
}
