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

package merge_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/scopesync/pkg/merge"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
)

var _ = Describe("Merge", func() {
	var target map[string]any

	BeforeEach(func() {
		target = map[string]any{
			"name":    "press",
			"profile": map[string]any{"city": "Aachen", "zip": "52062"},
			"items":   []any{"a", "b", "c", "d"},
		}
	})

	It("merges nested maps key by key", func() {
		out := merge.Merge(target, map[string]any{"profile": map[string]any{"city": "Köln"}}, nil)
		Expect(out).To(Equal(map[string]any{
			"name":    "press",
			"profile": map[string]any{"city": "Köln", "zip": "52062"},
			"items":   []any{"a", "b", "c", "d"},
		}))
	})

	It("is idempotent for the same source and indices", func() {
		source := map[string]any{
			"profile": map[string]any{"city": "Köln", "tags": []any{"x"}},
			"items":   []any{nil, "B"},
		}

		once := merge.Merge(merge.Clone(target), source, scope.Indices{1})
		twice := merge.Merge(merge.Merge(merge.Clone(target), source, scope.Indices{1}), source, scope.Indices{1})
		Expect(twice).To(Equal(once))
	})

	It("replaces arrays wholesale without ordered indices", func() {
		out := merge.Merge(target, map[string]any{"items": []any{"z"}}, nil)
		Expect(out.(map[string]any)["items"]).To(Equal([]any{"z"}))
	})

	It("merges only the indexed array element", func() {
		out := merge.Merge(target, map[string]any{"items": []any{nil, nil, "C"}}, scope.Indices{2})
		Expect(out.(map[string]any)["items"]).To(Equal([]any{"a", "b", "C", "d"}))
	})

	It("splices exactly the indexed element when the source holds nil there", func() {
		out := merge.Merge(target, map[string]any{"items": []any{nil, nil}}, scope.Indices{1})
		Expect(out.(map[string]any)["items"]).To(Equal([]any{"a", "c", "d"}))

		out = merge.Merge(out, map[string]any{"items": []any{nil, nil, nil}}, scope.Indices{2})
		Expect(out.(map[string]any)["items"]).To(Equal([]any{"a", "c"}))
	})

	It("recurses into indexed elements", func() {
		tree := map[string]any{"rows": []any{
			map[string]any{"id": 1, "cells": []any{"x", "y"}},
			map[string]any{"id": 2, "cells": []any{"z"}},
		}}
		source := map[string]any{"rows": []any{nil, map[string]any{"cells": []any{"Z"}}}}

		out := merge.Merge(tree, source, scope.Indices{1, 0})
		Expect(out).To(Equal(map[string]any{"rows": []any{
			map[string]any{"id": 1, "cells": []any{"x", "y"}},
			map[string]any{"id": 2, "cells": []any{"Z"}},
		}}))
	})

	It("works with partials built by SpawnPartial", func() {
		syntax := scope.DefaultSyntax()
		partial, err := scope.SpawnPartial(syntax.MustParse("items.[]"), "B", nil, scope.Indices{1})
		Expect(err).NotTo(HaveOccurred())

		out := merge.Merge(target, partial, scope.Indices{1})
		Expect(out.(map[string]any)["items"]).To(Equal([]any{"a", "B", "c", "d"}))
	})

	It("does not alias source values into the target", func() {
		nested := map[string]any{"deep": map[string]any{"v": 1}}
		out := merge.Merge(map[string]any{}, map[string]any{"n": nested}, nil)

		nested["deep"].(map[string]any)["v"] = 2
		Expect(out).To(Equal(map[string]any{"n": map[string]any{"deep": map[string]any{"v": 1}}}))
	})

	It("replaces scalars and mismatched types", func() {
		Expect(merge.Merge("old", "new", nil)).To(Equal("new"))
		Expect(merge.Merge("old", map[string]any{"a": 1}, nil)).To(Equal(map[string]any{"a": 1}))
		Expect(merge.Merge(nil, []any{1}, nil)).To(Equal([]any{1}))
	})
})

var _ = Describe("Equal", func() {
	It("ignores map key order", func() {
		a := map[string]any{"x": 1, "y": []any{"a"}}
		b := map[string]any{"y": []any{"a"}, "x": 1}
		Expect(merge.Equal(a, b)).To(BeTrue())
		Expect(merge.Equal(a, map[string]any{"x": 2})).To(BeFalse())
	})

	It("never treats unencodable values as equal", func() {
		Expect(merge.Equal(func() {}, func() {})).To(BeFalse())
	})
})

var _ = Describe("Clone", func() {
	It("copies nested maps and slices", func() {
		original := map[string]any{
			"profile": map[string]any{"age": 1},
			"items":   []any{"a", map[string]any{"id": 2}},
		}

		copied := merge.Clone(original).(map[string]any)
		Expect(copied).To(Equal(original))

		copied["profile"].(map[string]any)["age"] = 9
		copied["items"].([]any)[1].(map[string]any)["id"] = 7

		Expect(original["profile"]).To(Equal(map[string]any{"age": 1}))
		Expect(original["items"]).To(Equal([]any{"a", map[string]any{"id": 2}}))
	})

	It("returns scalars and nil unchanged", func() {
		Expect(merge.Clone(nil)).To(BeNil())
		Expect(merge.Clone("pump")).To(Equal("pump"))
		Expect(merge.Clone(3.5)).To(Equal(3.5))
	})
})
