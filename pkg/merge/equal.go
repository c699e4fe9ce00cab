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

package merge

import (
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// Fingerprint hashes the canonical JSON encoding of v. Map keys are encoded in
// sorted order, so equal trees yield equal fingerprints.
func Fingerprint(v any) (uint64, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	return xxhash.Sum64(encoded), nil
}

// Equal compares two trees by fingerprint. Values that cannot be encoded are
// never equal, which makes the merge fall back to copying them.
func Equal(a, b any) bool {
	fa, err := Fingerprint(a)
	if err != nil {
		return false
	}

	fb, err := Fingerprint(b)
	if err != nil {
		return false
	}

	return fa == fb
}

// Clone deep-copies a JSON-like tree. Values deepcopy cannot handle, such as
// funcs and channels, are returned as is.
func Clone(v any) any {
	if v == nil {
		return nil
	}

	var out any
	if err := deepcopy.Copy(&out, &v); err != nil {
		return v
	}

	return out
}
