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

package record

import "fmt"

// Mutation is the kind of change an operation applies to a record.
type Mutation string

const (
	MutationCreate    Mutation = "create"
	MutationLoad      Mutation = "load"
	MutationUpload    Mutation = "upload"
	MutationUploadNew Mutation = "upload_new"
	MutationUpdate    Mutation = "update"
	MutationDelete    Mutation = "delete"
	MutationDeleteAll Mutation = "delete_all"
)

// Mutations lists every known kind.
var Mutations = []Mutation{
	MutationCreate,
	MutationLoad,
	MutationUpload,
	MutationUploadNew,
	MutationUpdate,
	MutationDelete,
	MutationDeleteAll,
}

// ParseMutation validates a mutation name.
func ParseMutation(s string) (Mutation, error) {
	for _, m := range Mutations {
		if string(m) == s {
			return m, nil
		}
	}

	return "", fmt.Errorf("unknown mutation %q", s)
}

// ExpandsScope reports whether the mutation may introduce new data and thus new
// attached views. Update and delete only touch what already exists.
func (m Mutation) ExpandsScope() bool {
	switch m {
	case MutationLoad, MutationUpload, MutationUploadNew, MutationCreate:
		return true
	default:
		return false
	}
}

// State is the lifecycle position of an in-flight operation.
type State string

const (
	StateMutate   State = "onMutate"
	StateCommit   State = "onCommit"
	StateComplete State = "complete"
	StateError    State = "onError"
	StateCancel   State = "onCancel"
)

// IsTerminal reports whether no further lifecycle transition follows.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateCancel
}
