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

package mutation

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// commitLoad replaces the loaded scope. A collection load seeds one record per
// list item, keyed by the id field or a fresh uuid.
func commitLoad(w *Worker, a Args) ([]string, any, any, error) {
	data := a.Processed.Data

	if !a.Collection {
		old, err := w.deps.Store.CommitReplace(a.RecordID, a.Scope, data, a.Indices)
		if err != nil {
			return nil, nil, nil, err
		}

		return []string{a.RecordID}, data, old, nil
	}

	var items []any

	switch v := data.(type) {
	case nil:
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, nil, nil, fmt.Errorf("%w: collection load returned %T instead of a list", standarderrors.ErrScopeConflict, data)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := RecordIDOf(item, w.deps.IDField)
		w.deps.Store.Overwrite(id, item)
		ids = append(ids, id)
	}

	return ids, data, nil, nil
}

// RecordIDOf reads the id field of a record value. Values without a usable id
// get a fresh uuid.
func RecordIDOf(item any, field string) string {
	object, ok := item.(map[string]any)
	if ok {
		switch id := object[field].(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
	}

	return uuid.NewString()
}

func commitUpload(w *Worker, a Args) ([]string, any, any, error) {
	old, err := w.deps.Store.CommitMerge(a.RecordID, a.Scope, a.Processed.Data, a.Indices, a.Mutation == record.MutationUploadNew)
	if err != nil {
		return nil, nil, nil, err
	}

	return []string{a.RecordID}, a.Processed.Data, old, nil
}

func commitUpdate(w *Worker, a Args) ([]string, any, any, error) {
	old, err := w.deps.Store.CommitMerge(a.RecordID, a.Scope, a.Processed.Data, a.Indices, false)
	if err != nil {
		return nil, nil, nil, err
	}

	return []string{a.RecordID}, a.Processed.Data, old, nil
}

// commitDelete removes the scope, or the whole record for delete_all.
func commitDelete(w *Worker, a Args) ([]string, any, any, error) {
	if a.Mutation == record.MutationDeleteAll {
		rec, ok := w.deps.Store.Remove(a.RecordID)
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %s", standarderrors.ErrRecordNotFound, a.RecordID)
		}

		return []string{a.RecordID}, nil, rec.Committed, nil
	}

	removed, err := w.deps.Store.CommitRemove(a.RecordID, a.Scope, a.Indices)
	if err != nil {
		return nil, nil, nil, err
	}

	return []string{a.RecordID}, nil, removed, nil
}
