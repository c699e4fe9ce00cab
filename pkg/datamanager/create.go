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

package datamanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/scopesync/pkg/mutation"
	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// Create adds a record locally without a network call. The id defaults to the
// configured id field of the data, or a fresh uuid. It is denied while any
// operation is tracked for the id or when the record exists.
func (m *Manager) Create(ctx context.Context, req Request) *mutation.Pending {
	id := req.RecordID
	if id == "" {
		id = mutation.RecordIDOf(req.Data, m.cfg.IDField)
	}

	if m.tracker.HasRecord(id) {
		err := fmt.Errorf("%w: %s", standarderrors.ErrRecordBusy, id)

		return denied(id, err.Error(), err)
	}

	if err := m.store.Create(id, req.Data); err != nil {
		return denied(id, err.Error(), err)
	}

	m.persistRecords(ctx, []string{id})

	value, _ := m.store.Committed(id)
	p := mutation.NewPending()

	go func() {
		if !req.SkipUI {
			evt := observer.Event{
				Mutation:  record.MutationCreate,
				NewData:   value,
				RecordIDs: []string{id},
				Scope:     scope.Path{},
				ChildID:   req.ChildID,
			}
			if err := m.views.NotifyCommit(ctx, evt); err != nil {
				m.logger.Warnf("onCommit notification of create on %s failed: %v", id, err)
			}
		}

		m.watchers.Notify(record.MutationCreate, value, nil)

		p.Resolve(mutation.Result{
			Status:   mutation.StatusInvoked,
			State:    record.StateComplete,
			Msg:      fmt.Sprintf("create on %s completed", id),
			RecordID: id,
			Data:     value,
		}, nil)
	}()

	return p
}

// BulkCreate creates every item and waits for all of them. It returns the ids
// that were created and the joined errors of the ones that were not.
func (m *Manager) BulkCreate(ctx context.Context, items []any, skipUI bool) ([]string, error) {
	pendings := make([]*mutation.Pending, 0, len(items))
	for _, item := range items {
		pendings = append(pendings, m.Create(ctx, Request{Data: item, SkipUI: skipUI}))
	}

	var (
		ids  []string
		errs []error
	)

	for _, p := range pendings {
		res, err := p.Wait(ctx)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		ids = append(ids, res.RecordID)
	}

	return ids, errors.Join(errs...)
}
