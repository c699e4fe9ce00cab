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
	"fmt"

	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/mutation"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// Request addresses one mutation.
type Request struct {
	RecordID string
	// Scope is the raw scope string; empty means the whole record.
	Scope string
	// ChildID tells sibling list items rendered under the same scope apart.
	ChildID string
	Data    any
	Indices scope.Indices
	SkipUI  bool
	// AutoCancelOnError overrides the configured failure policy.
	AutoCancelOnError *bool
}

// Load fetches data into a scope. Without a record id the response is a
// collection and every item becomes a record.
func (m *Manager) Load(ctx context.Context, req Request) *mutation.Pending {
	collection := req.RecordID == ""
	if collection {
		req.RecordID = m.cfg.Syntax.Root
	}

	return m.run(ctx, record.MutationLoad, req, collection)
}

// Upload sends locally authored data of an existing record.
func (m *Manager) Upload(ctx context.Context, req Request) *mutation.Pending {
	return m.run(ctx, record.MutationUpload, req, false)
}

// UploadNew sends locally authored data and creates the record on success.
func (m *Manager) UploadNew(ctx context.Context, req Request) *mutation.Pending {
	return m.run(ctx, record.MutationUploadNew, req, false)
}

// Update sends a change to existing data.
func (m *Manager) Update(ctx context.Context, req Request) *mutation.Pending {
	return m.run(ctx, record.MutationUpdate, req, false)
}

// Delete removes the data at a scope, or the record for the whole-record scope.
func (m *Manager) Delete(ctx context.Context, req Request) *mutation.Pending {
	return m.run(ctx, record.MutationDelete, req, false)
}

// DeleteAll tears down the whole record. The scope is ignored.
func (m *Manager) DeleteAll(ctx context.Context, req Request) *mutation.Pending {
	req.Scope = ""
	req.ChildID = ""

	return m.run(ctx, record.MutationDeleteAll, req, false)
}

func needsRecord(kind record.Mutation) bool {
	switch kind {
	case record.MutationUpload, record.MutationUpdate, record.MutationDelete, record.MutationDeleteAll:
		return true
	default:
		return false
	}
}

func denied(recordID, msg string, err error) *mutation.Pending {
	return mutation.Resolved(mutation.Result{
		Status:   mutation.StatusDenied,
		Msg:      msg,
		RecordID: recordID,
	}, err)
}

func (m *Manager) run(ctx context.Context, kind record.Mutation, req Request, collection bool) *mutation.Pending {
	worker, err := m.worker(kind)
	if err != nil {
		return denied(req.RecordID, err.Error(), err)
	}

	path, err := m.cfg.Syntax.Parse(req.Scope)
	if err != nil {
		err = fmt.Errorf("%w: %w", standarderrors.ErrRequestConstruction, err)

		return denied(req.RecordID, err.Error(), err)
	}

	if needsRecord(kind) && !m.store.Has(req.RecordID) {
		err := fmt.Errorf("%w: %s on %s", standarderrors.ErrRecordNotFound, kind, req.RecordID)

		return denied(req.RecordID, err.Error(), err)
	}

	stamp := m.tracker.Stamp()

	decision, err := m.tracker.Admit(ctx, conflict.Request{
		Stamp:    stamp,
		RecordID: req.RecordID,
		Mutation: kind,
		Scope:    path,
		ChildID:  req.ChildID,
		Data:     req.Data,
		SkipUI:   req.SkipUI,
	})
	if err != nil {
		return denied(req.RecordID, err.Error(), err)
	}

	if !decision.Operable {
		m.logger.Debugf("Denied: %s", decision.Msg)

		return denied(req.RecordID, decision.Msg, fmt.Errorf("%w: %s", standarderrors.ErrDenied, decision.Msg))
	}

	autoCancel := m.cfg.AutoCancelOnError
	if req.AutoCancelOnError != nil {
		autoCancel = *req.AutoCancelOnError
	}

	a := mutation.Args{
		RecordID:          req.RecordID,
		Mutation:          kind,
		Scope:             path,
		Key:               decision.Key,
		ChildID:           req.ChildID,
		Data:              req.Data,
		Indices:           req.Indices.Clone(),
		SkipUI:            req.SkipUI,
		AutoCancelOnError: autoCancel,
		Collection:        collection,
		Stamp:             stamp,
		Token:             decision.Token,
	}

	if decision.Stale {
		// a flush happened while waiting; only the network call may go on
		a.NetworkOnly = true
		a.SkipUI = true
	}

	p, err := worker.Run(ctx, a)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentDataManager, m.cfg.Collection)

		if !decision.Stale {
			m.tracker.Release(stamp, a.RecordID, a.Key, a.Token)
			m.store.ClearTemp(a.RecordID, a.Key)
		}

		return denied(req.RecordID, err.Error(), err)
	}

	return p
}
