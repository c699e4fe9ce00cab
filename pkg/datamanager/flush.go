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

	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// FlushOptions control FlushAll.
type FlushOptions struct {
	// CancelAllPendingOperations allows the flush to cancel tracked operations.
	// Without it a flush with pending operations is denied.
	CancelAllPendingOperations bool
}

// FlushAll discards every record and returns their committed values in
// insertion order. Pending operations are cancelled first: kinds configured to
// maintain their network call are only detached, everything else is aborted.
func (m *Manager) FlushAll(ctx context.Context, opts FlushOptions) ([]any, error) {
	// operations admitted after the rotation belong to the next generation
	_, pending, ok := m.tracker.Rotate(opts.CancelAllPendingOperations)
	if !ok {
		return nil, fmt.Errorf("%w: %d operations", standarderrors.ErrFlushDenied, len(pending))
	}

	var errs []error

	for _, op := range pending {
		worker, err := m.worker(op.Mutation)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if _, err := worker.Cancel(ctx, op.RecordID, op.Key, false, m.cfg.MaintainNetwork(op.Mutation)); err != nil {
			errs = append(errs, err)
		}
	}

	flushed := m.store.Flush()

	values := make([]any, 0, len(flushed))
	for _, rec := range flushed {
		values = append(values, rec.Committed)
	}

	if m.persist != nil {
		if err := m.persist.DropCollection(ctx, m.cfg.Collection); err != nil {
			errs = append(errs, m.persistenceFailed("dropping", err))
		} else if err := m.persist.CreateCollection(ctx, m.cfg.Collection); err != nil {
			errs = append(errs, m.persistenceFailed("recreating", err))
		}
	}

	metrics.SetRecords(0)
	m.logger.Infof("Flushed %d records, cancelled %d pending operations", len(values), len(pending))

	return values, errors.Join(errs...)
}

// FlushScoped fully cancels the operations tracked at or below a scope of a
// record. A non-empty childID limits it to that child. Committed data is left
// alone. It reports whether anything was cancelled.
func (m *Manager) FlushScoped(ctx context.Context, recordID, rawScope, childID string) (bool, error) {
	path, err := m.cfg.Syntax.Parse(rawScope)
	if err != nil {
		return false, fmt.Errorf("%w: %w", standarderrors.ErrRequestConstruction, err)
	}

	cancelled := 0

	for _, op := range m.tracker.Pending() {
		if op.RecordID != recordID || !(path.Equal(op.Scope) || path.IsAncestorOf(op.Scope)) {
			continue
		}

		if childID != "" && op.ChildID != childID {
			continue
		}

		worker, err := m.worker(op.Mutation)
		if err != nil {
			return cancelled > 0, err
		}

		n, err := worker.Cancel(ctx, op.RecordID, op.Key, false, false)
		cancelled += n

		if err != nil {
			return cancelled > 0, err
		}
	}

	return cancelled > 0, nil
}
