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

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/standarderrors"
)

// Cancel cancels the operation tracked at a record scope. With networkOnly the
// operation keeps its network call and skips everything else. Without a tracked
// entry every worker is asked, which catches builds whose entry is already gone.
// It returns how many builds were cancelled.
func (m *Manager) Cancel(ctx context.Context, recordID, rawScope, childID string, networkOnly bool) (int, error) {
	path, err := m.cfg.Syntax.Parse(rawScope)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", standarderrors.ErrRequestConstruction, err)
	}

	key := m.cfg.Syntax.MappedKey(path, childID)

	if op, ok := m.tracker.Lookup(recordID, key); ok {
		worker, err := m.worker(op.Mutation)
		if err != nil {
			return 0, err
		}

		return worker.Cancel(ctx, recordID, key, false, networkOnly)
	}

	total := 0

	for _, name := range workerNames {
		n, err := m.workers[name].Cancel(ctx, recordID, key, false, networkOnly)
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// CancelAll cancels every running build of every worker.
func (m *Manager) CancelAll(ctx context.Context, networkOnly bool) (int, error) {
	counts := make([]int, len(workerNames))

	g, gctx := errgroup.WithContext(ctx)

	for i, name := range workerNames {
		worker := m.workers[name]

		g.Go(func() error {
			n, err := worker.Cancel(gctx, "", "", true, networkOnly)
			counts[i] = n

			return err
		})
	}

	err := g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}

	return total, err
}

// CancelOperation fully cancels the running operation of a mapped scope key. The
// conflict tracker calls it when the cancel policy replaces an operation.
func (m *Manager) CancelOperation(ctx context.Context, kind record.Mutation, recordID, key string) error {
	worker, err := m.worker(kind)
	if err != nil {
		return err
	}

	n, err := worker.Cancel(ctx, recordID, key, false, false)
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("no running %s build for %s/%s", kind, recordID, key)
	}

	return nil
}

// Answer resolves a failed operation waiting for a retry decision. It reports
// whether such an operation existed.
func (m *Manager) Answer(recordID, rawScope, childID string, retry bool) bool {
	path, err := m.cfg.Syntax.Parse(rawScope)
	if err != nil {
		return false
	}

	key := m.cfg.Syntax.MappedKey(path, childID)

	for _, name := range workerNames {
		if m.workers[name].Answer(recordID, key, retry) {
			return true
		}
	}

	return false
}
