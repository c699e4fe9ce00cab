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

	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence"
	"github.com/united-manufacturing-hub/scopesync/pkg/sentry"
)

// persistRecords mirrors the committed value of the given records into the
// persistence store. Records that no longer exist are deleted.
func (m *Manager) persistRecords(ctx context.Context, recordIDs []string) {
	defer metrics.SetRecords(m.store.Len())

	if m.persist == nil || len(recordIDs) == 0 {
		return
	}

	// a cancelled build context must not lose a commit that already happened
	ctx = context.WithoutCancel(ctx)

	docs := make([]persistence.Document, 0, len(recordIDs))

	for _, id := range recordIDs {
		value, ok := m.store.Committed(id)
		if !ok {
			if err := m.persist.Delete(ctx, m.cfg.Collection, id); err != nil {
				m.persistenceFailed(fmt.Sprintf("deleting %s from", id), err)
			}

			continue
		}

		docs = append(docs, persistence.Document{ID: id, Value: value})
	}

	if len(docs) == 0 {
		return
	}

	if err := m.persist.PutMany(ctx, m.cfg.Collection, docs); err != nil {
		m.persistenceFailed(fmt.Sprintf("writing %d records to", len(docs)), err)
	}
}

func (m *Manager) persistenceFailed(action string, err error) error {
	err = fmt.Errorf("%s persistence collection %s: %w", action, m.cfg.Collection, err)
	metrics.IncErrorCount(metrics.ComponentPersistence, m.cfg.Collection)
	sentry.ReportIssueWithContext(err, sentry.IssueTypeWarning, m.persistLog, map[string]interface{}{
		"collection": m.cfg.Collection,
		"action":     action,
	})

	return err
}

// Hydrate loads the persisted records into the record store, overwriting
// records with the same id. It returns how many records were loaded.
func (m *Manager) Hydrate(ctx context.Context) (int, error) {
	if m.persist == nil {
		return 0, nil
	}

	docs, err := m.persist.List(ctx, m.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("listing persistence collection %s: %w", m.cfg.Collection, err)
	}

	for _, doc := range docs {
		m.store.Overwrite(doc.ID, doc.Value)
	}

	metrics.SetRecords(m.store.Len())
	m.logger.Infof("Hydrated %d records from %s", len(docs), m.cfg.Collection)

	return len(docs), nil
}
