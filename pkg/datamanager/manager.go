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

// Package datamanager is the public face of the sync engine.
//
// A Manager owns the record store, the conflict tracker and one worker per
// mutation family. Every mutation is admitted by the tracker first and then
// handed to its worker; the returned Pending settles when the build ends.
package datamanager

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/config"
	"github.com/united-manufacturing-hub/scopesync/pkg/conflict"
	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
	"github.com/united-manufacturing-hub/scopesync/pkg/logger"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/mutation"
	"github.com/united-manufacturing-hub/scopesync/pkg/observer"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence"
	"github.com/united-manufacturing-hub/scopesync/pkg/record"
	"github.com/united-manufacturing-hub/scopesync/pkg/scope"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
)

// Config holds the policies of a Manager.
type Config struct {
	Syntax scope.Syntax
	Policy conflict.Policy
	// AutoCancelOnError is the failure policy of calls that do not set their own.
	AutoCancelOnError bool
	IDField           string
	// MaintainNetwork tells whether a flush lets operations of a kind finish
	// their network call.
	MaintainNetwork func(record.Mutation) bool
	// Collection names the persistence collection of committed records.
	Collection string
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	cfg, err := ConfigFrom(config.Default())
	if err != nil {
		panic(err)
	}

	return cfg
}

// ConfigFrom extracts the manager settings from a process config.
func ConfigFrom(c config.Config) (Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return Config{}, err
	}

	maintain := c.DataManager.MaintainNetworkOnFlush

	return Config{
		Syntax:            c.Syntax(),
		Policy:            policy,
		AutoCancelOnError: c.DataManager.AutoCancelOnError,
		IDField:           c.DataManager.IDField,
		MaintainNetwork:   maintain.For,
		Collection:        c.Persistence.Collection,
	}, nil
}

// Manager is the data manager façade.
type Manager struct {
	cfg      Config
	store    *record.Store
	tracker  *conflict.Tracker
	views    *observer.Tree
	watchers *observer.Watchers
	workers  map[string]*mutation.Worker
	persist  persistence.Store
	logger   *zap.SugaredLogger
	// persistLog reports persistence failures.
	persistLog *zap.SugaredLogger
}

var workerNames = []string{mutation.WorkerLoad, mutation.WorkerUpload, mutation.WorkerUpdate, mutation.WorkerDelete}

// New wires a Manager. persist may be nil, in which case nothing outlives the
// process.
func New(cfg Config, requester transport.Requester, persist persistence.Store, log *zap.SugaredLogger) (*Manager, error) {
	if err := cfg.Syntax.Validate(); err != nil {
		return nil, err
	}

	if cfg.IDField == "" {
		cfg.IDField = constants.DefaultIDField
	}

	if cfg.Collection == "" {
		cfg.Collection = constants.RecordsCollection
	}

	if cfg.MaintainNetwork == nil {
		cfg.MaintainNetwork = func(record.Mutation) bool { return false }
	}

	m := &Manager{
		cfg:      cfg,
		store:    record.NewStore(cfg.Syntax),
		views:    observer.NewTree(),
		watchers: &observer.Watchers{},
		workers:  make(map[string]*mutation.Worker, len(workerNames)),
		persist:  persist,
		logger:   log,

		persistLog: log.Named(logger.ComponentPersistence),
	}

	m.tracker = conflict.NewTracker(conflict.Config{
		Syntax:          cfg.Syntax,
		Policy:          cfg.Policy,
		MaintainNetwork: cfg.MaintainNetwork,
		Canceller:       m,
		Temp:            m.store,
	}, log.Named(logger.ComponentTracker))

	deps := mutation.Deps{
		Store:     m.store,
		Requester: requester,
		Views:     m.views,
		Watchers:  m.watchers,
		Syntax:    cfg.Syntax,
		IDField:   cfg.IDField,
		Release: func(a mutation.Args) {
			m.tracker.Release(a.Stamp, a.RecordID, a.Key, a.Token)
		},
		Persist: m.persistRecords,
	}

	constructors := map[string]struct {
		component string
		build     func(mutation.Deps, *zap.SugaredLogger) (*mutation.Worker, error)
	}{
		mutation.WorkerLoad:   {logger.ComponentLoadWorker, mutation.NewLoadWorker},
		mutation.WorkerUpload: {logger.ComponentUploadWorker, mutation.NewUploadWorker},
		mutation.WorkerUpdate: {logger.ComponentUpdateWorker, mutation.NewUpdateWorker},
		mutation.WorkerDelete: {logger.ComponentDeleteWorker, mutation.NewDeleteWorker},
	}

	for _, name := range workerNames {
		c := constructors[name]

		worker, err := c.build(deps, log.Named(c.component))
		if err != nil {
			return nil, fmt.Errorf("creating %s worker: %w", name, err)
		}

		m.workers[name] = worker
	}

	if persist != nil {
		if err := persist.CreateCollection(context.Background(), cfg.Collection); err != nil {
			return nil, fmt.Errorf("preparing persistence collection %s: %w", cfg.Collection, err)
		}
	}

	metrics.InitErrorCounter(metrics.ComponentDataManager, cfg.Collection)
	metrics.InitErrorCounter(metrics.ComponentPersistence, cfg.Collection)

	return m, nil
}

// Syntax returns the scope syntax the manager parses scopes with.
func (m *Manager) Syntax() scope.Syntax {
	return m.cfg.Syntax
}

// HasData reports whether any record is committed.
func (m *Manager) HasData() bool {
	return m.store.Len() > 0
}

// Get returns a copy of a record's committed value.
func (m *Manager) Get(recordID string) (any, bool) {
	return m.store.Committed(recordID)
}

// Record returns a copy of a record including its in-flight entries.
func (m *Manager) Record(recordID string) (record.Record, bool) {
	return m.store.Get(recordID)
}

// Records returns copies of all records in insertion order.
func (m *Manager) Records() []record.Record {
	return m.store.Snapshot()
}

// Pending lists the tracked operations, ordered by record and scope key.
func (m *Manager) Pending() []conflict.Operation {
	ops := m.tracker.Pending()

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].RecordID != ops[j].RecordID {
			return ops[i].RecordID < ops[j].RecordID
		}

		return ops[i].Key < ops[j].Key
	})

	return ops
}

// Running returns the number of running builds per worker.
func (m *Manager) Running() map[string]int {
	out := make(map[string]int, len(m.workers))
	for name, w := range m.workers {
		out[name] = w.Len()
	}

	return out
}

// Watch registers a passive commit watcher and returns its removal function.
func (m *Manager) Watch(w observer.Watcher) func() {
	return m.watchers.Add(w)
}

// RegisterView attaches a view to a scope and returns its detach function.
func (m *Manager) RegisterView(rawScope string, v observer.View) (func(), error) {
	path, err := m.cfg.Syntax.Parse(rawScope)
	if err != nil {
		return nil, err
	}

	return m.views.Attach(path, v), nil
}

// RegisterNetwork sets the network collaborator of a scope and everything below
// it that has none of its own.
func (m *Manager) RegisterNetwork(rawScope string, n observer.Network) error {
	path, err := m.cfg.Syntax.Parse(rawScope)
	if err != nil {
		return err
	}

	m.views.SetNetwork(path, n)

	return nil
}

func (m *Manager) worker(kind record.Mutation) (*mutation.Worker, error) {
	name, ok := mutation.WorkerFor(kind)
	if !ok {
		return nil, fmt.Errorf("mutation %s has no worker", kind)
	}

	return m.workers[name], nil
}
