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

package observer

import (
	"sync"

	"github.com/united-manufacturing-hub/scopesync/pkg/record"
)

type watch struct {
	watcher Watcher
}

// Watchers is the list of passive commit watchers.
type Watchers struct {
	mu   sync.RWMutex
	list []*watch
}

// Add registers w and returns its removal function.
func (ws *Watchers) Add(w Watcher) func() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	entry := &watch{watcher: w}
	ws.list = append(ws.list, entry)

	return func() {
		ws.mu.Lock()
		defer ws.mu.Unlock()

		for i, existing := range ws.list {
			if existing == entry {
				ws.list = append(ws.list[:i], ws.list[i+1:]...)

				return
			}
		}
	}
}

// Notify calls every watcher in registration order.
func (ws *Watchers) Notify(mutation record.Mutation, newData, oldData any) {
	ws.mu.RLock()
	list := append([]*watch(nil), ws.list...)
	ws.mu.RUnlock()

	for _, entry := range list {
		entry.watcher.OnExternalWatchCommit(mutation, newData, oldData)
	}
}

// WatchFunc adapts a function to Watcher.
type WatchFunc func(mutation record.Mutation, newData, oldData any)

// OnExternalWatchCommit implements Watcher.
func (f WatchFunc) OnExternalWatchCommit(mutation record.Mutation, newData, oldData any) {
	f(mutation, newData, oldData)
}
