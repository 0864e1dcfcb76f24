/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package media_cache

import (
	"sync"
)

// requestRegistry tracks the set of live fetch coordinators, keyed by the
// external request handle.  Every registered entry is removed on success,
// failure, and cancellation alike, so the map cannot grow without bound.
type requestRegistry struct {
	mu     sync.Mutex
	active map[RequestHandle]*FetchCoordinator
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{active: make(map[RequestHandle]*FetchCoordinator)}
}

// register installs a coordinator for its handle.  A prior coordinator for
// the same handle is cancelled and replaced: handles are never double-owned.
func (rr *requestRegistry) register(fc *FetchCoordinator) {
	rr.mu.Lock()
	prior := rr.active[fc.Handle()]
	rr.active[fc.Handle()] = fc
	rr.mu.Unlock()

	if prior != nil {
		prior.Cancel()
	}
}

// lookup returns the coordinator for a handle, or nil.
func (rr *requestRegistry) lookup(handle RequestHandle) *FetchCoordinator {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.active[handle]
}

// remove drops the registry entry, but only if the handle still maps to fc
// (a replacement registered in the meantime must not be evicted).
func (rr *requestRegistry) remove(fc *FetchCoordinator) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.active[fc.Handle()] == fc {
		delete(rr.active, fc.Handle())
	}
}

// cancelAll cancels every live coordinator, running each one's best-effort
// save-on-cancel path.  Used at engine teardown.
func (rr *requestRegistry) cancelAll() {
	rr.mu.Lock()
	coordinators := make([]*FetchCoordinator, 0, len(rr.active))
	for _, fc := range rr.active {
		coordinators = append(coordinators, fc)
	}
	rr.mu.Unlock()

	for _, fc := range coordinators {
		fc.Cancel()
	}
}

// len returns the number of live coordinators.
func (rr *requestRegistry) len() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.active)
}
