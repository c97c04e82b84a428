/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry tracks the cameras known for one DVR server and
// diffs fresh device snapshots against that state.
package registry

import (
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/models"
	"github.com/carverauto/dvrsync/pkg/snapshot"
)

// Result describes what one reconciliation changed. Ready is set when
// the first snapshot since connect lands and again whenever the
// registry goes from empty to populated.
type Result struct {
	Added   []models.Camera
	Removed []models.Camera
	Ready   bool
}

// CameraRegistry holds cameras keyed by their server-assigned numeric
// id, in first-seen order. Safe for concurrent use.
type CameraRegistry struct {
	mu      sync.RWMutex
	order   []int
	cameras map[int]models.Camera
	loaded  bool
}

// New returns an empty registry.
func New() *CameraRegistry {
	return &CameraRegistry{
		cameras: make(map[int]models.Camera),
	}
}

// Reconcile applies a parsed snapshot. Cameras absent from the
// snapshot are dropped and reported removed; new identities are
// reported added. Existing entries are updated in place, keeping
// their first-seen timestamp and position.
func (r *CameraRegistry) Reconcile(list *snapshot.DeviceList, now time.Time) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasEmpty := len(r.order) == 0
	wasLoaded := r.loaded

	var result Result

	kept := r.order[:0]

	for _, id := range r.order {
		if list.Has(id) {
			kept = append(kept, id)
			continue
		}

		gone := r.cameras[id]
		gone.Online = false
		result.Removed = append(result.Removed, gone)

		delete(r.cameras, id)
	}

	r.order = kept

	for _, id := range list.Order {
		incoming := list.Devices[id]

		existing, known := r.cameras[id]
		if known {
			incoming.FirstSeen = existing.FirstSeen
			incoming.LastSeen = now
			r.cameras[id] = incoming

			continue
		}

		incoming.FirstSeen = now
		incoming.LastSeen = now
		r.cameras[id] = incoming
		r.order = append(r.order, id)
		result.Added = append(result.Added, incoming)
	}

	r.loaded = true
	result.Ready = !wasLoaded || (wasEmpty && len(r.order) > 0)

	return result
}

// Clear drops every camera and resets the loaded flag, returning the
// removed cameras in registry order with Online forced off. Used when
// the session goes offline.
func (r *CameraRegistry) Clear() []models.Camera {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]models.Camera, 0, len(r.order))

	for _, id := range r.order {
		gone := r.cameras[id]
		gone.Online = false
		removed = append(removed, gone)
	}

	r.order = nil
	r.cameras = make(map[int]models.Camera)
	r.loaded = false

	return removed
}

// Cameras returns copies of all cameras in first-seen order.
func (r *CameraRegistry) Cameras() []models.Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Camera, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.cameras[id])
	}

	return out
}

// Camera looks up one camera by id.
func (r *CameraRegistry) Camera(id int) (models.Camera, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	camera, ok := r.cameras[id]

	return camera, ok
}

// Len returns the number of tracked cameras.
func (r *CameraRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Loaded reports whether any snapshot has landed since the last
// connect.
func (r *CameraRegistry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loaded
}

// OnlineCount returns how many tracked cameras are currently online.
func (r *CameraRegistry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, camera := range r.cameras {
		if camera.Online {
			count++
		}
	}

	return count
}
