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

package dvr

import (
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/models"
)

// EventType names a state change published on the bus.
type EventType string

const (
	EventServerAdded   EventType = "server.added"
	EventServerRemoved EventType = "server.removed"
	EventServerOnline  EventType = "server.online"
	EventServerOffline EventType = "server.offline"
	EventCameraAdded   EventType = "camera.added"
	EventCameraRemoved EventType = "camera.removed"
	EventCamerasReady  EventType = "cameras.ready"
	EventStatusAlert   EventType = "status.alert"
	EventConfigChanged EventType = "config.changed"
)

// Event is one bus notification. Camera is set for camera.* events,
// Message for status.alert, Setting for config.changed.
type Event struct {
	Type     EventType      `json:"type"`
	ServerID string         `json:"server_id"`
	Camera   *models.Camera `json:"camera,omitempty"`
	Message  string         `json:"message,omitempty"`
	Setting  string         `json:"setting,omitempty"`
	Time     time.Time      `json:"time"`
}

// Bus fans events out to subscribers synchronously, in subscription
// order. Handlers that do IO must hand off to their own goroutine;
// the publishing side is a server's event loop.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]func(Event)),
	}
}

// Subscribe registers a handler and returns its remover. The remover
// is idempotent.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[id]; !ok {
			return
		}

		delete(b.subs, id)

		for i, sid := range b.order {
			if sid == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.order))

	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
