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

package natsutil

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/dvr"
	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

const (
	bridgeBuffer   = 256
	publishTimeout = 5 * time.Second
)

// Publisher is the outbound event surface the bridge writes to.
// *EventPublisher satisfies this.
type Publisher interface {
	PublishCameraEvent(ctx context.Context, kind string, data models.CameraEventData) error
	PublishServerEvent(ctx context.Context, kind string, data models.ServerEventData) error
	PublishStatusEvent(ctx context.Context, data models.StatusEventData) error
}

// Bridge forwards bus events to NATS on its own goroutine so broker
// latency never stalls publishers.
type Bridge struct {
	bus       *dvr.Bus
	publisher Publisher
	logger    logger.Logger

	events    chan dvr.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge wires a bus to a publisher.
func NewBridge(bus *dvr.Bus, publisher Publisher, log logger.Logger) *Bridge {
	return &Bridge{
		bus:       bus,
		publisher: publisher,
		logger:    log,
		events:    make(chan dvr.Event, bridgeBuffer),
		done:      make(chan struct{}),
	}
}

// Start forwards events until the context ends or Stop is called.
// Implements lifecycle.Service.
func (b *Bridge) Start(ctx context.Context) error {
	unsubscribe := b.bus.Subscribe(func(ev dvr.Event) {
		select {
		case b.events <- ev:
		default:
			b.logger.Warn().
				Str("event_type", string(ev.Type)).
				Msg("NATS bridge buffer full; dropping event")
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case ev := <-b.events:
			b.forward(ctx, ev)
		}
	}
}

// Stop ends Start.
func (b *Bridge) Stop(_ context.Context) error {
	b.closeOnce.Do(func() {
		close(b.done)
	})

	return nil
}

func (b *Bridge) forward(ctx context.Context, ev dvr.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error

	switch ev.Type {
	case dvr.EventCameraAdded, dvr.EventCameraRemoved:
		data := models.CameraEventData{
			ServerID:  ev.ServerID,
			State:     cameraKind(ev.Type),
			Timestamp: ev.Time,
		}

		if ev.Camera != nil {
			data.CameraID = ev.Camera.ID
			data.Name = ev.Camera.Name
		}

		err = b.publisher.PublishCameraEvent(pubCtx, cameraKind(ev.Type), data)
	case dvr.EventServerAdded, dvr.EventServerRemoved, dvr.EventServerOnline, dvr.EventServerOffline, dvr.EventCamerasReady:
		err = b.publisher.PublishServerEvent(pubCtx, serverKind(ev.Type), models.ServerEventData{
			ServerID:  ev.ServerID,
			Timestamp: ev.Time,
		})
	case dvr.EventStatusAlert:
		err = b.publisher.PublishStatusEvent(pubCtx, models.StatusEventData{
			ServerID:  ev.ServerID,
			Message:   ev.Message,
			Timestamp: ev.Time,
		})
	case dvr.EventConfigChanged:
		return
	default:
		return
	}

	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("server_id", ev.ServerID).
			Msg("Failed to publish event to NATS")
	}
}

func cameraKind(t dvr.EventType) string {
	if t == dvr.EventCameraRemoved {
		return "removed"
	}

	return "added"
}

func serverKind(t dvr.EventType) string {
	switch t {
	case dvr.EventServerRemoved:
		return "removed"
	case dvr.EventServerOnline:
		return "online"
	case dvr.EventServerOffline:
		return "offline"
	case dvr.EventCamerasReady:
		return "ready"
	default:
		return "added"
	}
}
