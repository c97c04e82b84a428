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

package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/dvr"
	"github.com/carverauto/dvrsync/pkg/logger"
)

const (
	bridgeBuffer  = 256
	appendTimeout = 5 * time.Second
)

// Appender persists bridged events. *Store satisfies this.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// Bridge subscribes to the event bus and writes each event to the
// store on its own goroutine so slow writes never stall publishers.
type Bridge struct {
	bus      *dvr.Bus
	appender Appender
	logger   logger.Logger

	events    chan dvr.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge wires a bus to an appender.
func NewBridge(bus *dvr.Bus, appender Appender, log logger.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		appender: appender,
		logger:   log,
		events:   make(chan dvr.Event, bridgeBuffer),
		done:     make(chan struct{}),
	}
}

// Start drains events until the context ends or Stop is called.
// Implements lifecycle.Service.
func (b *Bridge) Start(ctx context.Context) error {
	unsubscribe := b.bus.Subscribe(func(ev dvr.Event) {
		select {
		case b.events <- ev:
		default:
			b.logger.Warn().
				Str("event_type", string(ev.Type)).
				Msg("Event history buffer full; dropping event")
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
			b.persist(ctx, ev)
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

func (b *Bridge) persist(ctx context.Context, ev dvr.Event) {
	rec, ok := recordFrom(ev)
	if !ok {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if err := b.appender.Append(writeCtx, rec); err != nil {
		b.logger.Error().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("server_id", ev.ServerID).
			Msg("Failed to persist event")
	}
}

// recordFrom maps a bus event onto a history row. Settings changes are
// not history.
func recordFrom(ev dvr.Event) (Record, bool) {
	if ev.Type == dvr.EventConfigChanged {
		return Record{}, false
	}

	rec := Record{
		OccurredAt: ev.Time,
		Type:       string(ev.Type),
		ServerID:   ev.ServerID,
		Message:    ev.Message,
	}

	if ev.Camera != nil {
		id := ev.Camera.ID
		rec.CameraID = &id
		rec.CameraName = ev.Camera.Name
	}

	return rec, true
}
