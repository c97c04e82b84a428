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

// Package natsutil publishes dvrsync events to NATS JetStream as
// CloudEvents.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

const (
	cloudEventSource = "dvrsync"
	eventTypePrefix  = "com.carverauto.dvrsync."
)

// EventPublisher provides methods for publishing CloudEvents to NATS
// JetStream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
}

// NewEventPublisher creates a publisher bound to an existing JetStream
// context.
func NewEventPublisher(js jetstream.JetStream, streamName string) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
	}
}

// PublishCameraEvent publishes a camera lifecycle event. Kind is
// "added" or "removed".
func (p *EventPublisher) PublishCameraEvent(ctx context.Context, kind string, data models.CameraEventData) error {
	return p.publish(ctx, "camera."+kind, "events.camera."+kind, data.Timestamp, data)
}

// PublishServerEvent publishes a server lifecycle event. Kind is one of
// "added", "removed", "online", "offline", "ready".
func (p *EventPublisher) PublishServerEvent(ctx context.Context, kind string, data models.ServerEventData) error {
	return p.publish(ctx, "server."+kind, "events.server."+kind, data.Timestamp, data)
}

// PublishStatusEvent publishes a status alert change. An empty message
// clears the alert for consumers.
func (p *EventPublisher) PublishStatusEvent(ctx context.Context, data models.StatusEventData) error {
	return p.publish(ctx, "status.alert", "events.status.alert", data.Timestamp, data)
}

func (p *EventPublisher) publish(ctx context.Context, kind, subject string, at time.Time, data interface{}) error {
	if at.IsZero() {
		at = time.Now()
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          cloudEventSource,
		Type:            eventTypePrefix + kind,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &at,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	if _, err := p.js.Publish(ctx, event.Subject, eventBytes); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}

	return nil
}

// Connect dials NATS with logging handlers and optional TLS.
func Connect(cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS, "")
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher builds a JetStream context on an existing
// connection, ensures the stream exists, and returns a publisher.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	if _, err = js.Stream(ctx, streamName); err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}

		if _, err = js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	return NewEventPublisher(js, streamName), nil
}
