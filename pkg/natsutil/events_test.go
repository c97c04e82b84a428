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
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/dvr"
	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	return srv
}

func TestPublishCameraEventAsCloudEvent(t *testing.T) {
	jsServer := runJetStreamServer(t)
	t.Cleanup(jsServer.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nc, err := Connect(&models.NATSConfig{URL: jsServer.ClientURL()}, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	pub, err := CreateEventPublisher(ctx, nc, "", "dvrsync-events",
		[]string{"events.camera.*", "events.server.*", "events.status.*"})
	require.NoError(t, err)

	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, pub.PublishCameraEvent(ctx, "added", models.CameraEventData{
		ServerID:  "srv-1",
		CameraID:  4,
		Name:      "Loading Dock",
		State:     "added",
		Timestamp: when,
	}))

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cons, err := js.CreateOrUpdateConsumer(ctx, "dvrsync-events", jetstream.ConsumerConfig{
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)

	var event models.CloudEvent

	got := false

	for msg := range batch.Messages() {
		require.NoError(t, json.Unmarshal(msg.Data(), &event))
		require.NoError(t, msg.Ack())

		got = true
	}

	require.True(t, got, "expected one message on the stream")

	assert.Equal(t, "1.0", event.SpecVersion)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "dvrsync", event.Source)
	assert.Equal(t, "com.carverauto.dvrsync.camera.added", event.Type)
	assert.Equal(t, "events.camera.added", event.Subject)
	require.NotNil(t, event.Time)
	assert.True(t, event.Time.Equal(when))

	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "srv-1", data["server_id"])
	assert.InDelta(t, 4, data["camera_id"], 0)
	assert.Equal(t, "Loading Dock", data["name"])
}

type fakePublisher struct {
	mu     sync.Mutex
	camera []string
	server []string
	status []models.StatusEventData
}

func (f *fakePublisher) PublishCameraEvent(_ context.Context, kind string, _ models.CameraEventData) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.camera = append(f.camera, kind)

	return nil
}

func (f *fakePublisher) PublishServerEvent(_ context.Context, kind string, _ models.ServerEventData) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.server = append(f.server, kind)

	return nil
}

func (f *fakePublisher) PublishStatusEvent(_ context.Context, data models.StatusEventData) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status = append(f.status, data)

	return nil
}

func (f *fakePublisher) counts() (camera, srv, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.camera), len(f.server), len(f.status)
}

func TestBridgeForwardsBusEvents(t *testing.T) {
	bus := dvr.NewBus()
	pub := &fakePublisher{}
	bridge := NewBridge(bus, pub, logger.NewTestLogger())

	stopped := make(chan struct{})

	go func() {
		_ = bridge.Start(context.Background())
		close(stopped)
	}()

	t.Cleanup(func() {
		require.NoError(t, bridge.Stop(context.Background()))

		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})

	now := time.Now()

	bus.Publish(dvr.Event{Type: dvr.EventCameraAdded, ServerID: "srv-1", Camera: &models.Camera{ID: 1}, Time: now})
	bus.Publish(dvr.Event{Type: dvr.EventCameraRemoved, ServerID: "srv-1", Camera: &models.Camera{ID: 1}, Time: now})
	bus.Publish(dvr.Event{Type: dvr.EventServerOnline, ServerID: "srv-1", Time: now})
	bus.Publish(dvr.Event{Type: dvr.EventCamerasReady, ServerID: "srv-1", Time: now})
	bus.Publish(dvr.Event{Type: dvr.EventStatusAlert, ServerID: "srv-1", Message: "disk failing", Time: now})
	bus.Publish(dvr.Event{Type: dvr.EventConfigChanged, ServerID: "srv-1", Setting: "port", Time: now})

	require.Eventually(t, func() bool {
		camera, srv, status := pub.counts()
		return camera == 2 && srv == 2 && status == 1
	}, 2*time.Second, 10*time.Millisecond, "settings changes must not be forwarded")

	pub.mu.Lock()
	defer pub.mu.Unlock()

	assert.Equal(t, []string{"added", "removed"}, pub.camera)
	assert.Equal(t, []string{"online", "ready"}, pub.server)
	assert.Equal(t, "disk failing", pub.status[0].Message)
}

func TestServerKindMapping(t *testing.T) {
	cases := map[dvr.EventType]string{
		dvr.EventServerAdded:   "added",
		dvr.EventServerRemoved: "removed",
		dvr.EventServerOnline:  "online",
		dvr.EventServerOffline: "offline",
		dvr.EventCamerasReady:  "ready",
	}

	for eventType, want := range cases {
		assert.Equal(t, want, serverKind(eventType), string(eventType))
	}
}
