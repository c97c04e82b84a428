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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
	"github.com/carverauto/dvrsync/pkg/session"
	"github.com/carverauto/dvrsync/pkg/settings"
	"github.com/carverauto/dvrsync/pkg/trust"
)

const (
	pollEvery      = time.Minute
	reconnectEvery = 30 * time.Second
)

type harness struct {
	t     *testing.T
	srv   *Server
	sess  *fakeSession
	clock *fakeClock
	bus   *Bus
	col   *eventCollector

	mu        sync.Mutex
	finalized []models.Camera
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx := context.Background()

	store, err := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	ss, err := settings.LoadServerSettings(ctx, store, "srv-1")
	require.NoError(t, err)
	require.NoError(t, ss.SetHostname(ctx, "dvr.example.net"))
	require.NoError(t, ss.SetUsername(ctx, "admin"))
	require.NoError(t, ss.SetPassword(ctx, "hunter2"))

	h := &harness{
		t:     t,
		sess:  newFakeSession(),
		clock: newFakeClock(),
		bus:   NewBus(),
	}
	h.col = collect(h.bus)

	h.srv = NewServer(ServerOptions{
		Settings:          ss,
		Trust:             trust.NewStore(ss, logger.NewTestLogger()),
		Bus:               h.bus,
		Clock:             h.clock,
		Logger:            logger.NewTestLogger(),
		PollInterval:      pollEvery,
		ReconnectInterval: reconnectEvery,
		NewSession: func(session.ClientConfig) (session.Session, error) {
			return h.sess, nil
		},
		Finalizer: func(cam models.Camera) {
			h.mu.Lock()
			defer h.mu.Unlock()

			h.finalized = append(h.finalized, cam)
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	go func() {
		_ = h.srv.Start(runCtx)
		close(stopped)
	}()

	t.Cleanup(func() {
		require.NoError(t, h.srv.Stop(context.Background()))
		cancel()

		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("server loop did not stop")
		}
	})

	return h
}

func (h *harness) wait(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func (h *harness) finalizedIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]int, 0, len(h.finalized))
	for _, cam := range h.finalized {
		ids = append(ids, cam.ID)
	}

	return ids
}

func devicesDoc(ids ...int) string {
	var b strings.Builder

	b.WriteString("<devices>")

	for _, id := range ids {
		fmt.Fprintf(&b,
			`<device id="%d"><name>Cam %d</name><resolution>640x480</resolution></device>`,
			id, id)
	}

	b.WriteString("</devices>")

	return b.String()
}

func statsDoc(message string) string {
	return "<stats><message>" + message + "</message></stats>"
}

func registryIDs(srv *Server) []int {
	cams := srv.Cameras()

	ids := make([]int, 0, len(cams))
	for _, cam := range cams {
		ids = append(ids, cam.ID)
	}

	return ids
}

func TestConnectPollsImmediately(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(1, 2))

	h.srv.Connect()

	h.wait(func() bool { return h.srv.Online() }, "server should come online")
	h.wait(func() bool { return h.col.count(EventCamerasReady) == 1 }, "first snapshot signals ready")

	assert.Equal(t, []int{1, 2}, registryIDs(h.srv))
	assert.Equal(t, []int{1, 2}, h.col.cameraIDs(EventCameraAdded))
	assert.Equal(t, 1, h.col.count(EventServerOnline))
	assert.True(t, h.srv.DevicesReady())
	assert.GreaterOrEqual(t, h.sess.fetchCount(session.DevicesPath), 1)
	assert.GreaterOrEqual(t, h.sess.fetchCount(session.StatsPath), 1)
}

func TestTickRepollsAndDiffs(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(1, 2, 3))

	h.srv.Connect()
	h.wait(func() bool { return h.col.count(EventCamerasReady) == 1 }, "initial snapshot")

	h.sess.setDoc(session.DevicesPath, devicesDoc(2, 3, 4))
	h.clock.fire(t, pollEvery)

	h.wait(func() bool { return h.col.count(EventCameraRemoved) == 1 }, "camera 1 removal")
	h.wait(func() bool { return h.col.count(EventCameraAdded) == 4 }, "camera 4 addition")

	assert.Equal(t, []int{2, 3, 4}, registryIDs(h.srv))
	assert.Equal(t, []int{1}, h.col.cameraIDs(EventCameraRemoved))
	assert.Equal(t, []int{1}, h.finalizedIDs())
	assert.Equal(t, 1, h.col.count(EventCamerasReady), "ready only fires for empty to populated")
}

func TestStatusAlertLifecycle(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.StatsPath, statsDoc("Disk nearly full"))

	h.srv.Connect()
	h.wait(func() bool { return h.srv.StatusAlert() == "Disk nearly full" }, "alert should surface")

	ev, ok := h.col.last(EventStatusAlert)
	require.True(t, ok)
	assert.Equal(t, "Disk nearly full", ev.Message)

	h.sess.setDoc(session.StatsPath, `<stats><message/></stats>`)
	h.clock.fire(t, pollEvery)

	h.wait(func() bool { return h.srv.StatusAlert() == "" }, "alert should clear")
	assert.Equal(t, 2, h.col.count(EventStatusAlert), "clearing publishes too")
}

func TestStatsFailureSetsRequestError(t *testing.T) {
	h := newHarness(t)
	h.sess.setFetchErr(session.StatsPath, errors.New("connection reset"))

	h.srv.Connect()

	h.wait(func() bool {
		return strings.HasPrefix(h.srv.StatusAlert(), "Status request error:")
	}, "transport failure becomes a request error alert")
	assert.Contains(t, h.srv.StatusAlert(), "connection reset")

	h.sess.setFetchErr(session.StatsPath, errors.New("no route to host"))
	h.clock.fire(t, pollEvery)

	h.wait(func() bool {
		return h.col.count(EventStatusAlert) == 2
	}, "a failure with new text publishes a second alert")

	ev, ok := h.col.last(EventStatusAlert)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "no route to host")
}

func TestDeviceFailureKeepsRegistry(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(1, 2))

	h.srv.Connect()
	h.wait(func() bool { return h.srv.DevicesReady() }, "initial snapshot")

	h.sess.setDoc(session.DevicesPath, `<html>backend error</html>`)
	h.clock.fire(t, pollEvery)

	h.wait(func() bool { return h.sess.fetchCount(session.DevicesPath) >= 2 }, "second poll issued")

	assert.Equal(t, []int{1, 2}, registryIDs(h.srv), "bad snapshot must not disturb the registry")
	assert.Empty(t, h.col.cameraIDs(EventCameraRemoved))
}

func TestDisconnectClearsEverything(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(1, 2))
	h.sess.setDoc(session.StatsPath, statsDoc("Storage degraded"))

	h.srv.Connect()
	h.wait(func() bool { return h.srv.DevicesReady() && h.srv.StatusAlert() != "" }, "populated state")

	h.srv.Disconnect()

	h.wait(func() bool { return !h.srv.Online() }, "server should go offline")
	h.wait(func() bool { return h.col.count(EventCameraRemoved) == 2 }, "both cameras removed")

	assert.Equal(t, []int{1, 2}, h.finalizedIDs())
	assert.False(t, h.srv.DevicesReady(), "loaded flag resets on disconnect")
	assert.Empty(t, h.srv.StatusAlert())
	assert.Equal(t, 1, h.col.count(EventServerOffline))

	alert, ok := h.col.last(EventStatusAlert)
	require.True(t, ok)
	assert.Empty(t, alert.Message, "the clearing event is the last alert event")
}

func TestSessionExpiryReconnects(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(7))

	h.srv.Connect()
	h.wait(func() bool { return h.col.count(EventCamerasReady) == 1 }, "initial snapshot")

	h.sess.expire()

	h.wait(func() bool { return !h.srv.Online() }, "expiry goes offline")
	h.wait(func() bool { return h.clock.armed(reconnectEvery) }, "reconnect timer armed")
	assert.Equal(t, []int{7}, h.finalizedIDs())

	h.clock.fire(t, reconnectEvery)

	h.wait(func() bool { return h.col.count(EventCamerasReady) == 2 }, "ready fires again after relogin")
	assert.Equal(t, []int{7}, registryIDs(h.srv))
	assert.GreaterOrEqual(t, h.sess.loginCount(), 2)
}

func TestLoginFailureAlertsAndRetries(t *testing.T) {
	h := newHarness(t)
	h.sess.setLoginErr(errors.New("bad credentials"))

	h.srv.Connect()

	h.wait(func() bool {
		return h.srv.StatusAlert() == "Login error: bad credentials"
	}, "login failure surfaces as alert")
	h.wait(func() bool { return h.clock.armed(reconnectEvery) }, "retry timer armed")
	assert.False(t, h.srv.Online())

	h.sess.setLoginErr(nil)
	h.clock.fire(t, reconnectEvery)

	h.wait(func() bool { return h.srv.Online() }, "retry succeeds")
}

func TestStaleRepliesDropped(t *testing.T) {
	h := newHarness(t)
	h.sess.setDoc(session.DevicesPath, devicesDoc(1, 2, 3))
	h.sess.gateFetches()

	h.srv.Connect()
	h.wait(func() bool { return h.srv.Online() }, "online with fetches in flight")

	h.sess.expire()
	h.wait(func() bool { return !h.srv.Online() }, "offline before replies land")

	h.sess.releaseFetches()

	// The replies carry the old epoch and must be discarded.
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, registryIDs(h.srv))
	assert.False(t, h.srv.DevicesReady())
	assert.Empty(t, h.col.cameraIDs(EventCameraAdded))
	assert.Empty(t, h.srv.StatusAlert())
}

func TestRefreshPollsWithoutTick(t *testing.T) {
	h := newHarness(t)

	h.srv.Connect()
	h.wait(func() bool { return h.srv.Online() }, "online")
	h.wait(func() bool { return h.sess.fetchCount(session.DevicesPath) == 1 }, "initial poll")

	h.srv.Refresh()

	h.wait(func() bool { return h.sess.fetchCount(session.DevicesPath) == 2 }, "refresh polls again")
}

func TestToggleOnline(t *testing.T) {
	h := newHarness(t)

	h.srv.ToggleOnline()
	h.wait(func() bool { return h.srv.Online() }, "toggle connects")

	h.srv.ToggleOnline()
	h.wait(func() bool { return !h.srv.Online() }, "toggle disconnects")
}

func TestConfigChangeEvents(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.srv.Settings().SetDisplayName(context.Background(), "Warehouse"))

	h.wait(func() bool { return h.col.count(EventConfigChanged) == 1 }, "settings write publishes")

	ev, ok := h.col.last(EventConfigChanged)
	require.True(t, ok)
	assert.Equal(t, "display_name", ev.Setting)
	assert.Equal(t, "Warehouse", h.srv.DisplayName())
}

func TestAccessors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "srv-1", h.srv.ID())
	assert.Equal(t, "dvr.example.net", h.srv.Hostname())
	assert.Equal(t, settings.DefaultServerPort, h.srv.Port())
	assert.Equal(t, settings.DefaultServerPort+1, h.srv.StreamingPort())
	assert.Equal(t, "admin", h.srv.Username())
	assert.Equal(t, "dvr.example.net", h.srv.DisplayName(), "display name falls back to hostname")

	sum := h.srv.Summary()
	assert.Equal(t, "srv-1", sum.ID)
	assert.False(t, sum.Online)
	assert.Zero(t, sum.CameraCount)
}
