package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/dvr"
	dvrhttp "github.com/carverauto/dvrsync/pkg/http"
	"github.com/carverauto/dvrsync/pkg/models"
)

func (h *apiHarness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/events"
}

// publishProbes emits events until stopped. The stream subscription
// registers asynchronously after the dial, so a single publish can land
// before the subscriber exists.
func publishProbes(t *testing.T, bus *dvr.Bus) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.Publish(dvr.Event{
					Type:     dvr.EventStatusAlert,
					ServerID: "probe",
					Message:  "hello",
					Time:     time.Now(),
				})
			}
		}
	}()

	return cancel
}

func TestEventStreamDeliversEvents(t *testing.T) {
	h := newAPIHarness(t, models.APIConfig{})

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	stop := publishProbes(t, h.mgr.Bus())
	defer stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, dvr.EventStatusAlert, msg.Event.Type)
	assert.Equal(t, "probe", msg.Event.ServerID)
	assert.Equal(t, "hello", msg.Event.Message)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestEventStreamRejectsDisallowedOrigin(t *testing.T) {
	h := newAPIHarness(t, models.APIConfig{
		AllowedOrigins: []string{"https://app.example.com"},
	})

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.com")

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), hdr) //nolint:bodyclose // closed below
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)

	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestEventStreamRequiresAuth(t *testing.T) {
	hash, err := dvrhttp.HashCredentials("admin", "secret")
	require.NoError(t, err)

	h := newAPIHarness(t, models.APIConfig{AuthHash: hash})

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil) //nolint:bodyclose // closed below
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)

	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))

	conn, authResp, err := websocket.DefaultDialer.Dial(h.wsURL(), hdr)
	require.NoError(t, err)

	defer authResp.Body.Close()

	require.NoError(t, conn.Close())
}

func TestEventStreamEndsOnStop(t *testing.T) {
	h := newAPIHarness(t, models.APIConfig{})

	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	require.NoError(t, err)

	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, h.api.Stop(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "stream must end when the server stops")
}
