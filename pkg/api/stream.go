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

package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/dvrsync/pkg/dvr"
	dvrhttp "github.com/carverauto/dvrsync/pkg/http"
)

const (
	streamBuffer = 64
	pingInterval = 30 * time.Second
)

// StreamMessage represents a message sent over the WebSocket.
type StreamMessage struct {
	Type      string     `json:"type"` // "event", "ping"
	Event     *dvr.Event `json:"event,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// handleEvents streams bus events to a WebSocket client until the
// client disconnects or the server stops.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return dvrhttp.OriginAllowed(r, s.config.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer conn.Close()

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Event stream connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Slow clients drop events rather than stalling publishers.
	events := make(chan dvr.Event, streamBuffer)

	var dropped atomic.Int64

	unsubscribe := s.manager.Bus().Subscribe(func(ev dvr.Event) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	go s.watchClient(ctx, conn, cancel)

	s.streamEvents(ctx, conn, events, &dropped, r.RemoteAddr)
}

// streamEvents is the writer loop. Shutdown does not close hijacked
// connections, so the done channel ends the stream on Stop.
func (s *APIServer) streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan dvr.Event, dropped *atomic.Int64, clientAddr string) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	sent := 0

	defer func() {
		s.logger.Info().
			Str("client_addr", clientAddr).
			Int("sent", sent).
			Int64("dropped", dropped.Load()).
			Msg("Event stream ended")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-events:
			if err := sendEventMessage(conn, &ev); err != nil {
				s.logger.Warn().
					Err(err).
					Str("client_addr", clientAddr).
					Msg("Failed to send event message")

				return
			}

			sent++
		case <-ticker.C:
			if err := sendPingMessage(conn); err != nil {
				s.logger.Debug().
					Err(err).
					Str("client_addr", clientAddr).
					Msg("Keepalive ping failed")

				return
			}
		}
	}
}

// watchClient reads from the connection so close frames are seen
// promptly. Any read error cancels the stream.
func (s *APIServer) watchClient(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if ctx.Err() != nil {
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().
					Err(err).
					Str("client_addr", conn.RemoteAddr().String()).
					Msg("Event stream client read error")
			}

			return
		}
	}
}

func sendEventMessage(conn *websocket.Conn, ev *dvr.Event) error {
	msg := StreamMessage{
		Type:      "event",
		Event:     ev,
		Timestamp: time.Now(),
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write event message: %w", err)
	}

	return nil
}

func sendPingMessage(conn *websocket.Conn) error {
	msg := StreamMessage{
		Type:      "ping",
		Timestamp: time.Now(),
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write ping message: %w", err)
	}

	return nil
}
