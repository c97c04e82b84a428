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

// Package dvr drives the state of remote DVR servers: one event loop
// per server schedules polls, reconciles camera snapshots, and tracks
// the status alert, publishing every change on a shared bus.
package dvr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
	"github.com/carverauto/dvrsync/pkg/registry"
	"github.com/carverauto/dvrsync/pkg/session"
	"github.com/carverauto/dvrsync/pkg/settings"
	"github.com/carverauto/dvrsync/pkg/snapshot"
	"github.com/carverauto/dvrsync/pkg/trust"
)

const (
	// DefaultPollInterval is the fixed cadence between poll pairs
	// while a session is online.
	DefaultPollInterval = 60 * time.Second

	// DefaultReconnectInterval paces login retries while a server is
	// wanted online but unreachable.
	DefaultReconnectInterval = 30 * time.Second

	defaultSessionTimeout = 30 * time.Second
	logoutTimeout         = 5 * time.Second

	commandBuffer = 32
	replyBuffer   = 8
)

// SessionFactory builds the transport session for one server. Tests
// substitute fakes here.
type SessionFactory func(cfg session.ClientConfig) (session.Session, error)

// pollReply carries one fetched document back into the event loop,
// tagged with the epoch that issued it.
type pollReply struct {
	epoch uint64
	path  string
	data  []byte
	err   error
}

// ServerOptions wires one Server. Settings and Trust are required;
// everything else has a default.
type ServerOptions struct {
	Settings          *settings.ServerSettings
	Trust             *trust.Store
	Bus               *Bus
	Clock             Clock
	Logger            logger.Logger
	Metrics           *Metrics
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	SessionTimeout    time.Duration
	NewSession        SessionFactory
	Finalizer         func(models.Camera)
}

// Server owns everything known about one remote DVR: its settings,
// its camera registry, its status alert, and the session used to poll
// it. A single event loop goroutine serializes all state changes;
// fetches run in short-lived goroutines that post replies back in.
type Server struct {
	id                string
	settings          *settings.ServerSettings
	trust             *trust.Store
	registry          *registry.CameraRegistry
	bus               *Bus
	clock             Clock
	logger            logger.Logger
	metrics           *Metrics
	pollInterval      time.Duration
	reconnectInterval time.Duration
	sessionTimeout    time.Duration
	newSession        SessionFactory
	finalizer         func(models.Camera)

	commands  chan func(context.Context)
	replies   chan pollReply
	done      chan struct{}
	closeOnce sync.Once
	startWg   sync.WaitGroup
	wg        sync.WaitGroup

	// Owned by the event loop. Never touched from outside it.
	sess          session.Session
	epoch         uint64
	ticker        Ticker
	reconnect     Ticker
	wantOnline    bool
	loginInFlight bool

	// Mirrors read by API goroutines.
	mu          sync.RWMutex
	online      bool
	statusAlert string
}

// NewServer builds a Server around loaded settings. The loop does not
// run until Start is called.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		id:                opts.Settings.ServerID(),
		settings:          opts.Settings,
		trust:             opts.Trust,
		registry:          registry.New(),
		bus:               opts.Bus,
		clock:             opts.Clock,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		pollInterval:      opts.PollInterval,
		reconnectInterval: opts.ReconnectInterval,
		sessionTimeout:    opts.SessionTimeout,
		newSession:        opts.NewSession,
		finalizer:         opts.Finalizer,
		commands:          make(chan func(context.Context), commandBuffer),
		replies:           make(chan pollReply, replyBuffer),
		done:              make(chan struct{}),
	}

	if s.bus == nil {
		s.bus = NewBus()
	}

	if s.clock == nil {
		s.clock = realClock{}
	}

	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}

	if s.reconnectInterval <= 0 {
		s.reconnectInterval = DefaultReconnectInterval
	}

	if s.sessionTimeout <= 0 {
		s.sessionTimeout = defaultSessionTimeout
	}

	if s.newSession == nil {
		s.newSession = func(cfg session.ClientConfig) (session.Session, error) {
			return session.NewClient(cfg)
		}
	}

	s.settings.OnChange(func(key string) {
		s.bus.Publish(Event{
			Type:     EventConfigChanged,
			ServerID: s.id,
			Setting:  key,
			Time:     s.clock.Now(),
		})
	})

	return s
}

// Start runs the event loop until the context is canceled or Stop is
// called. It implements lifecycle.Service.
func (s *Server) Start(ctx context.Context) error {
	s.startWg.Add(1)
	defer s.startWg.Done()

	s.logger.Info().
		Str("server_id", s.id).
		Str("hostname", s.settings.Hostname()).
		Int("port", s.settings.Port()).
		Msg("Starting server loop")

	defer s.shutdown()

	for {
		var sessionEvents <-chan session.Event
		if s.sess != nil {
			sessionEvents = s.sess.Events()
		}

		var tickCh, reconnectCh <-chan time.Time
		if s.ticker != nil {
			tickCh = s.ticker.Chan()
		}

		if s.reconnect != nil {
			reconnectCh = s.reconnect.Chan()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case fn := <-s.commands:
			fn(ctx)
		case ev, ok := <-sessionEvents:
			if !ok {
				s.sess = nil
				continue
			}

			s.handleSessionEvent(ctx, ev)
		case <-tickCh:
			s.startPoll(ctx)
		case <-reconnectCh:
			s.tryLogin(ctx)
		case r := <-s.replies:
			s.handleReply(ctx, r)
		}
	}
}

// Stop ends the event loop and waits for in-flight fetches.
func (s *Server) Stop(_ context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.startWg.Wait()
	s.wg.Wait()

	return nil
}

// Connect brings the server online: a session is created if needed
// and a login attempt is issued. Failures arm the reconnect timer.
func (s *Server) Connect() {
	s.post(func(ctx context.Context) {
		s.wantOnline = true
		s.tryLogin(ctx)
	})
}

// Disconnect logs out and stops polling until Connect is called
// again.
func (s *Server) Disconnect() {
	s.post(func(ctx context.Context) {
		s.doDisconnect(ctx)
	})
}

// ToggleOnline flips between Connect and Disconnect based on the
// desired state.
func (s *Server) ToggleOnline() {
	s.post(func(ctx context.Context) {
		if s.wantOnline {
			s.doDisconnect(ctx)
			return
		}

		s.wantOnline = true
		s.tryLogin(ctx)
	})
}

// Refresh requests an immediate poll pair without waiting for the
// next tick. A no-op while offline.
func (s *Server) Refresh() {
	s.post(func(ctx context.Context) {
		if s.sess != nil && s.sess.Online() {
			s.startPoll(ctx)
		}
	})
}

// Remove tears the server down after its loop has stopped: remaining
// cameras are finalized and reported removed, then the settings
// namespace is purged.
func (s *Server) Remove(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}

	for _, cam := range s.registry.Clear() {
		s.finalizeRemoval(cam)
	}

	if err := s.settings.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge settings for server %s: %w", s.id, err)
	}

	return nil
}

// ID returns the stable server identifier.
func (s *Server) ID() string { return s.id }

// DisplayName returns the configured name, falling back to hostname.
func (s *Server) DisplayName() string { return s.settings.DisplayName() }

// Hostname returns the configured hostname.
func (s *Server) Hostname() string { return s.settings.Hostname() }

// Port returns the configured control port.
func (s *Server) Port() int { return s.settings.Port() }

// StreamingPort is the media port, fixed at one above the control
// port.
func (s *Server) StreamingPort() int { return s.settings.Port() + 1 }

// Username returns the configured login name.
func (s *Server) Username() string { return s.settings.Username() }

// AutoConnect reports whether the server connects at startup.
func (s *Server) AutoConnect() bool { return s.settings.AutoConnect() }

// Settings exposes the settings accessor for configuration surfaces.
// Writes fire config.changed events through the change hook.
func (s *Server) Settings() *settings.ServerSettings { return s.settings }

// Trust exposes the certificate trust store for this server.
func (s *Server) Trust() *trust.Store { return s.trust }

// Online reports whether a live session exists right now.
func (s *Server) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.online
}

// StatusAlert returns the current alert text, empty when healthy.
func (s *Server) StatusAlert() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.statusAlert
}

// DevicesReady reports whether a device snapshot has landed since the
// session came online.
func (s *Server) DevicesReady() bool { return s.registry.Loaded() }

// Cameras returns the tracked cameras in first-seen order.
func (s *Server) Cameras() []models.Camera { return s.registry.Cameras() }

// Camera looks up one camera by its server-assigned id.
func (s *Server) Camera(id int) (models.Camera, bool) { return s.registry.Camera(id) }

// Summary snapshots the server state for API responses.
func (s *Server) Summary() models.ServerSummary {
	return models.ServerSummary{
		ID:            s.id,
		DisplayName:   s.DisplayName(),
		Hostname:      s.Hostname(),
		Port:          s.Port(),
		StreamingPort: s.StreamingPort(),
		Online:        s.Online(),
		DevicesReady:  s.DevicesReady(),
		CameraCount:   s.registry.Len(),
		StatusAlert:   s.StatusAlert(),
		AutoConnect:   s.AutoConnect(),
	}
}

// post hands a command to the event loop, dropping it if the loop is
// already shut down.
func (s *Server) post(fn func(context.Context)) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

// ensureSession lazily builds the transport session.
func (s *Server) ensureSession(ctx context.Context) error {
	if s.sess != nil {
		return nil
	}

	sess, err := s.newSession(session.ClientConfig{
		Hostname: s.settings.Hostname(),
		Port:     s.settings.Port(),
		TLS:      trust.ClientTLSConfig(ctx, s.trust),
		Timeout:  s.sessionTimeout,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.sess = sess

	return nil
}

// tryLogin issues one asynchronous login attempt. The session's own
// online event completes the transition; only failures come back
// through finishLogin.
func (s *Server) tryLogin(ctx context.Context) {
	if !s.wantOnline || s.loginInFlight {
		return
	}

	if s.sess != nil && s.sess.Online() {
		return
	}

	if err := s.ensureSession(ctx); err != nil {
		s.logger.Error().Err(err).Str("server_id", s.id).Msg("Session setup failed")
		s.setStatusAlert(fmt.Sprintf("Login error: %v", err))
		s.armReconnect()

		return
	}

	s.loginInFlight = true

	sess := s.sess
	username := s.settings.Username()
	password := s.settings.Password()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		err := sess.Login(ctx, username, password)
		s.post(func(context.Context) {
			s.finishLogin(err)
		})
	}()
}

func (s *Server) finishLogin(err error) {
	s.loginInFlight = false

	if err == nil {
		return
	}

	s.logger.Warn().Err(err).Str("server_id", s.id).Msg("Login failed")
	s.setStatusAlert(fmt.Sprintf("Login error: %v", err))

	if s.wantOnline {
		s.armReconnect()
	}
}

func (s *Server) armReconnect() {
	if s.reconnect != nil {
		return
	}

	s.reconnect = s.clock.Ticker(s.reconnectInterval)
}

func (s *Server) stopReconnect() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *Server) doDisconnect(ctx context.Context) {
	s.wantOnline = false
	s.stopReconnect()

	if s.sess == nil || !s.sess.Online() {
		return
	}

	sess := s.sess

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		// The resulting offline event drives the state change.
		if err := sess.Logout(ctx); err != nil {
			s.logger.Debug().Err(err).Str("server_id", s.id).Msg("Logout failed")
		}
	}()
}

func (s *Server) handleSessionEvent(ctx context.Context, ev session.Event) {
	switch ev.State {
	case session.StateOnline:
		s.goOnline(ctx)
	case session.StateOffline:
		s.goOffline(ctx)
	}
}

// goOnline starts a poll epoch: an immediate poll pair, then the
// fixed-interval ticker.
func (s *Server) goOnline(ctx context.Context) {
	s.epoch++
	s.stopReconnect()

	s.mu.Lock()
	s.online = true
	s.mu.Unlock()

	s.logger.Info().Str("server_id", s.id).Msg("Server online")
	s.metrics.ServerOnline(ctx, 1)

	s.bus.Publish(Event{Type: EventServerOnline, ServerID: s.id, Time: s.clock.Now()})

	s.startPoll(ctx)

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.ticker = s.clock.Ticker(s.pollInterval)
}

// goOffline ends the poll epoch: the ticker stops, every camera is
// finalized and reported removed, and a lingering alert is cleared.
func (s *Server) goOffline(ctx context.Context) {
	s.epoch++

	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}

	s.mu.Lock()
	wasOnline := s.online
	s.online = false
	s.mu.Unlock()

	for _, cam := range s.registry.Clear() {
		s.finalizeRemoval(cam)
	}

	s.setStatusAlert("")

	if wasOnline {
		s.logger.Info().Str("server_id", s.id).Msg("Server offline")
		s.metrics.ServerOnline(ctx, -1)
		s.metrics.SetCamerasOnline(ctx, s.id, 0)
		s.bus.Publish(Event{Type: EventServerOffline, ServerID: s.id, Time: s.clock.Now()})
	}

	if s.wantOnline {
		s.armReconnect()
	}
}

// startPoll issues the devices and stats fetches for the current
// epoch. Replies funnel back into the loop and are dropped if the
// epoch has moved on by then.
func (s *Server) startPoll(ctx context.Context) {
	if s.sess == nil {
		return
	}

	sess := s.sess
	epoch := s.epoch

	for _, path := range []string{session.DevicesPath, session.StatsPath} {
		s.metrics.Poll(ctx, endpointLabel(path))

		s.wg.Add(1)

		go func(path string) {
			defer s.wg.Done()

			data, err := sess.Fetch(ctx, path)

			select {
			case s.replies <- pollReply{epoch: epoch, path: path, data: data, err: err}:
			case <-s.done:
			case <-ctx.Done():
			}
		}(path)
	}
}

func (s *Server) handleReply(ctx context.Context, r pollReply) {
	if r.epoch != s.epoch {
		s.logger.Debug().
			Str("server_id", s.id).
			Str("path", r.path).
			Uint64("reply_epoch", r.epoch).
			Uint64("current_epoch", s.epoch).
			Msg("Dropping stale poll reply")

		return
	}

	switch r.path {
	case session.DevicesPath:
		s.handleDevices(ctx, r)
	case session.StatsPath:
		s.handleStats(ctx, r)
	}
}

// handleDevices reconciles one device snapshot. Failures leave the
// registry untouched; the next tick retries.
func (s *Server) handleDevices(ctx context.Context, r pollReply) {
	if r.err != nil {
		s.metrics.PollFailure(ctx, "devices")
		s.logger.Warn().Err(r.err).Str("server_id", s.id).Msg("Device list request failed")

		return
	}

	list, err := snapshot.ParseDevices(r.data)
	if err != nil {
		s.metrics.PollFailure(ctx, "devices")
		s.logger.Warn().Err(err).Str("server_id", s.id).Msg("Dropping unusable device snapshot")

		return
	}

	result := s.registry.Reconcile(list, s.clock.Now())

	for _, cam := range result.Removed {
		s.finalizeRemoval(cam)
	}

	for _, cam := range result.Added {
		s.bus.Publish(Event{
			Type:     EventCameraAdded,
			ServerID: s.id,
			Camera:   &cam,
			Time:     s.clock.Now(),
		})
	}

	if result.Ready {
		s.bus.Publish(Event{Type: EventCamerasReady, ServerID: s.id, Time: s.clock.Now()})
	}

	s.metrics.SetCamerasOnline(ctx, s.id, s.registry.OnlineCount())

	if len(result.Added) > 0 || len(result.Removed) > 0 {
		s.logger.Info().
			Str("server_id", s.id).
			Int("added", len(result.Added)).
			Int("removed", len(result.Removed)).
			Int("total", s.registry.Len()).
			Msg("Camera set changed")
	}
}

// handleStats folds one stats reply into the status alert.
func (s *Server) handleStats(ctx context.Context, r pollReply) {
	if r.err != nil {
		s.metrics.PollFailure(ctx, "stats")
	}

	s.setStatusAlert(snapshot.StatusMessage(r.data, r.err))
}

// finalizeRemoval runs the removal hook and publishes the event. The
// camera payload is already marked offline.
func (s *Server) finalizeRemoval(cam models.Camera) {
	if s.finalizer != nil {
		s.finalizer(cam)
	}

	s.bus.Publish(Event{
		Type:     EventCameraRemoved,
		ServerID: s.id,
		Camera:   &cam,
		Time:     s.clock.Now(),
	})
}

// setStatusAlert records the alert and publishes on change, including
// the transition back to empty.
func (s *Server) setStatusAlert(message string) {
	s.mu.Lock()

	if s.statusAlert == message {
		s.mu.Unlock()
		return
	}

	s.statusAlert = message
	s.mu.Unlock()

	if message != "" {
		s.logger.Warn().Str("server_id", s.id).Str("alert", message).Msg("Status alert")
	}

	s.bus.Publish(Event{
		Type:     EventStatusAlert,
		ServerID: s.id,
		Message:  message,
		Time:     s.clock.Now(),
	})
}

// shutdown releases loop-owned resources when Start returns.
func (s *Server) shutdown() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}

	s.stopReconnect()

	if s.sess != nil {
		if s.sess.Online() {
			ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
			_ = s.sess.Logout(ctx)

			cancel()
		}

		_ = s.sess.Close()
		s.sess = nil
	}

	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
}

func endpointLabel(path string) string {
	switch path {
	case session.DevicesPath:
		return "devices"
	case session.StatsPath:
		return "stats"
	default:
		return path
	}
}
