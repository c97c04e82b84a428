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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
	"github.com/carverauto/dvrsync/pkg/settings"
	"github.com/carverauto/dvrsync/pkg/trust"
)

var (
	// ErrServerExists is returned when adding a server whose id is
	// already registered.
	ErrServerExists = errors.New("server already exists")

	// ErrServerNotFound is returned for lookups of unknown ids.
	ErrServerNotFound = errors.New("server not found")

	errHostnameRequired = errors.New("hostname is required")
)

// ManagerOptions wires the Manager. Store and Logger are required.
type ManagerOptions struct {
	Store             settings.Store
	Bus               *Bus
	Clock             Clock
	Logger            logger.Logger
	Metrics           *Metrics
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	SessionTimeout    time.Duration
	NewSession        SessionFactory
	Finalizer         func(models.Camera)

	// WatchIndex follows external index changes, picking up servers
	// added or removed through another process sharing the store.
	WatchIndex bool
}

// AddServerParams describes a server to register.
type AddServerParams struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Hostname    string `json:"hostname"`
	Port        int    `json:"port,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	AutoConnect bool   `json:"auto_connect"`
}

// Manager owns every configured Server, the shared event bus, and the
// settings index. Servers run independently; one failing or slow
// never stalls the others.
type Manager struct {
	opts   ManagerOptions
	store  settings.Store
	bus    *Bus
	clock  Clock
	logger logger.Logger

	mu      sync.RWMutex
	servers map[string]*Server
	order   []string
	runCtx  context.Context

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager builds a Manager over a settings store.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("settings store is required")
	}

	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	if opts.Bus == nil {
		opts.Bus = NewBus()
	}

	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	return &Manager{
		opts:    opts,
		store:   opts.Store,
		bus:     opts.Bus,
		clock:   opts.Clock,
		logger:  opts.Logger,
		servers: make(map[string]*Server),
		done:    make(chan struct{}),
	}, nil
}

// Bus returns the shared event bus.
func (m *Manager) Bus() *Bus { return m.bus }

// Start loads every server in the index, spawns its loop, and blocks
// until the context ends or Stop is called. Implements
// lifecycle.Service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	ids, err := settings.Index(ctx, m.store)
	if err != nil {
		return fmt.Errorf("failed to load server index: %w", err)
	}

	for _, id := range ids {
		if _, err := m.loadServer(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("server_id", id).Msg("Failed to load server")
		}
	}

	m.logger.Info().Int("servers", len(ids)).Msg("Manager started")

	if m.opts.WatchIndex {
		m.startIndexWatch(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

// Stop halts every server loop and waits for them.
func (m *Manager) Stop(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	for _, srv := range m.Servers() {
		if err := srv.Stop(ctx); err != nil {
			m.logger.Error().Err(err).Str("server_id", srv.ID()).Msg("Failed to stop server")
		}
	}

	m.wg.Wait()

	return nil
}

// AddServer persists a new server's settings, registers it in the
// index, and starts its loop.
func (m *Manager) AddServer(ctx context.Context, params AddServerParams) (*Server, error) {
	if params.Hostname == "" {
		return nil, errHostnameRequired
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.RLock()
	_, exists := m.servers[id]
	m.mu.RUnlock()

	if exists {
		return nil, fmt.Errorf("%w: %s", ErrServerExists, id)
	}

	ss, err := settings.LoadServerSettings(ctx, m.store, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings for server %s: %w", id, err)
	}

	if err := writeServerParams(ctx, ss, params); err != nil {
		return nil, err
	}

	ids, err := settings.Index(ctx, m.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load server index: %w", err)
	}

	if err := settings.SaveIndex(ctx, m.store, append(ids, id)); err != nil {
		return nil, fmt.Errorf("failed to update server index: %w", err)
	}

	srv := m.registerServer(ss)

	m.logger.Info().
		Str("server_id", id).
		Str("hostname", params.Hostname).
		Msg("Server added")

	m.bus.Publish(Event{Type: EventServerAdded, ServerID: id, Time: m.clock.Now()})

	if ss.AutoConnect() {
		srv.Connect()
	}

	return srv, nil
}

// RemoveServer stops the server, finalizes its cameras, purges its
// settings, and drops it from the index.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	m.mu.Lock()
	srv, ok := m.servers[id]

	if ok {
		delete(m.servers, id)
		m.removeFromOrder(id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	if err := srv.Remove(ctx); err != nil {
		return err
	}

	ids, err := settings.Index(ctx, m.store)
	if err != nil {
		return fmt.Errorf("failed to load server index: %w", err)
	}

	kept := make([]string, 0, len(ids))

	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}

	if err := settings.SaveIndex(ctx, m.store, kept); err != nil {
		return fmt.Errorf("failed to update server index: %w", err)
	}

	m.logger.Info().Str("server_id", id).Msg("Server removed")
	m.bus.Publish(Event{Type: EventServerRemoved, ServerID: id, Time: m.clock.Now()})

	return nil
}

// Server looks up one server by id.
func (m *Manager) Server(id string) (*Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srv, ok := m.servers[id]

	return srv, ok
}

// Servers returns every server in registration order.
func (m *Manager) Servers() []*Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Server, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.servers[id])
	}

	return out
}

// Summaries snapshots every server for API responses.
func (m *Manager) Summaries() []models.ServerSummary {
	servers := m.Servers()

	out := make([]models.ServerSummary, 0, len(servers))
	for _, srv := range servers {
		out = append(out, srv.Summary())
	}

	return out
}

// loadServer builds and starts the loop for an already indexed id.
func (m *Manager) loadServer(ctx context.Context, id string) (*Server, error) {
	ss, err := settings.LoadServerSettings(ctx, m.store, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for server %s: %w", id, err)
	}

	srv := m.registerServer(ss)

	if ss.AutoConnect() {
		srv.Connect()
	}

	return srv, nil
}

// registerServer wires one Server and spawns its event loop.
func (m *Manager) registerServer(ss *settings.ServerSettings) *Server {
	srv := NewServer(ServerOptions{
		Settings:          ss,
		Trust:             trust.NewStore(ss, m.logger),
		Bus:               m.bus,
		Clock:             m.clock,
		Logger:            m.opts.Logger,
		Metrics:           m.opts.Metrics,
		PollInterval:      m.opts.PollInterval,
		ReconnectInterval: m.opts.ReconnectInterval,
		SessionTimeout:    m.opts.SessionTimeout,
		NewSession:        m.opts.NewSession,
		Finalizer:         m.opts.Finalizer,
	})

	m.mu.Lock()
	m.servers[srv.ID()] = srv
	m.order = append(m.order, srv.ID())
	runCtx := m.runCtx
	m.mu.Unlock()

	if runCtx == nil {
		runCtx = context.Background()
	}

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		if err := srv.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Str("server_id", srv.ID()).Msg("Server loop ended")
		}
	}()

	return srv
}

// startIndexWatch follows index changes made by other processes.
func (m *Manager) startIndexWatch(ctx context.Context) {
	ch, err := settings.WatchIndex(ctx, m.store)
	if err != nil {
		if errors.Is(err, settings.ErrWatchUnsupported) {
			m.logger.Debug().Msg("Settings store does not support watches, index changes require restart")
		} else {
			m.logger.Warn().Err(err).Msg("Failed to watch server index")
		}

		return
	}

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}

				var ids []string
				if err := json.Unmarshal(raw, &ids); err != nil {
					m.logger.Warn().Err(err).Msg("Ignoring malformed server index update")
					continue
				}

				m.syncIndex(ctx, ids)
			}
		}
	}()
}

// syncIndex reconciles the in-memory server set against an index
// update. Settings for vanished servers are assumed to be purged by
// whoever edited the index.
func (m *Manager) syncIndex(ctx context.Context, ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	m.mu.RLock()
	var stale []*Server

	for id, srv := range m.servers {
		if !want[id] {
			stale = append(stale, srv)
		}
	}
	m.mu.RUnlock()

	for _, srv := range stale {
		id := srv.ID()

		m.mu.Lock()
		delete(m.servers, id)
		m.removeFromOrder(id)
		m.mu.Unlock()

		if err := srv.Stop(ctx); err != nil {
			m.logger.Error().Err(err).Str("server_id", id).Msg("Failed to stop removed server")
		}

		for _, cam := range srv.registry.Clear() {
			srv.finalizeRemoval(cam)
		}

		m.logger.Info().Str("server_id", id).Msg("Server dropped after index change")
		m.bus.Publish(Event{Type: EventServerRemoved, ServerID: id, Time: m.clock.Now()})
	}

	for _, id := range ids {
		if _, ok := m.Server(id); ok {
			continue
		}

		if _, err := m.loadServer(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("server_id", id).Msg("Failed to load discovered server")
			continue
		}

		m.logger.Info().Str("server_id", id).Msg("Server discovered from index change")
		m.bus.Publish(Event{Type: EventServerAdded, ServerID: id, Time: m.clock.Now()})
	}
}

// removeFromOrder must be called with the write lock held.
func (m *Manager) removeFromOrder(id string) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// writeServerParams persists the add-time settings.
func writeServerParams(ctx context.Context, ss *settings.ServerSettings, params AddServerParams) error {
	port := params.Port
	if port <= 0 {
		port = settings.DefaultServerPort
	}

	steps := []func() error{
		func() error { return ss.SetHostname(ctx, params.Hostname) },
		func() error { return ss.SetPort(ctx, port) },
		func() error { return ss.SetAutoConnect(ctx, params.AutoConnect) },
	}

	if params.DisplayName != "" {
		steps = append(steps, func() error { return ss.SetDisplayName(ctx, params.DisplayName) })
	}

	if params.Username != "" {
		steps = append(steps, func() error { return ss.SetUsername(ctx, params.Username) })
	}

	if params.Password != "" {
		steps = append(steps, func() error { return ss.SetPassword(ctx, params.Password) })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("failed to write settings for server %s: %w", ss.ServerID(), err)
		}
	}

	return nil
}
