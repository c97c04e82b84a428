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

// Package api provides the HTTP API for dvrsync: server inventory and
// settings, camera listings, trust management, and the live event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/dvrsync/pkg/dvr"
	"github.com/carverauto/dvrsync/pkg/eventstore"
	dvrhttp "github.com/carverauto/dvrsync/pkg/http"
	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	shutdownTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

// History provides stored event history for API reads.
// eventstore.Store satisfies this.
type History interface {
	Recent(ctx context.Context, serverID string, limit int) ([]eventstore.Record, error)
}

// APIServer exposes the manager state over HTTP.
type APIServer struct {
	addr    string
	config  models.APIConfig
	manager *dvr.Manager
	router  *mux.Router
	logger  logger.Logger
	history History

	done      chan struct{}
	closeOnce sync.Once
}

// NewAPIServer builds the server and its routes.
func NewAPIServer(addr string, config models.APIConfig, manager *dvr.Manager, log logger.Logger, options ...func(*APIServer)) *APIServer {
	s := &APIServer{
		addr:    addr,
		config:  config,
		manager: manager,
		router:  mux.NewRouter(),
		logger:  log,
		done:    make(chan struct{}),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithHistory enables the stored-event endpoints.
func WithHistory(h History) func(*APIServer) {
	return func(s *APIServer) {
		s.history = h
	}
}

// Router exposes the handler for tests and embedding.
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return dvrhttp.CommonMiddleware(next, s.config.AllowedOrigins, s.logger)
	})

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(dvrhttp.BasicAuthMiddleware(s.config.AuthHash, s.logger))

	protected.HandleFunc("/servers", s.handleListServers).Methods(http.MethodGet)
	protected.HandleFunc("/servers", s.handleAddServer).Methods(http.MethodPost)
	protected.HandleFunc("/servers/{id}", s.handleGetServer).Methods(http.MethodGet)
	protected.HandleFunc("/servers/{id}", s.handleUpdateServer).Methods(http.MethodPatch)
	protected.HandleFunc("/servers/{id}", s.handleRemoveServer).Methods(http.MethodDelete)
	protected.HandleFunc("/servers/{id}/connect", s.handleConnect).Methods(http.MethodPost)
	protected.HandleFunc("/servers/{id}/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	protected.HandleFunc("/servers/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)
	protected.HandleFunc("/servers/{id}/cameras", s.handleListCameras).Methods(http.MethodGet)
	protected.HandleFunc("/servers/{id}/certificate", s.handleGetCertificate).Methods(http.MethodGet)
	protected.HandleFunc("/servers/{id}/certificate", s.handleResetCertificate).Methods(http.MethodDelete)
	protected.HandleFunc("/servers/{id}/history", s.handleServerHistory).Methods(http.MethodGet)
	protected.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}

// Start serves until the context ends or Stop is called. Implements
// lifecycle.Service.
func (s *APIServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("API server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		s.shutdownHTTP(srv)
		return ctx.Err()
	case <-s.done:
		s.shutdownHTTP(srv)
		return nil
	}
}

// Stop ends Start.
func (s *APIServer) Stop(_ context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	return nil
}

func (s *APIServer) shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleListServers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Summaries())
}

func (s *APIServer) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var params dvr.AddServerParams
	if !s.decodeBody(w, r, &params) {
		return
	}

	srv, err := s.manager.AddServer(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, dvr.ErrServerExists):
			s.writeError(w, err.Error(), http.StatusConflict)
		default:
			s.writeError(w, err.Error(), http.StatusBadRequest)
		}

		return
	}

	s.writeJSON(w, http.StatusCreated, srv.Summary())
}

func (s *APIServer) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, srv.Summary())
}

func (s *APIServer) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var params models.UpdateServerParams
	if !s.decodeBody(w, r, &params) {
		return
	}

	if err := applyUpdate(r.Context(), srv, &params); err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, srv.Summary())
}

func (s *APIServer) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.manager.RemoveServer(r.Context(), id); err != nil {
		if errors.Is(err, dvr.ErrServerNotFound) {
			s.writeError(w, err.Error(), http.StatusNotFound)
			return
		}

		s.writeError(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	srv.Connect()
	w.WriteHeader(http.StatusAccepted)
}

func (s *APIServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	srv.Disconnect()
	w.WriteHeader(http.StatusAccepted)
}

func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	srv.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *APIServer) handleListCameras(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, srv.Cameras())
}

func (s *APIServer) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	info := models.CertificateInfo{}

	if fp, pinned := srv.Trust().Pinned(); pinned {
		info.Pinned = true
		info.Fingerprint = fp.String()
		info.Display = fp.Display()
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *APIServer) handleResetCertificate(w http.ResponseWriter, r *http.Request) {
	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if err := srv.Trust().Reset(r.Context()); err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleServerHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, "event history is not configured", http.StatusServiceUnavailable)
		return
	}

	srv, ok := s.lookup(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}

		limit = parsed
	}

	records, err := s.history.Recent(r.Context(), srv.ID(), limit)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}

// lookup resolves the server from the route, writing a 404 when it
// does not exist.
func (s *APIServer) lookup(w http.ResponseWriter, r *http.Request) (*dvr.Server, bool) {
	id := mux.Vars(r)["id"]

	srv, ok := s.manager.Server(id)
	if !ok {
		s.writeError(w, "server not found", http.StatusNotFound)
		return nil, false
	}

	return srv, true
}

func (s *APIServer) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(out); err != nil {
		s.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := models.ErrorResponse{Message: message, Status: status}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode error response", http.StatusInternalServerError)
	}
}

func applyUpdate(ctx context.Context, srv *dvr.Server, params *models.UpdateServerParams) error {
	ss := srv.Settings()

	if params.DisplayName != nil {
		if err := ss.SetDisplayName(ctx, *params.DisplayName); err != nil {
			return err
		}
	}

	if params.Hostname != nil {
		if err := ss.SetHostname(ctx, *params.Hostname); err != nil {
			return err
		}
	}

	if params.Port != nil {
		if err := ss.SetPort(ctx, *params.Port); err != nil {
			return err
		}
	}

	if params.Username != nil {
		if err := ss.SetUsername(ctx, *params.Username); err != nil {
			return err
		}
	}

	if params.Password != nil {
		if err := ss.SetPassword(ctx, *params.Password); err != nil {
			return err
		}
	}

	if params.AutoConnect != nil {
		if err := ss.SetAutoConnect(ctx, *params.AutoConnect); err != nil {
			return err
		}
	}

	return nil
}
