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

// Package grpc wraps the gRPC server that carries the daemon's health
// endpoint and any additional registered services.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	grpcstats "google.golang.org/grpc/stats"

	"github.com/carverauto/dvrsync/pkg/logger"
)

var errInternalError = errors.New("internal error")

const shutdownTimer = 5 * time.Second

// ServerOption modifies Server configuration before the underlying gRPC
// server is built.
type ServerOption func(*Server)

// TelemetryFilter decides which RPCs emit OpenTelemetry stats. Returning
// false suppresses the RPC.
type TelemetryFilter func(*grpcstats.RPCTagInfo) bool

// Server wraps a gRPC server with health reporting, logging and recovery
// interceptors, and optional OpenTelemetry instrumentation.
type Server struct {
	srv               *grpc.Server
	healthCheck       *health.Server
	addr              string
	logger            logger.Logger
	mu                sync.RWMutex
	services          map[string]struct{}
	serverOpts        []grpc.ServerOption
	healthRegistered  bool
	telemetryDisabled bool
	telemetryFilter   TelemetryFilter
}

// NewServer creates a gRPC server listening configuration for addr.
func NewServer(addr string, log logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		logger:   log,
		services: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	defaultOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(log),
			RecoveryInterceptor(log),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: true,
		}),
	}

	if !s.telemetryDisabled {
		handlerOpts := []otelgrpc.Option{}
		if s.telemetryFilter != nil {
			handlerOpts = append(handlerOpts, otelgrpc.WithFilter(func(info *grpcstats.RPCTagInfo) bool {
				return s.telemetryFilter(info)
			}))
		}

		defaultOpts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler(handlerOpts...))}, defaultOpts...)
	}

	s.serverOpts = append(defaultOpts, s.serverOpts...)
	s.srv = grpc.NewServer(s.serverOpts...)
	s.healthCheck = health.NewServer()

	reflection.Register(s.srv)

	return s
}

// WithServerOptions adds raw gRPC server options.
func WithServerOptions(opt ...grpc.ServerOption) ServerOption {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, opt...)
	}
}

// WithTelemetryFilter configures which RPCs emit telemetry.
func WithTelemetryFilter(filter TelemetryFilter) ServerOption {
	return func(s *Server) {
		s.telemetryFilter = filter
	}
}

// WithTelemetryDisabled disables OpenTelemetry stats handling entirely.
func WithTelemetryDisabled() ServerOption {
	return func(s *Server) {
		s.telemetryDisabled = true
	}
}

// GetGRPCServer returns the underlying gRPC server for service registration.
func (s *Server) GetGRPCServer() *grpc.Server {
	return s.srv
}

// RegisterService registers a service and marks it serving.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[desc.ServiceName] = struct{}{}
	s.srv.RegisterService(desc, impl)
	s.healthCheck.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// SetServing flips the health status of a named service. An empty name
// addresses the server-wide status.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.healthCheck.SetServingStatus(service, status)
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.healthRegistered {
		healthpb.RegisterHealthServer(s.srv, s.healthCheck)
		s.healthRegistered = true
	}
	s.mu.Unlock()

	lc := &net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// Stop drains the server, marking registered services not-serving first so
// health watchers see the transition before connections close.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, cancel := context.WithTimeout(ctx, shutdownTimer)
	defer cancel()

	s.healthCheck.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	for service := range s.services {
		s.healthCheck.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	stopped := make(chan struct{})

	go func() {
		s.srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-time.After(shutdownTimer):
		s.logger.Warn().Msg("gRPC server shutdown timed out, forcing stop")
		s.srv.Stop()
	}
}

type loggerKey struct{}

// LoggingInterceptor logs RPC completions and injects a trace-aware logger
// into the handler context.
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		requestLogger := log

		if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
			spanCtx := span.SpanContext()
			requestLogger = &loggerWrapper{logger: log.WithFields(map[string]interface{}{
				"trace_id": spanCtx.TraceID().String(),
				"span_id":  spanCtx.SpanID().String(),
			})}
		}

		newCtx := context.WithValue(ctx, loggerKey{}, requestLogger)

		resp, err := handler(newCtx, req)

		requestLogger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("gRPC call")

		return resp, err
	}
}

// RecoveryInterceptor converts handler panics into internal errors.
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("Recovered from panic")

				err = errInternalError
			}
		}()

		return handler(ctx, req)
	}
}

// FromContext retrieves the request-scoped logger injected by
// LoggingInterceptor, falling back to a discard logger.
func FromContext(ctx context.Context) logger.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logger.Logger); ok {
		return l
	}

	return logger.NewTestLogger()
}

// loggerWrapper adapts a zerolog.Logger back into the logger.Logger
// interface for request-scoped loggers.
type loggerWrapper struct {
	logger zerolog.Logger
}

func (l *loggerWrapper) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *loggerWrapper) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *loggerWrapper) Info() *zerolog.Event  { return l.logger.Info() }
func (l *loggerWrapper) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *loggerWrapper) Error() *zerolog.Event { return l.logger.Error() }
func (l *loggerWrapper) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *loggerWrapper) Panic() *zerolog.Event { return l.logger.Panic() }
func (l *loggerWrapper) With() zerolog.Context { return l.logger.With() }

func (l *loggerWrapper) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

func (l *loggerWrapper) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return ctx.Logger()
}

func (l *loggerWrapper) SetLevel(level zerolog.Level) {
	l.logger = l.logger.Level(level)
}

func (l *loggerWrapper) SetDebug(debug bool) {
	if debug {
		l.logger = l.logger.Level(zerolog.DebugLevel)
	} else {
		l.logger = l.logger.Level(zerolog.InfoLevel)
	}
}
