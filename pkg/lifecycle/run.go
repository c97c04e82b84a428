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

// Package lifecycle runs a set of long-lived services under one signal
// handler and drains them in reverse order on shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	grpcstats "google.golang.org/grpc/stats"

	grpcsrv "github.com/carverauto/dvrsync/pkg/grpc"
	"github.com/carverauto/dvrsync/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is a long-running component. Start blocks until its context is
// cancelled or Stop is called; Stop must be safe to call more than once.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// GRPCServiceRegistrar registers an additional service on the daemon's
// gRPC server.
type GRPCServiceRegistrar func(*grpc.Server) error

// ServerOptions configures RunServer.
type ServerOptions struct {
	// ListenAddr serves the gRPC health endpoint. Empty disables it.
	ListenAddr string

	// ServiceName is the name reported through the health service.
	ServiceName string

	// Services start together and stop in reverse order.
	Services []Service

	// RegisterGRPCServices add services to the shared gRPC server.
	RegisterGRPCServices []GRPCServiceRegistrar

	// EnableHealthCheck reports ServiceName as serving on the health
	// endpoint while the daemon runs.
	EnableHealthCheck bool

	// Logger is the daemon logger. Nil builds a default console logger.
	Logger logger.Logger
}

// RunServer starts every service plus the optional gRPC health endpoint
// and blocks until a service fails, the context is cancelled, or SIGINT or
// SIGTERM arrives. The first failure is returned after shutdown completes.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	log := opts.Logger
	if log == nil {
		var err error

		if log, err = logger.New(ctx, nil); err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigChan)

	errChan := make(chan error, len(opts.Services)+1)

	var grpcServer *grpcsrv.Server

	if opts.ListenAddr != "" {
		grpcServer = grpcsrv.NewServer(opts.ListenAddr, log, grpcsrv.WithTelemetryFilter(healthFilter))

		for _, register := range opts.RegisterGRPCServices {
			if register == nil {
				continue
			}

			if err := register(grpcServer.GetGRPCServer()); err != nil {
				return fmt.Errorf("failed to register gRPC service: %w", err)
			}
		}

		if opts.EnableHealthCheck && opts.ServiceName != "" {
			grpcServer.SetServing(opts.ServiceName, true)
		}

		go func() {
			errChan <- grpcServer.Start(ctx)
		}()
	}

	var wg sync.WaitGroup

	for _, svc := range opts.Services {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
	}

	var runErr error

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			runErr = err

			log.Error().Err(err).Msg("Component failed, shutting down")
		}
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if err := stopServices(shutdownCtx, log, opts.Services); err != nil && runErr == nil {
		runErr = err
	}

	if grpcServer != nil {
		if opts.EnableHealthCheck && opts.ServiceName != "" {
			grpcServer.SetServing(opts.ServiceName, false)
		}

		grpcServer.Stop(shutdownCtx)
	}

	waitDone := make(chan struct{})

	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for services to finish")
	}

	return runErr
}

// stopServices drains services in reverse start order so downstream
// consumers go away before the components they depend on.
func stopServices(ctx context.Context, log logger.Logger, services []Service) error {
	var firstErr error

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil {
			log.Error().Err(err).Int("service", i).Msg("Service stop failed")

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// healthFilter keeps health probe RPCs out of telemetry; they arrive every
// few seconds and would drown real traces.
func healthFilter(info *grpcstats.RPCTagInfo) bool {
	return !strings.HasPrefix(info.FullMethodName, "/grpc.health.v1.Health/")
}
