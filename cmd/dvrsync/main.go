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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/carverauto/dvrsync/pkg/api"
	"github.com/carverauto/dvrsync/pkg/config"
	"github.com/carverauto/dvrsync/pkg/dvr"
	"github.com/carverauto/dvrsync/pkg/eventstore"
	"github.com/carverauto/dvrsync/pkg/lifecycle"
	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/natsutil"
	"github.com/carverauto/dvrsync/pkg/settings"
	"github.com/carverauto/dvrsync/pkg/version"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/dvrsync/dvrsync.json", "Path to dvrsync config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dvrsync %s\n", version.GetFullVersion())
		return nil
	}

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg dvr.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	daemonLogger, err := lifecycle.CreateComponentLogger(ctx, "dvrsync", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	daemonLogger.Info().
		Str("version", version.GetVersion()).
		Str("build", version.GetBuildID()).
		Msg("Starting dvrsync")

	store, err := openSettingsStore(ctx, &cfg, daemonLogger)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			daemonLogger.Error().Err(closeErr).Msg("Failed to close settings store")
		}
	}()

	mgr, err := dvr.NewManager(dvr.ManagerOptions{
		Store:             store,
		Logger:            daemonLogger,
		Metrics:           dvr.NewMetrics(),
		PollInterval:      time.Duration(cfg.PollInterval),
		ReconnectInterval: time.Duration(cfg.ReconnectInterval),
		SessionTimeout:    time.Duration(cfg.SessionTimeout),
		// Another process sharing a NATS bucket can add or remove
		// servers; follow its index edits live.
		WatchIndex: cfg.Settings.Source == "nats",
	})
	if err != nil {
		return err
	}

	services := []lifecycle.Service{mgr}

	var apiOptions []func(*api.APIServer)

	if cfg.Database.Enabled {
		pool, poolErr := eventstore.NewPool(ctx, &cfg.Database, daemonLogger)
		if poolErr != nil {
			return fmt.Errorf("failed to connect to database: %w", poolErr)
		}

		defer pool.Close()

		history := eventstore.NewStore(pool, daemonLogger)
		if schemaErr := history.EnsureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("failed to prepare event history schema: %w", schemaErr)
		}

		services = append(services, eventstore.NewBridge(mgr.Bus(), history, daemonLogger))
		apiOptions = append(apiOptions, api.WithHistory(history))
	}

	if cfg.Events.Enabled {
		nc, connErr := natsutil.Connect(&cfg.NATS, daemonLogger)
		if connErr != nil {
			return fmt.Errorf("failed to connect to NATS: %w", connErr)
		}

		defer nc.Close()

		publisher, pubErr := natsutil.CreateEventPublisher(ctx, nc, cfg.NATS.Domain, cfg.Events.StreamName, cfg.Events.Subjects)
		if pubErr != nil {
			return fmt.Errorf("failed to create event publisher: %w", pubErr)
		}

		services = append(services, natsutil.NewBridge(mgr.Bus(), publisher, daemonLogger))
	}

	services = append(services, api.NewAPIServer(cfg.APIListenAddr, cfg.API, mgr, daemonLogger, apiOptions...))

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:        cfg.ListenAddr,
		ServiceName:       "dvrsync",
		Services:          services,
		EnableHealthCheck: true,
		Logger:            daemonLogger,
	})
}

// openSettingsStore builds the settings backend named by the config.
func openSettingsStore(ctx context.Context, cfg *dvr.Config, log logger.Logger) (settings.Store, error) {
	if cfg.Settings.Source == "nats" {
		return settings.NewNATSStore(ctx, cfg.Settings.NATSURL, cfg.Settings.Bucket, log)
	}

	return settings.NewFileStore(cfg.Settings.Path)
}
