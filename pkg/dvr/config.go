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
	"time"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

// Config is the dvrsync daemon configuration.
type Config struct {
	// ListenAddr serves the gRPC health endpoint.
	ListenAddr string `json:"listen_addr"`

	// APIListenAddr serves the HTTP API and event stream.
	APIListenAddr string `json:"api_listen_addr"`

	PollInterval      models.Duration `json:"poll_interval,omitempty"`
	ReconnectInterval models.Duration `json:"reconnect_interval,omitempty"`
	SessionTimeout    models.Duration `json:"session_timeout,omitempty"`

	Settings models.SettingsConfig `json:"settings"`
	Events   models.EventsConfig   `json:"events,omitempty"`
	NATS     models.NATSConfig     `json:"nats,omitempty"`
	Database models.DatabaseConfig `json:"database,omitempty"`
	API      models.APIConfig      `json:"api,omitempty"`

	Logging *logger.Config `json:"logging,omitempty"`
}

const (
	defaultListenAddr    = ":50110"
	defaultAPIListenAddr = ":8090"
)

// Validate fills defaults and checks cross-field consistency.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.APIListenAddr == "" {
		c.APIListenAddr = defaultAPIListenAddr
	}

	if time.Duration(c.PollInterval) <= 0 {
		c.PollInterval = models.Duration(DefaultPollInterval)
	}

	if time.Duration(c.ReconnectInterval) <= 0 {
		c.ReconnectInterval = models.Duration(DefaultReconnectInterval)
	}

	if time.Duration(c.SessionTimeout) <= 0 {
		c.SessionTimeout = models.Duration(defaultSessionTimeout)
	}

	if err := c.Settings.Validate(); err != nil {
		return err
	}

	if c.Events.Enabled {
		if err := c.Events.Validate(); err != nil {
			return err
		}

		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}

	return nil
}
