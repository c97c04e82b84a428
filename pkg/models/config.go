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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration is a wrapper around time.Duration that unmarshals from either a
// duration string ("60s") or nanoseconds as a JSON number.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// Default locations for the settings store backends.
const (
	DefaultSettingsPath   = "/var/lib/dvrsync/settings.json"
	DefaultSettingsBucket = "dvrsync-settings"
)

// SettingsConfig selects where server entries and pinned certificates live.
type SettingsConfig struct {
	Source  string `json:"source"` // "file" or "nats"
	Path    string `json:"path,omitempty"`
	NATSURL string `json:"nats_url,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
}

// Validate ensures the settings configuration is coherent.
func (c *SettingsConfig) Validate() error {
	switch c.Source {
	case "", "file":
		c.Source = "file"
		if c.Path == "" {
			c.Path = DefaultSettingsPath
		}
	case "nats":
		if c.NATSURL == "" {
			return errSettingsNATSURL
		}

		if c.Bucket == "" {
			c.Bucket = DefaultSettingsBucket
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownSettingsSource, c.Source)
	}

	return nil
}

var (
	errSettingsNATSURL       = errors.New("settings source nats requires nats_url")
	errUnknownSettingsSource = errors.New("unknown settings source")
)

// DatabaseConfig configures the optional Postgres event history sink.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode,omitempty"`
	MaxConns int32  `json:"max_conns,omitempty"`
}

// Validate applies defaults and checks required fields when enabled.
func (c *DatabaseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Host == "" {
		return errDatabaseHostRequired
	}

	if c.Port == 0 {
		c.Port = 5432
	}

	if c.Database == "" {
		c.Database = "dvrsync"
	}

	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}

	return nil
}

var errDatabaseHostRequired = errors.New("database host is required when enabled")

// APIConfig configures the HTTP API surface.
type APIConfig struct {
	// AuthHash is a bcrypt hash; empty disables basic auth.
	AuthHash       string   `json:"auth_hash,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}
