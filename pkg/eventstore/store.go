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

// Package eventstore persists the event history to Postgres.
package eventstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/models"
)

const (
	applicationName = "dvrsync"

	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// Record is one persisted event row.
type Record struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Type       string    `json:"type"`
	ServerID   string    `json:"server_id"`
	CameraID   *int      `json:"camera_id,omitempty"`
	CameraName string    `json:"camera_name,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// NewPool dials the configured Postgres database and returns a pgx
// pool. A nil or disabled config returns a nil pool.
func NewPool(ctx context.Context, cfg *models.DatabaseConfig, log logger.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	connURL := buildConnURL(cfg)

	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to initialize pool: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to event history database")

	return pool, nil
}

func buildConnURL(cfg *models.DatabaseConfig) url.URL {
	connURL := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		if cfg.Password != "" {
			connURL.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			connURL.User = url.User(cfg.Username)
		}
	}

	query := connURL.Query()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	query.Set("sslmode", sslMode)
	query.Set("application_name", applicationName)

	connURL.RawQuery = query.Encode()

	return connURL
}

// Store reads and writes camera_events rows.
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewStore wraps a pool.
func NewStore(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS camera_events (
		id          BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		event_type  TEXT NOT NULL,
		server_id   TEXT NOT NULL,
		camera_id   INT,
		camera_name TEXT NOT NULL DEFAULT '',
		message     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_camera_events_server_time
		ON camera_events (server_id, occurred_at DESC)`,
}

// EnsureSchema creates the history table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("eventstore: acquire connection: %w", err)
	}
	defer conn.Release()

	for i, stmt := range schemaStatements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("eventstore: schema statement %d failed: %w", i+1, err)
		}
	}

	return nil
}

const insertEventSQL = `INSERT INTO camera_events
	(occurred_at, event_type, server_id, camera_id, camera_name, message)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Append writes one record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	occurred := rec.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, insertEventSQL,
		occurred, rec.Type, rec.ServerID, rec.CameraID, rec.CameraName, rec.Message)
	if err != nil {
		return fmt.Errorf("eventstore: failed to append event: %w", err)
	}

	return nil
}

const recentEventsSQL = `SELECT id, occurred_at, event_type, server_id, camera_id, camera_name, message
	FROM camera_events
	WHERE ($1 = '' OR server_id = $1)
	ORDER BY occurred_at DESC, id DESC
	LIMIT $2`

// Recent returns the newest records, optionally filtered to one server.
func (s *Store) Recent(ctx context.Context, serverID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > maxRecentLimit {
		limit = defaultRecentLimit
	}

	rows, err := s.pool.Query(ctx, recentEventsSQL, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to query events: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)

	for rows.Next() {
		var rec Record

		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &rec.Type, &rec.ServerID,
			&rec.CameraID, &rec.CameraName, &rec.Message); err != nil {
			return nil, fmt.Errorf("eventstore: failed to scan event row: %w", err)
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: failed to iterate event rows: %w", err)
	}

	return out, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
