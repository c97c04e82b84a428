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

// Package settings persists server entries, credentials and pinned
// certificate fingerprints behind a small key/value store interface.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWatchUnsupported is returned by stores that cannot deliver key
// change notifications.
var ErrWatchUnsupported = errors.New("watch not supported by this store")

// Store is the persistence interface for settings. Keys are
// slash-separated paths; values are opaque bytes.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string) (<-chan []byte, error)
	Close() error
}

// indexKey holds the JSON list of known server IDs.
const indexKey = "servers/index"

// Index returns the list of server IDs recorded in the store.
func Index(ctx context.Context, store Store) ([]string, error) {
	raw, found, err := store.Get(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read server index: %w", err)
	}

	if !found || len(raw) == 0 {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode server index: %w", err)
	}

	return ids, nil
}

// SaveIndex replaces the list of known server IDs.
func SaveIndex(ctx context.Context, store Store, ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode server index: %w", err)
	}

	if err := store.Put(ctx, indexKey, raw); err != nil {
		return fmt.Errorf("failed to write server index: %w", err)
	}

	return nil
}

// WatchIndex subscribes to server index changes. Stores without watch
// support return ErrWatchUnsupported.
func WatchIndex(ctx context.Context, store Store) (<-chan []byte, error) {
	return store.Watch(ctx, indexKey)
}
