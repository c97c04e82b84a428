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

package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DefaultServerPort is the web port assumed when none is configured.
const DefaultServerPort = 7001

// Per-server keys, stored under servers/<id>/.
const (
	keyDisplayName = "display_name"
	keyHostname    = "hostname"
	keyPort        = "port"
	keyUsername    = "username"
	keyPassword    = "password"
	keyAutoConnect = "auto_connect"
	keyTLSDigest   = "tls_digest"
)

var serverKeys = []string{
	keyDisplayName,
	keyHostname,
	keyPort,
	keyUsername,
	keyPassword,
	keyAutoConnect,
	keyTLSDigest,
}

// ServerSettings is the typed accessor for one server's configuration.
// Values are cached at load time; setters write through to the store
// and fire the change hook.
type ServerSettings struct {
	store Store
	id    string

	mu       sync.RWMutex
	cache    map[string]string
	onChange func(key string)
}

// LoadServerSettings reads all known keys for the server into a cache.
func LoadServerSettings(ctx context.Context, store Store, serverID string) (*ServerSettings, error) {
	s := &ServerSettings{
		store: store,
		id:    serverID,
		cache: make(map[string]string, len(serverKeys)),
	}

	for _, key := range serverKeys {
		raw, found, err := store.Get(ctx, s.path(key))
		if err != nil {
			return nil, fmt.Errorf("failed to load server %s settings: %w", serverID, err)
		}

		if found {
			s.cache[key] = string(raw)
		}
	}

	return s, nil
}

// ServerID returns the identity these settings belong to.
func (s *ServerSettings) ServerID() string {
	return s.id
}

// OnChange registers a hook fired after every successful write.
func (s *ServerSettings) OnChange(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onChange = fn
}

func (s *ServerSettings) DisplayName() string {
	name := s.get(keyDisplayName)
	if name == "" {
		return s.Hostname()
	}

	return name
}

func (s *ServerSettings) SetDisplayName(ctx context.Context, name string) error {
	return s.set(ctx, keyDisplayName, name)
}

func (s *ServerSettings) Hostname() string {
	return s.get(keyHostname)
}

func (s *ServerSettings) SetHostname(ctx context.Context, hostname string) error {
	return s.set(ctx, keyHostname, hostname)
}

// Port returns the configured web port, defaulting to DefaultServerPort.
func (s *ServerSettings) Port() int {
	raw := s.get(keyPort)
	if raw == "" {
		return DefaultServerPort
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 {
		return DefaultServerPort
	}

	return port
}

func (s *ServerSettings) SetPort(ctx context.Context, port int) error {
	return s.set(ctx, keyPort, strconv.Itoa(port))
}

func (s *ServerSettings) Username() string {
	return s.get(keyUsername)
}

func (s *ServerSettings) SetUsername(ctx context.Context, username string) error {
	return s.set(ctx, keyUsername, username)
}

func (s *ServerSettings) Password() string {
	return s.get(keyPassword)
}

func (s *ServerSettings) SetPassword(ctx context.Context, password string) error {
	return s.set(ctx, keyPassword, password)
}

// AutoConnect reports whether the daemon should bring this server
// online at startup. Defaults to true.
func (s *ServerSettings) AutoConnect() bool {
	raw := s.get(keyAutoConnect)
	if raw == "" {
		return true
	}

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}

	return enabled
}

func (s *ServerSettings) SetAutoConnect(ctx context.Context, enabled bool) error {
	return s.set(ctx, keyAutoConnect, strconv.FormatBool(enabled))
}

// TLSDigest returns the pinned certificate fingerprint, hex encoded.
// Empty means no certificate has been seen yet.
func (s *ServerSettings) TLSDigest() string {
	return s.get(keyTLSDigest)
}

func (s *ServerSettings) SetTLSDigest(ctx context.Context, digest string) error {
	return s.set(ctx, keyTLSDigest, digest)
}

func (s *ServerSettings) ClearTLSDigest(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.path(keyTLSDigest)); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, keyTLSDigest)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(keyTLSDigest)
	}

	return nil
}

// Purge removes every key in this server's namespace.
func (s *ServerSettings) Purge(ctx context.Context) error {
	for _, key := range serverKeys {
		if err := s.store.Delete(ctx, s.path(key)); err != nil {
			return fmt.Errorf("failed to purge server %s settings: %w", s.id, err)
		}
	}

	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()

	return nil
}

func (s *ServerSettings) path(key string) string {
	return "servers/" + s.id + "/" + key
}

func (s *ServerSettings) get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cache[key]
}

func (s *ServerSettings) set(ctx context.Context, key, value string) error {
	if err := s.store.Put(ctx, s.path(key), []byte(value)); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = value
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(key)
	}

	return nil
}
