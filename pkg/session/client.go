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

package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/logger"
)

const (
	loginPath  = "/login"
	logoutPath = "/logout"

	defaultTimeout = 30 * time.Second

	// maxDocumentSize bounds reply bodies. Device lists for even very
	// large installations stay well under this.
	maxDocumentSize = 8 << 20

	eventBuffer = 16
)

var (
	// ErrSessionExpired is returned by Fetch when the server rejects
	// our session cookie. The client is offline afterwards.
	ErrSessionExpired = errors.New("session expired")

	// ErrLoginRejected is returned when the server refuses the
	// credentials.
	ErrLoginRejected = errors.New("login rejected")

	errUnexpectedStatus = errors.New("unexpected status")
)

// ClientConfig carries what the HTTPS client needs to reach one
// server. TLS is expected to come from the trust store so that pin
// verification happens on every handshake.
type ClientConfig struct {
	Hostname string
	Port     int
	TLS      *tls.Config
	Timeout  time.Duration
	Logger   logger.Logger
}

// Client is the HTTPS Session implementation. A cookie jar carries
// the server's session cookie between requests.
type Client struct {
	base   string
	http   *http.Client
	logger logger.Logger

	mu     sync.Mutex
	online bool
	closed bool

	events chan Event
	once   sync.Once
}

var _ Session = (*Client)(nil)

// NewClient builds a client for one server. The returned client is
// offline until Login succeeds.
func NewClient(cfg ClientConfig) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig:   cfg.TLS,
		ForceAttemptHTTP2: true,
	}

	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))

	return &Client{
		base: "https://" + addr,
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   timeout,
		},
		logger: cfg.Logger,
		events: make(chan Event, eventBuffer),
	}, nil
}

// Login posts the credentials as a form. On success the session
// cookie is retained by the jar and the client goes online.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("login failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.setOnline(false)
		return fmt.Errorf("%w: status %d", ErrLoginRejected, resp.StatusCode)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.setOnline(false)
		return fmt.Errorf("%w: login returned %d", errUnexpectedStatus, resp.StatusCode)
	}

	c.setOnline(true)

	return nil
}

// Logout tells the server to drop the session, then goes offline
// regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	defer c.setOnline(false)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+logoutPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug().Err(err).Msg("Logout request failed")
		}

		return nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
	_ = resp.Body.Close()

	return nil
}

// Online reports whether the last auth-relevant exchange succeeded.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.online
}

// Fetch retrieves one document. A 401 or 403 reply flips the session
// offline and returns ErrSessionExpired.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request for %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.setOnline(false)
		return nil, fmt.Errorf("%w: status %d on %s", ErrSessionExpired, resp.StatusCode, path)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d on %s", errUnexpectedStatus, resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return body, nil
}

// Events delivers online and offline transitions.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close shuts the event channel and drops idle connections. The
// client must not be used afterwards.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()

		c.http.CloseIdleConnections()
	})

	return nil
}

// setOnline records the state and emits an event on change. The send
// stays under the lock so it serializes with Close; a full buffer
// drops the event instead of blocking the transport path.
func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.online == online {
		return
	}

	c.online = online

	state := StateOffline
	if online {
		state = StateOnline
	}

	select {
	case c.events <- Event{State: state}:
	default:
		if c.logger != nil {
			c.logger.Warn().Str("state", state.String()).Msg("Dropping session event, buffer full")
		}
	}
}
