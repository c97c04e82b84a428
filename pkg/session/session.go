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

// Package session maintains the authenticated HTTPS session to one
// DVR server and surfaces its online state.
package session

import "context"

// State is the session's authentication state.
type State int

const (
	// StateOffline means no valid session exists.
	StateOffline State = iota
	// StateOnline means the server accepted our credentials.
	StateOnline
)

// String returns the state name used in logs and events.
func (s State) String() string {
	if s == StateOnline {
		return "online"
	}

	return "offline"
}

// Event reports a state transition. Only changes are delivered.
type Event struct {
	State State
}

// Paths fetched during a poll cycle. These are the only two documents
// the sync engine requests.
const (
	DevicesPath = "/devices.xml"
	StatsPath   = "/stats.xml"
)

// Session is the transport facade the poll scheduler drives. All
// blocking calls honor their context.
type Session interface {
	// Login authenticates and brings the session online.
	Login(ctx context.Context, username, password string) error

	// Logout drops the server-side session and goes offline.
	Logout(ctx context.Context) error

	// Online reports the current session state.
	Online() bool

	// Fetch retrieves one document by path. An authentication
	// rejection flips the session offline before returning.
	Fetch(ctx context.Context, path string) ([]byte, error)

	// Events delivers state transitions. The channel closes when the
	// session is closed.
	Events() <-chan Event

	// Close releases transport resources.
	Close() error
}
