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

// Package models contains the shared data types exchanged between the
// dvrsync packages and its external surfaces.
package models

import "time"

// Camera is one recording device on a DVR server. Identity is the
// numeric ID the server assigns; every other field is descriptive and
// refreshed in place on each poll.
type Camera struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Protocol    string    `json:"protocol,omitempty"`
	ResolutionX int       `json:"resolution_x,omitempty"`
	ResolutionY int       `json:"resolution_y,omitempty"`
	PTZ         bool      `json:"ptz"`
	Disabled    bool      `json:"disabled"`
	Online      bool      `json:"online"`
	FirstSeen   time.Time `json:"first_seen,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
}

// ServerSummary is the API-facing view of one managed DVR server.
type ServerSummary struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Hostname      string `json:"hostname"`
	Port          int    `json:"port"`
	StreamingPort int    `json:"streaming_port"`
	Online        bool   `json:"online"`
	DevicesReady  bool   `json:"devices_ready"`
	CameraCount   int    `json:"camera_count"`
	StatusAlert   string `json:"status_alert,omitempty"`
	AutoConnect   bool   `json:"auto_connect"`
}
