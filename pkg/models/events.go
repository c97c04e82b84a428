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
	"errors"
	"time"
)

var errNATSURLRequired = errors.New("nats url is required")

// NATSConfig configures NATS connectivity
type NATSConfig struct {
	URL    string    `json:"url"`
	Domain string    `json:"domain,omitempty"`
	TLS    *TLSPaths `json:"tls,omitempty"`
}

// TLSPaths points at PEM material on disk for client connections.
type TLSPaths struct {
	CAFile   string `json:"ca_file,omitempty"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Validate ensures the NATS configuration is valid
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errNATSURLRequired
	}

	return nil
}

// EventsConfig configures the outbound event publishing system
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name"`
	Subjects   []string `json:"subjects"`
}

// Validate ensures the events configuration is valid
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "dvrsync-events" // Default stream name
	}

	if len(c.Subjects) == 0 {
		// Default subjects for the events stream
		c.Subjects = []string{"events.camera.*", "events.server.*", "events.status.*"}
	}

	return nil
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// CameraEventData is the payload for camera lifecycle events.
type CameraEventData struct {
	ServerID  string    `json:"server_id"`
	CameraID  int       `json:"camera_id"`
	Name      string    `json:"name,omitempty"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusEventData is the payload for server status alert events.
type StatusEventData struct {
	ServerID  string    `json:"server_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerEventData is the payload for server lifecycle events.
type ServerEventData struct {
	ServerID  string    `json:"server_id"`
	Timestamp time.Time `json:"timestamp"`
}
