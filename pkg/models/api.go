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

// ErrorResponse is the JSON body for API errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// UpdateServerParams carries a partial server settings update. Nil
// fields are left unchanged.
type UpdateServerParams struct {
	DisplayName *string `json:"display_name,omitempty"`
	Hostname    *string `json:"hostname,omitempty"`
	Port        *int    `json:"port,omitempty"`
	Username    *string `json:"username,omitempty"`
	Password    *string `json:"password,omitempty"`
	AutoConnect *bool   `json:"auto_connect,omitempty"`
}

// CertificateInfo describes the pinned certificate for one server.
type CertificateInfo struct {
	Pinned      bool   `json:"pinned"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Display     string `json:"display,omitempty"`
}
