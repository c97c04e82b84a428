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

package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/dvrsync/pkg/models"
)

var (
	// ErrCAFileRequired is returned when a TLS block omits the CA bundle.
	ErrCAFileRequired = errors.New("nats tls: ca_file is required")
	// ErrCAParsingFailed is returned when the CA certificate cannot be parsed.
	ErrCAParsingFailed = errors.New("nats tls: failed to parse CA certificate")
	// ErrPartialClientPair is returned when only one of cert_file and
	// key_file is set.
	ErrPartialClientPair = errors.New("nats tls: cert_file and key_file must be set together")
)

// TLSConfig builds a tls.Config for connecting to NATS. The CA bundle
// is required; the client certificate pair is optional and enables
// mTLS when present.
func TLSConfig(paths *models.TLSPaths, serverName string) (*tls.Config, error) {
	if paths.CAFile == "" {
		return nil, ErrCAFileRequired
	}

	caCert, err := os.ReadFile(paths.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrCAParsingFailed
	}

	conf := &tls.Config{
		RootCAs:    caPool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS13,
	}

	switch {
	case paths.CertFile != "" && paths.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(paths.CertFile, paths.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		conf.Certificates = []tls.Certificate{cert}
	case paths.CertFile != "" || paths.KeyFile != "":
		return nil, ErrPartialClientPair
	}

	return conf, nil
}
