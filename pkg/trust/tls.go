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

package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
)

var (
	// ErrCertificateRejected is surfaced when the presented certificate
	// does not match the pinned fingerprint.
	ErrCertificateRejected = errors.New("server certificate rejected by trust store")
	errNoPeerCertificate   = errors.New("server presented no certificate")
)

// ClientTLSConfig builds a tls.Config whose chain verification is
// replaced by the pinning decision. DVR appliances ship self-signed
// certificates, so CA verification is disabled and identity is
// established solely by the pinned fingerprint.
func ClientTLSConfig(ctx context.Context, store *Store) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // pinning replaces chain verification
		MinVersion:         tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errNoPeerCertificate
			}

			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}

			if !store.IsTrusted(ctx, cert) {
				return ErrCertificateRejected
			}

			return nil
		},
	}
}
