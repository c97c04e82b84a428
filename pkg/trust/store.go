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
	"crypto/x509"
	"sync"

	"github.com/carverauto/dvrsync/pkg/logger"
)

// DigestStore persists one server's pinned fingerprint.
// settings.ServerSettings satisfies this.
type DigestStore interface {
	TLSDigest() string
	SetTLSDigest(ctx context.Context, digest string) error
	ClearTLSDigest(ctx context.Context) error
}

// Store decides whether a presented certificate is trusted for one
// server. The first certificate ever seen is pinned silently; after
// that only an exact fingerprint match passes until an operator
// explicitly re-pins.
type Store struct {
	digests DigestStore
	logger  logger.Logger
	mu      sync.Mutex
}

// NewStore binds a trust store to a server's digest persistence.
func NewStore(digests DigestStore, log logger.Logger) *Store {
	return &Store{
		digests: digests,
		logger:  log,
	}
}

// IsTrusted implements the trust-on-first-use decision. With no pinned
// fingerprint the certificate is pinned and accepted; otherwise it is
// accepted only when its fingerprint matches the pin exactly.
func (s *Store) IsTrusted(ctx context.Context, cert *x509.Certificate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	presented := FingerprintOf(cert)

	stored := s.digests.TLSDigest()
	if stored == "" {
		if err := s.digests.SetTLSDigest(ctx, presented.String()); err != nil {
			// First contact still succeeds; the pin is retried on the
			// next handshake.
			s.logger.Error().Err(err).
				Str("fingerprint", presented.String()).
				Msg("Failed to persist first-seen certificate fingerprint")
		} else {
			s.logger.Info().
				Str("fingerprint", presented.Display()).
				Msg("Pinned first-seen server certificate")
		}

		return true
	}

	pinned, err := ParseFingerprint(stored)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stored certificate fingerprint is corrupt; rejecting connection")
		return false
	}

	if !pinned.Equal(presented) {
		s.logger.Warn().
			Str("pinned", pinned.Display()).
			Str("presented", presented.Display()).
			Msg("Server certificate does not match pinned fingerprint")

		return false
	}

	return true
}

// Pin overwrites the stored fingerprint with the presented
// certificate's. This is the explicit operator acceptance path.
func (s *Store) Pin(ctx context.Context, cert *x509.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := FingerprintOf(cert)
	if err := s.digests.SetTLSDigest(ctx, fp.String()); err != nil {
		return err
	}

	s.logger.Info().Str("fingerprint", fp.Display()).Msg("Re-pinned server certificate")

	return nil
}

// Pinned returns the stored fingerprint, if any.
func (s *Store) Pinned() (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.digests.TLSDigest()
	if stored == "" {
		return Fingerprint{}, false
	}

	fp, err := ParseFingerprint(stored)
	if err != nil {
		return Fingerprint{}, false
	}

	return fp, true
}

// Reset forgets the pinned fingerprint so the next connection pins fresh.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.digests.ClearTLSDigest(ctx)
}
