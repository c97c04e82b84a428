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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/logger"
)

// memDigestStore is an in-memory DigestStore for tests.
type memDigestStore struct {
	digest  string
	failSet bool
}

var errSetRefused = errors.New("set refused")

func (m *memDigestStore) TLSDigest() string {
	return m.digest
}

func (m *memDigestStore) SetTLSDigest(_ context.Context, digest string) error {
	if m.failSet {
		return errSetRefused
	}

	m.digest = digest

	return nil
}

func (m *memDigestStore) ClearTLSDigest(_ context.Context) error {
	m.digest = ""
	return nil
}

func testCert(t *testing.T, name string) *x509.Certificate {
	t.Helper()

	_, leaf, err := GenerateSelfSigned(name, "localhost")
	require.NoError(t, err)

	return leaf
}

func TestFirstContactPinsAndAccepts(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	cert := testCert(t, "dvr-1")

	assert.True(t, store.IsTrusted(ctx, cert))
	assert.Equal(t, FingerprintOf(cert).String(), digests.digest)

	// Same certificate keeps passing.
	assert.True(t, store.IsTrusted(ctx, cert))
}

func TestChangedCertificateRejected(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	original := testCert(t, "dvr-1")
	require.True(t, store.IsTrusted(ctx, original))

	imposter := testCert(t, "dvr-1")
	assert.False(t, store.IsTrusted(ctx, imposter))

	// The pin must be unchanged by the rejection.
	assert.Equal(t, FingerprintOf(original).String(), digests.digest)

	// And the original still passes.
	assert.True(t, store.IsTrusted(ctx, original))
}

func TestExplicitRePinAcceptsNewCertificate(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	original := testCert(t, "dvr-1")
	require.True(t, store.IsTrusted(ctx, original))

	replacement := testCert(t, "dvr-1")
	require.False(t, store.IsTrusted(ctx, replacement))

	require.NoError(t, store.Pin(ctx, replacement))

	assert.True(t, store.IsTrusted(ctx, replacement))
	assert.False(t, store.IsTrusted(ctx, original))
}

func TestCorruptStoredDigestRejects(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{digest: "zz-not-hex"}
	store := NewStore(digests, logger.NewTestLogger())

	assert.False(t, store.IsTrusted(ctx, testCert(t, "dvr-1")))
}

func TestFirstContactSurvivesPersistFailure(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{failSet: true}
	store := NewStore(digests, logger.NewTestLogger())

	cert := testCert(t, "dvr-1")

	// Connection proceeds; the pin is retried on the next handshake.
	assert.True(t, store.IsTrusted(ctx, cert))
	assert.Empty(t, digests.digest)

	digests.failSet = false
	assert.True(t, store.IsTrusted(ctx, cert))
	assert.Equal(t, FingerprintOf(cert).String(), digests.digest)
}

func TestPinnedAndReset(t *testing.T) {
	ctx := context.Background()
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	_, ok := store.Pinned()
	assert.False(t, ok)

	cert := testCert(t, "dvr-1")
	require.True(t, store.IsTrusted(ctx, cert))

	fp, ok := store.Pinned()
	require.True(t, ok)
	assert.True(t, fp.Equal(FingerprintOf(cert)))

	require.NoError(t, store.Reset(ctx))

	_, ok = store.Pinned()
	assert.False(t, ok)

	// Next contact pins fresh.
	other := testCert(t, "dvr-2")
	assert.True(t, store.IsTrusted(ctx, other))
}
