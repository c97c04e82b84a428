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

// Package trust implements trust-on-first-use certificate pinning for
// DVR server connections.
package trust

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var errBadFingerprintLength = errors.New("fingerprint must be 32 bytes")

// Fingerprint is the SHA-256 digest of a certificate in DER form.
type Fingerprint [sha256.Size]byte

// FingerprintOf digests the raw certificate.
func FingerprintOf(cert *x509.Certificate) Fingerprint {
	return sha256.Sum256(cert.Raw)
}

// String returns the lowercase hex encoding used for persistence.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Display returns the colon-separated uppercase form shown to operators.
func (f Fingerprint) Display() string {
	var b strings.Builder

	for i, octet := range f {
		if i > 0 {
			b.WriteByte(':')
		}

		fmt.Fprintf(&b, "%02X", octet)
	}

	return b.String()
}

// Equal compares fingerprints in constant time.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return subtle.ConstantTimeCompare(f[:], other[:]) == 1
}

// ParseFingerprint accepts either the hex or the colon-separated form.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint

	cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return f, fmt.Errorf("invalid fingerprint encoding: %w", err)
	}

	if len(raw) != sha256.Size {
		return f, errBadFingerprintLength
	}

	copy(f[:], raw)

	return f, nil
}
