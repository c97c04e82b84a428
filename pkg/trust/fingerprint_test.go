package trust

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFingerprintForms(t *testing.T) {
	cert := testCert(t, "dvr-1")
	fp := FingerprintOf(cert)

	fromHex, err := ParseFingerprint(fp.String())
	require.NoError(t, err)
	assert.True(t, fp.Equal(fromHex))

	fromDisplay, err := ParseFingerprint(fp.Display())
	require.NoError(t, err)
	assert.True(t, fp.Equal(fromDisplay))

	fromSpaced, err := ParseFingerprint("  " + fp.String() + "\n")
	require.NoError(t, err)
	assert.True(t, fp.Equal(fromSpaced))
}

func TestParseFingerprintRejectsGarbage(t *testing.T) {
	_, err := ParseFingerprint("zz")
	require.Error(t, err)

	_, err = ParseFingerprint("abcd")
	require.Error(t, err)
}

func TestDisplayFormat(t *testing.T) {
	cert := testCert(t, "dvr-1")
	display := FingerprintOf(cert).Display()

	parts := strings.Split(display, ":")
	assert.Len(t, parts, 32)

	for _, part := range parts {
		assert.Len(t, part, 2)
		assert.Equal(t, strings.ToUpper(part), part)
	}
}

func TestFingerprintsDifferPerCertificate(t *testing.T) {
	a := FingerprintOf(testCert(t, "dvr-1"))
	b := FingerprintOf(testCert(t, "dvr-1"))

	assert.False(t, a.Equal(b))
}
