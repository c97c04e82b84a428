package trust

import (
	"context"
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/logger"
)

// handshake runs a full in-memory TLS handshake between a pinning
// client and a server presenting the given certificate.
func handshake(t *testing.T, store *Store, serverCert tls.Certificate) error {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	server := tls.Server(serverConn, &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
	})
	client := tls.Client(clientConn, ClientTLSConfig(context.Background(), store))

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- server.Handshake()
		_ = server.Close()
	}()

	err := client.Handshake()
	_ = client.Close()
	<-serverErr

	return err
}

func TestHandshakeFirstContactSucceeds(t *testing.T) {
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	cert, _, err := GenerateSelfSigned("dvr-1", "127.0.0.1")
	require.NoError(t, err)

	require.NoError(t, handshake(t, store, cert))
	assert.NotEmpty(t, digests.digest)
}

func TestHandshakeRejectsSwappedCertificate(t *testing.T) {
	digests := &memDigestStore{}
	store := NewStore(digests, logger.NewTestLogger())

	original, _, err := GenerateSelfSigned("dvr-1", "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, handshake(t, store, original))

	swapped, _, err := GenerateSelfSigned("dvr-1", "127.0.0.1")
	require.NoError(t, err)

	err = handshake(t, store, swapped)
	require.Error(t, err)

	// The pinned certificate still works afterwards.
	require.NoError(t, handshake(t, store, original))
}
