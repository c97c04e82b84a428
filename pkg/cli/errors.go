package cli

import "errors"

var (
	errEmptyPassword    = errors.New("password cannot be empty")
	errEmptyUser        = errors.New("user cannot be empty")
	errHashFailed       = errors.New("failed to generate hash")
	errHostnameRequired = errors.New("add-server requires -host")
	errServerIDRequired = errors.New("a server id is required (-id)")
	errStoreRequired    = errors.New("a settings store is required (-settings or -nats-url)")
	errUnknownServer    = errors.New("server is not in the settings store")
	errNoCertificate    = errors.New("server presented no certificate")
	errNoPinnedCert     = errors.New("no certificate pinned for this server")
	errPinDeclined      = errors.New("certificate not pinned")
	errUnknownOutput    = errors.New(`output must be "text" or "json"`)
)
