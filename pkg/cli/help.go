package cli

import "fmt"

// ShowHelp displays the help message and exits.
func ShowHelp() {
	fmt.Print(`dvrsync: dvrsync command-line tool
Usage:
  dvrsync-cli [options] [password]
  dvrsync-cli add-server [options]
  dvrsync-cli list-servers [options]
  dvrsync-cli remove-server [options]
  dvrsync-cli show-cert [options]
  dvrsync-cli pin-cert [options]

Commands:
  (default)        Generate an API credential hash from a password
  add-server       Register a DVR server in the settings store
  list-servers     List registered DVR servers
  remove-server    Remove a DVR server and its settings
  show-cert        Show the pinned certificate fingerprint for a server
  pin-cert         Probe a server's TLS certificate and pin it

Options for credential generation:
  -user string  account name baked into the hash (default "admin")
  -help         show this help message

Store options (shared by the server commands):
  -settings string  path to the settings file (default "/var/lib/dvrsync/settings.json")
  -nats-url string  NATS URL; selects the NATS-backed store when set
  -bucket string    NATS KV bucket (default "dvrsync-settings")

Options for add-server:
  -host string      DVR hostname or IP (required)
  -port int         DVR HTTPS port (default 7001)
  -name string      display name (defaults to the hostname)
  -username string  DVR account username
  -password string  DVR account password
  -auto-connect     connect when the daemon starts (default true)

Options for list-servers:
  -output string    output format: text or json (default "text")

Options for remove-server, show-cert, pin-cert:
  -id string        server id (see list-servers)
  -copy             show-cert: copy the fingerprint to the clipboard
  -yes              pin-cert: pin without asking for confirmation
  -timeout duration pin-cert: TLS probe timeout (default 10s)

Examples:
  # Generate a credential hash for the HTTP API
  dvrsync-cli -user admin mypassword
  echo mypassword | dvrsync-cli
  dvrsync-cli  # launches TUI

  # Register a DVR and pin its certificate
  dvrsync-cli add-server -settings /var/lib/dvrsync/settings.json -host dvr1.example.com -username viewer -password secret
  dvrsync-cli pin-cert -settings /var/lib/dvrsync/settings.json -id <server-id>

  # Same against a NATS-backed store
  dvrsync-cli list-servers -nats-url nats://127.0.0.1:4222 -output json
`)
}
