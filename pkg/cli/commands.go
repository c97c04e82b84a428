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

package cli

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"github.com/carverauto/dvrsync/pkg/logger"
	"github.com/carverauto/dvrsync/pkg/settings"
	"github.com/carverauto/dvrsync/pkg/trust"
)

const defaultProbeTimeout = 10 * time.Second

// openStore builds the settings store the flags selected. A non-empty
// NATS URL wins over the file path.
func openStore(ctx context.Context, cfg *CmdConfig) (settings.Store, error) {
	if cfg.NATSURL != "" {
		log, err := logger.New(ctx, &logger.Config{Level: "warn", Output: "stderr"})
		if err != nil {
			return nil, err
		}

		return settings.NewNATSStore(ctx, cfg.NATSURL, cfg.NATSBucket, log)
	}

	if cfg.SettingsPath == "" {
		return nil, errStoreRequired
	}

	return settings.NewFileStore(cfg.SettingsPath)
}

func closeStore(store settings.Store, styles logStyles) {
	if err := store.Close(); err != nil {
		fmt.Println(styles.warning.Render("[WARN] Failed to close settings store: " + err.Error()))
	}
}

// restartReminder tells the operator when an edit will not be picked up
// until the daemon restarts. NATS-backed stores are watched live.
func restartReminder(cfg *CmdConfig, styles logStyles) {
	if cfg.NATSURL == "" {
		fmt.Println(styles.info.Render("[INFO] Remember to restart the dvrsync daemon to apply file-store changes:"))
		fmt.Println(styles.info.Render("[INFO]   systemctl restart dvrsync"))
	}
}

// RunAddServer handles the add-server subcommand.
func RunAddServer(ctx context.Context, cfg *CmdConfig) error {
	if cfg.Hostname == "" {
		return errHostnameRequired
	}

	styles := newLogStyles()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, styles)

	id := uuid.NewString()

	st, err := settings.LoadServerSettings(ctx, store, id)
	if err != nil {
		return fmt.Errorf("loading server settings: %w", err)
	}

	name := cfg.DisplayName
	if name == "" {
		name = cfg.Hostname
	}

	if err := st.SetDisplayName(ctx, name); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	if err := st.SetHostname(ctx, cfg.Hostname); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	if err := st.SetPort(ctx, cfg.Port); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	if err := st.SetUsername(ctx, cfg.Username); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	if err := st.SetPassword(ctx, cfg.Password); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	if err := st.SetAutoConnect(ctx, cfg.AutoConnect); err != nil {
		return fmt.Errorf("writing server settings: %w", err)
	}

	ids, err := settings.Index(ctx, store)
	if err != nil {
		return fmt.Errorf("loading server index: %w", err)
	}

	if err := settings.SaveIndex(ctx, store, append(ids, id)); err != nil {
		return fmt.Errorf("saving server index: %w", err)
	}

	fmt.Println(styles.success.Render(fmt.Sprintf("Added server %q with id %s", name, id)))
	restartReminder(cfg, styles)

	return nil
}

// RunListServers handles the list-servers subcommand.
func RunListServers(ctx context.Context, cfg *CmdConfig) error {
	if cfg.Output != "text" && cfg.Output != "json" {
		return errUnknownOutput
	}

	styles := newLogStyles()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, styles)

	ids, err := settings.Index(ctx, store)
	if err != nil {
		return fmt.Errorf("loading server index: %w", err)
	}

	rows := make([]serverRow, 0, len(ids))

	for _, id := range ids {
		st, err := settings.LoadServerSettings(ctx, store, id)
		if err != nil {
			fmt.Println(styles.warning.Render("[WARN] Skipping unreadable server " + id + ": " + err.Error()))
			continue
		}

		rows = append(rows, serverRow{
			ID:          id,
			Name:        st.DisplayName(),
			Hostname:    st.Hostname(),
			Port:        st.Port(),
			AutoConnect: st.AutoConnect(),
			TLSPinned:   st.TLSDigest() != "",
		})
	}

	if cfg.Output == "json" {
		data, err := json.MarshalIndent(rows, "", "    ")
		if err != nil {
			return fmt.Errorf("encoding server list: %w", err)
		}

		fmt.Println(string(data))

		return nil
	}

	if len(rows) == 0 {
		fmt.Println(styles.info.Render("[INFO] No servers registered"))
		return nil
	}

	fmt.Println(styles.info.Render(fmt.Sprintf("%-36s  %-20s  %-25s  %-5s  %s", "ID", "NAME", "ADDRESS", "AUTO", "PINNED")))

	for _, row := range rows {
		addr := net.JoinHostPort(row.Hostname, strconv.Itoa(row.Port))
		fmt.Printf("%-36s  %-20s  %-25s  %-5t  %t\n", row.ID, row.Name, addr, row.AutoConnect, row.TLSPinned)
	}

	return nil
}

// RunRemoveServer handles the remove-server subcommand.
func RunRemoveServer(ctx context.Context, cfg *CmdConfig) error {
	if cfg.ServerID == "" {
		return errServerIDRequired
	}

	styles := newLogStyles()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, styles)

	ids, err := settings.Index(ctx, store)
	if err != nil {
		return fmt.Errorf("loading server index: %w", err)
	}

	remaining := make([]string, 0, len(ids))
	found := false

	for _, id := range ids {
		if id == cfg.ServerID {
			found = true
			continue
		}

		remaining = append(remaining, id)
	}

	if !found {
		return fmt.Errorf("%w: %s", errUnknownServer, cfg.ServerID)
	}

	st, err := settings.LoadServerSettings(ctx, store, cfg.ServerID)
	if err != nil {
		return fmt.Errorf("loading server settings: %w", err)
	}

	if err := st.Purge(ctx); err != nil {
		return fmt.Errorf("purging server settings: %w", err)
	}

	if err := settings.SaveIndex(ctx, store, remaining); err != nil {
		return fmt.Errorf("saving server index: %w", err)
	}

	fmt.Println(styles.success.Render("Removed server " + cfg.ServerID))
	restartReminder(cfg, styles)

	return nil
}

// RunShowCert handles the show-cert subcommand.
func RunShowCert(ctx context.Context, cfg *CmdConfig) error {
	if cfg.ServerID == "" {
		return errServerIDRequired
	}

	styles := newLogStyles()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, styles)

	st, err := settings.LoadServerSettings(ctx, store, cfg.ServerID)
	if err != nil {
		return fmt.Errorf("loading server settings: %w", err)
	}

	digest := st.TLSDigest()
	if digest == "" {
		return fmt.Errorf("%w: %s", errNoPinnedCert, cfg.ServerID)
	}

	fp, err := trust.ParseFingerprint(digest)
	if err != nil {
		return fmt.Errorf("stored fingerprint for %s is corrupt: %w", cfg.ServerID, err)
	}

	fmt.Println(styles.info.Render("Server:      " + st.DisplayName()))
	fmt.Println(styles.info.Render("Fingerprint: " + fp.Display()))

	if cfg.CopyToClipboard {
		if err := clipboard.WriteAll(fp.String()); err != nil {
			fmt.Println(styles.warning.Render("[WARN] Failed to copy to clipboard: " + err.Error()))
		} else {
			fmt.Println(styles.success.Render("Fingerprint copied to clipboard"))
		}
	}

	return nil
}

// RunPinCert handles the pin-cert subcommand. It probes the server's
// TLS endpoint, shows the presented certificate, and pins it on
// confirmation.
func RunPinCert(ctx context.Context, cfg *CmdConfig) error {
	if cfg.ServerID == "" {
		return errServerIDRequired
	}

	styles := newLogStyles()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, styles)

	st, err := settings.LoadServerSettings(ctx, store, cfg.ServerID)
	if err != nil {
		return fmt.Errorf("loading server settings: %w", err)
	}

	if st.Hostname() == "" {
		return fmt.Errorf("%w: %s", errUnknownServer, cfg.ServerID)
	}

	addr := net.JoinHostPort(st.Hostname(), strconv.Itoa(st.Port()))

	cert, err := fetchServerCertificate(ctx, addr, cfg.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("probing %s: %w", addr, err)
	}

	presented := trust.FingerprintOf(cert)

	fmt.Println(styles.info.Render("Subject:     " + cert.Subject.String()))
	fmt.Println(styles.info.Render("Issuer:      " + cert.Issuer.String()))
	fmt.Println(styles.info.Render("Valid:       " + cert.NotBefore.Format(time.RFC3339) + " to " + cert.NotAfter.Format(time.RFC3339)))
	fmt.Println(styles.info.Render("Fingerprint: " + presented.Display()))

	if stored := st.TLSDigest(); stored != "" {
		pinned, parseErr := trust.ParseFingerprint(stored)
		if parseErr == nil && pinned.Equal(presented) {
			fmt.Println(styles.success.Render("Certificate is already pinned"))
			return nil
		}

		fmt.Println(styles.warning.Render("[WARN] This replaces a different pinned certificate"))
	}

	if !cfg.AssumeYes && !confirmPin(os.Stdin) {
		return errPinDeclined
	}

	if err := st.SetTLSDigest(ctx, presented.String()); err != nil {
		return fmt.Errorf("persisting fingerprint: %w", err)
	}

	fmt.Println(styles.success.Render("Pinned certificate for " + st.DisplayName()))
	restartReminder(cfg, styles)

	return nil
}

// fetchServerCertificate completes a TLS handshake with the server and
// returns its leaf certificate without trusting it.
func fetchServerCertificate(ctx context.Context, addr string, timeout time.Duration) (*x509.Certificate, error) {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // the operator inspects and pins the result
			MinVersion:         tls.VersionTLS12,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = conn.Close()
	}()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, errNoCertificate
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, errNoCertificate
	}

	return certs[0], nil
}

// confirmPin asks the operator to approve the pin on the given input.
func confirmPin(in *os.File) bool {
	fmt.Print("Pin this certificate? [y/N]: ")

	reader := bufio.NewReader(in)

	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
