package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/dvrsync/pkg/models"
)

func TestAddServerHandlerParse(t *testing.T) {
	cfg := &CmdConfig{}

	err := AddServerHandler{}.Parse([]string{
		"-settings", "/tmp/settings.json",
		"-host", "dvr1.example.com",
		"-port", "7443",
		"-name", "Lobby",
		"-username", "viewer",
		"-password", "secret",
		"-auto-connect=false",
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/settings.json", cfg.SettingsPath)
	assert.Equal(t, "dvr1.example.com", cfg.Hostname)
	assert.Equal(t, 7443, cfg.Port)
	assert.Equal(t, "Lobby", cfg.DisplayName)
	assert.Equal(t, "viewer", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.False(t, cfg.AutoConnect)
}

func TestAddServerHandlerDefaults(t *testing.T) {
	cfg := &CmdConfig{}

	require.NoError(t, AddServerHandler{}.Parse([]string{"-host", "dvr"}, cfg))

	assert.Equal(t, models.DefaultSettingsPath, cfg.SettingsPath)
	assert.Equal(t, models.DefaultSettingsBucket, cfg.NATSBucket)
	assert.Equal(t, 7001, cfg.Port)
	assert.True(t, cfg.AutoConnect)
}

func TestListServersHandlerParse(t *testing.T) {
	cfg := &CmdConfig{}

	require.NoError(t, ListServersHandler{}.Parse([]string{"-output", " JSON "}, cfg))

	assert.Equal(t, "json", cfg.Output)
}

func TestShowCertHandlerParse(t *testing.T) {
	cfg := &CmdConfig{}

	require.NoError(t, ShowCertHandler{}.Parse([]string{"-id", " abc ", "-copy"}, cfg))

	assert.Equal(t, "abc", cfg.ServerID)
	assert.True(t, cfg.CopyToClipboard)
}

func TestPinCertHandlerParse(t *testing.T) {
	cfg := &CmdConfig{}

	require.NoError(t, PinCertHandler{}.Parse([]string{
		"-nats-url", "nats://127.0.0.1:4222",
		"-bucket", "custom",
		"-id", "abc",
		"-yes",
		"-timeout", "3s",
	}, cfg))

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "custom", cfg.NATSBucket)
	assert.Equal(t, "abc", cfg.ServerID)
	assert.True(t, cfg.AssumeYes)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
}
