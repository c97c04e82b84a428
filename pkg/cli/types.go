package cli

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
)

// CmdConfig holds parsed command-line configuration.
type CmdConfig struct {
	Help   bool
	SubCmd string
	User   string
	Args   []string

	SettingsPath string
	NATSURL      string
	NATSBucket   string

	ServerID    string
	DisplayName string
	Hostname    string
	Port        int
	Username    string
	Password    string
	AutoConnect bool

	Output          string
	CopyToClipboard bool
	AssumeYes       bool
	ProbeTimeout    time.Duration
}

// logStyles defines styles for logging messages
type logStyles struct {
	info, success, warning, error lipgloss.Style
}

type model struct {
	userInput     textinput.Model
	passwordInput textinput.Model
	hash          string
	err           error
	focused       int
	copyMessage   string
	canCopy       bool
	quotes        []string
	styles        struct {
		focused, focused2, help, hint, success, error, hash, app lipgloss.Style
	}
}

// serverRow is one line of list-servers output.
type serverRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Hostname    string `json:"hostname"`
	Port        int    `json:"port"`
	AutoConnect bool   `json:"auto_connect"`
	TLSPinned   bool   `json:"tls_pinned"`
}
