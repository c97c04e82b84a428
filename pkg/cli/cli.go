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
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	dvrhttp "github.com/carverauto/dvrsync/pkg/http"
	"github.com/carverauto/dvrsync/pkg/models"
	"github.com/carverauto/dvrsync/pkg/settings"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	hashPadding      = 2
	hashPaddingSides = 4
	focusedUser      = 0
	focusedPassword  = 1
	focusedDone      = 2
)

// Styling with lipgloss (for TUI mode).
func newStyles() struct {
	focused, focused2, help, hint, success, error, hash, app lipgloss.Style
} {
	return struct {
		focused, focused2, help, hint, success, error, hash, app lipgloss.Style
	}{
		focused: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		focused2: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
		hash: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)),
		app: lipgloss.NewStyle().
			Padding(1, hashPadding).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

func newLogStyles() logStyles {
	return logStyles{
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaCyan)),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
	}
}

func initialModel() *model {
	ui := textinput.New()
	ui.Placeholder = "Enter user (default admin)"
	ui.Focus()
	ui.Width = 40
	ui.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))
	ui.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground))
	ui.PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))

	pi := textinput.New()
	pi.Placeholder = "Enter password"
	pi.EchoMode = textinput.EchoPassword
	pi.EchoCharacter = '•'
	pi.Width = 40
	pi.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))
	pi.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground))
	pi.PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))

	canCopy := true
	if err := clipboard.WriteAll(""); err != nil {
		canCopy = false
	}

	return &model{
		userInput:     ui,
		passwordInput: pi,
		focused:       focusedUser,
		canCopy:       canCopy,
		quotes:        []string{`"`, `"`},
		styles:        newStyles(),
	}
}

func (*model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.focused == focusedUser {
		m.userInput, cmd = m.userInput.Update(msg)
	} else if m.focused == focusedPassword {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		return m.handleKeyMsg(keyMsg, cmd)
	}

	return m, cmd
}

func (m *model) handleKeyMsg(msg tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // Default case handles all unlisted keys
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m.quit()
	case tea.KeyEnter:
		return m.handleEnter(cmd)
	case tea.KeyTab:
		return m.handleTab(cmd)
	default:
		return m.handleDefault(msg, cmd)
	}
}

func (m *model) quit() (tea.Model, tea.Cmd) {
	return m, tea.Quit
}

func (m *model) handleEnter(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused == focusedUser {
		m.userInput.Blur()
		m.passwordInput.Focus()
		m.focused = focusedPassword

		return m, textinput.Blink
	}

	if m.focused == focusedPassword {
		return m.generateHash()
	}

	return m, cmd
}

func (m *model) handleTab(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused == focusedUser {
		m.userInput.Blur()
		m.passwordInput.Focus()
		m.focused = focusedPassword

		return m, textinput.Blink
	}

	if m.focused == focusedPassword {
		m.passwordInput.Blur()
		m.userInput.Focus()
		m.focused = focusedUser

		return m, textinput.Blink
	}

	return m, cmd
}

func (m *model) handleDefault(msg tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused == focusedDone && msg.String() == "c" && m.canCopy {
		if err := clipboard.WriteAll(m.hash); err != nil {
			m.copyMessage = "Failed to copy to clipboard"
		} else {
			m.copyMessage = "Hash copied to clipboard!"
		}
	}

	return m, cmd
}

func (m *model) generateHash() (tea.Model, tea.Cmd) {
	user := strings.TrimSpace(m.userInput.Value())
	if user == "" {
		user = "admin"
	}

	password := strings.TrimSpace(m.passwordInput.Value())
	if password == "" {
		m.err = errEmptyPassword

		return m, nil
	}

	hash, err := dvrhttp.HashCredentials(user, password)
	if err != nil {
		m.err = fmt.Errorf("%w: %s", errHashFailed, err.Error())

		return m, nil
	}

	m.hash = hash
	m.err = nil
	m.focused = focusedDone
	m.copyMessage = ""

	return m, nil
}

func (m *model) View() string {
	var content strings.Builder

	styles := m.styles

	// Title
	title := lipgloss.JoinHorizontal(
		lipgloss.Top,
		lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple)).Render("🔒 "),
		styles.focused.Render("dvrsync CLI: API Credential Generator"),
	)

	content.WriteString(title + "\n\n")

	// Input or Result
	if m.focused < focusedDone {
		content.WriteString(m.renderInputView(&styles))
	} else {
		content.WriteString(m.renderResultView(&styles))
	}

	// Error
	if m.err != nil {
		content.WriteString("\n\n")
		content.WriteString(styles.error.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return styles.app.Align(lipgloss.Left).Render(content.String())
}

func (m *model) renderInputView(styles *struct {
	focused, focused2, help, hint, success, error, hash, app lipgloss.Style
}) string {
	var content strings.Builder

	// User section
	userLabel := styles.focused2.Render("User:")
	userSection := lipgloss.JoinVertical(
		lipgloss.Left,
		userLabel,
		m.userInput.View(),
	)
	content.WriteString(userSection + "\n\n")

	// Password section
	passwordLabel := styles.focused2.Render("Password:")
	passwordSection := lipgloss.JoinVertical(
		lipgloss.Left,
		passwordLabel,
		m.passwordInput.View(),
	)
	content.WriteString(passwordSection + "\n\n")

	// Help
	content.WriteString(styles.help.Render("Enter → next field | Tab → switch field | Ctrl+C/Esc → quit"))

	return content.String()
}

func (m *model) renderResultView(styles *struct {
	focused, focused2, help, hint, success, error, hash, app lipgloss.Style
}) string {
	var content strings.Builder

	// Hash section
	hashLabel := styles.focused2.Render("Generated Credential Hash:")
	displayHash := fmt.Sprintf("%s%s%s", m.quotes[0], m.hash, m.quotes[1])
	hashWidth := len(displayHash) + hashPaddingSides
	dynamicHashStyle := styles.hash.
		Width(hashWidth).
		Padding(0, hashPadding)
	hashBox := dynamicHashStyle.Render(displayHash)
	hashSection := lipgloss.JoinVertical(
		lipgloss.Left,
		hashLabel,
		hashBox,
	)
	content.WriteString(hashSection + "\n\n")

	// Hint and help
	hint := "Double-click to copy (or select and Ctrl+Shift+C)"
	if m.canCopy {
		hint = "Press C to copy (or select and Ctrl+Shift+C)"
	}

	hintSection := lipgloss.JoinVertical(
		lipgloss.Left,
		styles.hint.Render(hint),
		styles.help.Render("Ctrl+C/Esc → quit"),
	)

	if m.copyMessage != "" {
		hintSection = m.renderCopyMessage(hintSection, styles)
	}

	content.WriteString(hintSection)

	return content.String()
}

func (m *model) renderCopyMessage(hintSection string, styles *struct {
	focused, focused2, help, hint, success, error, hash, app lipgloss.Style
}) string {
	messageStyle := styles.success
	if strings.HasPrefix(m.copyMessage, "Failed") {
		messageStyle = styles.error
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		hintSection,
		messageStyle.Render(m.copyMessage),
	)
}

// generateHashNonInteractive handles non-interactive mode.
func generateHashNonInteractive(user, password string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errEmptyUser
	}

	if strings.TrimSpace(password) == "" {
		return "", errEmptyPassword
	}

	hash, err := dvrhttp.HashCredentials(user, strings.TrimSpace(password))
	if err != nil {
		return "", fmt.Errorf("%w: %s", errHashFailed, err.Error())
	}

	return hash, nil
}

// SubcommandHandler defines the interface for parsing subcommand flags.
type SubcommandHandler interface {
	Parse(args []string, cfg *CmdConfig) error
}

// storeFlags registers the shared settings-store flags on a flag set.
type storeFlags struct {
	settingsPath *string
	natsURL      *string
	natsBucket   *string
}

func addStoreFlags(fs *flag.FlagSet) *storeFlags {
	return &storeFlags{
		settingsPath: fs.String("settings", models.DefaultSettingsPath, "path to the settings file"),
		natsURL:      fs.String("nats-url", "", "NATS URL; selects the NATS-backed store when set"),
		natsBucket:   fs.String("bucket", models.DefaultSettingsBucket, "NATS KV bucket"),
	}
}

func (f *storeFlags) apply(cfg *CmdConfig) {
	cfg.SettingsPath = *f.settingsPath
	cfg.NATSURL = *f.natsURL
	cfg.NATSBucket = *f.natsBucket
}

// AddServerHandler handles flags for the add-server subcommand.
type AddServerHandler struct{}

// Parse processes the command-line arguments for the add-server subcommand.
func (AddServerHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("add-server", flag.ExitOnError)
	store := addStoreFlags(fs)
	name := fs.String("name", "", "display name (defaults to the hostname)")
	host := fs.String("host", "", "DVR hostname or IP (required)")
	port := fs.Int("port", settings.DefaultServerPort, "DVR HTTPS port")
	username := fs.String("username", "", "DVR account username")
	password := fs.String("password", "", "DVR account password")
	autoConnect := fs.Bool("auto-connect", true, "connect when the daemon starts")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing add-server flags: %w", err)
	}

	store.apply(cfg)
	cfg.DisplayName = *name
	cfg.Hostname = *host
	cfg.Port = *port
	cfg.Username = *username
	cfg.Password = *password
	cfg.AutoConnect = *autoConnect

	return nil
}

// ListServersHandler handles flags for the list-servers subcommand.
type ListServersHandler struct{}

// Parse processes the command-line arguments for the list-servers subcommand.
func (ListServersHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("list-servers", flag.ExitOnError)
	store := addStoreFlags(fs)
	output := fs.String("output", "text", "output format: text or json")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing list-servers flags: %w", err)
	}

	store.apply(cfg)
	cfg.Output = strings.ToLower(strings.TrimSpace(*output))

	return nil
}

// RemoveServerHandler handles flags for the remove-server subcommand.
type RemoveServerHandler struct{}

// Parse processes the command-line arguments for the remove-server subcommand.
func (RemoveServerHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("remove-server", flag.ExitOnError)
	store := addStoreFlags(fs)
	id := fs.String("id", "", "server id (see list-servers)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing remove-server flags: %w", err)
	}

	store.apply(cfg)
	cfg.ServerID = strings.TrimSpace(*id)

	return nil
}

// ShowCertHandler handles flags for the show-cert subcommand.
type ShowCertHandler struct{}

// Parse processes the command-line arguments for the show-cert subcommand.
func (ShowCertHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("show-cert", flag.ExitOnError)
	store := addStoreFlags(fs)
	id := fs.String("id", "", "server id (see list-servers)")
	copyFlag := fs.Bool("copy", false, "copy the fingerprint to the clipboard")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing show-cert flags: %w", err)
	}

	store.apply(cfg)
	cfg.ServerID = strings.TrimSpace(*id)
	cfg.CopyToClipboard = *copyFlag

	return nil
}

// PinCertHandler handles flags for the pin-cert subcommand.
type PinCertHandler struct{}

// Parse processes the command-line arguments for the pin-cert subcommand.
func (PinCertHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("pin-cert", flag.ExitOnError)
	store := addStoreFlags(fs)
	id := fs.String("id", "", "server id (see list-servers)")
	yes := fs.Bool("yes", false, "pin without asking for confirmation")
	timeout := fs.Duration("timeout", defaultProbeTimeout, "TLS probe timeout")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing pin-cert flags: %w", err)
	}

	store.apply(cfg)
	cfg.ServerID = strings.TrimSpace(*id)
	cfg.AssumeYes = *yes
	cfg.ProbeTimeout = *timeout

	return nil
}

// ParseFlags parses command-line flags and subcommands
func ParseFlags() (*CmdConfig, error) {
	// Default flags for credential hash generation
	help := flag.Bool("help", false, "show help message")
	user := flag.String("user", "admin", "account name baked into the hash")
	flag.Parse()

	cfg := &CmdConfig{
		Help: *help,
		User: *user,
		Args: flag.Args(),
	}

	// Check for subcommand
	if len(os.Args) > 1 {
		cfg.SubCmd = os.Args[1]
	}

	// Define subcommands and their handlers
	subcommands := map[string]SubcommandHandler{
		"add-server":    AddServerHandler{},
		"list-servers":  ListServersHandler{},
		"remove-server": RemoveServerHandler{},
		"show-cert":     ShowCertHandler{},
		"pin-cert":      PinCertHandler{},
	}

	// Parse subcommand flags if present
	if handler, exists := subcommands[cfg.SubCmd]; exists {
		if err := handler.Parse(os.Args[2:], cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// RunHashNonInteractive handles non-interactive credential hash generation.
func RunHashNonInteractive(user string, args []string) error {
	password, err := getPasswordInput(args)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	hash, err := generateHashNonInteractive(user, password)
	if err != nil {
		return fmt.Errorf("generating credential hash: %w", err)
	}

	fmt.Println(hash)

	return nil
}

// RunInteractive runs the TUI for interactive mode.
func RunInteractive() error {
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	_, err := p.Run()

	return err
}

func getPasswordInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if !IsInputFromTerminal() {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(data)), nil
	}

	return "", nil
}

// IsInputFromTerminal determines if input is coming from a terminal or being piped/redirected.
func IsInputFromTerminal() bool {
	fileInfo, _ := os.Stdin.Stat()

	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
