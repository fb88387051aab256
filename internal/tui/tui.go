package tui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"crsend/internal/desktop"
	"crsend/internal/tui/hooks"
)

type screenState uint

const (
	waitingScreen screenState = iota
	connectedScreen
	failedScreen
	closedScreen
)

type KeyMap struct {
	Quit  key.Binding
	Retry key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "dismiss session"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry send"),
		),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Retry, k.Quit}}
}

// Model renders the desktop session: the QR invite while waiting, then the
// transfer status. It never computes state on its own, it only displays what
// the orchestrator reported last.
type Model struct {
	screen    screenState
	spinner   spinner.Model
	help      help.Model
	KeyMap    KeyMap
	inviteURL string
	qr        string
	mode      desktop.Mode
	photos    int
	sendState desktop.SendState
	err       error
	orch      *desktop.Orchestrator
}

func NewModel(orch *desktop.Orchestrator, mode desktop.Mode, inviteURL string, qr string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		screen:    waitingScreen,
		spinner:   sp,
		help:      help.New(),
		KeyMap:    DefaultKeyMap(),
		inviteURL: inviteURL,
		qr:        qr,
		mode:      mode,
		orch:      orch,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.KeyMap.Quit):
			m.orch.Close()
			return m, tea.Quit
		case key.Matches(msg, m.KeyMap.Retry):
			if m.mode == desktop.SendReport && m.sendState == desktop.SendFailed {
				orch := m.orch
				return m, func() tea.Msg {
					if err := orch.Send(); err != nil {
						slog.Debug("retry send failed", slog.Any("error", err))
					}
					return nil
				}
			}
		}
	case hooks.PeerConnectedMsg:
		m.screen = connectedScreen
	case hooks.PhotoReceivedMsg:
		m.photos++
	case hooks.SendStateMsg:
		m.sendState = msg.State
	case hooks.PeerDisconnectedMsg:
		m.screen = closedScreen
	case hooks.SessionFailedMsg:
		m.screen = failedScreen
		m.err = msg.Err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	switch m.screen {
	case waitingScreen:
		b.WriteString("Scan to pair your phone\n\n")
		b.WriteString(m.qr)
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s\n\n", m.inviteURL)
		fmt.Fprintf(&b, "%s waiting for the phone to connect...\n", m.spinner.View())
	case connectedScreen:
		b.WriteString("Phone connected\n\n")
		if m.mode == desktop.ReceivePhotos {
			fmt.Fprintf(&b, "Photos received: %d\n", m.photos)
			b.WriteString("Take photos from the phone, they appear here.\n")
		} else {
			fmt.Fprintf(&b, "Report transfer: %s\n", m.sendState)
			if m.sendState == desktop.SendFailed {
				b.WriteString("The report did not go through. Press r to retry.\n")
			}
		}
	case failedScreen:
		fmt.Fprintf(&b, "Connection failed: %v\n", m.err)
		b.WriteString("Close this session and scan a fresh QR code.\n")
	case closedScreen:
		b.WriteString("Phone disconnected.\n")
		if m.mode == desktop.ReceivePhotos {
			fmt.Fprintf(&b, "Photos received this session: %d\n", m.photos)
		}
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.KeyMap))
	return b.String()
}
