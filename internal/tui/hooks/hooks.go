// Package hooks bridges orchestrator events into the bubbletea program. The
// transfer core only ever sees the UIHooks interface, never the tea program.
package hooks

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"crsend/internal/desktop"
)

type PeerConnectedMsg struct{}
type PeerDisconnectedMsg struct{}
type PhotoReceivedMsg struct{ Photo *desktop.Photo }
type SendStateMsg struct{ State desktop.SendState }
type SessionFailedMsg struct{ Err error }

type UIHooks struct {
	mu      sync.Mutex
	program *tea.Program
}

func NewHooks() *UIHooks {
	return &UIHooks{}
}

// SetProgram wires the program in once it exists. The orchestrator is built
// before the program (the model needs it), so events that fire in between
// are dropped; nothing flows before Run anyway.
func (h *UIHooks) SetProgram(p *tea.Program) {
	h.mu.Lock()
	h.program = p
	h.mu.Unlock()
}

func (h *UIHooks) send(msg tea.Msg) {
	h.mu.Lock()
	p := h.program
	h.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (h *UIHooks) PeerConnected() {
	h.send(PeerConnectedMsg{})
}

func (h *UIHooks) PhotoReceived(p *desktop.Photo) {
	h.send(PhotoReceivedMsg{Photo: p})
}

func (h *UIHooks) SendStateChanged(s desktop.SendState) {
	h.send(SendStateMsg{State: s})
}

func (h *UIHooks) PeerDisconnected() {
	h.send(PeerDisconnectedMsg{})
}

func (h *UIHooks) SessionFailed(err error) {
	h.send(SessionFailedMsg{Err: err})
}
