package session

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
)

// Role of this end of a pairing session. The initiator registers with the
// broker and shows the QR code, the responder is launched by scanning it.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// idAlphabet keeps session ids URL safe and easy to embed in a QR code.
const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const idLength = 8

// GenerateID returns a fresh session id, "cr-" plus 8 random base36 chars.
// The id is a rendezvous token, not a secret, but it must not be guessable
// from previous ids, so the chars come from crypto/rand.
func GenerateID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		panic(err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "cr-" + string(buf)
}

// Session is one pairing attempt. It owns the broker registration and the
// pairing channel for its lifetime and releases both on Close, no matter
// which exit path closed it. A failed session is discarded, never reused.
type Session struct {
	ID   string
	Role Role

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

func New(ctx context.Context, role Role) *Session {
	child, cancel := context.WithCancel(ctx)
	return &Session{
		ID:     GenerateID(),
		Role:   role,
		ctx:    child,
		cancel: cancel,
	}
}

// NewResponder builds the responder-side session for an id parsed from a
// scanned invite URL.
func NewResponder(ctx context.Context, remoteID string) *Session {
	child, cancel := context.WithCancel(ctx)
	return &Session{
		ID:     remoteID,
		Role:   Responder,
		ctx:    child,
		cancel: cancel,
	}
}

// Regenerate swaps in a fresh id after a registration conflict.
func (s *Session) Regenerate() {
	s.mu.Lock()
	s.ID = GenerateID()
	s.mu.Unlock()
}

func (s *Session) Ctx() context.Context {
	return s.ctx
}

// Alive reports whether the session is still usable. Event handlers check
// this so a late broker event never lands in a torn down orchestrator.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Adopt hands a resource to the session. It will be closed on Session.Close,
// most recently adopted first.
func (s *Session) Adopt(c io.Closer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			slog.Debug("session teardown", slog.String("id", s.ID), slog.Any("error", err))
		}
	}
	return nil
}
