// Package desktop runs the initiator side of a pairing session: it registers
// with the broker, waits for the phone the QR code brings in, and then either
// collects incoming photos or pushes the finished report out.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crsend/internal/channel"
	"crsend/internal/rendezvous"
	"crsend/internal/session"
	"crsend/internal/wire"
)

// SendState tracks the one-shot report transfer for UI feedback.
type SendState int

const (
	SendIdle SendState = iota
	Sending
	Sent
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case SendIdle:
		return "idle"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case SendFailed:
		return "failed"
	}
	return "unknown"
}

// Photo is one decoded capture received from the phone.
type Photo struct {
	ID         string
	Name       string
	JPEG       []byte
	FromMobile bool
	Received   time.Time
}

// Report is the finished document handed to the orchestrator for sending.
type Report struct {
	Data         []byte
	Filename     string
	PatientLabel string
}

// UIHooks decouples the orchestrator from whatever renders the session, the
// same way the transfer core never talks to a view directly anywhere else in
// this codebase.
type UIHooks interface {
	PeerConnected()
	PhotoReceived(*Photo)
	SendStateChanged(SendState)
	PeerDisconnected()
	SessionFailed(error)
}

type Mode int

const (
	ReceivePhotos Mode = iota
	SendReport
)

const registerAttempts = 3

// Orchestrator owns exactly one session and its channel. A failed session is
// closed and a new orchestrator started for the retry, there is no channel
// reuse.
type Orchestrator struct {
	rdv    *rendezvous.Client
	ui     UIHooks
	mode   Mode
	report *Report
	limit  int

	sess *session.Session
	reg  *rendezvous.Registration

	mu        sync.Mutex
	ch        *channel.Channel
	photos    []*Photo
	sendState SendState

	done     chan struct{}
	doneOnce sync.Once
}

// NewPhotoReceiver sets up a session that stays open collecting photos until
// the user dismisses it.
func NewPhotoReceiver(rdv *rendezvous.Client, ui UIHooks, payloadLimit int) *Orchestrator {
	return &Orchestrator{
		rdv:   rdv,
		ui:    ui,
		mode:  ReceivePhotos,
		limit: payloadLimit,
		done:  make(chan struct{}),
	}
}

// NewReportSender sets up a session that pushes one report to the phone as
// soon as it connects.
func NewReportSender(rdv *rendezvous.Client, report *Report, ui UIHooks, payloadLimit int) *Orchestrator {
	return &Orchestrator{
		rdv:    rdv,
		ui:     ui,
		mode:   SendReport,
		report: report,
		limit:  payloadLimit,
		done:   make(chan struct{}),
	}
}

// Open registers a fresh session with the broker and returns its id for the
// invite URL. Conflicting ids are regenerated a bounded number of times.
func (o *Orchestrator) Open(ctx context.Context) (string, error) {
	sess := session.New(ctx, session.Initiator)
	var reg *rendezvous.Registration
	var err error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		reg, err = o.rdv.Register(sess.Ctx(), sess.ID)
		if err == nil {
			break
		}
		if errors.Is(err, rendezvous.ErrRegistrationConflict) {
			slog.Debug("session id collision, regenerating", slog.String("id", sess.ID))
			sess.Regenerate()
			continue
		}
		sess.Close()
		return "", err
	}
	if err != nil {
		sess.Close()
		return "", err
	}
	sess.Adopt(reg)
	o.sess = sess
	o.reg = reg
	return sess.ID, nil
}

// Run waits for the phone, wires the channel and blocks until the session
// ends. Setup failures are terminal for the session: the UI shows a rescan
// screen, never a retry loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.reg == nil {
		return errors.New("orchestrator not opened")
	}

	ch := o.reg.Channel()
	ch.OnMessage(o.handleMessage)
	ch.OnClose(func() {
		if o.sess.Alive() {
			o.ui.PeerDisconnected()
		}
		o.finish()
	})
	if _, err := o.reg.Accept(ctx); err != nil {
		o.ui.SessionFailed(err)
		return err
	}
	// registered after Accept so the setup failure above is reported once
	ch.OnError(func(err error) {
		if o.sess.Alive() {
			o.ui.SessionFailed(err)
		}
		o.finish()
	})
	o.sess.Adopt(ch)
	o.mu.Lock()
	o.ch = ch
	o.mu.Unlock()
	o.ui.PeerConnected()

	if o.mode == SendReport {
		if err := o.Send(); err != nil {
			slog.Error("initial report send failed", slog.Any("error", err))
			// transient: the UI offers explicit retry through Send
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return nil
	}
}

func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *Orchestrator) handleMessage(msg wire.Message) {
	if !o.sess.Alive() {
		return
	}
	switch msg.Type {
	case wire.TypePhoto:
		jpeg, err := msg.PhotoBytes(o.limit)
		if err != nil {
			slog.Error("could not decode received photo", slog.Any("error", err))
			return
		}
		photo := &Photo{
			ID:         uuid.NewString(),
			Name:       fmt.Sprintf("photo-%d.jpg", time.Now().UnixMilli()),
			JPEG:       jpeg,
			FromMobile: true,
			Received:   time.Now(),
		}
		o.mu.Lock()
		o.photos = append(o.photos, photo)
		count := len(o.photos)
		o.mu.Unlock()
		slog.Info("photo received", slog.String("id", photo.ID), slog.Int("total", count))
		o.ui.PhotoReceived(photo)
	default:
		// unknown frame types are a forward compatible no-op
		slog.Debug("ignoring frame", slog.String("type", msg.Type))
	}
}

// Send transfers the report once. Public so the UI can re-invoke it after a
// transient failure; a successful send does not close the channel, the phone
// may still be in its own sharing flow.
func (o *Orchestrator) Send() error {
	if o.mode != SendReport || o.report == nil {
		return errors.New("no report to send")
	}
	o.mu.Lock()
	ch := o.ch
	o.mu.Unlock()
	if ch == nil {
		return channel.ErrChannelNotOpen
	}

	o.setSendState(Sending)
	msg, err := wire.NewPDF(o.report.Data, o.report.Filename, o.report.PatientLabel, o.limit)
	if err != nil {
		// encoding failure is fatal for this attempt only
		o.setSendState(SendFailed)
		return err
	}
	if err := ch.Send(msg); err != nil {
		o.setSendState(SendFailed)
		return err
	}
	o.setSendState(Sent)
	slog.Info("report sent",
		slog.String("filename", o.report.Filename),
		slog.Int("bytes", len(o.report.Data)),
	)
	return nil
}

func (o *Orchestrator) setSendState(s SendState) {
	o.mu.Lock()
	o.sendState = s
	o.mu.Unlock()
	o.ui.SendStateChanged(s)
}

func (o *Orchestrator) SendState() SendState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendState
}

// Photos returns the received captures in arrival order.
func (o *Orchestrator) Photos() []*Photo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Photo, len(o.photos))
	copy(out, o.photos)
	return out
}

// Close tears down the whole session: registration, channel, everything.
// Safe on every exit path, safe to call twice.
func (o *Orchestrator) Close() error {
	o.finish()
	if o.sess != nil {
		return o.sess.Close()
	}
	return nil
}

// HeadlessHooks is the no-UI implementation used by tests and the plain CLI
// mode.
type HeadlessHooks struct{}

func (HeadlessHooks) PeerConnected() {
	slog.Info("peer connected", slog.String("src", "headless ui"))
}

func (HeadlessHooks) PhotoReceived(p *Photo) {
	slog.Info("photo received", slog.String("name", p.Name), slog.String("src", "headless ui"))
}

func (HeadlessHooks) SendStateChanged(s SendState) {
	slog.Info("send state", slog.String("state", s.String()), slog.String("src", "headless ui"))
}

func (HeadlessHooks) PeerDisconnected() {
	slog.Info("peer disconnected", slog.String("src", "headless ui"))
}

func (HeadlessHooks) SessionFailed(err error) {
	slog.Error("session failed", slog.Any("error", err), slog.String("src", "headless ui"))
}
