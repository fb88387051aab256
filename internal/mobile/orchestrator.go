// Package mobile runs the responder side: launched from a scanned invite
// URL, it connects straight back to the session id in the URL and then either
// streams camera captures to the desktop or receives the finished report for
// sharing.
package mobile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crsend/internal/channel"
	"crsend/internal/invite"
	"crsend/internal/rendezvous"
	"crsend/internal/session"
	"crsend/internal/wire"
)

// Status mirrors the screen states of the phone UI.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusReceived
	StatusClosed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReceived:
		return "received"
	case StatusClosed:
		return "closed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// CameraSource produces one JPEG per shutter press. The hardware negotiation
// behind it (zoom, torch, focus) is not this package's business. If the
// source also implements io.Closer it is released with the session.
type CameraSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// ShareSink receives the decoded report for the platform's share or download
// affordance.
type ShareSink interface {
	Share(doc *ReceivedDocument) error
}

// ReceivedDocument is the decoded pdf frame.
type ReceivedDocument struct {
	Filename     string
	PatientLabel string
	Data         []byte
}

// DefaultFilename is used when the sender did not name the document.
const DefaultFilename = "compte-rendu.pdf"

// CapturedAsset is the on-screen record of one sent photo. Append only,
// session lifetime, used for the "N photos sent" confirmation.
type CapturedAsset struct {
	ID   string
	Name string
	Size int
	Sent time.Time
}

type Orchestrator struct {
	rdv    *rendezvous.Client
	inv    *invite.Invite
	camera CameraSource
	sink   ShareSink
	limit  int

	sess *session.Session

	mu     sync.Mutex
	ch     *channel.Channel
	status Status
	assets []CapturedAsset

	docs chan *ReceivedDocument
	done chan struct{}
	once sync.Once
}

func New(rdv *rendezvous.Client, inv *invite.Invite, camera CameraSource, sink ShareSink, payloadLimit int) *Orchestrator {
	return &Orchestrator{
		rdv:    rdv,
		inv:    inv,
		camera: camera,
		sink:   sink,
		limit:  payloadLimit,
		status: StatusConnecting,
		docs:   make(chan *ReceivedDocument, 1),
		done:   make(chan struct{}),
	}
}

// Connect dials the session from the invite. Failure is terminal: a stale QR
// code fails closed and the user rescans, there is no retry loop.
func (o *Orchestrator) Connect(ctx context.Context) error {
	sess := session.NewResponder(ctx, o.inv.SessionID)
	o.sess = sess

	ch, err := o.rdv.ConnectTo(sess.Ctx(), o.inv.SessionID, func(ch *channel.Channel) {
		ch.OnMessage(o.handleMessage)
		ch.OnClose(func() {
			o.setStatus(StatusClosed)
			o.finish()
		})
		ch.OnError(func(err error) {
			slog.Error("channel failed", slog.Any("error", err))
			o.setStatus(StatusFailed)
			o.finish()
		})
	})
	if err != nil {
		o.setStatus(StatusFailed)
		sess.Close()
		return err
	}
	sess.Adopt(ch)
	if closer, ok := o.camera.(io.Closer); ok {
		// camera hardware goes away with the session
		sess.Adopt(closer)
	}
	o.mu.Lock()
	o.ch = ch
	o.mu.Unlock()
	o.setStatus(StatusConnected)
	return nil
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) finish() {
	o.once.Do(func() { close(o.done) })
}

// Done is closed when the channel ends, however it ends.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// CapturePhoto takes one shot and sends it immediately. There is no local
// queue: one shutter press, one send. A failed send reports that photo as
// failed without tearing the session down, the user just retakes it.
func (o *Orchestrator) CapturePhoto(ctx context.Context) (*CapturedAsset, error) {
	if o.camera == nil {
		return nil, errors.New("no camera source")
	}
	jpeg, err := o.camera.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	msg, err := wire.NewPhoto(jpeg, o.limit)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	ch := o.ch
	o.mu.Unlock()
	if ch == nil {
		return nil, channel.ErrChannelNotOpen
	}
	if err := ch.Send(msg); err != nil {
		return nil, fmt.Errorf("photo not sent: %w", err)
	}

	asset := CapturedAsset{
		ID:   uuid.NewString(),
		Name: fmt.Sprintf("photo-%d.jpg", time.Now().UnixMilli()),
		Size: len(jpeg),
		Sent: time.Now(),
	}
	o.mu.Lock()
	o.assets = append(o.assets, asset)
	total := len(o.assets)
	o.mu.Unlock()
	slog.Info("photo sent", slog.String("name", asset.Name), slog.Int("total", total))
	return &asset, nil
}

// Assets returns the sent photos in capture order.
func (o *Orchestrator) Assets() []CapturedAsset {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]CapturedAsset, len(o.assets))
	copy(out, o.assets)
	return out
}

func (o *Orchestrator) handleMessage(msg wire.Message) {
	if o.sess != nil && !o.sess.Alive() {
		return
	}
	switch msg.Type {
	case wire.TypePDF:
		data, err := msg.PDFBytes(o.limit)
		if err != nil {
			slog.Error("could not decode received document", slog.Any("error", err))
			return
		}
		doc := &ReceivedDocument{
			Filename:     msg.Filename,
			PatientLabel: msg.PatientName,
			Data:         data,
		}
		if doc.Filename == "" {
			doc.Filename = DefaultFilename
		}
		o.setStatus(StatusReceived)
		select {
		case o.docs <- doc:
		default:
			// exactly one document per session; extras are dropped
			slog.Debug("dropping extra document frame", slog.String("filename", doc.Filename))
		}
	default:
		slog.Debug("ignoring frame", slog.String("type", msg.Type))
	}
}

// AwaitDocument blocks for the single pdf frame of the session, hands it to
// the share sink and returns it.
func (o *Orchestrator) AwaitDocument(ctx context.Context) (*ReceivedDocument, error) {
	select {
	case doc := <-o.docs:
		if o.sink != nil {
			if err := o.sink.Share(doc); err != nil {
				return doc, fmt.Errorf("share failed: %w", err)
			}
		}
		return doc, nil
	case <-o.done:
		return nil, errors.New("channel closed before a document arrived")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the session, channel and camera. Idempotent.
func (o *Orchestrator) Close() error {
	o.finish()
	if o.sess != nil {
		return o.sess.Close()
	}
	return nil
}
