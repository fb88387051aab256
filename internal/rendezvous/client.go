// Package rendezvous is the client side of the broker: reserve a session id,
// wait for the peer the QR code brings in, or connect to a session somebody
// else registered. Registration and connection are separate steps so the QR
// code can be on screen before any responder exists.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crsend/internal/broker"
	"crsend/internal/channel"
	"crsend/internal/wire"
)

var (
	// ErrRegistrationConflict: the id is taken, regenerate and try again.
	ErrRegistrationConflict = errors.New("session id already registered")
	// ErrBrokerUnreachable: network-level failure talking to the broker.
	ErrBrokerUnreachable = errors.New("rendezvous broker unreachable")
	// ErrPeerNotFound: nobody registered that session id, or it expired.
	ErrPeerNotFound = errors.New("no peer registered under that session id")
	// ErrConnectTimeout: the connect attempt did not finish in time.
	ErrConnectTimeout = errors.New("timed out connecting to peer")
)

const DefaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	timeout time.Duration
	dialer  *websocket.Dialer
}

// NewClient takes the broker base URL (http, https, ws or wss scheme) and the
// timeout applied to connect attempts.
func NewClient(brokerURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: brokerURL,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

func (c *Client) endpoint(path string, sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("bad broker url %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad broker url scheme %q", u.Scheme)
	}
	u.Path = path
	u.RawQuery = url.Values{"session": []string{sessionID}}.Encode()
	return u.String(), nil
}

// Registration is a reserved session id waiting for its responder. Closing
// it before Accept releases the reservation at the broker.
type Registration struct {
	SessionID string

	mu       sync.Mutex
	conn     *websocket.Conn
	ch       *channel.Channel
	accepted bool
	closed   bool
}

// Register reserves sessionID with the broker. The returned registration
// holds the open broker socket; the caller either Accepts a peer on it or
// Closes it.
func (c *Client) Register(ctx context.Context, sessionID string) (*Registration, error) {
	ep, err := c.endpoint(broker.RegisterPath, sessionID)
	if err != nil {
		return nil, err
	}
	ch := channel.New()
	ch.StartConnecting()

	conn, resp, err := c.dialer.DialContext(ctx, ep, nil)
	if err != nil {
		ch.Fail(err)
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrRegistrationConflict, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	slog.Debug("registered with broker", slog.String("session", sessionID))
	return &Registration{SessionID: sessionID, conn: conn, ch: ch}, nil
}

// Accept blocks until the responder shows up and returns the open channel.
// This is the initiator's passive wait; exactly one peer per session, so it
// yields at most one channel. Cancelling ctx abandons the wait and errors
// the channel.
func (r *Registration) Accept(ctx context.Context) (*channel.Channel, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("registration already closed")
	}
	conn := r.conn
	ch := r.ch
	r.mu.Unlock()

	// unblock the read when the caller gives up
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			conn.Close()
			ch.Fail(err)
			r.markClosed()
			return nil, fmt.Errorf("waiting for peer: %w", err)
		}
		msg, err := wire.Unmarshal(raw)
		if err != nil {
			slog.Debug("dropping malformed broker frame", slog.Any("error", err))
			continue
		}
		if msg.Type != wire.TypePaired {
			// not for us yet; anything unknown stays a no-op
			continue
		}
		break
	}

	conn.SetReadDeadline(time.Time{})
	r.mu.Lock()
	r.accepted = true
	r.mu.Unlock()
	ch.Attach(conn)
	slog.Info("peer connected", slog.String("session", r.SessionID))
	return ch, nil
}

// Channel exposes the not-yet-open channel so the owner can register its
// handlers before Accept attaches the connection. Otherwise a frame the
// responder fires right after pairing could race handler registration.
func (r *Registration) Channel() *channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch
}

func (r *Registration) markClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Close releases the broker reservation. After a successful Accept the
// channel owns the socket and Close is a no-op.
func (r *Registration) Close() error {
	r.mu.Lock()
	if r.closed || r.accepted {
		r.closed = true
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	ch := r.ch
	r.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	if ch != nil {
		ch.Fail(errors.New("registration released"))
	}
	return nil
}

// ConnectTo dials a session somebody already registered. The responder path:
// a successful upgrade means the broker had the session and paired us, so the
// channel opens immediately. A non-nil configure runs before the channel
// attaches, giving the caller a chance to register handlers without racing
// the first inbound frame.
func (c *Client) ConnectTo(ctx context.Context, remoteSessionID string, configure func(*channel.Channel)) (*channel.Channel, error) {
	ep, err := c.endpoint(broker.ConnectPath, remoteSessionID)
	if err != nil {
		return nil, err
	}
	ch := channel.New()
	ch.StartConnecting()
	if configure != nil {
		configure(ch)
	}

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dctx, ep, nil)
	if err != nil {
		ch.Fail(err)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, remoteSessionID)
		}
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, remoteSessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	ch.Attach(conn)
	slog.Info("connected to peer", slog.String("session", remoteSessionID))
	return ch, nil
}
