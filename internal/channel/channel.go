// Package channel wraps one established peer connection behind a small state
// machine. There is exactly one authoritative transition function; everything
// user facing just renders the current state.
package channel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"crsend/internal/wire"
)

type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// ErrChannelNotOpen is returned by Send in every state except Open. A send
// must never silently drop.
var ErrChannelNotOpen = errors.New("pairing channel is not open")

// Channel is owned by exactly one orchestrator. Closed and Errored are
// terminal: a failed channel is discarded together with its session, never
// reconnected.
type Channel struct {
	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	// gorilla allows one concurrent writer, handlers may send from the pump
	writeMu sync.Mutex

	onMessage func(wire.Message)
	onOpen    func()
	onClose   func()
	onError   func(error)
}

func New() *Channel {
	return &Channel{state: Idle}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Single consumer per event, matching how the orchestrators use the channel.
func (c *Channel) OnMessage(h func(wire.Message)) { c.mu.Lock(); c.onMessage = h; c.mu.Unlock() }
func (c *Channel) OnOpen(h func())                { c.mu.Lock(); c.onOpen = h; c.mu.Unlock() }
func (c *Channel) OnClose(h func())               { c.mu.Lock(); c.onClose = h; c.mu.Unlock() }
func (c *Channel) OnError(h func(error))          { c.mu.Lock(); c.onError = h; c.mu.Unlock() }

// transition is the only place state is allowed to change.
func (c *Channel) transition(to State) bool {
	switch to {
	case Connecting:
		return c.state == Idle && c.set(to)
	case Open:
		return c.state == Connecting && c.set(to)
	case Closed:
		return (c.state == Connecting || c.state == Open) && c.set(to)
	case Errored:
		return (c.state == Connecting || c.state == Open) && c.set(to)
	}
	return false
}

func (c *Channel) set(to State) bool {
	slog.Debug("channel transition", slog.String("from", c.state.String()), slog.String("to", to.String()))
	c.state = to
	return true
}

// StartConnecting marks the channel as being negotiated. Idle only.
func (c *Channel) StartConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(Connecting)
}

// Attach binds the negotiated connection, moves to Open and starts the read
// pump. The rendezvous client calls this once the broker reports a pair.
func (c *Channel) Attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if !c.transition(Open) {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	opened := c.onOpen
	c.mu.Unlock()

	if opened != nil {
		opened()
	}
	go c.pump(conn)
	return true
}

// Send writes one frame. Fire and forget: a nil return means the local write
// succeeded, not that the peer decoded it.
func (c *Channel) Send(msg wire.Message) error {
	c.mu.Lock()
	if c.state != Open {
		st := c.state
		c.mu.Unlock()
		return errors.Join(ErrChannelNotOpen, errors.New("state "+st.String()))
	}
	conn := c.conn
	c.mu.Unlock()

	raw, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		c.Fail(err)
		return err
	}
	return nil
}

// Close is idempotent; closing an already finished channel is a no-op. No
// events are delivered after Close returns the channel to its owner.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed || c.state == Errored {
		c.mu.Unlock()
		return nil
	}
	wasOpen := c.state == Open
	c.transition(Closed)
	conn := c.conn
	c.conn = nil
	closed := c.onClose
	c.mu.Unlock()

	if conn != nil {
		// polite close frame so the peer lands in Closed, not Errored
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if wasOpen && closed != nil {
		closed()
	}
	return nil
}

// Fail moves the channel to Errored. Used for transport failures and setup
// timeouts. Terminal like Closed.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	if !c.transition(Errored) {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	errored := c.onError
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if errored != nil {
		errored(err)
	}
}

// pump reads frames until the connection dies. Dispatch is sequential, so
// messages reach the handler in send order.
func (c *Channel) pump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.pumpClosed(err)
			return
		}
		msg, err := wire.Unmarshal(raw)
		if err != nil {
			slog.Debug("dropping malformed frame", slog.Any("error", err))
			continue
		}
		c.mu.Lock()
		if c.state != Open {
			// channel was torn down while the frame was in flight
			c.mu.Unlock()
			return
		}
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Channel) pumpClosed(err error) {
	c.mu.Lock()
	if c.state != Open {
		// local Close or Fail already ran, nothing to report
		c.mu.Unlock()
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.transition(Closed)
		conn := c.conn
		c.conn = nil
		closed := c.onClose
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if closed != nil {
			closed()
		}
		return
	}
	c.transition(Errored)
	conn := c.conn
	c.conn = nil
	errored := c.onError
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if errored != nil {
		errored(err)
	}
}
