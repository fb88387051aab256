// Package broker implements the rendezvous service. It reserves session ids
// for initiators, matches responders to them and then bridges frames between
// the two sockets until either side drops. Sessions live in memory only and
// unclaimed registrations expire after a TTL.
package broker

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"crsend/internal/wire"
)

const (
	RegisterPath = "/api/crsend/v1/register"
	ConnectPath  = "/api/crsend/v1/connect"

	// DefaultTTL is how long a shown QR code stays scannable.
	DefaultTTL = 10 * time.Minute
)

type endpoint struct {
	id      string
	session string
	conn    *websocket.Conn
	created time.Time

	writeMu sync.Mutex
	peer    *endpoint // set on both sides once paired
}

func (e *endpoint) write(messageType int, data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteMessage(messageType, data)
}

type Hub struct {
	ttl      time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	waiting map[string]*endpoint // session id -> registered initiator
}

func NewHub(ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Hub{
		ttl:     ttl,
		waiting: make(map[string]*endpoint),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the invite URL is the access control, origins do not matter here
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router exposes the two rendezvous endpoints.
func (h *Hub) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(RegisterPath, h.handleRegister)
	r.HandleFunc(ConnectPath, h.handleConnect)
	return r
}

// Run sweeps expired registrations until ctx is done. Callers start it next
// to the http server.
func (h *Hub) Run(done <-chan struct{}) {
	ticker := time.NewTicker(h.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	cutoff := time.Now().Add(-h.ttl)
	h.mu.Lock()
	var expired []*endpoint
	for sess, ep := range h.waiting {
		if ep.created.Before(cutoff) {
			delete(h.waiting, sess)
			expired = append(expired, ep)
		}
	}
	h.mu.Unlock()
	for _, ep := range expired {
		slog.Info("registration expired", slog.String("session", ep.session), slog.String("endpoint", ep.id))
		ep.conn.Close()
	}
}

func (h *Hub) handleRegister(w http.ResponseWriter, r *http.Request) {
	sess := r.URL.Query().Get("session")
	if sess == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	// reserve before upgrading so a conflict is a clean 409, not a dead socket
	h.mu.Lock()
	if _, taken := h.waiting[sess]; taken {
		h.mu.Unlock()
		slog.Info("registration conflict", slog.String("session", sess))
		http.Error(w, "session already registered", http.StatusConflict)
		return
	}
	ep := &endpoint{id: uuid.NewString(), session: sess, created: time.Now()}
	h.waiting[sess] = ep
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.release(ep)
		slog.Debug("register upgrade failed", slog.String("session", sess), slog.Any("error", err))
		return
	}
	ep.conn = conn
	slog.Info("session registered", slog.String("session", sess), slog.String("endpoint", ep.id))
	go h.serve(ep)
}

func (h *Hub) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess := r.URL.Query().Get("session")
	if sess == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	initiator, ok := h.waiting[sess]
	if ok {
		delete(h.waiting, sess)
	}
	h.mu.Unlock()
	if !ok {
		slog.Info("connect to unknown session", slog.String("session", sess))
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// put the initiator back, the QR code is still valid
		h.mu.Lock()
		h.waiting[sess] = initiator
		h.mu.Unlock()
		slog.Debug("connect upgrade failed", slog.String("session", sess), slog.Any("error", err))
		return
	}
	responder := &endpoint{id: uuid.NewString(), session: sess, created: time.Now(), conn: conn}

	initiator.peer = responder
	responder.peer = initiator

	paired, _ := wire.Marshal(wire.Message{Type: wire.TypePaired})
	if err := initiator.write(websocket.TextMessage, paired); err != nil {
		slog.Info("initiator gone at pairing time", slog.String("session", sess), slog.Any("error", err))
		initiator.conn.Close()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "peer lost"))
		conn.Close()
		return
	}
	slog.Info("session paired",
		slog.String("session", sess),
		slog.String("initiator", initiator.id),
		slog.String("responder", responder.id),
	)
	go h.serve(responder)
}

// serve owns the read side of one endpoint for its whole lifetime: before
// pairing it just watches for disconnects, afterwards it forwards every frame
// to the peer.
func (h *Hub) serve(ep *endpoint) {
	for {
		messageType, data, err := ep.conn.ReadMessage()
		if err != nil {
			h.drop(ep, err)
			return
		}
		peer := ep.peer
		if peer == nil {
			// nothing to forward to yet, the channel is not open on the
			// sending side either
			slog.Debug("frame before pairing dropped", slog.String("session", ep.session))
			continue
		}
		if err := peer.write(messageType, data); err != nil {
			slog.Debug("forward failed", slog.String("session", ep.session), slog.Any("error", err))
			ep.conn.Close()
			peer.conn.Close()
			return
		}
	}
}

func (h *Hub) drop(ep *endpoint, err error) {
	h.release(ep)
	peer := ep.peer
	graceful := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	slog.Info("endpoint gone",
		slog.String("session", ep.session),
		slog.String("endpoint", ep.id),
		slog.Bool("graceful", graceful),
	)
	ep.conn.Close()
	if peer == nil {
		return
	}
	if graceful {
		// pass the close on so the other side ends in Closed, not Errored
		peer.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	peer.conn.Close()
}

func (h *Hub) release(ep *endpoint) {
	h.mu.Lock()
	if cur, ok := h.waiting[ep.session]; ok && cur == ep {
		delete(h.waiting, ep.session)
	}
	h.mu.Unlock()
}
