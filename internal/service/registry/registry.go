package registry

import (
	"sync"
	"time"

	"rtchat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Close codes sent when the registry terminates a connection, distinct from
// normal closure so the peer can tell why it was dropped.
const (
	CloseSuperseded       = 4001 // a newer connection took over this identity
	CloseHeartbeatTimeout = 4002 // missed a heartbeat interval
)

const sendBufferSize = 64

type (
	// Conn is the slice of *websocket.Conn the registry needs. Tests plug
	// in fakes.
	Conn interface {
		WriteMessage(messageType int, data []byte) error
		WriteControl(messageType int, data []byte, deadline time.Time) error
		Close() error
	}

	// Binding is one identity's authoritative connection. Outbound frames
	// go through a buffered channel drained by a single writer goroutine,
	// so sends never block the caller and frames to one peer stay ordered.
	Binding struct {
		userID string
		conn   Conn

		send chan []byte
		done chan struct{}
		once sync.Once

		mu           sync.Mutex
		awaitingPong bool
	}

	// Registry maps each authenticated identity to its single live
	// connection. A global lock guards only the map swap; closing and
	// notifying happen outside it, so distinct identities never contend.
	Registry struct {
		mu       sync.RWMutex
		bindings map[string]*Binding

		heartbeat time.Duration

		// onUnregister runs after a binding is removed, for presence
		// side effects. Failures there never block unregistration.
		onUnregister func(userID string)
	}
)

func NewRegistry(heartbeat time.Duration) *Registry {
	return &Registry{
		bindings:  make(map[string]*Binding),
		heartbeat: heartbeat,
	}
}

func (r *Registry) SetOnUnregister(fn func(userID string)) {
	r.onUnregister = fn
}

// Register installs conn as the authoritative connection for userID. An
// existing binding for the same identity is superseded: closed with
// CloseSuperseded and removed before the new binding is visible. Returns
// the new binding and whether an old one was displaced.
func (r *Registry) Register(userID string, conn Conn) (*Binding, bool) {
	b := &Binding{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	old := r.bindings[userID]
	r.bindings[userID] = b
	r.mu.Unlock()

	go b.writePump()

	if old != nil {
		old.close(CloseSuperseded, "superseded by newer connection")
		log.Info("connection superseded", zap.String("userID", userID))
	}
	return b, old != nil
}

// Unregister removes b if it is still the authoritative binding for its
// identity. A binding already superseded by Register is left alone.
func (r *Registry) Unregister(b *Binding, code int) {
	r.mu.Lock()
	current := r.bindings[b.userID] == b
	if current {
		delete(r.bindings, b.userID)
	}
	r.mu.Unlock()

	b.close(code, "")

	if current && r.onUnregister != nil {
		r.onUnregister(b.userID)
	}
}

func (r *Registry) Lookup(userID string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[userID]
	return b, ok
}

func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the live bindings for fan-out. Callers iterate without
// holding the registry lock.
func (r *Registry) Snapshot() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	return out
}

// Run drives the heartbeat until ctx is done: each tick evicts every
// binding whose previous ping went unanswered, then pings the rest. A
// connection therefore survives at most one silent interval.
func (r *Registry) Run(done <-chan struct{}) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, b := range r.Snapshot() {
				if !b.pingOrExpire(r.heartbeat) {
					log.Info("heartbeat timeout", zap.String("userID", b.userID))
					r.Unregister(b, CloseHeartbeatTimeout)
				}
			}
		}
	}
}

// Drain closes every binding, for shutdown.
func (r *Registry) Drain() {
	for _, b := range r.Snapshot() {
		r.Unregister(b, websocket.CloseGoingAway)
	}
}

func (b *Binding) UserID() string { return b.userID }

// Send enqueues one frame, dropping it if the binding is closed or the
// buffer is full. A slow peer only ever loses its own frames.
func (b *Binding) Send(data []byte) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.send <- data:
		return true
	case <-b.done:
		return false
	default:
		return false
	}
}

// Touch records a heartbeat acknowledgment; wire it to the socket's pong
// handler.
func (b *Binding) Touch() {
	b.mu.Lock()
	b.awaitingPong = false
	b.mu.Unlock()
}

// Done is closed when the binding is terminated.
func (b *Binding) Done() <-chan struct{} { return b.done }

func (b *Binding) writePump() {
	for {
		select {
		case <-b.done:
			return
		case data := <-b.send:
			if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("write failed", zap.String("userID", b.userID), zap.Error(err))
			}
		}
	}
}

// pingOrExpire reports false if the previous ping is still unacknowledged,
// otherwise sends the next ping.
func (b *Binding) pingOrExpire(interval time.Duration) bool {
	b.mu.Lock()
	expired := b.awaitingPong
	if !expired {
		b.awaitingPong = true
	}
	b.mu.Unlock()

	if expired {
		return false
	}

	deadline := time.Now().Add(interval / 2)
	if err := b.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		log.Debug("ping failed", zap.String("userID", b.userID), zap.Error(err))
	}
	return true
}

func (b *Binding) close(code int, reason string) {
	b.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(time.Second)
		_ = b.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = b.conn.Close()
		close(b.done)
	})
}
