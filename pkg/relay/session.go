package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Role classifies a connected client. A session never changes role.
type Role int

const (
	RoleDesktop Role = iota
	RoleWeb
)

func (r Role) String() string {
	switch r {
	case RoleDesktop:
		return "desktop"
	case RoleWeb:
		return "web"
	default:
		return "unknown"
	}
}

// writeTimeout bounds how long a single frame write may block. A peer
// that cannot drain within this window counts as a failed delivery.
const writeTimeout = 10 * time.Second

var errSessionClosed = errors.New("session closed")

// Session is one live client connection. The server owns the socket;
// every write goes through the session so concurrent fan-outs and
// notifications are serialized onto the single-writer websocket.
type Session struct {
	ID          string
	Role        Role
	OTP         string // desktop: code it issued; web: code it presented
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newSession(id string, role Role, conn *websocket.Conn, otpCode string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Role:        role,
		OTP:         otpCode,
		ConnectedAt: now,
		conn:        conn,
	}
}

// send marshals v as JSON and writes it as one text frame.
func (s *Session) send(v interface{}) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// sendRaw writes an already-encoded payload unchanged. Used to forward
// domain payloads the relay does not interpret.
func (s *Session) sendRaw(payload []byte) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// close sends a close frame with the given status code and shuts the
// socket. Safe to call from any goroutine; only the first call acts.
func (s *Session) close(code int, reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	s.writeMu.Unlock()
	s.conn.Close()
}
