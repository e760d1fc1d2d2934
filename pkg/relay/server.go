// Package relay implements the OTP-paired WebSocket broker: a desktop
// client registers and receives a six-digit rendezvous code, web
// clients present the code to pair with it, and chat/automation frames
// are forwarded bidirectionally between the desktop and every paired
// web peer.
package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sunhouy/OJ-Assistant-sub000/pkg/otp"
)

// handshakeTimeout bounds how long a fresh connection may sit idle
// before sending its mandatory first frame.
const handshakeTimeout = 30 * time.Second

// Options configures a Server.
type Options struct {
	// OTPTTL is the lifetime of issued codes. Zero means codes never
	// expire; deployments differ on this policy, so it is configuration
	// rather than a constant.
	OTPTTL time.Duration

	// RateLimit is the number of handshake attempts allowed per source
	// IP per RateWindow. Zero disables limiting.
	RateLimit int

	// RateWindow defaults to one minute.
	RateWindow time.Duration
}

// Server owns the three process-wide structures — OTP registry, client
// directory and pairing table — and the listener. Construct with New,
// run with ListenAndServe, stop with Close.
type Server struct {
	directory *Directory
	pairings  *Pairings
	otps      *otp.Registry
	limiter   *RateLimiter // nil = unlimited

	upgrader websocket.Upgrader
	listener net.Listener
	readyCh  chan struct{}
	done     chan struct{}
	now      func() time.Time
}

func New(opts Options) *Server {
	s := &Server{
		directory: NewDirectory(),
		pairings:  NewPairings(),
		otps:      otp.NewRegistry(opts.OTPTTL),
		upgrader: websocket.Upgrader{
			// Web clients are served from arbitrary origins (file://,
			// embedded browser panes); possession of a valid OTP is the
			// access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if opts.RateLimit > 0 {
		window := opts.RateWindow
		if window == 0 {
			window = time.Minute
		}
		s.limiter = NewRateLimiter(opts.RateLimit, window)
	}
	return s
}

// SetClock overrides the time source for the server and its OTP
// registry and rate limiter (for testing).
func (s *Server) SetClock(fn func() time.Time) {
	s.now = fn
	s.otps.SetClock(fn)
	if s.limiter != nil {
		s.limiter.SetClock(fn)
	}
}

// Ready returns a channel that is closed when the server has bound its
// port.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// Addr returns the server's bound address. Only valid after Ready() fires.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds addr and serves WebSocket and HTTP API traffic
// until Close is called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	slog.Info("relay listening", "addr", ln.Addr(), "otp_ttl", s.otps.TTL())
	close(s.readyCh)

	if s.limiter != nil {
		go s.reapLoop()
	}

	err = http.Serve(ln, s.routes())
	select {
	case <-s.done:
		return nil
	default:
		return err
	}
}

// Close shuts the listener and tears down every live session.
func (s *Server) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	for _, sess := range s.directory.All() {
		sess.close(websocket.CloseGoingAway, "server shutting down")
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// reapLoop periodically drops idle rate-limiter buckets. Expired OTP
// entries are swept lazily on access instead.
func (s *Server) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup()
		case <-s.done:
			return
		}
	}
}

// handleWS is the entry point of the per-connection state machine:
// Connecting → AwaitingRegistration → {DesktopActive|WebActive} → Closed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(remoteIP(r)) {
		slog.Warn("handshake rate limited", "remote", r.RemoteAddr)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	// Exactly one handshake frame decides the role. A connection that
	// never sends it would otherwise hold its goroutine forever.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	frame, err := decodeClientFrame(payload)
	if err != nil {
		slog.Warn("malformed handshake", "remote", r.RemoteAddr, "err", err)
		writeFrame(conn, errorFrame{Type: "error", Message: "invalid message format"})
		closeConn(conn, websocket.CloseInvalidFramePayloadData, "invalid message format")
		return
	}

	role, ok := frame.handshakeRole()
	if !ok {
		slog.Warn("handshake missing client type", "remote", r.RemoteAddr)
		writeFrame(conn, errorFrame{Type: "error", Message: "missing client type"})
		closeConn(conn, websocket.ClosePolicyViolation, "missing client type")
		return
	}

	switch role {
	case RoleDesktop:
		s.registerDesktop(conn, frame)
	case RoleWeb:
		s.registerWeb(conn, frame)
	}
}

// registerDesktop issues an OTP, registers the session and enters the
// DesktopActive loop.
func (s *Server) registerDesktop(conn *websocket.Conn, frame clientFrame) {
	id := frame.ClientID
	if id == "" {
		id = "python-" + shortID()
	}

	sess := newSession(id, RoleDesktop, conn, "", s.now())
	if err := s.directory.Register(sess); err != nil {
		writeFrame(conn, errorFrame{Type: "error", Message: "client id already in use"})
		closeConn(conn, websocket.ClosePolicyViolation, "duplicate client id")
		return
	}

	tok, err := s.otps.Issue(id)
	if err != nil {
		s.directory.Remove(id)
		slog.Error("otp issue failed", "client_id", id, "err", err)
		writeFrame(conn, errorFrame{Type: "error", Message: "could not generate OTP"})
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	sess.OTP = tok.Code
	s.pairings.InitDesktop(id)

	if err := sess.send(otpGeneratedFrame{
		Type:      "otp_generated",
		OTP:       tok.Code,
		ExpiresIn: int(s.otps.TTL().Seconds()),
	}); err != nil {
		s.cleanup(id)
		return
	}

	slog.Info("desktop client registered", "client_id", id, "otp", tok.Code)
	s.desktopLoop(sess)
}

// registerWeb validates the presented OTP, pairs the session with the
// owning desktop and enters the WebActive loop.
func (s *Server) registerWeb(conn *websocket.Conn, frame clientFrame) {
	code := strings.TrimSpace(frame.OTP)
	tok, err := s.otps.Validate(code)
	if err != nil {
		reason := "invalid OTP"
		if errors.Is(err, otp.ErrExpired) {
			reason = "OTP expired"
		}
		writeFrame(conn, errorFrame{Type: "error", Message: reason})
		closeConn(conn, websocket.ClosePolicyViolation, reason)
		return
	}

	owner, ok := s.directory.Lookup(tok.OwnerID)
	if !ok || owner.Role != RoleDesktop {
		// The owning desktop is gone; pairing now would dangle.
		writeFrame(conn, errorFrame{Type: "error", Message: "desktop client not connected"})
		closeConn(conn, websocket.ClosePolicyViolation, "desktop client not connected")
		return
	}

	id := frame.ClientID
	if id == "" {
		id = "web-" + shortID()
	}

	sess := newSession(id, RoleWeb, conn, code, s.now())
	if err := s.directory.Register(sess); err != nil {
		writeFrame(conn, errorFrame{Type: "error", Message: "client id already in use"})
		closeConn(conn, websocket.ClosePolicyViolation, "duplicate client id")
		return
	}
	count := s.pairings.Pair(owner.ID, id)

	if err := sess.send(pairedFrame{
		Type:           "paired",
		PythonClientID: owner.ID,
		Message:        "connected to desktop client",
	}); err != nil {
		s.cleanup(id)
		return
	}

	// Best effort: a stale count during simultaneous joins is accepted.
	if err := owner.send(pairedFrame{
		Type:        "paired",
		WebClientID: id,
		Message:     fmt.Sprintf("new web client connected (%d total)", count),
	}); err != nil {
		slog.Warn("pairing notice to desktop failed", "desktop_client_id", owner.ID, "err", err)
	}

	slog.Info("web client paired", "web_client_id", id, "desktop_client_id", owner.ID, "connections", count)
	s.webLoop(sess, owner.ID)
}

// desktopLoop receives frames from a desktop client until its socket
// closes. A single undecodable frame draws a warning reply but does
// not drop the connection.
func (s *Server) desktopLoop(sess *Session) {
	defer s.cleanup(sess.ID)
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("desktop read ended", "client_id", sess.ID, "err", err)
			}
			return
		}

		frame, err := decodeClientFrame(payload)
		if err != nil {
			slog.Warn("non-JSON frame from desktop", "client_id", sess.ID)
			sess.send(errorFrame{Type: "error", Message: "invalid message format"})
			continue
		}

		switch classify(frame.Type) {
		case kindMessage:
			delivered := s.relayFromDesktop(sess.ID, frame.Text)
			slog.Info("relayed desktop message", "client_id", sess.ID, "delivered", delivered)
		case kindStatus:
			sess.send(statusAckFrame{Type: "status_ack", Timestamp: s.timestamp()})
		default:
			// Opaque domain payload: fan out unchanged.
			delivered := s.forwardRawFromDesktop(sess.ID, payload)
			slog.Debug("forwarded opaque frame", "client_id", sess.ID, "frame_type", frame.Type, "delivered", delivered)
		}
	}
}

// webLoop receives frames from a web client until its socket closes.
// Undecodable frames are logged and skipped.
func (s *Server) webLoop(sess *Session, ownerID string) {
	defer s.cleanup(sess.ID)
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("web read ended", "client_id", sess.ID, "err", err)
			}
			return
		}

		frame, err := decodeClientFrame(payload)
		if err != nil {
			slog.Warn("non-JSON frame from web client", "client_id", sess.ID)
			continue
		}

		switch classify(frame.Type) {
		case kindMessage:
			s.relayFromWeb(sess, ownerID, frame.Text)
		case kindTyping:
			s.relayTyping(sess, ownerID, frame.IsTyping)
		default:
			s.forwardRawFromWeb(sess, ownerID, payload)
		}
	}
}

// cleanup tears down a departed client. Both clean EOF and I/O errors
// funnel here, and racing invocations for the same ID collapse into
// one: whoever wins the directory removal does the work.
func (s *Server) cleanup(clientID string) {
	sess, ok := s.directory.Remove(clientID)
	if !ok {
		return
	}

	switch sess.Role {
	case RoleDesktop:
		notified := s.broadcastToAll(clientID, disconnectedFrame{
			Type:    "disconnected",
			Message: "desktop client disconnected",
		})
		for _, webID := range s.pairings.UnpairDesktop(clientID) {
			if peer, connected := s.directory.Lookup(webID); connected {
				peer.close(websocket.CloseNormalClosure, "desktop client disconnected")
			}
		}
		revoked := s.otps.RevokeAllFor(clientID)
		slog.Info("desktop client disconnected", "client_id", clientID,
			"web_clients_notified", notified, "otps_revoked", revoked)

	case RoleWeb:
		if ownerID, remaining, ok := s.pairings.UnpairWeb(clientID); ok {
			if owner, connected := s.directory.Lookup(ownerID); connected {
				r := remaining
				owner.send(disconnectedFrame{
					Type:                 "disconnected",
					Message:              "a web client disconnected",
					WebClientID:          clientID,
					RemainingConnections: &r,
				})
			}
		}
		slog.Info("web client disconnected", "client_id", clientID)
	}

	sess.close(websocket.CloseNormalClosure, "")
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339)
}

// writeFrame writes a JSON frame on a connection that has no session
// yet (handshake errors happen before registration).
func writeFrame(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	conn.Close()
}

// shortID returns 8 hex characters of a fresh UUID, matching the
// python-xxxxxxxx / web-xxxxxxxx identifier format.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
