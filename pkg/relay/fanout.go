package relay

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// Fan-out engine. Delivery failures are isolated per recipient: a dead
// web client is pruned from the directory and pairing table without
// interrupting delivery to the remaining targets. Iteration order over
// targets is unspecified.

// relayFromDesktop forwards a chat message from the desktop to every
// paired web client, stamping it with the server clock. Returns the
// number of successful deliveries.
func (s *Server) relayFromDesktop(desktopID, text string) int {
	frame := messageFrame{
		Type:      "message",
		From:      "python",
		Text:      text,
		Timestamp: s.timestamp(),
	}
	return s.fanout(desktopID, func(peer *Session) error {
		return peer.send(frame)
	})
}

// forwardRawFromDesktop fans out an uninterpreted payload unchanged.
func (s *Server) forwardRawFromDesktop(desktopID string, payload []byte) int {
	return s.fanout(desktopID, func(peer *Session) error {
		return peer.sendRaw(payload)
	})
}

// broadcastToAll delivers an administrative notice to every web client
// paired with the desktop, with the same partial-failure isolation as
// message fan-out.
func (s *Server) broadcastToAll(desktopID string, v interface{}) int {
	return s.fanout(desktopID, func(peer *Session) error {
		return peer.send(v)
	})
}

func (s *Server) fanout(desktopID string, deliver func(*Session) error) int {
	delivered := 0
	for _, webID := range s.pairings.FanoutTargets(desktopID) {
		peer, ok := s.directory.Lookup(webID)
		if !ok {
			// Directory entry gone but pairing lingered; drop it.
			s.pairings.UnpairWeb(webID)
			continue
		}
		if err := deliver(peer); err != nil {
			slog.Warn("fan-out delivery failed", "web_client_id", webID, "err", err)
			s.pruneWeb(webID)
			continue
		}
		delivered++
	}
	return delivered
}

// pruneWeb drops a web client whose socket broke mid-delivery. No
// notices are sent; the client's own read loop finds the directory
// entry gone and its cleanup becomes a no-op.
func (s *Server) pruneWeb(webID string) {
	if sess, ok := s.directory.Remove(webID); ok {
		sess.close(websocket.CloseNormalClosure, "")
	}
	s.pairings.UnpairWeb(webID)
}

// relayFromWeb forwards a chat message from a web client to its owning
// desktop, tagged with the originating web client ID so the desktop
// can tell its peers apart. If the owner is unavailable the web client
// gets a disconnection notice instead.
func (s *Server) relayFromWeb(sess *Session, ownerID, text string) {
	owner, ok := s.directory.Lookup(ownerID)
	if !ok {
		sess.send(disconnectedFrame{Type: "disconnected", Message: "desktop client disconnected"})
		return
	}

	err := owner.send(messageFrame{
		Type:        "message",
		From:        "web",
		WebClientID: sess.ID,
		Text:        text,
		Timestamp:   s.timestamp(),
	})
	if err != nil {
		slog.Warn("relay to desktop failed", "desktop_client_id", ownerID, "web_client_id", sess.ID, "err", err)
		sess.send(disconnectedFrame{Type: "disconnected", Message: "desktop client disconnected"})
		return
	}
	slog.Info("relayed web message", "web_client_id", sess.ID, "desktop_client_id", ownerID)
}

// relayTyping forwards a presence indicator to the desktop. Not
// persisted, best effort.
func (s *Server) relayTyping(sess *Session, ownerID string, isTyping bool) {
	if owner, ok := s.directory.Lookup(ownerID); ok {
		owner.send(typingFrame{Type: "typing", WebClientID: sess.ID, IsTyping: isTyping})
	}
}

// forwardRawFromWeb passes an uninterpreted payload through to the
// owning desktop unchanged.
func (s *Server) forwardRawFromWeb(sess *Session, ownerID string, payload []byte) {
	owner, ok := s.directory.Lookup(ownerID)
	if !ok {
		return
	}
	if err := owner.sendRaw(payload); err != nil {
		slog.Warn("opaque forward to desktop failed", "desktop_client_id", ownerID, "err", err)
	}
}
