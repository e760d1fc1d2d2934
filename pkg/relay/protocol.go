package relay

// Wire protocol: every frame is a UTF-8 JSON object carrying a "type"
// discriminator. Client frame kinds form a closed enum with an Unknown
// default arm; unknown kinds are forwarded opaquely to the peer side
// rather than rejected, so domain payloads (question content, test
// results, ...) pass through the relay uninterpreted.

import "encoding/json"

// frameKind enumerates the client message kinds the relay interprets.
type frameKind int

const (
	kindUnknown frameKind = iota
	kindMessage
	kindTyping
	kindStatus
)

func classify(frameType string) frameKind {
	switch frameType {
	case "message":
		return kindMessage
	case "typing":
		return kindTyping
	case "status":
		return kindStatus
	default:
		return kindUnknown
	}
}

// clientFrame is the decoded view of an inbound frame. Only the fields
// the relay acts on are decoded; opaque forwarding uses the original
// payload bytes, not a re-encoding of this struct.
type clientFrame struct {
	Type       string `json:"type"`
	ClientType string `json:"client_type,omitempty"` // legacy discriminator
	ClientID   string `json:"client_id,omitempty"`
	Name       string `json:"name,omitempty"`
	OTP        string `json:"otp,omitempty"`
	Text       string `json:"text,omitempty"`
	Status     string `json:"status,omitempty"`
	IsTyping   bool   `json:"is_typing,omitempty"`
}

func decodeClientFrame(payload []byte) (clientFrame, error) {
	var f clientFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return clientFrame{}, err
	}
	return f, nil
}

// handshakeRole resolves the role discriminator of the mandatory first
// frame. Accepted spellings: "python"/"desktop" for desktop clients,
// "web" for web clients, and the legacy "register" form which implies
// web when an OTP is present. Older clients put the discriminator in
// "client_type" instead of "type".
func (f clientFrame) handshakeRole() (Role, bool) {
	disc := f.Type
	if disc == "" {
		disc = f.ClientType
	}
	switch disc {
	case "python", "desktop":
		return RoleDesktop, true
	case "web":
		return RoleWeb, true
	case "register":
		if f.OTP != "" {
			return RoleWeb, true
		}
	}
	return 0, false
}

// Server → client frames.

type otpGeneratedFrame struct {
	Type      string `json:"type"` // "otp_generated"
	OTP       string `json:"otp"`
	ExpiresIn int    `json:"expires_in"` // seconds; 0 = never expires
}

type pairedFrame struct {
	Type           string `json:"type"` // "paired"
	PythonClientID string `json:"python_client_id,omitempty"`
	WebClientID    string `json:"web_client_id,omitempty"`
	Message        string `json:"message"`
}

type messageFrame struct {
	Type        string `json:"type"` // "message"
	From        string `json:"from"` // "python" or "web"
	WebClientID string `json:"web_client_id,omitempty"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"` // ISO-8601
}

type typingFrame struct {
	Type        string `json:"type"` // "typing"
	WebClientID string `json:"web_client_id"`
	IsTyping    bool   `json:"is_typing"`
}

type statusAckFrame struct {
	Type      string `json:"type"` // "status_ack"
	Timestamp string `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type disconnectedFrame struct {
	Type                 string `json:"type"` // "disconnected"
	Message              string `json:"message"`
	WebClientID          string `json:"web_client_id,omitempty"`
	RemainingConnections *int   `json:"remaining_connections,omitempty"`
}
