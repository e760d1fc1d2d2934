package relay

// HTTP boundary: non-WebSocket UI surfaces validate OTPs and read
// server health here. Validation applies the exact same non-consuming
// semantics as the WebSocket pairing path.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sunhouy/OJ-Assistant-sub000/pkg/otp"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/api/validate-otp", s.handleValidateOTP).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

type validateOTPRequest struct {
	OTP string `json:"otp"`
}

type validateOTPResponse struct {
	Valid     bool   `json:"valid"`
	ClientID  string `json:"client_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleValidateOTP(w http.ResponseWriter, r *http.Request) {
	var req validateOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, validateOTPResponse{Valid: false, Error: "invalid request body"})
		return
	}

	code := strings.TrimSpace(req.OTP)
	if code == "" {
		writeJSON(w, http.StatusOK, validateOTPResponse{Valid: false, Error: "missing otp"})
		return
	}

	tok, err := s.otps.Validate(code)
	if err != nil {
		reason := "invalid or unknown OTP"
		if errors.Is(err, otp.ErrExpired) {
			reason = "OTP expired"
		}
		writeJSON(w, http.StatusOK, validateOTPResponse{Valid: false, Error: reason})
		return
	}

	resp := validateOTPResponse{Valid: true, ClientID: tok.OwnerID}
	if !tok.ExpiresAt.IsZero() {
		resp.ExpiresAt = tok.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status           string `json:"status"`
	ClientsConnected int    `json:"clients_connected"`
	ActiveTokens     int    `json:"active_tokens"`
	PairedSessions   int    `json:"paired_sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           "running",
		ClientsConnected: s.directory.Len(),
		ActiveTokens:     s.otps.Active(),
		PairedSessions:   s.pairings.Total(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write api response", "err", err)
	}
}
