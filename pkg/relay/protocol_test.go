package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeClientFrame(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"type":"message","text":"hi","client_id":"web-12ab34cd"}`)
	f, err := decodeClientFrame(payload)
	require.NoError(t, err)
	require.Equal(t, "message", f.Type)
	require.Equal(t, "hi", f.Text)
	require.Equal(t, "web-12ab34cd", f.ClientID)

	_, err = decodeClientFrame([]byte("definitely not json"))
	require.Error(t, err)
}

func TestHandshakeRole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		role    Role
		ok      bool
	}{
		{"python", `{"type":"python","client_id":"d1"}`, RoleDesktop, true},
		{"desktop alias", `{"type":"desktop"}`, RoleDesktop, true},
		{"web", `{"type":"web","otp":"123456"}`, RoleWeb, true},
		{"legacy register with otp", `{"type":"register","otp":"123456"}`, RoleWeb, true},
		{"register without otp", `{"type":"register"}`, 0, false},
		{"legacy client_type field", `{"client_type":"python"}`, RoleDesktop, true},
		{"missing discriminator", `{"client_id":"d1"}`, 0, false},
		{"unknown discriminator", `{"type":"gopher"}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := decodeClientFrame([]byte(tc.payload))
			require.NoError(t, err)
			role, ok := f.handshakeRole()
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.role, role)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, kindMessage, classify("message"))
	require.Equal(t, kindTyping, classify("typing"))
	require.Equal(t, kindStatus, classify("status"))

	// Domain payloads fall into the opaque default arm.
	require.Equal(t, kindUnknown, classify("question_content"))
	require.Equal(t, kindUnknown, classify("test_results"))
	require.Equal(t, kindUnknown, classify(""))
}
