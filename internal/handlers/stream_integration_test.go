package handlers_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/internal/handlers/testutil"
)

func TestStreamEndpoint_TokenHandshake(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithPassphrase("stream-pass"))

	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)
	wsBase := "ws" + strings.TrimPrefix(server.URL, "http")

	// Handshake without a token is refused while a passphrase is set.
	_, resp, err := websocket.DefaultDialer.Dial(wsBase+"/api/stream/codes", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	if resp != nil {
		resp.Body.Close()
	}

	token := env.Unlock("stream-pass")
	conn, resp, err := websocket.DefaultDialer.Dial(wsBase+"/api/stream/codes?token="+token, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The socket is live: a ping control round-trips.
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "pong", msg["event"])
}

func TestStreamEndpoint_OpenWithoutPassphrase(t *testing.T) {
	env := testutil.NewEnv(t)

	server := httptest.NewServer(env.Router)
	t.Cleanup(server.Close)
	wsBase := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(wsBase+"/api/stream/codes", nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
}
