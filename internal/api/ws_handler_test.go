package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/webmail/internal/mailbox"
	ws "github.com/vdavid/webmail/internal/websocket"
)

func TestWebSocketHandler(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")

	hub := ws.NewHub(2)
	env := newTestEnv(t, withNotifier(hub))
	userID := env.configure(t)
	handler := NewWebSocketHandler(env.repo, env.sessions, hub)

	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	dial := func(t *testing.T, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
		t.Helper()
		return websocket.DefaultDialer.Dial(wsURL+query, header)
	}

	t.Run("rejects a missing token", func(t *testing.T) {
		_, resp, err := dial(t, "", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("pushes mailbox events to the connection", func(t *testing.T) {
		conn, resp, err := dial(t, "?token=email:"+testEmail, nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.Eventually(t, func() bool {
			_, live := env.sessions.Lookup(userID)
			return live && hub.ActiveConnections(userID) == 1
		}, 2*time.Second, 10*time.Millisecond)

		_, err = env.mailbox(t).CreateFolder("Receipts")
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var e mailbox.Event
			require.NoError(t, conn.ReadJSON(&e))
			if e.Type == mailbox.EventFoldersChanged {
				break
			}
		}
	})

	t.Run("accepts a bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer email:" + testEmail}}
		conn, _, err := dial(t, "", header)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("enforces the per-user connection limit", func(t *testing.T) {
		require.Eventually(t, func() bool { return hub.ActiveConnections(userID) == 0 }, 2*time.Second, 10*time.Millisecond)

		for want := 1; want <= 2; want++ {
			conn, _, err := dial(t, "?token=email:"+testEmail, nil)
			require.NoError(t, err)
			defer conn.Close()
			require.Eventually(t, func() bool { return hub.ActiveConnections(userID) == want }, 2*time.Second, 10*time.Millisecond)
		}

		third, _, err := dial(t, "?token=email:"+testEmail, nil)
		require.NoError(t, err)
		defer third.Close()

		require.NoError(t, third.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = third.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
		assert.Equal(t, 2, hub.ActiveConnections(userID))
	})

	t.Run("session survives without connections", func(t *testing.T) {
		s, err := env.sessions.Get(context.Background(), testEmail)
		require.NoError(t, err)
		assert.NotNil(t, s.Mailbox)
	})
}
