package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wastelink-backend/internal/events"
	"wastelink-backend/internal/middleware"
	"wastelink-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hub-test-secret"

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub, testSecret))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, userID, role string) *websocket.Conn {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, middleware.UserClaims{UserID: userID, Role: role}, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.IsUserConnected(userID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHandleWebSocketRejectsBadToken(t *testing.T) {
	_, srv := startHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestBroadcastToUser(t *testing.T) {
	hub, srv := startHub(t)
	alice := dial(t, hub, srv, "alice", models.RoleCustomer)
	dial(t, hub, srv, "bob", models.RoleCustomer)
	assert.Equal(t, 2, hub.GetClientCount())

	hub.BroadcastToUser("alice", map[string]string{"type": "bin_alert", "bin_id": "b1"})

	msg := readJSON(t, alice)
	assert.Equal(t, "bin_alert", msg["type"])
	assert.Equal(t, "b1", msg["bin_id"])
}

func TestPingGetsPong(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "carol", models.RoleDriver)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "ping"}))
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestRelayStatusEventsReachesAdmins(t *testing.T) {
	hub, srv := startHub(t)
	admin := dial(t, hub, srv, "admin-1", models.RoleAdmin)

	bus := events.NewSyncBus()
	require.NoError(t, hub.RelayStatusEvents(bus))
	require.NoError(t, bus.Publish(context.Background(), events.SubjectRequestStatus, map[string]string{
		"request_id": "r1",
		"to":         "accepted",
	}))

	msg := readJSON(t, admin)
	assert.Equal(t, "r1", msg["request_id"])
	assert.Equal(t, "accepted", msg["to"])
}

func TestReconnectReplacesPreviousClient(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, hub, srv, "dave", models.RoleCustomer)
	second := dial(t, hub, srv, "dave", models.RoleCustomer)
	assert.Equal(t, 1, hub.GetClientCount())

	// the replaced connection is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	hub.BroadcastToUser("dave", map[string]string{"type": "hello"})
	assert.Equal(t, "hello", readJSON(t, second)["type"])
}
