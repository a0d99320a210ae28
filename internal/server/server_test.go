package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranyaone/relay/internal/auth"
	"github.com/aranyaone/relay/internal/client"
	"github.com/aranyaone/relay/internal/config"
	"github.com/aranyaone/relay/internal/domain"
	"github.com/aranyaone/relay/internal/protocol"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Addr:              ":0",
		JWTSecret:         testSecret,
		SendBuffer:        16,
		IdleTimeout:       time.Minute,
		EvictInterval:     time.Minute,
		DashboardInterval: time.Hour, // periodic pushes stay out of the way
		SignificantEvents: []string{"purchase"},
	}

	s, err := NewWithConfig(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.E)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ts
}

func mintToken(t *testing.T, identity domain.Identity) string {
	t.Helper()
	authenticator, err := auth.NewJWTAuthenticator(auth.DefaultOptions([]byte(testSecret)))
	require.NoError(t, err)
	token, err := authenticator.Generate(identity)
	require.NoError(t, err)
	return token
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dialHub connects as the identity and consumes the connected handshake.
func dialHub(t *testing.T, ts *httptest.Server, identity domain.Identity) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+mintToken(t, identity))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeConnected, env.Type)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.ParseEnvelope(frame)
	require.NoError(t, err)
	return env
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType protocol.MessageType, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// assertSilent verifies no frame arrives within the window.
func assertSilent(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	_, frame, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected silence, got frame: %s", frame)
	}
	conn.SetReadDeadline(time.Time{})
}

func TestServerRejectsUnauthenticatedUpgrade(t *testing.T) {
	_, ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts)+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerAcceptsTokenQueryParameter(t *testing.T) {
	_, ts := newTestServer(t)
	token := mintToken(t, domain.Identity{ID: "42", Role: domain.RoleUser})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeConnected, env.Type)
}

func TestServerHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	dialHub(t, ts, domain.Identity{ID: "42", Role: domain.RoleUser})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Rooms    int    `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.GreaterOrEqual(t, health.Rooms, 1, "personal room exists")
}

func TestServerChatRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialHub(t, ts, domain.Identity{ID: "alice", Role: domain.RoleUser})
	bob := dialHub(t, ts, domain.Identity{ID: "bob", Role: domain.RoleUser})

	sendEnvelope(t, alice, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "general"})
	require.Equal(t, protocol.TypeJoinedRoom, readEnvelope(t, alice).Type)
	sendEnvelope(t, bob, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "general"})
	require.Equal(t, protocol.TypeJoinedRoom, readEnvelope(t, bob).Type)

	sendEnvelope(t, alice, protocol.TypeChatMessage, protocol.ChatRequest{Room: "general", Text: "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		require.Equal(t, protocol.TypeChatMessage, env.Type)

		var msg protocol.ChatMessage
		require.NoError(t, env.DecodeData(&msg))
		assert.Equal(t, "alice", msg.Sender.ID)
		assert.Equal(t, "hello", msg.Text)
	}
}

// The full distribution scenario: a user watches the dashboard, an admin
// watches the admin room, and a purchase event reaches exactly the right
// audiences.
func TestServerAnalyticsDistribution(t *testing.T) {
	s, ts := newTestServer(t)

	user := dialHub(t, ts, domain.Identity{ID: "42", Role: domain.RoleUser})
	admin := dialHub(t, ts, domain.Identity{ID: "1", Role: domain.RoleAdmin})

	sendEnvelope(t, user, protocol.TypeDashboardSubscribe, nil)
	env := readEnvelope(t, user)
	require.Equal(t, protocol.TypeJoinedRoom, env.Type)
	env = readEnvelope(t, user)
	require.Equal(t, protocol.TypeDashboardData, env.Type)

	sendEnvelope(t, admin, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "admin"})
	require.Equal(t, protocol.TypeJoinedRoom, readEnvelope(t, admin).Type)

	sendEnvelope(t, user, protocol.TypeAnalyticsUpdate, protocol.AnalyticsEvent{
		EventType: "purchase",
		Payload:   json.RawMessage(`{"amount":99}`),
	})

	// The admin room gets the alert.
	env = readEnvelope(t, admin)
	require.Equal(t, protocol.TypeAnalyticsAlert, env.Type)
	var alert protocol.AnalyticsAlert
	require.NoError(t, env.DecodeData(&alert))
	assert.Equal(t, "purchase", alert.EventType)
	assert.Equal(t, "42", alert.Sender.ID)

	// The sender gets nothing back for an analytics_update.
	assertSilent(t, user, 200*time.Millisecond)

	// The collector sees the event once the bus delivers it.
	require.Eventually(t, func() bool {
		return s.Collector.Totals()["purchase"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerDeniesAdminRoomToUsers(t *testing.T) {
	_, ts := newTestServer(t)
	user := dialHub(t, ts, domain.Identity{ID: "42", Role: domain.RoleUser})

	sendEnvelope(t, user, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "admin"})

	env := readEnvelope(t, user)
	require.Equal(t, protocol.TypeError, env.Type)
	var payload protocol.ErrorPayload
	require.NoError(t, env.DecodeData(&payload))
	assert.Equal(t, protocol.ErrCodeAccessDenied, payload.Code)

	// The connection survives the denial.
	sendEnvelope(t, user, protocol.TypePing, nil)
	assert.Equal(t, protocol.TypePong, readEnvelope(t, user).Type)
}

func TestServerPersonalRoomDelivery(t *testing.T) {
	_, ts := newTestServer(t)
	user := dialHub(t, ts, domain.Identity{ID: "42", Role: domain.RoleUser})
	admin := dialHub(t, ts, domain.Identity{ID: "1", Role: domain.RoleAdmin})

	// Admins may address any personal room.
	sendEnvelope(t, admin, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "user_42"})
	require.Equal(t, protocol.TypeJoinedRoom, readEnvelope(t, admin).Type)

	sendEnvelope(t, admin, protocol.TypeChatMessage, protocol.ChatRequest{Room: "user_42", Text: "direct"})

	env := readEnvelope(t, user)
	require.Equal(t, protocol.TypeChatMessage, env.Type)
	var msg protocol.ChatMessage
	require.NoError(t, env.DecodeData(&msg))
	assert.Equal(t, "direct", msg.Text)
}

// The resilient transport speaks the same wire protocol as the raw dialer.
func TestServerWithClientTransport(t *testing.T) {
	s, ts := newTestServer(t)

	transport := client.New(client.Options{
		URL:        wsURL(ts),
		Credential: mintToken(t, domain.Identity{ID: "42", Role: domain.RoleUser}),
	})

	received := make(chan protocol.Envelope, 4)
	transport.Subscribe(protocol.TypeJoinedRoom, func(env protocol.Envelope) { received <- env })
	transport.Subscribe(protocol.TypeDashboardData, func(env protocol.Envelope) { received <- env })

	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()
	require.NotEmpty(t, transport.SessionID())
	assert.Equal(t, 1, s.Hub.Registry().Len())

	require.NoError(t, transport.Publish(protocol.TypeDashboardSubscribe, nil))

	for _, want := range []protocol.MessageType{protocol.TypeJoinedRoom, protocol.TypeDashboardData} {
		select {
		case env := <-received:
			assert.Equal(t, want, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
