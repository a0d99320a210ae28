package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranyaone/relay/internal/protocol"
)

// stubHub is a minimal WebSocket endpoint that speaks the hub's handshake:
// every accepted connection is greeted with a connected envelope carrying a
// fresh session id. Connections can be dropped server-side or refused
// outright to exercise the reconnect path.
type stubHub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	nextID  int32
	refuse  atomic.Bool
	inbound chan protocol.Envelope
}

func newStubHub(t *testing.T) *stubHub {
	t.Helper()
	s := &stubHub{t: t, inbound: make(chan protocol.Envelope, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.dropAll()
		s.server.Close()
	})
	return s
}

func (s *stubHub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *stubHub) handle(w http.ResponseWriter, r *http.Request) {
	if s.refuse.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := atomic.AddInt32(&s.nextID, 1)
	ack, err := protocol.NewEnvelope(protocol.TypeConnected, protocol.ConnectedPayload{
		SessionID: fmt.Sprintf("session-%d", id),
	})
	if err != nil {
		conn.Close()
		return
	}
	raw, _ := ack.Encode()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, perr := protocol.ParseEnvelope(frame); perr == nil {
				select {
				case s.inbound <- env:
				default:
				}
			}
		}
	}()
}

// send pushes an envelope down the most recent connection.
func (s *stubHub) send(env protocol.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return fmt.Errorf("no connection")
	}
	return s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, raw)
}

// dropAll closes every server-side connection abruptly.
func (s *stubHub) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// eventRecorder collects dispatched envelopes by type.
type eventRecorder struct {
	mu     sync.Mutex
	events []protocol.Envelope
}

func (r *eventRecorder) record(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *eventRecorder) types() []protocol.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MessageType, len(r.events))
	for i, env := range r.events {
		out[i] = env.Type
	}
	return out
}

func (r *eventRecorder) count(msgType protocol.MessageType) int {
	n := 0
	for _, got := range r.types() {
		if got == msgType {
			n++
		}
	}
	return n
}

func newTestTransport(hub *stubHub) *Transport {
	return New(Options{
		URL:         hub.url(),
		Credential:  "test-token",
		BackoffBase: 10 * time.Millisecond,
		MaxAttempts: 3,
	})
}

func TestTransportConnect(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	recorder := &eventRecorder{}
	transport.Subscribe(EventConnected, recorder.record)

	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	assert.Equal(t, StateConnected, transport.State())
	assert.Equal(t, "session-1", transport.SessionID())
	assert.Equal(t, 1, recorder.count(EventConnected), "connected envelope is dispatched to subscribers")
}

func TestTransportConnectOnlyFromDisconnected(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	err := transport.Connect(context.Background())
	assert.Error(t, err, "double connect is rejected")
}

func TestTransportConnectFailureStaysDisconnected(t *testing.T) {
	hub := newStubHub(t)
	hub.refuse.Store(true)
	transport := newTestTransport(hub)

	slept := false
	transport.sleep = func(d time.Duration) bool {
		slept = true
		return true
	}

	err := transport.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, transport.State())

	// The backoff loop covers drops of established connections only.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, slept, "initial connect failure must not trigger reconnection")
}

func TestTransportBadCredentialRejected(t *testing.T) {
	hub := newStubHub(t)
	transport := New(Options{URL: hub.url(), Credential: "wrong"})

	err := transport.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, transport.State())
}

func TestTransportDispatchesServerEnvelopes(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	recorder := &eventRecorder{}
	transport.Subscribe(protocol.TypeChatMessage, recorder.record)

	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	env, err := protocol.NewEnvelope(protocol.TypeChatMessage, protocol.ChatMessage{Room: "general", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, hub.send(env))

	require.Eventually(t, func() bool {
		return recorder.count(protocol.TypeChatMessage) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTransportPublish(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	require.NoError(t, transport.Connect(context.Background()))
	defer transport.Close()

	require.NoError(t, transport.Publish(protocol.TypeJoinRoom, protocol.RoomRequest{Room: "general"}))

	select {
	case env := <-hub.inbound:
		assert.Equal(t, protocol.TypeJoinRoom, env.Type)
	case <-time.After(time.Second):
		t.Fatal("published frame never reached the server")
	}
}

func TestTransportPublishWhileDisconnectedDropsSilently(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	err := transport.Publish(protocol.TypeChatMessage, protocol.ChatRequest{Room: "general", Text: "lost"})
	assert.NoError(t, err, "publishing while disconnected drops, it does not fail")
	assert.Empty(t, hub.inbound)
}

func TestTransportReconnectsWithExponentialBackoff(t *testing.T) {
	hub := newStubHub(t)
	transport := New(Options{
		URL:         hub.url(),
		Credential:  "test-token",
		BackoffBase: 100 * time.Millisecond,
		MaxAttempts: 5,
	})

	var mu sync.Mutex
	var delays []time.Duration
	transport.sleep = func(d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	recorder := &eventRecorder{}
	transport.Subscribe(EventDisconnected, recorder.record)
	transport.Subscribe(EventConnected, recorder.record)

	require.NoError(t, transport.Connect(context.Background()))
	first := transport.SessionID()

	hub.dropAll()

	require.Eventually(t, func() bool {
		return transport.State() == StateConnected && transport.SessionID() != first
	}, 2*time.Second, 5*time.Millisecond, "transport should reconnect after the drop")
	defer transport.Close()

	assert.Equal(t, 1, recorder.count(EventDisconnected))
	assert.Equal(t, 2, recorder.count(EventConnected), "initial connect plus reconnect")
	assert.NotEqual(t, first, transport.SessionID(), "a reconnect always yields a new session id")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 1)
	assert.Equal(t, 100*time.Millisecond, delays[0], "first reconnect waits the base delay")
}

func TestTransportReconnectDelaysDouble(t *testing.T) {
	hub := newStubHub(t)
	transport := New(Options{
		URL:         hub.url(),
		Credential:  "test-token",
		BackoffBase: 100 * time.Millisecond,
		MaxAttempts: 4,
	})

	var mu sync.Mutex
	var delays []time.Duration
	transport.sleep = func(d time.Duration) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	recorder := &eventRecorder{}
	transport.Subscribe(EventMaxReconnectAttempts, recorder.record)
	errRecorder := &eventRecorder{}
	transport.Subscribe(EventError, errRecorder.record)

	require.NoError(t, transport.Connect(context.Background()))

	// The hub goes away for good: every reconnect attempt must fail.
	hub.refuse.Store(true)
	hub.dropAll()

	require.Eventually(t, func() bool {
		return recorder.count(EventMaxReconnectAttempts) == 1
	}, 2*time.Second, 5*time.Millisecond, "attempt budget exhaustion must be surfaced")

	assert.Equal(t, StateDisconnected, transport.State())
	assert.Equal(t, 4, errRecorder.count(EventError), "each failed attempt emits an error event")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 4)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, delays, "delays double with each attempt")
}

func TestTransportCloseStopsReconnect(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)

	transport.sleep = func(d time.Duration) bool {
		// Mirror waitOrClosing without the real delay.
		select {
		case <-transport.closing:
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}

	require.NoError(t, transport.Connect(context.Background()))
	require.NoError(t, transport.Close())

	hub.dropAll()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StateClosing, transport.State(), "a closed transport never reconnects")
	assert.NoError(t, transport.Close(), "close is idempotent")
}

func TestTransportDialAfterCloseDoesNotResurrect(t *testing.T) {
	hub := newStubHub(t)
	transport := newTestTransport(hub)
	require.NoError(t, transport.Close())

	// A reconnect attempt that completes its handshake after Close must not
	// leave the transport connected with a live socket.
	err := transport.dial(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosing, transport.State())
	assert.Nil(t, transport.conn)
	assert.Empty(t, transport.SessionID())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	transport := New(Options{URL: "ws://unused", Credential: "x"})

	recorder := &eventRecorder{}
	unsubscribe := transport.Subscribe(protocol.TypeChatMessage, recorder.record)

	transport.subs.dispatch(protocol.Envelope{Type: protocol.TypeChatMessage})
	assert.Equal(t, 1, recorder.count(protocol.TypeChatMessage))

	unsubscribe()
	transport.subs.dispatch(protocol.Envelope{Type: protocol.TypeChatMessage})
	assert.Equal(t, 1, recorder.count(protocol.TypeChatMessage), "removed handlers stop receiving")
}

func TestSubscriptionsMultipleHandlers(t *testing.T) {
	subs := newSubscriptions()

	first := &eventRecorder{}
	second := &eventRecorder{}
	subs.add(protocol.TypeError, first.record)
	removeSecond := subs.add(protocol.TypeError, second.record)

	subs.dispatch(protocol.Envelope{Type: protocol.TypeError})
	assert.Equal(t, 1, first.count(protocol.TypeError))
	assert.Equal(t, 1, second.count(protocol.TypeError))

	removeSecond()
	subs.dispatch(protocol.Envelope{Type: protocol.TypeError})
	assert.Equal(t, 2, first.count(protocol.TypeError))
	assert.Equal(t, 1, second.count(protocol.TypeError))
}
