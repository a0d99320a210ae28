package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/aranyaone/relay/internal/protocol"
)

// State names the transport's connection lifecycle phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// Local event types delivered through the subscription table alongside
// server-sent envelopes. They never travel on the wire.
const (
	EventConnected            = protocol.TypeConnected
	EventDisconnected         protocol.MessageType = "disconnected"
	EventMaxReconnectAttempts protocol.MessageType = "max_reconnect_attempts"
	EventError                                     = protocol.TypeError
)

// Defaults for reconnect behavior.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultMaxAttempts = 5
	handshakeTimeout   = 10 * time.Second
)

// Options configure a Transport.
type Options struct {
	// URL is the ws:// or wss:// endpoint of the hub.
	URL string
	// Credential is the opaque bearer token presented at connect time.
	Credential string
	// BackoffBase is the first reconnect delay; each attempt doubles it.
	BackoffBase time.Duration
	// MaxAttempts bounds reconnection. Once exhausted the transport emits
	// max_reconnect_attempts and stays disconnected until Connect is called
	// again explicitly.
	MaxAttempts int
}

// Transport wraps one outbound hub connection: typed subscribe/publish plus
// reconnection with exponential backoff. The reconnect loop is an explicit
// state machine (disconnected -> connecting -> connected) with the attempt
// count held as state, not captured in a callback chain.
type Transport struct {
	opts Options

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string

	subs *subscriptions

	// closing signals Close so reconnect sleeps end promptly.
	closing chan struct{}

	// sleep is replaceable in tests to observe backoff delays.
	sleep func(d time.Duration) bool
}

// New creates a transport. No connection is made until Connect.
func New(opts Options) *Transport {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	t := &Transport{
		opts:    opts,
		state:   StateDisconnected,
		subs:    newSubscriptions(),
		closing: make(chan struct{}),
	}
	t.sleep = t.waitOrClosing
	return t
}

// State returns the current lifecycle phase.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID returns the hub-assigned session id of the current connection.
// A reconnect always produces a new one; callers must not assume session
// identity survives a drop.
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Subscribe registers a handler for a message type and returns its remove
// function. Local transport events use the same table.
func (t *Transport) Subscribe(msgType protocol.MessageType, handler Handler) func() {
	return t.subs.add(msgType, handler)
}

// Connect dials the hub, presents the credential, and waits for the
// connected acknowledgment. A failed dial or handshake leaves the transport
// disconnected and returns the error; the automatic backoff loop only covers
// drops of an established connection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateDisconnected {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("connect from state %q", state)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return err
	}
	return nil
}

// dial performs one connection attempt including the handshake, and on
// success starts the read loop.
func (t *Transport) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.opts.Credential)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", t.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.opts.URL, err)
	}

	// The hub's first frame is the connected acknowledgment carrying the
	// session id.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake read: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.ParseEnvelope(frame)
	if err != nil || env.Type != protocol.TypeConnected {
		conn.Close()
		return fmt.Errorf("handshake: expected %s envelope, got %q", protocol.TypeConnected, env.Type)
	}
	var ack protocol.ConnectedPayload
	if err := env.DecodeData(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	t.mu.Lock()
	// Close may have raced the dial; a closed transport must not come back
	// to life holding a fresh socket.
	if t.state == StateClosing {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("dial %s: transport closed", t.opts.URL)
	}
	t.conn = conn
	t.sessionID = ack.SessionID
	t.state = StateConnected
	t.mu.Unlock()

	slog.Debug("Transport connected", "sessionID", ack.SessionID, "url", t.opts.URL)
	go t.readLoop(conn)

	t.subs.dispatch(env)
	return nil
}

// Publish sends a typed envelope to the hub. Publishing while not connected
// drops the message silently: the hub promises no delivery guarantee, so
// queueing here would only pretend otherwise.
func (t *Transport) Publish(msgType protocol.MessageType, data any) error {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected || t.conn == nil {
		slog.Debug("Publish while disconnected, dropping", "type", msgType)
		return nil
	}
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

// Close shuts the transport down cleanly. No reconnect follows.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateClosing {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	conn := t.conn
	t.conn = nil
	close(t.closing)
	t.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

// readLoop dispatches inbound envelopes until the connection drops, then
// hands over to the reconnect loop unless the drop was a clean Close.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.handleDrop(conn, err)
			return
		}

		env, perr := protocol.ParseEnvelope(frame)
		if perr != nil {
			slog.Warn("Transport received malformed frame", "error", perr)
			continue
		}
		t.subs.dispatch(env)
	}
}

// handleDrop transitions to disconnected, emits the local event, and starts
// the backoff loop for unexpected drops.
func (t *Transport) handleDrop(conn *websocket.Conn, cause error) {
	conn.Close()

	t.mu.Lock()
	// A stale read loop from a previous connection must not disturb the
	// current one.
	if t.conn != conn && t.state != StateClosing {
		t.mu.Unlock()
		return
	}
	closing := t.state == StateClosing
	t.conn = nil
	if !closing {
		t.state = StateDisconnected
	}
	t.mu.Unlock()

	t.emitLocal(EventDisconnected, map[string]string{"reason": cause.Error()})
	if closing {
		return
	}

	slog.Info("Transport disconnected, starting reconnect", "error", cause)
	go t.reconnectLoop()
}

// reconnectLoop retries with delays of base x 2^attempt until it connects or
// the attempt budget is spent.
func (t *Transport) reconnectLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.opts.BackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		delay := bo.NextBackOff()
		slog.Info("Reconnect attempt scheduled", "attempt", attempt, "delay", delay)
		if !t.sleep(delay) {
			return
		}

		t.mu.Lock()
		if t.state == StateClosing {
			t.mu.Unlock()
			return
		}
		t.state = StateConnecting
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := t.dial(ctx)
		cancel()
		if err == nil {
			slog.Info("Transport reconnected", "attempt", attempt)
			return
		}

		slog.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		t.emitLocal(EventError, map[string]string{"error": err.Error()})
	}

	slog.Error("Reconnect attempts exhausted", "max_attempts", t.opts.MaxAttempts)
	t.emitLocal(EventMaxReconnectAttempts, map[string]int{"attempts": t.opts.MaxAttempts})
}

// waitOrClosing sleeps for d, returning false if Close happened first.
func (t *Transport) waitOrClosing(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.closing:
		return false
	}
}

func (t *Transport) emitLocal(msgType protocol.MessageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	t.subs.dispatch(protocol.Envelope{Type: msgType, Data: raw})
}
