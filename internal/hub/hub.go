package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aranyaone/relay/internal/domain"
	"github.com/aranyaone/relay/internal/protocol"
	"github.com/aranyaone/relay/internal/pubsub"
)

// Config carries the hub's tunables.
type Config struct {
	// SendBuffer sizes each session's outbound queue.
	SendBuffer int
	// IdleTimeout is how long a session may stay silent before eviction.
	IdleTimeout time.Duration
	// EvictInterval is the housekeeping tick for idle eviction.
	EvictInterval time.Duration
	// DashboardInterval is the housekeeping tick for dashboard pushes.
	DashboardInterval time.Duration
}

// Option configures a Hub beyond its Config.
type Option func(*Hub)

// WithSignificancePolicy injects the analytics significance policy.
func WithSignificancePolicy(p *SignificancePolicy) Option {
	return func(h *Hub) { h.significance = p }
}

// WithSnapshotSource injects the dashboard snapshot provider.
func WithSnapshotSource(s SnapshotSource) Option {
	return func(h *Hub) { h.snapshots = s }
}

// Hub is the event-distribution core: it owns the session registry and room
// index, routes frames, and runs housekeeping. It is an explicit service
// struct constructed once and handed to every connection-handling context;
// there is no process-wide singleton.
type Hub struct {
	cfg          Config
	registry     *SessionRegistry
	rooms        *RoomIndex
	router       *Router
	publisher    pubsub.Publisher
	significance *SignificancePolicy
	snapshots    SnapshotSource
}

// New constructs a hub. The publisher feeds external collaborators (analytics
// collector and friends); housekeeping does not start until Run is called.
func New(cfg Config, publisher pubsub.Publisher, opts ...Option) *Hub {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 30 * time.Second
	}
	if cfg.DashboardInterval <= 0 {
		cfg.DashboardInterval = 10 * time.Second
	}

	h := &Hub{
		cfg:       cfg,
		registry:  NewSessionRegistry(cfg.SendBuffer),
		rooms:     NewRoomIndex(),
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.significance == nil {
		h.significance = NewSignificancePolicy("conversion", "purchase", "signup")
	}
	if h.snapshots == nil {
		h.snapshots = statsSnapshot{hub: h}
	}

	h.router = NewRouter(h.registry, h.rooms, publisher, h.significance, h.snapshots)
	return h
}

// Connect registers a session for the authenticated identity, auto-joins it
// to its personal room, and queues the connected acknowledgment. The caller
// owns the connection and must drain session.Messages().
func (h *Hub) Connect(ctx context.Context, identity domain.Identity) (*Session, error) {
	session := h.registry.Register(identity)
	h.rooms.Join(session.ID, PersonalRoom(identity.ID))

	ack, err := protocol.NewEnvelope(protocol.TypeConnected, protocol.ConnectedPayload{
		SessionID: session.ID,
		Identity:  identity,
	})
	if err != nil {
		h.Disconnect(session.ID, "handshake_failed")
		return nil, err
	}
	raw, err := ack.Encode()
	if err != nil {
		h.Disconnect(session.ID, "handshake_failed")
		return nil, err
	}
	session.SendMessage(raw)

	h.publishLifecycle(ctx, TopicSessionConnected, session, "")
	return session, nil
}

// Disconnect removes the session and vacates all its rooms. It is idempotent:
// the read loop, an explicit close, and housekeeping may all race to call it.
func (h *Hub) Disconnect(sessionID, reason string) {
	vacated := h.rooms.RemoveSession(sessionID)
	session := h.registry.Remove(sessionID)
	if session == nil {
		return
	}

	slog.Info("Session disconnected", "sessionID", sessionID, "userID", session.Identity.ID, "reason", reason, "rooms_vacated", len(vacated))
	h.publishLifecycle(context.Background(), TopicSessionDisconnected, session, reason)
}

// SetSnapshotSource replaces the dashboard snapshot provider. Call before
// the hub starts serving connections; it is not safe to swap mid-flight.
func (h *Hub) SetSnapshotSource(s SnapshotSource) {
	h.snapshots = s
	h.router.snapshots = s
}

// Route processes one inbound frame for the session.
func (h *Hub) Route(ctx context.Context, sessionID string, frame []byte) {
	h.router.Route(ctx, sessionID, frame)
}

// Registry exposes the session registry for transports and tests.
func (h *Hub) Registry() *SessionRegistry {
	return h.registry
}

// Rooms exposes the room index for tests and diagnostics.
func (h *Hub) Rooms() *RoomIndex {
	return h.rooms
}

func (h *Hub) publishLifecycle(ctx context.Context, topic string, session *Session, reason string) {
	payload, err := json.Marshal(map[string]any{
		"sessionID": session.ID,
		"userID":    session.Identity.ID,
		"role":      session.Identity.Role,
		"reason":    reason,
	})
	if err != nil {
		return
	}
	msg := pubsub.Message{
		Topic:     topic,
		SessionID: session.ID,
		Payload:   payload,
	}
	if err := h.publisher.Publish(ctx, msg); err != nil {
		slog.Error("Failed to publish session lifecycle event", "topic", topic, "sessionID", session.ID, "error", err)
	}
}

// statsSnapshot is the fallback SnapshotSource: a minimal view of the hub
// itself, used until a richer collaborator (the analytics collector) is wired.
type statsSnapshot struct {
	hub *Hub
}

func (s statsSnapshot) Snapshot(ctx context.Context) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"sessions":     s.hub.registry.Len(),
		"rooms":        s.hub.rooms.RoomCount(),
		"generated_at": time.Now().UTC(),
	})
}
