package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aranyaone/relay/internal/domain"
	"github.com/aranyaone/relay/internal/protocol"
	"github.com/aranyaone/relay/internal/pubsub"
)

// SnapshotSource supplies the dashboard payloads pushed on subscribe and on
// every periodic broadcast tick.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (json.RawMessage, error)
}

// Router classifies inbound frames by type, validates access, and dispatches
// to handlers. The router holds no per-connection state: a connection is just
// connected or it is not, and frames for one session arrive in order.
type Router struct {
	registry     *SessionRegistry
	rooms        *RoomIndex
	publisher    pubsub.Publisher
	significance *SignificancePolicy
	snapshots    SnapshotSource
	validate     *validator.Validate
}

// NewRouter wires a router over the shared registry and room index.
func NewRouter(registry *SessionRegistry, rooms *RoomIndex, publisher pubsub.Publisher, significance *SignificancePolicy, snapshots SnapshotSource) *Router {
	return &Router{
		registry:     registry,
		rooms:        rooms,
		publisher:    publisher,
		significance: significance,
		snapshots:    snapshots,
		validate:     validator.New(),
	}
}

// Route processes one inbound frame for the session. Errors are answered with
// an error envelope on the same connection; nothing here is fatal to the hub.
func (rt *Router) Route(ctx context.Context, sessionID string, frame []byte) {
	session, ok := rt.registry.Lookup(sessionID)
	if !ok {
		slog.Debug("Frame for unknown session dropped", "sessionID", sessionID)
		return
	}
	session.Touch()

	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		slog.Debug("Malformed frame", "sessionID", sessionID, "error", err)
		rt.replyError(session, domain.ErrMalformedMessage, "frame is not a valid envelope")
		return
	}

	if !protocol.IsClientType(env.Type) {
		rt.replyError(session, domain.ErrUnknownMessageType,
			fmt.Sprintf("unknown message type %q", env.Type))
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		rt.handleJoinRoom(session, env)
	case protocol.TypeLeaveRoom:
		rt.handleLeaveRoom(session, env)
	case protocol.TypeChatMessage:
		rt.handleChat(session, env)
	case protocol.TypeAnalyticsUpdate:
		rt.handleAnalytics(ctx, session, env)
	case protocol.TypeDashboardSubscribe:
		rt.handleDashboardSubscribe(ctx, session)
	case protocol.TypePing:
		rt.sendEnvelope(session, protocol.TypePong, protocol.PongPayload{Timestamp: time.Now().UTC()})
	}
}

func (rt *Router) handleJoinRoom(session *Session, env protocol.Envelope) {
	var req protocol.RoomRequest
	if !rt.decode(session, env, &req) {
		return
	}

	if !CanAccess(session.Identity, req.Room) {
		slog.Info("Join denied by room policy", "sessionID", session.ID, "userID", session.Identity.ID, "room", req.Room)
		rt.replyError(session, domain.ErrAccessDenied,
			fmt.Sprintf("access to room %q denied", req.Room))
		return
	}

	rt.rooms.Join(session.ID, req.Room)
	rt.sendEnvelope(session, protocol.TypeJoinedRoom, protocol.RoomReply{Room: req.Room})
}

func (rt *Router) handleLeaveRoom(session *Session, env protocol.Envelope) {
	var req protocol.RoomRequest
	if !rt.decode(session, env, &req) {
		return
	}

	if !CanAccess(session.Identity, req.Room) {
		rt.replyError(session, domain.ErrAccessDenied,
			fmt.Sprintf("access to room %q denied", req.Room))
		return
	}

	// Leaving a room the session never joined is a no-op, acknowledged the
	// same way as a real leave.
	rt.rooms.Leave(session.ID, req.Room)
	rt.sendEnvelope(session, protocol.TypeLeftRoom, protocol.RoomReply{Room: req.Room})
}

func (rt *Router) handleChat(session *Session, env protocol.Envelope) {
	var req protocol.ChatRequest
	if !rt.decode(session, env, &req) {
		return
	}

	if !CanAccess(session.Identity, req.Room) {
		rt.replyError(session, domain.ErrAccessDenied,
			fmt.Sprintf("access to room %q denied", req.Room))
		return
	}

	msg := protocol.ChatMessage{
		ID:        uuid.NewString(),
		Room:      req.Room,
		Sender:    session.Identity,
		Text:      req.Text,
		Timestamp: time.Now().UTC(),
	}
	rt.broadcastToRoom(req.Room, protocol.TypeChatMessage, msg)
}

func (rt *Router) handleAnalytics(ctx context.Context, session *Session, env protocol.Envelope) {
	var event protocol.AnalyticsEvent
	if !rt.decode(session, env, &event) {
		return
	}

	// Relay to the analytics collaborator over the bus. No reply to the
	// sender is required.
	busMsg := pubsub.Message{
		Topic:     TopicAnalyticsReceived,
		SessionID: session.ID,
		Payload:   env.Data,
		Metadata: map[string]string{
			"event_type": event.EventType,
			"user_id":    session.Identity.ID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := rt.publisher.Publish(ctx, busMsg); err != nil {
		slog.Error("Failed to publish analytics event", "sessionID", session.ID, "eventType", event.EventType, "error", err)
	}

	if rt.significance.IsSignificant(event.EventType) {
		alert := protocol.AnalyticsAlert{
			EventType: event.EventType,
			Sender:    session.Identity,
			Payload:   event.Payload,
			Timestamp: time.Now().UTC(),
		}
		rt.broadcastToRoom(RoomAdmin, protocol.TypeAnalyticsAlert, alert)
	}
}

func (rt *Router) handleDashboardSubscribe(ctx context.Context, session *Session) {
	rt.rooms.Join(session.ID, RoomDashboard)
	rt.sendEnvelope(session, protocol.TypeJoinedRoom, protocol.RoomReply{Room: RoomDashboard})

	snapshot, err := rt.snapshots.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to compute dashboard snapshot", "sessionID", session.ID, "error", err)
		return
	}
	rt.reply(session, protocol.Envelope{Type: protocol.TypeDashboardData, Data: snapshot})
}

// broadcastToRoom delivers one envelope to the room's member snapshot taken
// at call time. Delivery is per-recipient and non-blocking: a slow member
// drops the message without stalling the rest of the room.
func (rt *Router) broadcastToRoom(room string, msgType protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("Failed to build broadcast envelope", "room", room, "type", msgType, "error", err)
		return
	}
	rt.broadcastEnvelope(room, env)
}

// broadcastEnvelope encodes once and fans the frame out to the room's member
// snapshot.
func (rt *Router) broadcastEnvelope(room string, env protocol.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		slog.Error("Failed to encode broadcast envelope", "room", room, "type", env.Type, "error", err)
		return
	}

	members := rt.rooms.MembersOf(room)
	for _, id := range members {
		if member, ok := rt.registry.Lookup(id); ok {
			member.SendMessage(raw)
		}
	}
	slog.Debug("Broadcast delivered", "room", room, "type", env.Type, "recipients", len(members))
}

// decode unmarshals and validates an inbound payload, answering a malformed
// error on failure.
func (rt *Router) decode(session *Session, env protocol.Envelope, dst any) bool {
	if err := env.DecodeData(dst); err != nil {
		rt.replyError(session, domain.ErrMalformedMessage,
			fmt.Sprintf("invalid %s payload", env.Type))
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		rt.replyError(session, domain.ErrMalformedMessage,
			fmt.Sprintf("invalid %s payload: %v", env.Type, err))
		return false
	}
	return true
}

// replyError answers with an error envelope whose wire code reflects the
// domain failure taxonomy.
func (rt *Router) replyError(session *Session, cause error, message string) {
	rt.reply(session, protocol.NewError(errorCode(cause), message))
}

// errorCode maps domain sentinel errors onto wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return protocol.ErrCodeAccessDenied
	case errors.Is(err, domain.ErrUnknownMessageType):
		return protocol.ErrCodeUnknownType
	default:
		return protocol.ErrCodeMalformed
	}
}

func (rt *Router) sendEnvelope(session *Session, msgType protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		slog.Error("Failed to build envelope", "sessionID", session.ID, "type", msgType, "error", err)
		return
	}
	rt.reply(session, env)
}

func (rt *Router) reply(session *Session, env protocol.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		slog.Error("Failed to encode envelope", "sessionID", session.ID, "type", env.Type, "error", err)
		return
	}
	session.SendMessage(raw)
}
