package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aranyaone/relay/internal/domain"
)

// MessageType tags every envelope on the wire. The set is closed: anything
// outside it is answered with an error envelope, never a disconnect.
type MessageType string

// Client -> server request types.
const (
	TypeJoinRoom           MessageType = "join_room"
	TypeLeaveRoom          MessageType = "leave_room"
	TypeChatMessage        MessageType = "chat_message"
	TypeAnalyticsUpdate    MessageType = "analytics_update"
	TypeDashboardSubscribe MessageType = "dashboard_subscribe"
	TypePing               MessageType = "ping"
)

// Server -> client reply and push types.
const (
	TypeConnected       MessageType = "connected"
	TypeJoinedRoom      MessageType = "joined_room"
	TypeLeftRoom        MessageType = "left_room"
	TypeDashboardData   MessageType = "dashboard_data"
	TypeDashboardUpdate MessageType = "dashboard_update"
	TypeAnalyticsAlert  MessageType = "analytics_alert"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
)

// clientTypes is the set of inbound types the router dispatches on.
var clientTypes = map[MessageType]bool{
	TypeJoinRoom:           true,
	TypeLeaveRoom:          true,
	TypeChatMessage:        true,
	TypeAnalyticsUpdate:    true,
	TypeDashboardSubscribe: true,
	TypePing:               true,
}

// IsClientType reports whether t is a recognized client request type.
func IsClientType(t MessageType) bool {
	return clientTypes[t]
}

// Envelope is the wire shape shared by both directions: a type tag plus an
// arbitrary JSON payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame. A frame that is not valid JSON or is
// missing its type tag is malformed.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	return env, nil
}

// NewEnvelope builds an envelope around any JSON-marshalable payload.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: raw}, nil
}

// Encode renders the envelope to its wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the envelope payload into dst.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty %s payload", domain.ErrMalformedMessage, e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return nil
}

// RoomRequest is the payload for join_room and leave_room.
type RoomRequest struct {
	Room string `json:"room" validate:"required"`
}

// RoomReply is the payload for joined_room and left_room.
type RoomReply struct {
	Room string `json:"room"`
}

// ChatRequest is the payload a client sends with chat_message.
type ChatRequest struct {
	Room string `json:"room" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// ChatMessage is the relayed chat envelope fanned out to a room. It is
// ephemeral: constructed on relay, never mutated, discarded once delivered.
type ChatMessage struct {
	ID        string          `json:"id"`
	Room      string          `json:"room"`
	Sender    domain.Identity `json:"sender"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

// AnalyticsEvent is the payload of analytics_update.
type AnalyticsEvent struct {
	EventType string          `json:"eventType" validate:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AnalyticsAlert is pushed to the admin room for high-significance events.
type AnalyticsAlert struct {
	EventType string          `json:"eventType"`
	Sender    domain.Identity `json:"sender"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	SessionID string          `json:"sessionId"`
	Identity  domain.Identity `json:"identity"`
}

// PongPayload answers a ping with the server clock.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload describes a per-message failure. The connection stays open.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.Code.
const (
	ErrCodeAccessDenied = "access_denied"
	ErrCodeMalformed    = "malformed_message"
	ErrCodeUnknownType  = "unknown_type"
)

// NewError builds an error envelope. Marshaling a plain struct of strings
// cannot fail, so this constructor returns the envelope directly.
func NewError(code, message string) Envelope {
	raw, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{Type: TypeError, Data: raw}
}
