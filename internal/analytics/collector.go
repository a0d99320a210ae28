package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aranyaone/relay/internal/hub"
	"github.com/aranyaone/relay/internal/pubsub"
)

// DefaultRecentLimit bounds how many recent events a collector retains.
const DefaultRecentLimit = 50

// Event is one analytics record as seen by the collector.
type Event struct {
	EventType  string          `json:"eventType"`
	UserID     string          `json:"userId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Collector is the analytics collaborator on the receiving end of the bus.
// It aggregates relayed analytics_update events and doubles as the hub's
// dashboard snapshot source, so dashboard pushes carry real aggregates.
type Collector struct {
	mu          sync.RWMutex
	totals      map[string]int64
	recent      []Event
	recentLimit int

	sessions *hub.SessionRegistry
	rooms    *hub.RoomIndex
	logger   *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecentLimit bounds the recent-event ring.
func WithRecentLimit(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.recentLimit = n
		}
	}
}

// NewCollector creates a collector and subscribes it to the analytics topic.
// The registry and index are read-only inputs for snapshot counters; pass nil
// to omit them.
func NewCollector(ctx context.Context, subscriber pubsub.Subscriber, sessions *hub.SessionRegistry, rooms *hub.RoomIndex, opts ...Option) (*Collector, error) {
	c := &Collector{
		totals:      make(map[string]int64),
		recentLimit: DefaultRecentLimit,
		sessions:    sessions,
		rooms:       rooms,
		logger:      slog.Default().With("service", "analytics"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := subscriber.Subscribe(ctx, hub.TopicAnalyticsReceived, c.handleEvent); err != nil {
		return nil, err
	}
	c.logger.Info("Analytics collector subscribed", "topic", hub.TopicAnalyticsReceived)
	return c, nil
}

func (c *Collector) handleEvent(ctx context.Context, msg pubsub.Message) error {
	var incoming struct {
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(msg.Payload, &incoming); err != nil {
		c.logger.Error("Failed to unmarshal analytics event", "error", err)
		return err
	}
	if incoming.EventType == "" {
		incoming.EventType = msg.Metadata["event_type"]
	}

	event := Event{
		EventType:  incoming.EventType,
		UserID:     msg.Metadata["user_id"],
		Payload:    incoming.Payload,
		ReceivedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.totals[event.EventType]++
	c.recent = append(c.recent, event)
	if len(c.recent) > c.recentLimit {
		c.recent = c.recent[len(c.recent)-c.recentLimit:]
	}
	c.mu.Unlock()

	c.logger.Debug("Analytics event recorded", "eventType", event.EventType, "userID", event.UserID)
	return nil
}

// Totals returns a copy of the per-type event counters.
func (c *Collector) Totals() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.totals))
	for k, v := range c.totals {
		out[k] = v
	}
	return out
}

// Recent returns a copy of the retained recent events, oldest first.
func (c *Collector) Recent() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Event, len(c.recent))
	copy(out, c.recent)
	return out
}

// Snapshot implements hub.SnapshotSource. The payload is what dashboard
// subscribers see in dashboard_data and dashboard_update pushes.
func (c *Collector) Snapshot(ctx context.Context) (json.RawMessage, error) {
	c.mu.RLock()
	totals := make(map[string]int64, len(c.totals))
	for k, v := range c.totals {
		totals[k] = v
	}
	recent := make([]Event, len(c.recent))
	copy(recent, c.recent)
	c.mu.RUnlock()

	snapshot := map[string]any{
		"totals":       totals,
		"recent":       recent,
		"generated_at": time.Now().UTC(),
	}
	if c.sessions != nil {
		snapshot["sessions"] = c.sessions.Len()
	}
	if c.rooms != nil {
		snapshot["rooms"] = c.rooms.RoomCount()
	}
	return json.Marshal(snapshot)
}
