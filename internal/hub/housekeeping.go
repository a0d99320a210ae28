package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/aranyaone/relay/internal/protocol"
)

// Run drives the two housekeeping tasks on their own fixed intervals until
// the context is canceled: idle-session eviction and periodic dashboard
// pushes. Both treat an empty hub as steady state, not an error.
func (h *Hub) Run(ctx context.Context) {
	evict := time.NewTicker(h.cfg.EvictInterval)
	dashboard := time.NewTicker(h.cfg.DashboardInterval)
	defer evict.Stop()
	defer dashboard.Stop()

	slog.Info("Hub housekeeping started",
		"evict_interval", h.cfg.EvictInterval,
		"dashboard_interval", h.cfg.DashboardInterval,
		"idle_timeout", h.cfg.IdleTimeout)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Hub housekeeping stopped")
			return
		case <-evict.C:
			h.evictIdle()
		case <-dashboard.C:
			h.pushDashboard(ctx)
		}
	}
}

// evictIdle removes sessions that vanished without a clean close. Removal
// cascades to room membership exactly like a normal disconnect.
func (h *Hub) evictIdle() {
	idle := h.registry.ListIdle(h.cfg.IdleTimeout)
	for _, sessionID := range idle {
		slog.Info("Evicting idle session", "sessionID", sessionID, "idle_timeout", h.cfg.IdleTimeout)
		h.Disconnect(sessionID, "idle_timeout")
	}
}

// pushDashboard broadcasts a fresh snapshot to the dashboard room, decoupling
// dashboard freshness from individual client requests. Nothing happens while
// the room is empty.
func (h *Hub) pushDashboard(ctx context.Context) {
	if len(h.rooms.MembersOf(RoomDashboard)) == 0 {
		return
	}

	snapshot, err := h.snapshots.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to compute periodic dashboard snapshot", "error", err)
		return
	}
	h.router.broadcastEnvelope(RoomDashboard, protocol.Envelope{
		Type: protocol.TypeDashboardUpdate,
		Data: snapshot,
	})
}
