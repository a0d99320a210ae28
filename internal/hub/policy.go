package hub

import (
	"strings"

	"github.com/aranyaone/relay/internal/domain"
)

// Reserved room names. Everything not matching a reserved pattern is an
// ad hoc public topic open to any authenticated identity.
const (
	// RoomAdmin is the operator broadcast channel.
	RoomAdmin = "admin"
	// RoomDashboard carries periodic snapshot pushes.
	RoomDashboard = "dashboard"

	personalRoomPrefix = "user_"
)

// PersonalRoom returns the name of a user's personal room. Every session is
// auto-joined to it at connect time, so every user is addressable without
// explicit action.
func PersonalRoom(userID string) string {
	return personalRoomPrefix + userID
}

// CanAccess evaluates the room naming convention against the identity:
// "user_<id>" rooms belong to that identity (or an admin), "admin" is
// admin-only, anything else is public. This is the only access decision in
// the hub; the RoomIndex itself never enforces policy.
func CanAccess(identity domain.Identity, room string) bool {
	switch {
	case room == RoomAdmin:
		return identity.IsAdmin()
	case strings.HasPrefix(room, personalRoomPrefix):
		owner := strings.TrimPrefix(room, personalRoomPrefix)
		return owner == identity.ID || identity.IsAdmin()
	default:
		return true
	}
}
