package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aranyaone/relay/internal/domain"
)

func TestCanAccess(t *testing.T) {
	user := domain.Identity{ID: "42", Role: domain.RoleUser}
	admin := domain.Identity{ID: "1", Role: domain.RoleAdmin}

	tests := []struct {
		name     string
		identity domain.Identity
		room     string
		want     bool
	}{
		{"user joins public room", user, "general", true},
		{"user joins dashboard", user, RoomDashboard, true},
		{"user joins own personal room", user, "user_42", true},
		{"user denied someone else's personal room", user, "user_7", false},
		{"user denied admin room", user, RoomAdmin, false},
		{"admin joins admin room", admin, RoomAdmin, true},
		{"admin joins any personal room", admin, "user_42", true},
		{"admin joins public room", admin, "general", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.identity, tt.room))
		})
	}
}

func TestPersonalRoom(t *testing.T) {
	assert.Equal(t, "user_42", PersonalRoom("42"))
	assert.True(t, CanAccess(domain.Identity{ID: "42"}, PersonalRoom("42")))
}
