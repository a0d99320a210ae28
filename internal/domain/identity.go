package domain

import "context"

// Role classifies what an identity is allowed to do inside the hub.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the authenticated principal behind a connection. The hub never
// sees the credential that produced it, only the resolved identity.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Authenticator exchanges an opaque bearer credential for an identity.
// It lives in the domain because it's a requirement OF the hub, not of any
// particular token format.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}
