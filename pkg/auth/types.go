// Package auth implements CrewLedger's authentication and RBAC layer:
// password/PIN login, JWT access+refresh tokens, and the three-role
// access matrix. The Principal/context/middleware shape and the JWT
// signing follow the same pattern used elsewhere in this codebase for
// request-scoped identity, adapted from tenant-scoped SaaS claims to
// CrewLedger's role-scoped crew claims.
package auth

import "time"

// Role is one of the three roles in the RBAC matrix.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleForeman Role = "foreman"
	RoleWorker  Role = "worker"
)

// Channel identifies where a login request originated. Workers may
// never authenticate through the web channel.
type Channel string

const (
	ChannelWeb  Channel = "web"
	ChannelBot  Channel = "bot"
	ChannelAPI  Channel = "api"
)

// Principal is the authenticated caller abstraction every handler
// depends on, carrying role + origin rather than a concrete credential
// type.
type Principal struct {
	UserID     int64
	Role       Role
	TelegramID *int64
	Origin     Origin
}

// Origin distinguishes how a Principal was authenticated: a user JWT,
// or the shared admin automation secret.
type Origin string

const (
	OriginJWT         Origin = "jwt"
	OriginAdminSecret Origin = "admin_secret"
)

// HasRole reports whether the principal holds exactly one of the
// given roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// User mirrors the data model's User entity as needed by
// the auth layer.
type User struct {
	ID         int64
	Name       string
	TelegramID *int64
	Role       Role
	Status     string // active | inactive
	DailyRate  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
