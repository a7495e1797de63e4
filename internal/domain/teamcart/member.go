package teamcart

import "time"

// Role distinguishes the host from other members.
type Role string

const (
	RoleHost   Role = "host"
	RoleMember Role = "member"
)

// Member is a participant of a TeamCart.
type Member struct {
	ID       MemberID  `json:"id"`
	UserID   UserID    `json:"user_id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// IsHost reports whether m is the cart host.
func (m Member) IsHost() bool { return m.Role == RoleHost }

// JoinToken is the shareable secret that lets users join an open cart.
type JoinToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t JoinToken) expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
