package domain

import "time"

type MemberState int

const (
	Active MemberState = iota + 1
	DisconnectedGrace
	Left
)

func (s MemberState) String() string {
	switch s {
	case Active:
		return "active"
	case DisconnectedGrace:
		return "disconnected_grace"
	case Left:
		return "left"
	}
	return "unknown"
}

func (s MemberState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnID identifies one transport connection. A member keeps its UserID
// across reconnects but gets a fresh ConnID each time.
type ConnID string

// Member represents a user's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	UserID     UserID      `json:"userId"`
	Username   string      `json:"username"`
	State      MemberState `json:"state"`
	IsHost     bool        `json:"isHost"`
	JoinedAt   time.Time   `json:"joinedAt"`
	LastSeenAt time.Time   `json:"lastSeenAt"`
	ConnID     ConnID      `json:"-"`
}

// MemberDTO is the roster view sent to clients.
type MemberDTO struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

func (m *Member) DTO() MemberDTO {
	return MemberDTO{ID: m.UserID, Username: m.Username, IsHost: m.IsHost}
}
