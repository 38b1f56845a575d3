package domain

import (
	"fmt"
	"time"
)

type RoomID string

type Mode string

const (
	ModeNormal Mode = "normal"
	ModeSecure Mode = "secure"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, "":
		return ModeNormal, nil
	case ModeSecure:
		return ModeSecure, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidEvent, s)
}

// HostPolicy decides what happens to a room once its host is gone for good.
type HostPolicy string

const (
	PreserveOnHostLeave HostPolicy = "preserve"
	DeleteOnHostLoss    HostPolicy = "delete"
)

// DefaultHostPolicy follows the observed behaviour: normal rooms outlive
// their host, secure rooms do not.
func DefaultHostPolicy(m Mode) HostPolicy {
	if m == ModeSecure {
		return DeleteOnHostLoss
	}
	return PreserveOnHostLeave
}

type Room struct {
	ID               RoomID     `json:"id"`
	Mode             Mode       `json:"mode"`
	CreatedBy        UserID     `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	BurnAfterReading bool       `json:"burnAfterReading"`
	PasswordHash     []byte     `json:"passwordHash,omitempty"`
	HostPolicy       HostPolicy `json:"hostPolicy"`
}

func (r *Room) IsSecure() bool { return r.Mode == ModeSecure }

func (r *Room) IsHost(id UserID) bool { return id != "" && id == r.CreatedBy }

func (r *Room) HasPassword() bool { return len(r.PasswordHash) > 0 }

func (r *Room) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// RoomInfo is a read-only listing entry.
type RoomInfo struct {
	ID          RoomID     `json:"id"`
	Mode        Mode       `json:"mode"`
	MemberCount int        `json:"member_count"`
	HasPassword bool       `json:"has_password"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}
