package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid membership transition")

// JoinOutcome tells the coordinator which notification a join deserves.
type JoinOutcome int

const (
	// Joined: the user was absent (or had left) and is now Active.
	Joined JoinOutcome = iota + 1
	// Rebound: the user was already Active; only the connection changed.
	Rebound
	// Reconnected: the user came back from DisconnectedGrace.
	Reconnected
)

// Ledger is the per-room member table. Like MessageStore it relies on the
// room actor for serialization.
type Ledger struct {
	members map[domain.UserID]*domain.Member
}

func NewLedger() *Ledger {
	return &Ledger{members: make(map[domain.UserID]*domain.Member)}
}

func (l *Ledger) Get(id domain.UserID) (domain.Member, bool) {
	m, ok := l.members[id]
	if !ok {
		return domain.Member{}, false
	}
	return *m, true
}

// State returns Left for users not in the table.
func (l *Ledger) State(id domain.UserID) domain.MemberState {
	if m, ok := l.members[id]; ok {
		return m.State
	}
	return domain.Left
}

func (l *Ledger) Join(id domain.UserID, username string, isHost bool, conn domain.ConnID, now time.Time) (JoinOutcome, domain.Member) {
	m, ok := l.members[id]
	if !ok {
		m = &domain.Member{
			UserID:   id,
			Username: username,
			IsHost:   isHost,
			JoinedAt: now,
		}
		l.members[id] = m
	}
	outcome := Joined
	switch {
	case ok && m.State == domain.Active:
		outcome = Rebound
	case ok && m.State == domain.DisconnectedGrace:
		outcome = Reconnected
	}
	if username != "" {
		m.Username = username
	}
	m.State = domain.Active
	m.ConnID = conn
	m.LastSeenAt = now
	return outcome, *m
}

// BeginGrace moves an Active member into DisconnectedGrace.
func (l *Ledger) BeginGrace(id domain.UserID, now time.Time) (domain.Member, error) {
	m, ok := l.members[id]
	if !ok {
		return domain.Member{}, fmt.Errorf("begin grace %s: %w", id, domain.ErrNotMember)
	}
	if m.State != domain.Active && m.State != domain.DisconnectedGrace {
		return *m, fmt.Errorf("begin grace %s from %s: %w", id, m.State, ErrInvalidTransition)
	}
	m.State = domain.DisconnectedGrace
	m.ConnID = ""
	m.LastSeenAt = now
	return *m, nil
}

// MarkLeft moves a member to Left and drops it from the table; the returned
// copy is the final record.
func (l *Ledger) MarkLeft(id domain.UserID, now time.Time) (domain.Member, error) {
	m, ok := l.members[id]
	if !ok {
		return domain.Member{}, fmt.Errorf("leave %s: %w", id, domain.ErrNotMember)
	}
	delete(l.members, id)
	m.State = domain.Left
	m.ConnID = ""
	m.LastSeenAt = now
	return *m, nil
}

func (l *Ledger) Touch(id domain.UserID, now time.Time) {
	if m, ok := l.members[id]; ok {
		m.LastSeenAt = now
	}
}

// Active returns the Active members ordered by join time.
func (l *Ledger) Active() []domain.Member {
	out := make([]domain.Member, 0, len(l.members))
	for _, m := range l.members {
		if m.State == domain.Active {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Roster is the client-facing view of Active members.
func (l *Ledger) Roster() []domain.MemberDTO {
	active := l.Active()
	out := make([]domain.MemberDTO, 0, len(active))
	for i := range active {
		out = append(out, active[i].DTO())
	}
	return out
}

// Len counts members that are not Left.
func (l *Ledger) Len() int { return len(l.members) }

func (l *Ledger) Clear() {
	clear(l.members)
}
