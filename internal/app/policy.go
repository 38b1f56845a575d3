package app

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// Signal is a membership-changing input, already stripped of transport detail.
type Signal int

const (
	ManualLeave Signal = iota + 1
	AutomaticLeave
	Disconnect
	Kick
	HostGraceTimeout
)

func (s Signal) String() string {
	switch s {
	case ManualLeave:
		return "manual_leave"
	case AutomaticLeave:
		return "automatic_leave"
	case Disconnect:
		return "disconnect"
	case Kick:
		return "kick"
	case HostGraceTimeout:
		return "host_grace_timeout"
	}
	return "unknown"
}

// SignalOf maps a leave payload onto a classifier input.
func SignalOf(manual bool, reason domain.LeaveReason) Signal {
	if manual {
		return ManualLeave
	}
	if reason.Automatic() {
		return AutomaticLeave
	}
	return Disconnect
}

// Decision tells the coordinator what to do with a membership signal.
type Decision struct {
	// Apply changes the ledger (Left, or DisconnectedGrace when GraceStart).
	Apply bool
	// GraceStart parks the host instead of removing it.
	GraceStart bool
	// Notify emits a system message and a roster delta.
	Notify bool
	Flag   domain.Flags
	// Teardown deletes the room after the change is applied.
	Teardown bool
}

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	CloseConnection
)

type Policy interface {
	Classify(room *domain.Room, sig Signal, isHost bool) Decision
	OnBackPressure(room *domain.Room, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy implements the leave/disconnect table.
type SimplePolicy struct{}

func (SimplePolicy) Classify(room *domain.Room, sig Signal, isHost bool) Decision {
	secure := room.IsSecure()
	deleteOnLoss := room.HostPolicy == domain.DeleteOnHostLoss

	switch sig {
	case ManualLeave:
		d := Decision{Apply: true, Notify: true, Flag: domain.FlagUserLeave}
		if isHost {
			d.Flag |= domain.FlagHostLeave
			d.Teardown = deleteOnLoss
		}
		return d
	case AutomaticLeave:
		// Unmount/unload fire on ordinary re-renders; secure rooms only trust
		// explicit leave, kick or a real transport drop.
		if secure {
			return Decision{}
		}
		d := Decision{Apply: true, Notify: true, Flag: domain.FlagUserLeave}
		if isHost {
			d.Flag |= domain.FlagHostLeave
			d.Teardown = deleteOnLoss
		}
		return d
	case Disconnect:
		if isHost {
			return Decision{Apply: true, GraceStart: true}
		}
		if secure {
			return Decision{Apply: true}
		}
		return Decision{Apply: true, Notify: true, Flag: domain.FlagUserLeave}
	case Kick:
		return Decision{Apply: true, Notify: true, Flag: domain.FlagUserKick}
	case HostGraceTimeout:
		if deleteOnLoss {
			return Decision{Apply: true, Notify: true, Flag: domain.FlagRoomDeleted, Teardown: true}
		}
		return Decision{Apply: true, Notify: true, Flag: domain.FlagHostLeave}
	}
	return Decision{}
}

// OnBackPressure drops the frame; delivery is best-effort and a slow reader
// is cleaned up by its own ping deadline.
func (SimplePolicy) OnBackPressure(*domain.Room, core.SignalConnection) BackpressureAction {
	return DropFrame
}
