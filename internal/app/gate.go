package app

import (
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type OpenOutcome int

const (
	Allowed OpenOutcome = iota + 1
	AlreadyViewed
)

func (o OpenOutcome) String() string {
	if o == Allowed {
		return "allowed"
	}
	return "already_viewed"
}

type viewKey struct {
	file   string
	viewer domain.UserID
}

// ContentGate holds the burn-after-reading rule and the view-once table of
// one room.
type ContentGate struct {
	views map[viewKey]domain.ViewOnceRecord
}

func NewContentGate() *ContentGate {
	return &ContentGate{views: make(map[viewKey]domain.ViewOnceRecord)}
}

// ShouldBurn reports whether a departure purges the room log. Secure rooms
// are governed by expiry and host teardown only.
func (g *ContentGate) ShouldBurn(room *domain.Room, sig Signal) bool {
	if !room.BurnAfterReading || room.IsSecure() {
		return false
	}
	return sig == ManualLeave || sig == AutomaticLeave
}

// Burn empties the log and returns the removed ids for cache invalidation.
func (g *ContentGate) Burn(store *core.MessageStore) []string {
	return store.Delete(func(*domain.Message) bool { return true })
}

// Gated reports whether opening msg in room is subject to view-once.
func (g *ContentGate) Gated(room *domain.Room, msg *domain.Message) bool {
	return room.IsSecure() && msg.Kind.HasAttachment() && !msg.Kind.Playable()
}

// OpenFile grants exactly one open per (file, viewer) pair.
func (g *ContentGate) OpenFile(fileID string, viewer domain.UserID, now time.Time) OpenOutcome {
	k := viewKey{file: fileID, viewer: viewer}
	if _, seen := g.views[k]; seen {
		return AlreadyViewed
	}
	g.views[k] = domain.ViewOnceRecord{FileID: fileID, ViewerID: viewer, ViewedAt: now}
	return Allowed
}

// Forget drops the records of deleted files.
func (g *ContentGate) Forget(fileIDs ...string) {
	if len(fileIDs) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		drop[id] = struct{}{}
	}
	for k := range g.views {
		if _, ok := drop[k.file]; ok {
			delete(g.views, k)
		}
	}
}

func (g *ContentGate) Records() []domain.ViewOnceRecord {
	out := make([]domain.ViewOnceRecord, 0, len(g.views))
	for _, r := range g.views {
		out = append(out, r)
	}
	return out
}

func (g *ContentGate) Reset() { clear(g.views) }
