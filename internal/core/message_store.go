package core

import (
	"sort"

	"github.com/google/uuid"

	"github.com/dkeye/Parley/internal/domain"
)

// MessageStore is the ordered log of one room. It is not safe for
// concurrent use; the room actor owning it serializes every call.
type MessageStore struct {
	room  domain.RoomID
	clock Clock
	limit int
	seq   uint64
	msgs  []domain.Message
}

// NewMessageStore creates an empty log. A limit <= 0 keeps everything.
func NewMessageStore(room domain.RoomID, clock Clock, limit int) *MessageStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MessageStore{room: room, clock: clock, limit: limit}
}

// Append assigns id, sequence and timestamp where absent and returns the
// canonical stored copy.
func (s *MessageStore) Append(msg domain.Message) domain.Message {
	s.seq++
	msg.Seq = s.seq
	msg.RoomID = s.room
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock.Now()
	}
	if msg.File != nil {
		f := *msg.File
		msg.File = &f
	}
	s.msgs = append(s.msgs, msg)
	if s.limit > 0 && len(s.msgs) > s.limit {
		s.msgs = append([]domain.Message(nil), s.msgs[len(s.msgs)-s.limit:]...)
	}
	return msg
}

// Delete drops every message matching pred and returns the removed ids in
// log order.
func (s *MessageStore) Delete(pred func(*domain.Message) bool) []string {
	var removed []string
	kept := s.msgs[:0]
	for i := range s.msgs {
		if pred(&s.msgs[i]) {
			removed = append(removed, s.msgs[i].ID)
			continue
		}
		kept = append(kept, s.msgs[i])
	}
	for i := len(kept); i < len(s.msgs); i++ {
		s.msgs[i] = domain.Message{}
	}
	s.msgs = kept
	return removed
}

func (s *MessageStore) Get(id string) (domain.Message, bool) {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			return s.msgs[i], true
		}
	}
	return domain.Message{}, false
}

func (s *MessageStore) Snapshot() []domain.Message {
	out := make([]domain.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *MessageStore) Len() int { return len(s.msgs) }

// Restore replaces the log with a persisted copy, keeping sequence numbers
// monotonic for later appends.
func (s *MessageStore) Restore(msgs []domain.Message) {
	s.msgs = Merge(nil, msgs)
	for _, m := range s.msgs {
		if m.Seq > s.seq {
			s.seq = m.Seq
		}
	}
}

// Merge reconciles a client-held cache with the server log. The result
// holds no two entries sharing an id or a (timestamp, content, sender)
// key, sorted by timestamp with ties broken by insertion sequence.
//
// When entries collide the server-stored copy wins (highest Seq), so an
// optimistic client copy collapses into the canonical one. The winner is
// picked from a total order over the union, which makes the output
// independent of argument order and stable under re-merging.
func Merge(client, server []domain.Message) []domain.Message {
	all := make([]domain.Message, 0, len(client)+len(server))
	all = append(all, server...)
	all = append(all, client...)

	sort.SliceStable(all, func(i, j int) bool { return preferred(&all[i], &all[j]) })

	seenID := make(map[string]struct{}, len(all))
	seenKey := make(map[domain.ContentKey]struct{}, len(all))
	out := make([]domain.Message, 0, len(all))
	for _, m := range all {
		key := m.ContentKey()
		if _, dup := seenID[m.ID]; dup && m.ID != "" {
			continue
		}
		if _, dup := seenKey[key]; dup {
			continue
		}
		if m.ID != "" {
			seenID[m.ID] = struct{}{}
		}
		seenKey[key] = struct{}{}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}

// preferred is a strict total order used to pick duplicate winners.
func preferred(a, b *domain.Message) bool {
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Content != b.Content {
		return a.Content < b.Content
	}
	return a.SenderID < b.SenderID
}
