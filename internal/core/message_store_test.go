package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func TestAppendAssignsIDSeqAndTimestamp(t *testing.T) {
	clock := NewManualClock(t0)
	s := NewMessageStore("r1", clock, 0)

	a := s.Append(domain.Message{Kind: domain.KindText, Content: "a", SenderID: "u1"})
	b := s.Append(domain.Message{ID: "fixed", Kind: domain.KindText, Content: "b", Timestamp: at(5)})

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.RoomID("r1"), a.RoomID)
	assert.Equal(t, uint64(1), a.Seq)
	assert.True(t, a.Timestamp.Equal(t0))

	assert.Equal(t, "fixed", b.ID)
	assert.Equal(t, uint64(2), b.Seq)
	assert.True(t, b.Timestamp.Equal(at(5)))
	assert.Equal(t, 2, s.Len())
}

func TestAppendCopiesFileAttrs(t *testing.T) {
	s := NewMessageStore("r1", nil, 0)
	f := &domain.FileAttrs{FileRef: "blob-1"}
	stored := s.Append(domain.Message{Kind: domain.KindFile, File: f})
	f.FileRef = "changed"

	got, ok := s.Get(stored.ID)
	require.True(t, ok)
	assert.Equal(t, "blob-1", got.File.FileRef)
}

func TestHistoryLimitTrimsOldest(t *testing.T) {
	s := NewMessageStore("r1", NewManualClock(t0), 2)
	s.Append(domain.Message{ID: "1", Content: "1"})
	s.Append(domain.Message{ID: "2", Content: "2"})
	s.Append(domain.Message{ID: "3", Content: "3"})

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "2", snap[0].ID)
	assert.Equal(t, "3", snap[1].ID)
}

func TestDeleteReturnsRemovedIDs(t *testing.T) {
	s := NewMessageStore("r1", NewManualClock(t0), 0)
	s.Append(domain.Message{ID: "a", Content: "x", SenderID: "u1"})
	s.Append(domain.Message{ID: "b", Content: "y", SenderID: "u2"})
	s.Append(domain.Message{ID: "c", Content: "z", SenderID: "u1"})

	removed := s.Delete(func(m *domain.Message) bool { return m.SenderID == "u1" })
	assert.Equal(t, []string{"a", "c"}, removed)
	require.Equal(t, 1, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)

	assert.Empty(t, s.Delete(func(*domain.Message) bool { return false }))
}

func TestRestoreKeepsSequenceMonotonic(t *testing.T) {
	s := NewMessageStore("r1", NewManualClock(t0), 0)
	s.Restore([]domain.Message{
		{ID: "a", Content: "a", Seq: 7, Timestamp: at(1)},
		{ID: "b", Content: "b", Seq: 9, Timestamp: at(2)},
	})
	next := s.Append(domain.Message{Content: "c"})
	assert.Equal(t, uint64(10), next.Seq)
	assert.Equal(t, 3, s.Len())
}

func TestMergeOptimisticCopyCollapses(t *testing.T) {
	// B sends "hi" at t=100; the client cache holds an optimistic copy with a
	// temporary id and the server stored it as m42.
	client := []domain.Message{
		{ID: "tmp-1", SenderID: "B", Kind: domain.KindText, Content: "hi", Timestamp: at(100)},
	}
	server := []domain.Message{
		{ID: "m42", SenderID: "B", Kind: domain.KindText, Content: "hi", Timestamp: at(100), Seq: 1},
	}

	got := Merge(client, server)
	require.Len(t, got, 1)
	assert.Equal(t, "m42", got[0].ID)
	assert.Equal(t, "hi", got[0].Content)
}

func TestMergeDropsDuplicateIDs(t *testing.T) {
	a := []domain.Message{{ID: "x", Content: "old", Timestamp: at(1)}}
	b := []domain.Message{{ID: "x", Content: "new", Timestamp: at(1), Seq: 3}}
	got := Merge(a, b)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Content)
}

func TestMergeSortsByTimestampThenSeq(t *testing.T) {
	server := []domain.Message{
		{ID: "c", Content: "c", Timestamp: at(3), Seq: 3},
		{ID: "b", Content: "b", Timestamp: at(1), Seq: 2},
		{ID: "a", Content: "a", Timestamp: at(1), Seq: 1},
	}
	client := []domain.Message{{ID: "z", Content: "z", Timestamp: at(2)}}

	got := Merge(client, server)
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "z", "c"}, ids)
}

func mergeFixtures() ([]domain.Message, []domain.Message) {
	client := []domain.Message{
		{ID: "tmp-1", SenderID: "B", Content: "hi", Timestamp: at(100)},
		{ID: "m40", SenderID: "A", Content: "hello", Timestamp: at(90)},
		{ID: "local", SenderID: "B", Content: "draft", Timestamp: at(120)},
		{ID: "m41", SenderID: "A", Content: "stale copy", Timestamp: at(95)},
	}
	server := []domain.Message{
		{ID: "m40", SenderID: "A", Content: "hello", Timestamp: at(90), Seq: 1},
		{ID: "m41", SenderID: "A", Content: "how are you", Timestamp: at(95), Seq: 2},
		{ID: "m42", SenderID: "B", Content: "hi", Timestamp: at(100), Seq: 3},
		{ID: "m43", Kind: domain.KindSystem, Content: "C joined the room", Timestamp: at(110), Seq: 4},
	}
	return client, server
}

func TestMergeIdempotent(t *testing.T) {
	client, server := mergeFixtures()
	once := Merge(client, server)
	twice := Merge(once, server)
	assert.Equal(t, once, twice)
}

func TestMergeCommutative(t *testing.T) {
	client, server := mergeFixtures()
	assert.Equal(t, Merge(client, server), Merge(server, client))
}

func TestMergeNeverKeepsTwoMatchingEntries(t *testing.T) {
	client, server := mergeFixtures()
	got := Merge(client, server)

	ids := map[string]bool{}
	keys := map[domain.ContentKey]bool{}
	for i := range got {
		assert.False(t, ids[got[i].ID], "duplicate id %s", got[i].ID)
		assert.False(t, keys[got[i].ContentKey()], "duplicate content key %v", got[i].ContentKey())
		ids[got[i].ID] = true
		keys[got[i].ContentKey()] = true
	}
	assert.Len(t, got, 5)
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
}
