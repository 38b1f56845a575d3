package redislog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/domain"
)

func newRepo(t *testing.T, limit int) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	repo, err := New(Config{Addr: srv.Addr(), Prefix: "test:", HistoryLimit: limit})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, srv
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSaveAndLoadRoom(t *testing.T) {
	repo, srv := newRepo(t, 0)
	ctx := context.Background()
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	room := domain.Room{
		ID:               "r1",
		Mode:             domain.ModeNormal,
		CreatedBy:        "host",
		CreatedAt:        time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:        &exp,
		BurnAfterReading: true,
		PasswordHash:     []byte("hash"),
		HostPolicy:       domain.PreserveOnHostLeave,
	}
	require.NoError(t, repo.SaveRoom(ctx, room, time.Hour))
	require.NoError(t, repo.AppendMessage(ctx, room.ID, domain.Message{
		ID: "m1", RoomID: room.ID, SenderID: "host", Kind: domain.KindText, Content: "hi",
		Timestamp: time.Date(2029, 1, 1, 0, 0, 1, 0, time.UTC), Seq: 1,
	}, time.Hour))
	require.NoError(t, repo.AppendMessage(ctx, room.ID, domain.Message{
		ID: "m2", RoomID: room.ID, Kind: domain.KindSystem, Content: "joined",
		Flags: domain.FlagUserJoin, Seq: 2,
	}, time.Hour))

	got, msgs, err := repo.LoadRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, room.Mode, got.Mode)
	assert.True(t, got.BurnAfterReading)
	assert.Equal(t, []byte("hash"), got.PasswordHash)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))

	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[1].Flags.Has(domain.FlagUserJoin))

	assert.Equal(t, time.Hour, srv.TTL("test:room:r1"))
	assert.Equal(t, time.Hour, srv.TTL("test:room:r1:log"))
}

func TestLoadUnknownRoom(t *testing.T) {
	repo, _ := newRepo(t, 0)
	_, _, err := repo.LoadRoom(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoomExpiresWithTTL(t *testing.T) {
	repo, srv := newRepo(t, 0)
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, domain.Room{ID: "r1", Mode: domain.ModeSecure}, time.Minute))
	require.NoError(t, repo.AppendMessage(ctx, "r1", domain.Message{ID: "m1", Content: "x"}, time.Minute))

	srv.FastForward(2 * time.Minute)

	_, _, err := repo.LoadRoom(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, srv.Exists("test:room:r1:log"))
}

func TestAppendTrimsToHistoryLimit(t *testing.T) {
	repo, _ := newRepo(t, 2)
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, domain.Room{ID: "r1"}, time.Hour))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.AppendMessage(ctx, "r1", domain.Message{ID: id, Content: id}, time.Hour))
	}
	_, msgs, err := repo.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "c", msgs[1].ID)
}

func TestReplaceLogAndDelete(t *testing.T) {
	repo, srv := newRepo(t, 0)
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, domain.Room{ID: "r1"}, time.Hour))
	require.NoError(t, repo.AppendMessage(ctx, "r1", domain.Message{ID: "a", Content: "a"}, time.Hour))

	require.NoError(t, repo.ReplaceLog(ctx, "r1", nil, time.Hour))
	_, msgs, err := repo.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, repo.ReplaceLog(ctx, "r1", []domain.Message{{ID: "x", Content: "x"}}, time.Hour))
	_, msgs, err = repo.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].ID)

	require.NoError(t, repo.DeleteRoom(ctx, "r1"))
	assert.False(t, srv.Exists("test:room:r1"))
	assert.False(t, srv.Exists("test:room:r1:log"))
}
