package core

import (
	"context"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

// RoomRepository persists room metadata and the room log so a room can be
// rehydrated after a restart. Entries expire with the room.
type RoomRepository interface {
	SaveRoom(ctx context.Context, room domain.Room, ttl time.Duration) error
	// LoadRoom returns domain.ErrNotFound for unknown or expired rooms.
	LoadRoom(ctx context.Context, id domain.RoomID) (*domain.Room, []domain.Message, error)
	AppendMessage(ctx context.Context, id domain.RoomID, msg domain.Message, ttl time.Duration) error
	ReplaceLog(ctx context.Context, id domain.RoomID, msgs []domain.Message, ttl time.Duration) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	Close() error
}

// NopRepository keeps nothing; rooms live only in memory.
type NopRepository struct{}

func (NopRepository) SaveRoom(context.Context, domain.Room, time.Duration) error { return nil }

func (NopRepository) LoadRoom(context.Context, domain.RoomID) (*domain.Room, []domain.Message, error) {
	return nil, nil, domain.ErrNotFound
}

func (NopRepository) AppendMessage(context.Context, domain.RoomID, domain.Message, time.Duration) error {
	return nil
}

func (NopRepository) ReplaceLog(context.Context, domain.RoomID, []domain.Message, time.Duration) error {
	return nil
}

func (NopRepository) DeleteRoom(context.Context, domain.RoomID) error { return nil }

func (NopRepository) Close() error { return nil }
