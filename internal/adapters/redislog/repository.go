// Package redislog keeps room metadata and room logs in Redis so rooms
// survive a process restart until they expire.
package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// HistoryLimit caps the stored log; <= 0 keeps everything.
	HistoryLimit int
}

// Repository implements core.RoomRepository. Each room is two keys: the
// room JSON and a list of message JSON in log order, both with the room TTL.
type Repository struct {
	client *redis.Client
	prefix string
	limit  int64
}

func New(cfg Config) (*Repository, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "parley:"
	}
	log.Info().Str("module", "adapters.redislog").Str("addr", addr).Int("db", cfg.DB).Msg("connected")
	return &Repository{client: client, prefix: prefix, limit: int64(cfg.HistoryLimit)}, nil
}

func (r *Repository) roomKey(id domain.RoomID) string { return r.prefix + "room:" + string(id) }

func (r *Repository) logKey(id domain.RoomID) string { return r.prefix + "room:" + string(id) + ":log" }

func (r *Repository) SaveRoom(ctx context.Context, room domain.Room, ttl time.Duration) error {
	b, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.roomKey(room.ID), b, ttl)
	if ttl > 0 {
		pipe.PExpire(ctx, r.logKey(room.ID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

func (r *Repository) LoadRoom(ctx context.Context, id domain.RoomID) (*domain.Room, []domain.Message, error) {
	raw, err := r.client.Get(ctx, r.roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load room %s: %w", id, err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, nil, fmt.Errorf("decode room %s: %w", id, err)
	}

	items, err := r.client.LRange(ctx, r.logKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("load log %s: %w", id, err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			log.Warn().Err(err).Str("module", "adapters.redislog").Str("room", string(id)).Msg("skipping undecodable message")
			continue
		}
		msgs = append(msgs, m)
	}
	return &room, msgs, nil
}

func (r *Repository) AppendMessage(ctx context.Context, id domain.RoomID, msg domain.Message, ttl time.Duration) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	key := r.logKey(id)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, b)
	if r.limit > 0 {
		pipe.LTrim(ctx, key, -r.limit, -1)
	}
	r.expire(ctx, pipe, id, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message to %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ReplaceLog(ctx context.Context, id domain.RoomID, msgs []domain.Message, ttl time.Duration) error {
	values := make([]any, 0, len(msgs))
	for i := range msgs {
		b, err := json.Marshal(msgs[i])
		if err != nil {
			return fmt.Errorf("encode message %s: %w", msgs[i].ID, err)
		}
		values = append(values, b)
	}
	key := r.logKey(id)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		r.expire(ctx, pipe, id, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace log of %s: %w", id, err)
	}
	return nil
}

func (r *Repository) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	if err := r.client.Del(ctx, r.roomKey(id), r.logKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	return nil
}

func (r *Repository) Close() error { return r.client.Close() }

func (r *Repository) expire(ctx context.Context, pipe redis.Pipeliner, id domain.RoomID, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	pipe.PExpire(ctx, r.logKey(id), ttl)
	pipe.PExpire(ctx, r.roomKey(id), ttl)
}
