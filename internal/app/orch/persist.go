package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

const persistTimeout = 5 * time.Second

type persistJob struct {
	kind  string
	room  domain.Room
	id    domain.RoomID
	msg   domain.Message
	msgs  []domain.Message
	ttl   time.Duration
	reply chan loadResult
}

type loadResult struct {
	room *domain.Room
	msgs []domain.Message
	err  error
}

// persister is the write-behind worker in front of the repository. Every
// repository call, reads included, goes through one queue so a load always
// observes the writes queued before it.
type persister struct {
	repo core.RoomRepository
	jobs chan persistJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newPersister(repo core.RoomRepository, size int) *persister {
	return &persister{repo: repo, jobs: make(chan persistJob, size), done: make(chan struct{})}
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		p.apply(job)
	}
}

func (p *persister) apply(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch job.kind {
	case "save":
		err = p.repo.SaveRoom(ctx, job.room, job.ttl)
	case "append":
		err = p.repo.AppendMessage(ctx, job.id, job.msg, job.ttl)
	case "replace":
		err = p.repo.ReplaceLog(ctx, job.id, job.msgs, job.ttl)
	case "delete":
		err = p.repo.DeleteRoom(ctx, job.id)
	case "load":
		room, msgs, lerr := p.repo.LoadRoom(ctx, job.id)
		job.reply <- loadResult{room: room, msgs: msgs, err: lerr}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch.persist").Str("job", job.kind).Str("room", string(job.id)).Msg("repository write failed")
	}
}

// enqueue never blocks a room actor; a full queue drops the write.
func (p *persister) enqueue(job persistJob) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.jobs <- job:
	default:
		log.Warn().Str("module", "app.orch.persist").Str("job", job.kind).Str("room", string(job.id)).Msg("persist queue full, write dropped")
	}
}

func (p *persister) saveRoom(room domain.Room, ttl time.Duration) {
	p.enqueue(persistJob{kind: "save", id: room.ID, room: room, ttl: ttl})
}

func (p *persister) appendMessage(id domain.RoomID, msg domain.Message, ttl time.Duration) {
	p.enqueue(persistJob{kind: "append", id: id, msg: msg, ttl: ttl})
}

func (p *persister) replaceLog(id domain.RoomID, msgs []domain.Message, ttl time.Duration) {
	p.enqueue(persistJob{kind: "replace", id: id, msgs: msgs, ttl: ttl})
}

func (p *persister) deleteRoom(id domain.RoomID) {
	p.enqueue(persistJob{kind: "delete", id: id})
}

// load is the one blocking call; it is only made from caller goroutines,
// never from a room actor.
func (p *persister) load(ctx context.Context, id domain.RoomID) (*domain.Room, []domain.Message, error) {
	reply := make(chan loadResult, 1)
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, nil, domain.ErrRoomClosed
	}
	select {
	case p.jobs <- persistJob{kind: "load", id: id, reply: reply}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
	select {
	case r := <-reply:
		return r.room, r.msgs, r.err
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

func (p *persister) stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	<-p.done
	return p.repo.Close()
}
