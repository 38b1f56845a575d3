package orch

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/domain"
)

// maxClockSkew bounds how far a client timestamp may drift before the
// server time replaces it. Keeping the client time lets an optimistic
// cached copy collapse into the stored one on merge.
const maxClockSkew = 5 * time.Minute

func (a *roomActor) activeMember(id domain.UserID) (domain.Member, error) {
	m, ok := a.ledger.Get(id)
	if !ok || m.State != domain.Active {
		return domain.Member{}, fmt.Errorf("%s in room %s: %w", id, a.room.ID, domain.ErrNotMember)
	}
	return m, nil
}

func (a *roomActor) send(ev domain.SendEvent) (Result, error) {
	m, err := a.activeMember(ev.UserID)
	if err != nil {
		return Result{}, err
	}
	now := a.c.clock.Now()
	ts := ev.Timestamp
	if ts.IsZero() || ts.Sub(now) > maxClockSkew || now.Sub(ts) > maxClockSkew {
		ts = now
	}
	var file *domain.FileAttrs
	if ev.Kind.HasAttachment() && ev.File != nil {
		f := *ev.File
		file = &f
	}

	a.ledger.Touch(m.UserID, now)
	a.clearTyping(m.UserID)
	stored := a.appendMessage(domain.Message{
		SenderID:  m.UserID,
		Sender:    m.Username,
		Kind:      ev.Kind,
		Content:   ev.Content,
		Timestamp: ts,
		File:      file,
	})
	log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(m.UserID)).
		Str("kind", string(stored.Kind)).Uint64("seq", stored.Seq).Msg("message stored")
	return Result{Room: a.room, Member: m, Message: &stored}, nil
}

func (a *roomActor) downloaded(ev domain.DownloadEvent) (Result, error) {
	m, err := a.activeMember(ev.UserID)
	if err != nil {
		return Result{}, err
	}
	orig, ok := a.store.Get(ev.MessageID)
	if !ok || orig.File == nil {
		return Result{}, fmt.Errorf("message %s: %w", ev.MessageID, domain.ErrNotFound)
	}
	who := ev.DownloaderUsername
	if who == "" {
		who = m.Username
	}
	name := ev.FileName
	if name == "" {
		name = orig.File.FileName
	}
	if name == "" {
		name = "a file"
	}
	notice := a.appendMessage(domain.Message{
		Kind:    domain.KindSystem,
		Content: fmt.Sprintf("%s downloaded %s", who, name),
		Flags:   domain.FlagDownloadNotice,
	})
	return Result{Room: a.room, Member: m, Message: &notice}, nil
}

func (a *roomActor) screenshot(ev domain.ScreenshotEvent) (Result, error) {
	m, err := a.activeMember(ev.UserID)
	if err != nil {
		return Result{}, err
	}
	if !a.shots.Allow(string(m.UserID)) {
		log.Debug().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(m.UserID)).Msg("screenshot alert debounced")
		return Result{Ignored: true, Room: a.room, Member: m}, nil
	}
	who := ev.Username
	if who == "" {
		who = m.Username
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = a.c.clock.Now()
	}
	notice := a.appendMessage(domain.Message{
		Kind:    domain.KindSystem,
		Content: fmt.Sprintf("%s attempted to take a screenshot", who),
		Flags:   domain.FlagScreenshotAlert,
	})
	dto := m.DTO()
	dto.Username = who
	a.broadcast(domain.Outbound{Type: domain.OutScreenshotAlert, User: &dto, Method: ev.Method, At: &at}, "")
	log.Info().Str("module", "app.orch").Str("room", string(a.room.ID)).Str("user", string(m.UserID)).Str("method", ev.Method).Msg("screenshot alert")
	return Result{Room: a.room, Member: m, Message: &notice}, nil
}

// openFile serves the file reference of an attachment. Gated attachments
// are served once per viewer.
func (a *roomActor) openFile(ev domain.OpenFileEvent) (Result, error) {
	m, err := a.activeMember(ev.ViewerID)
	if err != nil {
		return Result{}, err
	}
	msg, ok := a.store.Get(ev.MessageID)
	if !ok || msg.File == nil {
		return Result{}, fmt.Errorf("file %s: %w", ev.MessageID, domain.ErrNotFound)
	}
	if a.gate.Gated(&a.room, &msg) {
		if a.gate.OpenFile(msg.ID, m.UserID, a.c.clock.Now()) == app.AlreadyViewed {
			return Result{}, fmt.Errorf("file %s: %w", msg.ID, domain.ErrConflict)
		}
		if sender, ok := a.ledger.Get(msg.SenderID); ok && sender.UserID != m.UserID {
			dto := m.DTO()
			a.emit(sender.ConnID, domain.Outbound{Type: domain.OutFileOpened, MessageID: msg.ID, User: &dto})
		}
	}
	f := *msg.File
	return Result{Room: a.room, Member: m, File: &f}, nil
}

func (a *roomActor) setTyping(ev domain.TypingEvent) (Result, error) {
	m, ok := a.ledger.Get(ev.UserID)
	if !ok || m.State != domain.Active {
		return Result{Ignored: true}, nil
	}
	if !ev.Active {
		a.clearTyping(m.UserID)
		return Result{Room: a.room, Member: m}, nil
	}

	st, typing := a.typing[m.UserID]
	if typing {
		st.timer.Stop()
	} else {
		st = &typingState{}
		a.typing[m.UserID] = st
		dto := m.DTO()
		active := true
		a.broadcast(domain.Outbound{Type: domain.OutUserTyping, User: &dto, Active: &active}, m.UserID)
	}
	a.typingGen++
	gen, user := a.typingGen, m.UserID
	st.gen = gen
	st.timer = a.c.clock.AfterFunc(a.c.cfg.TypingTimeout, func() { a.post(typingExpired{user: user, gen: gen}) })
	return Result{Room: a.room, Member: m}, nil
}

func (a *roomActor) typingExpired(ev typingExpired) (Result, error) {
	st, ok := a.typing[ev.user]
	if !ok || st.gen != ev.gen {
		return Result{Ignored: true}, nil
	}
	a.clearTyping(ev.user)
	return Result{Room: a.room}, nil
}

// clearTyping stops the typing timer of id and tells the others it stopped.
func (a *roomActor) clearTyping(id domain.UserID) {
	st, ok := a.typing[id]
	if !ok {
		return
	}
	delete(a.typing, id)
	if st.timer != nil {
		st.timer.Stop()
	}
	if a.closed {
		return
	}
	inactive := false
	dto := domain.MemberDTO{ID: id}
	if m, ok := a.ledger.Get(id); ok {
		dto = m.DTO()
	}
	a.broadcast(domain.Outbound{Type: domain.OutUserTyping, User: &dto, Active: &inactive}, id)
}
