package domain

import (
	"fmt"
	"time"
)

// Event is the closed set of inbound events a room accepts. Adapters decode
// the wire payload into one of the concrete types below and call Validate
// before submitting it.
type Event interface {
	Room() RoomID
	Validate() error
	event()
}

type LeaveReason string

const (
	ReasonManual           LeaveReason = "manual"
	ReasonComponentUnmount LeaveReason = "component_unmount"
	ReasonPageUnload       LeaveReason = "page_unload"
	ReasonNetwork          LeaveReason = "network"
)

// Automatic reports whether the reason is a client-side cleanup signal that
// fires on ordinary re-renders and says nothing about actual departure.
func (r LeaveReason) Automatic() bool {
	return r == ReasonComponentUnmount || r == ReasonPageUnload
}

type JoinEvent struct {
	RoomID   RoomID
	UserID   UserID
	Username string
	Password string
	ConnID   ConnID
	// Cache is the client-held copy of the log, reconciled on every (re)join.
	Cache []Message
}

type LeaveEvent struct {
	RoomID RoomID
	UserID UserID
	Manual bool
	Reason LeaveReason
}

// DisconnectEvent originates from channel loss, never from the client.
type DisconnectEvent struct {
	RoomID RoomID
	UserID UserID
	ConnID ConnID
	Reason string
}

type SendEvent struct {
	RoomID    RoomID
	UserID    UserID
	Kind      Kind
	Content   string
	File      *FileAttrs
	Timestamp time.Time
}

type KickEvent struct {
	RoomID   RoomID
	HostID   UserID
	TargetID UserID
}

type DownloadEvent struct {
	RoomID             RoomID
	UserID             UserID
	MessageID          string
	FileName           string
	FileType           string
	DownloaderUsername string
}

type ScreenshotEvent struct {
	RoomID    RoomID
	UserID    UserID
	Username  string
	Method    string
	Timestamp time.Time
}

type OpenFileEvent struct {
	RoomID    RoomID
	ViewerID  UserID
	MessageID string
}

type TypingEvent struct {
	RoomID RoomID
	UserID UserID
	Active bool
}

type DeleteRoomEvent struct {
	RoomID RoomID
	UserID UserID
}

func (e JoinEvent) Room() RoomID       { return e.RoomID }
func (e LeaveEvent) Room() RoomID      { return e.RoomID }
func (e DisconnectEvent) Room() RoomID { return e.RoomID }
func (e SendEvent) Room() RoomID       { return e.RoomID }
func (e KickEvent) Room() RoomID       { return e.RoomID }
func (e DownloadEvent) Room() RoomID   { return e.RoomID }
func (e ScreenshotEvent) Room() RoomID { return e.RoomID }
func (e OpenFileEvent) Room() RoomID   { return e.RoomID }
func (e TypingEvent) Room() RoomID     { return e.RoomID }
func (e DeleteRoomEvent) Room() RoomID { return e.RoomID }

func (JoinEvent) event()       {}
func (LeaveEvent) event()      {}
func (DisconnectEvent) event() {}
func (SendEvent) event()       {}
func (KickEvent) event()       {}
func (DownloadEvent) event()   {}
func (ScreenshotEvent) event() {}
func (OpenFileEvent) event()   {}
func (TypingEvent) event()     {}
func (DeleteRoomEvent) event() {}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidEvent}, args...)...)
}

func requireIDs(room RoomID, user UserID) error {
	if room == "" {
		return invalid("roomId required")
	}
	if user == "" {
		return invalid("userId required")
	}
	if len(user) > MaxUserIDLen {
		return invalid("userId too long")
	}
	return nil
}

func (e JoinEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.UserID); err != nil {
		return err
	}
	if e.ConnID == "" {
		return invalid("connection id required")
	}
	if len(e.Username) > MaxUsernameLen {
		return invalid("username too long")
	}
	return nil
}

func (e LeaveEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.UserID); err != nil {
		return err
	}
	if e.Manual {
		return nil
	}
	if !e.Reason.Automatic() {
		return invalid("non-manual leave needs reason component_unmount or page_unload, got %q", e.Reason)
	}
	return nil
}

func (e DisconnectEvent) Validate() error { return requireIDs(e.RoomID, e.UserID) }

const MaxMessageLen = 8000

func (e SendEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.UserID); err != nil {
		return err
	}
	if !e.Kind.Valid() || e.Kind == KindSystem {
		return invalid("kind %q not allowed", e.Kind)
	}
	if len(e.Content) > MaxMessageLen {
		return invalid("content too long")
	}
	if e.Kind.HasAttachment() {
		if e.File == nil || e.File.FileRef == "" {
			return invalid("%s message needs fileRef", e.Kind)
		}
		return nil
	}
	if e.Content == "" {
		return invalid("content required")
	}
	return nil
}

func (e KickEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.HostID); err != nil {
		return err
	}
	if e.TargetID == "" {
		return invalid("targetUserId required")
	}
	if e.TargetID == e.HostID {
		return invalid("cannot kick yourself")
	}
	return nil
}

func (e DownloadEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.UserID); err != nil {
		return err
	}
	if e.MessageID == "" {
		return invalid("messageId required")
	}
	return nil
}

func (e ScreenshotEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.UserID); err != nil {
		return err
	}
	if e.Method == "" {
		return invalid("method required")
	}
	return nil
}

func (e OpenFileEvent) Validate() error {
	if err := requireIDs(e.RoomID, e.ViewerID); err != nil {
		return err
	}
	if e.MessageID == "" {
		return invalid("messageId required")
	}
	return nil
}

func (e TypingEvent) Validate() error     { return requireIDs(e.RoomID, e.UserID) }
func (e DeleteRoomEvent) Validate() error { return requireIDs(e.RoomID, e.UserID) }
