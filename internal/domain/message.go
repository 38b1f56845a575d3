package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindSystem Kind = "system"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindFile, KindAudio, KindVideo, KindSystem:
		return true
	}
	return false
}

// HasAttachment reports whether the kind carries a file reference.
func (k Kind) HasAttachment() bool {
	return k == KindFile || k == KindAudio || k == KindVideo
}

// Playable kinds are exempt from view-once gating.
func (k Kind) Playable() bool { return k == KindAudio || k == KindVideo }

// Flags is a set of semantic tags attached to a message.
type Flags uint16

const (
	FlagRoomCreation Flags = 1 << iota
	FlagUserJoin
	FlagUserLeave
	FlagHostLeave
	FlagUserKick
	FlagScreenshotAlert
	FlagDownloadNotice
	FlagRoomDeleted
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagRoomCreation, "RoomCreation"},
	{FlagUserJoin, "UserJoin"},
	{FlagUserLeave, "UserLeave"},
	{FlagHostLeave, "HostLeave"},
	{FlagUserKick, "UserKick"},
	{FlagScreenshotAlert, "ScreenshotAlert"},
	{FlagDownloadNotice, "DownloadNotice"},
	{FlagRoomDeleted, "RoomDeleted"},
}

func (f Flags) Has(o Flags) bool { return o != 0 && f&o == o }

func (f Flags) Names() []string {
	out := make([]string, 0, 2)
	for _, n := range flagNames {
		if f&n.f != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (f Flags) MarshalJSON() ([]byte, error) { return json.Marshal(f.Names()) }

func (f *Flags) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	*f = 0
	for _, name := range names {
		found := false
		for _, n := range flagNames {
			if n.name == name {
				*f |= n.f
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown message flag %q", name)
		}
	}
	return nil
}

// FileAttrs are the type-specific attributes of non-text messages.
type FileAttrs struct {
	FileRef      string `json:"fileRef"`
	FileName     string `json:"fileName,omitempty"`
	Size         int64  `json:"size,omitempty"`
	MimeCategory string `json:"mimeCategory,omitempty"`
}

type Message struct {
	ID        string     `json:"id"`
	RoomID    RoomID     `json:"roomId"`
	SenderID  UserID     `json:"senderId,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Kind      Kind       `json:"kind"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Flags     Flags      `json:"flags"`
	Seq       uint64     `json:"seq,omitempty"`
	File      *FileAttrs `json:"file,omitempty"`
}

// ContentKey is the secondary de-duplication key.
type ContentKey struct {
	UnixNano int64
	Content  string
	SenderID UserID
}

func (m *Message) ContentKey() ContentKey {
	return ContentKey{UnixNano: m.Timestamp.UnixNano(), Content: m.Content, SenderID: m.SenderID}
}

// NewSystemMessage builds a sender-less notice for the room log.
func NewSystemMessage(room RoomID, content string, flags Flags) Message {
	return Message{RoomID: room, Kind: KindSystem, Content: content, Flags: flags}
}

// ViewOnceRecord remembers a successful open of a view-once file.
type ViewOnceRecord struct {
	FileID   string    `json:"fileId"`
	ViewerID UserID    `json:"viewerId"`
	ViewedAt time.Time `json:"viewedAt"`
}
