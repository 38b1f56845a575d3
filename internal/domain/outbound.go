package domain

import "time"

// Outbound event types.
const (
	OutMessageNew        = "message:new"
	OutMessageDeleted    = "message:deleted"
	OutUserJoined        = "user:joined"
	OutUserLeft          = "user:left"
	OutUserKicked        = "user:kicked"
	OutUserTyping        = "user:typing"
	OutRoomState         = "room:state"
	OutRoomExpired       = "room:expired"
	OutRoomDeletedByHost = "room:deleted-by-host"
	OutRoomOnlineUsers   = "room:online-users"
	OutRoomCachePurge    = "room:cache-purge"
	OutFileOpened        = "file:opened"
	OutScreenshotAlert   = "screenshot:alert"
)

// Outbound is the flat JSON envelope delivered to connected members.
type Outbound struct {
	Type      string      `json:"type"`
	RoomID    RoomID      `json:"roomId"`
	Mode      Mode        `json:"mode,omitempty"`
	IsHost    bool        `json:"isHost,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
	Messages  []Message   `json:"messages,omitempty"`
	User      *MemberDTO  `json:"user,omitempty"`
	By        *MemberDTO  `json:"by,omitempty"`
	Users     []MemberDTO `json:"users,omitempty"`
	File      *FileAttrs  `json:"file,omitempty"`
	Active    *bool       `json:"active,omitempty"`
	Method    string      `json:"method,omitempty"`
	At        *time.Time  `json:"at,omitempty"`
}
