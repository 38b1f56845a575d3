package signal

import (
	"context"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

// millis converts a JS epoch-milliseconds timestamp; zero stays zero.
func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (ctl *SignalWSController) handleSend(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type sendPayload struct {
		RoomID       string      `json:"roomId"`
		Kind         domain.Kind `json:"kind"`
		Content      string      `json:"content"`
		FileRef      string      `json:"fileRef,omitempty"`
		FileName     string      `json:"fileName,omitempty"`
		Size         int64       `json:"size,omitempty"`
		MimeCategory string      `json:"mimeCategory,omitempty"`
		Timestamp    int64       `json:"timestamp,omitempty"`
	}
	var p sendPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if p.Kind == "" {
		p.Kind = domain.KindText
	}
	ev := domain.SendEvent{
		RoomID:    ctl.roomFor(conn, p.RoomID),
		UserID:    uid,
		Kind:      p.Kind,
		Content:   p.Content,
		Timestamp: millis(p.Timestamp),
	}
	if p.FileRef != "" {
		ev.File = &domain.FileAttrs{
			FileRef:      p.FileRef,
			FileName:     p.FileName,
			Size:         p.Size,
			MimeCategory: p.MimeCategory,
		}
	}
	if _, err := ctl.Coord.Send(ctx, ev); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleDownloaded(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type downloadPayload struct {
		RoomID             string `json:"roomId"`
		MessageID          string `json:"messageId"`
		FileName           string `json:"fileName"`
		FileType           string `json:"fileType"`
		DownloaderUsername string `json:"downloaderUsername"`
	}
	var p downloadPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	_, err := ctl.Coord.FileDownloaded(ctx, domain.DownloadEvent{
		RoomID:             ctl.roomFor(conn, p.RoomID),
		UserID:             uid,
		MessageID:          p.MessageID,
		FileName:           p.FileName,
		FileType:           p.FileType,
		DownloaderUsername: p.DownloaderUsername,
	})
	if err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleOpenFile(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type openPayload struct {
		RoomID    string `json:"roomId"`
		MessageID string `json:"messageId"`
	}
	var p openPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	res, err := ctl.Coord.OpenFile(ctx, domain.OpenFileEvent{
		RoomID:    ctl.roomFor(conn, p.RoomID),
		ViewerID:  uid,
		MessageID: p.MessageID,
	})
	if err != nil {
		ctl.sendError(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type      string            `json:"type"`
		MessageID string            `json:"messageId"`
		File      *domain.FileAttrs `json:"file"`
	}{
		Type:      "file:granted",
		MessageID: p.MessageID,
		File:      res.File,
	})
}

func (ctl *SignalWSController) handleScreenshot(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
) {
	type screenshotPayload struct {
		RoomID    string `json:"roomId"`
		Username  string `json:"username"`
		Method    string `json:"method"`
		Timestamp int64  `json:"timestamp"`
	}
	var p screenshotPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	_, err := ctl.Coord.Screenshot(ctx, domain.ScreenshotEvent{
		RoomID:    ctl.roomFor(conn, p.RoomID),
		UserID:    uid,
		Username:  p.Username,
		Method:    p.Method,
		Timestamp: millis(p.Timestamp),
	})
	if err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleTyping(
	ctx context.Context,
	uid domain.UserID,
	conn *WsSignalConn,
	data []byte,
	active bool,
) {
	type typingPayload struct {
		RoomID string `json:"roomId"`
	}
	var p typingPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	_, _ = ctl.Coord.Typing(ctx, domain.TypingEvent{
		RoomID: ctl.roomFor(conn, p.RoomID),
		UserID: uid,
		Active: active,
	})
}
