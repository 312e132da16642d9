package chat

import (
	"strings"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session"
)

// Typing relays typing indicators inside a room. Nothing is stored.
type Typing struct {
	Hub session.Hub
}

// Notify forwards the caller's typing state to the rest of the room. Calls
// from unauthenticated connections, or for rooms the connection has not
// joined, are dropped.
func (t *Typing) Notify(conn session.Conn, roomID string, isTyping bool) {
	if t.Hub == nil || conn == nil {
		return
	}
	roomID = strings.TrimSpace(roomID)
	if conn.UserID() == "" || roomID == "" {
		return
	}
	if !t.Hub.InRoom(roomID, conn.ID()) {
		return
	}
	t.Hub.EmitRoom(roomID, dto.EventTypingStatus, dto.TypingStatus{
		UserID:   string(conn.UserID()),
		Username: conn.Username(),
		RoomID:   roomID,
		IsTyping: isTyping,
	}, conn.ID())
}
