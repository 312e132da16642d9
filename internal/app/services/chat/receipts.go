package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session"
	domainchat "pairchat/internal/domain/chat"
)

// Receipts records read state for a conversation.
type Receipts struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Hub           session.Hub
	Unread        *Unread
	Events        EventPublisher
	TopicPrefix   string
	Logger        *slog.Logger
	Now           func() time.Time
}

// MarkRead adds the caller to the read set of every message the counterpart
// sent in the conversation. Repeating the call changes nothing.
func (r *Receipts) MarkRead(ctx context.Context, conn session.Conn, id domainchat.ConversationID) (int64, error) {
	if err := r.ensureDependencies(); err != nil {
		return 0, err
	}
	reader := conn.UserID()
	if reader == "" {
		return 0, domainchat.ErrUnauthenticated
	}
	id = domainchat.ConversationID(strings.TrimSpace(string(id)))
	if id == "" {
		return 0, domainchat.ErrRoomRequired
	}
	conv, err := r.Conversations.ByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(reader) {
		return 0, domainchat.ErrNotParticipant
	}
	marked, err := r.Messages.MarkRead(ctx, conv.ID, reader)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	r.Hub.EmitRoom(string(conv.ID), dto.EventMessagesReadUpdate, dto.MessagesReadUpdate{
		RoomID:   string(conv.ID),
		ReaderID: string(reader),
	}, "")

	if r.Unread != nil {
		if err := r.Unread.Refresh(ctx, reader); err != nil && r.Logger != nil {
			r.Logger.Warn("unread refresh failed", "user_id", reader, "error", err)
		}
	}
	if marked > 0 {
		publishEvent(ctx, r.Events, r.TopicPrefix, chatEvent{
			Type:           TopicMessagesRead,
			ConversationID: string(conv.ID),
			ReaderID:       string(reader),
			Marked:         marked,
			OccurredAt:     clock(r.Now).UTC(),
		}, r.Logger)
	}
	return marked, nil
}

func (r *Receipts) ensureDependencies() error {
	switch {
	case r.Conversations == nil:
		return errors.New("chat: conversation repository required")
	case r.Messages == nil:
		return errors.New("chat: message repository required")
	case r.Hub == nil:
		return errors.New("chat: hub required")
	default:
		return nil
	}
}
