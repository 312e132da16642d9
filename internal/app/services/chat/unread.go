package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session"
	domainchat "pairchat/internal/domain/chat"
	"pairchat/internal/domain/user"
)

// Unread derives per-conversation unread counts. Counts are recomputed from
// the store on every call.
type Unread struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Directory     *session.Directory
	Logger        *slog.Logger
}

// Summary lists the conversations of userID that hold unread messages.
func (u *Unread) Summary(ctx context.Context, userID user.ID) ([]dto.UnreadUpdate, error) {
	if u.Conversations == nil || u.Messages == nil {
		return nil, errors.New("chat: unread aggregator not configured")
	}
	conversations, err := u.Conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	updates := make([]dto.UnreadUpdate, 0, len(conversations))
	for _, conv := range conversations {
		other, ok := conv.Other(userID)
		if !ok {
			continue
		}
		count, err := u.Messages.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("count unread in %s: %w", conv.ID, err)
		}
		if count == 0 {
			continue
		}
		updates = append(updates, dto.UnreadUpdate{
			ConversationID: string(conv.ID),
			Count:          count,
			TargetUserID:   string(other),
		})
	}
	return updates, nil
}

// Refresh pushes the current summary to the user's live connection. Users
// without one are skipped.
func (u *Unread) Refresh(ctx context.Context, userID user.ID) error {
	if u.Directory == nil {
		return errors.New("chat: session directory required")
	}
	if _, ok := u.Directory.Route(ctx, userID); !ok {
		return nil
	}
	updates, err := u.Summary(ctx, userID)
	if err != nil {
		return err
	}
	conn, ok := u.Directory.Route(ctx, userID)
	if !ok {
		return nil
	}
	if err := conn.Emit(dto.EventUnreadUpdates, updates); err != nil && u.Logger != nil {
		u.Logger.Debug("unread push dropped", "user_id", userID, "conn_id", conn.ID(), "error", err)
	}
	return nil
}
