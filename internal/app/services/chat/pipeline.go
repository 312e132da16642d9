package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session"
	domainchat "pairchat/internal/domain/chat"
)

const defaultAttachmentName = "attachment"

// Pipeline persists outgoing messages and fans them out.
type Pipeline struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Attachments   AttachmentStore
	Directory     *session.Directory
	Hub           session.Hub
	Unread        *Unread
	Events        EventPublisher
	TopicPrefix   string
	Logger        *slog.Logger
	NewID         func() string
	Now           func() time.Time
}

type SendParams struct {
	ConversationID domainchat.ConversationID
	Content        string
	Attachment     []byte
	AttachmentName string
}

// Send stores a message from the connection's user and delivers it. Errors
// are returned only while nothing has been persisted; once the message is
// stored, later delivery failures are logged and the message is returned.
func (p *Pipeline) Send(ctx context.Context, conn session.Conn, params SendParams) (*domainchat.Message, error) {
	if err := p.ensureDependencies(); err != nil {
		return nil, err
	}
	sender := conn.UserID()
	if sender == "" {
		return nil, domainchat.ErrUnauthenticated
	}
	convID := domainchat.ConversationID(strings.TrimSpace(string(params.ConversationID)))
	if convID == "" {
		return nil, domainchat.ErrRoomRequired
	}
	if len(params.Attachment) == 0 && strings.TrimSpace(params.Content) == "" {
		return nil, domainchat.ErrEmptyMessage
	}
	conv, err := p.Conversations.ByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	recipient, ok := conv.Other(sender)
	if !ok {
		return nil, domainchat.ErrNotParticipant
	}

	msgID := domainchat.MessageID(newID(p.NewID))
	var attachmentURL, attachmentName string
	if len(params.Attachment) > 0 {
		attachmentName = attachmentFileName(params.AttachmentName)
		attachmentURL, err = p.storeAttachment(ctx, conv.ID, msgID, attachmentName, params.Attachment)
		if err != nil {
			return nil, err
		}
	}

	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		ID:             msgID,
		ConversationID: conv.ID,
		SenderID:       sender,
		Content:        params.Content,
		AttachmentURL:  attachmentURL,
		AttachmentName: attachmentName,
		Now:            clock(p.Now),
	})
	if err != nil {
		return nil, err
	}
	if err := p.Messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	if err := p.Conversations.Touch(ctx, conv.ID, msg.Preview(), msg.CreatedAt); err != nil {
		p.logWarn("conversation preview update failed", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}

	room := string(conv.ID)
	delivered := p.Hub.EmitRoom(room, dto.EventNewMessage, dto.NewChatMessage(msg, conn.Username()), "")

	if p.Unread != nil {
		if err := p.Unread.Refresh(ctx, recipient); err != nil {
			p.logWarn("unread refresh failed", "user_id", recipient, "error", err)
		}
	}

	notified := false
	if target, ok := p.Directory.Route(ctx, recipient); ok {
		notification := dto.MessageNotification{
			SenderID:       string(sender),
			SenderUsername: conn.Username(),
			RoomID:         room,
		}
		notified = target.Emit(dto.EventMessageNotification, notification) == nil
	}
	if p.Logger != nil {
		p.Logger.Debug("message sent", "message_id", msg.ID, "conversation_id", conv.ID, "kind", msg.Kind, "room_deliveries", delivered, "recipient_notified", notified)
	}

	publishEvent(ctx, p.Events, p.TopicPrefix, chatEvent{
		Type:           TopicMessageSent,
		ConversationID: room,
		MessageID:      string(msg.ID),
		SenderID:       string(sender),
		Kind:           string(msg.Kind),
		OccurredAt:     msg.CreatedAt,
	}, p.Logger)
	return msg, nil
}

func (p *Pipeline) storeAttachment(ctx context.Context, convID domainchat.ConversationID, msgID domainchat.MessageID, name string, data []byte) (string, error) {
	if p.Attachments == nil {
		return "", errors.New("chat: attachment store not configured")
	}
	contentType := mimetype.Detect(data).String()
	key := fmt.Sprintf("attachments/%s/%s-%s", convID, msgID, name)
	url, err := p.Attachments.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return url, nil
}

func attachmentFileName(raw string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return defaultAttachmentName
	}
	return name
}

func (p *Pipeline) logWarn(msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.Warn(msg, args...)
	}
}

func (p *Pipeline) ensureDependencies() error {
	switch {
	case p.Conversations == nil:
		return errors.New("chat: conversation repository required")
	case p.Messages == nil:
		return errors.New("chat: message repository required")
	case p.Directory == nil:
		return errors.New("chat: session directory required")
	case p.Hub == nil:
		return errors.New("chat: hub required")
	default:
		return nil
	}
}
