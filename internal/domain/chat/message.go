package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"pairchat/internal/domain/user"
)

type MessageID string

type Kind string

const (
	KindText       Kind = "text"
	KindAttachment Kind = "attachment"
)

// AttachmentMarker prefixes conversation previews for attachment messages.
const AttachmentMarker = "[attachment]"

type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       user.ID
	Content        string
	Kind           Kind
	AttachmentURL  string
	AttachmentName string
	CreatedAt      time.Time
	// ReadBy only grows. It always contains SenderID.
	ReadBy []user.ID
}

// MessageRepository persists messages. MarkRead and CountUnread are the two
// set-valued primitives the read tracking is built on: an append-unique to
// read_by, and a count over a conversation excluding a reader.
type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	ListByConversation(ctx context.Context, id ConversationID) ([]*Message, error)
	// MarkRead adds reader to the read set of every message in the
	// conversation sent by someone else. It returns how many messages changed.
	MarkRead(ctx context.Context, id ConversationID, reader user.ID) (int64, error)
	// CountUnread counts messages sent by someone other than reader whose read
	// set does not contain reader.
	CountUnread(ctx context.Context, id ConversationID, reader user.ID) (int64, error)
}

type NewMessageParams struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       user.ID
	Content        string
	AttachmentURL  string
	AttachmentName string
	Now            time.Time
}

// NewMessage builds a message already read by its sender. When an attachment
// is present and no text is given, the attachment name becomes the content.
func NewMessage(params NewMessageParams) (*Message, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, errors.New("chat: message id is required")
	}
	if strings.TrimSpace(string(params.ConversationID)) == "" {
		return nil, ErrRoomRequired
	}
	if strings.TrimSpace(string(params.SenderID)) == "" {
		return nil, ErrUnauthenticated
	}
	kind := KindText
	content := params.Content
	if params.AttachmentURL != "" {
		kind = KindAttachment
		if strings.TrimSpace(content) == "" {
			content = params.AttachmentName
		}
	} else if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		SenderID:       params.SenderID,
		Content:        content,
		Kind:           kind,
		AttachmentURL:  params.AttachmentURL,
		AttachmentName: params.AttachmentName,
		CreatedAt:      now.UTC(),
		ReadBy:         []user.ID{params.SenderID},
	}, nil
}

// Preview is the denormalized text stored on the conversation.
func (m *Message) Preview() string {
	if m.Kind == KindAttachment {
		return AttachmentMarker + " " + m.AttachmentName
	}
	return m.Content
}

func (m *Message) ReadByUser(id user.ID) bool {
	for _, reader := range m.ReadBy {
		if reader == id {
			return true
		}
	}
	return false
}

// Unread reports whether the message counts as unread for reader.
func (m *Message) Unread(reader user.ID) bool {
	return m.SenderID != reader && !m.ReadByUser(reader)
}
