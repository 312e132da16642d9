package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AttachmentStore is the blob sink for message attachments. It returns a
// reference clients can fetch the content from.
type AttachmentStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (publicURL string, err error)
}

// EventPublisher forwards chat events to an external stream. Publishing is
// best-effort: failures are logged and never retried.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

const (
	TopicMessageSent  = "chat.message.sent"
	TopicMessagesRead = "chat.messages.read"
)

type chatEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	ReaderID       string    `json:"reader_id,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Marked         int64     `json:"marked,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func publishEvent(ctx context.Context, publisher EventPublisher, prefix string, evt chatEvent, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		if logger != nil {
			logger.Error("chat event encode failed", "type", evt.Type, "error", err)
		}
		return
	}
	headers := map[string]string{"event_type": evt.Type}
	if err := publisher.Publish(ctx, prefix+evt.Type, evt.ConversationID, payload, headers); err != nil && logger != nil {
		logger.Warn("chat event publish failed", "type", evt.Type, "conversation_id", evt.ConversationID, "error", err)
	}
}

func newID(gen func() string) string {
	if gen != nil {
		return gen()
	}
	return uuid.NewString()
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
