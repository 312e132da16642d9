package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"pairchat/internal/domain/user"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrSelfConversation     = errors.New("chat: conversation needs two distinct participants")
	ErrNotParticipant       = errors.New("chat: user is not a participant")
	ErrUnauthenticated      = errors.New("chat: connection is not authenticated")
	ErrRoomRequired         = errors.New("chat: room id is required")
	ErrTargetRequired       = errors.New("chat: target user is required")
	ErrEmptyMessage         = errors.New("chat: message needs content or an attachment")
)

type ConversationID string

// Conversation is a private thread between exactly two users.
type Conversation struct {
	ID            ConversationID
	Participants  [2]user.ID
	PairKey       string
	LastMessage   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// ConversationRepository persists conversations. FindOrCreate must never
// produce two conversations for the same unordered pair, even when called
// concurrently.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, candidate *Conversation) (*Conversation, bool, error)
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ListByParticipant(ctx context.Context, userID user.ID) ([]*Conversation, error)
	Touch(ctx context.Context, id ConversationID, preview string, at time.Time) error
}

// NewConversation builds an empty conversation for the pair. Participants are
// stored in pair-key order so the same pair always looks the same.
func NewConversation(id ConversationID, a, b user.ID, now time.Time) (*Conversation, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, errors.New("chat: conversation id is required")
	}
	key, err := PairKey(a, b)
	if err != nil {
		return nil, err
	}
	first, second := orderPair(a, b)
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Conversation{
		ID:            id,
		Participants:  [2]user.ID{first, second},
		PairKey:       key,
		LastMessageAt: now,
		CreatedAt:     now,
	}, nil
}

// PairKey normalizes an unordered participant pair into a lookup key.
func PairKey(a, b user.ID) (string, error) {
	a = user.ID(strings.TrimSpace(string(a)))
	b = user.ID(strings.TrimSpace(string(b)))
	if a == "" || b == "" {
		return "", ErrTargetRequired
	}
	if a == b {
		return "", ErrSelfConversation
	}
	first, second := orderPair(a, b)
	return string(first) + "|" + string(second), nil
}

func orderPair(a, b user.ID) (user.ID, user.ID) {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return user.ID(pair[0]), user.ID(pair[1])
}

func (c *Conversation) HasParticipant(id user.ID) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Other returns the counterpart of id. The second result is false when id is
// not a participant.
func (c *Conversation) Other(id user.ID) (user.ID, bool) {
	switch id {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	default:
		return "", false
	}
}
