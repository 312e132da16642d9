package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "pairchat/internal/domain/chat"
	domainuser "pairchat/internal/domain/user"
)

// ConversationRepository keeps conversations in memory. The pair index is
// checked and written under one lock, so FindOrCreate is atomic.
type ConversationRepository struct {
	mu     sync.RWMutex
	byID   map[domainchat.ConversationID]*domainchat.Conversation
	byPair map[string]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byID:   make(map[domainchat.ConversationID]*domainchat.Conversation),
		byPair: make(map[string]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) FindOrCreate(ctx context.Context, candidate *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPair[candidate.PairKey]; ok {
		return cloneConversation(r.byID[id]), false, nil
	}
	r.byPair[candidate.PairKey] = candidate.ID
	r.byID[candidate.ID] = cloneConversation(candidate)
	return cloneConversation(candidate), true, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Conversation
	for _, conv := range r.byID {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id domainchat.ConversationID, preview string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	conv.LastMessage = preview
	conv.LastMessageAt = at.UTC()
	return nil
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	if c == nil {
		return nil
	}
	copyConv := *c
	return &copyConv
}

// MessageRepository keeps messages in memory in insertion order per
// conversation.
type MessageRepository struct {
	mu             sync.RWMutex
	byConversation map[domainchat.ConversationID][]*domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		byConversation: make(map[domainchat.ConversationID][]*domainchat.Message),
	}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConversation[msg.ConversationID] = append(r.byConversation[msg.ConversationID], cloneMessage(msg))
	return nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.byConversation[id]
	out := make([]*domainchat.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, cloneMessage(msg))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, reader domainuser.ID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, msg := range r.byConversation[id] {
		if msg.Unread(reader) {
			msg.ReadBy = append(msg.ReadBy, reader)
			changed++
		}
	}
	return changed, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, id domainchat.ConversationID, reader domainuser.ID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, msg := range r.byConversation[id] {
		if msg.Unread(reader) {
			count++
		}
	}
	return count, nil
}

func cloneMessage(m *domainchat.Message) *domainchat.Message {
	if m == nil {
		return nil
	}
	copyMsg := *m
	copyMsg.ReadBy = append([]domainuser.ID(nil), m.ReadBy...)
	return &copyMsg
}

var _ domainchat.ConversationRepository = (*ConversationRepository)(nil)
var _ domainchat.MessageRepository = (*MessageRepository)(nil)
