package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pairchat/internal/app/session"
	domainchat "pairchat/internal/domain/chat"
	"pairchat/internal/domain/user"
)

// Resolver finds or creates the conversation for a pair of users and opens
// it as a room for live connections.
type Resolver struct {
	Users         user.Repository
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Directory     *session.Directory
	Hub           session.Hub
	Logger        *slog.Logger
	NewID         func() string
	Now           func() time.Time
}

// Room is a resolved conversation together with its full history.
type Room struct {
	Conversation *domainchat.Conversation
	History      []*domainchat.Message
	Target       *user.User
}

// Resolve returns the conversation between a and b regardless of order,
// creating an empty one on first contact.
func (r *Resolver) Resolve(ctx context.Context, a, b user.ID) (*domainchat.Conversation, error) {
	if r.Conversations == nil {
		return nil, errors.New("chat: conversation repository required")
	}
	candidate, err := domainchat.NewConversation(domainchat.ConversationID(newID(r.NewID)), a, b, clock(r.Now))
	if err != nil {
		return nil, err
	}
	conv, created, err := r.Conversations.FindOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if created && r.Logger != nil {
		r.Logger.Info("conversation created", "conversation_id", conv.ID, "participants", conv.Participants)
	}
	return conv, nil
}

// Open resolves the conversation between the caller and target, subscribes
// both parties' live connections to its room and loads the history oldest
// first.
func (r *Resolver) Open(ctx context.Context, conn session.Conn, target user.ID) (*Room, error) {
	if err := r.ensureDependencies(); err != nil {
		return nil, err
	}
	caller := conn.UserID()
	if caller == "" {
		return nil, domainchat.ErrUnauthenticated
	}
	target = user.ID(strings.TrimSpace(string(target)))
	if target == "" {
		return nil, domainchat.ErrTargetRequired
	}
	targetUser, err := r.Users.ByID(ctx, target)
	if err != nil {
		return nil, err
	}
	conv, err := r.Resolve(ctx, caller, target)
	if err != nil {
		return nil, err
	}
	room := string(conv.ID)
	r.Hub.Join(room, conn.ID())
	if r.Directory != nil {
		if peer, ok := r.Directory.Route(ctx, target); ok {
			r.Hub.Join(room, peer.ID())
		}
	}
	history, err := r.Messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &Room{Conversation: conv, History: history, Target: targetUser}, nil
}

func (r *Resolver) ensureDependencies() error {
	switch {
	case r.Users == nil:
		return errors.New("chat: user repository required")
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
