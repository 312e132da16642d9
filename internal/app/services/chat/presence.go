package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session"
	"pairchat/internal/domain/user"
)

// Presence publishes the set of online users to every connection.
type Presence struct {
	Users  user.Repository
	Hub    session.Hub
	Logger *slog.Logger
}

func (p *Presence) Snapshot(ctx context.Context) ([]dto.ActiveUser, error) {
	if p.Users == nil {
		return nil, errors.New("chat: user repository required")
	}
	online, err := p.Users.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	return dto.NewActiveUsers(online), nil
}

func (p *Presence) Publish(ctx context.Context) error {
	if p.Hub == nil {
		return errors.New("chat: hub required")
	}
	active, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	reached := p.Hub.EmitAll(dto.EventActiveUsers, active)
	if p.Logger != nil {
		p.Logger.Debug("presence published", "online", len(active), "connections", reached)
	}
	return nil
}
