package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired          = errors.New("user: id is required")
	ErrUsernameRequired    = errors.New("user: username is required")
	ErrPasswordHashMissing = errors.New("user: password hash is required")
	ErrUsernameTaken       = errors.New("user: username already taken")
	ErrNotFound            = errors.New("user: not found")
)

type ID string

type User struct {
	ID           ID
	Username     string
	PasswordHash string
	Online       bool
	// ConnectionID points at the live connection the user authenticated on
	// most recently. Empty while offline.
	ConnectionID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository persists users. Presence fields are only ever changed through
// SetConnection and ClearConnection so concurrent writers never overwrite
// each other's documents.
type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, user *User) error
	SetConnection(ctx context.Context, id ID, connectionID string, at time.Time) error
	// ClearConnection marks the user offline only while connectionID is still
	// the bound connection. It reports whether anything changed.
	ClearConnection(ctx context.Context, id ID, connectionID string, at time.Time) (bool, error)
	ListOnline(ctx context.Context) ([]*User, error)
}

type CreateParams struct {
	ID           ID
	Username     string
	PasswordHash string
	ConnectionID string
	CreatedAt    time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	username := NormalizeUsername(params.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, ErrPasswordHashMissing
	}

	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	connID := strings.TrimSpace(params.ConnectionID)
	return &User{
		ID:           ID(id),
		Username:     username,
		PasswordHash: params.PasswordHash,
		Online:       connID != "",
		ConnectionID: connID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeUsername trims surrounding whitespace. Usernames are case sensitive.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}
