package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pairchat/internal/app/session"
	domainauth "pairchat/internal/domain/auth"
	domainuser "pairchat/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrPasswordRequired   = errors.New("auth: password is required")
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type TokenGenerator interface {
	NewToken() (string, error)
}

// PresencePublisher announces online users after bindings change.
type PresencePublisher interface {
	Publish(ctx context.Context) error
}

// UnreadRefresher pushes unread counts to a freshly connected user.
type UnreadRefresher interface {
	Refresh(ctx context.Context, userID domainuser.ID) error
}

// Service authenticates live connections and binds them to users.
type Service struct {
	Users      domainuser.Repository
	Sessions   domainauth.SessionStore
	Passwords  PasswordHasher
	Tokens     TokenGenerator
	Directory  *session.Directory
	Presence   PresencePublisher
	Unread     UnreadRefresher
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

type Result struct {
	User  *domainuser.User
	Token string
}

func (s *Service) Signup(ctx context.Context, conn session.Conn, username, password string) (*Result, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	username = domainuser.NormalizeUsername(username)
	if username == "" {
		return nil, domainuser.ErrUsernameRequired
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if _, err := s.Users.ByUsername(ctx, username); err == nil {
		return nil, domainuser.ErrUsernameTaken
	} else if !errors.Is(err, domainuser.ErrNotFound) {
		return nil, err
	}
	hash, err := s.Passwords.Hash(password)
	if err != nil {
		return nil, err
	}
	user, err := domainuser.NewUser(domainuser.CreateParams{
		ID:           domainuser.ID(uuid.NewString()),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	result, err := s.establish(ctx, conn, user)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("user registered", "user_id", user.ID, "username", user.Username, "conn_id", conn.ID())
	}
	s.publishPresence(ctx)
	return result, nil
}

func (s *Service) Login(ctx context.Context, conn session.Conn, username, password string) (*Result, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	username = domainuser.NormalizeUsername(username)
	if username == "" {
		return nil, domainuser.ErrUsernameRequired
	}
	user, err := s.Users.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.Passwords.Compare(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	result, err := s.establish(ctx, conn, user)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("user authenticated", "user_id", user.ID, "conn_id", conn.ID())
	}
	s.afterReconnect(ctx, user.ID)
	return result, nil
}

// Reauthenticate restores a session from a previously issued token.
func (s *Service) Reauthenticate(ctx context.Context, conn session.Conn, token string) (*Result, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domainauth.ErrTokenRequired
	}
	sess, err := s.Sessions.Get(ctx, domainauth.Token(token))
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		_ = s.Sessions.Delete(ctx, sess.Token)
		return nil, domainauth.ErrSessionExpired
	}
	user, err := s.Users.ByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			if err := s.Sessions.DeleteByUser(ctx, sess.UserID); err != nil && s.Logger != nil {
				s.Logger.Warn("purge sessions of missing user failed", "user_id", sess.UserID, "error", err)
			}
			return nil, domainauth.ErrSessionNotFound
		}
		return nil, err
	}
	result, err := s.establish(ctx, conn, user)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("session restored", "user_id", user.ID, "conn_id", conn.ID())
	}
	s.afterReconnect(ctx, user.ID)
	return result, nil
}

// Disconnect releases the binding held by a closing connection and
// republishes presence.
func (s *Service) Disconnect(ctx context.Context, conn session.Conn) {
	if conn.UserID() == "" || s.Directory == nil {
		return
	}
	if err := s.Directory.Release(ctx, conn); err != nil && s.Logger != nil {
		s.Logger.Error("release connection failed", "user_id", conn.UserID(), "conn_id", conn.ID(), "error", err)
	}
	s.publishPresence(ctx)
}

func (s *Service) establish(ctx context.Context, conn session.Conn, user *domainuser.User) (*Result, error) {
	if err := s.Directory.Bind(ctx, user, conn); err != nil {
		return nil, err
	}
	token, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Token: token}, nil
}

func (s *Service) afterReconnect(ctx context.Context, id domainuser.ID) {
	s.publishPresence(ctx)
	if s.Unread == nil {
		return
	}
	if err := s.Unread.Refresh(ctx, id); err != nil && s.Logger != nil {
		s.Logger.Warn("unread refresh failed", "user_id", id, "error", err)
	}
}

func (s *Service) publishPresence(ctx context.Context) {
	if s.Presence == nil {
		return
	}
	if err := s.Presence.Publish(ctx); err != nil && s.Logger != nil {
		s.Logger.Warn("presence publish failed", "error", err)
	}
}

func (s *Service) issueSession(ctx context.Context, user *domainuser.User) (string, error) {
	token, err := s.Tokens.NewToken()
	if err != nil {
		return "", err
	}
	sess, err := domainauth.NewSession(domainauth.CreateSessionParams{
		Token:  domainauth.Token(token),
		UserID: user.ID,
		TTL:    s.sessionTTL(),
		Now:    s.now(),
	})
	if err != nil {
		return "", err
	}
	if err := s.Sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return 7 * 24 * time.Hour
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ensureDependencies() error {
	switch {
	case s.Users == nil:
		return errors.New("auth: user repository required")
	case s.Sessions == nil:
		return errors.New("auth: session store required")
	case s.Passwords == nil:
		return errors.New("auth: password hasher required")
	case s.Tokens == nil:
		return errors.New("auth: token generator required")
	case s.Directory == nil:
		return errors.New("auth: session directory required")
	default:
		return nil
	}
}
