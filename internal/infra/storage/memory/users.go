package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainauth "pairchat/internal/domain/auth"
	domainuser "pairchat/internal/domain/user"
)

// UserRepository stores users in memory. Not suitable for production.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[domainuser.ID]*domainuser.User
	byUsername map[string]domainuser.ID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[domainuser.ID]*domainuser.User),
		byUsername: make(map[string]domainuser.ID),
	}
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.byID[id]; ok {
		return cloneUser(user), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) ByUsername(ctx context.Context, username string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[domainuser.NormalizeUsername(username)]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	if user, ok := r.byID[id]; ok {
		return cloneUser(user), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) Create(ctx context.Context, user *domainuser.User) error {
	if user == nil || strings.TrimSpace(string(user.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	key := domainuser.NormalizeUsername(user.Username)
	if key == "" {
		return domainuser.ErrUsernameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUsername[key]; ok {
		return domainuser.ErrUsernameTaken
	}
	if _, ok := r.byID[user.ID]; ok {
		return domainuser.ErrUsernameTaken
	}
	r.byUsername[key] = user.ID
	r.byID[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepository) SetConnection(ctx context.Context, id domainuser.ID, connectionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return domainuser.ErrNotFound
	}
	user.Online = true
	user.ConnectionID = connectionID
	user.UpdatedAt = at.UTC()
	return nil
}

func (r *UserRepository) ClearConnection(ctx context.Context, id domainuser.ID, connectionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return false, domainuser.ErrNotFound
	}
	if user.ConnectionID != connectionID {
		return false, nil
	}
	user.Online = false
	user.ConnectionID = ""
	user.UpdatedAt = at.UTC()
	return true, nil
}

func (r *UserRepository) ListOnline(ctx context.Context) ([]*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainuser.User, 0, len(r.byID))
	for _, user := range r.byID {
		if user.Online {
			out = append(out, cloneUser(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	copyUser := *u
	return &copyUser
}

// SessionStore keeps reauthentication sessions in memory.
type SessionStore struct {
	mu        sync.RWMutex
	tokens    map[domainauth.Token]*domainauth.Session
	userIndex map[domainuser.ID]map[domainauth.Token]struct{}
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		tokens:    make(map[domainauth.Token]*domainauth.Session),
		userIndex: make(map[domainuser.ID]map[domainauth.Token]struct{}),
	}
}

func (s *SessionStore) Save(ctx context.Context, session *domainauth.Session) error {
	if session == nil {
		return domainauth.ErrTokenRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copySession := *session
	s.tokens[session.Token] = &copySession
	if _, ok := s.userIndex[session.UserID]; !ok {
		s.userIndex[session.UserID] = make(map[domainauth.Token]struct{})
	}
	s.userIndex[session.UserID][session.Token] = struct{}{}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token domainauth.Token) (*domainauth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.tokens[token]
	if !ok {
		return nil, domainauth.ErrSessionNotFound
	}
	copySession := *session
	return &copySession, nil
}

func (s *SessionStore) Delete(ctx context.Context, token domainauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.tokens[token]
	if !ok {
		return nil
	}
	delete(s.tokens, token)
	if index, ok := s.userIndex[session.UserID]; ok {
		delete(index, token)
		if len(index) == 0 {
			delete(s.userIndex, session.UserID)
		}
	}
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID domainuser.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.userIndex[userID]
	if !ok {
		return nil
	}
	for token := range index {
		delete(s.tokens, token)
	}
	delete(s.userIndex, userID)
	return nil
}

var _ domainuser.Repository = (*UserRepository)(nil)
var _ domainauth.SessionStore = (*SessionStore)(nil)
