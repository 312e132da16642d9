package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pairchat/internal/app/session"
	"pairchat/internal/app/session/sessiontest"
	"pairchat/internal/domain/user"
	"pairchat/internal/infra/storage/memory"
)

type fixture struct {
	users    *memory.UserRepository
	convs    *memory.ConversationRepository
	msgs     *memory.MessageRepository
	blobs    *memory.BlobStore
	hub      *sessiontest.Hub
	dir      *session.Directory
	events   *recordingPublisher
	unread   *Unread
	resolver *Resolver
	pipeline *Pipeline
	receipts *Receipts
	presence *Presence
	typing   *Typing

	mu    sync.Mutex
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  memory.NewUserRepository(),
		convs:  memory.NewConversationRepository(),
		msgs:   memory.NewMessageRepository(),
		blobs:  memory.NewBlobStore("/blobs"),
		hub:    sessiontest.NewHub(),
		events: &recordingPublisher{},
		clock:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.dir = &session.Directory{Users: f.users, Hub: f.hub, Now: f.now}
	f.unread = &Unread{Conversations: f.convs, Messages: f.msgs, Directory: f.dir}
	f.resolver = &Resolver{
		Users:         f.users,
		Conversations: f.convs,
		Messages:      f.msgs,
		Directory:     f.dir,
		Hub:           f.hub,
		Now:           f.now,
	}
	f.pipeline = &Pipeline{
		Conversations: f.convs,
		Messages:      f.msgs,
		Attachments:   f.blobs,
		Directory:     f.dir,
		Hub:           f.hub,
		Unread:        f.unread,
		Events:        f.events,
		TopicPrefix:   "test.",
		Now:           f.now,
	}
	f.receipts = &Receipts{
		Conversations: f.convs,
		Messages:      f.msgs,
		Hub:           f.hub,
		Unread:        f.unread,
		Events:        f.events,
		TopicPrefix:   "test.",
		Now:           f.now,
	}
	f.presence = &Presence{Users: f.users, Hub: f.hub}
	f.typing = &Typing{Hub: f.hub}
	return f
}

// now advances one second per call so messages get distinct timestamps.
func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// register creates an offline user.
func (f *fixture) register(t *testing.T, username string) *user.User {
	t.Helper()
	u, err := user.NewUser(user.CreateParams{ID: user.ID(username + "-id"), Username: username, PasswordHash: "hash"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

// connect creates a user and binds a fresh live connection to it.
func (f *fixture) connect(t *testing.T, username string) *sessiontest.Conn {
	t.Helper()
	u := f.register(t, username)
	conn := sessiontest.NewConn(username + "-conn")
	f.hub.Add(conn)
	if err := f.dir.Bind(context.Background(), u, conn); err != nil {
		t.Fatal(err)
	}
	return conn
}

func (f *fixture) open(t *testing.T, conn *sessiontest.Conn, target user.ID) *Room {
	t.Helper()
	room, err := f.resolver.Open(context.Background(), conn, target)
	if err != nil {
		t.Fatal(err)
	}
	return room
}

type published struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	fail error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, published{Topic: topic, Key: key, Payload: payload, Headers: headers})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.Topic)
	}
	return out
}

func seq(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
