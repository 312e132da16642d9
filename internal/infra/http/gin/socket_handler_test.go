package ginserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/internal/app/dto"
	authsvc "pairchat/internal/app/services/auth"
	chatsvc "pairchat/internal/app/services/chat"
	"pairchat/internal/app/session"
	"pairchat/internal/infra/config"
	"pairchat/internal/infra/obs"
	"pairchat/internal/infra/realtime"
	"pairchat/internal/infra/security"
	"pairchat/internal/infra/storage/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := memory.NewUserRepository()
	convs := memory.NewConversationRepository()
	msgs := memory.NewMessageRepository()
	blobs := memory.NewBlobStore("/blobs")
	hub := realtime.NewHub(logger)

	dir := &session.Directory{Users: users, Hub: hub, Logger: logger}
	presence := &chatsvc.Presence{Users: users, Hub: hub, Logger: logger}
	unread := &chatsvc.Unread{Conversations: convs, Messages: msgs, Directory: dir, Logger: logger}
	socket := &SocketHandler{
		Hub: hub,
		Auth: &authsvc.Service{
			Users:     users,
			Sessions:  memory.NewSessionStore(),
			Passwords: security.BcryptHasher{Cost: 4},
			Tokens:    security.RandomTokenGenerator{},
			Directory: dir,
			Presence:  presence,
			Unread:    unread,
			Logger:    logger,
		},
		Resolver: &chatsvc.Resolver{Users: users, Conversations: convs, Messages: msgs, Directory: dir, Hub: hub, Logger: logger},
		Pipeline: &chatsvc.Pipeline{
			Conversations: convs,
			Messages:      msgs,
			Attachments:   blobs,
			Directory:     dir,
			Hub:           hub,
			Unread:        unread,
			Logger:        logger,
		},
		Receipts: &chatsvc.Receipts{Conversations: convs, Messages: msgs, Hub: hub, Unread: unread, Logger: logger},
		Presence: presence,
		Typing:   &chatsvc.Typing{Hub: hub},
		Logger:   logger,
	}

	cfg := config.Config{Env: "test", AllowedOrigins: []string{"*"}}
	router := NewRouter(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{}, Handlers{
		Socket: socket,
		Blobs:  BlobHandler{Store: blobs},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		c.t.Fatal(err)
	}
	c.sendRaw(string(raw))
}

func (c *wsClient) sendRaw(frame string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatal(err)
	}
}

// expect reads frames until one named event satisfies match. Other frames
// are skipped.
func (c *wsClient) expect(event string, match func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		var env realtime.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.t.Fatalf("bad frame %s: %v", raw, err)
		}
		if env.Event == event && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func signup(t *testing.T, c *wsClient, username string) dto.RegistrationSuccess {
	t.Helper()
	c.send(dto.EventSignup, dto.Credentials{Username: username, Password: "pw-" + username})
	return decodeInto[dto.RegistrationSuccess](t, c.expect(dto.EventRegistrationSuccess, nil))
}

func TestPrivateChatScenario(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)

	aliceReg := signup(t, alice, "alice")
	bobReg := signup(t, bob, "bob")
	if aliceReg.Token == "" || bobReg.UserID == "" {
		t.Fatalf("unexpected registrations %+v %+v", aliceReg, bobReg)
	}

	alice.send(dto.EventJoinPrivateChat, dto.JoinPrivateChat{TargetUserID: bobReg.UserID})
	loaded := decodeInto[dto.ChatRoomLoaded](t, alice.expect(dto.EventChatRoomLoaded, nil))
	if loaded.RoomID == "" || len(loaded.History) != 0 || loaded.TargetUser.Username != "bob" {
		t.Fatalf("unexpected room %+v", loaded)
	}

	alice.send(dto.EventSendPrivate, dto.SendPrivateMessage{RoomID: loaded.RoomID, Content: "hi"})
	for _, c := range []*wsClient{alice, bob} {
		msg := decodeInto[dto.ChatMessage](t, c.expect(dto.EventNewMessage, nil))
		if msg.Content != "hi" || msg.SenderID != aliceReg.UserID || msg.RoomID != loaded.RoomID {
			t.Fatalf("unexpected new_message %+v", msg)
		}
	}
	note := decodeInto[dto.MessageNotification](t, bob.expect(dto.EventMessageNotification, nil))
	if note.SenderUsername != "alice" || note.RoomID != loaded.RoomID {
		t.Fatalf("unexpected notification %+v", note)
	}
	unread := decodeInto[[]dto.UnreadUpdate](t, bob.expect(dto.EventUnreadUpdates, func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), loaded.RoomID)
	}))
	if len(unread) != 1 || unread[0].Count != 1 || unread[0].TargetUserID != aliceReg.UserID {
		t.Fatalf("unexpected unread %+v", unread)
	}

	bob.send(dto.EventMarkMessagesRead, dto.RoomRef{RoomID: loaded.RoomID})
	read := decodeInto[dto.MessagesReadUpdate](t, alice.expect(dto.EventMessagesReadUpdate, nil))
	if read.ReaderID != bobReg.UserID {
		t.Fatalf("unexpected read update %+v", read)
	}

	bob.send(dto.EventTypingStart, dto.RoomRef{RoomID: loaded.RoomID})
	typing := decodeInto[dto.TypingStatus](t, alice.expect(dto.EventTypingStatus, nil))
	if !typing.IsTyping || typing.Username != "bob" {
		t.Fatalf("unexpected typing status %+v", typing)
	}

	bob.sendRaw("definitely not json")
	bob.send(dto.EventGetActiveUsers, nil)
	active := decodeInto[[]dto.ActiveUser](t, bob.expect(dto.EventActiveUsers, func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), "alice") && strings.Contains(string(raw), "bob")
	}))
	if len(active) != 2 {
		t.Fatalf("unexpected active users %+v", active)
	}

	_ = alice.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = alice.conn.Close()
	bob.expect(dto.EventActiveUsers, func(raw json.RawMessage) bool {
		users := decodeInto[[]dto.ActiveUser](t, raw)
		return len(users) == 1 && users[0].Username == "bob"
	})
}

func TestAuthErrors(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	signup(t, c, "alice")

	other := dial(t, srv)
	other.send(dto.EventSignup, dto.Credentials{Username: "alice", Password: "x"})
	if got := decodeInto[dto.AuthError](t, other.expect(dto.EventAuthError, nil)); got.Message != "username already taken" {
		t.Fatalf("unexpected message %q", got.Message)
	}
	other.send(dto.EventLogin, dto.Credentials{Username: "alice", Password: "wrong"})
	if got := decodeInto[dto.AuthError](t, other.expect(dto.EventAuthError, nil)); got.Message != "invalid password" {
		t.Fatalf("unexpected message %q", got.Message)
	}
	other.send(dto.EventLogin, dto.Credentials{Username: "nobody", Password: "x"})
	if got := decodeInto[dto.AuthError](t, other.expect(dto.EventAuthError, nil)); got.Message != "user not found" {
		t.Fatalf("unexpected message %q", got.Message)
	}
	other.send(dto.EventAutoAuth, dto.AutoAuth{Token: "bogus"})
	if got := decodeInto[dto.AuthError](t, other.expect(dto.EventAuthError, nil)); got.Message != "session expired, please log in again" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestAutoAuthRestoresSession(t *testing.T) {
	srv := newTestServer(t)
	first := dial(t, srv)
	reg := signup(t, first, "alice")

	second := dial(t, srv)
	second.send(dto.EventAutoAuth, dto.AutoAuth{Token: reg.Token})
	got := decodeInto[dto.RegistrationSuccess](t, second.expect(dto.EventRegistrationSuccess, nil))
	if got.UserID != reg.UserID || got.Username != "alice" {
		t.Fatalf("unexpected reauth %+v", got)
	}
	second.expect(dto.EventUnreadUpdates, nil)
}

func TestAttachmentIsServed(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	signup(t, alice, "alice")
	bobReg := signup(t, bob, "bob")

	alice.send(dto.EventJoinPrivateChat, dto.JoinPrivateChat{TargetUserID: bobReg.UserID})
	loaded := decodeInto[dto.ChatRoomLoaded](t, alice.expect(dto.EventChatRoomLoaded, nil))

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	alice.send(dto.EventSendPrivate, dto.SendPrivateMessage{RoomID: loaded.RoomID, AttachmentPayload: png, AttachmentName: "dot.png"})
	msg := decodeInto[dto.ChatMessage](t, bob.expect(dto.EventNewMessage, nil))
	if msg.Kind != "attachment" || msg.Content != "dot.png" || !strings.HasPrefix(msg.AttachmentURL, "/blobs/") {
		t.Fatalf("unexpected attachment message %+v", msg)
	}

	resp, err := http.Get(srv.URL + msg.AttachmentURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" || len(body) != len(png) {
		t.Fatalf("unexpected blob response %d %q (%d bytes)", resp.StatusCode, resp.Header.Get("Content-Type"), len(body))
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/livez", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestUnauthenticatedEventsAreIgnored(t *testing.T) {
	srv := newTestServer(t)
	c := dial(t, srv)
	c.send(dto.EventSendPrivate, dto.SendPrivateMessage{RoomID: "nope", Content: "hi"})
	c.send("no_such_event", nil)
	c.send(dto.EventGetActiveUsers, nil)
	active := decodeInto[[]dto.ActiveUser](t, c.expect(dto.EventActiveUsers, nil))
	if len(active) != 0 {
		t.Fatalf("expected nobody online, got %+v", active)
	}
}
