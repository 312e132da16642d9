package ginserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pairchat/internal/app/dto"
	authsvc "pairchat/internal/app/services/auth"
	chatsvc "pairchat/internal/app/services/chat"
	domainauth "pairchat/internal/domain/auth"
	domainchat "pairchat/internal/domain/chat"
	"pairchat/internal/domain/user"
	"pairchat/internal/infra/obs"
	"pairchat/internal/infra/realtime"
)

const disconnectTimeout = 5 * time.Second

var (
	errUnknownEvent   = errors.New("socket: unknown event")
	errInvalidPayload = errors.New("socket: invalid payload")
)

// SocketHandler upgrades /ws requests and dispatches inbound events to the
// chat services. Events of one connection are handled in arrival order.
type SocketHandler struct {
	Hub      *realtime.Hub
	Auth     *authsvc.Service
	Resolver *chatsvc.Resolver
	Pipeline *chatsvc.Pipeline
	Receipts *chatsvc.Receipts
	Presence *chatsvc.Presence
	Typing   *chatsvc.Typing
	Logger   *slog.Logger

	// BaseContext is the parent of every event context; cancel it on shutdown.
	BaseContext     context.Context
	AllowedOrigins  []string
	SendBuffer      int
	MaxMessageBytes int64
}

func (h *SocketHandler) Serve(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "error", err, "request_id", obs.RequestIDFromContext(c.Request.Context()))
		return
	}

	conn := realtime.NewConnection(ws, h.SendBuffer, h.MaxMessageBytes)
	h.Hub.Register(conn)
	obs.ConnectionsOpen.Inc()
	h.logger().Debug("connection opened", "conn_id", conn.ID(), "remote", c.ClientIP(), "request_id", obs.RequestIDFromContext(c.Request.Context()))

	defer h.closeConnection(conn)
	h.readLoop(conn)
}

func (h *SocketHandler) readLoop(conn *realtime.Connection) {
	for {
		env, err := conn.Next()
		if err != nil {
			var frameErr *realtime.FrameError
			if errors.As(err, &frameErr) {
				obs.EventsHandled.WithLabelValues("malformed", "ignored").Inc()
				h.logger().Warn("malformed frame ignored", "conn_id", conn.ID(), "error", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger().Info("connection read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		h.handle(conn, env)
	}
}

func (h *SocketHandler) handle(conn *realtime.Connection, env realtime.Envelope) {
	start := time.Now()
	err := h.dispatch(h.baseContext(), conn, env)
	event := env.Event
	if errors.Is(err, errUnknownEvent) {
		event = "unknown"
	}
	obs.EventDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	if err == nil {
		obs.EventsHandled.WithLabelValues(event, "ok").Inc()
		return
	}
	obs.EventsHandled.WithLabelValues(event, "error").Inc()

	attrs := []any{"event", env.Event, "conn_id", conn.ID(), "user_id", conn.UserID(), "error", err}
	if isClientError(err) {
		h.logger().Warn("event rejected", attrs...)
		return
	}
	h.logger().Error("event failed", attrs...)
}

func (h *SocketHandler) dispatch(ctx context.Context, conn *realtime.Connection, env realtime.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("socket: panic in %s handler: %v", env.Event, r)
		}
	}()

	switch env.Event {
	case dto.EventSignup, dto.EventLogin:
		var req dto.Credentials
		if err := decode(env.Data, &req); err != nil {
			return h.replyAuth(conn, nil, err)
		}
		if env.Event == dto.EventSignup {
			res, err := h.Auth.Signup(ctx, conn, req.Username, req.Password)
			return h.replyAuth(conn, res, err)
		}
		res, err := h.Auth.Login(ctx, conn, req.Username, req.Password)
		return h.replyAuth(conn, res, err)

	case dto.EventAutoAuth:
		var req dto.AutoAuth
		if err := decode(env.Data, &req); err != nil {
			return h.replyAuth(conn, nil, err)
		}
		res, err := h.Auth.Reauthenticate(ctx, conn, req.Token)
		return h.replyAuth(conn, res, err)

	case dto.EventGetActiveUsers:
		users, err := h.Presence.Snapshot(ctx)
		if err != nil {
			return err
		}
		return conn.Emit(dto.EventActiveUsers, users)

	case dto.EventJoinPrivateChat:
		var req dto.JoinPrivateChat
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		room, err := h.Resolver.Open(ctx, conn, user.ID(req.TargetUserID))
		if err != nil {
			return err
		}
		return conn.Emit(dto.EventChatRoomLoaded, dto.ChatRoomLoaded{
			RoomID:  string(room.Conversation.ID),
			History: dto.NewChatHistory(room.History),
			TargetUser: dto.TargetUser{
				UserID:   string(room.Target.ID),
				Username: room.Target.Username,
				Online:   room.Target.Online,
			},
		})

	case dto.EventSendPrivate:
		var req dto.SendPrivateMessage
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		msg, err := h.Pipeline.Send(ctx, conn, chatsvc.SendParams{
			ConversationID: domainchat.ConversationID(req.RoomID),
			Content:        req.Content,
			Attachment:     req.AttachmentPayload,
			AttachmentName: req.AttachmentName,
		})
		if err != nil {
			return err
		}
		obs.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
		return nil

	case dto.EventMarkMessagesRead:
		var req dto.RoomRef
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		_, err := h.Receipts.MarkRead(ctx, conn, domainchat.ConversationID(req.RoomID))
		return err

	case dto.EventTypingStart, dto.EventTypingStop:
		var req dto.RoomRef
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		h.Typing.Notify(conn, req.RoomID, env.Event == dto.EventTypingStart)
		return nil

	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
}

// replyAuth answers an auth event with registration_success or auth_error.
func (h *SocketHandler) replyAuth(conn *realtime.Connection, res *authsvc.Result, err error) error {
	if err != nil {
		_ = conn.Emit(dto.EventAuthError, dto.AuthError{Message: authMessage(err)})
		return err
	}
	return conn.Emit(dto.EventRegistrationSuccess, dto.RegistrationSuccess{
		UserID:   string(res.User.ID),
		Username: res.User.Username,
		Token:    res.Token,
	})
}

func (h *SocketHandler) closeConnection(conn *realtime.Connection) {
	h.Hub.Unregister(conn)
	conn.Close(websocket.CloseNormalClosure, "")
	obs.ConnectionsOpen.Dec()

	// The base context may already be cancelled during shutdown; the binding
	// still has to be released.
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.Auth.Disconnect(ctx, conn)
	h.logger().Debug("connection closed", "conn_id", conn.ID(), "user_id", conn.UserID())
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	if allowsAnyOrigin(h.AllowedOrigins) {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func (h *SocketHandler) baseContext() context.Context {
	if h.BaseContext != nil {
		return h.BaseContext
	}
	return context.Background()
}

func (h *SocketHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, user.ErrUsernameTaken):
		return "username already taken"
	case errors.Is(err, user.ErrNotFound):
		return "user not found"
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return "invalid password"
	case errors.Is(err, domainauth.ErrSessionNotFound),
		errors.Is(err, domainauth.ErrSessionExpired),
		errors.Is(err, domainauth.ErrTokenRequired):
		return "session expired, please log in again"
	case errors.Is(err, user.ErrUsernameRequired),
		errors.Is(err, authsvc.ErrPasswordRequired):
		return "username and password are required"
	case errors.Is(err, errInvalidPayload):
		return "invalid request"
	default:
		return "authentication failed"
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		errUnknownEvent,
		errInvalidPayload,
		user.ErrUsernameTaken,
		user.ErrNotFound,
		user.ErrUsernameRequired,
		authsvc.ErrInvalidCredentials,
		authsvc.ErrPasswordRequired,
		domainauth.ErrSessionNotFound,
		domainauth.ErrSessionExpired,
		domainauth.ErrTokenRequired,
		domainchat.ErrConversationNotFound,
		domainchat.ErrUnauthenticated,
		domainchat.ErrRoomRequired,
		domainchat.ErrNotParticipant,
		domainchat.ErrEmptyMessage,
		domainchat.ErrSelfConversation,
		domainchat.ErrTargetRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

var _ SocketHTTP = (*SocketHandler)(nil)
