package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"pairchat/internal/domain/user"
)

// Conn is a live client connection as the messaging core sees it. The
// identity attributes live on the connection only; they are never persisted.
type Conn interface {
	ID() string
	UserID() user.ID
	Username() string
	SetIdentity(id user.ID, username string)
	Emit(event string, payload any) error
}

// Hub tracks live connections and the rooms they joined.
type Hub interface {
	Lookup(connID string) (Conn, bool)
	Join(room string, connID string)
	LeaveAll(connID string)
	InRoom(room string, connID string) bool
	EmitRoom(room string, event string, payload any, exceptConnID string) int
	EmitAll(event string, payload any) int
}

// Directory resolves user identities to reachable connections. The binding
// is the persisted connection reference on the user record, read fresh on
// every lookup.
type Directory struct {
	Users  user.Repository
	Hub    Hub
	Logger *slog.Logger
	Now    func() time.Time
}

// Route returns the connection the user is currently bound to, if it is still
// live in this process.
func (d *Directory) Route(ctx context.Context, id user.ID) (Conn, bool) {
	if err := d.ensureDependencies(); err != nil {
		return nil, false
	}
	if strings.TrimSpace(string(id)) == "" {
		return nil, false
	}
	u, err := d.Users.ByID(ctx, id)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) && d.Logger != nil {
			d.Logger.Warn("route lookup failed", "user_id", id, "error", err)
		}
		return nil, false
	}
	if !u.Online || u.ConnectionID == "" {
		return nil, false
	}
	return d.Hub.Lookup(u.ConnectionID)
}

// Bind makes conn the user's current connection. The most recent Bind wins;
// an older connection stays open but is no longer routable. A connection
// switching to another identity drops the previous binding and every room the
// previous identity joined.
func (d *Directory) Bind(ctx context.Context, u *user.User, conn Conn) error {
	if err := d.ensureDependencies(); err != nil {
		return err
	}
	if previous := conn.UserID(); previous != "" && previous != u.ID {
		if err := d.Release(ctx, conn); err != nil && d.Logger != nil {
			d.Logger.Warn("release of previous identity failed", "user_id", previous, "conn_id", conn.ID(), "error", err)
		}
		d.Hub.LeaveAll(conn.ID())
	}
	if err := d.Users.SetConnection(ctx, u.ID, conn.ID(), d.now()); err != nil {
		return err
	}
	conn.SetIdentity(u.ID, u.Username)
	return nil
}

// Release clears the binding held by conn. Nothing happens when the user has
// since been bound to a different connection.
func (d *Directory) Release(ctx context.Context, conn Conn) error {
	if err := d.ensureDependencies(); err != nil {
		return err
	}
	id := conn.UserID()
	if id == "" {
		return nil
	}
	changed, err := d.Users.ClearConnection(ctx, id, conn.ID(), d.now())
	if err != nil {
		return err
	}
	if d.Logger != nil {
		d.Logger.Debug("connection released", "user_id", id, "conn_id", conn.ID(), "offline", changed)
	}
	return nil
}

func (d *Directory) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Directory) ensureDependencies() error {
	switch {
	case d.Users == nil:
		return errors.New("session: user repository required")
	case d.Hub == nil:
		return errors.New("session: hub required")
	default:
		return nil
	}
}
