package session_test

import (
	"context"
	"testing"

	"pairchat/internal/app/session"
	"pairchat/internal/app/session/sessiontest"
	"pairchat/internal/domain/user"
	"pairchat/internal/infra/storage/memory"
)

func newDirectory(t *testing.T, usernames ...string) (*session.Directory, *memory.UserRepository, *sessiontest.Hub) {
	t.Helper()
	users := memory.NewUserRepository()
	for _, name := range usernames {
		u, err := user.NewUser(user.CreateParams{ID: user.ID(name + "-id"), Username: name, PasswordHash: "hash"})
		if err != nil {
			t.Fatal(err)
		}
		if err := users.Create(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	hub := sessiontest.NewHub()
	return &session.Directory{Users: users, Hub: hub}, users, hub
}

func TestBindThenRoute(t *testing.T) {
	dir, users, hub := newDirectory(t, "alice")
	ctx := context.Background()
	conn := sessiontest.NewConn("c1")
	hub.Add(conn)

	alice, _ := users.ByUsername(ctx, "alice")
	if _, ok := dir.Route(ctx, alice.ID); ok {
		t.Fatal("unbound user must not route")
	}
	if err := dir.Bind(ctx, alice, conn); err != nil {
		t.Fatal(err)
	}
	if conn.UserID() != alice.ID || conn.Username() != "alice" {
		t.Fatalf("identity not set on connection: %q %q", conn.UserID(), conn.Username())
	}
	got, ok := dir.Route(ctx, alice.ID)
	if !ok || got.ID() != "c1" {
		t.Fatalf("expected route to c1, got %v %v", got, ok)
	}
}

func TestLastBindWins(t *testing.T) {
	dir, users, hub := newDirectory(t, "alice")
	ctx := context.Background()
	first := sessiontest.NewConn("c1")
	second := sessiontest.NewConn("c2")
	hub.Add(first, second)
	alice, _ := users.ByUsername(ctx, "alice")

	_ = dir.Bind(ctx, alice, first)
	_ = dir.Bind(ctx, alice, second)
	if got, ok := dir.Route(ctx, alice.ID); !ok || got.ID() != "c2" {
		t.Fatalf("expected route to c2, got %v %v", got, ok)
	}

	if err := dir.Release(ctx, first); err != nil {
		t.Fatal(err)
	}
	if got, ok := dir.Route(ctx, alice.ID); !ok || got.ID() != "c2" {
		t.Fatal("releasing the older connection must keep the newer binding")
	}

	if err := dir.Release(ctx, second); err != nil {
		t.Fatal(err)
	}
	if _, ok := dir.Route(ctx, alice.ID); ok {
		t.Fatal("user should be offline")
	}
	stored, _ := users.ByID(ctx, alice.ID)
	if stored.Online {
		t.Fatal("store still reports the user online")
	}
}

func TestRouteIgnoresDeadConnection(t *testing.T) {
	dir, users, hub := newDirectory(t, "alice")
	ctx := context.Background()
	conn := sessiontest.NewConn("c1")
	hub.Add(conn)
	alice, _ := users.ByUsername(ctx, "alice")
	_ = dir.Bind(ctx, alice, conn)

	hub.Remove(conn)
	if _, ok := dir.Route(ctx, alice.ID); ok {
		t.Fatal("a connection gone from the hub must not route")
	}
}

func TestRebindAsOtherUserReleasesPrevious(t *testing.T) {
	dir, users, hub := newDirectory(t, "alice", "bob")
	ctx := context.Background()
	conn := sessiontest.NewConn("c1")
	hub.Add(conn)
	alice, _ := users.ByUsername(ctx, "alice")
	bob, _ := users.ByUsername(ctx, "bob")

	_ = dir.Bind(ctx, alice, conn)
	_ = dir.Bind(ctx, bob, conn)

	if _, ok := dir.Route(ctx, alice.ID); ok {
		t.Fatal("alice should have been released")
	}
	if got, ok := dir.Route(ctx, bob.ID); !ok || got.ID() != "c1" {
		t.Fatal("bob should route to c1")
	}
}

func TestRebindAsOtherUserLeavesPreviousRooms(t *testing.T) {
	dir, users, hub := newDirectory(t, "alice", "bob", "carol")
	ctx := context.Background()
	conn := sessiontest.NewConn("c1")
	peer := sessiontest.NewConn("c2")
	hub.Add(conn, peer)
	alice, _ := users.ByUsername(ctx, "alice")
	carol, _ := users.ByUsername(ctx, "carol")

	_ = dir.Bind(ctx, alice, conn)
	hub.Join("alice|bob", conn.ID())
	hub.Join("alice|bob", peer.ID())

	if err := dir.Bind(ctx, alice, conn); err != nil {
		t.Fatal(err)
	}
	if !hub.InRoom("alice|bob", conn.ID()) {
		t.Fatal("rebinding the same identity must keep its rooms")
	}

	if err := dir.Bind(ctx, carol, conn); err != nil {
		t.Fatal(err)
	}
	if hub.InRoom("alice|bob", conn.ID()) {
		t.Fatal("connection kept alice's room after switching to carol")
	}
	if !hub.InRoom("alice|bob", peer.ID()) {
		t.Fatal("other members must stay in the room")
	}
	if n := hub.EmitRoom("alice|bob", "new_message", "hello", ""); n != 1 {
		t.Fatalf("expected one recipient, got %d", n)
	}
	if len(conn.Events("new_message")) != 0 {
		t.Fatal("carol's connection received alice's conversation")
	}
}
