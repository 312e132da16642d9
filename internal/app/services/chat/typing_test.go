package chat

import (
	"context"
	"testing"

	"pairchat/internal/app/dto"
	"pairchat/internal/app/session/sessiontest"
)

func TestTypingReachesOthersInRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	room := f.open(t, alice, bob.UserID())
	roomID := string(room.Conversation.ID)

	f.typing.Notify(alice, roomID, true)
	ev, ok := bob.Last(dto.EventTypingStatus)
	if !ok {
		t.Fatal("bob should see typing status")
	}
	status := ev.Payload.(dto.TypingStatus)
	if !status.IsTyping || status.Username != "alice" || status.RoomID != roomID {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, ok := alice.Last(dto.EventTypingStatus); ok {
		t.Fatal("the typist must not receive their own status")
	}

	f.typing.Notify(alice, roomID, false)
	ev, _ = bob.Last(dto.EventTypingStatus)
	if ev.Payload.(dto.TypingStatus).IsTyping {
		t.Fatal("expected stop")
	}
}

func TestTypingIgnoredWithoutIdentityOrRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	room := f.open(t, alice, bob.UserID())
	roomID := string(room.Conversation.ID)

	anon := sessiontest.NewConn("anon")
	f.hub.Add(anon)
	f.hub.Join(roomID, anon.ID())
	f.typing.Notify(anon, roomID, true)
	f.typing.Notify(alice, "", true)
	f.typing.Notify(carol, roomID, true)

	if events := bob.Events(dto.EventTypingStatus); len(events) != 0 {
		t.Fatalf("expected no typing events, got %+v", events)
	}
}

func TestIdentitySwitchStopsRoomTraffic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.register(t, "carol")
	room := f.open(t, alice, bob.UserID())
	roomID := string(room.Conversation.ID)

	if err := f.dir.Bind(ctx, carol, alice); err != nil {
		t.Fatal(err)
	}
	alice.Reset()
	bob.Reset()

	if _, err := f.pipeline.Send(ctx, bob, SendParams{ConversationID: room.Conversation.ID, Content: "private to alice"}); err != nil {
		t.Fatal(err)
	}
	if got := alice.Events(dto.EventNewMessage); len(got) != 0 {
		t.Fatalf("connection now bound to carol received %+v", got)
	}
	if _, ok := alice.Last(dto.EventMessageNotification); ok {
		t.Fatal("carol must not be notified about alice's conversation")
	}

	f.typing.Notify(alice, roomID, true)
	if _, ok := bob.Last(dto.EventTypingStatus); ok {
		t.Fatal("carol must not relay typing into alice's room")
	}
}
