package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domainchat "pairchat/internal/domain/chat"
	domainuser "pairchat/internal/domain/user"
)

func TestFindOrCreateConcurrentCallsShareOneConversation(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	const workers = 32
	ids := make([]domainchat.ConversationID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			candidate, err := domainchat.NewConversation(domainchat.ConversationID(fmt.Sprintf("c%d", i)), domainuser.ID(a), domainuser.ID(b), time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			conv, _, err := repo.FindOrCreate(ctx, candidate)
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single conversation, got %q and %q", ids[0], id)
		}
	}
	list, err := repo.ListByParticipant(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list))
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	repo := NewMessageRepository()
	ctx := context.Background()
	insert(t, repo, "m1", "bob", "hi")
	insert(t, repo, "m2", "bob", "there")
	insert(t, repo, "m3", "alice", "hey")

	if n, _ := repo.CountUnread(ctx, "c1", "alice"); n != 2 {
		t.Fatalf("expected 2 unread for alice, got %d", n)
	}
	if n, _ := repo.CountUnread(ctx, "c1", "bob"); n != 1 {
		t.Fatalf("expected 1 unread for bob, got %d", n)
	}

	marked, err := repo.MarkRead(ctx, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}
	marked, _ = repo.MarkRead(ctx, "c1", "alice")
	if marked != 0 {
		t.Fatalf("second mark should change nothing, got %d", marked)
	}
	if n, _ := repo.CountUnread(ctx, "c1", "alice"); n != 0 {
		t.Fatalf("expected 0 unread for alice, got %d", n)
	}

	history, _ := repo.ListByConversation(ctx, "c1")
	for _, msg := range history {
		seen := map[domainuser.ID]int{}
		for _, id := range msg.ReadBy {
			seen[id]++
			if seen[id] > 1 {
				t.Fatalf("duplicate reader %q on %s", id, msg.ID)
			}
		}
		if !msg.ReadByUser(msg.SenderID) {
			t.Fatalf("sender missing from read set of %s", msg.ID)
		}
	}
	for _, msg := range history {
		if msg.SenderID == "alice" && len(msg.ReadBy) != 1 {
			t.Fatalf("alice's own message should not gain readers: %v", msg.ReadBy)
		}
	}
}

func TestListByConversationOrdersByCreation(t *testing.T) {
	repo := NewMessageRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)} {
		msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
			ID:             domainchat.MessageID(fmt.Sprintf("m%d", i)),
			ConversationID: "c1",
			SenderID:       "bob",
			Content:        "x",
			Now:            at,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.Insert(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}
	history, _ := repo.ListByConversation(ctx, "c1")
	got := []domainchat.MessageID{history[0].ID, history[1].ID, history[2].ID}
	want := []domainchat.MessageID{"m1", "m2", "m0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestTouchUpdatesPreview(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()
	candidate, _ := domainchat.NewConversation("c1", "alice", "bob", time.Now())
	if _, _, err := repo.FindOrCreate(ctx, candidate); err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(time.Minute)
	if err := repo.Touch(ctx, "c1", "hello", at); err != nil {
		t.Fatal(err)
	}
	conv, err := repo.ByID(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessage != "hello" || !conv.LastMessageAt.Equal(at.UTC()) {
		t.Fatalf("unexpected preview %q at %v", conv.LastMessage, conv.LastMessageAt)
	}
}

func insert(t *testing.T, repo *MessageRepository, id, sender, content string) {
	t.Helper()
	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		ID:             domainchat.MessageID(id),
		ConversationID: "c1",
		SenderID:       domainuser.ID(sender),
		Content:        content,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Insert(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
}
