package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/pkg/apperr"
)

type staticDirectory map[string]bool

func (d staticDirectory) Exists(_ context.Context, id string) (bool, error) { return d[id], nil }

func TestEnsureChatIsIdempotentAndUnordered(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := svc.EnsureChat(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same chat, got %s and %s", first.ID, second.ID)
	}
	if len(first.Participants) != 2 || first.Participants[0] != "alice" || first.Participants[1] != "bob" {
		t.Fatalf("unexpected participants %v", first.Participants)
	}
}

func TestEnsureChatConcurrentCreatesOneRow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "s1", "s2"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := svc.EnsureChat(ctx, a, b)
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d saw chat %s, want %s", i, ids[i], ids[0])
		}
	}
	var count int64
	store.db.Model(&models.ChatModel{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one chat row, got %d", count)
	}
}

func TestEnsureChatValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.EnsureChat(ctx, "a", "a"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.EnsureChat(ctx, "a", " "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnsureChatRequiresKnownSubjects(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	svc := NewService(store, nil, WithDirectory(staticDirectory{"a": true}))
	if _, err := svc.EnsureChat(context.Background(), "a", "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSendMessageThenListEndsWithIt(t *testing.T) {
	svc, _, emitter := newTestService(t)
	ctx := context.Background()
	chat, _ := svc.EnsureChat(ctx, "a", "b")

	for _, text := range []string{"one", "two", "  three  "} {
		if _, err := svc.SendMessage(ctx, chat.ID, "a", "b", text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	msgs, err := svc.ListMessages(ctx, chat.ID, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 || msgs[2].Text != "three" {
		t.Fatalf("unexpected history %+v", msgs)
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].CreatedAt.After(msgs[i-1].CreatedAt) || msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("history not strictly ordered at %d", i)
		}
	}

	if got := len(emitter.For("b", EventMessageNew)); got != 3 {
		t.Fatalf("receiver got %d message:new events", got)
	}
	if got := len(emitter.For("a", EventChatUpdated)); got != 3 {
		t.Fatalf("sender got %d chat:updated events", got)
	}
	last := emitter.For("b", EventChatUpdated)[2].Payload.(ChatUpdated)
	if last.ChatID != chat.ID || last.LastMessage != "three" {
		t.Fatalf("unexpected chat:updated payload %+v", last)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, _, emitter := newTestService(t)
	ctx := context.Background()
	chat, _ := svc.EnsureChat(ctx, "a", "b")

	cases := []struct {
		name             string
		chatID, from, to string
		text             string
		want             error
	}{
		{"empty text", chat.ID, "a", "b", "   ", apperr.ErrValidation},
		{"missing receiver", chat.ID, "a", "", "hi", apperr.ErrValidation},
		{"self", chat.ID, "a", "a", "hi", apperr.ErrValidation},
		{"outsider", chat.ID, "a", "c", "hi", apperr.ErrValidation},
		{"too long", chat.ID, "a", "b", strings.Repeat("x", MaxTextLength+1), apperr.ErrValidation},
		{"unknown chat", "nope", "a", "b", "hi", apperr.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.SendMessage(ctx, tc.chatID, tc.from, tc.to, tc.text); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed sends must not emit, got %d events", len(emitter.events))
	}
}

func TestSendMessageConcurrentKeepsSequence(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	chat, _ := svc.EnsureChat(ctx, "a", "b")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SendMessage(ctx, chat.ID, "a", "b", "hi"); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, err := svc.ListMessages(ctx, chat.ID, nil, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("message %d has seq %d", i, m.Seq)
		}
	}
}

func TestListMessagesPaginatesWithoutGapOrOverlap(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	chat, _ := svc.EnsureChat(ctx, "a", "b")

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	for _, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if _, err := svc.SendMessage(ctx, chat.ID, "a", "b", text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var seen []string
	var before *time.Time
	for page := 0; page < 5; page++ {
		msgs, err := svc.ListMessages(ctx, chat.ID, before, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) > 2 {
			t.Fatalf("page %d has %d items", page, len(msgs))
		}
		if len(msgs) == 0 {
			break
		}
		texts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			texts = append(texts, m.Text)
		}
		seen = append(texts, seen...)
		earliest := msgs[0].CreatedAt
		before = &earliest
	}
	if strings.Join(seen, ",") != "m1,m2,m3,m4,m5" {
		t.Fatalf("pagination produced %v", seen)
	}
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	chat, _ := svc.EnsureChat(ctx, "a", "b")
	_, _ = svc.SendMessage(ctx, chat.ID, "a", "b", "hello")
	_, _ = svc.SendMessage(ctx, chat.ID, "a", "b", "again")
	_, _ = svc.SendMessage(ctx, chat.ID, "b", "a", "reply")

	n, err := svc.MarkSeen(ctx, chat.ID, "b")
	if err != nil || n != 2 {
		t.Fatalf("first mark seen: n=%d err=%v", n, err)
	}
	n, err = svc.MarkSeen(ctx, chat.ID, "b")
	if err != nil || n != 0 {
		t.Fatalf("second mark seen: n=%d err=%v", n, err)
	}

	if _, err := svc.MarkSeen(ctx, chat.ID, "mallory"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("outsider mark seen: expected not found, got %v", err)
	}
}

func TestListChatsOrderAndUnread(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	ab, _ := svc.EnsureChat(ctx, "a", "b")
	ac, _ := svc.EnsureChat(ctx, "a", "c")
	ad, _ := svc.EnsureChat(ctx, "a", "d")

	_, _ = svc.SendMessage(ctx, ab.ID, "b", "a", "from b")
	svc.now = func() time.Time { return base.Add(time.Minute) }
	_, _ = svc.SendMessage(ctx, ac.ID, "c", "a", "from c")
	_, _ = svc.SendMessage(ctx, ac.ID, "a", "c", "to c")

	chats, err := svc.ListChats(ctx, "a")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(chats))
	}
	if chats[0].ID != ac.ID || chats[1].ID != ab.ID || chats[2].ID != ad.ID {
		t.Fatalf("unexpected order %s %s %s", chats[0].ID, chats[1].ID, chats[2].ID)
	}
	if chats[0].Unread != 1 || chats[1].Unread != 1 || chats[2].Unread != 0 {
		t.Fatalf("unexpected unread counts %d %d %d", chats[0].Unread, chats[1].Unread, chats[2].Unread)
	}
	if chats[0].LastMessage != "to c" {
		t.Fatalf("unexpected last message %q", chats[0].LastMessage)
	}
}

// A sends "hello" to B, B marks it seen, and A's chat list shows it with unread=0.
func TestConversationScenario(t *testing.T) {
	svc, _, emitter := newTestService(t)
	ctx := context.Background()

	chat, err := svc.EnsureChat(ctx, "A", "B")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := svc.SendMessage(ctx, chat.ID, "A", "B", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	news := emitter.For("B", EventMessageNew)
	if len(news) != 1 || news[0].Payload.(*models.MessageModel).Text != "hello" {
		t.Fatalf("B did not receive message:new: %+v", news)
	}
	if updates := emitter.For("B", EventChatUpdated); len(updates) != 1 || updates[0].Payload.(ChatUpdated).ChatID != chat.ID {
		t.Fatalf("B did not receive chat:updated: %+v", updates)
	}

	n, err := svc.MarkSeen(ctx, chat.ID, "B")
	if err != nil || n != 1 {
		t.Fatalf("mark seen: n=%d err=%v", n, err)
	}

	chats, err := svc.ListChats(ctx, "A")
	if err != nil || len(chats) != 1 {
		t.Fatalf("list chats: %v %v", chats, err)
	}
	if chats[0].Unread != 0 || chats[0].LastMessage != "hello" {
		t.Fatalf("unexpected summary %+v", chats[0])
	}
}

func TestNextCreatedAtIsStrictlyIncreasing(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	if got := nextCreatedAt(now, nil); !got.Equal(now.Truncate(time.Millisecond)) {
		t.Fatalf("unexpected first timestamp %s", got)
	}
	last := now.Truncate(time.Millisecond)
	if got := nextCreatedAt(now, &last); !got.Equal(last.Add(time.Millisecond)) {
		t.Fatalf("expected bump past %s, got %s", last, got)
	}
	future := now.Add(time.Hour)
	if got := nextCreatedAt(now, &future); !got.After(future) {
		t.Fatalf("clock skew must not reorder, got %s", got)
	}
}
