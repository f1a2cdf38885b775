package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sparkmeet/messaging/internal/domain"
)

// fakeRepo is an in-memory MessageRepository with controllable failures.
type fakeRepo struct {
	mu          sync.Mutex
	history     []domain.Message // newest first, as ListBefore returns
	markReadErr error
	listCalls   int
	readIDs     []string
}

func (f *fakeRepo) Insert(ctx context.Context, msg *domain.Message) error { return nil }

func (f *fakeRepo) ListBefore(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	var out []domain.Message
	for _, m := range f.history {
		if m.ConversationID == conversationID && m.CreatedAt.Before(before) {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkRead(ctx context.Context, messageIDs []string, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.readIDs = append(f.readIDs, messageIDs...)
	return nil
}

func (f *fakeRepo) MarkDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	return nil
}

func newMsg(id, conv, sender, receiver, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		Type:           domain.MessageText,
		CreatedAt:      at,
	}
}

func TestConfirm_RemapsKeyExactlyOnce(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	opt := newMsg("temp-1", "conv-1", "user-1", "user-2", "hello", base)
	opt.IsOptimistic = true
	s.InsertOptimistic(opt)

	server := newMsg("srv-1", "conv-1", "user-1", "user-2", "hello", base.Add(time.Second))
	if err := s.Confirm("temp-1", server); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1", len(msgs))
	}
	if msgs[0].ID != "srv-1" {
		t.Errorf("ID = %s, want srv-1", msgs[0].ID)
	}
	if msgs[0].IsOptimistic {
		t.Error("confirmed message still optimistic")
	}
	if _, ok := s.Get("temp-1"); ok {
		t.Error("temp ID still resolvable after confirm")
	}
	if _, ok := s.Get("srv-1"); !ok {
		t.Error("server ID not resolvable after confirm")
	}
}

func TestConfirm_UnknownTempID(t *testing.T) {
	s := NewStore("user-1", nil)
	err := s.Confirm("temp-missing", newMsg("srv-1", "conv-1", "user-1", "user-2", "x", time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOrdering_CreatedAtThenArrival(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReceiveRemote(newMsg("m-2", "conv-1", "user-2", "user-1", "second", base.Add(2*time.Second)))
	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "first", base.Add(time.Second)))
	// Same timestamp as m-2; arrived later, so sorts after it.
	s.ReceiveRemote(newMsg("m-3", "conv-1", "user-2", "user-1", "third", base.Add(2*time.Second)))

	msgs := s.Messages("conv-1")
	want := []string{"m-1", "m-2", "m-3"}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %d, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, msgs[i].ID, id)
		}
	}
}

func TestMarkFailed_RecordStaysVisible(t *testing.T) {
	s := NewStore("user-1", nil)

	opt := newMsg("temp-1", "conv-1", "user-1", "user-2", "hello", time.Now())
	s.InsertOptimistic(opt)

	if err := s.MarkFailed("temp-1", "network unreachable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].SendError != "network unreachable" {
		t.Errorf("SendError = %q", msgs[0].SendError)
	}
	if !msgs[0].IsOptimistic {
		t.Error("failed message lost optimistic flag")
	}
}

func TestReceiveRemote_EchoConfirmsOptimistic(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	opt := newMsg("temp-1", "conv-1", "user-1", "user-2", "hello there", base)
	opt.IsOptimistic = true
	s.InsertOptimistic(opt)

	echo := newMsg("srv-9", "conv-1", "user-1", "user-2", "hello there", base.Add(time.Second))
	s.ReceiveRemote(echo)

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1 (echo must not duplicate)", len(msgs))
	}
	if msgs[0].ID != "srv-9" || msgs[0].IsOptimistic {
		t.Errorf("echo did not confirm: %+v", msgs[0])
	}
}

func TestReceiveRemote_KnownIDIgnored(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	opt := newMsg("temp-1", "conv-1", "user-1", "user-2", "hi", base)
	s.InsertOptimistic(opt)
	s.Confirm("temp-1", newMsg("srv-1", "conv-1", "user-1", "user-2", "hi", base))

	// Echo arrives after the confirm.
	s.ReceiveRemote(newMsg("srv-1", "conv-1", "user-1", "user-2", "hi", base))

	if got := len(s.Messages("conv-1")); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestReceiveRemote_PeerMessageAppended(t *testing.T) {
	s := NewStore("user-1", nil)

	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "hey", time.Now()))

	msgs := s.Messages("conv-1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].IsOptimistic {
		t.Error("remote message marked optimistic")
	}
}

func TestMarkRead_LocalStateSurvivesRepoFailure(t *testing.T) {
	repo := &fakeRepo{markReadErr: errors.New("backend down")}
	s := NewStore("user-1", repo)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "a", base))
	s.ReceiveRemote(newMsg("m-2", "conv-1", "user-2", "user-1", "b", base.Add(time.Second)))

	ids := s.MarkRead(context.Background(), "conv-1")
	if len(ids) != 2 {
		t.Fatalf("marked = %v, want 2 ids", ids)
	}

	// Local state stands despite the persistence failure.
	if got := s.UnreadCount("conv-1"); got != 0 {
		t.Errorf("UnreadCount = %d, want 0", got)
	}
	for _, m := range s.Messages("conv-1") {
		if m.ReadAt == nil {
			t.Errorf("message %s has no ReadAt", m.ID)
		}
	}
}

func TestMarkRead_SkipsOwnAndAlreadyRead(t *testing.T) {
	repo := &fakeRepo{}
	s := NewStore("user-1", repo)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Our own outgoing message must not be marked.
	s.ReceiveRemote(newMsg("m-out", "conv-1", "user-1", "user-2", "mine", base))
	s.ReceiveRemote(newMsg("m-in", "conv-1", "user-2", "user-1", "theirs", base.Add(time.Second)))

	ids := s.MarkRead(context.Background(), "conv-1")
	if len(ids) != 1 || ids[0] != "m-in" {
		t.Fatalf("marked = %v, want [m-in]", ids)
	}

	// Second call finds nothing unread.
	if ids = s.MarkRead(context.Background(), "conv-1"); len(ids) != 0 {
		t.Errorf("second MarkRead = %v, want none", ids)
	}
	if len(repo.readIDs) != 1 {
		t.Errorf("persisted ids = %v, want one", repo.readIDs)
	}
}

func TestApplyRead(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-1", "user-2", "sent", base))
	readAt := base.Add(time.Minute)
	s.ApplyRead([]string{"m-1", "m-unknown"}, readAt)

	m, _ := s.Get("m-1")
	if m.ReadAt == nil || !m.ReadAt.Equal(readAt) {
		t.Errorf("ReadAt = %v, want %v", m.ReadAt, readAt)
	}
}

func TestUnreadCount(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "a", base))
	s.ReceiveRemote(newMsg("m-2", "conv-1", "user-2", "user-1", "b", base.Add(time.Second)))
	s.ReceiveRemote(newMsg("m-3", "conv-1", "user-1", "user-2", "mine", base.Add(2*time.Second)))

	if got := s.UnreadCount("conv-1"); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}
}

func TestLastMessage(t *testing.T) {
	s := NewStore("user-1", nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if s.LastMessage("conv-1") != nil {
		t.Error("LastMessage on empty conversation, want nil")
	}

	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "a", base))
	s.ReceiveRemote(newMsg("m-2", "conv-1", "user-2", "user-1", "b", base.Add(time.Second)))

	last := s.LastMessage("conv-1")
	if last == nil || last.ID != "m-2" {
		t.Errorf("LastMessage = %+v, want m-2", last)
	}
}

func TestLoadOlder_MergesAndDeduplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		history: []domain.Message{
			*newMsg("h-2", "conv-1", "user-2", "user-1", "older", base.Add(-time.Minute)),
			*newMsg("h-1", "conv-1", "user-2", "user-1", "oldest", base.Add(-2*time.Minute)),
		},
	}
	s := NewStore("user-1", repo)
	s.ReceiveRemote(newMsg("m-1", "conv-1", "user-2", "user-1", "live", base))

	added, err := s.LoadOlder(context.Background(), "conv-1", 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	msgs := s.Messages("conv-1")
	want := []string{"h-1", "h-2", "m-1"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, msgs[i].ID, id)
		}
	}

	// Re-loading the same page adds nothing.
	added, err = s.LoadOlder(context.Background(), "conv-1", 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if added != 0 {
		t.Errorf("re-load added = %d, want 0", added)
	}
}

func TestInsertOptimistic_AssignsTempID(t *testing.T) {
	s := NewStore("user-1", nil)

	msg := newMsg("", "conv-1", "user-1", "user-2", "hi", time.Now())
	stored := s.InsertOptimistic(msg)
	if stored.ID == "" {
		t.Fatal("no temp ID assigned")
	}
	if !stored.IsOptimistic {
		t.Error("stored message not optimistic")
	}
}
