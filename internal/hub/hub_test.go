package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vadim/neo-chat/internal/domain/chat/dao"
	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/domain/chat/service"
	"github.com/vadim/neo-chat/internal/realtime"
)

var (
	alice = entity.User{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = entity.User{ID: "u2", DisplayName: "Bob", Email: "bob@example.com"}
)

type fakeFiles struct{}

func (fakeFiles) Upload(ctx context.Context, in entity.Attachment) (*entity.StoredAttachment, error) {
	return &entity.StoredAttachment{Key: "k/" + in.Filename, URL: "https://cdn.test/k/" + in.Filename}, nil
}

func (fakeFiles) Delete(ctx context.Context, key string) error { return nil }

type failingSource struct{}

func (failingSource) Messages(ctx context.Context, conversationID string) ([]entity.Message, error) {
	return nil, errors.New("store down")
}

func (failingSource) Summaries(ctx context.Context, userID string) ([]entity.Summary, error) {
	return nil, errors.New("store down")
}

type recorder[T any] struct {
	ch chan []T
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{ch: make(chan []T, 32)}
}

func (r *recorder[T]) push(v []T) { r.ch <- v }

func (r *recorder[T]) next(t *testing.T) []T {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

// waitFor drains deliveries until one satisfies ok
func (r *recorder[T]) waitFor(t *testing.T, ok func([]T) bool) []T {
	t.Helper()
	for {
		if v := r.next(t); ok(v) {
			return v
		}
	}
}

func (r *recorder[T]) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected delivery: %v", v)
	case <-time.After(wait):
	}
}

type env struct {
	svc       *service.Service
	hub       *Hub
	transport *realtime.Local
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := dao.NewMemory()
	transport := realtime.NewLocal()
	svc := service.New(
		store.Users(), store.Conversations(), store.Messages(), store.Summaries(),
		fakeFiles{},
		service.Config{},
		service.WithNotifier(realtime.NewNotifier(transport, logger)),
		service.WithLogger(logger),
	)
	h := New(transport, svc, Config{}, logger)
	t.Cleanup(h.Close)
	return &env{svc: svc, hub: h, transport: transport}
}

func (e *env) connect(t *testing.T, a, b entity.User) string {
	t.Helper()
	out, err := e.svc.EnsureConversation(context.Background(), service.EnsureConversationInput{User: a, Friend: b})
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	return out.Conversation.ID
}

func (e *env) send(t *testing.T, convID, sender, text string) *entity.Message {
	t.Helper()
	msg, err := e.svc.AppendMessage(context.Background(), service.AppendMessageInput{
		ConversationID: convID,
		SenderID:       sender,
		Message:        entity.MessageInput{Text: text},
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	return msg
}

func TestSubscribeMessagesSnapshotThenUpdates(t *testing.T) {
	e := newEnv(t)
	convID := e.connect(t, alice, bob)
	first := e.send(t, convID, alice.ID, "hi")

	rec := newRecorder[entity.Message]()
	sub, err := e.hub.SubscribeMessages(context.Background(), convID, rec.push)
	if err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}

	initial := rec.next(t)
	if len(initial) != 1 || initial[0].ID != first.ID {
		t.Fatalf("unexpected initial snapshot: %+v", initial)
	}
	if sub.State() != StateActive {
		t.Errorf("expected active subscription, got %s", sub.State())
	}

	second := e.send(t, convID, bob.ID, "hello back")

	got := rec.waitFor(t, func(m []entity.Message) bool { return len(m) == 2 })
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("snapshot is not the previous one plus the new message: %+v", got)
	}
}

func TestSubscribeMessagesEmptyConversation(t *testing.T) {
	e := newEnv(t)
	convID := e.connect(t, alice, bob)

	rec := newRecorder[entity.Message]()
	if _, err := e.hub.SubscribeMessages(context.Background(), convID, rec.push); err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}
	if got := rec.next(t); len(got) != 0 {
		t.Errorf("expected empty snapshot, got %d messages", len(got))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := newEnv(t)
	convID := e.connect(t, alice, bob)

	rec := newRecorder[entity.Message]()
	sub, err := e.hub.SubscribeMessages(context.Background(), convID, rec.push)
	if err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}
	rec.next(t)

	sub.Unsubscribe()
	sub.Unsubscribe()

	if sub.State() != StateUnsubscribed {
		t.Errorf("expected unsubscribed, got %s", sub.State())
	}
	if n := e.transport.Listeners(realtime.MessagesPath(convID)); n != 0 {
		t.Errorf("expected transport listener released, got %d", n)
	}
	if n := e.hub.Subscriptions(); n != 0 {
		t.Errorf("expected no live subscriptions, got %d", n)
	}

	e.send(t, convID, alice.ID, "nobody is listening")
	rec.none(t, 100*time.Millisecond)
}

func TestUnsubscribeWaitsForDeliveryInProgress(t *testing.T) {
	e := newEnv(t)
	convID := e.connect(t, alice, bob)

	var (
		calls    atomic.Int32
		returned atomic.Bool
		late     atomic.Bool
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	sub, err := e.hub.SubscribeMessages(context.Background(), convID, func([]entity.Message) {
		if returned.Load() {
			late.Store(true)
		}
		if calls.Add(1) == 2 {
			close(entered)
			<-release
		}
	})
	if err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}

	e.send(t, convID, alice.ID, "in flight")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	unsubscribed := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		returned.Store(true)
		close(unsubscribed)
	}()

	select {
	case <-unsubscribed:
		t.Fatal("Unsubscribe returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe did not return")
	}

	e.send(t, convID, bob.ID, "after")
	time.Sleep(50 * time.Millisecond)
	if late.Load() || calls.Load() != 2 {
		t.Errorf("callback ran after Unsubscribe returned: calls=%d", calls.Load())
	}
}

func TestCloseDuringSubscribe(t *testing.T) {
	e := newEnv(t)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		subs []*Subscription
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sub, err := e.hub.SubscribeSummaries(context.Background(), alice.ID, func([]entity.Summary) {})
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			subs = append(subs, sub)
			mu.Unlock()
		}()
	}

	close(start)
	e.hub.Close()
	wg.Wait()

	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("subscription survived Close")
		}
	}
	if n := e.hub.Subscriptions(); n != 0 {
		t.Errorf("expected no live subscriptions, got %d", n)
	}
	if n := e.transport.Listeners(realtime.SummariesPath(alice.ID)); n != 0 {
		t.Errorf("expected every listener released, got %d", n)
	}
}

func TestSessionEndUnsubscribes(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder[entity.Summary]()
	sub, err := e.hub.SubscribeSummaries(ctx, alice.ID, rec.push)
	if err != nil {
		t.Fatalf("SubscribeSummaries failed: %v", err)
	}
	rec.next(t)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription outlived its session")
	}
	if sub.State() != StateUnsubscribed {
		t.Errorf("expected unsubscribed, got %s", sub.State())
	}
}

func TestSubscribeSnapshotFailure(t *testing.T) {
	transport := realtime.NewLocal()
	h := New(transport, failingSource{}, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer h.Close()

	_, err := h.SubscribeMessages(context.Background(), "u2:u1", func([]entity.Message) {
		t.Error("callback must not run")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := transport.Listeners(realtime.MessagesPath("u2:u1")); n != 0 {
		t.Errorf("expected listener released after failure, got %d", n)
	}
}

func TestClosedHubRejectsSubscriptions(t *testing.T) {
	e := newEnv(t)
	e.hub.Close()

	_, err := e.hub.SubscribeSummaries(context.Background(), alice.ID, func([]entity.Summary) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestTwoUserConversationFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	aliceChats := newRecorder[entity.Summary]()
	if _, err := e.hub.SubscribeSummaries(ctx, alice.ID, aliceChats.push); err != nil {
		t.Fatalf("SubscribeSummaries failed: %v", err)
	}
	if got := aliceChats.next(t); len(got) != 0 {
		t.Fatalf("expected no conversations yet, got %d", len(got))
	}

	convID := e.connect(t, alice, bob)
	if convID != "u2:u1" {
		t.Fatalf("unexpected conversation id %q", convID)
	}

	listed := aliceChats.waitFor(t, func(s []entity.Summary) bool { return len(s) == 1 })
	if listed[0].Friend.ID != bob.ID {
		t.Errorf("expected bob as friend, got %+v", listed[0].Friend)
	}

	bobChats := newRecorder[entity.Summary]()
	if _, err := e.hub.SubscribeSummaries(ctx, bob.ID, bobChats.push); err != nil {
		t.Fatalf("SubscribeSummaries failed: %v", err)
	}
	bobChats.next(t)

	bobThread := newRecorder[entity.Message]()
	if _, err := e.hub.SubscribeMessages(ctx, convID, bobThread.push); err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}
	bobThread.next(t)

	e.send(t, convID, alice.ID, "hi")

	sums := bobChats.waitFor(t, func(s []entity.Summary) bool {
		return len(s) == 1 && s[0].LastMessage == "hi"
	})
	if sums[0].Friend.ID != alice.ID {
		t.Errorf("expected alice as bob's friend, got %+v", sums[0].Friend)
	}

	_, err := e.svc.AppendMessage(ctx, service.AppendMessageInput{
		ConversationID: convID,
		SenderID:       bob.ID,
		Message: entity.MessageInput{Attachment: &entity.Attachment{
			Reader:      strings.NewReader("png"),
			ContentType: "image/png",
			Filename:    "cat.png",
		}},
	})
	if err != nil {
		t.Fatalf("AppendMessage with attachment failed: %v", err)
	}

	thread := bobThread.waitFor(t, func(m []entity.Message) bool { return len(m) == 2 })
	if thread[0].Text == nil || *thread[0].Text != "hi" {
		t.Errorf("expected text message first, got %+v", thread[0])
	}
	if thread[1].AttachmentURL == nil || thread[1].Text != nil {
		t.Errorf("expected attachment-only message second, got %+v", thread[1])
	}
}
