package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/realtime"
)

// ErrClosed is returned when subscribing to a closed hub
var ErrClosed = errors.New("subscription hub closed")

// SnapshotSource loads the current state of a subscribed document
type SnapshotSource interface {
	Messages(ctx context.Context, conversationID string) ([]entity.Message, error)
	Summaries(ctx context.Context, userID string) ([]entity.Summary, error)
}

// Config holds hub configuration
type Config struct {
	SnapshotTimeout time.Duration
}

// Hub keeps live message and summary subscriptions and refreshes them when
// the transport signals a change.
type Hub struct {
	transport realtime.Transport
	source    SnapshotSource
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// New creates a subscription hub
func New(transport realtime.Transport, source SnapshotSource, cfg Config, logger *slog.Logger) *Hub {
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		transport: transport,
		source:    source,
		logger:    logger,
		timeout:   cfg.SnapshotTimeout,
		subs:      make(map[string]*Subscription),
	}
}

// SubscribeMessages delivers the conversation's full message sequence now and
// again after every change. Delivery stops on Unsubscribe or when ctx ends.
func (h *Hub) SubscribeMessages(ctx context.Context, conversationID string, onUpdate func([]entity.Message)) (*Subscription, error) {
	load := func(ctx context.Context) ([]entity.Message, error) {
		msgs, err := h.source.Messages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		entity.SortMessages(msgs)
		return msgs, nil
	}
	return subscribe(h, ctx, realtime.MessagesPath(conversationID), load, onUpdate)
}

// SubscribeSummaries delivers the user's summaries now and after every change
func (h *Hub) SubscribeSummaries(ctx context.Context, userID string, onUpdate func([]entity.Summary)) (*Subscription, error) {
	load := func(ctx context.Context) ([]entity.Summary, error) {
		sums, err := h.source.Summaries(ctx, userID)
		if err != nil {
			return nil, err
		}
		entity.SortSummaries(sums)
		return sums, nil
	}
	return subscribe(h, ctx, realtime.SummariesPath(userID), load, onUpdate)
}

func subscribe[T any](h *Hub, ctx context.Context, path string, load func(context.Context) ([]T, error), onUpdate func([]T)) (*Subscription, error) {
	sub := newSubscription(uuid.NewString(), path)
	sub.deliver = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		snapshot, err := load(ctx)
		if err != nil {
			return err
		}

		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.State() == StateUnsubscribed {
			return nil
		}
		onUpdate(snapshot)
		return nil
	}
	sub.forget = h.forget

	// Listen before the first read so a change racing the snapshot is not lost.
	release, err := h.transport.SubscribeDocument(ctx, path, sub.notify)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", path, err)
	}
	sub.release = release

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		release()
		return nil, ErrClosed
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	if err := sub.deliver(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("loading snapshot for %s: %w", path, err)
	}

	// Add under the lock so a concurrent Close waits for this loop too.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Unsubscribe()
		return nil, ErrClosed
	}
	if !sub.activate() {
		h.mu.Unlock()
		return sub, nil
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go h.run(ctx, sub)

	return sub, nil
}

// run redelivers snapshots until the subscription or its session ends
func (h *Hub) run(ctx context.Context, sub *Subscription) {
	defer h.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case <-sub.kick:
			if err := sub.deliver(ctx); err != nil {
				h.logger.Warn("snapshot delivery failed", "path", sub.Path, "subscription_id", sub.ID, "error", err)
			}
		}
	}
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscriptions returns the number of live subscriptions
func (h *Hub) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes everything and waits for delivery loops to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	h.wg.Wait()
}
