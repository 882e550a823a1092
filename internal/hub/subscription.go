package hub

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle stage of a subscription
type State int32

const (
	StateRegistering State = iota
	StateActive
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// Subscription is a live view over one document. Unsubscribe is terminal.
type Subscription struct {
	ID   string
	Path string

	state   atomic.Int32
	mu      sync.Mutex // held while a snapshot is handed to the callback
	kick    chan struct{}
	done    chan struct{}
	once    sync.Once
	release func()
	deliver func(ctx context.Context) error
	forget  func(id string)
}

func newSubscription(id, path string) *Subscription {
	return &Subscription{
		ID:   id,
		Path: path,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// State returns the current lifecycle stage
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the subscription is unsubscribed
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops delivery. It waits for a callback already in progress,
// and no callback starts once it returns. It is idempotent and safe to call
// after the underlying document is gone, but not from inside the callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateUnsubscribed))
		s.mu.Unlock()
		close(s.done)
		if s.release != nil {
			s.release()
		}
		if s.forget != nil {
			s.forget(s.ID)
		}
	})
}

// notify marks the document as changed. Pending signals coalesce.
func (s *Subscription) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Subscription) activate() bool {
	return s.state.CompareAndSwap(int32(StateRegistering), int32(StateActive))
}
