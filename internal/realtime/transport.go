package realtime

import (
	"context"
	"sync"
)

// Transport signals document changes to interested listeners.
// A change carries no payload; listeners re-read the document.
type Transport interface {
	SubscribeDocument(ctx context.Context, path string, onChange func()) (unsubscribe func(), err error)
	NotifyDocument(ctx context.Context, path string) error
}

// MessagesPath is the document holding a conversation's messages
func MessagesPath(conversationID string) string {
	return "messages/" + conversationID
}

// SummariesPath is the document holding a user's conversation summaries
func SummariesPath(userID string) string {
	return "chats/" + userID
}

// Local delivers change signals within a single process
type Local struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]func()
	nextID    uint64
}

// NewLocal creates an in-process transport
func NewLocal() *Local {
	return &Local{listeners: make(map[string]map[uint64]func())}
}

var _ Transport = (*Local)(nil)

// SubscribeDocument registers onChange for path. The returned function is
// idempotent.
func (l *Local) SubscribeDocument(ctx context.Context, path string, onChange func()) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	set := l.listeners[path]
	if set == nil {
		set = make(map[uint64]func())
		l.listeners[path] = set
	}
	set[id] = onChange
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(path, id) })
	}, nil
}

// NotifyDocument invokes every listener of path
func (l *Local) NotifyDocument(ctx context.Context, path string) error {
	l.dispatch(path)
	return nil
}

// Listeners returns the number of listeners registered for path
func (l *Local) Listeners(path string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners[path])
}

func (l *Local) dispatch(path string) {
	l.mu.RLock()
	fns := make([]func(), 0, len(l.listeners[path]))
	for _, fn := range l.listeners[path] {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (l *Local) remove(path string, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.listeners[path]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(l.listeners, path)
	}
}
