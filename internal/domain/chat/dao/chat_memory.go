package dao

import (
	"context"
	"sync"
	"time"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// Memory keeps users, conversations, messages and summaries in process.
// It serves local development and tests; all data is lost on restart.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]entity.User
	conversations map[string]entity.Conversation
	messages      map[string][]entity.Message
	summaries     map[string]map[string]entity.Summary // userID -> conversationID -> summary
	clock         func() time.Time
	lastStamp     time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]entity.User),
		conversations: make(map[string]entity.Conversation),
		messages:      make(map[string][]entity.Message),
		summaries:     make(map[string]map[string]entity.Summary),
		clock:         time.Now,
	}
}

// Users returns the user directory view of the store
func (m *Memory) Users() *MemoryUsers { return &MemoryUsers{m} }

// Conversations returns the conversation registry view of the store
func (m *Memory) Conversations() *MemoryConversations { return &MemoryConversations{m} }

// Messages returns the message log view of the store
func (m *Memory) Messages() *MemoryMessages { return &MemoryMessages{m} }

// Summaries returns the summary view of the store
func (m *Memory) Summaries() *MemorySummaries { return &MemorySummaries{m} }

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// MemoryUsers implements the user directory on top of Memory
type MemoryUsers struct{ m *Memory }

// GetByID retrieves a user by ID
func (r *MemoryUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	u, ok := r.m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail retrieves a user by exact email
func (r *MemoryUsers) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	for _, u := range r.m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

// Upsert inserts or updates a user
func (r *MemoryUsers) Upsert(ctx context.Context, user *entity.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.users[user.ID] = *user
	return nil
}

// MemoryConversations implements the conversation registry on top of Memory
type MemoryConversations struct{ m *Memory }

// GetByID retrieves a conversation by ID
func (r *MemoryConversations) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	c, ok := r.m.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Create stores a conversation and its summaries
func (r *MemoryConversations) Create(ctx context.Context, conv *entity.Conversation, summaries []entity.Summary) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.conversations[conv.ID]; ok {
		return entity.ErrConversationExists
	}
	r.m.conversations[conv.ID] = *conv
	r.m.messages[conv.ID] = []entity.Message{}
	for _, s := range summaries {
		r.m.putSummaryLocked(s)
	}
	return nil
}

// MemoryMessages implements the message log on top of Memory
type MemoryMessages struct{ m *Memory }

// Append stores a message and updates both summaries under one lock
func (r *MemoryMessages) Append(ctx context.Context, msg *entity.Message, participants [2]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.conversations[msg.ConversationID]; !ok {
		return entity.ErrConversationNotFound
	}

	msg.CreatedAt = r.m.stampLocked()
	r.m.messages[msg.ConversationID] = append(r.m.messages[msg.ConversationID], *msg)

	for _, userID := range participants {
		s, ok := r.m.summaries[userID][msg.ConversationID]
		if !ok {
			continue
		}
		at := msg.CreatedAt
		s.LastMessage = msg.Preview()
		s.LastMessageAt = &at
		r.m.putSummaryLocked(s)
	}
	return nil
}

// GetByConversationID retrieves a copy of the conversation's messages
func (r *MemoryMessages) GetByConversationID(ctx context.Context, conversationID string) ([]entity.Message, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	src := r.m.messages[conversationID]
	out := make([]entity.Message, len(src))
	copy(out, src)
	return out, nil
}

// MemorySummaries implements summary storage on top of Memory
type MemorySummaries struct{ m *Memory }

// GetByUserID retrieves all summaries of a user
func (r *MemorySummaries) GetByUserID(ctx context.Context, userID string) ([]entity.Summary, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	out := make([]entity.Summary, 0, len(r.m.summaries[userID]))
	for _, s := range r.m.summaries[userID] {
		out = append(out, s)
	}
	entity.SortSummaries(out)
	return out, nil
}

// GetStale returns conversations whose summaries lag the latest message
func (r *MemorySummaries) GetStale(ctx context.Context, limit int) ([]string, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var ids []string
	for id, conv := range r.m.conversations {
		msgs := r.m.messages[id]
		if len(msgs) == 0 {
			continue
		}
		latest := latestMessage(msgs)
		for _, userID := range conv.Participants {
			s, ok := r.m.summaries[userID][id]
			if !ok || s.LastMessageAt == nil || s.LastMessageAt.Before(latest.CreatedAt) {
				ids = append(ids, id)
				break
			}
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// Refresh rewrites both summaries from the latest message
func (r *MemorySummaries) Refresh(ctx context.Context, conversationID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	conv, ok := r.m.conversations[conversationID]
	if !ok {
		return entity.ErrConversationNotFound
	}
	msgs := r.m.messages[conversationID]
	if len(msgs) == 0 {
		return nil
	}
	latest := latestMessage(msgs)

	for _, userID := range conv.Participants {
		s, ok := r.m.summaries[userID][conversationID]
		if !ok {
			continue
		}
		at := latest.CreatedAt
		s.LastMessage = latest.Preview()
		s.LastMessageAt = &at
		r.m.putSummaryLocked(s)
	}
	return nil
}

func (m *Memory) putSummaryLocked(s entity.Summary) {
	byConv := m.summaries[s.UserID]
	if byConv == nil {
		byConv = make(map[string]entity.Summary)
		m.summaries[s.UserID] = byConv
	}
	byConv[s.ConversationID] = s
}

// stampLocked returns a commit timestamp that never goes backwards
func (m *Memory) stampLocked() time.Time {
	now := m.clock().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

func latestMessage(msgs []entity.Message) entity.Message {
	latest := msgs[0]
	for _, msg := range msgs[1:] {
		if msg.CreatedAt.After(latest.CreatedAt) ||
			(msg.CreatedAt.Equal(latest.CreatedAt) && msg.ID > latest.ID) {
			latest = msg
		}
	}
	return latest
}
