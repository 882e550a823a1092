package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/domain/chat/service"
)

// ChatService defines the interface for the chat service
type ChatService interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
	SyncProfile(ctx context.Context, user *entity.User) error
	FindFriendByEmail(ctx context.Context, email string) (*entity.User, error)
	EnsureConversation(ctx context.Context, in service.EnsureConversationInput) (*service.EnsureConversationOutput, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error)
	AppendMessage(ctx context.Context, in service.AppendMessageInput) (*entity.Message, error)
	ListMessages(ctx context.Context, userID, conversationID string) ([]entity.Message, error)
	ListSummaries(ctx context.Context, userID string) ([]entity.Summary, error)
}

// Policy binds chat operations to the caller's session
type Policy struct {
	svc ChatService
}

// New creates a new chat policy
func New(svc ChatService) *Policy {
	return &Policy{svc: svc}
}

func authorize(s entity.Session) error {
	if s.UserID == "" {
		return entity.ErrUnauthenticated
	}
	return nil
}

// SyncProfile stores the caller's profile as reported by the auth provider
func (p *Policy) SyncProfile(ctx context.Context, s entity.Session, in entity.User) (*entity.User, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}
	in.ID = s.UserID
	if err := p.svc.SyncProfile(ctx, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// SearchFriend finds another user by exact email
func (p *Policy) SearchFriend(ctx context.Context, s entity.Session, email string) (*entity.Profile, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}
	friend, err := p.svc.FindFriendByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	profile := friend.Profile()
	return &profile, nil
}

// AddFriendOutput represents output from adding a friend
type AddFriendOutput struct {
	Conversation *entity.Conversation
	Friend       entity.Profile
	Created      bool
}

// AddFriend opens the conversation with the user registered under email
func (p *Policy) AddFriend(ctx context.Context, s entity.Session, email string) (*AddFriendOutput, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}

	friend, err := p.svc.FindFriendByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if friend.ID == s.UserID {
		return nil, entity.ErrInvalidRecipient
	}

	me, err := p.self(ctx, s)
	if err != nil {
		return nil, err
	}

	out, err := p.svc.EnsureConversation(ctx, service.EnsureConversationInput{
		User:   *me,
		Friend: *friend,
	})
	if err != nil {
		return nil, err
	}

	return &AddFriendOutput{
		Conversation: out.Conversation,
		Friend:       friend.Profile(),
		Created:      out.Created,
	}, nil
}

// self prefers the stored profile and falls back to the session's copy
func (p *Policy) self(ctx context.Context, s entity.Session) (*entity.User, error) {
	me, err := p.svc.GetUser(ctx, s.UserID)
	if errors.Is(err, entity.ErrUserNotFound) {
		if s.Profile.ID == "" {
			return &entity.User{ID: s.UserID}, nil
		}
		return &s.Profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting caller profile: %w", err)
	}
	return me, nil
}

// ListConversations returns the caller's conversation summaries, newest first
func (p *Policy) ListConversations(ctx context.Context, s entity.Session) ([]entity.Summary, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}
	return p.svc.ListSummaries(ctx, s.UserID)
}

// ListMessages returns the full message sequence of a conversation the caller is in
func (p *Policy) ListMessages(ctx context.Context, s entity.Session, conversationID string) ([]entity.Message, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}
	return p.svc.ListMessages(ctx, s.UserID, conversationID)
}

// SendMessageInput represents input for sending a message
type SendMessageInput struct {
	ConversationID string
	Text           string
	Attachment     *entity.Attachment
}

// SendMessage appends a message authored by the caller
func (p *Policy) SendMessage(ctx context.Context, s entity.Session, in SendMessageInput) (*entity.Message, error) {
	if err := authorize(s); err != nil {
		return nil, err
	}
	return p.svc.AppendMessage(ctx, service.AppendMessageInput{
		ConversationID: in.ConversationID,
		SenderID:       s.UserID,
		Message: entity.MessageInput{
			Text:       in.Text,
			Attachment: in.Attachment,
		},
	})
}

// CanSubscribe reports whether the caller may watch a conversation's messages
func (p *Policy) CanSubscribe(ctx context.Context, s entity.Session, conversationID string) error {
	if err := authorize(s); err != nil {
		return err
	}
	_, err := p.svc.GetConversation(ctx, s.UserID, conversationID)
	return err
}
