package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/vadim/neo-chat/internal/domain/chat/dao"
	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/domain/chat/service"
)

type nopFiles struct{}

func (nopFiles) Upload(ctx context.Context, in entity.Attachment) (*entity.StoredAttachment, error) {
	return &entity.StoredAttachment{Key: in.Filename, URL: "https://cdn.test/" + in.Filename}, nil
}

func (nopFiles) Delete(ctx context.Context, key string) error { return nil }

func newPolicy(t *testing.T, users ...entity.User) *Policy {
	t.Helper()
	store := dao.NewMemory()
	for _, u := range users {
		u := u
		if err := store.Users().Upsert(context.Background(), &u); err != nil {
			t.Fatalf("seeding user: %v", err)
		}
	}
	svc := service.New(store.Users(), store.Conversations(), store.Messages(), store.Summaries(), nopFiles{}, service.Config{})
	return New(svc)
}

var (
	alice = entity.User{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = entity.User{ID: "u2", DisplayName: "Bob", Email: "bob@example.com"}
)

func session(u entity.User) entity.Session {
	return entity.Session{UserID: u.ID, Profile: u}
}

func TestAddFriend(t *testing.T) {
	p := newPolicy(t, alice, bob)
	ctx := context.Background()

	out, err := p.AddFriend(ctx, session(alice), bob.Email)
	if err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	if !out.Created {
		t.Error("expected conversation to be created")
	}
	if out.Conversation.ID != "u2:u1" {
		t.Errorf("unexpected conversation id %q", out.Conversation.ID)
	}
	if out.Friend.ID != bob.ID {
		t.Errorf("unexpected friend %+v", out.Friend)
	}

	again, err := p.AddFriend(ctx, session(bob), alice.Email)
	if err != nil {
		t.Fatalf("AddFriend from other side failed: %v", err)
	}
	if again.Created || again.Conversation.ID != out.Conversation.ID {
		t.Errorf("expected existing conversation, got %+v", again)
	}

	sums, err := p.ListConversations(ctx, session(bob))
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(sums) != 1 || sums[0].Friend.DisplayName != "Alice" {
		t.Errorf("unexpected summaries for bob: %+v", sums)
	}
}

func TestAddFriendErrors(t *testing.T) {
	p := newPolicy(t, alice, bob)
	ctx := context.Background()

	tests := []struct {
		name    string
		session entity.Session
		email   string
		wantErr error
	}{
		{"no session", entity.Session{}, bob.Email, entity.ErrUnauthenticated},
		{"invalid email", session(alice), "not-an-email", entity.ErrInvalidEmail},
		{"unknown email", session(alice), "carol@example.com", entity.ErrUserNotFound},
		{"self", session(alice), alice.Email, entity.ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.AddFriend(ctx, tt.session, tt.email)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSendMessageAsCaller(t *testing.T) {
	p := newPolicy(t, alice, bob)
	ctx := context.Background()

	out, err := p.AddFriend(ctx, session(alice), bob.Email)
	if err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}

	msg, err := p.SendMessage(ctx, session(bob), SendMessageInput{ConversationID: out.Conversation.ID, Text: "hey"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.SenderID != bob.ID {
		t.Errorf("expected sender %q, got %q", bob.ID, msg.SenderID)
	}

	carol := entity.User{ID: "u3", Email: "carol@example.com"}
	if _, err := p.ListMessages(ctx, session(carol), out.Conversation.ID); !errors.Is(err, entity.ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if err := p.CanSubscribe(ctx, session(carol), out.Conversation.ID); !errors.Is(err, entity.ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant for subscription, got %v", err)
	}
}

func TestSyncProfileUsesSessionID(t *testing.T) {
	p := newPolicy(t)

	got, err := p.SyncProfile(context.Background(), session(alice), entity.User{ID: "spoofed", DisplayName: "A", Email: alice.Email})
	if err != nil {
		t.Fatalf("SyncProfile failed: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("expected profile stored under session id, got %q", got.ID)
	}

	found, err := p.SearchFriend(context.Background(), session(bob), alice.Email)
	if err != nil {
		t.Fatalf("SearchFriend failed: %v", err)
	}
	if found.ID != alice.ID {
		t.Errorf("unexpected search result %+v", found)
	}
}
