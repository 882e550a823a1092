package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func baseURL() string {
	if u := os.Getenv("E2E_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

type AddFriendResponse struct {
	Conversation Conversation `json:"conversation"`
	Friend       Profile      `json:"friend"`
	Created      bool         `json:"created"`
}

type Message struct {
	ID       string  `json:"id"`
	SenderID string  `json:"sender_id"`
	Text     *string `json:"text"`
}

type Summary struct {
	ConversationID string  `json:"conversation_id"`
	Friend         Profile `json:"friend"`
	LastMessage    string  `json:"last_message"`
}

// requireServer skips unless a server answers on the base URL
func requireServer(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL() + "/healthz")
	if err != nil {
		t.Skipf("server not reachable at %s: %v", baseURL(), err)
	}
	resp.Body.Close()
}

func call(t *testing.T, method, path, userID string, body any, wantStatus int, out any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, baseURL()+"/api/v1"+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to call %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
}

// newUser registers a fresh profile so runs do not collide
func newUser(t *testing.T, name string) Profile {
	t.Helper()
	id := uuid.NewString()
	p := Profile{ID: id, DisplayName: name, Email: name + "-" + id[:8] + "@e2e.test"}
	call(t, http.MethodPut, "/users/me", id, map[string]string{
		"display_name": p.DisplayName,
		"email":        p.Email,
	}, http.StatusOK, nil)
	return p
}

func TestConversationLifecycle(t *testing.T) {
	requireServer(t)

	alice := newUser(t, "alice")
	bob := newUser(t, "bob")

	var added AddFriendResponse
	call(t, http.MethodPost, "/friends", alice.ID, map[string]string{"email": bob.Email}, http.StatusCreated, &added)
	if added.Friend.ID != bob.ID {
		t.Errorf("Expected friend %s, got %s", bob.ID, added.Friend.ID)
	}
	convID := added.Conversation.ID

	t.Run("adding again returns existing conversation", func(t *testing.T) {
		var again AddFriendResponse
		call(t, http.MethodPost, "/friends", bob.ID, map[string]string{"email": alice.Email}, http.StatusOK, &again)
		if again.Conversation.ID != convID {
			t.Errorf("Expected conversation %s, got %s", convID, again.Conversation.ID)
		}
	})

	t.Run("messages reach both sides", func(t *testing.T) {
		var sent Message
		call(t, http.MethodPost, "/conversations/"+convID+"/messages", alice.ID, map[string]string{"text": "hi #e2e"}, http.StatusCreated, &sent)

		var list struct {
			Messages []Message `json:"messages"`
		}
		call(t, http.MethodGet, "/conversations/"+convID+"/messages", bob.ID, nil, http.StatusOK, &list)
		if len(list.Messages) != 1 || list.Messages[0].ID != sent.ID {
			t.Errorf("Unexpected messages: %+v", list.Messages)
		}

		var convs struct {
			Conversations []Summary `json:"conversations"`
		}
		call(t, http.MethodGet, "/conversations", bob.ID, nil, http.StatusOK, &convs)
		if len(convs.Conversations) != 1 || convs.Conversations[0].LastMessage != "hi #e2e" {
			t.Errorf("Unexpected summaries: %+v", convs.Conversations)
		}
	})

	t.Run("outsider is rejected", func(t *testing.T) {
		carol := newUser(t, "carol")
		call(t, http.MethodGet, "/conversations/"+convID+"/messages", carol.ID, nil, http.StatusForbidden, nil)
	})

	t.Run("empty message is rejected", func(t *testing.T) {
		call(t, http.MethodPost, "/conversations/"+convID+"/messages", alice.ID, map[string]string{"text": ""}, http.StatusBadRequest, nil)
	})
}
