package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/domain/chat/policy"
	"github.com/vadim/neo-chat/internal/httpx/response"
)

// ChatPolicy defines the interface for session-bound chat operations
type ChatPolicy interface {
	SyncProfile(ctx context.Context, s entity.Session, in entity.User) (*entity.User, error)
	SearchFriend(ctx context.Context, s entity.Session, email string) (*entity.Profile, error)
	AddFriend(ctx context.Context, s entity.Session, email string) (*policy.AddFriendOutput, error)
	ListConversations(ctx context.Context, s entity.Session) ([]entity.Summary, error)
	ListMessages(ctx context.Context, s entity.Session, conversationID string) ([]entity.Message, error)
	SendMessage(ctx context.Context, s entity.Session, in policy.SendMessageInput) (*entity.Message, error)
}

// ChatHandler handles HTTP requests for friends, conversations and messages
type ChatHandler struct {
	policy         ChatPolicy
	maxUploadBytes int64
}

// NewChatHandler creates a new chat handler
func NewChatHandler(p ChatPolicy, maxUploadBytes int64) *ChatHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ChatHandler{policy: p, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers chat routes. The router must run SessionMiddleware.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Put("/users/me", h.SyncProfile())

	r.Route("/friends", func(r chi.Router) {
		r.Get("/search", h.SearchFriend())
		r.Post("/", h.AddFriend())
	})

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations())
		r.Get("/{conversationId}/messages", h.ListMessages())
		r.Post("/{conversationId}/messages", h.SendMessage())
	})
}

// SyncProfileRequest represents the request body for syncing a profile
type SyncProfileRequest struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Email       string `json:"email"`
}

// SyncProfile handles PUT /users/me
func (h *ChatHandler) SyncProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SyncProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		user, err := h.policy.SyncProfile(r.Context(), SessionFromContext(r.Context()), entity.User{
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
			Email:       strings.TrimSpace(req.Email),
		})
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.OK(w, user)
	}
}

// SearchFriend handles GET /friends/search?email=
func (h *ChatHandler) SearchFriend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if email == "" {
			response.BadRequest(w, "email is required")
			return
		}

		friend, err := h.policy.SearchFriend(r.Context(), SessionFromContext(r.Context()), email)
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.OK(w, friend)
	}
}

// AddFriendRequest represents the request body for adding a friend
type AddFriendRequest struct {
	Email string `json:"email"`
}

// AddFriendResponse represents the response for adding a friend
type AddFriendResponse struct {
	Conversation *entity.Conversation `json:"conversation"`
	Friend       entity.Profile       `json:"friend"`
	Created      bool                 `json:"created"`
}

// AddFriend handles POST /friends
func (h *ChatHandler) AddFriend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddFriendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.Email == "" {
			response.BadRequest(w, "email is required")
			return
		}

		out, err := h.policy.AddFriend(r.Context(), SessionFromContext(r.Context()), req.Email)
		if err != nil {
			handleChatError(w, err)
			return
		}

		resp := AddFriendResponse{
			Conversation: out.Conversation,
			Friend:       out.Friend,
			Created:      out.Created,
		}
		if out.Created {
			response.Created(w, resp)
			return
		}
		response.OK(w, resp)
	}
}

// ListConversationsResponse represents the response for listing conversations
type ListConversationsResponse struct {
	Conversations []entity.Summary `json:"conversations"`
}

// ListConversations handles GET /conversations
func (h *ChatHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := h.policy.ListConversations(r.Context(), SessionFromContext(r.Context()))
		if err != nil {
			handleChatError(w, err)
			return
		}
		if sums == nil {
			sums = []entity.Summary{}
		}

		response.OK(w, ListConversationsResponse{Conversations: sums})
	}
}

// ListMessagesResponse represents the response for listing messages
type ListMessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []entity.Message `json:"messages"`
}

// ListMessages handles GET /conversations/{conversationId}/messages
func (h *ChatHandler) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationId")

		msgs, err := h.policy.ListMessages(r.Context(), SessionFromContext(r.Context()), conversationID)
		if err != nil {
			handleChatError(w, err)
			return
		}
		if msgs == nil {
			msgs = []entity.Message{}
		}

		response.OK(w, ListMessagesResponse{ConversationID: conversationID, Messages: msgs})
	}
}

// SendMessageRequest represents the JSON body for sending a text message
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage handles POST /conversations/{conversationId}/messages.
// It accepts JSON {"text": ...} or multipart with fields "message" and "file".
func (h *ChatHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := policy.SendMessageInput{ConversationID: chi.URLParam(r, "conversationId")}

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
			if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					response.TooLarge(w, "attachment too large")
					return
				}
				response.BadRequest(w, "invalid multipart form")
				return
			}
			defer r.MultipartForm.RemoveAll()

			in.Text = r.FormValue("message")

			file, header, err := r.FormFile("file")
			switch {
			case errors.Is(err, http.ErrMissingFile):
			case err != nil:
				response.BadRequest(w, "invalid file")
				return
			default:
				defer file.Close()
				att, err := attachmentFromPart(file, header)
				if err != nil {
					response.BadRequest(w, "invalid file")
					return
				}
				in.Attachment = att
			}
		} else {
			var req SendMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.BadRequest(w, "invalid JSON")
				return
			}
			in.Text = req.Text
		}

		msg, err := h.policy.SendMessage(r.Context(), SessionFromContext(r.Context()), in)
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.Created(w, msg)
	}
}

// attachmentFromPart sniffs the content type when the client did not send one
func attachmentFromPart(file multipart.File, header *multipart.FileHeader) (*entity.Attachment, error) {
	contentType := header.Header.Get("Content-Type")

	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, err := io.ReadFull(file, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		head = head[:n]
		contentType = http.DetectContentType(head)
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	return &entity.Attachment{
		Reader:      file,
		ContentType: strings.TrimSpace(strings.Split(contentType, ";")[0]),
		Size:        header.Size,
		Filename:    header.Filename,
	}, nil
}
