package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
	"github.com/vadim/neo-chat/internal/hub"
	"github.com/vadim/neo-chat/internal/realtime"
)

// Subscriber opens live views over conversations and summary lists
type Subscriber interface {
	SubscribeMessages(ctx context.Context, conversationID string, onUpdate func([]entity.Message)) (*hub.Subscription, error)
	SubscribeSummaries(ctx context.Context, userID string, onUpdate func([]entity.Summary)) (*hub.Subscription, error)
}

// SubscriptionGuard checks that the caller may watch a conversation
type SubscriptionGuard interface {
	CanSubscribe(ctx context.Context, s entity.Session, conversationID string) error
}

// SocketConfig holds websocket settings
type SocketConfig struct {
	SendBuffer     int
	ReadTimeout    time.Duration
	AllowedOrigins []string
}

// SocketHandler serves the websocket push channel
type SocketHandler struct {
	hub      Subscriber
	guard    SubscriptionGuard
	logger   *slog.Logger
	cfg      SocketConfig
	upgrader websocket.Upgrader
}

// NewSocketHandler creates a new websocket handler
func NewSocketHandler(h Subscriber, guard SubscriptionGuard, cfg SocketConfig, logger *slog.Logger) *SocketHandler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	sh := &SocketHandler{hub: h, guard: guard, logger: logger, cfg: cfg}
	sh.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sh.checkOrigin,
	}
	return sh
}

// RegisterRoutes registers the websocket route. The router must run SessionMiddleware.
func (h *SocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Serve())
}

func (h *SocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

type connectedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type subscribedFrame struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type messagesFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Messages       []entity.Message `json:"messages"`
}

type summariesFrame struct {
	Type      string           `json:"type"`
	Summaries []entity.Summary `json:"summaries"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// session is the per-connection state owned by the read loop
type session struct {
	ctx  context.Context
	user entity.Session
	conn *realtime.Connection
	subs map[string]*hub.Subscription
}

// Serve handles GET /ws
func (h *SocketHandler) Serve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := SessionFromContext(r.Context())
		if user.UserID == "" {
			handleChatError(w, entity.ErrUnauthenticated)
			return
		}

		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the response.
			h.logger.Debug("websocket upgrade failed", "error", err)
			return
		}

		conn := realtime.NewConnection(user.UserID, ws, h.cfg.SendBuffer)
		conn.Start()

		ctx, cancel := context.WithCancel(r.Context())
		sess := &session{ctx: ctx, user: user, conn: conn, subs: make(map[string]*hub.Subscription)}

		defer func() {
			cancel()
			for _, sub := range sess.subs {
				sub.Unsubscribe()
			}
			conn.Close(websocket.CloseNormalClosure, "session closed")
			h.logger.Debug("websocket session ended", "user_id", user.UserID, "connection_id", conn.ID)
		}()

		// A slow client is dropped by the connection; end its session too.
		go func() {
			select {
			case <-conn.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		ws.SetReadLimit(64 << 10)
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		})

		h.send(conn, connectedFrame{Type: "connected", UserID: user.UserID})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
					!errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("websocket read failed", "user_id", user.UserID, "error", err)
				}
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				h.replyError(conn, "bad_request", "invalid payload")
				continue
			}

			switch frame.Type {
			case "subscribe_messages":
				h.subscribeMessages(sess, frame)
			case "subscribe_summaries":
				h.subscribeSummaries(sess)
			case "unsubscribe":
				h.unsubscribe(sess, frame)
			default:
				h.replyError(conn, "unsupported_type", "unknown frame type")
			}
		}
	}
}

func (h *SocketHandler) subscribeMessages(sess *session, frame inboundFrame) {
	if frame.ConversationID == "" {
		h.replyError(sess.conn, "bad_request", "conversation_id is required")
		return
	}
	if err := h.guard.CanSubscribe(sess.ctx, sess.user, frame.ConversationID); err != nil {
		h.replyDomainError(sess.conn, err)
		return
	}

	sub, err := h.hub.SubscribeMessages(sess.ctx, frame.ConversationID, func(msgs []entity.Message) {
		h.send(sess.conn, messagesFrame{Type: "messages", ConversationID: frame.ConversationID, Messages: msgs})
	})
	if err != nil {
		h.replyDomainError(sess.conn, err)
		return
	}

	sess.subs[sub.ID] = sub
	h.send(sess.conn, subscribedFrame{Type: "subscribed", SubscriptionID: sub.ID, ConversationID: frame.ConversationID})
}

func (h *SocketHandler) subscribeSummaries(sess *session) {
	sub, err := h.hub.SubscribeSummaries(sess.ctx, sess.user.UserID, func(sums []entity.Summary) {
		h.send(sess.conn, summariesFrame{Type: "summaries", Summaries: sums})
	})
	if err != nil {
		h.replyDomainError(sess.conn, err)
		return
	}

	sess.subs[sub.ID] = sub
	h.send(sess.conn, subscribedFrame{Type: "subscribed", SubscriptionID: sub.ID})
}

// unsubscribe acknowledges unknown ids too, so repeating it is harmless
func (h *SocketHandler) unsubscribe(sess *session, frame inboundFrame) {
	if sub, ok := sess.subs[frame.SubscriptionID]; ok {
		sub.Unsubscribe()
		delete(sess.subs, frame.SubscriptionID)
	}
	h.send(sess.conn, subscribedFrame{Type: "unsubscribed", SubscriptionID: frame.SubscriptionID})
}

func (h *SocketHandler) send(conn *realtime.Connection, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode websocket frame", "error", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		h.logger.Debug("websocket send dropped", "connection_id", conn.ID, "error", err)
	}
}

func (h *SocketHandler) replyError(conn *realtime.Connection, code, message string) {
	h.send(conn, errorFrame{Type: "error", Code: code, Error: message})
}

func (h *SocketHandler) replyDomainError(conn *realtime.Connection, err error) {
	status, code := errorStatus(err)
	h.replyError(conn, code, errorMessage(status, err))
}
