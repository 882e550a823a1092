package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// UserHeader carries the caller id set by the upstream auth proxy
const UserHeader = "X-User-ID"

type sessionKey struct{}

// ProfileLoader loads the stored profile of the caller
type ProfileLoader interface {
	GetUser(ctx context.Context, id string) (*entity.User, error)
}

// SessionMiddleware builds the caller's session from the auth header.
// Callers without a stored profile still get a session so they can sync one.
func SessionMiddleware(users ProfileLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			if userID == "" {
				// Browsers cannot set headers on websocket upgrades.
				userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
			}
			if userID == "" {
				handleChatError(w, entity.ErrUnauthenticated)
				return
			}
			if err := entity.ValidateUserID(userID); err != nil {
				handleChatError(w, err)
				return
			}

			s := entity.Session{UserID: userID, Profile: entity.User{ID: userID}}
			user, err := users.GetUser(r.Context(), userID)
			switch {
			case err == nil:
				s.Profile = *user
			case errors.Is(err, entity.ErrUserNotFound):
			default:
				handleChatError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// WithSession returns a context carrying s
func WithSession(ctx context.Context, s entity.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session set by SessionMiddleware
func SessionFromContext(ctx context.Context) entity.Session {
	s, _ := ctx.Value(sessionKey{}).(entity.Session)
	return s
}
