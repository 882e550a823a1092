package entity

import (
	"net/mail"
	"strings"
)

// User is an identity owned by the external auth provider
type User struct {
	ID          string `json:"id" bson:"_id"`
	DisplayName string `json:"display_name" bson:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	Email       string `json:"email" bson:"email"`
}

// Profile returns the public snapshot stored in the other participant's summary
func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Email:       u.Email,
	}
}

// Profile is a copy of a user's public fields taken at conversation creation
type Profile struct {
	ID          string `json:"id" bson:"id"`
	DisplayName string `json:"display_name" bson:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	Email       string `json:"email,omitempty" bson:"email,omitempty"`
}

// Session carries the caller identity through every core operation
type Session struct {
	UserID  string
	Profile User
}

// ValidateUserID rejects ids that cannot key a conversation or a chats entry
func ValidateUserID(id string) error {
	switch {
	case id == "",
		strings.TrimSpace(id) != id,
		strings.Contains(id, ConversationIDSeparator),
		strings.Contains(id, "."),
		strings.HasPrefix(id, "$"):
		return ErrInvalidUserID
	}
	return nil
}

// ValidateEmail checks the syntax of an address used for friend lookup.
// Display-name forms like "Bob <bob@example.com>" are rejected.
func ValidateEmail(email string) error {
	if email == "" || strings.TrimSpace(email) != email {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}
	return nil
}
