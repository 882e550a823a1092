package entity

import "time"

// Conversation is the thread between exactly two participants
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationIDSeparator joins the two participant ids of a conversation id.
// User ids may not contain it, so every id maps back to exactly one pair.
const ConversationIDSeparator = ":"

// ComputeConversationID derives the canonical id for a participant pair.
// The larger id goes first, so either side computes the same value without a lookup.
func ComputeConversationID(userA, userB string) string {
	if userA > userB {
		return userA + ConversationIDSeparator + userB
	}
	return userB + ConversationIDSeparator + userA
}

// NewConversation builds a conversation for the pair with its canonical id
func NewConversation(userA, userB string, now time.Time) *Conversation {
	first, second := userA, userB
	if second > first {
		first, second = second, first
	}
	return &Conversation{
		ID:           ComputeConversationID(userA, userB),
		Participants: [2]string{first, second},
		CreatedAt:    now,
	}
}

// HasParticipant reports whether userID belongs to the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// IsPair reports whether the participants are exactly userA and userB
func (c *Conversation) IsPair(userA, userB string) bool {
	return userA != userB && c.HasParticipant(userA) && c.HasParticipant(userB)
}

// Other returns the participant that is not userID
func (c *Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Summary is the per-user preview of a conversation
type Summary struct {
	UserID         string     `json:"user_id" bson:"user_id"`
	ConversationID string     `json:"conversation_id" bson:"conversation_id"`
	Friend         Profile    `json:"friend" bson:"friend"`
	LastMessage    string     `json:"last_message,omitempty" bson:"last_message,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty" bson:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
}

// SortKey is the time used to order a user's conversation list
func (s Summary) SortKey() time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.CreatedAt
}

// SeedSummaries builds the two summaries created alongside a conversation,
// each holding the other participant's profile.
func SeedSummaries(conv *Conversation, a, b User) []Summary {
	return []Summary{
		{UserID: a.ID, ConversationID: conv.ID, Friend: b.Profile(), CreatedAt: conv.CreatedAt},
		{UserID: b.ID, ConversationID: conv.ID, Friend: a.Profile(), CreatedAt: conv.CreatedAt},
	}
}
