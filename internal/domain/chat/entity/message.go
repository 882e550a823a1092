package entity

import (
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the maximum length of a message text in characters
const MaxMessageLength = 2000

// Message is an immutable entry of a conversation's log
type Message struct {
	ID             string    `json:"id" bson:"id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	SenderID       string    `json:"sender_id" bson:"sender_id"`
	Text           *string   `json:"text,omitempty" bson:"text,omitempty"`
	AttachmentURL  *string   `json:"attachment_url,omitempty" bson:"attachment_url,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Preview is the text copied into conversation summaries
func (m *Message) Preview() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Attachment is a file sent along with a message
type Attachment struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string
}

// StoredAttachment locates an uploaded attachment
type StoredAttachment struct {
	Key string
	URL string
}

// MessageInput is what a sender submits
type MessageInput struct {
	Text       string
	Attachment *Attachment
}

// Validate rejects input that must never reach storage
func (in MessageInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(in.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if in.Attachment != nil && !IsImageContentType(in.Attachment.ContentType) {
		return ErrUnsupportedAttachment
	}
	return nil
}

// IsImageContentType reports whether contentType is an accepted image attachment
func IsImageContentType(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

// SortMessages orders messages by timestamp, ties broken by id
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortSummaries orders summaries newest first
func SortSummaries(sums []Summary) {
	sort.SliceStable(sums, func(i, j int) bool {
		return sums[i].SortKey().After(sums[j].SortKey())
	})
}
