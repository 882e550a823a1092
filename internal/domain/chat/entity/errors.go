package entity

import "errors"

// Domain errors for conversations and messages
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrConversationExists     = errors.New("conversation already exists")
	ErrEmptyMessage           = errors.New("message must have text or an attachment")
	ErrMessageTooLong         = errors.New("message exceeds maximum length")
	ErrInvalidEmail           = errors.New("not a valid email")
	ErrInvalidRecipient       = errors.New("invalid recipient")
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrConversationMismatch   = errors.New("conversation id is held by a different pair")
	ErrUnsupportedAttachment  = errors.New("unsupported attachment type")
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	ErrNotParticipant         = errors.New("user is not a participant of this conversation")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrTimeout                = errors.New("operation timed out")
	ErrSummaryStale           = errors.New("message stored but conversation summaries were not updated")
)

// IsValidation reports whether err was caused by invalid caller input.
// Validation errors are rejected before anything is written.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyMessage,
		ErrMessageTooLong,
		ErrInvalidEmail,
		ErrInvalidRecipient,
		ErrInvalidUserID,
		ErrUnsupportedAttachment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err refers to a missing user or conversation
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrConversationNotFound)
}
