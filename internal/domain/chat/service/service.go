package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// UserRepository defines the interface for the user directory
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	Upsert(ctx context.Context, user *entity.User) error
}

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// Create stores the conversation with its seeded summaries. It returns
	// entity.ErrConversationExists when the id is already taken.
	Create(ctx context.Context, conv *entity.Conversation, summaries []entity.Summary) error
}

// MessageRepository defines the interface for the message log
type MessageRepository interface {
	// Append stores msg, sets msg.CreatedAt to the commit time and moves the
	// summaries of both participants forward. A wrapped entity.ErrSummaryStale
	// means the message is stored but the summaries were not.
	Append(ctx context.Context, msg *entity.Message, participants [2]string) error
	GetByConversationID(ctx context.Context, conversationID string) ([]entity.Message, error)
}

// SummaryRepository defines the interface for per-user conversation summaries
type SummaryRepository interface {
	GetByUserID(ctx context.Context, userID string) ([]entity.Summary, error)
	// GetStale returns ids of conversations whose summaries lag their latest message
	GetStale(ctx context.Context, limit int) ([]string, error)
	// Refresh rewrites both summaries of a conversation from its latest message
	Refresh(ctx context.Context, conversationID string) error
}

// AttachmentStore uploads attachment bytes to durable object storage
type AttachmentStore interface {
	Upload(ctx context.Context, in entity.Attachment) (*entity.StoredAttachment, error)
	Delete(ctx context.Context, key string) error
}

// Notifier is told about every durable change so live subscribers can be refreshed
type Notifier interface {
	MessageAppended(ctx context.Context, msg entity.Message, participants [2]string)
	SummariesChanged(ctx context.Context, userIDs ...string)
}

// RepairScheduler queues an asynchronous summary repair for a conversation
type RepairScheduler interface {
	ScheduleRepair(ctx context.Context, conversationID string) error
}

// Config holds service tuning
type Config struct {
	OperationTimeout time.Duration
}

// Service handles conversation and message business logic
type Service struct {
	users    UserRepository
	convRepo ConversationRepository
	msgRepo  MessageRepository
	sumRepo  SummaryRepository
	files    AttachmentStore
	notifier Notifier
	repairs  RepairScheduler
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures optional service collaborators
type Option func(*Service)

// WithNotifier sets the component that pushes changes to live subscribers
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRepairScheduler sets the queue used when summaries fall behind
func WithRepairScheduler(r RepairScheduler) Option {
	return func(s *Service) { s.repairs = r }
}

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a new chat service
func New(
	users UserRepository,
	convRepo ConversationRepository,
	msgRepo MessageRepository,
	sumRepo SummaryRepository,
	files AttachmentStore,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}

	s := &Service{
		users:    users,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		sumRepo:  sumRepo,
		files:    files,
		timeout:  cfg.OperationTimeout,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withTimeout bounds a single core operation
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify turns a context deadline into entity.ErrTimeout
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", entity.ErrTimeout, err)
	}
	return err
}

// GetUser returns a user from the directory
func (s *Service) GetUser(ctx context.Context, id string) (*entity.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting user: %w", err))
	}
	if user == nil {
		return nil, entity.ErrUserNotFound
	}
	return user, nil
}

// SyncProfile stores the profile reported by the auth provider
func (s *Service) SyncProfile(ctx context.Context, user *entity.User) error {
	if user.ID == "" {
		return entity.ErrUnauthenticated
	}
	if err := entity.ValidateUserID(user.ID); err != nil {
		return err
	}
	if err := entity.ValidateEmail(user.Email); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.users.Upsert(ctx, user); err != nil {
		return classify(ctx, fmt.Errorf("syncing profile: %w", err))
	}
	return nil
}

// FindFriendByEmail looks up a user by exact email
func (s *Service) FindFriendByEmail(ctx context.Context, email string) (*entity.User, error) {
	if err := entity.ValidateEmail(email); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("finding user by email: %w", err))
	}
	if user == nil {
		return nil, entity.ErrUserNotFound
	}
	return user, nil
}

// EnsureConversationInput represents input for creating a conversation
type EnsureConversationInput struct {
	User   entity.User
	Friend entity.User
}

// EnsureConversationOutput represents output from creating a conversation
type EnsureConversationOutput struct {
	Conversation *entity.Conversation
	Created      bool
}

// EnsureConversation returns the conversation for the pair, creating it with
// two seeded summaries when it does not exist yet.
func (s *Service) EnsureConversation(ctx context.Context, in EnsureConversationInput) (*EnsureConversationOutput, error) {
	if in.User.ID == "" || in.Friend.ID == "" || in.User.ID == in.Friend.ID {
		return nil, entity.ErrInvalidRecipient
	}
	for _, id := range []string{in.User.ID, in.Friend.ID} {
		if err := entity.ValidateUserID(id); err != nil {
			return nil, err
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := entity.ComputeConversationID(in.User.ID, in.Friend.ID)

	existing, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting conversation: %w", err))
	}
	if existing != nil {
		return s.existingConversation(existing, in)
	}

	conv := entity.NewConversation(in.User.ID, in.Friend.ID, s.now())
	summaries := entity.SeedSummaries(conv, in.User, in.Friend)

	err = s.convRepo.Create(ctx, conv, summaries)
	if errors.Is(err, entity.ErrConversationExists) {
		// Lost a creation race; the winner's record is the conversation.
		s.logger.Debug("conversation created concurrently", "conversation_id", id)
		existing, err := s.convRepo.GetByID(ctx, id)
		if err != nil {
			return nil, classify(ctx, fmt.Errorf("re-reading conversation: %w", err))
		}
		if existing == nil {
			return nil, entity.ErrConversationNotFound
		}
		return s.existingConversation(existing, in)
	}
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("creating conversation: %w", err))
	}

	s.logger.Info("conversation created", "conversation_id", id)
	if s.notifier != nil {
		s.notifier.SummariesChanged(ctx, conv.Participants[0], conv.Participants[1])
	}

	return &EnsureConversationOutput{Conversation: conv, Created: true}, nil
}

// existingConversation returns a stored record only if it belongs to the requested pair
func (s *Service) existingConversation(conv *entity.Conversation, in EnsureConversationInput) (*EnsureConversationOutput, error) {
	if !conv.IsPair(in.User.ID, in.Friend.ID) {
		s.logger.Error("conversation id held by another pair",
			"conversation_id", conv.ID,
			"participants", conv.Participants[:],
			"user_id", in.User.ID,
			"friend_id", in.Friend.ID,
		)
		return nil, entity.ErrConversationMismatch
	}
	return &EnsureConversationOutput{Conversation: conv}, nil
}

// GetConversation returns a conversation the user participates in
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.getConversation(ctx, userID, conversationID)
}

func (s *Service) getConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting conversation: %w", err))
	}
	if conv == nil {
		return nil, entity.ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, entity.ErrNotParticipant
	}
	return conv, nil
}

// AppendMessageInput represents input for sending a message
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Message        entity.MessageInput
}

// AppendMessage validates, uploads the attachment if any, and appends the
// message to the conversation log.
func (s *Service) AppendMessage(ctx context.Context, in AppendMessageInput) (*entity.Message, error) {
	if err := in.Message.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv, err := s.getConversation(ctx, in.SenderID, in.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
	}
	if text := in.Message.Text; strings.TrimSpace(text) != "" {
		msg.Text = &text
	}

	var stored *entity.StoredAttachment
	if in.Message.Attachment != nil {
		stored, err = s.files.Upload(ctx, *in.Message.Attachment)
		if err != nil {
			s.logger.Warn("attachment upload failed", "conversation_id", conv.ID, "error", err)
			return nil, classify(ctx, fmt.Errorf("%w: %w", entity.ErrAttachmentUploadFailed, err))
		}
		url := stored.URL
		msg.AttachmentURL = &url
	}

	err = s.msgRepo.Append(ctx, msg, conv.Participants)
	switch {
	case err != nil && stored != nil && !errors.Is(err, entity.ErrSummaryStale):
		// The message was not written, so the object would be unreachable.
		if derr := s.files.Delete(context.WithoutCancel(ctx), stored.Key); derr != nil {
			s.logger.Warn("failed to remove orphaned attachment", "key", stored.Key, "error", derr)
		}
		return nil, classify(ctx, fmt.Errorf("appending message: %w", err))
	case errors.Is(err, entity.ErrSummaryStale):
		s.logger.Warn("summaries not updated after append", "conversation_id", conv.ID, "error", err)
		if s.repairs != nil {
			if rerr := s.repairs.ScheduleRepair(context.WithoutCancel(ctx), conv.ID); rerr != nil {
				s.logger.Error("failed to schedule summary repair", "conversation_id", conv.ID, "error", rerr)
			}
		}
	case err != nil:
		return nil, classify(ctx, fmt.Errorf("appending message: %w", err))
	}

	if s.notifier != nil {
		s.notifier.MessageAppended(ctx, *msg, conv.Participants)
	}

	return msg, nil
}

// ListMessages returns the full ordered message sequence of a conversation
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]entity.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.getConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.Messages(ctx, conversationID)
}

// Messages returns a conversation's messages without a participant check.
// The subscription hub uses it to build snapshots.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]entity.Message, error) {
	msgs, err := s.msgRepo.GetByConversationID(ctx, conversationID)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting messages: %w", err))
	}
	entity.SortMessages(msgs)
	return msgs, nil
}

// Summaries returns a user's conversation summaries, newest first
func (s *Service) Summaries(ctx context.Context, userID string) ([]entity.Summary, error) {
	sums, err := s.sumRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting summaries: %w", err))
	}
	entity.SortSummaries(sums)
	return sums, nil
}

// ListSummaries is Summaries bounded by the operation timeout
func (s *Service) ListSummaries(ctx context.Context, userID string) ([]entity.Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.Summaries(ctx, userID)
}

// RepairSummaries rewrites the summaries of a conversation from its latest message
func (s *Service) RepairSummaries(ctx context.Context, conversationID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return classify(ctx, fmt.Errorf("getting conversation: %w", err))
	}
	if conv == nil {
		return entity.ErrConversationNotFound
	}

	if err := s.sumRepo.Refresh(ctx, conversationID); err != nil {
		return classify(ctx, fmt.Errorf("refreshing summaries: %w", err))
	}

	if s.notifier != nil {
		s.notifier.SummariesChanged(ctx, conv.Participants[0], conv.Participants[1])
	}
	return nil
}

// GetStaleConversations returns conversations whose summaries need a repair (for scheduler)
func (s *Service) GetStaleConversations(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.sumRepo.GetStale(ctx, limit)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("getting stale conversations: %w", err))
	}
	return ids, nil
}
