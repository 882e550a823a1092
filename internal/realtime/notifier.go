package realtime

import (
	"context"
	"log/slog"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// Notifier turns durable chat changes into document change signals
type Notifier struct {
	transport Transport
	logger    *slog.Logger
}

// NewNotifier creates a notifier publishing on transport
func NewNotifier(transport Transport, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{transport: transport, logger: logger}
}

// MessageAppended signals the conversation and both participants' summaries
func (n *Notifier) MessageAppended(ctx context.Context, msg entity.Message, participants [2]string) {
	n.notify(ctx, MessagesPath(msg.ConversationID))
	n.SummariesChanged(ctx, participants[0], participants[1])
}

// SummariesChanged signals the summary documents of the given users
func (n *Notifier) SummariesChanged(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		n.notify(ctx, SummariesPath(id))
	}
}

// notify must not fail the write that triggered it
func (n *Notifier) notify(ctx context.Context, path string) {
	if err := n.transport.NotifyDocument(context.WithoutCancel(ctx), path); err != nil {
		n.logger.Error("failed to signal document change", "path", path, "error", err)
	}
}
