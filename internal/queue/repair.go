package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vadim/neo-chat/internal/domain/chat/entity"
)

// TypeSummaryRepair is the task type that rewrites a conversation's summaries
const TypeSummaryRepair = "summary:repair"

type repairPayload struct {
	ConversationID string `json:"conversation_id"`
}

// NewRepairTask builds a summary repair task for a conversation
func NewRepairTask(conversationID string) (*asynq.Task, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	payload, err := json.Marshal(repairPayload{ConversationID: conversationID})
	if err != nil {
		return nil, fmt.Errorf("marshaling repair payload: %w", err)
	}
	return asynq.NewTask(TypeSummaryRepair, payload), nil
}

// Config holds repair queue configuration
type Config struct {
	Queue       string
	Queues      string // CSV like "critical=6,default=3,low=1"
	Concurrency int
	MaxRetry    int
	UniqueTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 10
	}
	if c.UniqueTTL <= 0 {
		c.UniqueTTL = time.Minute
	}
	return c
}

// Client enqueues summary repairs
type Client struct {
	client *asynq.Client
	cfg    Config
}

// NewClient creates a repair queue client
func NewClient(opt asynq.RedisConnOpt, cfg Config) *Client {
	return &Client{client: asynq.NewClient(opt), cfg: cfg.withDefaults()}
}

// ScheduleRepair enqueues a repair. A repair already pending for the same
// conversation absorbs the request.
func (c *Client) ScheduleRepair(ctx context.Context, conversationID string) error {
	task, err := NewRepairTask(conversationID)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.cfg.Queue),
		asynq.MaxRetry(c.cfg.MaxRetry),
		asynq.Unique(c.cfg.UniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueueing summary repair: %w", err)
	}
	return nil
}

// Close releases the client connection
func (c *Client) Close() error {
	return c.client.Close()
}

// SummaryRepairer defines the interface for repairing summaries
type SummaryRepairer interface {
	RepairSummaries(ctx context.Context, conversationID string) error
}

// Server processes summary repair tasks
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewServer creates a repair queue worker
func NewServer(opt asynq.RedisConnOpt, cfg Config, repairer SummaryRepairer, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	queues := map[string]int{cfg.Queue: 1}
	if parsed := parseQueueWeights(cfg.Queues); len(parsed) > 0 {
		queues = parsed
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("queue task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSummaryRepair, repairHandler(repairer, logger))

	return &Server{server: srv, mux: mux, logger: logger}
}

// Run starts processing and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("starting queue server: %w", err)
	}
	s.logger.Info("repair queue worker started")

	<-ctx.Done()
	s.server.Shutdown()
	s.logger.Info("repair queue worker stopped")
	return nil
}

func repairHandler(repairer SummaryRepairer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p repairPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decoding repair payload: %v: %w", err, asynq.SkipRetry)
		}

		err := repairer.RepairSummaries(ctx, p.ConversationID)
		if errors.Is(err, entity.ErrConversationNotFound) {
			return fmt.Errorf("conversation %s: %v: %w", p.ConversationID, err, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}

		logger.Debug("summaries repaired", "conversation_id", p.ConversationID)
		return nil
	}
}

// parseQueueWeights parses strings like "critical=6,default=3,low=1" into a map
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}
