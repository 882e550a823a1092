package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SummaryRepairer defines the interface for repairing stale summaries
type SummaryRepairer interface {
	GetStaleConversations(ctx context.Context, limit int) ([]string, error)
	RepairSummaries(ctx context.Context, conversationID string) error
}

// Scheduler periodically brings lagging conversation summaries up to date
type Scheduler struct {
	repairer   SummaryRepairer
	interval   time.Duration
	startDelay time.Duration
	batchSize  int
	logger     *slog.Logger
	stopCh     chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

// Config holds configuration for the summary reconciler
type Config struct {
	Interval   time.Duration
	StartDelay time.Duration
	BatchSize  int
}

// New creates a new summary reconciler
func New(repairer SummaryRepairer, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		repairer:   repairer,
		interval:   cfg.Interval,
		startDelay: cfg.StartDelay,
		batchSize:  cfg.BatchSize,
		logger:     logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("summary reconciler started", "interval", s.interval, "batch_size", s.batchSize)

	s.wg.Add(1)
	go s.run(ctx, stopCh)
}

// Stop stops the scheduler and waits for the current pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	stopCh := s.stopCh
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(stopCh)
	s.wg.Wait()
	s.logger.Info("summary reconciler stopped")
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	select {
	case <-time.After(s.startDelay):
		s.process(ctx)
	case <-stopCh:
		return
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ticker.C:
			s.process(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process repairs one batch of stale conversations
func (s *Scheduler) process(ctx context.Context) int {
	ids, err := s.repairer.GetStaleConversations(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to get stale conversations", "error", err)
		return 0
	}
	if len(ids) == 0 {
		s.logger.Debug("no stale summaries")
		return 0
	}

	s.logger.Info("repairing stale summaries", "count", len(ids))

	repaired := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return repaired
		default:
		}

		if err := s.repairer.RepairSummaries(ctx, id); err != nil {
			s.logger.Error("failed to repair summaries", "conversation_id", id, "error", err)
			continue
		}
		repaired++
	}
	return repaired
}
