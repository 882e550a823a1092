package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeRepairer struct {
	mu       sync.Mutex
	stale    []string
	failing  map[string]bool
	repaired []string
	staleErr error
}

func (f *fakeRepairer) GetStaleConversations(ctx context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleErr != nil {
		return nil, f.staleErr
	}
	if limit > 0 && len(f.stale) > limit {
		return append([]string(nil), f.stale[:limit]...), nil
	}
	return append([]string(nil), f.stale...), nil
}

func (f *fakeRepairer) RepairSummaries(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[conversationID] {
		return errors.New("refresh failed")
	}
	f.repaired = append(f.repaired, conversationID)
	for i, id := range f.stale {
		if id == conversationID {
			f.stale = append(f.stale[:i], f.stale[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRepairer) repairedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.repaired)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessRepairsBatch(t *testing.T) {
	r := &fakeRepairer{
		stale:   []string{"c1", "c2", "c3"},
		failing: map[string]bool{"c2": true},
	}
	s := New(r, Config{BatchSize: 2}, quietLogger())

	if got := s.process(context.Background()); got != 1 {
		t.Errorf("expected 1 repaired in first batch, got %d", got)
	}
	if got := s.process(context.Background()); got != 1 {
		t.Errorf("expected 1 repaired in second batch, got %d", got)
	}
	if len(r.repaired) != 2 || r.repaired[0] != "c1" || r.repaired[1] != "c3" {
		t.Errorf("unexpected repair order: %v", r.repaired)
	}
}

func TestProcessStaleLookupError(t *testing.T) {
	r := &fakeRepairer{staleErr: errors.New("db down")}
	s := New(r, Config{}, quietLogger())

	if got := s.process(context.Background()); got != 0 {
		t.Errorf("expected nothing repaired, got %d", got)
	}
}

func TestStartStop(t *testing.T) {
	r := &fakeRepairer{stale: []string{"c1"}}
	s := New(r, Config{Interval: 10 * time.Millisecond}, quietLogger())

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for r.repairedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	s.Stop()

	if r.repairedCount() != 1 {
		t.Errorf("expected one repair, got %d", r.repairedCount())
	}
}

func TestRestart(t *testing.T) {
	r := &fakeRepairer{stale: []string{"c1"}}
	s := New(r, Config{Interval: 10 * time.Millisecond}, quietLogger())

	s.Start(context.Background())
	s.Stop()

	r.mu.Lock()
	r.stale = append(r.stale, "c2")
	r.mu.Unlock()

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for r.repairedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if r.repairedCount() != 2 {
		t.Errorf("expected both conversations repaired across restarts, got %d", r.repairedCount())
	}
}
