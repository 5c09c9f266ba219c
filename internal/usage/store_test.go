package usage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Record(ctx, Entry{Channel: "api", MessageCount: 1, Outcome: OutcomeSuccess, LatencyMs: 100})
	s.Record(ctx, Entry{Channel: "api", MessageCount: 3, Outcome: OutcomeSuccess, LatencyMs: 300})
	s.Record(ctx, Entry{Channel: "telegram", MessageCount: 2, Outcome: OutcomeRateLimited, LatencyMs: 50})

	sum, err := s.Summarize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 {
		t.Errorf("total: got %d", sum.Total)
	}
	if sum.ByOutcome[OutcomeSuccess] != 2 {
		t.Errorf("success count: got %d", sum.ByOutcome[OutcomeSuccess])
	}
	if sum.ByOutcome[OutcomeRateLimited] != 1 {
		t.Errorf("rate limited count: got %d", sum.ByOutcome[OutcomeRateLimited])
	}
	if sum.ByChannel["api"] != 2 || sum.ByChannel["telegram"] != 1 {
		t.Errorf("channel counts: %v", sum.ByChannel)
	}
	if sum.AvgLatencyMs != 150 {
		t.Errorf("avg latency: got %f", sum.AvgLatencyMs)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.Summarize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 0 || sum.AvgLatencyMs != 0 {
		t.Errorf("empty summary: %+v", sum)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Record(ctx, Entry{Channel: "api", Outcome: OutcomeSuccess, CreatedAt: time.Now().AddDate(0, 0, -40)})
	s.Record(ctx, Entry{Channel: "api", Outcome: OutcomeSuccess, CreatedAt: time.Now()})

	n, err := s.Prune(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d", n)
	}

	sum, err := s.Summarize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 1 {
		t.Errorf("remaining: got %d", sum.Total)
	}
}

func TestPrune_DisabledRetention(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Prune(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no-op, pruned %d", n)
	}
}
