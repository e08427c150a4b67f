// Package retention runs the periodic sweep that deletes finished queue
// entries and old result records.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/robfig/cron/v3"
)

// ErrSweepRunning is returned by RunOnce when another sweep has not finished.
var ErrSweepRunning = errors.New("retention sweep already running")

// QueueSweeper deletes terminal queue entries.
type QueueSweeper interface {
	SweepExpired(ctx context.Context, maxAgeDays int) (int64, error)
}

// ResultPruner deletes old result records.
type ResultPruner interface {
	Prune(ctx context.Context, maxAgeDays int) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	RetentionDays  int       `json:"retention_days"`
	EntriesDeleted int64     `json:"entries_deleted"`
	ResultsDeleted int64     `json:"results_deleted"`
	RanAt          time.Time `json:"ran_at"`
}

// Scheduler runs RunOnce on a cron schedule.
type Scheduler struct {
	queue   QueueSweeper
	results ResultPruner
	days    int
	timeout time.Duration
	now     func() time.Time

	cron    *cron.Cron
	running sync.Mutex
}

// New creates a Scheduler keeping maxAgeDays of history.
func New(q QueueSweeper, r ResultPruner, maxAgeDays int) *Scheduler {
	return &Scheduler{
		queue:   q,
		results: r,
		days:    maxAgeDays,
		timeout: 5 * time.Minute,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep with a robfig/cron spec such as "@every 1h" or
// "0 3 * * *" and starts the cron runner.
func (s *Scheduler) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("retention sweep scheduled", "schedule", spec, "retention_days", s.days)
	return nil
}

// Stop halts the cron runner and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("retention sweep did not finish before shutdown")
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rep, err := s.RunOnce(ctx)
	if errors.Is(err, ErrSweepRunning) {
		slog.Debug("retention sweep skipped, previous run still active")
		return
	}
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	slog.Info("retention sweep finished",
		"entries_deleted", rep.EntriesDeleted,
		"results_deleted", rep.ResultsDeleted,
	)
}

// RunOnce sweeps queue entries then result records. Overlapping calls return
// ErrSweepRunning instead of waiting.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepRunning
	}
	defer s.running.Unlock()

	rep := &Report{RetentionDays: s.days, RanAt: s.now()}

	n, err := s.queue.SweepExpired(ctx, s.days)
	if err != nil {
		return nil, fmt.Errorf("sweep queue entries: %w", err)
	}
	rep.EntriesDeleted = n
	telemetry.SweptRows.WithLabelValues("queue_entries").Add(float64(n))

	n, err = s.results.Prune(ctx, s.days)
	if err != nil {
		return rep, fmt.Errorf("prune results: %w", err)
	}
	rep.ResultsDeleted = n
	telemetry.SweptRows.WithLabelValues("print_results").Add(float64(n))

	return rep, nil
}
