// Package results keeps the append-only record of delivery outcomes
// reported by printers.
package results

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists result records.
type Store interface {
	AppendResult(ctx context.Context, rec *models.ResultRecord) error
	ListResults(ctx context.Context, printerID string, limit int) ([]models.ResultRecord, error)
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Log is the Result Log. It is the only writer of result records.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates a Log backed by s.
func NewLog(s Store) *Log {
	return &Log{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends rec. The printer id is sanitized the same way the queue does it.
func (l *Log) Record(ctx context.Context, rec models.ResultRecord) error {
	pid, err := queue.SanitizePrinterID(rec.PrinterID)
	if err != nil {
		return err
	}
	rec.PrinterID = pid
	rec.CreatedAt = l.now()

	if err := l.store.AppendResult(ctx, &rec); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	telemetry.ResultsRecorded.WithLabelValues(rec.Protocol, outcome(rec.Success)).Inc()
	return nil
}

// List returns the newest records of a printer.
func (l *Log) List(ctx context.Context, printerID string, limit int) ([]models.ResultRecord, error) {
	pid, err := queue.SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	recs, err := l.store.ListResults(ctx, pid, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return recs, nil
}

// Prune deletes records older than maxAgeDays.
func (l *Log) Prune(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("%w: max age must be non-negative, got %d", queue.ErrValidation, maxAgeDays)
	}
	cutoff := l.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	n, err := l.store.DeleteResultsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return n, nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
