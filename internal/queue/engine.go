// Package queue implements the per-printer bounded print queue: enqueue with
// overflow eviction, leasing for delivery, acknowledgement and housekeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

const (
	// DefaultMaxDepth is the number of pending entries a printer may hold.
	DefaultMaxDepth = 10
	// DefaultLeaseRecovery is how long a lease must sit unacknowledged before
	// LeaseNext hands the entry out again.
	DefaultLeaseRecovery = 30 * time.Second
)

// EnqueueResult describes where a new entry landed.
type EnqueueResult struct {
	EntryID   int64  `json:"entry_id"`
	PrinterID string `json:"printer_id"`
	JobID     string `json:"job_id"`
	// Position is the 1-based rank among pending entries by id, not by timestamp.
	Position int `json:"position"`
	Depth    int `json:"depth"`
	// Discarded is set when older pending entries were evicted to make room.
	// DiscardedJobID holds the job id of the last one evicted.
	Discarded      bool   `json:"discarded"`
	DiscardedJobID string `json:"discarded_job_id,omitempty"`
}

// Job is an entry handed to a delivery path.
type Job struct {
	models.QueueEntry
	// Redelivered is true when the entry was already leased (or finished)
	// before this call, i.e. the printer is fetching it again.
	Redelivered bool `json:"redelivered"`
}

// Status is a snapshot of one printer's queue.
type Status struct {
	PrinterID    string              `json:"printer_id"`
	PendingCount int                 `json:"pending_count"`
	LeasedCount  int                 `json:"leased_count"`
	MaxDepth     int                 `json:"max_depth"`
	Entries      []models.QueueEntry `json:"entries"`
}

// Engine is the only component that mutates queue entries.
type Engine struct {
	store         Store
	maxDepth      int
	leaseRecovery time.Duration
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxDepth = n
		}
	}
}

// WithLeaseRecovery overrides DefaultLeaseRecovery. Zero makes every leased
// entry eligible again at once. Negative values are ignored.
func WithLeaseRecovery(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.leaseRecovery = d
		}
	}
}

// WithClock overrides the time source used for lease and ack stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine on top of s.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		maxDepth:      DefaultMaxDepth,
		leaseRecovery: DefaultLeaseRecovery,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDepth returns the configured pending limit per printer.
func (e *Engine) MaxDepth() int { return e.maxDepth }

// LeaseRecovery returns the configured stale-lease window.
func (e *Engine) LeaseRecovery() time.Duration { return e.leaseRecovery }

func (e *Engine) staleBefore() time.Time { return e.now().Add(-e.leaseRecovery) }

// Enqueue appends payload to the printer's queue. When the queue is full the
// oldest pending entries are evicted first. The whole operation is atomic.
func (e *Engine) Enqueue(ctx context.Context, printerID string, payload []byte, jobID string) (*EnqueueResult, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrValidation)
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	res := &EnqueueResult{PrinterID: pid, JobID: jobID}
	err = e.store.WithPrinterTx(ctx, pid, func(ctx context.Context, tx Tx) error {
		// Reset in case the store retries fn.
		res.Discarded, res.DiscardedJobID = false, ""

		count, err := tx.CountPending(ctx, pid)
		if err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		for count >= e.maxDepth {
			oldest, err := tx.OldestPending(ctx, pid)
			if err != nil {
				return fmt.Errorf("select oldest pending: %w", err)
			}
			if oldest == nil {
				break
			}
			if err := tx.Delete(ctx, oldest.ID); err != nil {
				return fmt.Errorf("evict entry %d: %w", oldest.ID, err)
			}
			res.Discarded = true
			res.DiscardedJobID = oldest.JobID
			count--
		}

		entry := &models.QueueEntry{
			PrinterID: pid,
			JobID:     jobID,
			Payload:   payload,
			Status:    models.StatusPending,
		}
		if err := tx.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		res.EntryID = entry.ID

		if res.Position, err = tx.PendingRank(ctx, pid, entry.ID); err != nil {
			return fmt.Errorf("rank entry: %w", err)
		}
		if res.Depth, err = tx.CountPending(ctx, pid); err != nil {
			return fmt.Errorf("count pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("enqueue", err)
	}
	return res, nil
}

// LeaseNext claims the next entry for delivery. A lease left unacknowledged
// for longer than the recovery window wins over pending entries, so a printer
// that crashed mid-delivery gets the same job again; it is re-stamped and
// marked Redelivered. Fresher leases are skipped, so concurrent callers never
// receive the same entry. Returns nil when there is nothing to deliver.
func (e *Engine) LeaseNext(ctx context.Context, printerID string) (*Job, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}

	var job *Job
	err = e.store.WithPrinterTx(ctx, pid, func(ctx context.Context, tx Tx) error {
		job = nil
		stale, err := tx.OldestLeased(ctx, pid, e.staleBefore())
		if err != nil {
			return fmt.Errorf("select leased: %w", err)
		}
		if stale != nil {
			job, err = e.lease(ctx, tx, stale)
			if job != nil {
				job.Redelivered = true
			}
			return err
		}

		pending, err := tx.OldestPending(ctx, pid)
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}
		if pending == nil {
			return nil
		}
		job, err = e.lease(ctx, tx, pending)
		return err
	})
	if err != nil {
		return nil, storeErr("lease next", err)
	}
	return job, nil
}

// LeaseSpecific claims the entry with the given id if it belongs to the
// printer. Entries that are already leased or finished are returned as they
// are, marked Redelivered, so duplicate fetches still receive the content.
func (e *Engine) LeaseSpecific(ctx context.Context, printerID string, entryID int64) (*Job, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}

	var job *Job
	err = e.store.WithPrinterTx(ctx, pid, func(ctx context.Context, tx Tx) error {
		job = nil
		entry, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("select entry %d: %w", entryID, err)
		}
		if entry == nil || entry.PrinterID != pid {
			return nil
		}
		if entry.Status != models.StatusPending {
			job = &Job{QueueEntry: *entry, Redelivered: true}
			return nil
		}
		job, err = e.lease(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, storeErr("lease entry", err)
	}
	return job, nil
}

func (e *Engine) lease(ctx context.Context, tx Tx, entry *models.QueueEntry) (*Job, error) {
	now := e.now()
	if err := tx.MarkLeased(ctx, entry.ID, now); err != nil {
		return nil, fmt.Errorf("lease entry %d: %w", entry.ID, err)
	}
	leased := *entry
	leased.Status = models.StatusLeased
	leased.LeasedAt = &now
	return &Job{QueueEntry: leased}, nil
}

// PeekNext reports the entry LeaseNext would return, without locking or
// changing anything. The answer may be stale by the time the caller leases.
func (e *Engine) PeekNext(ctx context.Context, printerID string) (*models.QueueEntry, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}
	entry, err := e.store.PeekNext(ctx, pid, e.staleBefore())
	if err != nil {
		return nil, storeErr("peek", err)
	}
	return entry, nil
}

// Acknowledge moves an entry to completed or failed. It returns false when
// the entry does not exist or is already terminal; nothing is changed then.
func (e *Engine) Acknowledge(ctx context.Context, entryID int64, success bool, errMsg string) (bool, error) {
	return e.acknowledge(ctx, "", entryID, success, errMsg)
}

// AcknowledgeFor is Acknowledge restricted to the printer's own entries.
// A missing entry or one owned by another printer yields ErrNotFound.
// An entry that is already terminal returns false.
func (e *Engine) AcknowledgeFor(ctx context.Context, printerID string, entryID int64, success bool, errMsg string) (bool, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return false, err
	}
	return e.acknowledge(ctx, pid, entryID, success, errMsg)
}

// acknowledge checks ownership only when printerID is set.
func (e *Engine) acknowledge(ctx context.Context, printerID string, entryID int64, success bool, errMsg string) (bool, error) {
	var acked bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acked = false
		entry, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("select entry %d: %w", entryID, err)
		}
		if printerID != "" && (entry == nil || entry.PrinterID != printerID) {
			return fmt.Errorf("%w: entry %d for printer %s", ErrNotFound, entryID, printerID)
		}
		if entry == nil || entry.Status.Terminal() {
			return nil
		}

		status := models.StatusCompleted
		var msg *string
		if !success {
			status = models.StatusFailed
			if errMsg != "" {
				msg = &errMsg
			}
		}
		if err := tx.MarkTerminal(ctx, entryID, status, msg, e.now()); err != nil {
			return fmt.Errorf("finish entry %d: %w", entryID, err)
		}
		acked = true
		return nil
	})
	if err != nil {
		return false, storeErr("acknowledge", err)
	}
	return acked, nil
}

// Delete removes a single entry regardless of its state.
func (e *Engine) Delete(ctx context.Context, entryID int64) (bool, error) {
	var deleted bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		deleted = false
		entry, err := tx.EntryForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("select entry %d: %w", entryID, err)
		}
		if entry == nil {
			return nil
		}
		if err := tx.Delete(ctx, entryID); err != nil {
			return fmt.Errorf("delete entry %d: %w", entryID, err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, storeErr("delete", err)
	}
	return deleted, nil
}

// ClearPending drops every pending entry of the printer.
func (e *Engine) ClearPending(ctx context.Context, printerID string) (int64, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.store.WithPrinterTx(ctx, pid, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.DeletePending(ctx, pid)
		return err
	})
	if err != nil {
		return 0, storeErr("clear pending", err)
	}
	return n, nil
}

// Status returns the printer's pending and leased entries.
func (e *Engine) Status(ctx context.Context, printerID string) (*Status, error) {
	pid, err := SanitizePrinterID(printerID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListActive(ctx, pid)
	if err != nil {
		return nil, storeErr("status", err)
	}

	st := &Status{
		PrinterID: pid,
		MaxDepth:  e.maxDepth,
		Entries:   make([]models.QueueEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		switch entry.Status {
		case models.StatusPending:
			st.PendingCount++
		case models.StatusLeased:
			st.LeasedCount++
		}
		st.Entries = append(st.Entries, entry)
	}
	return st, nil
}

// SweepExpired deletes completed and failed entries older than maxAgeDays.
// It never touches pending or leased rows, so it is safe to run at any time.
func (e *Engine) SweepExpired(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("%w: max age must be non-negative, got %d", ErrValidation, maxAgeDays)
	}
	cutoff := e.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	n, err := e.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, storeErr("sweep", err)
	}
	return n, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
