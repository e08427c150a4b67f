package queue

import (
	"context"
	"time"

	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// Store is the persistence contract the Engine runs on.
// All cross-request coordination happens here; the Engine keeps no locks of its own.
type Store interface {
	// WithPrinterTx runs fn in a transaction serialized against every other
	// WithPrinterTx call for the same printer. Other printers are not blocked.
	// If fn returns an error nothing it did is kept.
	WithPrinterTx(ctx context.Context, printerID string, fn func(ctx context.Context, tx Tx) error) error
	// WithTx runs fn in a transaction that only relies on row locks.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// PeekNext returns the oldest entry leased at or before leasedBefore, else
	// the oldest pending one, without locking. Returns nil when there is none.
	PeekNext(ctx context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error)
	// ListActive returns pending and leased entries oldest first.
	ListActive(ctx context.Context, printerID string) ([]models.QueueEntry, error)
	// DeleteTerminalBefore removes completed and failed entries processed before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx exposes the row operations available inside a transaction.
// Every read that returns an entry locks that row until the transaction ends.
// Reads return nil, nil when no row matches.
type Tx interface {
	CountPending(ctx context.Context, printerID string) (int, error)
	OldestPending(ctx context.Context, printerID string) (*models.QueueEntry, error)
	// OldestLeased only considers entries leased at or before leasedBefore.
	OldestLeased(ctx context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error)
	EntryForUpdate(ctx context.Context, id int64) (*models.QueueEntry, error)

	// Insert stores e and sets its ID and CreatedAt.
	Insert(ctx context.Context, e *models.QueueEntry) error
	// PendingRank counts pending entries of the printer with id <= id.
	PendingRank(ctx context.Context, printerID string, id int64) (int, error)
	MarkLeased(ctx context.Context, id int64, at time.Time) error
	MarkTerminal(ctx context.Context, id int64, status models.EntryStatus, errMsg *string, at time.Time) error
	Delete(ctx context.Context, id int64) error
	DeletePending(ctx context.Context, printerID string) (int64, error)
}
