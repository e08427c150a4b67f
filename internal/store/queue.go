package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// --- Queue Entries ---

const entryColumns = `id, printer_id, job_id, payload, status, created_at, leased_at, processed_at, error_message`

// WithPrinterTx serializes transactions per printer with a transaction-scoped
// advisory lock. Row reads inside fn additionally take FOR UPDATE locks.
func (s *PostgresStore) WithPrinterTx(ctx context.Context, printerID string, fn func(ctx context.Context, tx queue.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, printerID); err != nil {
			return fmt.Errorf("lock printer queue: %w", err)
		}
		return fn(ctx, &pgQueueTx{tx: tx})
	})
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &pgQueueTx{tx: tx})
	})
}

func (s *PostgresStore) PeekNext(ctx context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE printer_id = $1
		   AND (status = 'pending' OR (status = 'leased' AND leased_at <= $2))
		 ORDER BY (status = 'leased') DESC, created_at, id LIMIT 1`, printerID, leasedBefore))
	if err != nil {
		return nil, fmt.Errorf("peek next entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, printerID string) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE printer_id = $1 AND status IN ('pending', 'leased')
		 ORDER BY created_at, id`, printerID)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_entries
		 WHERE status IN ('completed', 'failed') AND COALESCE(processed_at, created_at) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// pgQueueTx implements queue.Tx on an open pgx transaction.
type pgQueueTx struct {
	tx pgx.Tx
}

func (t *pgQueueTx) CountPending(ctx context.Context, printerID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE printer_id = $1 AND status = 'pending'`, printerID).Scan(&n)
	return n, err
}

func (t *pgQueueTx) OldestPending(ctx context.Context, printerID string) (*models.QueueEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE printer_id = $1 AND status = 'pending'
		 ORDER BY created_at, id LIMIT 1
		 FOR UPDATE`, printerID))
}

func (t *pgQueueTx) OldestLeased(ctx context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries
		 WHERE printer_id = $1 AND status = 'leased' AND leased_at <= $2
		 ORDER BY created_at, id LIMIT 1
		 FOR UPDATE`, printerID, leasedBefore))
}

func (t *pgQueueTx) EntryForUpdate(ctx context.Context, id int64) (*models.QueueEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgQueueTx) Insert(ctx context.Context, e *models.QueueEntry) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO queue_entries (printer_id, job_id, payload, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.PrinterID, e.JobID, e.Payload, string(e.Status),
	).Scan(&e.ID, &e.CreatedAt)
}

func (t *pgQueueTx) PendingRank(ctx context.Context, printerID string, id int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE printer_id = $1 AND status = 'pending' AND id <= $2`,
		printerID, id).Scan(&n)
	return n, err
}

func (t *pgQueueTx) MarkLeased(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE queue_entries SET status = 'leased', leased_at = $2 WHERE id = $1`, id, at)
	return err
}

func (t *pgQueueTx) MarkTerminal(ctx context.Context, id int64, status models.EntryStatus, errMsg *string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE queue_entries SET status = $2, processed_at = $3, error_message = COALESCE($4, error_message)
		 WHERE id = $1`, id, string(status), at, errMsg)
	return err
}

func (t *pgQueueTx) Delete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	return err
}

func (t *pgQueueTx) DeletePending(ctx context.Context, printerID string) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM queue_entries WHERE printer_id = $1 AND status = 'pending'`, printerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var status string
	err := row.Scan(&e.ID, &e.PrinterID, &e.JobID, &e.Payload, &status,
		&e.CreatedAt, &e.LeasedAt, &e.ProcessedAt, &e.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = models.EntryStatus(status)
	return &e, nil
}

var _ queue.Store = (*PostgresStore)(nil)
