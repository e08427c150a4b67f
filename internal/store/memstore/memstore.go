// Package memstore keeps queue entries and result records in process memory.
// It serializes every transaction behind one writer lock and restores a
// snapshot when a transaction fails, which gives the same no-double-lease
// guarantee as row locking. It backs tests and RECEIPTQ_STORE=memory runs.
package memstore

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// ErrInjected is returned by a transaction after FailNextCommit was called.
var ErrInjected = errors.New("memstore: injected commit failure")

// Store implements queue.Store, results.Store and store.Store.
type Store struct {
	mu       sync.RWMutex
	entries  map[int64]models.QueueEntry
	nextID   int64
	results  []models.ResultRecord
	resultID int64
	keys     map[uuid.UUID]models.APIKey
	now      func() time.Time

	failNext error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[int64]models.QueueEntry),
		keys:    make(map[uuid.UUID]models.APIKey),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNextCommit makes the next transaction roll back with err after fn ran.
// A nil err uses ErrInjected.
func (s *Store) FailNextCommit(err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Entry returns a copy of the entry with the given id.
func (s *Store) Entry(id int64) (models.QueueEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of stored entries in any state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) WithPrinterTx(ctx context.Context, _ string, fn func(ctx context.Context, tx queue.Tx) error) error {
	return s.WithTx(ctx, fn)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := maps.Clone(s.entries)
	nextID := s.nextID

	err := fn(ctx, &memTx{s: s})
	if err == nil && s.failNext != nil {
		err, s.failNext = s.failNext, nil
	}
	if err != nil {
		s.entries = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *Store) PeekNext(_ context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.oldest(printerID, leasedAtOrBefore(leasedBefore)); e != nil {
		return e, nil
	}
	return s.oldest(printerID, hasStatus(models.StatusPending)), nil
}

func (s *Store) ListActive(_ context.Context, printerID string) ([]models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.PrinterID == printerID && !e.Status.Terminal() {
			out = append(out, copyEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if !e.Status.Terminal() {
			continue
		}
		at := e.CreatedAt
		if e.ProcessedAt != nil {
			at = *e.ProcessedAt
		}
		if at.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func hasStatus(status models.EntryStatus) func(models.QueueEntry) bool {
	return func(e models.QueueEntry) bool { return e.Status == status }
}

func leasedAtOrBefore(cutoff time.Time) func(models.QueueEntry) bool {
	return func(e models.QueueEntry) bool {
		return e.Status == models.StatusLeased && e.LeasedAt != nil && !e.LeasedAt.After(cutoff)
	}
}

// oldest must be called with s.mu held.
func (s *Store) oldest(printerID string, match func(models.QueueEntry) bool) *models.QueueEntry {
	var best *models.QueueEntry
	for _, e := range s.entries {
		if e.PrinterID != printerID || !match(e) {
			continue
		}
		if best == nil || entryLess(e, *best) {
			c := e
			best = &c
		}
	}
	if best == nil {
		return nil
	}
	c := copyEntry(*best)
	return &c
}

func entryLess(a, b models.QueueEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortEntries(es []models.QueueEntry) {
	sort.Slice(es, func(i, j int) bool { return entryLess(es[i], es[j]) })
}

func copyEntry(e models.QueueEntry) models.QueueEntry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}

// memTx runs with Store.mu held for writing.
type memTx struct {
	s *Store
}

func (t *memTx) CountPending(_ context.Context, printerID string) (int, error) {
	n := 0
	for _, e := range t.s.entries {
		if e.PrinterID == printerID && e.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (t *memTx) OldestPending(_ context.Context, printerID string) (*models.QueueEntry, error) {
	return t.s.oldest(printerID, hasStatus(models.StatusPending)), nil
}

func (t *memTx) OldestLeased(_ context.Context, printerID string, leasedBefore time.Time) (*models.QueueEntry, error) {
	return t.s.oldest(printerID, leasedAtOrBefore(leasedBefore)), nil
}

func (t *memTx) EntryForUpdate(_ context.Context, id int64) (*models.QueueEntry, error) {
	e, ok := t.s.entries[id]
	if !ok {
		return nil, nil
	}
	c := copyEntry(e)
	return &c, nil
}

func (t *memTx) Insert(_ context.Context, e *models.QueueEntry) error {
	t.s.nextID++
	e.ID = t.s.nextID
	e.CreatedAt = t.s.now()
	t.s.entries[e.ID] = copyEntry(*e)
	return nil
}

func (t *memTx) PendingRank(_ context.Context, printerID string, id int64) (int, error) {
	n := 0
	for _, e := range t.s.entries {
		if e.PrinterID == printerID && e.Status == models.StatusPending && e.ID <= id {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MarkLeased(_ context.Context, id int64, at time.Time) error {
	e, ok := t.s.entries[id]
	if !ok {
		return errors.New("memstore: entry not found")
	}
	e.Status = models.StatusLeased
	e.LeasedAt = &at
	t.s.entries[id] = e
	return nil
}

func (t *memTx) MarkTerminal(_ context.Context, id int64, status models.EntryStatus, errMsg *string, at time.Time) error {
	e, ok := t.s.entries[id]
	if !ok {
		return errors.New("memstore: entry not found")
	}
	e.Status = status
	e.ProcessedAt = &at
	if errMsg != nil {
		msg := *errMsg
		e.ErrorMessage = &msg
	}
	t.s.entries[id] = e
	return nil
}

func (t *memTx) Delete(_ context.Context, id int64) error {
	delete(t.s.entries, id)
	return nil
}

func (t *memTx) DeletePending(_ context.Context, printerID string) (int64, error) {
	var n int64
	for id, e := range t.s.entries {
		if e.PrinterID == printerID && e.Status == models.StatusPending {
			delete(t.s.entries, id)
			n++
		}
	}
	return n, nil
}

var _ queue.Store = (*Store)(nil)
