package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/store/memstore"
	"github.com/kiranshivaraju/receiptq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts ...queue.Option) (*queue.Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return queue.NewEngine(st, opts...), st
}

func enqueue(t *testing.T, e *queue.Engine, printerID, jobID string) *queue.EnqueueResult {
	t.Helper()
	res, err := e.Enqueue(context.Background(), printerID, []byte("payload "+jobID), jobID)
	require.NoError(t, err)
	return res
}

// --- SanitizePrinterID ---

func TestSanitizePrinterID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"front", "front"},
		{"Front_Till-2.local", "Front_Till-2.local"},
		{"front till", "fronttill"},
		{"../etc/passwd", "..etcpasswd"},
		{"ké-01", "k-01"},
	}
	for _, tt := range tests {
		got, err := queue.SanitizePrinterID(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSanitizePrinterID_Rejects(t *testing.T) {
	for _, in := range []string{"", "   ", "!!!", strings.Repeat("a", 65)} {
		_, err := queue.SanitizePrinterID(in)
		assert.ErrorIs(t, err, queue.ErrValidation, "%q", in)
	}
	_, err := queue.SanitizePrinterID(strings.Repeat("a", 64))
	assert.NoError(t, err)
}

// --- Enqueue ---

func TestEnqueue_EmptyQueue(t *testing.T) {
	e, _ := newEngine(t)

	res := enqueue(t, e, "front", "J1")
	assert.Equal(t, "front", res.PrinterID)
	assert.Equal(t, "J1", res.JobID)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 1, res.Depth)
	assert.False(t, res.Discarded)
	assert.Empty(t, res.DiscardedJobID)
}

func TestEnqueue_GeneratesJobID(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Enqueue(context.Background(), "front", []byte("x"), "")
	require.NoError(t, err)
	assert.Len(t, res.JobID, 36)
}

func TestEnqueue_SanitizesPrinterID(t *testing.T) {
	e, st := newEngine(t)

	res, err := e.Enqueue(context.Background(), "front till", []byte("x"), "a")
	require.NoError(t, err)
	assert.Equal(t, "fronttill", res.PrinterID)

	entry, ok := st.Entry(res.EntryID)
	require.True(t, ok)
	assert.Equal(t, "fronttill", entry.PrinterID)
}

func TestEnqueue_Validation(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	_, err := e.Enqueue(ctx, "!!!", []byte("x"), "a")
	assert.ErrorIs(t, err, queue.ErrValidation)

	_, err = e.Enqueue(ctx, "front", nil, "a")
	assert.ErrorIs(t, err, queue.ErrValidation)

	assert.Equal(t, 0, st.Len())
}

func TestEnqueue_EvictionScenario(t *testing.T) {
	e, _ := newEngine(t)

	for i := 1; i <= 10; i++ {
		res := enqueue(t, e, "front", fmt.Sprintf("J%d", i))
		assert.Equal(t, i, res.Position)
		assert.Equal(t, i, res.Depth)
		assert.False(t, res.Discarded)
	}

	res := enqueue(t, e, "front", "J11")
	assert.True(t, res.Discarded)
	assert.Equal(t, "J1", res.DiscardedJobID)
	assert.Equal(t, 10, res.Depth)
	assert.Equal(t, 10, res.Position)

	st, err := e.Status(context.Background(), "front")
	require.NoError(t, err)
	require.Len(t, st.Entries, 10)
	for i, entry := range st.Entries {
		assert.Equal(t, fmt.Sprintf("J%d", i+2), entry.JobID)
	}
}

func TestEnqueue_LeasedEntriesDoNotCountTowardDepth(t *testing.T) {
	e, _ := newEngine(t, queue.WithMaxDepth(2))
	ctx := context.Background()

	enqueue(t, e, "front", "a")
	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	enqueue(t, e, "front", "b")
	res := enqueue(t, e, "front", "c")
	assert.False(t, res.Discarded)
	assert.Equal(t, 2, res.Depth)

	res = enqueue(t, e, "front", "d")
	assert.True(t, res.Discarded)
	assert.Equal(t, "b", res.DiscardedJobID)

	st, err := e.Status(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, 1, st.LeasedCount)
	assert.Equal(t, 2, st.PendingCount)
}

func TestEnqueue_StoreFailureRollsBack(t *testing.T) {
	e, st := newEngine(t, queue.WithMaxDepth(1))
	enqueue(t, e, "front", "a")

	st.FailNextCommit(nil)
	_, err := e.Enqueue(context.Background(), "front", []byte("b"), "b")
	require.ErrorIs(t, err, queue.ErrStore)
	assert.ErrorIs(t, err, memstore.ErrInjected)

	status, err := e.Status(context.Background(), "front")
	require.NoError(t, err)
	require.Len(t, status.Entries, 1)
	assert.Equal(t, "a", status.Entries[0].JobID, "evicted entry is restored")
}

func TestWithMaxDepth_IgnoresInvalid(t *testing.T) {
	e, _ := newEngine(t, queue.WithMaxDepth(0))
	assert.Equal(t, queue.DefaultMaxDepth, e.MaxDepth())

	e, _ = newEngine(t, queue.WithMaxDepth(3))
	assert.Equal(t, 3, e.MaxDepth())
}

// --- Lease ---

func TestLeaseNext_EmptyQueue(t *testing.T) {
	e, _ := newEngine(t)

	job, err := e.LeaseNext(context.Background(), "front")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestLeaseNext_FIFOAndRoundTrip(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, _ := newEngine(t, queue.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	payload := []byte{0x1b, '@', 0x00, 0xff, '\n'}
	first, err := e.Enqueue(ctx, "front", payload, "first")
	require.NoError(t, err)
	enqueue(t, e, "front", "second")

	job, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.EntryID, job.ID)
	assert.Equal(t, payload, job.Payload)
	assert.Equal(t, models.StatusLeased, job.Status)
	require.NotNil(t, job.LeasedAt)
	assert.Equal(t, clock, *job.LeasedAt)
	assert.False(t, job.Redelivered)
}

func TestLeaseNext_FreshLeaseFallsThroughToNextPending(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	a := enqueue(t, e, "front", "a")
	b := enqueue(t, e, "front", "b")

	first, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, a.EntryID, first.ID)

	second, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, b.EntryID, second.ID)
	assert.False(t, second.Redelivered)

	third, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestLeaseNext_RecoversStaleLease(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, st := newEngine(t,
		queue.WithClock(func() time.Time { return clock }),
		queue.WithLeaseRecovery(time.Minute),
	)
	ctx := context.Background()

	a := enqueue(t, e, "front", "a")
	enqueue(t, e, "front", "b")

	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	job, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, a.EntryID, job.ID)
	assert.True(t, job.Redelivered)
	assert.Equal(t, clock, *job.LeasedAt)

	stored, _ := st.Entry(a.EntryID)
	assert.Equal(t, clock, *stored.LeasedAt, "recovery renews the lease")

	st2, err := e.Status(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, 1, st2.LeasedCount)
	assert.Equal(t, 1, st2.PendingCount)

	next, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.JobID, "a renewed lease is not handed out again")
}

func TestLeaseNext_ZeroRecoveryRedeliversAtOnce(t *testing.T) {
	e, _ := newEngine(t, queue.WithLeaseRecovery(0))
	ctx := context.Background()
	a := enqueue(t, e, "front", "a")

	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	job, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, a.EntryID, job.ID)
	assert.True(t, job.Redelivered)
}

func TestWithLeaseRecovery_IgnoresNegative(t *testing.T) {
	e, _ := newEngine(t, queue.WithLeaseRecovery(-time.Second))
	assert.Equal(t, queue.DefaultLeaseRecovery, e.LeaseRecovery())
}

func TestLeaseNext_ConcurrentCallersNeverShareAnEntry(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	const entries, workers = 4, 32
	for i := 0; i < entries; i++ {
		enqueue(t, e, "front", fmt.Sprintf("job-%d", i))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[int64]int{}
		empty int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := e.LeaseNext(ctx, "front")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if job == nil {
				empty++
				return
			}
			assert.False(t, job.Redelivered)
			seen[job.ID]++
		}()
	}
	wg.Wait()

	assert.Len(t, seen, entries)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %d", id)
	}
	assert.Equal(t, workers-entries, empty)
}

func TestLeaseNext_StoreFailureLeavesPending(t *testing.T) {
	e, st := newEngine(t)
	res := enqueue(t, e, "front", "a")

	st.FailNextCommit(errors.New("connection reset"))
	_, err := e.LeaseNext(context.Background(), "front")
	require.ErrorIs(t, err, queue.ErrStore)

	entry, ok := st.Entry(res.EntryID)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, entry.Status)
	assert.Nil(t, entry.LeasedAt)
}

func TestLeaseSpecific(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	enqueue(t, e, "front", "a")
	b := enqueue(t, e, "front", "b")

	job, err := e.LeaseSpecific(ctx, "front", b.EntryID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "b", job.JobID)
	assert.False(t, job.Redelivered)

	again, err := e.LeaseSpecific(ctx, "front", b.EntryID)
	require.NoError(t, err)
	assert.True(t, again.Redelivered)

	other, err := e.LeaseSpecific(ctx, "back", b.EntryID)
	require.NoError(t, err)
	assert.Nil(t, other, "entries of another printer are invisible")

	missing, err := e.LeaseSpecific(ctx, "front", 424242)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLeaseSpecific_TerminalEntryIsRedelivered(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	res := enqueue(t, e, "front", "a")

	_, err := e.Acknowledge(ctx, res.EntryID, true, "")
	require.NoError(t, err)

	job, err := e.LeaseSpecific(ctx, "front", res.EntryID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.Redelivered)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

// --- Peek ---

func TestPeekNext_NeverMutates(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	res := enqueue(t, e, "front", "a")

	for i := 0; i < 3; i++ {
		entry, err := e.PeekNext(ctx, "front")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, res.EntryID, entry.ID)
	}

	stored, _ := st.Entry(res.EntryID)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.LeasedAt)
}

func TestPeekNext_MatchesLeaseOrder(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, _ := newEngine(t,
		queue.WithClock(func() time.Time { return clock }),
		queue.WithLeaseRecovery(time.Minute),
	)
	ctx := context.Background()
	a := enqueue(t, e, "front", "a")
	b := enqueue(t, e, "front", "b")

	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	entry, err := e.PeekNext(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, b.EntryID, entry.ID, "a fresh lease is skipped")

	clock = clock.Add(2 * time.Minute)
	entry, err = e.PeekNext(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, a.EntryID, entry.ID, "a stale lease comes first")

	empty, err := e.PeekNext(ctx, "back")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

// --- Acknowledge ---

func TestAcknowledge_SuccessAndFailure(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	ok := enqueue(t, e, "front", "ok")
	bad := enqueue(t, e, "front", "bad")

	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	acked, err := e.Acknowledge(ctx, ok.EntryID, true, "ignored")
	require.NoError(t, err)
	assert.True(t, acked)

	acked, err = e.Acknowledge(ctx, bad.EntryID, false, "paper out")
	require.NoError(t, err)
	assert.True(t, acked, "pending entries can be acknowledged")

	done, _ := st.Entry(ok.EntryID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Nil(t, done.ErrorMessage)
	assert.NotNil(t, done.ProcessedAt)

	failed, _ := st.Entry(bad.EntryID)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "paper out", *failed.ErrorMessage)
}

func TestAcknowledge_CompletedStaysUnchanged(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, st := newEngine(t, queue.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	res := enqueue(t, e, "front", "a")

	acked, err := e.Acknowledge(ctx, res.EntryID, true, "")
	require.NoError(t, err)
	require.True(t, acked)

	clock = clock.Add(time.Hour)
	acked, err = e.Acknowledge(ctx, res.EntryID, false, "late")
	require.NoError(t, err)
	assert.False(t, acked)

	entry, _ := st.Entry(res.EntryID)
	assert.Equal(t, models.StatusCompleted, entry.Status)
	assert.Equal(t, clock.Add(-time.Hour), *entry.ProcessedAt)
	assert.Nil(t, entry.ErrorMessage)
}

func TestAcknowledge_Missing(t *testing.T) {
	e, _ := newEngine(t)

	acked, err := e.Acknowledge(context.Background(), 7, true, "")
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestAcknowledgeFor_ScopedToPrinter(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	res := enqueue(t, e, "front", "a")

	acked, err := e.AcknowledgeFor(ctx, "back", res.EntryID, true, "")
	require.ErrorIs(t, err, queue.ErrNotFound)
	assert.False(t, acked)

	entry, _ := st.Entry(res.EntryID)
	assert.Equal(t, models.StatusPending, entry.Status, "a foreign ack changes nothing")

	_, err = e.AcknowledgeFor(ctx, "front", 424242, true, "")
	require.ErrorIs(t, err, queue.ErrNotFound)

	acked, err = e.AcknowledgeFor(ctx, "front", res.EntryID, false, "cover open")
	require.NoError(t, err)
	assert.True(t, acked)

	acked, err = e.AcknowledgeFor(ctx, "front", res.EntryID, true, "")
	require.NoError(t, err)
	assert.False(t, acked, "already terminal")

	entry, _ = st.Entry(res.EntryID)
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Equal(t, "cover open", *entry.ErrorMessage)

	_, err = e.AcknowledgeFor(ctx, "!!!", res.EntryID, true, "")
	assert.ErrorIs(t, err, queue.ErrValidation)
}

// --- Delete, ClearPending, Status ---

func TestDeleteAndClear(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	a := enqueue(t, e, "front", "a")
	enqueue(t, e, "front", "b")
	enqueue(t, e, "front", "c")
	enqueue(t, e, "back", "d")
	_, err := e.LeaseNext(ctx, "front")
	require.NoError(t, err)

	n, err := e.ClearPending(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	deleted, err := e.Delete(ctx, a.EntryID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.Delete(ctx, a.EntryID)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, 1, st.Len(), "other printers are untouched")

	_, err = e.ClearPending(ctx, "")
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestStatus(t *testing.T) {
	e, _ := newEngine(t, queue.WithMaxDepth(4))
	ctx := context.Background()

	st, err := e.Status(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, "front", st.PrinterID)
	assert.Equal(t, 4, st.MaxDepth)
	assert.NotNil(t, st.Entries)
	assert.Empty(t, st.Entries)

	a := enqueue(t, e, "front", "a")
	enqueue(t, e, "front", "b")
	_, err = e.Acknowledge(ctx, a.EntryID, true, "")
	require.NoError(t, err)

	st, err = e.Status(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingCount)
	assert.Len(t, st.Entries, 1, "terminal entries are not listed")
}

// --- SweepExpired ---

func TestSweepExpired(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, st := newEngine(t, queue.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	old := enqueue(t, e, "front", "old")
	_, err := e.Acknowledge(ctx, old.EntryID, false, "jam")
	require.NoError(t, err)
	pending := enqueue(t, e, "front", "pending")

	clock = clock.Add(3 * 24 * time.Hour)
	recent := enqueue(t, e, "front", "recent")
	_, err = e.Acknowledge(ctx, recent.EntryID, true, "")
	require.NoError(t, err)

	clock = clock.Add(5 * 24 * time.Hour)
	n, err := e.SweepExpired(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := st.Entry(old.EntryID)
	assert.False(t, ok)
	_, ok = st.Entry(pending.EntryID)
	assert.True(t, ok)
	_, ok = st.Entry(recent.EntryID)
	assert.True(t, ok)

	_, err = e.SweepExpired(ctx, -1)
	assert.ErrorIs(t, err, queue.ErrValidation)
}

func TestSweepExpired_ZeroDaysRemovesAllTerminal(t *testing.T) {
	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	e, st := newEngine(t, queue.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	a := enqueue(t, e, "front", "a")
	_, err := e.Acknowledge(ctx, a.EntryID, true, "")
	require.NoError(t, err)
	enqueue(t, e, "front", "b")

	clock = clock.Add(time.Second)
	n, err := e.SweepExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, st.Len())
}
