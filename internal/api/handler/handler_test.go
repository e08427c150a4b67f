package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/receiptq/internal/api/handler"
	"github.com/kiranshivaraju/receiptq/internal/cache"
	"github.com/kiranshivaraju/receiptq/internal/config"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/render"
	"github.com/kiranshivaraju/receiptq/internal/results"
	"github.com/kiranshivaraju/receiptq/internal/retention"
	"github.com/kiranshivaraju/receiptq/internal/store/memstore"
	"github.com/kiranshivaraju/receiptq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var printCfg = config.PrintConfig{
	WidthDots:     576,
	Threshold:     128,
	EposDeviceID:  "local_printer",
	EposTimeoutMs: 10000,
}

type fixture struct {
	store   *memstore.Store
	engine  *queue.Engine
	results *results.Log
	router  chi.Router
}

type heartbeats map[string]cache.Heartbeat

func (h heartbeats) GetPrinterSeen(_ context.Context, printerID string) (*cache.Heartbeat, bool, error) {
	hb, ok := h[printerID]
	if !ok {
		return nil, false, nil
	}
	return &hb, true, nil
}

type stubSweeper struct {
	rep *retention.Report
	err error
}

func (s stubSweeper) RunOnce(_ context.Context) (*retention.Report, error) { return s.rep, s.err }

func setup(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	st := memstore.New()
	eng := queue.NewEngine(st, opts...)
	reg, err := render.NewRegistry(printCfg)
	require.NoError(t, err)
	log := results.NewLog(st)

	seen := heartbeats{"front": {Protocol: models.ProtocolEPOS, SeenAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}}

	r := chi.NewRouter()
	r.Post("/api/v1/printers/{printerID}/jobs", handler.NewSubmitHandler(eng, reg))
	r.Get("/api/v1/printers/{printerID}/queue", handler.NewQueueStatusHandler(eng, seen))
	r.Delete("/api/v1/printers/{printerID}/queue", handler.NewClearQueueHandler(eng))
	r.Get("/api/v1/printers/{printerID}/results", handler.NewListResultsHandler(log))
	r.Delete("/api/v1/queue/{entryID}", handler.NewDeleteEntryHandler(eng))
	r.Post("/api/v1/queue/{entryID}/ack", handler.NewAckEntryHandler(eng))
	r.Post("/api/v1/admin/keys", handler.NewCreateKeyHandler(st))
	r.Get("/api/v1/admin/keys", handler.NewListKeysHandler(st))
	r.Delete("/api/v1/admin/keys/{keyID}", handler.NewRevokeKeyHandler(st))

	return &fixture{store: st, engine: eng, results: log, router: r}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func parseBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	data, ok := parseBody(t, w)["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseBody(t, w)["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %s", w.Body.String())
	return errObj["code"].(string)
}

// ─── submit ──────────────────────────────────────────────────────────────────

func TestSubmit_EposText(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
		"protocol": "epos",
		"type":     "text",
		"text":     "Order 42\n",
		"job_id":   "order-42",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := dataOf(t, w)
	assert.Equal(t, "front", data["printer_id"])
	assert.Equal(t, "order-42", data["job_id"])
	assert.Equal(t, float64(1), data["position"])
	assert.Equal(t, float64(1), data["depth"])
	assert.Equal(t, false, data["discarded"])

	entry, ok := f.store.Entry(int64(data["entry_id"].(float64)))
	require.True(t, ok)
	assert.Contains(t, string(entry.Payload), "<text>Order 42&#xA;</text>")
	assert.Contains(t, string(entry.Payload), `<cut type="feed"></cut>`)
	assert.Contains(t, string(entry.Payload), "<printjobid>order-42</printjobid>")
}

func TestSubmit_GeneratesJobID(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
		"protocol": "cloudprnt",
		"text":     "hello",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, dataOf(t, w)["job_id"])
}

func TestSubmit_RawIsStoredUnchanged(t *testing.T) {
	f := setup(t)
	raw := "\x1b@raw bytes"

	w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
		"protocol": "cloudprnt",
		"type":     "raw",
		"raw":      raw,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	entry, ok := f.store.Entry(int64(dataOf(t, w)["entry_id"].(float64)))
	require.True(t, ok)
	assert.Equal(t, []byte(raw), entry.Payload)
}

func TestSubmit_FullQueueDiscardsOldest(t *testing.T) {
	f := setup(t, queue.WithMaxDepth(2))

	for _, id := range []string{"a", "b"} {
		w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
			"protocol": "cloudprnt", "text": id, "job_id": id,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
		"protocol": "cloudprnt", "text": "c", "job_id": "c",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	data := dataOf(t, w)
	assert.Equal(t, true, data["discarded"])
	assert.Equal(t, "a", data["discarded_job_id"])
	assert.Equal(t, float64(2), data["depth"])
	assert.Equal(t, float64(2), data["position"])
}

func TestSubmit_ValidationErrors(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"invalid json", "/api/v1/printers/front/jobs", "{not json"},
		{"unknown protocol", "/api/v1/printers/front/jobs", map[string]any{"protocol": "zpl", "text": "x"}},
		{"missing protocol", "/api/v1/printers/front/jobs", map[string]any{"text": "x"}},
		{"empty text", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "text": ""}},
		{"unknown type", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "type": "pdf"}},
		{"image on cloudprnt", "/api/v1/printers/front/jobs", map[string]any{"protocol": "cloudprnt", "type": "image", "image": []byte{1, 2, 3}}},
		{"undecodable image", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "type": "image", "image": []byte("not an image")}},
		{"threshold out of range", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "text": "x", "threshold": 300}},
		{"negative width", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "text": "x", "max_width": -1}},
		{"long job id", "/api/v1/printers/front/jobs", map[string]any{"protocol": "epos", "text": "x", "job_id": strings.Repeat("j", 129)}},
		{"unusable printer id", "/api/v1/printers/!!!/jobs", map[string]any{"protocol": "epos", "text": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, f.router, "POST", tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestSubmit_StoreFailureIsRetryable(t *testing.T) {
	f := setup(t)
	f.store.FailNextCommit(nil)

	w := do(t, f.router, "POST", "/api/v1/printers/front/jobs", map[string]any{
		"protocol": "epos", "text": "x",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "QUEUE_UNAVAILABLE", errCode(t, w))
	assert.Equal(t, 0, f.store.Len())
}

// ─── queue admin ─────────────────────────────────────────────────────────────

func TestQueueStatus_IncludesHeartbeat(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Enqueue(ctx, "front", []byte("a"), "a")
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, "front", []byte("b"), "b")
	require.NoError(t, err)
	_, err = f.engine.LeaseNext(ctx, "front")
	require.NoError(t, err)

	w := do(t, f.router, "GET", "/api/v1/printers/front/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataOf(t, w)
	assert.Equal(t, float64(1), data["pending_count"])
	assert.Equal(t, float64(1), data["leased_count"])
	assert.Equal(t, float64(queue.DefaultMaxDepth), data["max_depth"])
	assert.Len(t, data["entries"], 2)

	seen := data["last_seen"].(map[string]any)
	assert.Equal(t, "epos", seen["protocol"])
}

func TestQueueStatus_UnknownPrinterHasNoHeartbeat(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "GET", "/api/v1/printers/back/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataOf(t, w)
	assert.Nil(t, data["last_seen"])
	assert.Equal(t, float64(0), data["pending_count"])
	assert.Empty(t, data["entries"])
}

func TestClearQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.engine.Enqueue(ctx, "front", []byte(id), id)
		require.NoError(t, err)
	}
	leased, err := f.engine.LeaseNext(ctx, "front")
	require.NoError(t, err)

	w := do(t, f.router, "DELETE", "/api/v1/printers/front/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), dataOf(t, w)["cleared"])

	_, ok := f.store.Entry(leased.ID)
	assert.True(t, ok, "leased entry survives a clear")
}

func TestDeleteEntry(t *testing.T) {
	f := setup(t)
	res, err := f.engine.Enqueue(context.Background(), "front", []byte("a"), "a")
	require.NoError(t, err)

	path := "/api/v1/queue/" + itoa(res.EntryID)

	w := do(t, f.router, "DELETE", path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, f.router, "DELETE", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))

	w = do(t, f.router, "DELETE", "/api/v1/queue/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAckEntry(t *testing.T) {
	f := setup(t)
	res, err := f.engine.Enqueue(context.Background(), "front", []byte("a"), "a")
	require.NoError(t, err)
	path := "/api/v1/queue/" + itoa(res.EntryID) + "/ack"

	w := do(t, f.router, "POST", path, map[string]any{"success": false, "error": "paper out"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataOf(t, w)["acknowledged"])

	entry, ok := f.store.Entry(res.EntryID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, entry.Status)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "paper out", *entry.ErrorMessage)

	w = do(t, f.router, "POST", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, dataOf(t, w)["acknowledged"], "terminal entries are not acknowledged twice")
}

func TestAckEntry_EmptyBodyMeansSuccess(t *testing.T) {
	f := setup(t)
	res, err := f.engine.Enqueue(context.Background(), "front", []byte("a"), "a")
	require.NoError(t, err)

	w := do(t, f.router, "POST", "/api/v1/queue/"+itoa(res.EntryID)+"/ack", nil)
	require.Equal(t, http.StatusOK, w.Code)

	entry, _ := f.store.Entry(res.EntryID)
	assert.Equal(t, models.StatusCompleted, entry.Status)
}

func TestAckEntry_BadInput(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "POST", "/api/v1/queue/0/ack", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, f.router, "POST", "/api/v1/queue/1/ack", "{bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── results ─────────────────────────────────────────────────────────────────

func TestListResults(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, ok := range []bool{true, false, true} {
		require.NoError(t, f.results.Record(ctx, models.ResultRecord{
			PrinterID: "front", Protocol: models.ProtocolCloudPRNT, Success: ok, Code: "200 OK",
		}))
	}

	w := do(t, f.router, "GET", "/api/v1/printers/front/results?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := parseBody(t, w)
	recs := body["data"].([]any)
	require.Len(t, recs, 2)
	newest := recs[0].(map[string]any)
	assert.Equal(t, true, newest["success"])
	assert.Equal(t, float64(3), newest["id"])

	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), meta["count"])
}

func TestListResults_EmptyIsArray(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "GET", "/api/v1/printers/nobody/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, parseBody(t, w)["data"])
}

func TestListResults_BadLimit(t *testing.T) {
	f := setup(t)

	w := do(t, f.router, "GET", "/api/v1/printers/front/results?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── sweep ───────────────────────────────────────────────────────────────────

func TestSweep(t *testing.T) {
	rep := &retention.Report{RetentionDays: 7, EntriesDeleted: 3, ResultsDeleted: 4}

	w := do(t, handler.NewSweepHandler(stubSweeper{rep: rep}), "POST", "/api/v1/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataOf(t, w)
	assert.Equal(t, float64(3), data["entries_deleted"])
	assert.Equal(t, float64(4), data["results_deleted"])
}

func TestSweep_AlreadyRunning(t *testing.T) {
	w := do(t, handler.NewSweepHandler(stubSweeper{err: retention.ErrSweepRunning}), "POST", "/api/v1/admin/sweep", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errCode(t, w))
}

func TestSweep_StoreFailure(t *testing.T) {
	w := do(t, handler.NewSweepHandler(stubSweeper{err: queue.ErrStore}), "POST", "/api/v1/admin/sweep", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
