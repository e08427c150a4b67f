package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/cache"
	"github.com/kiranshivaraju/receiptq/internal/queue"
)

// QueueAdmin is the part of the queue engine the admin handlers need.
type QueueAdmin interface {
	Status(ctx context.Context, printerID string) (*queue.Status, error)
	ClearPending(ctx context.Context, printerID string) (int64, error)
	Delete(ctx context.Context, entryID int64) (bool, error)
	Acknowledge(ctx context.Context, entryID int64, success bool, errMsg string) (bool, error)
}

// HeartbeatReader looks up when a printer last polled.
type HeartbeatReader interface {
	GetPrinterSeen(ctx context.Context, printerID string) (*cache.Heartbeat, bool, error)
}

// QueueStatus is the queue snapshot plus the printer's last poll, if known.
type QueueStatus struct {
	*queue.Status
	LastSeen *cache.Heartbeat `json:"last_seen"`
}

// NewQueueStatusHandler returns an http.HandlerFunc for GET /api/v1/printers/{printerID}/queue.
// A heartbeat lookup failure is logged and reported as an unknown last poll.
func NewQueueStatusHandler(q QueueAdmin, hb HeartbeatReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := q.Status(r.Context(), chi.URLParam(r, "printerID"))
		if err != nil {
			writeQueueError(w, "queue status", err)
			return
		}

		out := QueueStatus{Status: st}
		if hb != nil {
			seen, ok, err := hb.GetPrinterSeen(r.Context(), st.PrinterID)
			switch {
			case err != nil:
				slog.Warn("printer heartbeat lookup failed", "printer_id", st.PrinterID, "error", err)
			case ok:
				out.LastSeen = seen
			}
		}
		response.JSON(w, out)
	}
}

// NewClearQueueHandler returns an http.HandlerFunc for DELETE /api/v1/printers/{printerID}/queue.
func NewClearQueueHandler(q QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		printerID := chi.URLParam(r, "printerID")
		n, err := q.ClearPending(r.Context(), printerID)
		if err != nil {
			writeQueueError(w, "clear queue", err)
			return
		}
		slog.Info("pending jobs cleared", "printer_id", printerID, "cleared", n)
		response.JSON(w, map[string]any{"printer_id": printerID, "cleared": n})
	}
}

// NewDeleteEntryHandler returns an http.HandlerFunc for DELETE /api/v1/queue/{entryID}.
func NewDeleteEntryHandler(q QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := entryIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "entryID must be a positive integer", nil)
			return
		}
		deleted, err := q.Delete(r.Context(), id)
		if err != nil {
			writeQueueError(w, "delete entry", err)
			return
		}
		if !deleted {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Queue entry not found", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewAckEntryHandler returns an http.HandlerFunc for POST /api/v1/queue/{entryID}/ack.
// An empty body acknowledges success. Acknowledged is false when the entry is
// missing or already finished.
func NewAckEntryHandler(q QueueAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := entryIDParam(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "entryID must be a positive integer", nil)
			return
		}

		req := struct {
			Success *bool  `json:"success"`
			Error   string `json:"error"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		success := req.Success == nil || *req.Success

		acked, err := q.Acknowledge(r.Context(), id, success, req.Error)
		if err != nil {
			writeQueueError(w, "acknowledge entry", err)
			return
		}
		if acked {
			slog.Info("entry acknowledged manually", "entry_id", id, "success", success)
		}
		response.JSON(w, map[string]any{"entry_id": id, "acknowledged": acked})
	}
}
