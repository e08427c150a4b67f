package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/queue"
)

// writeQueueError maps queue errors onto the API envelope.
func writeQueueError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrValidation):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, queue.ErrStore):
		slog.Warn(op+" failed", "error", err)
		response.Unavailable(w, "Queue storage is temporarily unavailable")
	default:
		slog.Error(op+" failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Internal error", nil)
	}
}

func entryIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
