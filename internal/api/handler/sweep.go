package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/retention"
)

// Sweeper runs the retention sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (*retention.Report, error)
}

// NewSweepHandler returns an http.HandlerFunc for POST /api/v1/admin/sweep.
func NewSweepHandler(s Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.RunOnce(r.Context())
		if errors.Is(err, retention.ErrSweepRunning) {
			response.Error(w, http.StatusConflict, response.CodeConflict, err.Error(), nil)
			return
		}
		if err != nil {
			writeQueueError(w, "retention sweep", err)
			return
		}
		response.JSON(w, rep)
	}
}
