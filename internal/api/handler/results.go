package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// ResultLister reads the result log.
type ResultLister interface {
	List(ctx context.Context, printerID string, limit int) ([]models.ResultRecord, error)
}

// NewListResultsHandler returns an http.HandlerFunc for GET /api/v1/printers/{printerID}/results.
func NewListResultsHandler(l ResultLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		recs, err := l.List(r.Context(), chi.URLParam(r, "printerID"), limit)
		if err != nil {
			writeQueueError(w, "list results", err)
			return
		}
		if recs == nil {
			recs = []models.ResultRecord{}
		}
		response.Collection(w, recs, response.ListMeta{Count: len(recs), Limit: limit})
	}
}
