package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/render"
	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// maxSubmitBytes bounds the JSON body, base64 images included.
const maxSubmitBytes = 8 << 20

const maxJobIDLen = 128

// Enqueuer is the part of the queue engine the submit handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, printerID string, payload []byte, jobID string) (*queue.EnqueueResult, error)
}

// Renderer turns a submission into protocol payload bytes.
type Renderer interface {
	Render(protocol string, req render.Request) ([]byte, error)
}

// SubmitRequest is the body of POST /api/v1/printers/{printerID}/jobs.
// Image is base64 in JSON.
type SubmitRequest struct {
	Protocol   string `json:"protocol"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	Image      []byte `json:"image"`
	Raw        string `json:"raw"`
	OpenDrawer bool   `json:"open_drawer"`
	Cut        *bool  `json:"cut"`
	JobID      string `json:"job_id"`
	Threshold  int    `json:"threshold"`
	MaxWidth   int    `json:"max_width"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/printers/{printerID}/jobs.
func NewSubmitHandler(q Enqueuer, renderers Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		proto := strings.ToLower(strings.TrimSpace(req.Protocol))
		if !models.ValidProtocol(proto) {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"protocol must be one of epos, cloudprnt", nil)
			return
		}
		if req.Type == "" {
			req.Type = render.TypeText
		}
		if req.Threshold < 0 || req.Threshold > 255 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"threshold must be between 0 and 255", nil)
			return
		}
		if req.MaxWidth < 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"max_width must be non-negative", nil)
			return
		}

		if len(req.JobID) > maxJobIDLen {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"job_id must be at most 128 characters", nil)
			return
		}
		if req.JobID == "" {
			req.JobID = uuid.NewString()
		}
		cut := true
		if req.Cut != nil {
			cut = *req.Cut
		}

		payload, err := renderers.Render(proto, render.Request{
			Type:       strings.ToLower(req.Type),
			JobID:      req.JobID,
			Text:       req.Text,
			Image:      req.Image,
			Raw:        []byte(req.Raw),
			OpenDrawer: req.OpenDrawer,
			Cut:        cut,
			Threshold:  req.Threshold,
			MaxWidth:   req.MaxWidth,
		})
		if err != nil {
			if errors.Is(err, render.ErrInvalidJob) || errors.Is(err, render.ErrUnsupported) {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
				return
			}
			slog.Error("render job failed", "protocol", proto, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to render job", nil)
			return
		}

		res, err := q.Enqueue(r.Context(), chi.URLParam(r, "printerID"), payload, req.JobID)
		if err != nil {
			writeQueueError(w, "enqueue", err)
			return
		}

		telemetry.JobsEnqueued.WithLabelValues(proto).Inc()
		if res.Discarded {
			telemetry.JobsEvicted.Inc()
			slog.Warn("queue full, oldest pending job discarded",
				"printer_id", res.PrinterID,
				"discarded_job_id", res.DiscardedJobID,
			)
		}
		slog.Info("job enqueued",
			"printer_id", res.PrinterID,
			"entry_id", res.EntryID,
			"job_id", res.JobID,
			"protocol", proto,
			"depth", res.Depth,
		)

		response.Created(w, res)
	}
}
