// Package cloudprnt serves Star printers using the CloudPRNT protocol.
// A printer announces itself with POST, downloads a job with GET and
// confirms the outcome with DELETE.
package cloudprnt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/payload"
	"github.com/kiranshivaraju/receiptq/internal/protocol"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

const (
	mediaTypeText = "text/plain"
	maxBodyBytes  = 64 << 10
)

// Queue is the part of the queue engine the three phases need.
type Queue interface {
	PeekNext(ctx context.Context, printerID string) (*models.QueueEntry, error)
	LeaseNext(ctx context.Context, printerID string) (*queue.Job, error)
	LeaseSpecific(ctx context.Context, printerID string, entryID int64) (*queue.Job, error)
	AcknowledgeFor(ctx context.Context, printerID string, entryID int64, success bool, errMsg string) (bool, error)
}

// ResultRecorder appends printer reports to the result log.
type ResultRecorder interface {
	Record(ctx context.Context, rec models.ResultRecord) error
}

// Handler implements /cloudprnt.
type Handler struct {
	queue   Queue
	results ResultRecorder
	seen    protocol.SeenRecorder
	now     func() time.Time
}

// NewHandler creates a Handler. seen may be nil.
func NewHandler(q Queue, results ResultRecorder, seen protocol.SeenRecorder) *Handler {
	return &Handler{
		queue:   q,
		results: results,
		seen:    seen,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type announceRequest struct {
	PrinterMAC         string `json:"printerMAC"`
	StatusCode         string `json:"statusCode"`
	PrintingInProgress bool   `json:"printingInProgress"`
}

type announceResponse struct {
	JobReady   bool     `json:"jobReady"`
	MediaTypes []string `json:"mediaTypes,omitempty"`
	JobToken   string   `json:"jobToken,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.announce(w, r)
	case http.MethodGet:
		h.fetch(w, r)
	case http.MethodDelete:
		h.confirm(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// announce tells the printer whether a job is waiting. It never changes the
// queue; the job is claimed by the following fetch.
func (h *Handler) announce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	printerID := printerIDFrom(r, req.PrinterMAC)
	if printerID == "" {
		http.Error(w, "printer id or MAC required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	protocol.Touch(ctx, h.seen, printerID, models.ProtocolCloudPRNT, h.now())

	if req.PrintingInProgress {
		pollOutcome("announce", "busy")
		writeAnnounce(w, announceResponse{})
		return
	}

	entry, err := h.queue.PeekNext(ctx, printerID)
	if err != nil {
		slog.Warn("cloudprnt peek failed", "printer_id", printerID, "error", err)
		pollOutcome("announce", "error")
		writeAnnounce(w, announceResponse{})
		return
	}
	if entry == nil {
		pollOutcome("announce", "empty")
		writeAnnounce(w, announceResponse{})
		return
	}

	pollOutcome("announce", "job")
	writeAnnounce(w, announceResponse{
		JobReady:   true,
		MediaTypes: []string{mediaTypeText},
		JobToken:   strconv.FormatInt(entry.ID, 10),
	})
}

// fetch leases the announced entry, or the next one when no token is given,
// and returns it as plain text.
func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	printerID := printerIDFrom(r, "")
	if printerID == "" {
		http.Error(w, "printer id or MAC required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	var (
		job *queue.Job
		err error
	)
	if token := r.URL.Query().Get("token"); token != "" {
		entryID, perr := parseToken(token)
		if perr != nil {
			http.Error(w, "invalid token", http.StatusBadRequest)
			return
		}
		job, err = h.queue.LeaseSpecific(ctx, printerID, entryID)
	} else {
		job, err = h.queue.LeaseNext(ctx, printerID)
	}
	if err != nil {
		slog.Warn("cloudprnt lease failed", "printer_id", printerID, "error", err)
		pollOutcome("fetch", "error")
		if errors.Is(err, queue.ErrValidation) {
			http.Error(w, "invalid printer id", http.StatusBadRequest)
			return
		}
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	if job == nil {
		pollOutcome("fetch", "empty")
		http.NotFound(w, r)
		return
	}

	doc, err := payload.Normalize(job.Payload)
	if err != nil {
		slog.Warn("cloudprnt payload unprintable", "printer_id", printerID, "entry_id", job.ID, "error", err)
		if _, aerr := h.queue.AcknowledgeFor(ctx, job.PrinterID, job.ID, false, "unprintable payload: "+err.Error()); aerr != nil {
			slog.Warn("cloudprnt ack failed", "printer_id", printerID, "entry_id", job.ID, "error", aerr)
		}
		pollOutcome("fetch", "error")
		http.NotFound(w, r)
		return
	}

	pollOutcome("fetch", "job")
	slog.Info("cloudprnt job delivered",
		"printer_id", job.PrinterID,
		"entry_id", job.ID,
		"job_id", job.JobID,
		"payload_kind", doc.Kind.String(),
		"redelivered", job.Redelivered,
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Star-Cut", "full; feed=true")
	if doc.OpenDrawer {
		w.Header().Set("X-Star-CashDrawer", "end")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, doc.Text); err != nil {
		slog.Warn("cloudprnt write failed", "printer_id", printerID, "entry_id", job.ID, "error", err)
	}
}

// confirm finishes the entry named by token. Codes starting with "2" mean
// the printer printed it. A token that is not one of the printer's entries
// gets 404 and no result record.
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entryID, err := parseToken(q.Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return
	}
	printerID := printerIDFrom(r, "")
	if printerID == "" {
		http.Error(w, "printer id or MAC required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	code := q.Get("code")
	success := strings.HasPrefix(code, "2")
	errMsg := ""
	if !success {
		errMsg = code
	}

	acked, err := h.queue.AcknowledgeFor(ctx, printerID, entryID, success, errMsg)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		slog.Warn("cloudprnt confirm for unknown token", "printer_id", printerID, "entry_id", entryID)
		pollOutcome("confirm", "unknown")
		http.NotFound(w, r)
		return
	case errors.Is(err, queue.ErrValidation):
		pollOutcome("confirm", "error")
		http.Error(w, "invalid printer id", http.StatusBadRequest)
		return
	case err != nil:
		slog.Warn("cloudprnt ack failed", "printer_id", printerID, "entry_id", entryID, "error", err)
		pollOutcome("confirm", "error")
	default:
		pollOutcome("confirm", "ok")
		if acked {
			telemetry.JobsAcknowledged.WithLabelValues(models.ProtocolCloudPRNT, outcome(success)).Inc()
		}
	}

	token := strconv.FormatInt(entryID, 10)
	rec := models.ResultRecord{
		PrinterID: printerID,
		JobID:     &token,
		Protocol:  models.ProtocolCloudPRNT,
		Success:   success,
		Code:      code,
	}
	if err := h.results.Record(ctx, rec); err != nil {
		slog.Warn("cloudprnt result not recorded", "printer_id", printerID, "entry_id", entryID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// printerIDFrom prefers the explicit id query parameter and falls back to the
// printer MAC with separators removed.
func printerIDFrom(r *http.Request, bodyMAC string) string {
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("id")); id != "" {
		return id
	}
	mac := bodyMAC
	if mac == "" {
		mac = q.Get("mac")
	}
	return normalizeMAC(mac)
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(mac))
}

func parseToken(token string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("token must be a positive integer")
	}
	return id, nil
}

func writeAnnounce(w http.ResponseWriter, resp announceResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("cloudprnt announce write failed", "error", err)
	}
}

func pollOutcome(phase, outcome string) {
	telemetry.Polls.WithLabelValues(models.ProtocolCloudPRNT, phase, outcome).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
