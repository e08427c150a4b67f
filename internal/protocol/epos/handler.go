// Package epos serves Epson printers running in Server Direct Print mode.
// A printer polls with ConnectionType=GetRequest and receives the next queued
// document; it reports outcomes later with ConnectionType=SetResponse.
package epos

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/protocol"
	"github.com/kiranshivaraju/receiptq/internal/queue"
	"github.com/kiranshivaraju/receiptq/internal/telemetry"
	"github.com/kiranshivaraju/receiptq/pkg/eposxml"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

const (
	connGetRequest  = "GetRequest"
	connSetResponse = "SetResponse"

	maxFormBytes = 1 << 20
)

// Queue is the part of the queue engine the poll path needs.
type Queue interface {
	LeaseNext(ctx context.Context, printerID string) (*queue.Job, error)
	Acknowledge(ctx context.Context, entryID int64, success bool, errMsg string) (bool, error)
}

// ResultRecorder appends printer reports to the result log.
type ResultRecorder interface {
	Record(ctx context.Context, rec models.ResultRecord) error
}

// Handler implements POST /epos.
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

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	printerID := r.PostFormValue("ID")
	switch ct := r.PostFormValue("ConnectionType"); ct {
	case connGetRequest:
		h.poll(w, r, printerID)
	case connSetResponse:
		h.report(w, r, printerID)
	default:
		slog.Warn("unknown epos connection type", "connection_type", ct, "printer_id", printerID)
		http.Error(w, "unknown ConnectionType", http.StatusBadRequest)
	}
}

// poll leases the next job and marks it completed before the body is sent.
// A response lost in transit is therefore not redelivered.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request, printerID string) {
	ctx := r.Context()
	protocol.Touch(ctx, h.seen, printerID, models.ProtocolEPOS, h.now())

	job, err := h.queue.LeaseNext(ctx, printerID)
	if err != nil {
		slog.Warn("epos lease failed", "printer_id", printerID, "error", err)
		pollOutcome("error")
		w.WriteHeader(http.StatusOK)
		return
	}
	if job == nil {
		pollOutcome("empty")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only the poll that completes the entry sends it.
	acked, err := h.queue.Acknowledge(ctx, job.ID, true, "")
	if err != nil {
		// The entry stays leased and is recovered by a later poll.
		slog.Warn("epos ack failed", "printer_id", printerID, "entry_id", job.ID, "error", err)
		pollOutcome("error")
		w.WriteHeader(http.StatusOK)
		return
	}
	if !acked {
		slog.Info("epos job already delivered", "printer_id", printerID, "entry_id", job.ID)
		pollOutcome("empty")
		w.WriteHeader(http.StatusOK)
		return
	}
	telemetry.JobsAcknowledged.WithLabelValues(models.ProtocolEPOS, "success").Inc()
	pollOutcome("job")

	slog.Info("epos job delivered",
		"printer_id", job.PrinterID,
		"entry_id", job.ID,
		"job_id", job.JobID,
		"redelivered", job.Redelivered,
		"printer_name", r.PostFormValue("Name"),
	)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(job.Payload); err != nil {
		slog.Warn("epos write failed", "printer_id", printerID, "entry_id", job.ID, "error", err)
	}
}

// report stores one result record per ePOSPrint element. Nothing here can
// fail the request; the printer would only resend the same report.
func (h *Handler) report(w http.ResponseWriter, r *http.Request, printerID string) {
	defer w.WriteHeader(http.StatusOK)

	raw := r.PostFormValue("ResponseFile")
	resp, err := eposxml.ParseResponse([]byte(raw))
	if err != nil {
		telemetry.ReportParseFailures.Inc()
		telemetry.Polls.WithLabelValues(models.ProtocolEPOS, "report", "error").Inc()
		slog.Warn("epos response unreadable", "printer_id", printerID, "error", err)
		return
	}

	for _, p := range resp.Prints {
		rec := models.ResultRecord{
			PrinterID:       printerID,
			Protocol:        models.ProtocolEPOS,
			Success:         p.Success,
			Code:            p.Code,
			StatusFlags:     p.Status,
			ResponseVersion: resp.Version,
			Raw:             []byte(raw),
		}
		if p.PrintJobID != "" {
			jobID := p.PrintJobID
			rec.JobID = &jobID
		}
		if err := h.results.Record(r.Context(), rec); err != nil {
			slog.Warn("epos result not recorded", "printer_id", printerID, "job_id", p.PrintJobID, "error", err)
		}
	}
	telemetry.Polls.WithLabelValues(models.ProtocolEPOS, "report", "ok").Inc()
}

func pollOutcome(outcome string) {
	telemetry.Polls.WithLabelValues(models.ProtocolEPOS, "poll", outcome).Inc()
}
