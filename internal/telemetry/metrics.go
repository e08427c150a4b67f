// Package telemetry holds the Prometheus collectors for the print queue.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiptq_jobs_enqueued_total",
		Help: "Jobs accepted into a printer queue",
	}, []string{"protocol"})
	JobsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiptq_jobs_evicted_total",
		Help: "Enqueues that discarded the oldest pending job",
	})
	Polls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiptq_printer_polls_total",
		Help: "Printer poll requests by protocol, phase and outcome",
	}, []string{"protocol", "phase", "outcome"})
	JobsAcknowledged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiptq_jobs_acknowledged_total",
		Help: "Entries moved to a terminal state",
	}, []string{"protocol", "outcome"})
	ResultsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiptq_results_recorded_total",
		Help: "Printer result reports written to the result log",
	}, []string{"protocol", "outcome"})
	ReportParseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receiptq_report_parse_failures_total",
		Help: "Printer result reports that could not be parsed",
	})
	SweptRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiptq_retention_deleted_total",
		Help: "Rows removed by the retention sweep",
	}, []string{"table"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsEvicted,
			Polls,
			JobsAcknowledged,
			ResultsRecorded,
			ReportParseFailures,
			SweptRows,
		)
	})
	return promhttp.Handler()
}
