package models

import "time"

// ResultRecord is a delivery outcome reported by a printer.
// Records are append-only and never read by the queue.
type ResultRecord struct {
	ID              int64     `db:"id"               json:"id"`
	PrinterID       string    `db:"printer_id"       json:"printer_id"`
	JobID           *string   `db:"job_id"           json:"job_id,omitempty"`
	Protocol        string    `db:"protocol"         json:"protocol"`
	Success         bool      `db:"success"          json:"success"`
	Code            string    `db:"code"             json:"code"`
	StatusFlags     *int64    `db:"status_flags"     json:"status_flags,omitempty"`
	ResponseVersion string    `db:"response_version" json:"response_version,omitempty"`
	Raw             []byte    `db:"raw"              json:"-"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}
