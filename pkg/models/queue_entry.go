// Package models contains shared data models used across the receiptq codebase.
package models

import "time"

// EntryStatus is the lifecycle state of a queue entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusLeased    EntryStatus = "leased"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// QueueEntry is one print job waiting for, or delivered to, a printer.
// Payload is opaque to the queue; its shape depends on the printer protocol.
type QueueEntry struct {
	ID           int64       `db:"id"            json:"id"`
	PrinterID    string      `db:"printer_id"    json:"printer_id"`
	JobID        string      `db:"job_id"        json:"job_id"`
	Payload      []byte      `db:"payload"       json:"-"`
	Status       EntryStatus `db:"status"        json:"status"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
	LeasedAt     *time.Time  `db:"leased_at"     json:"leased_at,omitempty"`
	ProcessedAt  *time.Time  `db:"processed_at"  json:"processed_at,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
}
