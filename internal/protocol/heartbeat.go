// Package protocol holds pieces shared by the printer-facing adapters.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/cache"
	"github.com/kiranshivaraju/receiptq/internal/queue"
)

const (
	HeartbeatTTL     = 24 * time.Hour
	heartbeatTimeout = 500 * time.Millisecond
)

// SeenRecorder stores the last time a printer polled.
type SeenRecorder interface {
	SetPrinterSeen(ctx context.Context, printerID string, hb cache.Heartbeat, ttl time.Duration) error
}

// Touch records a heartbeat for printerID. Failures are logged and dropped;
// a nil recorder disables heartbeats.
func Touch(ctx context.Context, seen SeenRecorder, printerID, proto string, at time.Time) {
	if seen == nil {
		return
	}
	pid, err := queue.SanitizePrinterID(printerID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	if err := seen.SetPrinterSeen(ctx, pid, cache.Heartbeat{Protocol: proto, SeenAt: at}, HeartbeatTTL); err != nil {
		slog.Warn("record printer heartbeat failed", "printer_id", pid, "protocol", proto, "error", err)
	}
}
