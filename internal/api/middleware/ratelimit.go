package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RequestCounter counts requests per subject in fixed windows.
type RequestCounter interface {
	CountRequest(ctx context.Context, subject string, window time.Duration) (cache.Window, error)
}

// RateLimit caps the requests each API key may make per minute.
type RateLimit struct {
	counter        RequestCounter
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c RequestCounter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit must run after Authenticate. Requests without an API key pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := APIKeyFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		win, err := rl.counter.CountRequest(r.Context(), key.ID.String(), rateWindow)
		if err != nil {
			// Fail open.
			slog.Warn("rate limit check failed", "api_key_id", key.ID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(win.Count), 0)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(win.ResetIn).Unix(), 10))

		if win.Count > int64(rl.requestsPerMin) {
			retry := int(math.Ceil(win.ResetIn.Seconds()))
			h.Set("Retry-After", strconv.Itoa(max(retry, 1)))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimitExceeded, "Too many requests", map[string]any{
					"limit_per_minute": rl.requestsPerMin,
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
