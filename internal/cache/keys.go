package cache

import "fmt"

// RateLimitKey names the counter of one subject for the window starting at windowStart (Unix seconds).
func RateLimitKey(subject string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, windowStart)
}

func PrinterSeenKey(printerID string) string {
	return "printer:seen:" + printerID
}
