package cache

import "time"

// SetClock replaces the time source used for rate-limit windows.
func SetClock(c *RedisCache, now func() time.Time) { c.now = now }
