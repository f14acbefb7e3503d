package ratelimit

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter keeps per-window counters in process
type MemoryLimiter struct {
	c      *gocache.Cache
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewMemoryLimiter creates an in-process fixed-window limiter
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, time.Minute),
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	winEnd := winStart.Add(l.window)
	bucket := fmt.Sprintf("%s:%d", key, winStart.Unix())

	// Add only succeeds for the first hit of the window
	_ = l.c.Add(bucket, int64(0), winEnd.Sub(now))
	hits, err := l.c.IncrementInt64(bucket, 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count hit: %w", err)
	}
	return newResult(hits, l.max, winEnd.Sub(now)), nil
}
