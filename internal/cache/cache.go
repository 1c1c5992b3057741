// Package cache holds the in-memory read caches of the HTTP API. Month
// summaries are the main user: they are computed from two table scans and
// invalidated on every mutation.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache is the read-through contract used by handlers
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// Clear drops every entry; writes call it since any mutation can change
	// any cached aggregate.
	Clear()
	Size() int
}

// Cleaner is a cache whose expired entries can be swept
type Cleaner interface {
	CleanExpired() int
}

// Janitor sweeps registered caches on an interval.
type Janitor struct {
	caches []Cleaner
}

func NewJanitor(caches ...Cleaner) *Janitor {
	return &Janitor{caches: caches}
}

// Sweep cleans every cache once and returns the number of dropped entries.
func (j *Janitor) Sweep() int {
	total := 0
	for _, c := range j.caches {
		total += c.CleanExpired()
	}
	return total
}

// Run sweeps every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				slog.DebugContext(ctx, "Expired cache entries removed", "count", n)
			}
		}
	}
}
