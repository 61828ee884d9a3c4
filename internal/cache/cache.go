package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache is the read side the services depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches whose entries expire.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically drops expired entries from registered caches.
type Janitor struct {
	interval time.Duration
	caches   []Cleaner
}

func NewJanitor(interval time.Duration, caches ...Cleaner) *Janitor {
	return &Janitor{interval: interval, caches: caches}
}

// Run sweeps until ctx is done. It always returns nil so it can sit in an
// errgroup next to the server.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 || len(j.caches) == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				slog.DebugContext(ctx, "Expired cache entries removed", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep cleans every cache once and returns how many entries were removed.
func (j *Janitor) Sweep() int {
	total := 0
	for _, c := range j.caches {
		total += c.CleanExpired()
	}
	return total
}
