package api

import (
	"context"
	"sync"
	"time"
)

// briefingCache holds the last generated pre-market briefing text, gated
// by a freshness window that shortens during market hours. NSE/MCX/CDS
// cash-market hours are taken as 09:15-15:30 IST, Monday-Friday.
type briefingCache struct {
	mu        sync.Mutex
	text      string
	generated time.Time
}

var istLocation = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

func isMarketHours(now time.Time) bool {
	local := now.In(istLocation)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 15, 0, 0, istLocation)
	closeT := time.Date(local.Year(), local.Month(), local.Day(), 15, 30, 0, 0, istLocation)
	return !local.Before(open) && !local.After(closeT)
}

func freshnessWindow(now time.Time) time.Duration {
	if isMarketHours(now) {
		return 10 * time.Minute
	}
	return 30 * time.Minute
}

// get returns the cached briefing if still fresh, regenerating it via gen
// otherwise. gen failures surface the error without poisoning the cache.
func (b *briefingCache) get(ctx context.Context, gen func(ctx context.Context) (string, error)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.generated.IsZero() && now.Sub(b.generated) < freshnessWindow(now) {
		return b.text, nil
	}
	text, err := gen(ctx)
	if err != nil {
		return "", err
	}
	b.text = text
	b.generated = now
	return b.text, nil
}
