// Package domainlimit gates capture work per domain: a concurrency cap
// so one slow host cannot hold every worker, and a request pacer so
// repeated checks of the same host are spread out.
package domainlimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds per-domain limits. Every domain gets the same limits;
// entries are created lazily on first use.
type Config struct {
	// MaxConcurrent caps simultaneous captures per domain; <=0 means 1.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// RPS paces capture starts per domain; <=0 disables pacing.
	RPS float64 `mapstructure:"rps"`
	// Burst is the pacer burst size; <=0 means 1.
	Burst int `mapstructure:"burst"`
}

// Limiter manages per-domain gates.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxConcurrent int64
	pace          rate.Limit
	burst         int
}

type entry struct {
	slots *semaphore.Weighted
	pacer *rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	pace := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		pace = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		entries:       make(map[string]*entry),
		maxConcurrent: maxConcurrent,
		pace:          pace,
		burst:         burst,
	}
}

// Acquire blocks until the domain has both a free concurrency slot and
// a pacer token. The returned release function must be called exactly
// once when the capture finishes.
func (l *Limiter) Acquire(ctx context.Context, domain string) (func(), error) {
	e := l.entry(domain)

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire domain slot: %w", err)
	}
	if err := e.pacer.Wait(ctx); err != nil {
		e.slots.Release(1)
		return nil, fmt.Errorf("domain pace wait: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { e.slots.Release(1) })
	}, nil
}

func (l *Limiter) entry(domain string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[domain]
	if !ok {
		e = &entry{
			slots: semaphore.NewWeighted(l.maxConcurrent),
			pacer: rate.NewLimiter(l.pace, l.burst),
		}
		l.entries[domain] = e
	}
	return e
}
