// Package ratelimit paces requests to mirror hosts with a token bucket per host
// and parks hosts that answered with throttling for a cooldown period.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/ai-digest/internal/telemetry"
)

const defaultCooldown = 90 * time.Second

// Config holds host pacing configuration.
type Config struct {
	// RPS is the steady request rate per host; <= 0 disables pacing.
	RPS   float64
	Burst int
	// Cooldown is how long a throttled host is skipped.
	Cooldown time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// Limiter manages per-host token buckets and cooldowns. It is safe for
// concurrent use and shared by every adapter that walks the mirror host list.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	coolUntil map[string]time.Time
	rate      rate.Limit
	burst     int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		coolUntil: make(map[string]time.Time),
		rate:      r,
		burst:     burst,
		cooldown:  cooldown,
		now:       now,
	}
}

// Wait blocks until a token is available for host, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	key := normalize(host)
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveHostWait(key, waited)
	}
	return nil
}

// Available reports whether host is outside any cooldown.
func (l *Limiter) Available(host string) bool {
	key := normalize(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.coolUntil[key]
	if !ok {
		return true
	}
	if l.now().Before(until) {
		return false
	}
	delete(l.coolUntil, key)
	return true
}

// CoolDown parks host for the configured cooldown.
func (l *Limiter) CoolDown(host string) {
	key := normalize(host)
	l.mu.Lock()
	l.coolUntil[key] = l.now().Add(l.cooldown)
	l.mu.Unlock()
	telemetry.ObserveHostCooldown(key)
}

func normalize(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "unknown"
	}
	return host
}
