package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Rate configures one destination domain's bucket.
type Rate struct {
	PerSecond float64
	Burst     float64
}

// Limiter throttles outbound requests with one token bucket per destination
// domain. Acquire blocks until a token is available; it never rejects.
// Buckets are created lazily and refilled from elapsed wall-clock time at
// acquisition, so idle domains cost nothing.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	overrides map[string]Rate
	def       Rate
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
}

func New(def Rate) *Limiter {
	if def.PerSecond <= 0 {
		def.PerSecond = 1
	}
	if def.Burst < 1 {
		def.Burst = 1
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		overrides: make(map[string]Rate),
		def:       def,
	}
}

// SetRate overrides the rate for one domain. Takes effect for buckets created
// after the call; configured before any traffic in practice.
func (l *Limiter) SetRate(domain string, r Rate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.PerSecond <= 0 {
		r.PerSecond = l.def.PerSecond
	}
	if r.Burst < 1 {
		r.Burst = l.def.Burst
	}
	l.overrides[domain] = r
	delete(l.buckets, domain)
}

// Acquire blocks until one token is available for domain.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	return l.AcquireN(ctx, domain, 1)
}

// AcquireN blocks until cost tokens are available for domain.
func (l *Limiter) AcquireN(ctx context.Context, domain string, cost float64) error {
	b := l.bucket(domain)
	if cost > b.capacity {
		return fmt.Errorf("ratelimit: cost %.1f exceeds bucket capacity %.1f for %s", cost, b.capacity, domain)
	}

	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.tokens >= cost {
			b.tokens -= cost
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((cost - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) bucket(domain string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[domain]; ok {
		return b
	}

	r := l.def
	if override, ok := l.overrides[domain]; ok {
		r = override
	}
	b := &bucket{
		tokens:   r.Burst,
		capacity: r.Burst,
		rate:     r.PerSecond,
		last:     time.Now(),
	}
	l.buckets[domain] = b
	return b
}

// refill must be called with b.mu held.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
