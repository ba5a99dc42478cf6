package proxy

import (
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

const maxConsecutiveFailures = 3

// Pool hands out egress proxy URLs and tracks their health. Implementations
// must be safe for concurrent use across source runs.
type Pool interface {
	// Next returns a proxy URL, or ok=false when no proxy should be used.
	Next() (string, bool)
	ReportSuccess(url string)
	ReportFailure(url string)
}

// NoopPool is the first-class "no proxy" implementation.
type NoopPool struct{}

func (NoopPool) Next() (string, bool) { return "", false }
func (NoopPool) ReportSuccess(string) {}
func (NoopPool) ReportFailure(string) {}

type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
)

// RotatingPool rotates over a fixed set of proxy entries. An entry with three
// consecutive failures is excluded until its cooldown elapses; if every entry
// is unhealthy the whole pool resets, since degraded egress beats none.
type RotatingPool struct {
	entries  []*entry
	strategy Strategy
	cooldown time.Duration
	next     atomic.Uint64
}

type entry struct {
	mu             sync.Mutex
	url            string
	consecFails    int
	unhealthySince time.Time
}

func NewRotatingPool(urls []string, strategy Strategy, cooldown time.Duration) *RotatingPool {
	entries := make([]*entry, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, &entry{url: u})
	}
	if strategy != StrategyRandom {
		strategy = StrategyRoundRobin
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &RotatingPool{entries: entries, strategy: strategy, cooldown: cooldown}
}

// NewFromConfig returns a RotatingPool, or a NoopPool when no entries are
// configured.
func NewFromConfig(urls []string, strategy string, cooldown time.Duration) Pool {
	if len(urls) == 0 {
		return NoopPool{}
	}
	return NewRotatingPool(urls, Strategy(strategy), cooldown)
}

func (p *RotatingPool) Next() (string, bool) {
	if len(p.entries) == 0 {
		return "", false
	}

	// Scan every entry once from the rotation point so the pool only fails
	// open when no entry is truly eligible.
	start := p.start()
	for i := range p.entries {
		e := p.entries[(start+i)%len(p.entries)]
		if e.eligible(p.cooldown) {
			return e.url, true
		}
	}

	// Every entry is unhealthy. Fail open: reset them all and serve anyway.
	log.Printf("proxy: all %d entries unhealthy, resetting pool", len(p.entries))
	for _, e := range p.entries {
		e.reset()
	}
	return p.entries[p.start()].url, true
}

// start picks where the eligibility scan begins. Random strategy starts at a
// random entry, round robin advances a counter.
func (p *RotatingPool) start() int {
	if p.strategy == StrategyRandom {
		return rand.Intn(len(p.entries))
	}
	n := p.next.Add(1) - 1
	return int(n % uint64(len(p.entries)))
}

func (p *RotatingPool) ReportSuccess(url string) {
	if e := p.find(url); e != nil {
		e.reset()
	}
}

func (p *RotatingPool) ReportFailure(url string) {
	e := p.find(url)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecFails++
	if e.consecFails >= maxConsecutiveFailures && e.unhealthySince.IsZero() {
		e.unhealthySince = time.Now()
		log.Printf("proxy: marking %s unhealthy after %d consecutive failures", url, e.consecFails)
	}
}

func (p *RotatingPool) find(url string) *entry {
	for _, e := range p.entries {
		if e.url == url {
			return e
		}
	}
	return nil
}

func (e *entry) eligible(cooldown time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consecFails < maxConsecutiveFailures {
		return true
	}
	if !e.unhealthySince.IsZero() && time.Since(e.unhealthySince) >= cooldown {
		// Half-open: give it one more chance; another failure re-marks it.
		e.consecFails = maxConsecutiveFailures - 1
		e.unhealthySince = time.Time{}
		return true
	}
	return false
}

func (e *entry) reset() {
	e.mu.Lock()
	e.consecFails = 0
	e.unhealthySince = time.Time{}
	e.mu.Unlock()
}
