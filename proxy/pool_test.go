package proxy

import (
	"testing"
	"time"
)

func TestNoopPool(t *testing.T) {
	var p Pool = NoopPool{}
	if url, ok := p.Next(); ok || url != "" {
		t.Fatalf("expected no proxy from NoopPool, got %q ok=%v", url, ok)
	}
}

func TestNewFromConfigEmpty(t *testing.T) {
	p := NewFromConfig(nil, "round_robin", time.Minute)
	if _, ok := p.(NoopPool); !ok {
		t.Fatalf("expected NoopPool for empty entry list, got %T", p)
	}
}

func TestRoundRobinRotation(t *testing.T) {
	p := NewRotatingPool([]string{"http://a", "http://b", "http://c"}, StrategyRoundRobin, time.Minute)

	seen := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		url, ok := p.Next()
		if !ok {
			t.Fatalf("Next returned ok=false on iteration %d", i)
		}
		seen = append(seen, url)
	}
	want := []string{"http://a", "http://b", "http://c", "http://a"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("rotation order %v, want %v", seen, want)
		}
	}
}

func TestUnhealthyEntrySkipped(t *testing.T) {
	p := NewRotatingPool([]string{"http://a", "http://b"}, StrategyRoundRobin, time.Hour)

	for i := 0; i < maxConsecutiveFailures; i++ {
		p.ReportFailure("http://a")
	}

	for i := 0; i < 6; i++ {
		url, ok := p.Next()
		if !ok {
			t.Fatal("Next returned ok=false with a healthy entry available")
		}
		if url == "http://a" {
			t.Fatal("unhealthy entry served before cooldown")
		}
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	p := NewRotatingPool([]string{"http://a"}, StrategyRoundRobin, time.Hour)

	p.ReportFailure("http://a")
	p.ReportFailure("http://a")
	p.ReportSuccess("http://a")
	p.ReportFailure("http://a")
	p.ReportFailure("http://a")

	if url, ok := p.Next(); !ok || url != "http://a" {
		t.Fatalf("entry should still be healthy after success reset, got %q ok=%v", url, ok)
	}
}

func TestAllUnhealthyFailsOpen(t *testing.T) {
	p := NewRotatingPool([]string{"http://a", "http://b"}, StrategyRoundRobin, time.Hour)

	for _, u := range []string{"http://a", "http://b"} {
		for i := 0; i < maxConsecutiveFailures; i++ {
			p.ReportFailure(u)
		}
	}

	url, ok := p.Next()
	if !ok || url == "" {
		t.Fatalf("expected fail-open proxy when all unhealthy, got %q ok=%v", url, ok)
	}
}

func TestRandomStrategyFindsLastHealthyEntry(t *testing.T) {
	p := NewRotatingPool([]string{"http://a", "http://b", "http://c"}, StrategyRandom, time.Hour)

	for _, u := range []string{"http://a", "http://b"} {
		for i := 0; i < maxConsecutiveFailures; i++ {
			p.ReportFailure(u)
		}
	}

	// Random picks must still locate the one healthy entry every time and
	// never reset the unhealthy ones while it exists.
	for i := 0; i < 50; i++ {
		url, ok := p.Next()
		if !ok || url != "http://c" {
			t.Fatalf("Next() = %q ok=%v, want the healthy entry", url, ok)
		}
	}
	for _, u := range []string{"http://a", "http://b"} {
		e := p.find(u)
		e.mu.Lock()
		fails := e.consecFails
		e.mu.Unlock()
		if fails < maxConsecutiveFailures {
			t.Fatalf("%s was reset while a healthy entry remained, consecFails=%d", u, fails)
		}
	}
}

func TestCooldownHalfOpen(t *testing.T) {
	p := NewRotatingPool([]string{"http://a"}, StrategyRoundRobin, 10*time.Millisecond)

	for i := 0; i < maxConsecutiveFailures; i++ {
		p.ReportFailure("http://a")
	}
	time.Sleep(20 * time.Millisecond)

	if url, ok := p.Next(); !ok || url != "http://a" {
		t.Fatalf("entry should be half-open after cooldown, got %q ok=%v", url, ok)
	}
	// A single new failure re-marks it without needing three more.
	p.ReportFailure("http://a")
	p.entries[0].mu.Lock()
	fails := p.entries[0].consecFails
	p.entries[0].mu.Unlock()
	if fails < maxConsecutiveFailures {
		t.Fatalf("half-open failure should re-mark entry, consecFails=%d", fails)
	}
}
