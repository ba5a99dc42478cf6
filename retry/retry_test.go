package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Name: "test", MaxAttempts: attempts, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 503, URL: "https://x.test"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &StatusError{Code: 404, URL: "https://x.test"}
	err := fastPolicy(4).Do(context.Background(), "gone", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the 404 back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
}

func TestDoStopsOnBlock(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), "blocked", func() error {
		calls++
		return fmt.Errorf("fetch page: %w", ErrBlocked)
	})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("block retried %d times", calls)
	}
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "down", func() error {
		calls++
		return &StatusError{Code: 500, URL: "https://x.test"}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Name: "test", MaxAttempts: 10, MinDelay: 50 * time.Millisecond, MaxDelay: time.Second}.
		Do(ctx, "cancelled", func() error {
			calls++
			cancel()
			return &StatusError{Code: 500, URL: "https://x.test"}
		})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if calls != 1 {
		t.Fatalf("cancelled operation ran %d times", calls)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"blocked", ErrBlocked, false},
		{"wrapped blocked", fmt.Errorf("x: %w", ErrBlocked), false},
		{"canceled", context.Canceled, false},
		{"rate limited", &StatusError{Code: 429}, true},
		{"server error", &StatusError{Code: 502}, true},
		{"not found", &StatusError{Code: 404}, false},
		{"forbidden", &StatusError{Code: 403}, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"playwright timeout", errors.New("playwright: Timeout 30000ms exceeded"), true},
		{"generic", errors.New("parse failure"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}
