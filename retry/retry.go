package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrBlocked means the target served a bot challenge or hard block. Retrying
// against an active challenge only burns the proxy, so it is never retried.
var ErrBlocked = errors.New("request blocked by anti-bot protection")

// StatusError is an HTTP error response from a target site.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth another attempt. Rate limits
// and server errors are transient; everything else in 4xx is not.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// Policy bounds the exponential backoff for one class of operation.
type Policy struct {
	Name        string
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

var (
	// Network covers plain HTTP fetches.
	Network = Policy{Name: "network", MaxAttempts: 4, MinDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	// Browser covers playwright navigations, which are slow enough that
	// tight retry loops are pointless.
	Browser = Policy{Name: "browser", MaxAttempts: 3, MinDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	// Critical covers persistence operations that must not silently drop
	// data.
	Critical = Policy{Name: "critical", MaxAttempts: 6, MinDelay: time.Second, MaxDelay: 60 * time.Second}
)

// Do runs op under the policy's backoff schedule. Non-retryable errors stop
// immediately; context cancellation always wins.
func (p Policy) Do(ctx context.Context, label string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("%s: attempt %d/%d failed (%v), retrying in %s", label, attempt, p.MaxAttempts, err, wait)
	}

	return backoff.RetryNotify(wrapped,
		backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(p.MaxAttempts-1)),
		notify)
}

// Retryable classifies an error as transient. Blocks and cancellations are
// terminal; connection-level failures and 429/5xx responses are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlocked) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// playwright-go surfaces navigation timeouts as plain errors.
	msg := err.Error()
	if strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded") {
		return true
	}
	return false
}
