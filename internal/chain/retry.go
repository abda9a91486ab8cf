package chain

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Retry wrapper — exponential backoff on transient RPC failures
// ---------------------------------------------------------------------------

// retryDelays bounds total extra wait per call to 3.5s.
var retryDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// OnRetry, when set, is called once per transient-error retry. The server
// binary points it at a metrics counter.
var OnRetry func()

// transientMarkers are error substrings treated as retryable.
var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"429",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"eof",
}

// isTransient classifies an error as retryable. Contract reverts and other
// chain-side errors are not retried; the scheduled sweep retries those
// naturally on its next tick.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn, retrying transient failures with exponential backoff
// (500ms, 1s, 2s). Non-transient errors return immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			if OnRetry != nil {
				OnRetry()
			}
			log.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("chain: retrying after transient error")
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
