// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/yusufraji/smartwatts-formula/internal/log"
	"github.com/yusufraji/smartwatts-formula/metrics"
	"github.com/yusufraji/smartwatts-formula/report"
)

// UnavailableError indicates that a sink failed to accept a report
// after exhausting its configured retry attempts. It is a fatal,
// lifecycle-level error that must be surfaced to the supervisor (spec
// §7 SinkUnavailable).
type UnavailableError struct {
	Attempts int
	Err      error
}

// Error returns a reason of this error.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("sink unavailable after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error from the sink.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RetryingSink wraps a Sink, retrying a failed Send with bounded
// exponential backoff before giving up and reporting the report as
// lost rather than silently discarding it.
type RetryingSink struct {
	next       Sink
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	clk        clock.Clock
}

// NewRetryingSink wraps next with bounded exponential backoff retry.
// maxRetries bounds the number of additional attempts after the first.
func NewRetryingSink(next Sink, maxRetries int, baseDelay, maxDelay time.Duration) *RetryingSink {
	return &RetryingSink{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		clk:        clock.New(),
	}
}

// NewRetryingSinkWithClock is NewRetryingSink with an injectable clock,
// so backoff delays can be driven by a clock.FakeClock in tests instead
// of waiting on the wall clock.
func NewRetryingSinkWithClock(next Sink, maxRetries int, baseDelay, maxDelay time.Duration, clk clock.Clock) *RetryingSink {
	s := NewRetryingSink(next, maxRetries, baseDelay, maxDelay)
	s.clk = clk
	return s
}

// Send attempts to deliver r to the wrapped sink, retrying on error
// with exponential backoff up to maxRetries additional attempts. It
// returns an *UnavailableError if every attempt fails.
func (s *RetryingSink) Send(ctx context.Context, r report.Power) error {
	var lastErr error
	delay := s.baseDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &UnavailableError{Attempts: attempt, Err: ctx.Err()}
			case <-s.clk.After(delay):
			}
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		err := s.next.Send(ctx, r)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warnf("sink send failed (attempt %d/%d): %v", attempt+1, s.maxRetries+1, err)
	}

	metrics.ReportsLost.Inc()
	return &UnavailableError{Attempts: s.maxRetries + 1, Err: lastErr}
}

// IsUnavailable reports whether err is (or wraps) an *UnavailableError.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}
