// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"sync"

	"github.com/yusufraji/smartwatts-formula/report"
)

// Recorder is an in-memory Sink used by tests: the persistent store
// itself is out of scope (spec §1), so tests substitute this recorder
// for the acceptance scenarios originally run against a real database.
type Recorder struct {
	mu      sync.Mutex
	reports []report.Power
	failN   int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailNextN makes the next n calls to Send return an error, to
// exercise sink backpressure / retry behavior in tests.
func (r *Recorder) FailNextN(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failN = n
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, p report.Power) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failN > 0 {
		r.failN--
		return errRecorderUnavailable
	}

	r.reports = append(r.reports, p)
	return nil
}

// Reports returns a copy of the reports recorded so far, in the order
// they were sent.
func (r *Recorder) Reports() []report.Power {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]report.Power, len(r.reports))
	copy(out, r.reports)
	return out
}

var errRecorderUnavailable = recorderError("recorder: simulated sink failure")

type recorderError string

func (e recorderError) Error() string { return string(e) }
