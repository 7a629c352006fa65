// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package sink abstracts the persistent Power-report sink and the
// upstream HWPC report source. Both are out of scope for this module
// (spec §1): they are specified here only through their interface, so
// the report handler can be exercised and driven against in-memory
// test doubles.
package sink

import (
	"context"

	"github.com/yusufraji/smartwatts-formula/report"
)

// Source produces the HWPC reports of the upstream sensor; the caller
// routes them to the per-(socket, scope) handlers.
// Implementations are expected to close their returned channel once
// the upstream transport is exhausted or shut down, per the spec's
// SourceClosed terminal condition.
type Source interface {
	Reports(ctx context.Context) <-chan report.HWPC
}

// Sink consumes Power reports. It must be safe for concurrent use:
// multiple handler goroutines share one sink.
type Sink interface {
	Send(ctx context.Context, r report.Power) error
}
