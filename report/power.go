// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package report

import "time"

// Metadata carries the scope-specific context of a Power report.
type Metadata struct {
	// Scope is "cpu" or "dram".
	Scope string
	// Socket is the socket identifier the report was computed for.
	Socket string
	// Formula identifies the source of the power value: the RAPL
	// reference event name for ground-truth reports, or the power
	// model's Hash (rendered as a string) otherwise.
	Formula string
}

// Power is a single power estimate for one target at one tick.
type Power struct {
	Timestamp  time.Time
	Sensor     string
	Target     string
	PowerWatts float64
	Metadata   Metadata
}
