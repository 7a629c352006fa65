// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yusufraji/smartwatts-formula/report"
)

func TestApportionSplitsProportionally(t *testing.T) {
	global := report.CoreVector{"instructions": 100}
	target := report.CoreVector{"instructions": 25}

	got := apportion(40, target, global, []string{"instructions"})
	require.InDelta(t, 10.0, got, 1e-9)
}

func TestApportionZeroGlobalIsZeroNotNaN(t *testing.T) {
	// P8: a target contributing nothing to a zero-activity tick must
	// receive exactly zero, never NaN.
	global := report.CoreVector{"instructions": 0}
	target := report.CoreVector{"instructions": 0}

	got := apportion(40, target, global, []string{"instructions"})
	require.Zero(t, got)
}

func TestApportionSumsToSystemPower(t *testing.T) {
	// P8: per-target estimates partition the system estimate exactly
	// when the targets partition the global activity features.
	global := report.CoreVector{"instructions": 100}
	a := report.CoreVector{"instructions": 60}
	b := report.CoreVector{"instructions": 40}

	pa := apportion(50, a, global, []string{"instructions"})
	pb := apportion(50, b, global, []string{"instructions"})
	require.InDelta(t, 50.0, pa+pb, 1e-6)
}

func TestActivityEventNamesSorted(t *testing.T) {
	core := report.CoreVector{"b_event": 1, "a_event": 2}
	require.Equal(t, []string{"a_event", "b_event"}, activityEventNames(core))
}
