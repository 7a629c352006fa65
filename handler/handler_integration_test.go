// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/yusufraji/smartwatts-formula/model"
	"github.com/yusufraji/smartwatts-formula/report"
	"github.com/yusufraji/smartwatts-formula/sink"
	"github.com/yusufraji/smartwatts-formula/tickbuffer"
)

const testSocket = "0"

func tickReports(ts time.Time, raplRaw uint64, coreVals map[string]uint64) map[string]report.HWPC {
	all := report.HWPC{
		Timestamp: ts,
		Sensor:    "test",
		Target:    report.AllTarget,
		Groups: map[string]map[string]report.SocketGroup{
			"rapl": {testSocket: {"0": {"rapl_power_core_watts": raplRaw}}},
		},
	}
	mongodb := report.HWPC{
		Timestamp: ts,
		Sensor:    "test",
		Target:    "mongodb",
		Groups: map[string]map[string]report.SocketGroup{
			"core": {testSocket: {"0": cloneCounters(coreVals)}},
		},
	}
	influxdb := report.HWPC{
		Timestamp: ts,
		Sensor:    "test",
		Target:    "influxdb",
		Groups: map[string]map[string]report.SocketGroup{
			"core": {testSocket: {"0": {}}},
		},
	}
	sensor := report.HWPC{
		Timestamp: ts,
		Sensor:    "test",
		Target:    "sensor",
		Groups: map[string]map[string]report.SocketGroup{
			"core": {testSocket: {"0": {}}},
		},
	}
	return map[string]report.HWPC{
		report.AllTarget: all,
		"mongodb":         mongodb,
		"influxdb":        influxdb,
		"sensor":          sensor,
	}
}

func cloneCounters(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func baseConfig(lookAhead int) Config {
	return Config{
		Sensor:           "test",
		Socket:           testSocket,
		Scope:            ScopeCPU,
		ReferenceEvent:   "rapl_power_core_watts",
		SamplingInterval: time.Second,
		LookAhead:        lookAhead,
		Threshold:        2.0,
		MinSamples:       10,
		WindowSize:       60,
		Frequency: model.FrequencyConfig{
			UnhaltedCyclesEvent:  "unhalted_cycles",
			ReferenceCyclesEvent: "reference_cycles",
			BaseClock:            100,
			FrequencyMin:         1000,
			FrequencyMax:         4000,
		},
	}
}

// feedDirect inserts each tick's reports into h without going through a
// channel, so the test can assert on mid-stream release behavior alone
// (without a shutdown-time drain releasing the still-buffered tail).
func feedDirect(t *testing.T, h *Handler, ticks []map[string]report.HWPC, out chan report.Power) {
	t.Helper()
	for _, tick := range ticks {
		for _, target := range []string{report.AllTarget, "mongodb", "influxdb", "sensor"} {
			r, ok := tick[target]
			if !ok {
				continue
			}
			require.NoError(t, h.insert(r, out))
		}
	}
}

func TestWarmUpEmitsOnlyRAPLReports(t *testing.T) {
	// Scenario 1: 10 ticks, default look-ahead (K=5) -> exactly 5
	// mid-stream releases, each with only a "rapl" report since the
	// model never reaches min_samples before release.
	cfg := baseConfig(tickbuffer.DefaultLookAhead)
	h := New(cfg)
	out := make(chan report.Power, 64)

	var ticks []map[string]report.HWPC
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		ticks = append(ticks, tickReports(base.Add(time.Duration(i)*time.Second), uint64(i+1)<<32, map[string]uint64{
			"instructions": 10,
		}))
	}

	feedDirect(t, h, ticks, out)
	close(out)

	var reports []report.Power
	for p := range out {
		reports = append(reports, p)
	}

	require.Len(t, reports, 5)
	for _, r := range reports {
		require.Equal(t, "rapl", r.Target)
	}
}

func TestRealTimeModeReleasesMoreBuckets(t *testing.T) {
	// Scenario 2: same input, K=2 -> 10-2 = 8 mid-stream releases.
	cfg := baseConfig(tickbuffer.RealTimeLookAhead)
	h := New(cfg)
	out := make(chan report.Power, 64)

	var ticks []map[string]report.HWPC
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		ticks = append(ticks, tickReports(base.Add(time.Duration(i)*time.Second), uint64(i+1)<<32, map[string]uint64{
			"instructions": 10,
		}))
	}

	feedDirect(t, h, ticks, out)
	close(out)

	var reports []report.Power
	for p := range out {
		reports = append(reports, p)
	}
	require.Len(t, reports, 8)
}

func TestMissingRAPLGroupDropsOnlyThatTick(t *testing.T) {
	// Scenario 5: one tick lacks "rapl"; its bucket emits nothing, but
	// surrounding ticks are unaffected.
	cfg := baseConfig(3)
	h := New(cfg)
	out := make(chan report.Power, 64)

	base := time.Unix(0, 0)
	good1 := tickReports(base, 1<<32, map[string]uint64{"instructions": 10})
	broken := tickReports(base.Add(time.Second), 0, map[string]uint64{"instructions": 10})
	delete(broken[report.AllTarget].Groups, "rapl")
	good2 := tickReports(base.Add(2*time.Second), 2<<32, map[string]uint64{"instructions": 10})
	// Three more ticks to push good1, broken and good2 past the K=3
	// look-ahead and into mid-stream release.
	good3 := tickReports(base.Add(3*time.Second), 3<<32, map[string]uint64{"instructions": 10})
	good4 := tickReports(base.Add(4*time.Second), 4<<32, map[string]uint64{"instructions": 10})
	good5 := tickReports(base.Add(5*time.Second), 5<<32, map[string]uint64{"instructions": 10})

	feedDirect(t, h, []map[string]report.HWPC{good1, broken, good2, good3, good4, good5}, out)
	close(out)

	var reports []report.Power
	for p := range out {
		reports = append(reports, p)
	}

	// good1 and good2 each contribute one "rapl" report; broken
	// contributes none.
	require.Len(t, reports, 2)
	for _, r := range reports {
		require.Equal(t, "rapl", r.Target)
	}
}

func TestFittedModelEmitsFullOrderAndApportionment(t *testing.T) {
	// P7: once the model is fitted mid-stream, a released bucket emits
	// the full rapl -> global -> targets-sorted sequence. P8: the
	// per-target estimates sum to the system estimate, since the three
	// targets here partition the global Core feature vector exactly.
	cfg := baseConfig(2)
	cfg.MinSamples = 2
	cfg.Threshold = 1000 // large enough that the trainer never fires once fitted
	h := New(cfg)
	out := make(chan report.Power, 256)

	const raplRaw = uint64(50) << 32 // -> 50 W at a 1s sampling interval
	coreVals := map[string]uint64{"instructions": 100}

	var ticks []map[string]report.HWPC
	base := time.Unix(0, 0)
	for i := 0; i < 6; i++ {
		ticks = append(ticks, tickReports(base.Add(time.Duration(i)*time.Second), raplRaw, coreVals))
	}

	feedDirect(t, h, ticks, out)
	close(out)

	var reports []report.Power
	for p := range out {
		reports = append(reports, p)
	}

	// i=0,1: model not yet fitted, bootstrap-only (1 "rapl" report each).
	// i=2,3: fitted, full 5-report sequence each. i=4,5 stay buffered
	// (no drain was run), so they never reach out at all.
	require.Len(t, reports, 1+1+5+5)

	require.Equal(t, "rapl", reports[0].Target)
	require.Equal(t, "rapl", reports[1].Target)

	for _, group := range [][]report.Power{reports[2:7], reports[7:12]} {
		require.Equal(t, "rapl", group[0].Target)
		require.InDelta(t, 50.0, group[0].PowerWatts, 1e-9)

		require.Equal(t, "global", group[1].Target)
		systemPower := group[1].PowerWatts

		require.Equal(t, []string{"influxdb", "mongodb", "sensor"}, []string{group[2].Target, group[3].Target, group[4].Target})

		var targetSum float64
		for _, r := range group[2:5] {
			targetSum += r.PowerWatts
		}
		require.InDelta(t, systemPower, targetSum, 1e-6)
	}
}

func TestSinkBackpressureNoLossInOrder(t *testing.T) {
	// Scenario 6: the shared sink transiently fails (simulating a
	// pause); every bucket released must still reach the recorder, in
	// timestamp order, once the retrying sink catches up.
	cfg := baseConfig(2)
	h := New(cfg)

	var ticks []map[string]report.HWPC
	base := time.Unix(0, 0)
	for i := 0; i < 6; i++ {
		ticks = append(ticks, tickReports(base.Add(time.Duration(i)*time.Second), uint64(i+1)<<32, map[string]uint64{
			"instructions": 10,
		}))
	}

	in := make(chan report.HWPC, 4)
	out := make(chan report.Power, 1024)
	rec := sink.NewRecorder()
	rec.FailNextN(2)
	retrying := sink.NewRetryingSink(rec, 5, time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Run never closes out; close it here so Fanin returns once
		// everything emitted has been delivered.
		defer close(out)
		return h.Run(gctx, in, out)
	})
	sink.Fanin(gctx, g, out, retrying)

	for _, tick := range ticks {
		for _, target := range []string{report.AllTarget, "mongodb", "influxdb", "sensor"} {
			in <- tick[target]
		}
	}
	close(in)

	require.NoError(t, g.Wait())

	got := rec.Reports()
	require.Len(t, got, 6) // 6 ticks released across mid-stream + shutdown drain
	for i := 1; i < len(got); i++ {
		require.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
}
