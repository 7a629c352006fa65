// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newReport(groups map[string]map[string]SocketGroup) HWPC {
	return HWPC{
		Timestamp: time.Unix(0, 0),
		Sensor:    "test-sensor",
		Target:    AllTarget,
		Groups:    groups,
	}
}

func TestRAPLEvents(t *testing.T) {
	t.Run("ConvertsRawToWatts", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{
			raplGroup: {
				"0": {
					"7": {"RAPL_ENERGY_PKG": uint64(1) << 32}, // 1 joule in fixed-point
				},
			},
		})

		v, err := RAPLEvents(r, "0", "RAPL_ENERGY_PKG", time.Second)
		require.NoError(t, err)
		require.InDelta(t, 1.0, v["RAPL_ENERGY_PKG"], 1e-9)
	})

	t.Run("DividesBySamplingInterval", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{
			raplGroup: {
				"0": {"7": {"RAPL_ENERGY_PKG": uint64(1) << 32}},
			},
		})

		v, err := RAPLEvents(r, "0", "RAPL_ENERGY_PKG", 2*time.Second)
		require.NoError(t, err)
		require.InDelta(t, 0.5, v["RAPL_ENERGY_PKG"], 1e-9)
	})

	t.Run("MissingGroup", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{})
		_, err := RAPLEvents(r, "0", "RAPL_ENERGY_PKG", time.Second)
		require.Error(t, err)
		var target *MissingGroupError
		require.ErrorAs(t, err, &target)
	})

	t.Run("MissingEvent", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{
			raplGroup: {"0": {"7": {"OTHER": 1}}},
		})
		_, err := RAPLEvents(r, "0", "RAPL_ENERGY_PKG", time.Second)
		require.Error(t, err)
		var target *MissingEventError
		require.ErrorAs(t, err, &target)
	})
}

func TestPCUEvents(t *testing.T) {
	t.Run("FiltersTimeEvents", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{
			pcuGroup: {
				"0": {
					"3": {"time_enabled": 123, "UNCORE_FREQ": 42},
					"9": {"time_enabled": 999, "UNCORE_FREQ": 99},
				},
			},
		})

		v, err := PCUEvents(r, "0")
		require.NoError(t, err)
		// first CPU is lexicographically smallest: "3", not "9"
		require.Equal(t, map[string]uint64{"UNCORE_FREQ": 42}, v)
	})

	t.Run("MissingGroup", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{})
		_, err := PCUEvents(r, "0")
		require.Error(t, err)
	})
}

func TestCoreEvents(t *testing.T) {
	t.Run("SumsAcrossCPUsExcludingTime", func(t *testing.T) {
		r := newReport(map[string]map[string]SocketGroup{
			coreGroup: {
				"0": {
					"0": {"instructions": 10, "time_enabled": 100},
					"1": {"instructions": 20, "time_enabled": 200},
				},
			},
		})

		v, err := CoreEvents(r, "0")
		require.NoError(t, err)
		require.Equal(t, CoreVector{"instructions": 30}, v)
	})

	t.Run("Deterministic", func(t *testing.T) {
		// P1: CoreEvents is deterministic regardless of map iteration order.
		r := newReport(map[string]map[string]SocketGroup{
			coreGroup: {
				"0": {
					"a": {"x": 1},
					"b": {"x": 2},
					"c": {"x": 3},
				},
			},
		})

		var results []uint64
		for i := 0; i < 10; i++ {
			v, err := CoreEvents(r, "0")
			require.NoError(t, err)
			results = append(results, v["x"])
		}
		for _, got := range results {
			require.Equal(t, uint64(6), got)
		}
	})
}

func TestAggregateCoreEvents(t *testing.T) {
	reports := map[string]HWPC{
		"mongodb": newReport(map[string]map[string]SocketGroup{
			coreGroup: {"0": {"0": {"instructions": 10}}},
		}),
		"influxdb": newReport(map[string]map[string]SocketGroup{
			coreGroup: {"0": {"0": {"instructions": 5}}},
		}),
	}

	v, err := AggregateCoreEvents(reports, "0")
	require.NoError(t, err)
	require.Equal(t, uint64(15), v["instructions"])
}

func TestLdexpSanity(t *testing.T) {
	// Sanity check on the fixed-point conversion constant used by RAPLEvents.
	require.InDelta(t, 1.0, math.Ldexp(float64(uint64(1)<<32), -32), 1e-9)
}
