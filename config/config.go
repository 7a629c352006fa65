// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package config defines the recognised configuration options for the
// report handler pipeline and loads them from an optional YAML file,
// merged over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the external interface table.
// Load starts from Default, so fields absent from the YAML file keep
// their default values.
type Config struct {
	CPURAPLRefEvent  string `yaml:"cpu_rapl_ref_event"`
	DRAMRAPLRefEvent string `yaml:"dram_rapl_ref_event"`

	CPUErrorThreshold  float64 `yaml:"cpu_error_threshold"`
	DRAMErrorThreshold float64 `yaml:"dram_error_threshold"`

	LearnMinSamplesRequired int `yaml:"learn_min_samples_required"`
	LearnHistoryWindowSize  int `yaml:"learn_history_window_size"`

	SensorReportSamplingInterval time.Duration `yaml:"sensor_report_sampling_interval"`

	CPUTDP       float64 `yaml:"cpu_tdp"`
	CPUBaseClock float64 `yaml:"cpu_base_clock_mhz"`

	CPUFrequencyMin  float64 `yaml:"cpu_frequency_min_mhz"`
	CPUFrequencyBase float64 `yaml:"cpu_frequency_base_mhz"`
	CPUFrequencyMax  float64 `yaml:"cpu_frequency_max_mhz"`

	RealTimeMode       bool `yaml:"real_time_mode"`
	DisableCPUFormula  bool `yaml:"disable_cpu_formula"`
	DisableDRAMFormula bool `yaml:"disable_dram_formula"`

	UnhaltedCyclesEvent  string   `yaml:"unhalted_cycles_event"`
	ReferenceCyclesEvent string   `yaml:"reference_cycles_event"`
	ActivityEvents       []string `yaml:"activity_events"`
}

// Default returns the built-in defaults, applied before any YAML file is
// merged in.
func Default() Config {
	return Config{
		CPURAPLRefEvent:              "RAPL_ENERGY_PKG",
		DRAMRAPLRefEvent:             "RAPL_ENERGY_DRAM",
		CPUErrorThreshold:            5.0,
		DRAMErrorThreshold:           2.0,
		LearnMinSamplesRequired:      10,
		LearnHistoryWindowSize:       60,
		SensorReportSamplingInterval: time.Second,
		CPUBaseClock:                 100,
		CPUFrequencyMin:              1000,
		CPUFrequencyMax:              4000,
		RealTimeMode:                 false,
		DisableCPUFormula:            false,
		DisableDRAMFormula:           false,
		UnhaltedCyclesEvent:          "unhalted_cycles",
		ReferenceCyclesEvent:         "reference_cycles",
		ActivityEvents:               nil,
	}
}

// Load reads a YAML file at path and merges it over Default. An empty
// path is valid and returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}

	return cfg, nil
}
