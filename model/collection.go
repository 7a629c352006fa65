// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"
	"sync"

	"github.com/yusufraji/smartwatts-formula/report"
)

// Key identifies a frequency-layer model within a Collection.
type Key int

// IdleKey is the dedicated key used when the cycles counter used to
// derive a frequency-layer key is zero.
const IdleKey Key = -1

// FrequencyConfig holds the parameters needed to derive a
// frequency-layer key from a Core event vector (spec §4.3).
type FrequencyConfig struct {
	// UnhaltedCyclesEvent and ReferenceCyclesEvent name the Core
	// counters used to estimate the average observed frequency.
	UnhaltedCyclesEvent  string
	ReferenceCyclesEvent string

	// BaseClock is the clock (in the same unit as the resulting key,
	// typically 100 MHz steps) multiplied by the observed cycle ratio.
	BaseClock float64

	// FrequencyMin and FrequencyMax bound the resulting key.
	FrequencyMin float64
	FrequencyMax float64
}

// FrequencyLayerKey derives a coarse bucket of the socket's observed
// average frequency from the given Core event vector: the linear
// relationship between counters and power is only stable within a
// narrow frequency band, so models are partitioned by this key.
//
// Reports whose reference-cycles counter is zero (e.g. an idle socket)
// use the dedicated IdleKey, since the ratio would otherwise be
// undefined.
func FrequencyLayerKey(core report.CoreVector, cfg FrequencyConfig) Key {
	reference := core[cfg.ReferenceCyclesEvent]
	if reference == 0 {
		return IdleKey
	}

	unhalted := core[cfg.UnhaltedCyclesEvent]
	ratio := float64(unhalted) / float64(reference)
	freq := math.Floor(ratio * cfg.BaseClock)

	if freq < cfg.FrequencyMin {
		freq = cfg.FrequencyMin
	}
	if freq > cfg.FrequencyMax {
		freq = cfg.FrequencyMax
	}
	return Key(freq)
}

// Collection is a key-addressable collection of power models, one per
// frequency-layer key, lazily created on first use. A Collection is
// exclusive to a single handler, but guards its internal map with a
// mutex so it can be safely inspected (e.g. for metrics or
// diagnostics) from other goroutines.
type Collection struct {
	mu         sync.Mutex
	minSamples int
	windowSize int
	models     map[Key]*Model
}

// NewCollection returns an empty Collection whose models are configured
// with the given training bounds.
func NewCollection(minSamples, windowSize int) *Collection {
	return &Collection{
		minSamples: minSamples,
		windowSize: windowSize,
		models:     make(map[Key]*Model),
	}
}

// Get returns the model for the given key, creating it if absent.
func (c *Collection) Get(key Key) *Model {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.models[key]
	if !ok {
		m = newModel(c.minSamples, c.windowSize)
		c.models[key] = m
	}
	return m
}

// Len returns the number of distinct frequency-layer models currently
// held by the collection.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}

// Keys returns the set of frequency-layer keys currently held by the
// collection. Order is unspecified.
func (c *Collection) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.models))
	for k := range c.models {
		keys = append(keys, k)
	}
	return keys
}
