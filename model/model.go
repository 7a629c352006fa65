// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package model implements the online-learned linear power model
// collection: one ordinary-least-squares regression model per
// frequency-layer key, each with a bounded history window and a stable
// digest over its fitted parameters.
package model

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/yusufraji/smartwatts-formula/internal/log"
	"github.com/yusufraji/smartwatts-formula/report"
)

// DefaultMinSamples is the minimum history length required to fit a
// model, unless configured otherwise.
const DefaultMinSamples = 10

// DefaultWindowSize is the maximum history length kept per model,
// unless configured otherwise.
const DefaultWindowSize = 60

// ErrNotInitialized indicates that Predict was called on a model that
// has never been successfully fitted.
var ErrNotInitialized = errors.New("power model not initialized")

// sample is one (features, label) pair recorded for training.
type sample struct {
	features report.CoreVector
	label    float64
}

// Model is a single key's linear regression model: a bounded FIFO of
// training samples plus the most recently fitted coefficients.
//
// A Model is not safe for concurrent use without external
// synchronization; Collection guards only its own map, not the Models
// it hands out.
type Model struct {
	minSamples int
	windowSize int

	history []sample

	coefficients map[string]float64
	intercept    float64
	hash         uint64
	fitted       bool

	// clampWarnedHash is the hash for which an invariant-violation
	// warning has already been logged, so a model stuck predicting
	// negative/NaN power doesn't spam the log every tick; a refit
	// changes the hash and allows one more warning.
	clampWarnedHash uint64
	clampWarned     bool
}

// newModel returns a Model configured with the given bounds.
func newModel(minSamples, windowSize int) *Model {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Model{minSamples: minSamples, windowSize: windowSize}
}

// Fitted reports whether the model has been successfully fitted at
// least once.
func (m *Model) Fitted() bool {
	return m.fitted
}

// Hash returns the stable digest of the model's fitted parameters, used
// as the formula ID of emitted power reports.
func (m *Model) Hash() uint64 {
	return m.hash
}

// HistoryLen returns the number of samples currently recorded.
func (m *Model) HistoryLen() int {
	return len(m.history)
}

// Predict returns the estimated power, in watts, for the given feature
// vector: intercept + sum(coefficient[i] * features[i]) over the
// intersected feature names (unseen feature names contribute zero). It
// returns ErrNotInitialized if the model has never been fitted.
//
// A prediction that would be negative is clamped to zero: negative
// power has no physical meaning and indicates the model is
// extrapolating outside the regime it was fitted on.
func (m *Model) Predict(features report.CoreVector) (float64, error) {
	if !m.fitted {
		return 0, ErrNotInitialized
	}

	watts := m.intercept
	for name, coef := range m.coefficients {
		watts += coef * float64(features[name])
	}

	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		m.warnClamp("predicted power is NaN or infinite, replacing with 0 watts")
		watts = 0
	}
	if watts < 0 {
		m.warnClamp("predicted power is negative, clamping to 0 watts")
		watts = 0
	}
	return watts, nil
}

// warnClamp logs reason once per model hash: a refit changes the hash
// and is treated as a new model for the purpose of this warning.
func (m *Model) warnClamp(reason string) {
	if m.clampWarned && m.clampWarnedHash == m.hash {
		return
	}
	log.Warnf("model %016x: %s", m.hash, reason)
	m.clampWarned = true
	m.clampWarnedHash = m.hash
}

// Record appends (features, label) to the model's bounded history,
// dropping the oldest sample once the configured window size is
// exceeded.
func (m *Model) Record(features report.CoreVector, label float64) {
	m.history = append(m.history, sample{features: features.Clone(), label: label})
	if len(m.history) > m.windowSize {
		m.history = m.history[len(m.history)-m.windowSize:]
	}
}

// Fit performs a closed-form ordinary-least-squares fit over the
// model's history, provided at least minSamples are recorded. Below
// that threshold, Fit is a no-op and leaves the model's state
// unchanged. On a successful fit, Hash is recomputed from the sorted
// feature names, coefficients and intercept.
func (m *Model) Fit() error {
	if len(m.history) < m.minSamples {
		return nil
	}

	names := featureNames(m.history)
	n := len(m.history)
	p := len(names) + 1 // +1 for intercept column

	x := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i, s := range m.history {
		x.Set(i, 0, 1) // intercept column
		for j, name := range names {
			x.Set(i, j+1, float64(s.features[name]))
		}
		y.Set(i, 0, s.label)
	}

	// Minimum-norm least squares via SVD, so a rank-deficient history
	// (e.g. repeated identical samples) still yields a fit.
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return errors.New("power model: SVD factorization failed")
	}
	var coef mat.Dense
	svd.SolveTo(&coef, y, svd.Rank(1e-12))

	m.intercept = coef.At(0, 0)
	coefficients := make(map[string]float64, len(names))
	for j, name := range names {
		coefficients[name] = coef.At(j+1, 0)
	}
	m.coefficients = coefficients
	m.fitted = true
	m.hash = computeHash(names, coefficients, m.intercept)
	return nil
}

// featureNames returns the sorted union of feature names seen across
// the given history, so the design matrix's columns are in a stable
// order regardless of map iteration order (needed for a reproducible
// Hash too).
func featureNames(history []sample) []string {
	seen := make(map[string]struct{})
	for _, s := range history {
		for name := range s.features {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// computeHash returns a stable digest over the sorted feature names,
// their coefficients, and the intercept.
func computeHash(names []string, coefficients map[string]float64, intercept float64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(coefficients[name]))
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(intercept))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
