// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package trainer implements the error-driven retraining policy applied
// after a report handler emits its whole-system power prediction for a
// tick.
package trainer

import (
	"math"

	"github.com/yusufraji/smartwatts-formula/model"
	"github.com/yusufraji/smartwatts-formula/report"
)

// Trainer decides, after each tick's whole-system prediction, whether
// the selected model should be retrained against the RAPL ground
// truth.
type Trainer struct {
	// Threshold is the absolute-error bound (in watts) beyond which a
	// retrain is triggered.
	Threshold float64
}

// New returns a Trainer with the given error threshold.
func New(threshold float64) Trainer {
	return Trainer{Threshold: threshold}
}

// Apply compares the RAPL-measured ground truth against the model's
// predicted power. If the absolute error exceeds the trainer's
// threshold, it records (features, raplPower) on m and refits it. When
// the current model already tracks RAPL within threshold, it is left
// untouched: retraining would only add noise.
//
// It returns whether a retrain was triggered, and any error from the
// underlying Fit call.
func (t Trainer) Apply(m *model.Model, features report.CoreVector, raplPower, predictedPower float64) (bool, error) {
	if math.Abs(raplPower-predictedPower) <= t.Threshold {
		return false, nil
	}

	m.Record(features, raplPower)
	if err := m.Fit(); err != nil {
		return true, err
	}
	return true, nil
}
