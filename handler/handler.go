// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package handler implements the per-(sensor, socket, scope) report
// handler state machine: it correlates released tick buckets with a
// frequency-layer-keyed power model collection, emits RAPL, system and
// per-target Power reports in a fixed order, and drives the
// error-driven trainer.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yusufraji/smartwatts-formula/internal/log"
	"github.com/yusufraji/smartwatts-formula/metrics"
	"github.com/yusufraji/smartwatts-formula/model"
	"github.com/yusufraji/smartwatts-formula/report"
	"github.com/yusufraji/smartwatts-formula/tickbuffer"
	"github.com/yusufraji/smartwatts-formula/trainer"
)

// Scope selects which RAPL reference event a Handler uses.
type Scope string

// The two scopes named in the external interface table.
const (
	ScopeCPU  Scope = "cpu"
	ScopeDRAM Scope = "dram"
)

// Config holds everything needed to construct a Handler for one
// (sensor, socket, scope) triple.
type Config struct {
	Sensor string
	Socket string
	Scope  Scope

	// ReferenceEvent is the RAPL reference event name for this scope
	// (e.g. "rapl_power_core_watts" for CPU, "rapl_power_dram_watts"
	// for DRAM).
	ReferenceEvent string

	SamplingInterval time.Duration
	LookAhead        int
	Threshold        float64

	MinSamples, WindowSize int
	Frequency              model.FrequencyConfig

	// ActivityEvents names the Core event names considered "activity"
	// for apportionment (Glossary). A nil slice means every Core
	// feature name observed in the global vector counts.
	ActivityEvents []string
}

// Handler is one instance of the §4.5 report handler state machine. It
// owns a tick buffer and power model collection exclusively; only its
// output channel and the shared sink are accessed by other goroutines.
type Handler struct {
	cfg     Config
	buf     *tickbuffer.Buffer
	models  *model.Collection
	trainer trainer.Trainer
}

// New constructs a Handler from cfg.
func New(cfg Config) *Handler {
	return &Handler{
		cfg:     cfg,
		buf:     tickbuffer.New(cfg.LookAhead),
		models:  model.NewCollection(cfg.MinSamples, cfg.WindowSize),
		trainer: trainer.New(cfg.Threshold),
	}
}

// Run is the channel-driven processing loop (spec §5). It consumes from
// in until the channel is closed or ctx is cancelled, draining any
// remaining buffered ticks (without further look-ahead) before
// returning. A send on out blocks until accepted; out is expected to be
// drained by a shared fan-in goroutine (see sink.Fanin) so that
// backpressure from the sink, not an abandoned context, governs the
// pace of emission.
func (h *Handler) Run(ctx context.Context, in <-chan report.HWPC, out chan<- report.Power) error {
	for {
		select {
		case <-ctx.Done():
			return h.drain(out)
		case r, ok := <-in:
			if !ok {
				return h.drain(out)
			}
			if err := h.insert(r, out); err != nil {
				return err
			}
		}
	}
}

// insert feeds one HWPC report into the tick buffer and, if a bucket
// was released, processes it.
func (h *Handler) insert(r report.HWPC, out chan<- report.Power) error {
	metrics.TicksProcessed.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Inc()

	bucket, ok, err := h.buf.Insert(r)
	if err != nil {
		var incomplete *tickbuffer.IncompleteTickError
		if errors.As(err, &incomplete) {
			metrics.IncompleteTicksDropped.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Inc()
			log.Warnf("handler[%s/%s/%s]: dropping tick: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}

	metrics.BucketsReleased.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Inc()
	return h.process(bucket, out)
}

// drain releases every remaining buffered bucket in timestamp order,
// without further look-ahead, and processes each in turn.
func (h *Handler) drain(out chan<- report.Power) error {
	buckets, errs := h.buf.Drain()
	for _, err := range errs {
		metrics.IncompleteTicksDropped.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Inc()
		log.Warnf("handler[%s/%s/%s]: dropping tick on drain: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
	}
	for _, bucket := range buckets {
		metrics.BucketsReleased.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Inc()
		if err := h.process(bucket, out); err != nil {
			return err
		}
	}
	return nil
}

// process implements the §4.5 step sequence for one released bucket.
func (h *Handler) process(bucket tickbuffer.Bucket, out chan<- report.Power) error {
	global, ok := bucket.Reports[report.AllTarget]
	if !ok {
		// Guarded by the tick buffer's IncompleteTick contract; unreachable
		// in practice, but fail closed rather than panic on a nil report.
		return nil
	}

	targets := make(map[string]report.HWPC, len(bucket.Reports)-1)
	for target, r := range bucket.Reports {
		if target == report.AllTarget {
			continue
		}
		targets[target] = r
	}

	rapl, err := report.RAPLEvents(global, h.cfg.Socket, h.cfg.ReferenceEvent, h.cfg.SamplingInterval)
	if err != nil {
		log.Warnf("handler[%s/%s/%s]: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
		return nil
	}
	raplPower := rapl[h.cfg.ReferenceEvent]

	if pcu, err := report.PCUEvents(global, h.cfg.Socket); err != nil {
		log.Warnf("handler[%s/%s/%s]: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
	} else {
		log.Debugf("handler[%s/%s/%s]: pcu events: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, pcu)
	}

	globalCore, err := report.AggregateCoreEvents(targets, h.cfg.Socket)
	if err != nil {
		log.Warnf("handler[%s/%s/%s]: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
		return nil
	}

	key := model.FrequencyLayerKey(globalCore, h.cfg.Frequency)
	m := h.models.Get(key)
	h.reportModelDiagnostics()

	// Step 3: RAPL power report.
	h.emit(out, bucket.Timestamp, "rapl", raplPower, h.cfg.ReferenceEvent)

	// Step 4: whole-system prediction.
	systemPower, err := m.Predict(globalCore)
	if err != nil {
		if errors.Is(err, model.ErrNotInitialized) {
			// Bootstrap the model from RAPL ground truth and stop
			// processing this bucket; no system/target reports yet.
			m.Record(globalCore, raplPower)
			if ferr := m.Fit(); ferr != nil {
				log.Warnf("handler[%s/%s/%s]: fit: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, ferr)
			}
			if m.Fitted() {
				metrics.RetrainsTriggered.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope), formulaID(key)).Inc()
				metrics.ModelHash.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope), formulaID(key)).Set(float64(m.Hash() & 0x7fffffff))
			}
			return nil
		}
		log.Warnf("handler[%s/%s/%s]: predict: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
		return nil
	}

	formula := fmt.Sprintf("%016x", m.Hash())
	h.emit(out, bucket.Timestamp, "global", systemPower, formula)

	// Step 5: per-target apportionment, targets sorted for determinism.
	targetIDs := make([]string, 0, len(targets))
	for id := range targets {
		targetIDs = append(targetIDs, id)
	}
	sort.Strings(targetIDs)

	activity := h.cfg.ActivityEvents
	if len(activity) == 0 {
		activity = activityEventNames(globalCore)
	}

	for _, id := range targetIDs {
		targetCore, err := report.CoreEvents(targets[id], h.cfg.Socket)
		if err != nil {
			log.Warnf("handler[%s/%s/%s]: target %q: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, id, err)
			continue
		}
		targetPower := apportion(systemPower, targetCore, globalCore, activity)
		h.emit(out, bucket.Timestamp, id, targetPower, formula)
	}

	// Step 6: error-driven retrain.
	trained, err := h.trainer.Apply(m, globalCore, raplPower, systemPower)
	if err != nil {
		log.Warnf("handler[%s/%s/%s]: fit: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, err)
	}
	if trained {
		metrics.RetrainsTriggered.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope), formulaID(key)).Inc()
		metrics.ModelHash.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope), formulaID(key)).Set(float64(m.Hash() & 0x7fffffff))
	}

	return nil
}

// emit sends a single Power report onto out. The send blocks until the
// shared sink's fan-in accepts it, by design (spec §5 Shared resources).
func (h *Handler) emit(out chan<- report.Power, ts time.Time, target string, watts float64, formula string) {
	out <- report.Power{
		Timestamp:  ts,
		Sensor:     h.cfg.Sensor,
		Target:     target,
		PowerWatts: watts,
		Metadata: report.Metadata{
			Scope:   string(h.cfg.Scope),
			Socket:  h.cfg.Socket,
			Formula: formula,
		},
	}
}

func formulaID(key model.Key) string {
	return fmt.Sprintf("%d", int(key))
}

// reportModelDiagnostics refreshes the active-model-count gauge and logs
// the currently held frequency-layer keys, so a deployment can tell
// whether its model collection is growing without scraping the hash
// gauge for every individual layer.
func (h *Handler) reportModelDiagnostics() {
	metrics.ModelsActive.WithLabelValues(h.cfg.Socket, string(h.cfg.Scope)).Set(float64(h.models.Len()))
	log.Debugf("handler[%s/%s/%s]: active frequency layers: %v", h.cfg.Sensor, h.cfg.Socket, h.cfg.Scope, h.models.Keys())
}

// activityEventNames returns the sorted set of Core feature names
// present in core, used as the default "activity" set for apportionment
// when the deployment does not narrow it via configuration.
func activityEventNames(core report.CoreVector) []string {
	names := make([]string, 0, len(core))
	for name := range core {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// apportion implements the per-target apportionment rule (Glossary):
// the target's share of the whole-system estimate is weighted by its
// share of the "activity" Core feature space. A target contributing
// nothing to a zero-activity tick receives zero, not NaN (spec §8 P8).
func apportion(systemPower float64, target, global report.CoreVector, activity []string) float64 {
	globalSum := global.Sum(activity)
	if globalSum == 0 {
		return 0
	}
	targetSum := target.Sum(activity)
	return systemPower * float64(targetSum) / float64(globalSum)
}
