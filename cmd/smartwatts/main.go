// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Command smartwatts wires together the default JSON-lines source and
// sink with one report handler per (socket, scope), per the recognised
// configuration options (spec §6). Production deployments are expected
// to supply their own transport/sink (spec §1); the JSON-lines
// implementations here exist so the binary is runnable end to end out
// of the box.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yusufraji/smartwatts-formula/config"
	"github.com/yusufraji/smartwatts-formula/handler"
	"github.com/yusufraji/smartwatts-formula/internal/hosttopology"
	"github.com/yusufraji/smartwatts-formula/internal/log"
	"github.com/yusufraji/smartwatts-formula/internal/version"
	"github.com/yusufraji/smartwatts-formula/model"
	"github.com/yusufraji/smartwatts-formula/report"
	"github.com/yusufraji/smartwatts-formula/sink"
	"github.com/yusufraji/smartwatts-formula/tickbuffer"
)

type options struct {
	configPath        string
	sockets           string
	metricsAddr       string
	skipTopologyCheck bool
}

func main() {
	// logrus.Logger's method set already satisfies log.Logger, so it
	// can back the facade directly without an adapter.
	log.SetLogger(logrus.StandardLogger())

	var o options

	root := &cobra.Command{
		Use:   "smartwatts",
		Short: "Per-socket power-estimation report handler",
		Long: `smartwatts correlates HWPC reports with RAPL energy counters via an
online-learned linear power model, emitting power estimates for the
RAPL reference, the whole system, and every observed target.

Input is read as newline-delimited JSON from stdin; output is written
as newline-delimited JSON to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.configPath, "config", "", "path to a YAML configuration file")
	root.Flags().StringVar(&o.sockets, "sockets", "0", "comma-separated socket IDs to run handlers for")
	root.Flags().StringVar(&o.metricsAddr, "metrics-addr", ":9404", "address to serve Prometheus /metrics on")
	root.Flags().BoolVar(&o.skipTopologyCheck, "skip-topology-check", false, "skip the startup host-topology sanity check")

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	log.Infof("smartwatts %s", version.GetFullVersion())

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	sockets := strings.Split(o.sockets, ",")
	for i := range sockets {
		sockets[i] = strings.TrimSpace(sockets[i])
	}

	if !o.skipTopologyCheck {
		if err := hosttopology.Check(len(sockets)); err != nil {
			log.Warnf("host topology check: %v", err)
		}
	}

	metricsSrv := &http.Server{Addr: o.metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server: %v", err)
		}
	}()
	defer metricsSrv.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lookAhead := tickbuffer.DefaultLookAhead
	if cfg.RealTimeMode {
		lookAhead = tickbuffer.RealTimeLookAhead
	}

	freqCfg := model.FrequencyConfig{
		UnhaltedCyclesEvent:  cfg.UnhaltedCyclesEvent,
		ReferenceCyclesEvent: cfg.ReferenceCyclesEvent,
		BaseClock:            cfg.CPUBaseClock,
		FrequencyMin:         cfg.CPUFrequencyMin,
		FrequencyMax:         cfg.CPUFrequencyMax,
	}

	src := sink.NewJSONLSource(os.Stdin)
	baseSink := sink.NewJSONLSink(os.Stdout)
	retrying := sink.NewRetryingSink(baseSink, 5, 100*time.Millisecond, 5*time.Second)

	producers, pctx := errgroup.WithContext(ctx)

	reports := src.Reports(pctx)
	out := make(chan report.Power, 256)

	var ins []chan report.HWPC
	for _, socket := range sockets {
		if !cfg.DisableCPUFormula {
			in := buildHandler(producers, pctx, socket, handler.ScopeCPU, cfg, lookAhead, freqCfg, out)
			ins = append(ins, in)
		}
		if !cfg.DisableDRAMFormula {
			in := buildHandler(producers, pctx, socket, handler.ScopeDRAM, cfg, lookAhead, freqCfg, out)
			ins = append(ins, in)
		}
	}

	producers.Go(func() error {
		defer func() {
			for _, in := range ins {
				close(in)
			}
		}()
		for {
			select {
			case <-pctx.Done():
				return nil
			case r, ok := <-reports:
				if !ok {
					return nil
				}
				for _, in := range ins {
					select {
					case in <- r:
					case <-pctx.Done():
						return nil
					}
				}
			}
		}
	})

	consumerErr := make(chan error, 1)
	go func() {
		consumers, cctx := errgroup.WithContext(ctx)
		sink.Fanin(cctx, consumers, out, retrying)
		consumerErr <- consumers.Wait()
	}()

	runErr := producers.Wait()
	close(out)
	if cerr := <-consumerErr; runErr == nil {
		runErr = cerr
	}

	if runErr != nil {
		log.Errorf("%v", runErr)
	}
	return runErr
}

// buildHandler constructs and launches a Handler for one (socket, scope)
// pair, returning the channel its caller should feed HWPC reports into.
func buildHandler(g *errgroup.Group, ctx context.Context, socket string, scope handler.Scope, cfg config.Config, lookAhead int, freqCfg model.FrequencyConfig, out chan<- report.Power) chan report.HWPC {
	referenceEvent := cfg.CPURAPLRefEvent
	threshold := cfg.CPUErrorThreshold
	if scope == handler.ScopeDRAM {
		referenceEvent = cfg.DRAMRAPLRefEvent
		threshold = cfg.DRAMErrorThreshold
	}

	h := handler.New(handler.Config{
		Sensor:           "smartwatts",
		Socket:           socket,
		Scope:            scope,
		ReferenceEvent:   referenceEvent,
		SamplingInterval: cfg.SensorReportSamplingInterval,
		LookAhead:        lookAhead,
		Threshold:        threshold,
		MinSamples:       cfg.LearnMinSamplesRequired,
		WindowSize:       cfg.LearnHistoryWindowSize,
		Frequency:        freqCfg,
		ActivityEvents:   cfg.ActivityEvents,
	})

	in := make(chan report.HWPC, 16)
	g.Go(func() error { return h.Run(ctx, in, out) })
	return in
}
