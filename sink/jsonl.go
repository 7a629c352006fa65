// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/yusufraji/smartwatts-formula/report"
)

// wireHWPC mirrors the newline-delimited JSON input schema (spec §6):
// one HWPC report per line.
type wireHWPC struct {
	Timestamp time.Time                                 `json:"timestamp"`
	Sensor    string                                     `json:"sensor"`
	Target    string                                     `json:"target"`
	Groups    map[string]map[string]report.SocketGroup `json:"groups"`
}

// wirePower mirrors the newline-delimited JSON output schema (spec §6).
type wirePower struct {
	Timestamp time.Time     `json:"timestamp"`
	Sensor    string        `json:"sensor"`
	Target    string        `json:"target"`
	Power     float64       `json:"power"`
	Metadata  wirePowerMeta `json:"metadata"`
}

type wirePowerMeta struct {
	Scope   string `json:"scope"`
	Socket  string `json:"socket"`
	Formula string `json:"formula"`
}

// JSONLSource reads newline-delimited JSON HWPC reports from r. It is
// the default, file-backed Source implementation; production
// deployments are expected to supply their own (spec §1: the ingestion
// transport is out of scope for the core).
type JSONLSource struct {
	r io.Reader
}

// NewJSONLSource returns a Source reading from r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	return &JSONLSource{r: r}
}

// Reports implements Source. The returned channel is closed once r is
// exhausted, a read fails, or ctx is cancelled. Lines that do not decode
// as a report are skipped.
func (s *JSONLSource) Reports(ctx context.Context) <-chan report.HWPC {
	out := make(chan report.HWPC)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var w wireHWPC
			if err := json.Unmarshal(line, &w); err != nil {
				continue
			}

			r := report.HWPC{
				Timestamp: w.Timestamp.Truncate(time.Millisecond),
				Sensor:    w.Sensor,
				Target:    w.Target,
				Groups:    w.Groups,
			}

			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// JSONLSink writes newline-delimited JSON Power reports to w. It is the
// default Sink implementation; production deployments are expected to
// supply their own persistent store (spec §1).
type JSONLSink struct {
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLSink returns a Sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, enc: json.NewEncoder(w)}
}

// Send implements Sink.
func (s *JSONLSink) Send(_ context.Context, p report.Power) error {
	wp := wirePower{
		Timestamp: p.Timestamp,
		Sensor:    p.Sensor,
		Target:    p.Target,
		Power:     p.PowerWatts,
		Metadata: wirePowerMeta{
			Scope:   p.Metadata.Scope,
			Socket:  p.Metadata.Socket,
			Formula: p.Metadata.Formula,
		},
	}
	if err := s.enc.Encode(wp); err != nil {
		return fmt.Errorf("jsonl sink: %w", err)
	}
	return nil
}
