// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	raplGroup = "rapl"
	pcuGroup  = "pcu"
	coreGroup = "core"

	timePrefix = "time_"
)

// RAPLEvents extracts the RAPL reference event for the given socket,
// converted to watts. It divides the raw energy counter (in units of
// 2^-32 joules) by the sampling interval to yield a power value, per the
// decoder's watts-not-energy contract.
//
// It fails with a *MissingGroupError if the "rapl" group is absent, or a
// *MissingEventError if referenceEvent is absent from the socket's first
// CPU entry.
func RAPLEvents(r HWPC, socket, referenceEvent string, samplingInterval time.Duration) (RAPLVector, error) {
	sockets, ok := r.socketGroups(raplGroup, socket)
	if !ok {
		return nil, &MissingGroupError{Group: raplGroup}
	}

	cpu, ok := firstCPU(sockets)
	if !ok {
		return nil, &MissingEventError{Group: raplGroup, Event: referenceEvent}
	}

	raw, ok := cpu[referenceEvent]
	if !ok {
		return nil, &MissingEventError{Group: raplGroup, Event: referenceEvent}
	}

	seconds := samplingInterval.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	watts := math.Ldexp(float64(raw), -32) / seconds
	return RAPLVector{referenceEvent: watts}, nil
}

// PCUEvents extracts the PCU events for the given socket, taken from the
// first CPU of the socket (lexicographically smallest cpu_id), excluding
// any event whose name starts with "time_".
func PCUEvents(r HWPC, socket string) (map[string]uint64, error) {
	sockets, ok := r.socketGroups(pcuGroup, socket)
	if !ok {
		return nil, &MissingGroupError{Group: pcuGroup}
	}

	cpu, ok := firstCPU(sockets)
	if !ok {
		return map[string]uint64{}, nil
	}

	out := make(map[string]uint64, len(cpu))
	for name, val := range cpu {
		if strings.HasPrefix(name, timePrefix) {
			continue
		}
		out[name] = val
	}
	return out, nil
}

// CoreEvents sums each non-"time_*" Core event across all CPUs of the
// given socket.
func CoreEvents(r HWPC, socket string) (CoreVector, error) {
	sockets, ok := r.socketGroups(coreGroup, socket)
	if !ok {
		return nil, &MissingGroupError{Group: coreGroup}
	}

	out := make(CoreVector)
	for _, cpu := range sockets {
		for name, val := range cpu {
			if strings.HasPrefix(name, timePrefix) {
				continue
			}
			out[name] += val
		}
	}
	return out, nil
}

// AggregateCoreEvents computes the element-wise sum of CoreEvents over
// every target report given, for the given socket. The caller is
// expected to exclude the AllTarget report before calling this, since
// the aggregate is meant to represent the running targets, not the
// system-wide report.
func AggregateCoreEvents(reports map[string]HWPC, socket string) (CoreVector, error) {
	out := make(CoreVector)
	for _, r := range reports {
		core, err := CoreEvents(r, socket)
		if err != nil {
			return nil, err
		}
		out.Add(core)
	}
	return out, nil
}

// firstCPU returns the CPUGroup keyed by the lexicographically smallest
// cpu_id in the given SocketGroup. This pins down the otherwise
// unspecified "first CPU" iteration order of the sensor for determinism.
func firstCPU(s SocketGroup) (CPUGroup, bool) {
	if len(s) == 0 {
		return nil, false
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s[ids[0]], true
}
