// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package hosttopology performs a startup sanity check of the number of
// sockets the handler pipeline is configured for against what the host
// actually reports, so a misconfigured socket count is reported at
// startup instead of going unnoticed.
package hosttopology

import (
	"fmt"

	cpuUtil "github.com/shirou/gopsutil/v3/cpu"
)

// MismatchError indicates that the number of sockets configured for the
// handler pipeline does not match what the host reports.
type MismatchError struct {
	Configured int
	Detected   int
}

// Error returns a reason of this error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("configured %d socket(s), host reports %d physical package(s)", e.Configured, e.Detected)
}

// Check validates that configuredSockets matches the number of distinct
// physical package IDs gopsutil reports for the host. It returns
// *MismatchError rather than treating the mismatch as fatal itself,
// leaving that decision to the caller.
func Check(configuredSockets int) error {
	infos, err := cpuUtil.Info()
	if err != nil {
		return fmt.Errorf("hosttopology: reading CPU info: %w", err)
	}

	seen := make(map[string]struct{})
	for _, info := range infos {
		if info.PhysicalID == "" {
			continue
		}
		seen[info.PhysicalID] = struct{}{}
	}

	detected := len(seen)
	if detected == 0 {
		// Some platforms (containers, VMs) do not populate physical_id;
		// treat every entry as its own socket rather than failing.
		detected = len(infos)
	}

	if detected != configuredSockets {
		return &MismatchError{Configured: configuredSockets, Detected: detected}
	}

	return nil
}
