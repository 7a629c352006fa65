// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package report

import "fmt"

// MissingGroupError indicates that a required event group is absent from
// a report.
type MissingGroupError struct {
	Group string
}

// Error returns a reason of this error.
func (e *MissingGroupError) Error() string {
	return fmt.Sprintf("missing event group %q", e.Group)
}

// MissingEventError indicates that a required event is absent from a
// report's event group.
type MissingEventError struct {
	Group string
	Event string
}

// Error returns a reason of this error.
func (e *MissingEventError) Error() string {
	return fmt.Sprintf("missing event %q in group %q", e.Event, e.Group)
}
