// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yusufraji/smartwatts-formula/report"
)

// Fanin drains a Power report channel into a Sink from one goroutine
// started on g. It is the concurrency-safe "shared resource" referenced
// in spec §5: handler goroutines may all send onto the same channel (as
// cmd/smartwatts does), and the single Fanin goroutine serializes
// delivery into the sink. It returns when in is closed or ctx is done.
func Fanin(ctx context.Context, g *errgroup.Group, in <-chan report.Power, s Sink) {
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case r, ok := <-in:
				if !ok {
					return nil
				}
				if err := s.Send(ctx, r); err != nil {
					return err
				}
			}
		}
	})
}
