// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package tickbuffer buffers incoming HWPC reports into time-indexed
// ticks and releases the oldest bucket once a bounded look-ahead is
// reached.
package tickbuffer

import (
	"container/list"
	"fmt"
	"time"

	"github.com/yusufraji/smartwatts-formula/report"
)

// DefaultLookAhead is the look-ahead K used unless configured otherwise.
const DefaultLookAhead = 5

// RealTimeLookAhead is the look-ahead K used in real-time mode, trading
// lower latency for a higher risk of missing late reports.
const RealTimeLookAhead = 2

// Bucket is the set of all reports sharing one timestamp.
type Bucket struct {
	Timestamp time.Time
	Reports   map[string]report.HWPC
}

// IncompleteTickError indicates that a released bucket lacks the
// AllTarget report.
type IncompleteTickError struct {
	Timestamp time.Time
}

// Error returns a reason of this error.
func (e *IncompleteTickError) Error() string {
	return fmt.Sprintf("incomplete tick at %s: missing %q target", e.Timestamp.Format(time.RFC3339Nano), report.AllTarget)
}

// entry pairs a bucket with a handle into the insertion-order list, so
// Insert can locate it by timestamp in O(1) while still iterating in
// insertion order.
type entry struct {
	bucket Bucket
	elem   *list.Element
}

// Buffer is an ordered, timestamp-keyed collection of tick buckets. Its
// iteration order (used for release) equals insertion order of
// timestamps, not wall-clock or sorted order, matching the upstream
// sensor's own tick-by-tick arrival order.
//
// A Buffer is not safe for concurrent use; each handler owns its buffer
// exclusively.
type Buffer struct {
	lookAhead int
	order     *list.List // of time.Time
	byTime    map[time.Time]*entry
}

// New creates a Buffer with the given look-ahead K. A non-positive
// lookAhead falls back to DefaultLookAhead.
func New(lookAhead int) *Buffer {
	if lookAhead <= 0 {
		lookAhead = DefaultLookAhead
	}
	return &Buffer{
		lookAhead: lookAhead,
		order:     list.New(),
		byTime:    make(map[time.Time]*entry),
	}
}

// Insert stores r under its timestamp and target, overwriting any prior
// entry for the same target (last-writer-wins). If the number of
// buffered buckets then exceeds the configured look-ahead, the oldest
// bucket is released and returned with ok=true. If that released
// bucket lacks the AllTarget report, err is an *IncompleteTickError and
// the bucket is discarded (ok is false).
func (b *Buffer) Insert(r report.HWPC) (released Bucket, ok bool, err error) {
	e, exists := b.byTime[r.Timestamp]
	if !exists {
		bucket := Bucket{Timestamp: r.Timestamp, Reports: make(map[string]report.HWPC)}
		elem := b.order.PushBack(r.Timestamp)
		e = &entry{bucket: bucket, elem: elem}
		b.byTime[r.Timestamp] = e
	}
	e.bucket.Reports[r.Target] = r

	if b.order.Len() > b.lookAhead {
		return b.popOldest()
	}
	return Bucket{}, false, nil
}

// Drain releases every remaining buffer bucket in timestamp (insertion)
// order, without regard to the look-ahead. It is used during shutdown,
// when no further reports will arrive to complete partially-filled
// buckets. Incomplete buckets are dropped and reported via errs, in the
// same order as the returned buckets' timestamps.
func (b *Buffer) Drain() (buckets []Bucket, errs []error) {
	for b.order.Len() > 0 {
		bucket, ok, err := b.popOldest()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			buckets = append(buckets, bucket)
		}
	}
	return buckets, errs
}

// Len returns the number of buckets currently buffered.
func (b *Buffer) Len() int {
	return b.order.Len()
}

// popOldest removes and returns the oldest bucket. If the bucket lacks
// the AllTarget report, it returns an *IncompleteTickError: the bucket
// is still discarded, but is not handed back to the caller for
// processing.
func (b *Buffer) popOldest() (Bucket, bool, error) {
	front := b.order.Front()
	ts := front.Value.(time.Time)
	b.order.Remove(front)

	e := b.byTime[ts]
	delete(b.byTime, ts)

	if _, ok := e.bucket.Reports[report.AllTarget]; !ok {
		return Bucket{}, false, &IncompleteTickError{Timestamp: ts}
	}
	return e.bucket, true, nil
}
