// Copyright 2026 The rrpc Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rrpc

import "github.com/hxfab/rrpc/transport"

// wheelEntry is one packet queued for paced transmission. This is the
// specification's TX-dispatch mechanism (dispatch loop step 5, and the
// kick_req/kick_rfr wheel branch of 4.2): dispatch time T means "post
// header/payload to the TX batch once ev_loop_tsc reaches T", nothing
// more. It carries no reference back to the session or slot that
// produced it and is never consulted by loss detection -- retransmission
// timing is a slot-level progress_tsc scan (retransmit.go), not a
// per-packet wheel fire. header/payload are already wire-encoded at
// Insert time so Advance's drain path is a pure copy into the TX batch.
type wheelEntry struct {
	header  []byte
	payload []byte
	dest    transport.RoutingInfo
	dueTsc  TSC
}

// timingWheel is a bucketed calendar queue: dispatch time T is placed in
// bucket floor(T/width) mod N. Advancing the wheel walks sequentially
// from the last-drained bucket to the bucket containing now, draining
// every bucket it passes. The wheel spans numBuckets*bucketWidth cycles
// (about 1 ms at the defaults); an entry scheduled further ahead than
// that lands in a bucket the walk reaches before its dispatch time and
// is drained early. One MTU-sized packet at kCcMinRateAbs is paced about
// 1 ms after the previous one, so a session paced near that rate can
// schedule entries past the span.
type timingWheel struct {
	buckets        [][]wheelEntry
	bucketWidth    TSC
	numBuckets     int
	lastDrainedIdx int
	lastDrainedTsc TSC
}

func newTimingWheel(numBuckets int, bucketWidth TSC, now TSC) *timingWheel {
	return &timingWheel{
		buckets:        make([][]wheelEntry, numBuckets),
		bucketWidth:    bucketWidth,
		numBuckets:     numBuckets,
		lastDrainedIdx: int(now/bucketWidth) % numBuckets,
		lastDrainedTsc: now,
	}
}

func (w *timingWheel) bucketIndex(t TSC) int {
	return int(t/w.bucketWidth) % w.numBuckets
}

// Insert places e in the wheel bucket for e.dueTsc.
func (w *timingWheel) Insert(e wheelEntry) {
	idx := w.bucketIndex(e.dueTsc)
	w.buckets[idx] = append(w.buckets[idx], e)
}

// Advance walks the wheel forward to now, returning every entry whose
// bucket was passed, in bucket order (i.e. dispatch order).
func (w *timingWheel) Advance(now TSC) []wheelEntry {
	if now < w.lastDrainedTsc {
		return nil
	}
	targetIdx := w.bucketIndex(now)
	var due []wheelEntry
	steps := 0
	for idx := w.lastDrainedIdx; ; idx = (idx + 1) % w.numBuckets {
		if len(w.buckets[idx]) > 0 {
			due = append(due, w.buckets[idx]...)
			w.buckets[idx] = w.buckets[idx][:0]
		}
		if idx == targetIdx || steps >= w.numBuckets {
			w.lastDrainedIdx = idx
			break
		}
		steps++
	}
	w.lastDrainedTsc = now
	return due
}
