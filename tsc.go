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

import "time"

// TSC is a monotonically advancing timestamp-counter value. The real
// runtime this package is modeled on reads a hardware cycle counter
// (rdtsc); reading that register is a NIC/CPU binding concern the
// Transport abstraction pushes out of this package's scope, so TSC here
// is a fixed-frequency tick derived from the Go runtime's monotonic
// clock. One TSC tick is defined as one nanosecond, which keeps the
// arithmetic in every formula from the specification (bucket width,
// RTO comparison, progress_tsc deltas) unchanged: cycles and
// nanoseconds are interchangeable under this convention.
type TSC uint64

// Rdtsc samples the current TSC value. Call once per dispatch iteration
// and reuse the value, matching the "sample once, use everywhere"
// requirement of the dispatch loop.
func Rdtsc() TSC {
	return TSC(time.Now().UnixNano())
}

// Sub returns t-u as a TSC delta. Callers must ensure t >= u; the
// dispatch loop never compares timestamps out of order.
func (t TSC) Sub(u TSC) TSC {
	return t - u
}

// Duration converts a TSC delta to a time.Duration.
func (t TSC) Duration() time.Duration {
	return time.Duration(t)
}

// FromDuration converts a time.Duration to a TSC delta.
func FromDuration(d time.Duration) TSC {
	return TSC(d)
}

// Add returns t+d.
func (t TSC) Add(d TSC) TSC {
	return t + d
}
