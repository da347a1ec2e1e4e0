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

// Timely tuning constants, in the same units the algorithm's originating
// paper uses (RTT thresholds in microseconds, rates in bytes/sec).
const (
	timelyTLow       = 50 * time.Microsecond
	timelyTHigh      = 1000 * time.Microsecond
	timelyAdditiveInc = 6 * 1024 // bytes/sec added per RTT below T_LOW
	timelyBeta       = 0.8
	timelyEwmaAlpha  = 0.02
	timelyMinRTTHold = 32 // number of samples before minRTT is trusted
)

// timelyCC is a per-session Timely-style congestion controller: it
// turns RTT samples (ev_loop_tsc - tx_tsc for each response fragment)
// into a byte rate that governs how far in the future the timing wheel
// places the session's next packet. It never touches num_tx/num_rx/
// credits directly -- retransmission and credit accounting stay exactly
// as the specification's flow-control rules describe; this only feeds
// the wheel's dispatch-time computation.
type timelyCC struct {
	rate      float64 // bytes/sec
	linkRate  float64
	minRate   float64
	avgRTT    time.Duration
	prevRTT   time.Duration
	minRTT    time.Duration
	samples   int
}

func newTimelyCC() *timelyCC {
	return &timelyCC{
		rate:     float64(kCcLinkRateDefault),
		linkRate: float64(kCcLinkRateDefault),
		minRate:  float64(kCcMinRateAbs),
		minRTT:   time.Hour, // sentinel "not yet observed"
	}
}

// OnRTTSample updates the estimated rate from one RTT observation.
func (c *timelyCC) OnRTTSample(rtt time.Duration) {
	c.samples++
	if rtt < c.minRTT {
		c.minRTT = rtt
	}
	if c.avgRTT == 0 {
		c.avgRTT = rtt
	} else {
		c.avgRTT = time.Duration((1-timelyEwmaAlpha)*float64(c.avgRTT) + timelyEwmaAlpha*float64(rtt))
	}

	switch {
	case c.avgRTT < timelyTLow:
		c.rate += timelyAdditiveInc
	case c.avgRTT > timelyTHigh:
		c.rate *= 1 - timelyBeta*(1-float64(timelyTHigh)/float64(c.avgRTT))
	default:
		if c.prevRTT != 0 {
			gradient := float64(rtt-c.prevRTT) / float64(c.avgRTT)
			if gradient <= 0 {
				c.rate += timelyAdditiveInc
			} else {
				c.rate *= 1 - timelyBeta*gradient
			}
		}
	}
	c.prevRTT = rtt
	c.clampRate()
}

func (c *timelyCC) clampRate() {
	if c.rate < c.minRate {
		c.rate = c.minRate
	}
	if c.rate > c.linkRate {
		c.rate = c.linkRate
	}
}

// NextDispatchDelay returns how far in the future (as a TSC delta) a
// pktBytes-sized packet should be scheduled to hold the session to the
// controller's current rate.
func (c *timelyCC) NextDispatchDelay(pktBytes int) TSC {
	seconds := float64(pktBytes) / c.rate
	return FromDuration(time.Duration(seconds * float64(time.Second)))
}

// Rate returns the current estimated rate in bytes/sec, for metrics.
func (c *timelyCC) Rate() float64 { return c.rate }
