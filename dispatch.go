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

// dispatchOnce is the single-threaded event loop body, the eight steps
// of spec.md 4.1. Every step here runs on the caller's goroutine and
// touches session/slot/wheel state with no locking, per the concurrency
// model: only one goroutine may ever call RunEventLoopOnce/RunEventLoop
// on a given Endpoint.
//
// Order matters: the clock is sampled exactly once so every step within
// one iteration agrees on "now"; background completions are drained
// before rxBurst so a completed response can be pushed out in the same
// batch as anything the network just delivered; the credit-stall queue
// is serviced after rxBurst so ExplCRs received this tick can unblock
// stalled sends before the wheel is advanced and the batch is flushed.
func (ep *Endpoint) dispatchOnce() error {
	now := Rdtsc()
	ep.nowTsc = now

	ep.drainSMInbox()
	ep.drainBackgroundCompletions()

	if err := ep.rxBurst(); err != nil {
		return errTransportFatal(err)
	}

	ep.serviceCreditStallQueue()

	for _, e := range ep.wheel.Advance(now) {
		ep.queueTx(e.header, e.payload, e.dest)
	}

	if now.Sub(ep.lastPktLossScanTsc) >= FromDuration(kPktLossScanIntervalMs*time.Millisecond) {
		ep.pktLossScan(now)
		ep.lastPktLossScanTsc = now
	}
	if now.Sub(ep.lastSMScanTsc) >= FromDuration(kSMScanIntervalMs*time.Millisecond) {
		ep.smRetryScan(now)
		ep.lastSMScanTsc = now
	}

	return ep.flushTxBatch()
}

func (ep *Endpoint) drainBackgroundCompletions() {
	if ep.bg == nil {
		return
	}
	for _, c := range ep.bg.DrainCompletions() {
		s, ok := ep.sessions[c.sessionNum]
		if !ok || s.destroyed {
			ep.alloc.Free(c.resp)
			continue
		}
		slot := &s.slots[c.slotIdx]
		if slot.curReqNum != c.reqNum {
			// Slot was reused (the client gave up and retried
			// elsewhere, or this session was reset) before the
			// worker finished; the result is no longer wanted.
			ep.alloc.Free(c.resp)
			continue
		}
		slot.txMsgBuf = c.resp
		ep.kickResp(s, c.slotIdx, 0)
	}
}
