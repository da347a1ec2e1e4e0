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

import (
	"context"

	"github.com/hxfab/rrpc/wire"
)

// pktLossScan walks every client session's slots and retransmits
// against the slot-level RTO clock: a slot with an outstanding request
// (tx_msgbuf set, at least one packet sent) whose progress_tsc hasn't
// advanced in more than rpc_rto_cycles is assumed lost. This is the
// specification's loss-detection clock (spec.md 4.4); the timing wheel
// is a TX-pacing mechanism (spec.md 4.2/dispatch step 5) and plays no
// part in RTO tracking.
func (ep *Endpoint) pktLossScan(now TSC) {
	rtoCycles := FromDuration(ep.cfg.RTO)
	for _, s := range ep.sessions {
		if s.destroyed || s.role != RoleClient || s.state != StateConnected {
			continue
		}
		for i := range s.slots {
			slot := &s.slots[i]
			if slot.txMsgBuf == nil || slot.clientInfo.numTx == 0 {
				continue
			}
			if now.Sub(slot.clientInfo.progressTsc) > rtoCycles {
				ep.pktLossRetransmit(s, i, now)
			}
		}
	}
}

func (ep *Endpoint) recordFalsePositive() {
	ep.Stats.FalsePositiveRTOs++
	ep.otel.recordFalsePositive(context.Background())
}

// pktLossRetransmit is the per-slot retransmit procedure spec.md 4.4
// names: compute delta = num_tx - num_rx (packets sent but never
// acknowledged or answered); delta == 0 means the peer's feedback
// arrived just after the scan sampled ev_loop_tsc and the timer fire
// was a false positive, not a real loss. Otherwise roll num_tx back to
// num_rx, return the delta credits those unacknowledged packets were
// holding, and re-send: paced through the wheel at MTU-sized dispatch
// slots if pacing is enabled (spec.md 4.4 step 4), or via a single
// kick_req/kick_rfr call otherwise (step 5).
func (ep *Endpoint) pktLossRetransmit(s *Session, slotIdx int, now TSC) {
	slot := &s.slots[slotIdx]
	ci := &slot.clientInfo

	delta := ci.numTx - ci.numRx
	if delta == 0 {
		ep.recordFalsePositive()
		return
	}
	if slot.onCreditQueue {
		// Invariant (spec.md 4.4): num_tx > num_rx implies the slot is
		// not on the credit-stall queue, since an unanswered in-flight
		// packet already accounts for the credit it holds. Treat a
		// violation as nothing-to-retransmit rather than double-kick.
		return
	}

	startUnit := ci.numRx
	reqNumPkts := slot.txMsgBuf.NumPkts()
	s.returnCredits(delta)
	ci.numTx = ci.numRx
	ci.progressTsc = now

	if ep.cfg.PacingEnabled {
		for k := 0; k < delta; k++ {
			ep.enqueueRetransmitUnit(s, slotIdx, startUnit+k, reqNumPkts, now)
		}
		s.credits -= delta
	} else if ci.numTx < reqNumPkts {
		ep.kickReq(s, slotIdx)
	} else {
		ep.kickRFR(s, slotIdx)
	}

	ep.Stats.NumRetransmissions++
	ep.otel.recordRetransmit(context.Background(), s.localSessionNum)
}

// enqueueRetransmitUnit rebuilds the packet for unified send-ledger
// index unit -- a request fragment if unit < reqNumPkts, otherwise the
// RFR that pulls response fragment unit-reqNumPkts+1 (the +1 accounts
// for the unsolicited first response fragment, which never occupies a
// unit of its own) -- and inserts it into the wheel without spending a
// fresh credit: pktLossRetransmit already returned it to the session
// for exactly this purpose ("the wheel holds the credits now").
func (ep *Endpoint) enqueueRetransmitUnit(s *Session, slotIdx, unit, reqNumPkts int, now TSC) {
	slot := &s.slots[slotIdx]
	ci := &slot.clientInfo
	hdrBuf := make([]byte, wire.HeaderSize)
	var payload []byte

	if unit < reqNumPkts {
		payload = slot.txMsgBuf.FragmentPayload(unit)
		wire.Encode(hdrBuf, wire.Fields{
			ReqType:     slot.txMsgBuf.ReqType(),
			MsgSize:     uint32(slot.txMsgBuf.Size()),
			DestSessNum: s.remoteSessionNum,
			PktNum:      uint16(unit),
			ReqNum:      slot.curReqNum,
			PktKind:     wire.KindReqData,
		})
		ci.txTsc[unit] = now
	} else {
		pktNum := unit - reqNumPkts + 1
		wire.Encode(hdrBuf, wire.Fields{
			ReqType:     slot.txMsgBuf.ReqType(),
			DestSessNum: s.remoteSessionNum,
			PktNum:      uint16(pktNum),
			ReqNum:      slot.curReqNum,
			PktKind:     wire.KindRFR,
		})
	}

	due := now
	if s.nextSendTsc > due {
		due = s.nextSendTsc
	}
	ep.wheel.Insert(wheelEntry{header: hdrBuf, payload: payload, dest: s.remoteRoutingInfo, dueTsc: due})
	s.nextSendTsc = due.Add(s.cc.NextDispatchDelay(ep.tr.MTU()))
	ci.numTx++
}
