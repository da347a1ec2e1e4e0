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

	"github.com/hxfab/rrpc/transport"
	"github.com/hxfab/rrpc/wire"
)

// kickReq pushes as many not-yet-sent fragments of slotIdx's request as
// the session's credit pool allows, queuing the slot on the credit-stall
// queue once credits run out. This is the client-side push path: unlike
// responses, request fragments are never RFR-pulled.
func (ep *Endpoint) kickReq(s *Session, slotIdx int) {
	slot := &s.slots[slotIdx]
	numPkts := slot.txMsgBuf.NumPkts()
	for slot.clientInfo.numTx < numPkts {
		if !s.creditsAvailable() {
			ep.creditQ.Push(s, slotIdx, stallOpReq, 0)
			ep.Stats.CreditStallEnters++
			ep.otel.recordCreditStall(context.Background())
			return
		}
		ep.txReqFragment(s, slotIdx)
	}
}

func (ep *Endpoint) txReqFragment(s *Session, slotIdx int) {
	slot := &s.slots[slotIdx]
	pktNum := slot.clientInfo.numTx
	payload := slot.txMsgBuf.FragmentPayload(pktNum)

	hdrBuf := make([]byte, wire.HeaderSize)
	wire.Encode(hdrBuf, wire.Fields{
		ReqType:     slot.txMsgBuf.ReqType(),
		MsgSize:     uint32(slot.txMsgBuf.Size()),
		DestSessNum: s.remoteSessionNum,
		PktNum:      uint16(pktNum),
		ReqNum:      slot.curReqNum,
		PktKind:     wire.KindReqData,
	})

	s.spendCredit()
	slot.clientInfo.numTx++
	slot.clientInfo.txTsc[pktNum] = ep.nowTsc
	ep.dispatchPacket(s, hdrBuf, payload)
	ep.Stats.PktsSent++
}

// kickRFR pulls the next response fragment for slotIdx by sending an
// RFR packet, if the session has a credit to spend on it.
func (ep *Endpoint) kickRFR(s *Session, slotIdx int) {
	slot := &s.slots[slotIdx]
	if !s.creditsAvailable() {
		ep.creditQ.Push(s, slotIdx, stallOpRFR, 0)
		ep.Stats.CreditStallEnters++
		ep.otel.recordCreditStall(context.Background())
		return
	}
	nextPkt := slot.clientInfo.respFragsRecvd

	hdrBuf := make([]byte, wire.HeaderSize)
	wire.Encode(hdrBuf, wire.Fields{
		ReqType:     slot.txMsgBuf.ReqType(),
		DestSessNum: s.remoteSessionNum,
		PktNum:      uint16(nextPkt),
		ReqNum:      slot.curReqNum,
		PktKind:     wire.KindRFR,
	})

	s.spendCredit()
	slot.clientInfo.numTx++
	ep.dispatchPacket(s, hdrBuf, nil)
	ep.Stats.PktsSent++
}

// dispatchPacket implements the kick_req/kick_rfr TX-injection choice
// from spec.md 4.2: a small inline packet bypasses the wheel entirely
// when pacing is disabled, and everything else is scheduled through the
// timing wheel at the session's current dispatch cadence, which the
// congestion controller advances by one packet-time on every call. The
// wheel itself is drained into the TX batch by dispatch loop step 5
// (dispatchOnce), never here.
//
// The due floor is sampled fresh rather than reusing ep.nowTsc: unlike
// every other dispatch-loop step, kick_req can run from EnqueueRequest
// on the caller's stack between dispatch iterations, when ep.nowTsc
// still holds the previous iteration's value. Scheduling against a
// stale "now" could drop the entry into a wheel bucket the last Advance
// call already passed, stranding it for a full revolution.
func (ep *Endpoint) dispatchPacket(s *Session, hdr, payload []byte) {
	if !ep.cfg.PacingEnabled && len(payload) <= kMaxInline {
		ep.queueTx(hdr, payload, s.remoteRoutingInfo)
		return
	}
	due := Rdtsc()
	if s.nextSendTsc > due {
		due = s.nextSendTsc
	}
	ep.wheel.Insert(wheelEntry{header: hdr, payload: payload, dest: s.remoteRoutingInfo, dueTsc: due})
	s.nextSendTsc = due.Add(s.cc.NextDispatchDelay(ep.tr.MTU()))
}

// kickResp sends response fragment pktNum for slotIdx, the server-side
// counterpart of kickReq/kickRFR: the first fragment is pushed
// proactively once the handler completes, later fragments only in
// response to an RFR from the client.
func (ep *Endpoint) kickResp(s *Session, slotIdx, pktNum int) {
	slot := &s.slots[slotIdx]
	if !s.creditsAvailable() {
		ep.creditQ.Push(s, slotIdx, stallOpResp, pktNum)
		ep.Stats.CreditStallEnters++
		ep.otel.recordCreditStall(context.Background())
		return
	}
	payload := slot.txMsgBuf.FragmentPayload(pktNum)

	hdrBuf := make([]byte, wire.HeaderSize)
	wire.Encode(hdrBuf, wire.Fields{
		ReqType:     slot.txMsgBuf.ReqType(),
		MsgSize:     uint32(slot.txMsgBuf.Size()),
		DestSessNum: s.remoteSessionNum,
		PktNum:      uint16(pktNum),
		ReqNum:      slot.curReqNum,
		PktKind:     wire.KindRespData,
	})
	ep.queueTx(hdrBuf, payload, s.remoteRoutingInfo)

	s.spendCredit()
	slot.serverInfo.numTx++
	ep.Stats.PktsSent++
}

// sendExplCR acknowledges one data fragment and returns the credit its
// sender spent on it. Both directions use the same packet kind: a
// server ExplCRs request fragments, a client ExplCRs response
// fragments, and both address it back through s (the local Session
// object, whose remote* fields always point at the fragment's sender).
func (ep *Endpoint) sendExplCR(s *Session, reqNum uint64, pktNum int) {
	hdrBuf := make([]byte, wire.HeaderSize)
	wire.Encode(hdrBuf, wire.Fields{
		DestSessNum: s.remoteSessionNum,
		PktNum:      uint16(pktNum),
		ReqNum:      reqNum,
		PktKind:     wire.KindExplCR,
	})
	ep.queueTx(hdrBuf, nil, s.remoteRoutingInfo)
	ep.Stats.PktsSent++
}

// resendCachedResponse resends fragment 0 of a response the server
// already fully sent for a request that has since been superseded in
// its slot, in answer to a very late retransmitted request fragment.
// Unlike kickResp it never touches serverInfo -- the slot has moved on
// to a different, live request and this send is outside that ledger.
func (ep *Endpoint) resendCachedResponse(s *Session, resp *MsgBuffer, reqNum uint64) {
	if !s.creditsAvailable() {
		return
	}
	hdrBuf := make([]byte, wire.HeaderSize)
	wire.Encode(hdrBuf, wire.Fields{
		ReqType:     resp.ReqType(),
		MsgSize:     uint32(resp.Size()),
		DestSessNum: s.remoteSessionNum,
		PktNum:      0,
		ReqNum:      reqNum,
		PktKind:     wire.KindRespData,
	})
	ep.queueTx(hdrBuf, resp.FragmentPayload(0), s.remoteRoutingInfo)
	s.spendCredit()
	ep.Stats.PktsSent++
}

func (ep *Endpoint) queueTx(hdr, payload []byte, dest transport.RoutingInfo) {
	ep.txBatch = append(ep.txBatch, transport.TxItem{Header: hdr, Payload: payload, Dest: dest})
}

// flushTxBatch hands the accumulated batch to the Transport and clears
// it. Called once per dispatch iteration, never per packet: batching
// amortizes the fixed per-call cost of a NIC doorbell ring.
func (ep *Endpoint) flushTxBatch() error {
	if len(ep.txBatch) == 0 {
		return nil
	}
	err := ep.tr.TxBurst(ep.txBatch)
	ep.txBatch = ep.txBatch[:0]
	return err
}

// serviceCreditStallQueue retries every stalled slot once. Any slot
// that could not be fully serviced (still short on credits) re-enters
// the queue via the op's own kick* call.
func (ep *Endpoint) serviceCreditStallQueue() {
	for _, e := range ep.creditQ.Drain() {
		ep.Stats.CreditStallExits++
		if e.session.destroyed {
			continue
		}
		switch e.op {
		case stallOpReq:
			ep.kickReq(e.session, e.slotIdx)
		case stallOpRFR:
			ep.kickRFR(e.session, e.slotIdx)
		case stallOpResp:
			ep.kickResp(e.session, e.slotIdx, e.pktNum)
		}
	}
}
