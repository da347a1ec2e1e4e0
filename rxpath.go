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

// rxBurst polls the Transport and classifies every packet it returns.
func (ep *Endpoint) rxBurst() error {
	pkts, err := ep.tr.RxBurst()
	if err != nil {
		return err
	}
	for _, pkt := range pkts {
		ep.classify(pkt)
	}
	return nil
}

func (ep *Endpoint) classify(pkt transport.RxPacket) {
	fields, ok := wire.Decode(pkt.Data)
	if !ok {
		ep.Stats.DroppedBadHeader++
		return
	}
	s, ok := ep.sessions[fields.DestSessNum]
	if !ok || s.destroyed {
		ep.Stats.DroppedUnknownSession++
		return
	}
	ep.Stats.PktsReceived++
	payload := pkt.Data[wire.HeaderSize:]

	switch fields.PktKind {
	case wire.KindReqData:
		ep.handleReqData(s, fields, payload)
	case wire.KindRespData:
		ep.handleRespData(s, fields, payload)
	case wire.KindRFR:
		ep.handleRFR(s, fields)
	case wire.KindExplCR:
		ep.handleExplCR(s, fields)
	}
}

func slotForReqNum(reqNum uint64) int { return int(reqNum % kSessionReqWindow) }

// handleReqData reassembles one request fragment on the server side and
// dispatches the registered handler once the request is complete.
//
// ExplCR timing follows spec.md 9's resolution of the source's ExplCR
// placement question ("return ExplCR only when no response fragment is
// imminent"): the fragment that completes reassembly gets a standalone
// ExplCR only when the registered handler is Background, since then no
// response is imminent. A Foreground handler runs synchronously in this
// same call and its response departs immediately, so that response
// packet itself carries the implicit ack -- withholding the standalone
// ExplCR here is what keeps client_info.num_tx > num_rx on the client
// until the response is actually observed, so a lost first response
// fragment still leaves a real, catchable ledger entry for pkt_loss_scan
// instead of a permanent false positive.
func (ep *Endpoint) handleReqData(s *Session, fields wire.Fields, payload []byte) {
	slotIdx := slotForReqNum(fields.ReqNum)
	slot := &s.slots[slotIdx]

	if fields.ReqNum < slot.curReqNum {
		if fields.ReqNum == slot.cachedRespReqNum && slot.cachedResp != nil {
			ep.resendCachedResponse(s, slot.cachedResp, fields.ReqNum)
		} else {
			ep.sendExplCR(s, fields.ReqNum, int(fields.PktNum))
		}
		return
	}
	if fields.ReqNum > slot.curReqNum {
		if slot.txMsgBuf != nil {
			slot.cachedRespReqNum = slot.curReqNum
			slot.cachedResp = slot.txMsgBuf
		}
		slot.reset()
		slot.curReqNum = fields.ReqNum
	}

	if slot.serverInfo.reqHandled {
		// The client retransmitted a fragment of the request we already
		// finished handling: our response, or its ack, was lost. Resend
		// the cached response instead of reassembling and double-
		// counting past numPktsNeeded.
		if slot.txMsgBuf != nil {
			ep.kickResp(s, slotIdx, 0)
		} else {
			ep.sendExplCR(s, fields.ReqNum, int(fields.PktNum))
		}
		return
	}

	if slot.rxMsgBuf == nil {
		slot.rxMsgBuf = ep.alloc.Alloc(int(fields.MsgSize))
	}
	slot.rxMsgBuf.PutFragment(int(fields.PktNum), payload, int(fields.MsgSize))
	slot.serverInfo.numRx++
	slot.serverInfo.progressTsc = ep.nowTsc

	numPktsNeeded := dataSizeToNumPkts(int(fields.MsgSize), ep.tr.MTU())
	completing := slot.serverInfo.numRx >= numPktsNeeded
	if !completing || !ep.deferAckToResponse(fields.ReqType) {
		ep.sendExplCR(s, fields.ReqNum, int(fields.PktNum))
	}
	if !completing {
		return
	}

	slot.serverInfo.reqHandled = true
	ep.dispatchHandler(s, slotIdx, fields.ReqType, fields.ReqNum)
}

// deferAckToResponse reports whether reqType's handler runs inline, i.e.
// whether its response is imminent enough to carry the last fragment's
// credit return instead of a standalone ExplCR.
func (ep *Endpoint) deferAckToResponse(reqType uint8) bool {
	h := ep.handlers[reqType]
	return h != nil && h.kind == Foreground
}

func (ep *Endpoint) dispatchHandler(s *Session, slotIdx int, reqType uint8, reqNum uint64) {
	slot := &s.slots[slotIdx]
	h := ep.handlers[reqType]
	if h == nil {
		ep.log.WithField("req_type", reqType).Warn("rrpc: no handler registered for request type")
		return
	}
	resp := ep.alloc.Alloc(slot.rxMsgBuf.Cap())

	if h.kind == Foreground {
		h.fn(slot.rxMsgBuf, resp)
		slot.txMsgBuf = resp
		ep.kickResp(s, slotIdx, 0)
		return
	}

	ep.Stats.BackgroundDispatches++
	if err := ep.bg.Dispatch(workerJob{
		handler:    h.fn,
		req:        slot.rxMsgBuf,
		resp:       resp,
		sessionNum: s.localSessionNum,
		slotIdx:    slotIdx,
		reqNum:     reqNum,
	}); err != nil {
		// Worker ring is saturated; the client's retransmission of the
		// last request fragment will retry the dispatch on arrival.
		slot.serverInfo.reqHandled = false
		ep.alloc.Free(resp)
	}
}

// handleRespData reassembles one response fragment on the client side.
// It always ExplCRs the fragment, and additionally sends an RFR to pull
// the next one if the response isn't complete yet.
//
// Fragment 0 is pushed unsolicited by the server as soon as a Foreground
// handler finishes, with no standalone ExplCR behind the request
// fragment that completed reassembly (see handleReqData): that credit
// is still outstanding in numTx/numRx when fragment 0 lands, so per
// spec.md 4.3's RespData bullet ("increment num_rx, restore one credit")
// this fragment's arrival unconditionally advances numRx and returns a
// credit, exactly matching that deferred entry. Every later fragment was
// pulled by an RFR this client sent, and does the same for that RFR's
// credit. Reassembly completion is tracked separately in
// respFragsRecvd, which counts every fragment including the first.
func (ep *Endpoint) handleRespData(s *Session, fields wire.Fields, payload []byte) {
	slotIdx := slotForReqNum(fields.ReqNum)
	slot := &s.slots[slotIdx]
	ci := &slot.clientInfo

	if fields.ReqNum != slot.curReqNum || slot.rxMsgBuf == nil {
		ep.Stats.DroppedStaleReqNum++
		return
	}

	if int(fields.MsgSize) > slot.rxMsgBuf.Cap() {
		ep.completeRequest(s, slotIdx, errMsgBufferTooSmall(s.localSessionNum, fields.ReqNum, slot.rxMsgBuf.Cap(), int(fields.MsgSize)))
		return
	}

	slot.rxMsgBuf.PutFragment(int(fields.PktNum), payload, int(fields.MsgSize))
	ci.respFragsRecvd++
	ci.progressTsc = ep.nowTsc
	ci.numRx++
	s.returnCredits(1)

	if int(fields.PktNum) < len(ci.txTsc) {
		rtt := ep.nowTsc.Sub(ci.txTsc[fields.PktNum]).Duration()
		s.cc.OnRTTSample(rtt)
		ep.otel.recordRTT(context.Background(), rtt.Seconds())
	}

	ep.sendExplCR(s, fields.ReqNum, int(fields.PktNum))

	numPktsTotal := dataSizeToNumPkts(int(fields.MsgSize), ep.tr.MTU())
	if ci.respFragsRecvd < numPktsTotal {
		ep.kickRFR(s, slotIdx)
		return
	}
	ep.completeRequest(s, slotIdx, nil)
}

func (ep *Endpoint) completeRequest(s *Session, slotIdx int, err error) {
	slot := &s.slots[slotIdx]
	cont, tag, resp := slot.clientInfo.cont, slot.clientInfo.tag, slot.rxMsgBuf
	slot.curReqNum += kSessionReqWindow
	slot.reset()
	if cont != nil {
		cont(resp, tag, err)
	}
}

// handleRFR advances the server's send window for a multi-packet
// response by sending the fragment the client just pulled. Credit for
// the fragment it follows is returned separately, via the ExplCR the
// client sent alongside it (see handleExplCR); handleRFR is purely a
// "send the next one" signal.
func (ep *Endpoint) handleRFR(s *Session, fields wire.Fields) {
	slotIdx := slotForReqNum(fields.ReqNum)
	slot := &s.slots[slotIdx]
	if fields.ReqNum != slot.curReqNum || slot.txMsgBuf == nil {
		ep.Stats.DroppedStaleReqNum++
		return
	}
	ep.kickResp(s, slotIdx, int(fields.PktNum))
}

// handleExplCR returns the credit its matching fragment consumed and,
// on the client side, advances numRx and progress_tsc: per spec.md
// 4.3 ("ExplCR. Restore a credit and progress_tsc.") and the client_info
// field definitions in 4.3/3, an ExplCR is exactly the "matched
// acknowledgement" numRx counts and the event that resets the RTO
// clock pkt_loss_scan reads.
func (ep *Endpoint) handleExplCR(s *Session, fields wire.Fields) {
	slotIdx := slotForReqNum(fields.ReqNum)
	slot := &s.slots[slotIdx]
	if fields.ReqNum != slot.curReqNum {
		return
	}
	s.returnCredits(1)
	if s.role == RoleClient {
		slot.clientInfo.numRx++
		slot.clientInfo.progressTsc = ep.nowTsc
	}
}
