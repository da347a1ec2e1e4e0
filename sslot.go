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

// Continuation is invoked when a request completes (response fully
// received) or fails. It runs on the dispatch goroutine unless the
// request's handler was registered Background, in which case it runs
// after the worker's completion has been drained.
type Continuation func(resp *MsgBuffer, tag any, err error)

// clientInfo holds the per-slot bookkeeping the client side of a
// request uses to drive retransmission and RFR issuance. numTx/numRx
// are the unified send/feedback ledger pkt_loss_scan reads: numTx
// counts every request fragment and RFR sent for the current request,
// numRx counts every ExplCR (request-fragment ack) and every response
// fragment received, including the unsolicited first one -- the two invariants
// pkt_loss_scan and the credit accounting both rely on. Response
// reassembly progress is tracked separately in respFragsRecvd, since
// it has to compare against the response's own packet count, not the
// combined request+RFR ledger numRx represents.
type clientInfo struct {
	numTx       int // request fragments and RFRs sent for the current request
	numRx       int // matched ExplCRs and response fragments received
	progressTsc TSC // TSC at which numRx last advanced; RTO baseline

	cont Continuation
	tag  any

	txTsc []TSC // per-fragment send time, for RTT sampling; resized to numPkts on enqueue

	respFragsRecvd int // response fragments received so far, for reassembly completion
}

// serverInfo holds the per-slot bookkeeping the server side of a
// request uses to (re)transmit a cached response.
type serverInfo struct {
	numTx       int
	numRx       int // RFRs received for the current response
	progressTsc TSC
	reqHandled  bool
}

// SSlot is a reservation for one in-flight request. A Session owns
// exactly kSessionReqWindow of these. curReqNum increments by
// kSessionReqWindow between reuses so request numbers issued by a given
// slot are globally unique modulo wraparound within the slot -- this is
// what lets a receiver detect a retransmitted vs. a stale request.
type SSlot struct {
	curReqNum uint64

	txMsgBuf *MsgBuffer // non-nil while a request/response is outstanding
	rxMsgBuf *MsgBuffer // reassembly buffer for the peer's reply/request

	clientInfo clientInfo
	serverInfo serverInfo

	// onCreditQueue is true while this slot is enqueued on the
	// session's credit-stall queue. Kept here (rather than derived by
	// scanning the queue) so enqueue is idempotent in O(1).
	onCreditQueue bool

	// cachedRespReqNum/cachedResp survive reset(), on purpose: they are
	// the server side's record of the last response it fully sent for
	// this slot before it was reused for a newer request. A retransmitted
	// fragment of that old, superseded request still needs its response
	// resent (spec.md 4.3's ReqData "if a response is cached, retransmit
	// it" clause) even though the slot has already moved on.
	cachedRespReqNum uint64
	cachedResp       *MsgBuffer
}

// reset clears a slot's transient state after a request completes,
// leaving curReqNum untouched (the caller advances it on next use).
func (s *SSlot) reset() {
	s.txMsgBuf = nil
	s.rxMsgBuf = nil
	s.clientInfo = clientInfo{}
	s.serverInfo = serverInfo{}
	s.onCreditQueue = false
}
