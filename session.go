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

// Role identifies which end of a session this Endpoint plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// SessionState is one of the states in the session-management state
// machine (create_session, connect_resp, destroy_session, ...).
type SessionState uint8

const (
	StateConnectInProgress SessionState = iota
	StateConnected
	StateDisconnectInProgress
	StateResetInProgress
)

func (s SessionState) String() string {
	switch s {
	case StateConnectInProgress:
		return "ConnectInProgress"
	case StateConnected:
		return "Connected"
	case StateDisconnectInProgress:
		return "DisconnectInProgress"
	case StateResetInProgress:
		return "ResetInProgress"
	default:
		return "Unknown"
	}
}

// SMHandler is invoked when a session reaches a terminal or notable SM
// transition: connected, connect failed, reset. It runs on the dispatch
// goroutine and must not block.
type SMHandler func(sessionNum uint16, state SessionState, err error)

// Session is a bidirectional communication context between two
// Endpoints. A Session owns exactly kSessionReqWindow slots, which caps
// outstanding requests per session. Only the dispatch goroutine of the
// owning Endpoint ever mutates a Session's fields.
type Session struct {
	role Role
	state SessionState

	localSessionNum  uint16
	remoteSessionNum uint16
	remoteURI        string
	remoteRoutingInfo transport.RoutingInfo

	slots [kSessionReqWindow]SSlot

	credits    int
	maxCredits int

	cc *timelyCC

	// nextSendTsc is the dispatch TSC the next wheel-paced packet for
	// this session will be scheduled at, advanced by the congestion
	// controller's per-packet delay each time one is enqueued. It never
	// gates sending directly -- kick_req/kick_rfr/retransmit always
	// enqueue immediately; this only spaces out when the wheel will
	// actually post the packet to the TX batch.
	nextSendTsc TSC

	// Session-management bookkeeping (client side).
	smReqSentAt TSC
	smRetries   int
	smHandler   SMHandler
	remoteRPCID uint8

	// destroyed is set once a session has fully torn down and its
	// number may be reused by the session table.
	destroyed bool
}

func newSession(localNum uint16, role Role, credits int) *Session {
	s := &Session{
		role:            role,
		localSessionNum: localNum,
		credits:         credits,
		maxCredits:      credits,
		cc:              newTimelyCC(),
	}
	for i := range s.slots {
		s.slots[i].curReqNum = uint64(i)
	}
	return s
}

// freeSlot returns the index of the first slot with no outstanding
// request (txMsgBuf == nil for a client slot), or -1 if all
// kSessionReqWindow slots are busy (TooManyOutstanding).
func (s *Session) freeSlot() int {
	for i := range s.slots {
		if s.slots[i].txMsgBuf == nil {
			return i
		}
	}
	return -1
}

// creditsAvailable reports whether the session may inject a new packet.
func (s *Session) creditsAvailable() bool { return s.credits > 0 }

// spendCredit decrements the session's credit counter. Callers must
// have checked creditsAvailable first.
func (s *Session) spendCredit() { s.credits-- }

// returnCredits restores n credits, capped at maxCredits, the session's
// configured credit count (the invariant credits + sum(num_tx-num_rx)
// == maxCredits must never be exceeded even after a buggy double
// credit-return).
func (s *Session) returnCredits(n int) {
	s.credits += n
	if s.credits > s.maxCredits {
		s.credits = s.maxCredits
	}
}
