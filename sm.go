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
	"github.com/hxfab/rrpc/transport"
	"github.com/hxfab/rrpc/wire"
)

const (
	smErrOK             uint8 = 0
	smErrRoutingFailed  uint8 = 1
)

func (ep *Endpoint) localRoutingInfo() [wire.RoutingInfoSize]byte {
	var ri transport.RoutingInfo
	ep.tr.FillLocalRoutingInfo(&ri)
	var out [wire.RoutingInfoSize]byte
	copy(out[:], ri[:])
	return out
}

func (ep *Endpoint) sendConnectReq(s *Session) error {
	msg := &wire.SMMessage{
		Type:             wire.SMConnectReq,
		ClientURI:        ep.nexus.LocalAddr(),
		ServerURI:        s.remoteURI,
		ClientRPCID:      ep.rpcID,
		ServerRPCID:      s.remoteRPCID,
		ClientSessionNum: s.localSessionNum,
		RoutingInfo:      ep.localRoutingInfo(),
	}
	s.smReqSentAt = ep.nowTsc
	return ep.nexus.sendSM(msg, s.remoteURI)
}

func (ep *Endpoint) sendDisconnectReq(s *Session) error {
	msg := &wire.SMMessage{
		Type:             wire.SMDisconnectReq,
		ClientRPCID:      ep.rpcID,
		ServerRPCID:      s.remoteRPCID,
		ClientSessionNum: s.localSessionNum,
		ServerSessionNum: s.remoteSessionNum,
	}
	return ep.nexus.sendSM(msg, s.remoteURI)
}

// drainSMInbox processes every session-management message the Nexus
// has queued for this Endpoint since the last dispatch iteration.
func (ep *Endpoint) drainSMInbox() {
	for {
		msg, err := ep.smInbox.Dequeue()
		if err != nil {
			return
		}
		ep.handleSMMessage(&msg)
	}
}

func (ep *Endpoint) handleSMMessage(msg *wire.SMMessage) {
	switch msg.Type {
	case wire.SMConnectReq:
		ep.handleConnectReq(msg)
	case wire.SMConnectResp:
		ep.handleConnectResp(msg)
	case wire.SMDisconnectReq:
		ep.handleDisconnectReq(msg)
	case wire.SMDisconnectResp:
		ep.handleDisconnectResp(msg)
	case wire.SMReset:
		ep.handleReset(msg)
	}
}

func (ep *Endpoint) handleConnectReq(msg *wire.SMMessage) {
	resp := &wire.SMMessage{
		Type:             wire.SMConnectResp,
		ClientRPCID:      msg.ClientRPCID,
		ServerRPCID:      ep.rpcID,
		ClientSessionNum: msg.ClientSessionNum,
	}

	var remoteRI transport.RoutingInfo
	copy(remoteRI[:], msg.RoutingInfo[:])
	if !ep.tr.ResolveRemoteRoutingInfo(remoteRI) {
		resp.ErrCode = smErrRoutingFailed
		_ = ep.nexus.sendSM(resp, msg.ClientURI)
		return
	}

	num := ep.allocSessionNum()
	s := newSession(num, RoleServer, ep.cfg.SessionCredits)
	s.remoteURI = msg.ClientURI
	s.remoteRPCID = msg.ClientRPCID
	s.remoteSessionNum = msg.ClientSessionNum
	s.remoteRoutingInfo = remoteRI
	s.state = StateConnected
	ep.sessions[num] = s

	resp.ServerSessionNum = num
	resp.RoutingInfo = ep.localRoutingInfo()
	_ = ep.nexus.sendSM(resp, msg.ClientURI)
}

func (ep *Endpoint) handleConnectResp(msg *wire.SMMessage) {
	s, ok := ep.sessions[msg.ClientSessionNum]
	if !ok || s.role != RoleClient || s.state != StateConnectInProgress {
		return
	}
	if msg.ErrCode != smErrOK {
		delete(ep.sessions, msg.ClientSessionNum)
		if s.smHandler != nil {
			s.smHandler(msg.ClientSessionNum, s.state, errSessionConnectFailed(msg.ClientSessionNum, s.remoteURI))
		}
		return
	}

	var remoteRI transport.RoutingInfo
	copy(remoteRI[:], msg.RoutingInfo[:])
	if !ep.tr.ResolveRemoteRoutingInfo(remoteRI) {
		delete(ep.sessions, msg.ClientSessionNum)
		if s.smHandler != nil {
			s.smHandler(msg.ClientSessionNum, s.state, errRoutingResolutionFailed(s.remoteURI))
		}
		return
	}

	s.remoteSessionNum = msg.ServerSessionNum
	s.remoteRoutingInfo = remoteRI
	s.state = StateConnected
	if s.smHandler != nil {
		s.smHandler(msg.ClientSessionNum, StateConnected, nil)
	}
}

func (ep *Endpoint) handleDisconnectReq(msg *wire.SMMessage) {
	s, ok := ep.sessions[msg.ServerSessionNum]
	if !ok {
		return
	}
	resp := &wire.SMMessage{
		Type:             wire.SMDisconnectResp,
		ClientRPCID:      msg.ClientRPCID,
		ServerRPCID:      ep.rpcID,
		ClientSessionNum: msg.ClientSessionNum,
		ServerSessionNum: msg.ServerSessionNum,
	}
	_ = ep.nexus.sendSM(resp, s.remoteURI)
	s.destroyed = true
	delete(ep.sessions, msg.ServerSessionNum)
}

func (ep *Endpoint) handleDisconnectResp(msg *wire.SMMessage) {
	s, ok := ep.sessions[msg.ClientSessionNum]
	if !ok {
		return
	}
	s.destroyed = true
	delete(ep.sessions, msg.ClientSessionNum)
	if s.smHandler != nil {
		s.smHandler(msg.ClientSessionNum, StateDisconnectInProgress, nil)
	}
}

func (ep *Endpoint) handleReset(msg *wire.SMMessage) {
	num := msg.ClientSessionNum
	s, ok := ep.sessions[num]
	if !ok {
		num = msg.ServerSessionNum
		s, ok = ep.sessions[num]
		if !ok {
			return
		}
	}
	s.state = StateResetInProgress
	s.destroyed = true
	delete(ep.sessions, num)
	if s.smHandler != nil {
		s.smHandler(num, StateResetInProgress, errSessionReset(num, "peer reset"))
	}
}

// ResetSession unilaterally tears down sessionNum, notifying the peer
// with an SM reset message. Used when a transport-level fault or
// application decision makes the session unusable without a graceful
// disconnect handshake.
func (ep *Endpoint) ResetSession(sessionNum uint16, reason string) error {
	s, ok := ep.sessions[sessionNum]
	if !ok {
		return errSessionReset(sessionNum, "unknown session")
	}
	msg := &wire.SMMessage{
		Type: wire.SMReset,
		// The peer's Nexus routes SMReset by ServerRPCID.
		ServerRPCID:      s.remoteRPCID,
		ClientSessionNum: s.remoteSessionNum,
		ServerSessionNum: s.remoteSessionNum,
	}
	_ = ep.nexus.sendSM(msg, s.remoteURI)

	s.state = StateResetInProgress
	s.destroyed = true
	delete(ep.sessions, sessionNum)
	if s.smHandler != nil {
		s.smHandler(sessionNum, StateResetInProgress, errSessionReset(sessionNum, reason))
	}
	return nil
}

// smRetryScan re-sends outstanding SM requests past kSMTimeoutMs and
// gives up after cfg.SMMaxRetries, matching the client-side retry
// timer the specification's session-management state machine uses.
func (ep *Endpoint) smRetryScan(now TSC) {
	timeout := FromDuration(ep.cfg.SMTimeout)
	for num, s := range ep.sessions {
		if s.role != RoleClient {
			continue
		}
		if s.state != StateConnectInProgress && s.state != StateDisconnectInProgress {
			continue
		}
		if now.Sub(s.smReqSentAt) < timeout {
			continue
		}
		if s.smRetries >= ep.cfg.SMMaxRetries {
			delete(ep.sessions, num)
			if s.smHandler != nil {
				s.smHandler(num, s.state, errSessionConnectFailed(num, s.remoteURI))
			}
			continue
		}
		s.smRetries++
		s.smReqSentAt = now
		if s.state == StateConnectInProgress {
			_ = ep.sendConnectReq(s)
		} else {
			_ = ep.sendDisconnectReq(s)
		}
	}
}
