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
	"github.com/sirupsen/logrus"

	"code.hybscloud.com/lfq"

	"github.com/hxfab/rrpc/transport"
	"github.com/hxfab/rrpc/wire"
)

// ReqHandlerFunc handles one request. It must write its result into
// resp (via resp.Resize and a copy into resp.Bytes()) rather than
// allocate a new MsgBuffer, since resp was already sized by the
// dispatch goroutine before the handler ran -- this holds for both
// Foreground handlers (run inline) and Background handlers (run on a
// worker goroutine, where resp is the only piece of Endpoint state
// safe to touch).
type ReqHandlerFunc func(req, resp *MsgBuffer)

type registeredHandler struct {
	fn   ReqHandlerFunc
	kind HandlerType
}

// Endpoint is the top-level object bound to one Transport and one
// rpc_id. Only the goroutine that calls RunEventLoopOnce (directly or
// via RunEventLoop) may touch Session, SSlot, credit, or wheel state.
// Endpoint's methods, including Alloc and Free, take no locks and are
// not safe for concurrent use.
type Endpoint struct {
	rpcID uint8
	nexus *Nexus
	tr    transport.Transport
	cfg   *Config

	alloc *allocator
	log   *logrus.Entry
	otel  *otelInstruments
	Stats Stats

	sessions       map[uint16]*Session
	nextSessionNum uint16

	handlers [256]*registeredHandler

	wheel   *timingWheel
	creditQ *creditStallQueue
	bg      *backgroundPool

	smInbox *lfq.SPSC[wire.SMMessage]

	txBatch []transport.TxItem

	nowTsc             TSC
	lastPktLossScanTsc TSC
	lastSMScanTsc      TSC
}

// NewEndpoint constructs an Endpoint bound to tr and registers it with
// nexus under rpcID. cfg may be nil to take every default.
func NewEndpoint(nexus *Nexus, rpcID uint8, tr transport.Transport, cfg *Config) (*Endpoint, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	// MsgBuffer fragment math must agree with what the Transport
	// actually enforces, so the allocator is always sized off the
	// Transport's MTU rather than whatever a caller left in Config.
	cfg.MTU = tr.MTU()
	now := Rdtsc()
	ep := &Endpoint{
		rpcID:    rpcID,
		nexus:    nexus,
		tr:       tr,
		cfg:      cfg,
		alloc:    newAllocator(cfg.MTU),
		log:      newEndpointLogger(rpcID),
		otel:     newOtelInstruments(),
		sessions: make(map[uint16]*Session),
		wheel:    newTimingWheel(cfg.WheelNumBuckets, cfg.WheelBucketWidth, now),
		creditQ:  newCreditStallQueue(),
		smInbox:  &lfq.SPSC[wire.SMMessage]{},
		nowTsc:   now,
	}
	ep.smInbox.Init(32)
	if cfg.BackgroundWorkers > 0 {
		ep.bg = newBackgroundPool(cfg.BackgroundWorkers, cfg.QueueCapacity)
	}
	if nexus != nil {
		nexus.register(ep)
	}
	return ep, nil
}

// RegisterReqHandler binds fn to reqType. kind selects whether fn runs
// inline on the dispatch goroutine (Foreground) or on a background
// worker (Background); registering a Background handler on an Endpoint
// built with zero BackgroundWorkers is a caller bug and panics.
func (ep *Endpoint) RegisterReqHandler(reqType uint8, fn ReqHandlerFunc, kind HandlerType) {
	if kind == Background && ep.bg == nil {
		panic("rrpc: RegisterReqHandler(Background) requires Config.BackgroundWorkers > 0")
	}
	ep.handlers[reqType] = &registeredHandler{fn: fn, kind: kind}
}

// Alloc returns a MsgBuffer with at least maxSize bytes of capacity.
func (ep *Endpoint) Alloc(maxSize int) *MsgBuffer { return ep.alloc.Alloc(maxSize) }

// Free returns a MsgBuffer's storage to the Endpoint's allocator.
func (ep *Endpoint) Free(m *MsgBuffer) { ep.alloc.Free(m) }

// TransportType names the Transport backend this Endpoint is bound to.
func (ep *Endpoint) TransportType() string { return ep.tr.TransportType() }

func (ep *Endpoint) allocSessionNum() uint16 {
	for {
		n := ep.nextSessionNum
		ep.nextSessionNum++
		if _, busy := ep.sessions[n]; !busy {
			return n
		}
	}
}

// CreateSession begins a client-side connect handshake to remoteURI
// (an SM-socket address, "host:31850" style) against remoteRPCID.
// It returns the local session number immediately; handler is invoked
// once the handshake resolves to Connected or fails with
// SessionConnectFailed.
func (ep *Endpoint) CreateSession(remoteURI string, remoteRPCID uint8, handler SMHandler) (uint16, error) {
	num := ep.allocSessionNum()
	s := newSession(num, RoleClient, ep.cfg.SessionCredits)
	s.remoteURI = remoteURI
	s.remoteRPCID = remoteRPCID
	s.smHandler = handler
	s.state = StateConnectInProgress
	ep.sessions[num] = s

	if err := ep.sendConnectReq(s); err != nil {
		delete(ep.sessions, num)
		return 0, err
	}
	return num, nil
}

// DestroySession begins tearing down a session. The session's SMHandler
// (if any) is invoked once the teardown completes.
func (ep *Endpoint) DestroySession(sessionNum uint16) error {
	s, ok := ep.sessions[sessionNum]
	if !ok {
		return errSessionReset(sessionNum, "unknown session")
	}
	s.state = StateDisconnectInProgress
	s.smRetries = 0
	s.smReqSentAt = ep.nowTsc
	return ep.sendDisconnectReq(s)
}

// EnqueueRequest reserves a free slot in sessionNum and queues req for
// transmission. cont runs on the dispatch goroutine (or, for a
// Background-registered handler on the server side, after the worker's
// completion is drained) once the response is fully reassembled into
// resp, or once the request fails.
func (ep *Endpoint) EnqueueRequest(sessionNum uint16, reqType uint8, req, resp *MsgBuffer, cont Continuation, tag any) error {
	s, ok := ep.sessions[sessionNum]
	if !ok || s.state != StateConnected {
		return errSessionReset(sessionNum, "session not connected")
	}
	idx := s.freeSlot()
	if idx < 0 {
		return errTooManyOutstanding(sessionNum)
	}
	req.SetReqType(reqType)
	slot := &s.slots[idx]
	slot.txMsgBuf = req
	slot.rxMsgBuf = resp
	slot.clientInfo = clientInfo{
		progressTsc: ep.nowTsc,
		cont:        cont,
		tag:         tag,
		txTsc:       make([]TSC, req.NumPkts()),
	}
	ep.kickReq(s, idx)
	return nil
}

// RunEventLoopOnce runs one iteration of the single-threaded dispatch
// loop: sample the clock once, drain the background completion queue
// and the SM inbox, receive and classify packets, service the
// credit-stall queue, advance the timing wheel (posting any packet
// whose paced dispatch time has arrived to the TX batch), run the
// periodic loss-detection and session-management scans, and flush the
// TX batch.
func (ep *Endpoint) RunEventLoopOnce() error {
	return ep.dispatchOnce()
}

// RunEventLoop calls RunEventLoopOnce until stop is closed.
func (ep *Endpoint) RunEventLoop(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := ep.RunEventLoopOnce(); err != nil {
			return err
		}
	}
}

// Close shuts down this Endpoint's background workers and unregisters
// it from its Nexus. It does not close the underlying Transport.
func (ep *Endpoint) Close() error {
	if ep.bg != nil {
		ep.bg.Close()
	}
	if ep.nexus != nil {
		ep.nexus.unregister(ep.rpcID)
	}
	return nil
}
