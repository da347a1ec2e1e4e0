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

// Package rrpc implements a user-space request/response transport for
// lossless or near-lossless datacenter fabrics (InfiniBand, RoCE,
// OmniPath-style networks). It provides microsecond-scale RPC semantics
// over unreliable datagrams: credit-based flow control, multi-packet
// fragmentation and reassembly, TSC-clocked retransmission, optional
// rate-paced injection through a timing wheel, and a single-threaded
// dispatch loop that owns all session state.
//
// # Architecture
//
//   - Transport: NIC-independent send/receive abstraction, see the
//     transport package. rrpc ships an in-process transport
//     (transport/simfabric) for tests and a UDP-datagram transport
//     (transport/udpfabric) for real networks without verbs/RDMA.
//   - Endpoint: the top-level object bound to one Transport and one
//     rpc identifier. Owns a Session table, a Dispatch loop, a Timing
//     wheel, and optional background workers.
//   - Single-threaded datapath: only the goroutine running the dispatch
//     loop mutates session, slot, credit, or wheel state. Background
//     workers execute long request handlers and hand results back
//     through a lock-free completion ring; they never touch transport
//     state directly.
//
// # Example
//
//	ep, err := rrpc.NewEndpoint(nexus, 1, tr, nil)
//	ep.RegisterReqHandler(reqTypeEcho, echoHandler, rrpc.Foreground)
//	sessionNum, err := ep.CreateSession("10.0.0.2:31850", 2, func(num uint16, state rrpc.SessionState, err error) {
//		// state reaches rrpc.StateConnected once the handshake resolves.
//	})
//	err = ep.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, cont, tag)
//	for {
//		ep.RunEventLoopOnce()
//	}
package rrpc
