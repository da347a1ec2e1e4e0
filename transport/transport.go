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

// Package transport defines the NIC-independent capability set the
// dispatch loop is parameterized over. The real runtime this package is
// modeled on binds this to verbs/DMA; that binding is explicitly out of
// scope here; this package instead ships two concrete implementations
// (simfabric, udpfabric) that are test scaffolding, not the core.
package transport

// RoutingInfo is an opaque, fixed-size blob a Transport uses to address
// a remote endpoint (verbs QP number and GID, in a real RDMA binding).
type RoutingInfo [32]byte

// TxItem is one packet queued for transmission: a fully-encoded
// pkthdr_t followed by payload, plus the destination routing info.
// Dispatch builds Header and Payload as separate slices so it never
// needs to copy payload bytes out of a MsgBuffer just to hand them to
// the Transport.
type TxItem struct {
	Header  []byte
	Payload []byte
	Dest    RoutingInfo
}

// RxPacket is one packet returned by RxBurst: header and payload are
// contiguous, exactly as they arrived off the wire.
type RxPacket struct {
	Data []byte
	From RoutingInfo
}

// Transport is the capability set an Endpoint is constructed over.
// Implementations own their DMA buffer pools and RX ring; the dispatch
// loop is monomorphic per Transport instance to keep the hot path
// inlined, per the specification's dynamic-dispatch design note.
type Transport interface {
	// TxBurst hands a batch of packets to the NIC send ring. It may
	// return before the NIC has actually completed the sends; use
	// TxFlush to force completion.
	TxBurst(items []TxItem) error

	// TxFlush blocks until the NIC has signaled completion of all
	// previously posted sends. This is expensive (microseconds) and is
	// only called on retransmission and shutdown.
	TxFlush() error

	// RxBurst polls the receive ring and returns any packets that have
	// arrived. It never blocks.
	RxBurst() ([]RxPacket, error)

	// PostRecvs posts n receive descriptors, making that much buffer
	// space visible to the NIC for future inbound packets.
	PostRecvs(n int) error

	// FillLocalRoutingInfo writes this Transport's local routing
	// information into dst, for inclusion in an outgoing SM message.
	FillLocalRoutingInfo(dst *RoutingInfo)

	// ResolveRemoteRoutingInfo validates and imports a peer's routing
	// info received over the SM control plane. False means the local
	// NIC rejected it (RoutingResolutionFailed).
	ResolveRemoteRoutingInfo(info RoutingInfo) bool

	// DataSizeToNumPkts returns how many MTU-sized fragments a payload
	// of the given size splits into under this Transport's MTU.
	DataSizeToNumPkts(size int) int

	// MTU returns the maximum payload bytes per fabric packet,
	// including the packet header.
	MTU() int

	// TransportType names the concrete backend, for logging/metrics
	// tagging only.
	TransportType() string
}
