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

// Package simfabric provides an in-process Transport pair connected by
// lock-free bounded SPSC queues, for deterministic tests. It plays the
// role the teacher's link/channel package plays for a software netstack
// (an injectable in-memory link), but is built on
// code.hybscloud.com/lfq instead of a buffered chan so it never takes a
// lock either, matching the no-lock invariant of the real datapath it
// stands in for.
package simfabric

import (
	"errors"

	"code.hybscloud.com/lfq"

	"github.com/hxfab/rrpc/transport"
	"github.com/hxfab/rrpc/wire"
)

// LossFunc decides whether a packet queued for transmission should be
// dropped on the wire, for injecting the loss scenarios the
// specification's testable properties describe.
type LossFunc func(item transport.TxItem) bool

// Fabric is one side of a simulated point-to-point link.
type Fabric struct {
	name  string
	mtu   int
	local transport.RoutingInfo
	send  *lfq.SPSC[transport.RxPacket]
	recv  *lfq.SPSC[transport.RxPacket]
	loss  LossFunc
	txBuf []byte
}

var errQueueFull = errors.New("simfabric: peer's receive queue is full")

// NewPair creates two Fabric endpoints wired to each other: packets
// TxBurst-ed on a arrive at b's RxBurst, and vice versa.
func NewPair(mtu, capacity int) (a, b *Fabric) {
	aToB := &lfq.SPSC[transport.RxPacket]{}
	aToB.Init(capacity)
	bToA := &lfq.SPSC[transport.RxPacket]{}
	bToA.Init(capacity)

	a = &Fabric{name: "a", mtu: mtu, send: aToB, recv: bToA}
	b = &Fabric{name: "b", mtu: mtu, send: bToA, recv: aToB}
	a.local[0], b.local[0] = 'A', 'B'
	return a, b
}

// SetLoss installs a predicate that drops matching packets instead of
// delivering them, simulating wire loss. Pass nil to stop dropping.
func (f *Fabric) SetLoss(fn LossFunc) { f.loss = fn }

func (f *Fabric) TxBurst(items []transport.TxItem) error {
	for _, item := range items {
		if f.loss != nil && f.loss(item) {
			continue
		}
		data := make([]byte, 0, len(item.Header)+len(item.Payload))
		data = append(data, item.Header...)
		data = append(data, item.Payload...)
		pkt := transport.RxPacket{Data: data, From: f.local}
		if err := f.send.Enqueue(&pkt); err != nil {
			return errQueueFull
		}
	}
	return nil
}

func (f *Fabric) TxFlush() error { return nil }

func (f *Fabric) RxBurst() ([]transport.RxPacket, error) {
	var out []transport.RxPacket
	for {
		pkt, err := f.recv.Dequeue()
		if err != nil {
			break
		}
		out = append(out, pkt)
	}
	return out, nil
}

func (f *Fabric) PostRecvs(n int) error { return nil }

func (f *Fabric) FillLocalRoutingInfo(dst *transport.RoutingInfo) { *dst = f.local }

func (f *Fabric) ResolveRemoteRoutingInfo(info transport.RoutingInfo) bool {
	return info != (transport.RoutingInfo{})
}

func (f *Fabric) DataSizeToNumPkts(size int) int {
	maxPayload := f.mtu - wire.HeaderSize
	if size == 0 {
		return 1
	}
	n := size / maxPayload
	if size%maxPayload != 0 {
		n++
	}
	return n
}

func (f *Fabric) MTU() int { return f.mtu }

func (f *Fabric) TransportType() string { return "simfabric" }
