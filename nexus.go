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
	"fmt"
	"net"
	"sync"

	"github.com/hxfab/rrpc/wire"
)

// SMLossFunc decides whether an inbound session-management message
// should be dropped instead of delivered, mirroring simfabric.LossFunc
// for the control plane so SM retry/timeout paths can be exercised
// deterministically in tests without a real network partition.
type SMLossFunc func(msg *wire.SMMessage) bool

// Nexus is the process-wide session-management control plane: one UDP
// socket shared by every local Endpoint, demultiplexed by rpc_id. Data
// packets never touch the Nexus; only connect/disconnect/reset
// handshakes do, since those must reach an Endpoint before it has any
// per-session routing information to speak with the Transport directly.
type Nexus struct {
	conn *net.UDPConn

	mu        sync.Mutex
	endpoints map[uint8]*Endpoint
	loss      SMLossFunc

	closeCh chan struct{}
}

// NewNexus binds the session-management UDP socket at laddr (typically
// ":31850", kSMPort) and starts the background demultiplexing loop.
func NewNexus(laddr string) (*Nexus, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	n := &Nexus{
		conn:      conn,
		endpoints: make(map[uint8]*Endpoint),
		closeCh:   make(chan struct{}),
	}
	go n.readLoop()
	return n, nil
}

// LocalAddr returns the address the Nexus's SM socket is bound to.
func (n *Nexus) LocalAddr() string { return n.conn.LocalAddr().String() }

func (n *Nexus) register(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[ep.rpcID] = ep
}

func (n *Nexus) unregister(rpcID uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, rpcID)
}

func (n *Nexus) endpointFor(rpcID uint8) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[rpcID]
}

// SetLoss installs a predicate that drops matching inbound SM messages
// instead of delivering them to their Endpoint. Pass nil to stop
// dropping. Test-only: production callers have no need for it.
func (n *Nexus) SetLoss(fn SMLossFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss = fn
}

func (n *Nexus) lossFn() SMLossFunc {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loss
}

func (n *Nexus) readLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-n.closeCh:
			return
		default:
		}
		nRead, _, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		msg, err := wire.UnmarshalSMMessage(buf[:nRead])
		if err != nil {
			continue
		}
		if loss := n.lossFn(); loss != nil && loss(msg) {
			continue
		}
		target := msg.ServerRPCID
		if msg.Type == wire.SMConnectResp || msg.Type == wire.SMDisconnectResp {
			target = msg.ClientRPCID
		}
		ep := n.endpointFor(target)
		if ep == nil {
			continue
		}
		_ = ep.smInbox.Enqueue(msg)
	}
}

// sendSM marshals and sends one session-management message to addr.
func (n *Nexus) sendSM(msg *wire.SMMessage, addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("rrpc: resolve sm peer %q: %w", addr, err)
	}
	_, err = n.conn.WriteToUDP(msg.Marshal(), raddr)
	return err
}

// Close shuts down the SM socket. Endpoints registered with this Nexus
// must be closed first.
func (n *Nexus) Close() error {
	close(n.closeCh)
	return n.conn.Close()
}
