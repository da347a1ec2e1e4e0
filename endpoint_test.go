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

package rrpc_test

import (
	"testing"
	"time"

	"github.com/hxfab/rrpc"
	"github.com/hxfab/rrpc/transport"
	"github.com/hxfab/rrpc/transport/simfabric"
	"github.com/hxfab/rrpc/wire"
)

const reqTypeEcho = uint8(2)

func echoHandler(req, resp *rrpc.MsgBuffer) {
	resp.Resize(req.Size())
	copy(resp.Bytes(), req.Bytes())
}

type pair struct {
	client, server         *rrpc.Endpoint
	clientFab, serverFab   *simfabric.Fabric
	clientAddr, serverAddr string
}

// newLoopbackPair builds a client/server Endpoint pair: a real UDP
// Nexus each for session management (control-plane handshakes have no
// in-process test double in this tree) and a simfabric.Fabric pair for
// the data plane, so packet loss can be induced deterministically.
func newLoopbackPair(t *testing.T, mtu int, cfg *rrpc.Config) *pair {
	t.Helper()

	clientNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("client nexus: %v", err)
	}
	serverNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("server nexus: %v", err)
	}
	t.Cleanup(func() {
		_ = clientNexus.Close()
		_ = serverNexus.Close()
	})

	clientFab, serverFab := simfabric.NewPair(mtu, 1024)

	client, err := rrpc.NewEndpoint(clientNexus, 1, clientFab, cfg)
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}
	server, err := rrpc.NewEndpoint(serverNexus, 2, serverFab, cfg)
	if err != nil {
		t.Fatalf("server endpoint: %v", err)
	}
	server.RegisterReqHandler(reqTypeEcho, echoHandler, rrpc.Foreground)

	return &pair{
		client: client, server: server,
		clientFab: clientFab, serverFab: serverFab,
		clientAddr: clientNexus.LocalAddr(), serverAddr: serverNexus.LocalAddr(),
	}
}

// pumpUntil alternates RunEventLoopOnce between the two endpoints until
// done reports true or maxIters is exceeded.
func pumpUntil(t *testing.T, client, server *rrpc.Endpoint, maxIters int, done func() bool) {
	t.Helper()
	for i := 0; i < maxIters; i++ {
		if err := client.RunEventLoopOnce(); err != nil {
			t.Fatalf("client event loop: %v", err)
		}
		if err := server.RunEventLoopOnce(); err != nil {
			t.Fatalf("server event loop: %v", err)
		}
		if done() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("did not complete within %d iterations", maxIters)
}

func (p *pair) connect(t *testing.T) uint16 {
	t.Helper()
	connected := false
	var connectErr error
	sessionNum, err := p.client.CreateSession(p.serverAddr, 2, func(_ uint16, state rrpc.SessionState, err error) {
		if err != nil {
			connectErr = err
		}
		if state == rrpc.StateConnected {
			connected = true
		}
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	pumpUntil(t, p.client, p.server, 10000, func() bool { return connected || connectErr != nil })
	if connectErr != nil {
		t.Fatalf("connect failed: %v", connectErr)
	}
	return sessionNum
}

func TestEchoRoundTrip(t *testing.T) {
	p := newLoopbackPair(t, rrpc.DefaultMTU, nil)
	sessionNum := p.connect(t)

	req := p.client.Alloc(64)
	req.Resize(64)
	for i := range req.Bytes() {
		req.Bytes()[i] = byte(i)
	}
	resp := p.client.Alloc(64)
	resp.Resize(64)

	done := false
	var reqErr error
	var got *rrpc.MsgBuffer
	err := p.client.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, func(r *rrpc.MsgBuffer, _ any, err error) {
		reqErr = err
		got = r
		done = true
	}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pumpUntil(t, p.client, p.server, 10000, func() bool { return done })
	if reqErr != nil {
		t.Fatalf("request failed: %v", reqErr)
	}
	for i, b := range got.Bytes() {
		if b != byte(i) {
			t.Fatalf("echo mismatch at %d: got %d want %d", i, b, byte(i))
		}
	}
}

func TestMultiPacketWithInducedLoss(t *testing.T) {
	mtu := 128 // small MTU forces a large payload to fragment
	p := newLoopbackPair(t, mtu, nil)
	sessionNum := p.connect(t)

	// Drop every third packet of any kind, counted across both directions
	// together, to force retransmit.
	var seen int
	dropEveryThird := func(item transport.TxItem) bool {
		seen++
		return seen%3 == 0
	}
	p.clientFab.SetLoss(dropEveryThird)
	p.serverFab.SetLoss(dropEveryThird)

	size := 4096
	req := p.client.Alloc(size)
	req.Resize(size)
	for i := range req.Bytes() {
		req.Bytes()[i] = byte(i % 251)
	}
	resp := p.client.Alloc(size)
	resp.Resize(size)

	done := false
	var reqErr error
	var got *rrpc.MsgBuffer
	err := p.client.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, func(r *rrpc.MsgBuffer, _ any, err error) {
		reqErr = err
		got = r
		done = true
	}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pumpUntil(t, p.client, p.server, 200000, func() bool { return done })
	if reqErr != nil {
		t.Fatalf("request failed: %v", reqErr)
	}
	for i, b := range got.Bytes() {
		if b != byte(i%251) {
			t.Fatalf("echo mismatch at %d: got %d want %d", i, b, byte(i%251))
		}
	}
	if p.client.Stats.NumRetransmissions == 0 && p.server.Stats.NumRetransmissions == 0 {
		t.Fatalf("expected induced loss to trigger at least one retransmission")
	}
}

func TestCreditStall(t *testing.T) {
	cfg := rrpc.NewConfig(rrpc.WithSessionCredits(2))
	p := newLoopbackPair(t, rrpc.DefaultMTU, cfg)
	sessionNum := p.connect(t)

	const numReqs = 5
	completed := 0
	for i := 0; i < numReqs; i++ {
		req := p.client.Alloc(32)
		req.Resize(32)
		resp := p.client.Alloc(32)
		resp.Resize(32)
		err := p.client.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, func(_ *rrpc.MsgBuffer, _ any, err error) {
			completed++
		}, nil)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	pumpUntil(t, p.client, p.server, 200000, func() bool { return completed == numReqs })
	if p.client.Stats.CreditStallEnters == 0 {
		t.Fatalf("expected a session with only 2 credits and 5 outstanding requests to enter the credit-stall queue")
	}
}

func TestSMConnectRetryExhaustion(t *testing.T) {
	clientNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("client nexus: %v", err)
	}
	t.Cleanup(func() { _ = clientNexus.Close() })

	// Bind and immediately close a UDP socket to get a port nothing is
	// listening on, then point the client at it.
	deadNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("dead nexus: %v", err)
	}
	deadAddr := deadNexus.LocalAddr()
	_ = deadNexus.Close()

	clientFab, _ := simfabric.NewPair(rrpc.DefaultMTU, 64)
	cfg := rrpc.NewConfig(rrpc.WithSMRetryBudget(5*time.Millisecond, 2))
	client, err := rrpc.NewEndpoint(clientNexus, 1, clientFab, cfg)
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}

	var connectErr error
	_, err = client.CreateSession(deadAddr, 2, func(_ uint16, _ rrpc.SessionState, err error) {
		connectErr = err
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for connectErr == nil && time.Now().Before(deadline) {
		if err := client.RunEventLoopOnce(); err != nil {
			t.Fatalf("event loop: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if connectErr == nil {
		t.Fatalf("expected connect to fail against an unreachable peer")
	}
	if code := rrpc.ErrorCode(connectErr); code != rrpc.CodeSessionConnectFailed {
		t.Fatalf("got error code %q, want %q", code, rrpc.CodeSessionConnectFailed)
	}
}

func TestFalsePositiveRTO(t *testing.T) {
	cfg := rrpc.NewConfig(rrpc.WithRTO(2 * time.Millisecond))
	p := newLoopbackPair(t, rrpc.DefaultMTU, cfg)

	const reqTypeSlow = uint8(9)
	release := make(chan struct{})
	p.server.RegisterReqHandler(reqTypeSlow, func(req, resp *rrpc.MsgBuffer) {
		<-release
		resp.Resize(req.Size())
		copy(resp.Bytes(), req.Bytes())
	}, rrpc.Background)

	sessionNum := p.connect(t)

	req := p.client.Alloc(32)
	req.Resize(32)
	resp := p.client.Alloc(32)
	resp.Resize(32)

	done := false
	err := p.client.EnqueueRequest(sessionNum, reqTypeSlow, req, resp, func(_ *rrpc.MsgBuffer, _ any, _ error) {
		done = true
	}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// One round trip is enough to get the single request fragment to the
	// server and its ExplCR back to the client. The handler is parked on
	// release, so no response is queued yet: the client's slot now has
	// num_tx == num_rx (fully acknowledged) but tx_msgbuf still set,
	// exactly the state pkt_loss_scan must recognize as a false positive
	// rather than a real loss once the RTO elapses.
	if err := p.client.RunEventLoopOnce(); err != nil {
		t.Fatalf("client event loop: %v", err)
	}
	if err := p.server.RunEventLoopOnce(); err != nil {
		t.Fatalf("server event loop: %v", err)
	}
	if err := p.client.RunEventLoopOnce(); err != nil {
		t.Fatalf("client event loop: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.client.Stats.FalsePositiveRTOs == 0 && time.Now().Before(deadline) {
		if err := p.client.RunEventLoopOnce(); err != nil {
			t.Fatalf("client event loop: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	if p.client.Stats.FalsePositiveRTOs == 0 {
		t.Fatalf("expected pkt_loss_scan to log a false positive while the response was still pending")
	}
	if p.client.Stats.NumRetransmissions != 0 {
		t.Fatalf("a false-positive RTO must not retransmit, got %d retransmissions", p.client.Stats.NumRetransmissions)
	}

	pumpUntil(t, p.client, p.server, 200000, func() bool { return done })
}

// TestFirstResponseFragmentLossRecovers exercises the failure mode the
// eager-ExplCR bug produced: a Foreground handler completes and its
// unsolicited first response fragment is lost on the wire. Because the
// completing request fragment's credit is deferred to that response
// fragment (see rxpath.go's handleReqData), the client's num_tx/num_rx
// ledger stays at delta 1, not 0, so pkt_loss_scan sees a real loss
// instead of a permanent false positive and retransmits.
func TestFirstResponseFragmentLossRecovers(t *testing.T) {
	cfg := rrpc.NewConfig(rrpc.WithRTO(2 * time.Millisecond))
	p := newLoopbackPair(t, rrpc.DefaultMTU, cfg)
	sessionNum := p.connect(t)

	var dropped bool
	p.serverFab.SetLoss(func(item transport.TxItem) bool {
		fields, ok := wire.Decode(item.Header)
		if !ok || fields.PktKind != wire.KindRespData || dropped {
			return false
		}
		dropped = true
		return true
	})

	req := p.client.Alloc(32)
	req.Resize(32)
	for i := range req.Bytes() {
		req.Bytes()[i] = byte(i)
	}
	resp := p.client.Alloc(32)
	resp.Resize(32)

	done := false
	var reqErr error
	var got *rrpc.MsgBuffer
	err := p.client.EnqueueRequest(sessionNum, reqTypeEcho, req, resp, func(r *rrpc.MsgBuffer, _ any, err error) {
		reqErr = err
		got = r
		done = true
	}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pumpUntil(t, p.client, p.server, 200000, func() bool { return done })
	if reqErr != nil {
		t.Fatalf("request failed: %v", reqErr)
	}
	for i, b := range got.Bytes() {
		if b != byte(i) {
			t.Fatalf("echo mismatch at %d: got %d want %d", i, b, byte(i))
		}
	}
	if !dropped {
		t.Fatalf("test setup bug: never observed a RespData packet to drop")
	}
	if p.client.Stats.NumRetransmissions == 0 {
		t.Fatalf("expected the lost unsolicited response fragment to trigger a client retransmission")
	}
}

func TestBackgroundHandlerRoundTrip(t *testing.T) {
	cfg := rrpc.NewConfig(rrpc.WithBackgroundWorkers(2))
	p := newLoopbackPair(t, rrpc.DefaultMTU, cfg)

	const reqTypeBackgroundEcho = uint8(10)
	p.server.RegisterReqHandler(reqTypeBackgroundEcho, echoHandler, rrpc.Background)

	sessionNum := p.connect(t)

	req := p.client.Alloc(64)
	req.Resize(64)
	for i := range req.Bytes() {
		req.Bytes()[i] = byte(i)
	}
	resp := p.client.Alloc(64)
	resp.Resize(64)

	done := false
	var reqErr error
	var got *rrpc.MsgBuffer
	err := p.client.EnqueueRequest(sessionNum, reqTypeBackgroundEcho, req, resp, func(r *rrpc.MsgBuffer, _ any, err error) {
		reqErr = err
		got = r
		done = true
	}, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pumpUntil(t, p.client, p.server, 200000, func() bool { return done })
	if reqErr != nil {
		t.Fatalf("request failed: %v", reqErr)
	}
	for i, b := range got.Bytes() {
		if b != byte(i) {
			t.Fatalf("echo mismatch at %d: got %d want %d", i, b, byte(i))
		}
	}
	if p.server.Stats.BackgroundDispatches == 0 {
		t.Fatalf("expected the request to be dispatched to a background worker")
	}
}

func TestSMConnectRetryThenSucceeds(t *testing.T) {
	clientNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("client nexus: %v", err)
	}
	serverNexus, err := rrpc.NewNexus("127.0.0.1:0")
	if err != nil {
		t.Fatalf("server nexus: %v", err)
	}
	t.Cleanup(func() {
		_ = clientNexus.Close()
		_ = serverNexus.Close()
	})

	// Drop exactly the first connect_resp the client's Nexus receives
	// (SetLoss filters inbound messages), forcing the client's SM retry
	// timer to fire a second connect_req.
	var respsSeen int
	clientNexus.SetLoss(func(msg *wire.SMMessage) bool {
		if msg.Type != wire.SMConnectResp {
			return false
		}
		respsSeen++
		return respsSeen == 1
	})

	clientFab, serverFab := simfabric.NewPair(rrpc.DefaultMTU, 64)
	cfg := rrpc.NewConfig(rrpc.WithSMRetryBudget(5*time.Millisecond, 5))
	client, err := rrpc.NewEndpoint(clientNexus, 1, clientFab, cfg)
	if err != nil {
		t.Fatalf("client endpoint: %v", err)
	}
	server, err := rrpc.NewEndpoint(serverNexus, 2, serverFab, cfg)
	if err != nil {
		t.Fatalf("server endpoint: %v", err)
	}

	var connected bool
	var connectErr error
	_, err = client.CreateSession(serverNexus.LocalAddr(), 2, func(_ uint16, state rrpc.SessionState, err error) {
		if err != nil {
			connectErr = err
		}
		if state == rrpc.StateConnected {
			connected = true
		}
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	pumpUntil(t, client, server, 200000, func() bool { return connected || connectErr != nil })
	if connectErr != nil {
		t.Fatalf("connect failed: %v", connectErr)
	}
	if respsSeen < 2 {
		t.Fatalf("expected the dropped first connect_resp to provoke a second connect_req, got %d responses observed", respsSeen)
	}
}

func TestSessionReset(t *testing.T) {
	p := newLoopbackPair(t, rrpc.DefaultMTU, nil)

	var resetErr error
	notified := false
	// ResetSession fires its session's handler synchronously and does
	// not depend on handshake state, so a freshly created (not
	// necessarily connected) session is enough to observe it.
	sn, err := p.client.CreateSession(p.serverAddr, 2, func(_ uint16, state rrpc.SessionState, err error) {
		if state == rrpc.StateResetInProgress {
			resetErr = err
			notified = true
		}
	})
	if err != nil {
		t.Fatalf("create second session: %v", err)
	}

	if err := p.client.ResetSession(sn, "peer unreachable"); err != nil {
		t.Fatalf("reset session: %v", err)
	}
	if !notified {
		t.Fatalf("expected ResetSession to synchronously notify the session handler")
	}
	if resetErr == nil {
		t.Fatalf("expected a reset notification with a non-nil error")
	}
	if code := rrpc.ErrorCode(resetErr); code != rrpc.CodeSessionReset {
		t.Fatalf("got error code %q, want %q", code, rrpc.CodeSessionReset)
	}
}
