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

import "time"

// Compile-time tunables matching the eponymous constants from the
// specification this runtime implements. Endpoint-level overrides live
// in Config; these are the defaults.
const (
	// kSessionReqWindow is the number of session slots per session, i.e.
	// the maximum number of concurrent outstanding requests per session.
	kSessionReqWindow = 8

	// kSessionCredits is the number of in-flight packets a session may
	// have before the sender must stall.
	kSessionCredits = 8

	// kMTU is the maximum payload bytes per fabric packet, header included.
	kMTU = 1024

	// kMaxInline is the largest packet that may bypass the timing wheel
	// when pacing is disabled.
	kMaxInline = 60

	// kMinInline is the maximum size a pkthdr_t is allowed to occupy.
	kMinInline = 16

	// kWheelNumBuckets is the number of buckets in the timing wheel.
	kWheelNumBuckets = 1024

	// kWheelBucketWidthTsc is the width of one wheel bucket, in TSC cycles.
	kWheelBucketWidthTsc = TSC(1000)

	// kPktLossScanIntervalMs is how often pkt_loss_scan runs.
	kPktLossScanIntervalMs = 4

	// kSMScanIntervalMs is how often the session-management retry scan runs.
	kSMScanIntervalMs = 100

	// kSMTimeoutMs is how long the client waits before re-sending an SM request.
	kSMTimeoutMs = 1000

	// kSMMaxRetries bounds the number of SM request retransmissions before
	// declaring SessionConnectFailed / SessionReset.
	kSMMaxRetries = 5

	// kRpcRTODefault is the default retransmission timeout, as a
	// time.Duration (converted to TSC cycles with FromDuration).
	kRpcRTODefault = 5 * time.Millisecond

	// kCcMinRateAbs is the minimum congestion-controlled rate, bytes/sec.
	kCcMinRateAbs = 1 * 1024 * 1024 // 1 MB/s

	// kCcLinkRateDefault is the assumed link rate absent better information.
	kCcLinkRateDefault = 10 * 1024 * 1024 * 1024 / 8 // ~10 Gbps in bytes/sec

	// kSMPort is the well-known UDP port session-management traffic uses.
	kSMPort = 31850

	// kBackgroundQueueCapacity bounds the SPSC rings used for background
	// handler dispatch and completion.
	kBackgroundQueueCapacity = 256
)

// DefaultMTU is the default per-packet MTU new Transports should use
// absent a more specific value, mirroring kMTU for external callers
// that need it before an Endpoint (and its Config) exists yet.
const DefaultMTU = kMTU

// PktType enumerates the packet-kind field of a wire packet header.
type PktType uint8

const (
	PktReqData PktType = iota
	PktRespData
	PktExplCR
	PktRFR
)

func (t PktType) String() string {
	switch t {
	case PktReqData:
		return "ReqData"
	case PktRespData:
		return "RespData"
	case PktExplCR:
		return "ExplCR"
	case PktRFR:
		return "RFR"
	default:
		return "Unknown"
	}
}

// HandlerType selects whether a registered request handler runs inline
// on the dispatch goroutine or is dispatched to a background worker.
type HandlerType uint8

const (
	Foreground HandlerType = iota
	Background
)
