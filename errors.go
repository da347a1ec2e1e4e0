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
	"github.com/samber/oops"
)

// Error kind codes. These are the six error kinds the core emits, per
// the error handling design: session-scoped failures reach the
// application through the session-management callback or a
// continuation, endpoint-scoped failures are fatal and surfaced at the
// next event-loop call, and datapath anomalies are dropped silently
// with a counter increment (never returned as one of these).
const (
	CodeSessionConnectFailed    = "session_connect_failed"
	CodeSessionReset            = "session_reset"
	CodeTooManyOutstanding      = "too_many_outstanding"
	CodeMsgBufferTooSmall       = "msg_buffer_too_small"
	CodeRoutingResolutionFailed = "routing_resolution_failed"
	CodeTransportFatal          = "transport_fatal"
)

// errSessionConnectFailed reports that the peer refused a connect
// request or did not reply within the SM retry budget.
func errSessionConnectFailed(sessionNum uint16, remoteURI string) error {
	return oops.
		Code(CodeSessionConnectFailed).
		With("session_num", sessionNum).
		With("remote_uri", remoteURI).
		Errorf("session connect failed: no reply within SM retry budget")
}

// errSessionReset reports that the peer declared the session dead, or
// the transport reported a fault that only affects this session.
func errSessionReset(sessionNum uint16, reason string) error {
	return oops.
		Code(CodeSessionReset).
		With("session_num", sessionNum).
		Errorf("session reset: %s", reason)
}

// errTooManyOutstanding is returned synchronously from EnqueueRequest
// when every slot in the session is busy.
func errTooManyOutstanding(sessionNum uint16) error {
	return oops.
		Code(CodeTooManyOutstanding).
		With("session_num", sessionNum).
		Errorf("too many outstanding requests: all %d slots busy", kSessionReqWindow)
}

// errMsgBufferTooSmall is delivered via continuation when the response
// does not fit in the caller's resp_mbuf.
func errMsgBufferTooSmall(sessionNum uint16, reqNum uint64, have, want int) error {
	return oops.
		Code(CodeMsgBufferTooSmall).
		With("session_num", sessionNum).
		With("req_num", reqNum).
		Errorf("response buffer too small: have %d bytes, need %d", have, want)
}

// errRoutingResolutionFailed is returned when the local NIC rejects
// the remote's routing info during session creation.
func errRoutingResolutionFailed(remoteURI string) error {
	return oops.
		Code(CodeRoutingResolutionFailed).
		With("remote_uri", remoteURI).
		Errorf("routing resolution failed")
}

// errTransportFatal wraps a verbs-layer error that renders the whole
// Endpoint unusable.
func errTransportFatal(cause error) error {
	return oops.
		Code(CodeTransportFatal).
		Wrapf(cause, "transport fatal error")
}

// ErrorCode extracts the taxonomy code from an error produced by this
// package, or "" if err was not produced by rrpc.
func ErrorCode(err error) string {
	if oerr, ok := oops.AsOops(err); ok {
		if code, ok := oerr.Code().(string); ok {
			return code
		}
	}
	return ""
}
