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

package wire_test

import (
	"testing"

	"github.com/hxfab/rrpc/wire"
)

func TestSMMessageRoundTrip(t *testing.T) {
	m := &wire.SMMessage{
		Type:             wire.SMConnectReq,
		ClientURI:        "10.0.0.1:31850",
		ServerURI:        "10.0.0.2:31850",
		ClientRPCID:      1,
		ServerRPCID:      2,
		ClientSessionNum: 0,
		ServerSessionNum: 0,
		ErrCode:          0,
	}
	copy(m.RoutingInfo[:], "opaque-verbs-routing-blob-here!")

	got, err := wire.UnmarshalSMMessage(m.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != m.Type || got.ClientURI != m.ClientURI || got.ServerURI != m.ServerURI {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.RoutingInfo != m.RoutingInfo {
		t.Fatalf("routing info mismatch: got %v want %v", got.RoutingInfo, m.RoutingInfo)
	}
}

func TestUnmarshalSMMessageTruncated(t *testing.T) {
	if _, err := wire.UnmarshalSMMessage(nil); err == nil {
		t.Fatalf("expected error decoding empty buffer")
	}
	if _, err := wire.UnmarshalSMMessage([]byte{byte(wire.SMConnectReq), 0, 5, 'a'}); err == nil {
		t.Fatalf("expected error decoding truncated string field")
	}
}
