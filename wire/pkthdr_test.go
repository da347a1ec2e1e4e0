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

func TestPktHdrRoundTrip(t *testing.T) {
	f := wire.Fields{
		ReqType:     2,
		MsgSize:     3500,
		DestSessNum: 7,
		PktNum:      1,
		ReqNum:      1<<40 + 12,
		PktKind:     wire.KindReqData,
	}
	buf := make([]byte, wire.HeaderSize)
	wire.Encode(buf, f)

	got, ok := wire.Decode(buf)
	if !ok {
		t.Fatalf("Decode failed on a header we just encoded")
	}
	if got != f {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, ok := wire.Decode(make([]byte, wire.HeaderSize-1)); ok {
		t.Fatalf("Decode should reject a short buffer")
	}
}

func TestUint24Uint48Boundaries(t *testing.T) {
	f := wire.Fields{
		MsgSize: 1<<24 - 1,
		ReqNum:  1<<48 - 1,
	}
	buf := make([]byte, wire.HeaderSize)
	wire.Encode(buf, f)
	got, _ := wire.Decode(buf)
	if got.MsgSize != f.MsgSize || got.ReqNum != f.ReqNum {
		t.Fatalf("boundary values corrupted: got %+v", got)
	}
}
