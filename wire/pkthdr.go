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

// Package wire defines the on-fabric packet header (pkthdr_t) and the
// session-management control-plane message, plus the small amount of
// bit-twiddling needed to read and write them. Every packet begins with
// a fixed pkthdr_t: fragments are self-describing (msg_size and pkt_num
// suffice for reassembly without prior control-plane exchange).
package wire

import "encoding/binary"

const (
	// HeaderSize is the fixed length of a pkthdr_t, in bytes:
	// req_type(1) + msg_size(3) + dest_session_num(2) + pkt_num(2) +
	// req_num(6) + pkt_type(1) = 15, comfortably under kMinInline.
	HeaderSize = 15

	offReqType    = 0
	offMsgSize    = 1 // 3 bytes, big-endian u24
	offDestSess   = 4 // 2 bytes
	offPktNum     = 6 // 2 bytes
	offReqNum     = 8 // 6 bytes, big-endian u48
	offPktType    = 14
)

// PktKind mirrors rrpc.PktType without importing the root package
// (which imports wire), avoiding an import cycle.
type PktKind uint8

const (
	KindReqData PktKind = iota
	KindRespData
	KindExplCR
	KindRFR
)

// Fields is the decoded form of a pkthdr_t.
type Fields struct {
	ReqType    uint8
	MsgSize    uint32 // fits in 24 bits; values above 1<<24-1 are a caller bug
	DestSessNum uint16
	PktNum     uint16
	ReqNum     uint64 // fits in 48 bits
	PktKind    PktKind
}

// PktHdr is a pkthdr_t stored as raw bytes, in the style of a wire
// header type with byte-offset accessors: no parsing is required until
// a field is actually read.
type PktHdr []byte

// Encode writes f into a HeaderSize-byte header. buf must be at least
// HeaderSize bytes; Encode does not allocate.
func Encode(buf []byte, f Fields) PktHdr {
	h := PktHdr(buf[:HeaderSize])
	h[offReqType] = f.ReqType
	putUint24(h[offMsgSize:], f.MsgSize)
	binary.BigEndian.PutUint16(h[offDestSess:], f.DestSessNum)
	binary.BigEndian.PutUint16(h[offPktNum:], f.PktNum)
	putUint48(h[offReqNum:], f.ReqNum)
	h[offPktType] = uint8(f.PktKind)
	return h
}

// Decode parses a HeaderSize-byte header. It does not validate that
// buf is well-formed beyond length; callers on the receive path are
// expected to drop packets whose parsed fields don't resolve to a
// known session/slot, per the "drop silently" propagation policy.
func Decode(buf []byte) (Fields, bool) {
	if len(buf) < HeaderSize {
		return Fields{}, false
	}
	h := PktHdr(buf[:HeaderSize])
	return Fields{
		ReqType:     h[offReqType],
		MsgSize:     getUint24(h[offMsgSize:]),
		DestSessNum: binary.BigEndian.Uint16(h[offDestSess:]),
		PktNum:      binary.BigEndian.Uint16(h[offPktNum:]),
		ReqNum:      getUint48(h[offReqNum:]),
		PktKind:     PktKind(h[offPktType]),
	}, true
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func getUint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
