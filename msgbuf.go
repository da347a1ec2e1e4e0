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

import "github.com/hxfab/rrpc/wire"

// MsgBuffer is a contiguous, allocator-owned buffer holding one request
// or response message, logically partitioned into MTU-sized packets.
// Ownership: request MsgBuffers belong to the caller until transmission
// completes AND the response arrives; response MsgBuffers belong to the
// server slot until the response has been fully transmitted and
// acknowledged. rrpc never frees a MsgBuffer on the caller's behalf.
type MsgBuffer struct {
	buf     []byte // capacity: the allocator bucket size, at least the max size requested at Alloc time
	size    int    // bytes of buf actually carrying payload
	reqType uint8
	reqNum  uint64
	mtu     int
}

// Size returns the current payload size.
func (m *MsgBuffer) Size() int { return m.size }

// Bytes returns the payload currently held by the buffer.
func (m *MsgBuffer) Bytes() []byte { return m.buf[:m.size] }

// Cap returns the maximum payload size this buffer was allocated with.
func (m *MsgBuffer) Cap() int { return cap(m.buf) }

// ReqType returns the request type this buffer is tagged with.
func (m *MsgBuffer) ReqType() uint8 { return m.reqType }

// SetReqType tags the buffer with a request type.
func (m *MsgBuffer) SetReqType(t uint8) { m.reqType = t }

// Resize sets the logical payload size. It never reallocates; n must
// not exceed Cap().
func (m *MsgBuffer) Resize(n int) bool {
	if n > cap(m.buf) {
		return false
	}
	m.buf = m.buf[:n]
	m.size = n
	return true
}

// NumPkts returns the number of MTU-sized fragments the current payload
// splits into, i.e. Transport.DataSizeToNumPkts for this buffer.
func (m *MsgBuffer) NumPkts() int {
	return dataSizeToNumPkts(m.size, m.mtu)
}

func dataSizeToNumPkts(size, mtu int) int {
	maxPayload := mtu - wire.HeaderSize
	if size == 0 {
		return 1
	}
	n := size / maxPayload
	if size%maxPayload != 0 {
		n++
	}
	return n
}

// FragmentPayload returns the payload bytes that belong in fragment
// pktNum. Fragments are offset-indexed: msg_size and pkt_num suffice to
// place this slice during reassembly without any other bookkeeping.
func (m *MsgBuffer) FragmentPayload(pktNum int) []byte {
	maxPayload := m.mtu - wire.HeaderSize
	start := pktNum * maxPayload
	if start >= m.size {
		return nil
	}
	end := start + maxPayload
	if end > m.size {
		end = m.size
	}
	return m.buf[start:end]
}

// PutFragment copies a received fragment's payload into its offset in
// the buffer, growing the logical size to cover it if needed. This is
// how RX-side reassembly writes into an rx_msgbuf: offset-indexed, not
// order-dependent, so out-of-order fragments land correctly.
func (m *MsgBuffer) PutFragment(pktNum int, payload []byte, totalMsgSize int) {
	if cap(m.buf) < totalMsgSize {
		m.buf = make([]byte, totalMsgSize)
	} else if len(m.buf) < totalMsgSize {
		m.buf = m.buf[:totalMsgSize]
	}
	m.size = totalMsgSize
	maxPayload := m.mtu - wire.HeaderSize
	start := pktNum * maxPayload
	copy(m.buf[start:], payload)
}
