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

package wire

import (
	"encoding/binary"
	"errors"
)

// SMType enumerates the session-management message kinds exchanged over
// the well-known control-plane UDP port.
type SMType uint8

const (
	SMConnectReq SMType = iota
	SMConnectResp
	SMDisconnectReq
	SMDisconnectResp
	SMReset
)

// RoutingInfoSize is the fixed size of the opaque NIC routing blob
// carried by SM messages (verbs QP/GID info in a real RDMA transport).
const RoutingInfoSize = 32

// SMMessage is a session-management control message. Reliability is
// provided by client-side retransmission (kSMTimeoutMs), not by this
// framing, so the wire layout is a simple fixed/length-prefixed record.
type SMMessage struct {
	Type              SMType
	ClientURI         string
	ServerURI         string
	ClientRPCID       uint8
	ServerRPCID       uint8
	ClientSessionNum  uint16
	ServerSessionNum  uint16
	ErrCode           uint8
	RoutingInfo       [RoutingInfoSize]byte
}

var errSMMessageTooShort = errors.New("wire: sm message truncated")

// Marshal encodes m into a self-contained byte slice.
func (m *SMMessage) Marshal() []byte {
	buf := make([]byte, 0, 1+2+len(m.ClientURI)+2+len(m.ServerURI)+1+1+2+2+1+RoutingInfoSize)
	buf = append(buf, byte(m.Type))
	buf = appendString(buf, m.ClientURI)
	buf = appendString(buf, m.ServerURI)
	buf = append(buf, m.ClientRPCID, m.ServerRPCID)
	buf = appendUint16(buf, m.ClientSessionNum)
	buf = appendUint16(buf, m.ServerSessionNum)
	buf = append(buf, m.ErrCode)
	buf = append(buf, m.RoutingInfo[:]...)
	return buf
}

// UnmarshalSMMessage decodes a byte slice produced by Marshal.
func UnmarshalSMMessage(buf []byte) (*SMMessage, error) {
	m := &SMMessage{}
	if len(buf) < 1 {
		return nil, errSMMessageTooShort
	}
	m.Type = SMType(buf[0])
	buf = buf[1:]

	var err error
	m.ClientURI, buf, err = readString(buf)
	if err != nil {
		return nil, err
	}
	m.ServerURI, buf, err = readString(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 2+2+2+1+RoutingInfoSize {
		return nil, errSMMessageTooShort
	}
	m.ClientRPCID = buf[0]
	m.ServerRPCID = buf[1]
	buf = buf[2:]
	m.ClientSessionNum = binary.BigEndian.Uint16(buf)
	buf = buf[2:]
	m.ServerSessionNum = binary.BigEndian.Uint16(buf)
	buf = buf[2:]
	m.ErrCode = buf[0]
	buf = buf[1:]
	copy(m.RoutingInfo[:], buf[:RoutingInfoSize])
	return m, nil
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, errSMMessageTooShort
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, errSMMessageTooShort
	}
	return string(buf[:n]), buf[n:], nil
}
