// Copyright 2025 The tapip-go Authors
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

package socket

import "github.com/KINGFIOX/tapip-go/pkg/wire"

// Raw is a socket observing and sending IPv4 datagrams of one protocol,
// header included on receive. Every matching ingress packet is offered to
// every raw socket; accepting the packet does not steal it from the rest of
// the pipeline.
type Raw struct {
	protocol wire.IPProtocol
	rx       [][]byte
	tx       []icmpDatagram
	rxCap    int
	txCap    int
	hopLimit uint8
}

// NewRaw creates a raw socket bound to an IP protocol number.
func NewRaw(protocol wire.IPProtocol, rxCap, txCap int) *Raw {
	return &Raw{protocol: protocol, rxCap: rxCap, txCap: txCap, hopLimit: 64}
}

func (*Raw) isSocket() {}

// Protocol returns the protocol number the socket is bound to.
func (s *Raw) Protocol() wire.IPProtocol {
	return s.protocol
}

// CanRecv reports whether a received packet is waiting.
func (s *Raw) CanRecv() bool {
	return len(s.rx) > 0
}

// Accepts reports whether the socket's filter matches the packet. It is
// side-effect free.
func (s *Raw) Accepts(ipRepr wire.IPv4Repr) bool {
	return ipRepr.Protocol == s.protocol
}

// Process delivers an accepted packet: the datagram is re-serialized,
// header and all, into the receive queue. A full queue drops it.
func (s *Raw) Process(ctx Context, ipRepr wire.IPv4Repr, payload []byte) {
	if len(s.rx) >= s.rxCap {
		return
	}
	buf := make([]byte, ipRepr.BufferLen())
	ipRepr.Emit(buf, wire.ChecksumCapabilities{})
	copy(buf[ipRepr.HeaderLen():], payload)
	s.rx = append(s.rx, buf)
}

// RecvPacket pops the oldest received datagram, IPv4 header included.
func (s *Raw) RecvPacket() ([]byte, bool) {
	if len(s.rx) == 0 {
		return nil, false
	}
	buf := s.rx[0]
	s.rx = s.rx[1:]
	return buf, true
}

// SendTo queues one protocol payload for delivery to addr. The IPv4
// envelope is built at dispatch time.
func (s *Raw) SendTo(payload []byte, addr wire.Address) error {
	if addr.IsUnspecified() {
		return ErrUnaddressable
	}
	if len(s.tx) >= s.txCap {
		return ErrBufferFull
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.tx = append(s.tx, icmpDatagram{addr: addr, data: buf})
	return nil
}

// Dispatch asks the socket to produce at most one outgoing packet via emit.
// A failed emit keeps the packet queued for a later poll.
func (s *Raw) Dispatch(ctx Context, emit func(wire.IPv4Repr, []byte) error) error {
	if len(s.tx) == 0 {
		return nil
	}
	d := s.tx[0]

	src, ok := ctx.SourceAddrV4(d.addr)
	if !ok {
		s.tx = s.tx[1:]
		return nil
	}
	ipRepr := wire.IPv4Repr{
		SrcAddr:    src,
		DstAddr:    d.addr,
		Protocol:   s.protocol,
		PayloadLen: len(d.data),
		HopLimit:   s.hopLimit,
	}
	if err := emit(ipRepr, d.data); err != nil {
		return err
	}
	s.tx = s.tx[1:]
	return nil
}

// PollAt implements Socket.PollAt.
func (s *Raw) PollAt(ctx Context) PollAt {
	if len(s.tx) > 0 {
		return PollAtNow()
	}
	return PollAtIngress()
}
