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

// ICMPEndpoint is what an ICMP socket is bound to. An unbound socket
// accepts nothing; a socket bound to an ident accepts echo requests and
// replies carrying that ident.
type ICMPEndpoint struct {
	Ident uint16
	bound bool
}

// BindIdent returns the endpoint matching echo messages with the given
// ident.
func BindIdent(ident uint16) ICMPEndpoint {
	return ICMPEndpoint{Ident: ident, bound: true}
}

type icmpDatagram struct {
	addr wire.Address
	data []byte
}

// ICMP is a socket exchanging raw ICMPv4 messages with a remote address.
// Receive and transmit queues are bounded; a full receive queue drops new
// datagrams, a full transmit queue fails SendTo.
type ICMP struct {
	endpoint ICMPEndpoint
	rx       []icmpDatagram
	tx       []icmpDatagram
	rxCap    int
	txCap    int
	hopLimit uint8
}

// NewICMP creates an unbound ICMP socket with the given queue capacities.
func NewICMP(rxCap, txCap int) *ICMP {
	return &ICMP{rxCap: rxCap, txCap: txCap, hopLimit: 64}
}

func (*ICMP) isSocket() {}

// Bind binds the socket. Binding twice is a programmer error reported as
// ErrInvalidState.
func (s *ICMP) Bind(e ICMPEndpoint) error {
	if s.endpoint.bound {
		return ErrInvalidState
	}
	if !e.bound {
		return ErrUnaddressable
	}
	s.endpoint = e
	return nil
}

// SetHopLimit sets the TTL used on outgoing packets.
func (s *ICMP) SetHopLimit(ttl uint8) {
	s.hopLimit = ttl
}

// CanSend reports whether the transmit queue has room.
func (s *ICMP) CanSend() bool {
	return len(s.tx) < s.txCap
}

// CanRecv reports whether a received datagram is waiting.
func (s *ICMP) CanRecv() bool {
	return len(s.rx) > 0
}

// SendTo queues one serialized ICMPv4 message for delivery to addr. The
// message's checksum is filled in at dispatch time.
func (s *ICMP) SendTo(msg []byte, addr wire.Address) error {
	if !s.endpoint.bound {
		return ErrInvalidState
	}
	if addr.IsUnspecified() {
		return ErrUnaddressable
	}
	if !s.CanSend() {
		return ErrBufferFull
	}
	buf := make([]byte, len(msg))
	copy(buf, msg)
	s.tx = append(s.tx, icmpDatagram{addr: addr, data: buf})
	return nil
}

// RecvFrom pops the oldest received ICMPv4 message and its source address.
func (s *ICMP) RecvFrom() (msg []byte, addr wire.Address, ok bool) {
	if len(s.rx) == 0 {
		return nil, wire.Address{}, false
	}
	d := s.rx[0]
	s.rx = s.rx[1:]
	return d.data, d.addr, true
}

// AcceptsV4 reports whether the socket's filter matches the datagram. It is
// side-effect free.
func (s *ICMP) AcceptsV4(ctx Context, ipRepr wire.IPv4Repr, icmpRepr wire.ICMPv4Repr) bool {
	if !s.endpoint.bound {
		return false
	}
	switch m := icmpRepr.(type) {
	case wire.ICMPv4EchoRequest:
		return m.Ident == s.endpoint.Ident
	case wire.ICMPv4EchoReply:
		return m.Ident == s.endpoint.Ident
	default:
		return false
	}
}

// ProcessV4 delivers an accepted datagram, re-serializing the ICMP message
// into the receive queue. A full queue drops the datagram.
func (s *ICMP) ProcessV4(ctx Context, ipRepr wire.IPv4Repr, icmpRepr wire.ICMPv4Repr) {
	if len(s.rx) >= s.rxCap {
		return
	}
	buf := make([]byte, icmpRepr.BufferLen())
	icmpRepr.Emit(buf, wire.ChecksumCapabilities{})
	s.rx = append(s.rx, icmpDatagram{addr: ipRepr.SrcAddr, data: buf})
}

// Dispatch asks the socket to produce at most one outgoing packet via emit.
// A failed emit keeps the packet queued for a later poll.
func (s *ICMP) Dispatch(ctx Context, emit func(wire.IPv4Repr, wire.ICMPv4Repr) error) error {
	if len(s.tx) == 0 {
		return nil
	}
	d := s.tx[0]

	icmpRepr, err := wire.ParseICMPv4(d.data, wire.IgnoredChecksums())
	if err != nil {
		// Unparseable queued data cannot ever be sent; discard it.
		s.tx = s.tx[1:]
		return nil
	}
	src, ok := ctx.SourceAddrV4(d.addr)
	if !ok {
		s.tx = s.tx[1:]
		return nil
	}
	ipRepr := wire.IPv4Repr{
		SrcAddr:    src,
		DstAddr:    d.addr,
		Protocol:   wire.IPProtocolICMP,
		PayloadLen: icmpRepr.BufferLen(),
		HopLimit:   s.hopLimit,
	}
	if err := emit(ipRepr, icmpRepr); err != nil {
		return err
	}
	s.tx = s.tx[1:]
	return nil
}

// PollAt implements Socket.PollAt.
func (s *ICMP) PollAt(ctx Context) PollAt {
	if len(s.tx) > 0 {
		return PollAtNow()
	}
	return PollAtIngress()
}
