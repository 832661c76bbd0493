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

package iface

import "github.com/KINGFIOX/tapip-go/pkg/wire"

// packet is the egress intermediate representation of one IPv4 datagram.
// It is built on the stack during a poll call, consumed exactly once by
// dispatchIP, and never outlives the call that created it.
type packet struct {
	header  wire.IPv4Repr
	payload ipPayload
}

// ipPayload is the closed union of network-layer payload kinds.
type ipPayload interface {
	emit(b []byte, caps wire.ChecksumCapabilities)
}

type icmpv4Payload struct {
	repr wire.ICMPv4Repr
}

func (p icmpv4Payload) emit(b []byte, caps wire.ChecksumCapabilities) {
	p.repr.Emit(b, caps)
}

type rawPayload []byte

func (p rawPayload) emit(b []byte, caps wire.ChecksumCapabilities) {
	copy(b, p)
}

func newPacketICMPv4(header wire.IPv4Repr, repr wire.ICMPv4Repr) packet {
	return packet{header: header, payload: icmpv4Payload{repr: repr}}
}

func newPacketRaw(header wire.IPv4Repr, payload []byte) packet {
	return packet{header: header, payload: rawPayload(payload)}
}

// ethernetPacket is the result of successfully processing one ingress
// frame: either an ARP reply representation or an IP packet, to be handed
// to the dispatch stage.
type ethernetPacket interface {
	isEthernetPacket()
}

type arpResponse struct {
	repr wire.ARPRepr
}

type ipResponse struct {
	packet packet
}

func (arpResponse) isEthernetPacket() {}
func (ipResponse) isEthernetPacket() {}

// icmpReplyPayloadLen caps how much of an offending datagram an ICMP error
// message carries. The entire reply must fit within the minimum MTU every
// IPv4 link supports, so the quoted payload must not exceed
// mtu - 2*headerLen - 8 (RFC 1812 section 4.3.2.3).
func icmpReplyPayloadLen(length, mtu, headerLen int) int {
	return min(length, mtu-2*headerLen-wire.ICMPv4HeaderSize)
}
