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

import (
	"go.uber.org/zap"

	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// processARP handles one ARP packet, learning the sender's binding and
// answering requests for our own addresses.
func (e *Interface) processARP(eth wire.Ethernet) ethernetPacket {
	repr, err := wire.ParseARP(eth.Payload())
	if err != nil {
		e.logger.Debug("dropping malformed ARP packet", zap.Error(err))
		return nil
	}

	// Only process ARP packets for us.
	if !e.HasIPAddr(repr.TargetProtocolAddr) && !e.anyIP {
		return nil
	}

	if repr.Op != wire.ARPRequest && repr.Op != wire.ARPReply {
		return nil
	}

	// Discard packets with non-unicast source addresses.
	if !repr.SourceProtocolAddr.IsUnicast() || !repr.SourceHardwareAddr.IsUnicast() {
		e.logger.Debug("dropping ARP packet with non-unicast source",
			zap.Stringer("proto", repr.SourceProtocolAddr),
			zap.Stringer("hw", repr.SourceHardwareAddr))
		return nil
	}

	// Fill the cache only from senders in one of our subnets. Others
	// could be spoofing: an off-link node has no business ARPing here.
	if !e.inSameNetwork(repr.SourceProtocolAddr) {
		return nil
	}

	// Both requests and replies teach us the sender's binding; a node
	// asking about us is overwhelmingly likely to talk to us next.
	e.neighborCache.Fill(repr.SourceProtocolAddr, repr.SourceHardwareAddr, e.now)

	if repr.Op == wire.ARPRequest {
		return arpResponse{repr: wire.ARPRepr{
			Op:                 wire.ARPReply,
			SourceHardwareAddr: e.hardwareAddr,
			SourceProtocolAddr: repr.TargetProtocolAddr,
			TargetHardwareAddr: repr.SourceHardwareAddr,
			TargetProtocolAddr: repr.SourceProtocolAddr,
		}}
	}
	return nil
}

// processIPv4 handles one IPv4 datagram: validation, raw socket delivery,
// destination acceptance, neighbor refresh and protocol demux.
func (e *Interface) processIPv4(sockets *socket.Set, srcHardwareAddr wire.EthernetAddress, payload []byte) (packet, bool) {
	ipRepr, err := wire.ParseIPv4(payload, e.caps.Checksum)
	if err != nil {
		e.logger.Debug("dropping malformed IPv4 packet", zap.Error(err))
		return packet{}, false
	}

	if !e.isUnicastV4(ipRepr.SrcAddr) && !ipRepr.SrcAddr.IsUnspecified() {
		// Discard packets with non-unicast source addresses but allow
		// unspecified, required by protocols such as DHCP.
		e.logger.Debug("dropping IPv4 packet with non-unicast source",
			zap.Stringer("src", ipRepr.SrcAddr))
		return packet{}, false
	}

	ipPayload := wire.IPv4(payload).Payload()

	// Pass every IP packet to all matching raw sockets, whether it is
	// addressed to us or not.
	handledByRawSocket := e.rawSocketFilter(sockets, ipRepr, ipPayload)

	if !e.HasIPAddr(ipRepr.DstAddr) && !e.hasMulticastGroup(ipRepr.DstAddr) && !e.isBroadcastV4(ipRepr.DstAddr) {
		if !e.anyIP {
			return packet{}, false
		}
		// With AnyIP, accept a foreign unicast destination when a route
		// prefix covering it names one of our own addresses as gateway.
		if !ipRepr.DstAddr.IsUnicast() {
			return packet{}, false
		}
		router, ok := e.routes.Lookup(ipRepr.DstAddr, e.now)
		if !ok || !e.HasIPAddr(router) {
			return packet{}, false
		}
	}

	// A node talking to us is a node we will talk to; keep its binding
	// fresh without creating one, so an off-subnet spoofer cannot seed
	// the cache through this path.
	if e.isUnicastV4(ipRepr.DstAddr) {
		e.neighborCache.ResetExpiryIfExisting(ipRepr.SrcAddr, srcHardwareAddr, e.now)
	}

	switch ipRepr.Protocol {
	case wire.IPProtocolICMP:
		return e.processICMPv4(sockets, ipRepr, ipPayload)
	default:
		if handledByRawSocket {
			return packet{}, false
		}

		// RFC 1812: quote as much of the offending datagram as fits
		// while keeping the reply deliverable over a minimum-MTU path.
		dataLen := icmpReplyPayloadLen(len(ipPayload), wire.IPv4MinimumMTU, ipRepr.HeaderLen())
		reply := wire.ICMPv4DstUnreachable{
			Reason: wire.ICMPv4ProtoUnreachable,
			Header: ipRepr,
			Data:   ipPayload[:dataLen],
		}
		return e.icmpv4Reply(ipRepr, reply)
	}
}

// rawSocketFilter offers the datagram to every matching raw socket and
// reports whether any claimed it.
func (e *Interface) rawSocketFilter(sockets *socket.Set, ipRepr wire.IPv4Repr, ipPayload []byte) bool {
	handled := false
	for _, item := range sockets.Items() {
		sk, ok := item.Socket.(*socket.Raw)
		if !ok || !sk.Accepts(ipRepr) {
			continue
		}
		sk.Process(e, ipRepr, ipPayload)
		handled = true
	}
	return handled
}

func (e *Interface) processICMPv4(sockets *socket.Set, ipRepr wire.IPv4Repr, ipPayload []byte) (packet, bool) {
	icmpRepr, err := wire.ParseICMPv4(ipPayload, e.caps.Checksum)
	if err != nil {
		e.logger.Debug("dropping malformed ICMPv4 packet", zap.Error(err))
		return packet{}, false
	}

	for _, item := range sockets.Items() {
		sk, ok := item.Socket.(*socket.ICMP)
		if !ok || !sk.AcceptsV4(e, ipRepr, icmpRepr) {
			continue
		}
		sk.ProcessV4(e, ipRepr, icmpRepr)
	}

	switch m := icmpRepr.(type) {
	case wire.ICMPv4EchoRequest:
		// Echo requests are answered even when a socket claimed them.
		return e.icmpv4Reply(ipRepr, wire.ICMPv4EchoReply{
			Ident: m.Ident,
			SeqNo: m.SeqNo,
			Data:  m.Data,
		})
	case wire.ICMPv4EchoReply:
		// Only delivered to sockets; never answered.
		return packet{}, false
	default:
		return packet{}, false
	}
}

// icmpv4Reply decides whether and how to answer a datagram from ipRepr
// with the ICMP message icmpRepr, picking the reply's addresses.
func (e *Interface) icmpv4Reply(ipRepr wire.IPv4Repr, icmpRepr wire.ICMPv4Repr) (packet, bool) {
	if !e.isUnicastV4(ipRepr.SrcAddr) {
		// Do not send any ICMP replies to a broadcast or multicast
		// source address.
		return packet{}, false
	}

	if e.isUnicastV4(ipRepr.DstAddr) {
		return newPacketICMPv4(wire.IPv4Repr{
			SrcAddr:    ipRepr.DstAddr,
			DstAddr:    ipRepr.SrcAddr,
			Protocol:   wire.IPProtocolICMP,
			PayloadLen: icmpRepr.BufferLen(),
			HopLimit:   64,
		}, icmpRepr), true
	}

	if e.isBroadcastV4(ipRepr.DstAddr) {
		// Only reply to broadcast pings, from our first address.
		if _, isEcho := icmpRepr.(wire.ICMPv4EchoReply); !isEcho {
			return packet{}, false
		}
		srcAddr, ok := e.IPv4Addr()
		if !ok {
			return packet{}, false
		}
		return newPacketICMPv4(wire.IPv4Repr{
			SrcAddr:    srcAddr,
			DstAddr:    ipRepr.SrcAddr,
			Protocol:   wire.IPProtocolICMP,
			PayloadLen: icmpRepr.BufferLen(),
			HopLimit:   64,
		}, icmpRepr), true
	}

	return packet{}, false
}

// isBroadcastV4 reports whether addr is the limited broadcast address or
// the directed broadcast address of one of our subnets.
func (e *Interface) isBroadcastV4(addr wire.Address) bool {
	if addr.IsBroadcast() {
		return true
	}
	for _, cidr := range e.ipAddrs {
		if bcast, ok := cidr.Broadcast(); ok && bcast == addr {
			return true
		}
	}
	return false
}

// isUnicastV4 reports whether addr is unicast in the context of this
// interface: directed broadcasts of our subnets are not.
func (e *Interface) isUnicastV4(addr wire.Address) bool {
	return addr.IsUnicast() && !e.isBroadcastV4(addr)
}

func (e *Interface) hasMulticastGroup(addr wire.Address) bool {
	return addr == wire.MulticastAllSystems
}
