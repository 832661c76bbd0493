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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/device"
	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

var (
	localHW  = wire.EthernetAddress{0x02, 0, 0, 0, 0, 0x01}
	remoteHW = wire.EthernetAddress{0x02, 0, 0, 0, 0, 0x02}

	localAddr  = wire.AddrFrom4(192, 168, 1, 1)
	remoteAddr = wire.AddrFrom4(192, 168, 1, 2)
)

func newTestStack(ipMTU int) (*Interface, *device.Channel, *socket.Set) {
	dev := device.NewChannel(ipMTU, 8)
	e := New(Config{RandomSeed: 42, HardwareAddr: localHW}, dev, clock.FromMillis(0))
	e.UpdateIPAddrs(func(addrs *[]wire.Cidr) {
		*addrs = []wire.Cidr{wire.CidrFrom(localAddr, 24)}
	})
	return e, dev, socket.NewSet()
}

func buildFrame(src, dst wire.EthernetAddress, typ wire.EtherType, payloadLen int, emit func([]byte)) []byte {
	buf := make([]byte, wire.EthernetHeaderSize+payloadLen)
	frame := wire.Ethernet(buf)
	frame.Encode(&wire.EthernetFields{SrcAddr: src, DstAddr: dst, Type: typ})
	emit(frame.Payload())
	return buf
}

func arpFrame(srcHW, dstHW wire.EthernetAddress, repr wire.ARPRepr) []byte {
	return buildFrame(srcHW, dstHW, wire.EtherTypeARP, repr.BufferLen(), repr.Emit)
}

func ipv4Frame(srcHW, dstHW wire.EthernetAddress, ip wire.IPv4Repr, payload func([]byte)) []byte {
	return buildFrame(srcHW, dstHW, wire.EtherTypeIPv4, ip.BufferLen(), func(b []byte) {
		ip.Emit(b, wire.ChecksumCapabilities{})
		payload(b[ip.HeaderLen():])
	})
}

func icmpFrame(srcHW, dstHW wire.EthernetAddress, srcIP, dstIP wire.Address, icmp wire.ICMPv4Repr) []byte {
	ip := wire.IPv4Repr{
		SrcAddr:    srcIP,
		DstAddr:    dstIP,
		Protocol:   wire.IPProtocolICMP,
		PayloadLen: icmp.BufferLen(),
		HopLimit:   64,
	}
	return ipv4Frame(srcHW, dstHW, ip, func(b []byte) {
		icmp.Emit(b, wire.ChecksumCapabilities{})
	})
}

// primeNeighbor teaches the interface remoteAddr's hardware address by
// letting the remote send an ARP request, and drains the generated reply.
func primeNeighbor(t *testing.T, e *Interface, dev *device.Channel, sockets *socket.Set) {
	t.Helper()
	dev.InjectInbound(arpFrame(remoteHW, wire.EthernetBroadcast, wire.ARPRepr{
		Op:                 wire.ARPRequest,
		SourceHardwareAddr: remoteHW,
		SourceProtocolAddr: remoteAddr,
		TargetHardwareAddr: wire.EthernetAddress{},
		TargetProtocolAddr: localAddr,
	}))
	e.Poll(clock.FromMillis(0), dev, sockets)
	require.Len(t, dev.Outbound(), 1, "priming should produce exactly the ARP reply")
}

func parseARPOut(t *testing.T, frame []byte) wire.ARPRepr {
	t.Helper()
	eth, err := wire.CheckedEthernet(frame)
	require.NoError(t, err)
	require.Equal(t, wire.EtherTypeARP, eth.Type())
	repr, err := wire.ParseARP(eth.Payload())
	require.NoError(t, err)
	return repr
}

func parseICMPOut(t *testing.T, frame []byte) (wire.Ethernet, wire.IPv4Repr, wire.ICMPv4Repr) {
	t.Helper()
	eth, err := wire.CheckedEthernet(frame)
	require.NoError(t, err)
	require.Equal(t, wire.EtherTypeIPv4, eth.Type())
	ip, err := wire.ParseIPv4(eth.Payload(), wire.ChecksumCapabilities{})
	require.NoError(t, err)
	icmp, err := wire.ParseICMPv4(wire.IPv4(eth.Payload()).Payload(), wire.ChecksumCapabilities{})
	require.NoError(t, err)
	return eth, ip, icmp
}

func echoMessage(ident, seq uint16, data []byte) []byte {
	repr := wire.ICMPv4EchoRequest{Ident: ident, SeqNo: seq, Data: data}
	buf := make([]byte, repr.BufferLen())
	repr.Emit(buf, wire.ChecksumCapabilities{})
	return buf
}

func TestLinkFilterDropsForeignFrames(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	otherHW := wire.EthernetAddress{0x02, 0, 0, 0, 0, 0x99}

	dev.InjectInbound(icmpFrame(remoteHW, otherHW, remoteAddr, localAddr,
		wire.ICMPv4EchoRequest{Ident: 1, SeqNo: 1}))
	e.Poll(clock.FromMillis(0), dev, sockets)
	require.Empty(t, dev.Outbound(), "frames for another station must have no effect")
}

func TestARPRequestReply(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	dev.InjectInbound(arpFrame(remoteHW, wire.EthernetBroadcast, wire.ARPRepr{
		Op:                 wire.ARPRequest,
		SourceHardwareAddr: remoteHW,
		SourceProtocolAddr: remoteAddr,
		TargetProtocolAddr: localAddr,
	}))
	e.Poll(clock.FromMillis(0), dev, sockets)

	out := dev.Outbound()
	require.Len(t, out, 1)
	eth, err := wire.CheckedEthernet(out[0])
	require.NoError(t, err)
	require.Equal(t, remoteHW, eth.DestinationAddress(), "the reply is unicast to the asker")
	require.Equal(t, localHW, eth.SourceAddress())

	repr := parseARPOut(t, out[0])
	require.Equal(t, wire.ARPReply, repr.Op)
	require.Equal(t, localHW, repr.SourceHardwareAddr)
	require.Equal(t, localAddr, repr.SourceProtocolAddr)
	require.Equal(t, remoteHW, repr.TargetHardwareAddr)
	require.Equal(t, remoteAddr, repr.TargetProtocolAddr)
}

func TestARPIgnoresForeignTargets(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	dev.InjectInbound(arpFrame(remoteHW, wire.EthernetBroadcast, wire.ARPRepr{
		Op:                 wire.ARPRequest,
		SourceHardwareAddr: remoteHW,
		SourceProtocolAddr: remoteAddr,
		TargetProtocolAddr: wire.AddrFrom4(192, 168, 1, 200),
	}))
	e.Poll(clock.FromMillis(0), dev, sockets)
	require.Empty(t, dev.Outbound())
}

func TestARPIgnoresOffSubnetSenders(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	// An off-link sender has no business resolving us; answering would
	// also seed the cache with an unverifiable binding.
	dev.InjectInbound(arpFrame(remoteHW, wire.EthernetBroadcast, wire.ARPRepr{
		Op:                 wire.ARPRequest,
		SourceHardwareAddr: remoteHW,
		SourceProtocolAddr: wire.AddrFrom4(10, 99, 99, 99),
		TargetProtocolAddr: localAddr,
	}))
	e.Poll(clock.FromMillis(0), dev, sockets)
	require.Empty(t, dev.Outbound())
}

func TestEchoRequestReply(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	request := wire.ICMPv4EchoRequest{Ident: 0x55, SeqNo: 1, Data: []byte("abcd")}
	for i := 0; i < 2; i++ {
		dev.InjectInbound(icmpFrame(remoteHW, localHW, remoteAddr, localAddr, request))
		e.Poll(clock.FromMillis(int64(i)), dev, sockets)

		out := dev.Outbound()
		require.Len(t, out, 1)
		eth, ip, icmp := parseICMPOut(t, out[0])
		require.Equal(t, remoteHW, eth.DestinationAddress())
		require.Equal(t, localAddr, ip.SrcAddr)
		require.Equal(t, remoteAddr, ip.DstAddr)
		require.Equal(t, uint8(64), ip.HopLimit)

		reply, ok := icmp.(wire.ICMPv4EchoReply)
		require.True(t, ok)
		require.Equal(t, request.Ident, reply.Ident)
		require.Equal(t, request.SeqNo, reply.SeqNo)
		require.Equal(t, request.Data, reply.Data)
	}
}

func TestBroadcastEchoReply(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	for _, dst := range []wire.Address{
		wire.BroadcastAddress,
		wire.AddrFrom4(192, 168, 1, 255), // directed broadcast of our /24
	} {
		t.Run(dst.String(), func(t *testing.T) {
			dev.InjectInbound(icmpFrame(remoteHW, wire.EthernetBroadcast, remoteAddr, dst,
				wire.ICMPv4EchoRequest{Ident: 9, SeqNo: 9}))
			e.Poll(clock.FromMillis(0), dev, sockets)

			out := dev.Outbound()
			require.Len(t, out, 1)
			_, ip, icmp := parseICMPOut(t, out[0])
			require.Equal(t, localAddr, ip.SrcAddr, "broadcast pings are answered from our first address")
			require.Equal(t, remoteAddr, ip.DstAddr)
			_, ok := icmp.(wire.ICMPv4EchoReply)
			require.True(t, ok)
		})
	}
}

func TestNonUnicastSourceGetsNoReply(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	for _, src := range []wire.Address{
		wire.BroadcastAddress,
		wire.AddrFrom4(224, 0, 0, 5),
		wire.AddrFrom4(192, 168, 1, 255),
	} {
		t.Run(src.String(), func(t *testing.T) {
			dev.InjectInbound(icmpFrame(remoteHW, localHW, src, localAddr,
				wire.ICMPv4EchoRequest{Ident: 9, SeqNo: 9}))
			e.Poll(clock.FromMillis(0), dev, sockets)
			require.Empty(t, dev.Outbound())
		})
	}
}

func TestProtocolUnreachable(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	const unknownProto = wire.IPProtocol(42)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	ip := wire.IPv4Repr{
		SrcAddr:    remoteAddr,
		DstAddr:    localAddr,
		Protocol:   unknownProto,
		PayloadLen: len(payload),
		HopLimit:   64,
	}
	dev.InjectInbound(ipv4Frame(remoteHW, localHW, ip, func(b []byte) { copy(b, payload) }))
	e.Poll(clock.FromMillis(0), dev, sockets)

	out := dev.Outbound()
	require.Len(t, out, 1)
	_, replyIP, icmp := parseICMPOut(t, out[0])
	require.Equal(t, localAddr, replyIP.SrcAddr)
	require.Equal(t, remoteAddr, replyIP.DstAddr)

	unreach, ok := icmp.(wire.ICMPv4DstUnreachable)
	require.True(t, ok)
	require.Equal(t, wire.ICMPv4ProtoUnreachable, unreach.Reason)
	require.Equal(t, remoteAddr, unreach.Header.SrcAddr)
	require.Equal(t, unknownProto, unreach.Header.Protocol)

	// The reply must fit a minimum-MTU path: quote only
	// 576 - 2*20 - 8 = 528 bytes of the offending payload.
	require.Len(t, unreach.Data, 528)
	require.Equal(t, payload[:528], unreach.Data)
	require.Equal(t, wire.IPv4MinimumMTU, replyIP.BufferLen())
}

func TestRawSocketSilencesProtocolUnreachable(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	const proto = wire.IPProtocol(42)
	sk := socket.NewRaw(proto, 8, 8)
	sockets.Add(sk)

	ip := wire.IPv4Repr{
		SrcAddr:    remoteAddr,
		DstAddr:    localAddr,
		Protocol:   proto,
		PayloadLen: 4,
		HopLimit:   64,
	}
	dev.InjectInbound(ipv4Frame(remoteHW, localHW, ip, func(b []byte) {
		copy(b, []byte{1, 2, 3, 4})
	}))
	e.Poll(clock.FromMillis(0), dev, sockets)

	require.Empty(t, dev.Outbound(), "a claimed packet must not bounce")
	buf, ok := sk.RecvPacket()
	require.True(t, ok)
	require.Len(t, buf, wire.IPv4MinimumSize+4)
	require.Equal(t, []byte{1, 2, 3, 4}, buf[wire.IPv4MinimumSize:])
}

func TestEgressAwaitsNeighborDiscovery(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	sk := socket.NewICMP(8, 8)
	require.NoError(t, sk.Bind(socket.BindIdent(0x7)))
	sockets.Add(sk)
	require.NoError(t, sk.SendTo(echoMessage(0x7, 0, []byte("hi")), remoteAddr))

	// First poll: the packet cannot go out, a discovery request does.
	res := e.Poll(clock.FromMillis(0), dev, sockets)
	require.Equal(t, PollNone, res)
	out := dev.Outbound()
	require.Len(t, out, 1)
	req := parseARPOut(t, out[0])
	require.Equal(t, wire.ARPRequest, req.Op)
	require.Equal(t, localHW, req.SourceHardwareAddr)
	require.Equal(t, localAddr, req.SourceProtocolAddr)
	require.Equal(t, remoteAddr, req.TargetProtocolAddr)

	// Until resolution the socket is silenced; no request storm.
	e.Poll(clock.FromMillis(10), dev, sockets)
	require.Empty(t, dev.Outbound())

	at, ok := e.PollAt(clock.FromMillis(10), sockets)
	require.True(t, ok)
	require.Equal(t, clock.FromMillis(0).Add(socket.DiscoverySilenceInterval), at)

	// The ARP reply unblocks the packet on the very next poll.
	dev.InjectInbound(arpFrame(remoteHW, localHW, wire.ARPRepr{
		Op:                 wire.ARPReply,
		SourceHardwareAddr: remoteHW,
		SourceProtocolAddr: remoteAddr,
		TargetHardwareAddr: localHW,
		TargetProtocolAddr: localAddr,
	}))
	res = e.Poll(clock.FromMillis(20), dev, sockets)
	require.Equal(t, PollSocketStateChanged, res)

	out = dev.Outbound()
	require.Len(t, out, 1)
	eth, ip, icmp := parseICMPOut(t, out[0])
	require.Equal(t, remoteHW, eth.DestinationAddress())
	require.Equal(t, remoteAddr, ip.DstAddr)
	request, isRequest := icmp.(wire.ICMPv4EchoRequest)
	require.True(t, isRequest)
	require.Equal(t, []byte("hi"), request.Data)
}

func TestDiscoveryRateLimitIsGlobal(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	for i, dst := range []wire.Address{remoteAddr, wire.AddrFrom4(192, 168, 1, 3)} {
		sk := socket.NewICMP(8, 8)
		require.NoError(t, sk.Bind(socket.BindIdent(uint16(i+1))))
		sockets.Add(sk)
		require.NoError(t, sk.SendTo(echoMessage(uint16(i+1), 0, nil), dst))
	}

	e.Poll(clock.FromMillis(0), dev, sockets)
	out := dev.Outbound()
	require.Len(t, out, 1, "one discovery request per cooldown interval, not per socket")
	require.Equal(t, remoteAddr, parseARPOut(t, out[0]).TargetProtocolAddr)
}

func TestOversizedEgressIsDropped(t *testing.T) {
	e, dev, sockets := newTestStack(100)
	primeNeighbor(t, e, dev, sockets)

	sk := socket.NewICMP(8, 8)
	require.NoError(t, sk.Bind(socket.BindIdent(0x7)))
	sockets.Add(sk)

	require.NoError(t, sk.SendTo(echoMessage(0x7, 0, make([]byte, 200)), remoteAddr))
	e.Poll(clock.FromMillis(0), dev, sockets)
	require.Empty(t, dev.Outbound(), "no fragmentation: the packet vanishes")

	// The queue slot is reclaimed and small packets still flow.
	require.NoError(t, sk.SendTo(echoMessage(0x7, 1, nil), remoteAddr))
	e.Poll(clock.FromMillis(1), dev, sockets)
	require.Len(t, dev.Outbound(), 1)
}

func TestAnyIP(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	foreign := wire.AddrFrom4(10, 0, 0, 1)
	ping := func() {
		dev.InjectInbound(icmpFrame(remoteHW, localHW, remoteAddr, foreign,
			wire.ICMPv4EchoRequest{Ident: 3, SeqNo: 3}))
		e.Poll(clock.FromMillis(0), dev, sockets)
	}

	ping()
	require.Empty(t, dev.Outbound(), "foreign destinations are dropped by default")

	e.SetAnyIP(true)
	ping()
	require.Empty(t, dev.Outbound(), "AnyIP still requires a route claiming the prefix")

	require.NoError(t, e.Routes().Add(Route{
		Cidr:      wire.CidrFrom(wire.AddrFrom4(10, 0, 0, 0), 8),
		ViaRouter: localAddr,
	}))
	ping()
	out := dev.Outbound()
	require.Len(t, out, 1)
	_, ip, _ := parseICMPOut(t, out[0])
	require.Equal(t, foreign, ip.SrcAddr, "the reply claims the pinged address")
	require.Equal(t, remoteAddr, ip.DstAddr)
}

func TestUpdateIPAddrsFlushesNeighbors(t *testing.T) {
	e, dev, sockets := newTestStack(1500)
	primeNeighbor(t, e, dev, sockets)

	e.UpdateIPAddrs(func(addrs *[]wire.Cidr) {
		*addrs = []wire.Cidr{wire.CidrFrom(localAddr, 24)}
	})

	sk := socket.NewICMP(8, 8)
	require.NoError(t, sk.Bind(socket.BindIdent(0x7)))
	sockets.Add(sk)
	require.NoError(t, sk.SendTo(echoMessage(0x7, 0, nil), remoteAddr))

	e.Poll(clock.FromMillis(0), dev, sockets)
	out := dev.Outbound()
	require.Len(t, out, 1)
	require.Equal(t, wire.ARPRequest, parseARPOut(t, out[0]).Op,
		"an address change invalidates learned bindings")
}

func TestPollIngressSingleIsBounded(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	for i := 0; i < 2; i++ {
		dev.InjectInbound(arpFrame(remoteHW, wire.EthernetBroadcast, wire.ARPRepr{
			Op:                 wire.ARPRequest,
			SourceHardwareAddr: remoteHW,
			SourceProtocolAddr: remoteAddr,
			TargetProtocolAddr: localAddr,
		}))
	}

	require.NotEqual(t, IngressNone, e.PollIngressSingle(clock.FromMillis(0), dev, sockets))
	require.Len(t, dev.Outbound(), 1, "exactly one frame per call")
	require.NotEqual(t, IngressNone, e.PollIngressSingle(clock.FromMillis(0), dev, sockets))
	require.Equal(t, IngressNone, e.PollIngressSingle(clock.FromMillis(0), dev, sockets))
}

func TestPollDelay(t *testing.T) {
	e, dev, sockets := newTestStack(1500)

	_, ok := e.PollAt(clock.FromMillis(0), sockets)
	require.False(t, ok, "an empty set has no deadline")

	sk := socket.NewICMP(8, 8)
	require.NoError(t, sk.Bind(socket.BindIdent(0x7)))
	sockets.Add(sk)
	_, ok = e.PollAt(clock.FromMillis(0), sockets)
	require.False(t, ok, "an idle socket waits for ingress only")

	require.NoError(t, sk.SendTo(echoMessage(0x7, 0, nil), remoteAddr))
	d, ok := e.PollDelay(clock.FromMillis(0), sockets)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d, "queued data wants polling right now")

	// A failed dispatch converts into a timed wait.
	e.Poll(clock.FromMillis(0), dev, sockets)
	dev.Outbound()
	d, ok = e.PollDelay(clock.FromMillis(1000), sockets)
	require.True(t, ok)
	require.Equal(t, socket.DiscoverySilenceInterval-time.Second, d)
}

func TestConfigChecks(t *testing.T) {
	dev := device.NewChannel(1500, 8)

	require.Panics(t, func() {
		New(Config{HardwareAddr: wire.EthernetBroadcast}, dev, clock.Instant{})
	}, "a non-unicast hardware address is a configuration bug")

	e := New(Config{RandomSeed: 1, HardwareAddr: localHW}, dev, clock.Instant{})
	require.Panics(t, func() {
		e.UpdateIPAddrs(func(addrs *[]wire.Cidr) {
			*addrs = []wire.Cidr{wire.CidrFrom(wire.BroadcastAddress, 24)}
		})
	})

	require.Panics(t, func() { e.SetHardwareAddr(wire.EthernetAddress{0x01, 0, 0, 0, 0, 1}) })
	e.SetHardwareAddr(remoteHW)
	require.Equal(t, remoteHW, e.HardwareAddr())
}

func TestIPAddrAccessors(t *testing.T) {
	e, _, _ := newTestStack(1500)

	require.True(t, e.HasIPAddr(localAddr))
	require.False(t, e.HasIPAddr(remoteAddr))

	first, ok := e.IPv4Addr()
	require.True(t, ok)
	require.Equal(t, localAddr, first)

	src, ok := e.SourceAddrV4(remoteAddr)
	require.True(t, ok)
	require.Equal(t, localAddr, src)
}
