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

// Package iface implements the interface engine: the ingress/egress poll
// loop, the Ethernet/ARP/IPv4/ICMP processing pipeline, the neighbor cache,
// the routing table, and the dispatch path that resolves next-hop hardware
// addresses and frames outgoing packets.
//
// Heads up! Before working on this package you should read the parts of
// RFC 1122 that discuss Ethernet, ARP and IP.
//
// An Interface is single-owner state with no internal synchronization; the
// caller serializes access by driving Poll and friends from one goroutine.
package iface

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/device"
	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

var (
	// ErrNoRoute means there is no route to dispatch this packet.
	// Retrying won't help unless configuration is changed.
	ErrNoRoute = errors.New("iface: no route to destination")

	// ErrNeighborPending means a route exists but the neighbor for it has
	// not been discovered yet. Discovery has been initiated; dispatch
	// should be retried on a later poll.
	ErrNeighborPending = errors.New("iface: neighbor resolution pending")
)

// errExhausted stops an egress pass when the device has no transmit
// buffers. It never escapes a poll entry point.
var errExhausted = errors.New("iface: device transmit buffers exhausted")

// PollResult is returned by Poll. It carries information on whether socket
// states might have changed.
type PollResult int

const (
	// PollNone means socket state is guaranteed not to have changed.
	PollNone PollResult = iota

	// PollSocketStateChanged means the caller should check sockets again
	// for received data or completion of operations.
	PollSocketStateChanged
)

// PollIngressSingleResult is returned by PollIngressSingle.
type PollIngressSingleResult int

const (
	// IngressNone means no packet was processed and there is no need to
	// call PollIngressSingle again until more packets arrive.
	IngressNone PollIngressSingleResult = iota

	// IngressPacketProcessed means a packet was processed without
	// affecting socket state. More packets may be queued.
	IngressPacketProcessed

	// IngressSocketStateChanged means a packet was processed and socket
	// state may have changed. More packets may be queued.
	IngressSocketStateChanged
)

// Config is the construction-time configuration of an Interface.
type Config struct {
	// RandomSeed seeds the engine's internal PRNG. It is strongly
	// recommended that the seed differs on each boot so that IPv4
	// identification values are not guessable across runs. It does not
	// have to be cryptographically secure.
	RandomSeed uint64

	// HardwareAddr is the link-layer address the interface will use.
	// New panics if it is not unicast.
	HardwareAddr wire.EthernetAddress

	// Logger receives diagnostic traces for dropped frames and failed
	// dispatches. Defaults to a nop logger.
	Logger *zap.Logger
}

// Interface is a network interface: it owns the device capabilities, the
// current poll timestamp, the neighbor cache, the routing table and the
// local address set, and orchestrates ingress demux, egress dispatch and
// per-socket timers.
type Interface struct {
	caps   device.Capabilities
	now    clock.Instant
	rand   *rand.Rand
	logger *zap.Logger

	neighborCache *NeighborCache
	hardwareAddr  wire.EthernetAddress
	ipAddrs       []wire.Cidr
	anyIP         bool
	routes        *RouteTable

	ipv4Ident uint16
}

// New creates a network interface for dev.
//
// It panics if the configured hardware address is not unicast or if the
// device's medium is not Ethernet; both are configuration contract
// violations, not runtime conditions.
func New(config Config, dev device.Device, now clock.Instant) *Interface {
	caps := dev.Capabilities()
	if caps.Medium != device.MediumEthernet {
		panic("iface: the hardware address does not match the medium of the interface")
	}
	checkHardwareAddr(config.HardwareAddr)

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rng := rand.New(rand.NewPCG(config.RandomSeed, 0))
	var ident uint16
	for {
		ident = uint16(rng.Uint32())
		if ident != 0 {
			break
		}
	}

	return &Interface{
		caps:          caps,
		now:           now,
		rand:          rng,
		logger:        logger,
		neighborCache: NewNeighborCache(DefaultNeighborCacheSize),
		hardwareAddr:  config.HardwareAddr,
		routes:        NewRouteTable(DefaultRouteTableSize),
		ipv4Ident:     ident,
	}
}

func checkHardwareAddr(addr wire.EthernetAddress) {
	if !addr.IsUnicast() {
		panic(fmt.Sprintf("iface: hardware address %s is not unicast", addr))
	}
}

func checkIPAddrs(addrs []wire.Cidr) {
	for _, cidr := range addrs {
		if !cidr.Address.IsUnicast() && !cidr.Address.IsUnspecified() {
			panic(fmt.Sprintf("iface: IP address %s is not unicast", cidr.Address))
		}
	}
}

// HardwareAddr returns the link-layer address of the interface.
func (e *Interface) HardwareAddr() wire.EthernetAddress {
	return e.hardwareAddr
}

// SetHardwareAddr changes the link-layer address of the interface.
// It panics if the address is not unicast.
func (e *Interface) SetHardwareAddr(addr wire.EthernetAddress) {
	checkHardwareAddr(addr)
	e.hardwareAddr = addr
}

// IPAddrs returns the local address set. Callers must not mutate it;
// use UpdateIPAddrs.
func (e *Interface) IPAddrs() []wire.Cidr {
	return e.ipAddrs
}

// UpdateIPAddrs lets f edit the local address set in place. The neighbor
// cache is flushed afterwards: its bindings were learned under the old
// configuration. It panics if any resulting address is neither unicast nor
// unspecified.
func (e *Interface) UpdateIPAddrs(f func(addrs *[]wire.Cidr)) {
	f(&e.ipAddrs)
	e.neighborCache.Flush()
	checkIPAddrs(e.ipAddrs)
}

// HasIPAddr reports whether addr is one of the interface's own addresses.
func (e *Interface) HasIPAddr(addr wire.Address) bool {
	for _, cidr := range e.ipAddrs {
		if cidr.Address == addr {
			return true
		}
	}
	return false
}

// IPv4Addr returns the first IPv4 address of the interface, if any.
func (e *Interface) IPv4Addr() (wire.Address, bool) {
	if len(e.ipAddrs) == 0 {
		return wire.Address{}, false
	}
	return e.ipAddrs[0].Address, true
}

// Routes returns the interface's routing table.
func (e *Interface) Routes() *RouteTable {
	return e.routes
}

// SetAnyIP enables or disables the AnyIP capability: accepting packets for
// addresses the interface does not own, when a route prefix names one of
// the interface's own addresses as its gateway.
func (e *Interface) SetAnyIP(anyIP bool) {
	e.anyIP = anyIP
}

// AnyIP reports whether the AnyIP capability is enabled.
func (e *Interface) AnyIP() bool {
	return e.anyIP
}

// Now implements socket.Context. It is the timestamp of the poll call
// currently being processed.
func (e *Interface) Now() clock.Instant {
	return e.now
}

// ChecksumCaps implements socket.Context.
func (e *Interface) ChecksumCaps() wire.ChecksumCapabilities {
	return e.caps.Checksum
}

// IPMTU implements socket.Context.
func (e *Interface) IPMTU() int {
	return e.caps.IPMTU()
}

// SourceAddrV4 implements socket.Context. No selection algorithm is
// implemented; the first IPv4 address of the interface is returned.
func (e *Interface) SourceAddrV4(dst wire.Address) (wire.Address, bool) {
	return e.IPv4Addr()
}

// Poll transmits packets queued in the sockets and receives packets queued
// in the device, returning whether the state of any socket might have
// changed.
//
// DoS warning: all packets in the device's queue are processed before
// egress runs, which can be an unbounded amount of work if packets arrive
// faster than they are processed. Callers that need bounded-work steps
// should use PollEgress and PollIngressSingle and interleave them with
// other work themselves.
func (e *Interface) Poll(timestamp clock.Instant, dev device.Device, sockets *socket.Set) PollResult {
	e.now = timestamp

	res := PollNone

ingress:
	for {
		switch e.socketIngress(dev, sockets) {
		case IngressNone:
			break ingress
		case IngressPacketProcessed:
		case IngressSocketStateChanged:
			res = PollSocketStateChanged
		}
	}

	if e.socketEgress(dev, sockets) == PollSocketStateChanged {
		res = PollSocketStateChanged
	}
	return res
}

// PollEgress transmits packets queued in the sockets. It always performs a
// bounded amount of work.
func (e *Interface) PollEgress(timestamp clock.Instant, dev device.Device, sockets *socket.Set) PollResult {
	e.now = timestamp
	return e.socketEgress(dev, sockets)
}

// PollIngressSingle processes at most one incoming packet queued in the
// device, so it always performs a bounded amount of work.
func (e *Interface) PollIngressSingle(timestamp clock.Instant, dev device.Device, sockets *socket.Set) PollIngressSingleResult {
	e.now = timestamp
	return e.socketIngress(dev, sockets)
}

// PollAt returns a soft deadline for calling Poll the next time: the
// minimum over all sockets of each socket's own next deadline, folded with
// its neighbor-wait state. It is harmless (but wastes energy) to poll
// before the deadline, and potentially harmful to quality of service to
// poll after it. ok is false when no socket wants a timed wake-up.
func (e *Interface) PollAt(timestamp clock.Instant, sockets *socket.Set) (at clock.Instant, ok bool) {
	e.now = timestamp

	for _, item := range sockets.Items() {
		pa := item.Meta.PollAt(item.Socket.PollAt(e), e.hasNeighbor)

		var candidate clock.Instant
		switch {
		case pa.IsIngress():
			continue
		case pa.IsNow():
			// candidate stays at the epoch: poll immediately.
		default:
			candidate, _ = pa.Time()
		}
		if !ok || candidate.Before(at) {
			at, ok = candidate, true
		}
	}
	return at, ok
}

// PollDelay returns an advisory wait time before calling Poll the next
// time. ok is false when no socket wants a timed wake-up.
func (e *Interface) PollDelay(timestamp clock.Instant, sockets *socket.Set) (time.Duration, bool) {
	at, ok := e.PollAt(timestamp, sockets)
	switch {
	case !ok:
		return 0, false
	case timestamp.Before(at):
		return at.Sub(timestamp), true
	default:
		return 0, true
	}
}

func (e *Interface) socketIngress(dev device.Device, sockets *socket.Set) PollIngressSingleResult {
	rx, tx, ok := dev.Receive(e.now)
	if !ok {
		return IngressNone
	}

	result := IngressPacketProcessed
	rx.Consume(func(frame []byte) {
		if len(frame) == 0 {
			return
		}

		if pkt := e.processEthernet(sockets, frame); pkt != nil {
			if err := e.dispatch(tx, pkt); err != nil {
				e.logger.Debug("failed to send response", zap.Error(err))
			}
		}

		// TODO: propagate a finer-grained result from the pipeline.
		// Plenty of processed packets cannot change socket state (ARP,
		// unanswered pings, ...) and reporting PacketProcessed for them
		// would save the caller useless socket polls.
		result = IngressSocketStateChanged
	})
	return result
}

func (e *Interface) socketEgress(dev device.Device, sockets *socket.Set) PollResult {
	result := PollNone
	for _, item := range sockets.Items() {
		if !item.Meta.EgressPermitted(e.now, e.hasNeighbor) {
			continue
		}

		var neighborAddr wire.Address
		respond := func(p packet) error {
			neighborAddr = p.header.DstAddr
			tx, ok := dev.Transmit(e.now)
			if !ok {
				e.logger.Debug("failed to transmit IP: device exhausted")
				return errExhausted
			}
			if err := e.dispatchIP(tx, p); err != nil {
				return err
			}
			result = PollSocketStateChanged
			return nil
		}

		var err error
		switch sk := item.Socket.(type) {
		case *socket.Raw:
			err = sk.Dispatch(e, func(ip wire.IPv4Repr, raw []byte) error {
				return respond(newPacketRaw(ip, raw))
			})
		case *socket.ICMP:
			err = sk.Dispatch(e, func(ip wire.IPv4Repr, icmp wire.ICMPv4Repr) error {
				return respond(newPacketICMPv4(ip, icmp))
			})
		}

		switch {
		case err == nil:
		case errors.Is(err, errExhausted):
			// Device buffer full; every remaining socket gets another
			// chance next poll rather than a partial, unfair pass.
			return result
		default:
			// The neighbor cache already rate-limits discovery requests.
			// Without this extra bookkeeping we would still spin on every
			// socket that has yet to discover its neighbor.
			item.Meta.NeighborMissing(e.now, neighborAddr)
		}
	}
	return result
}

// dispatch emits the result of processing one ingress frame.
func (e *Interface) dispatch(tx device.TxToken, pkt ethernetPacket) error {
	switch p := pkt.(type) {
	case arpResponse:
		e.dispatchEthernet(tx, p.repr.BufferLen(), p.repr.TargetHardwareAddr, wire.EtherTypeARP, func(payload []byte) {
			p.repr.Emit(payload)
		})
		return nil
	case ipResponse:
		return e.dispatchIP(tx, p.packet)
	default:
		panic(fmt.Sprintf("iface: unknown ethernet packet %T", pkt))
	}
}

// dispatchEthernet frames payloadLen bytes produced by f with an Ethernet
// header and sends the result.
func (e *Interface) dispatchEthernet(tx device.TxToken, payloadLen int, dst wire.EthernetAddress, typ wire.EtherType, f func(payload []byte)) {
	tx.Consume(wire.EthernetHeaderSize+payloadLen, func(buf []byte) {
		frame := wire.Ethernet(buf)
		frame.Encode(&wire.EthernetFields{
			SrcAddr: e.hardwareAddr,
			DstAddr: dst,
			Type:    typ,
		})
		f(frame.Payload())
	})
}

func (e *Interface) inSameNetwork(addr wire.Address) bool {
	for _, cidr := range e.ipAddrs {
		if cidr.Contains(addr) {
			return true
		}
	}
	return false
}

// route resolves the node a packet for addr must actually be handed to.
func (e *Interface) route(addr wire.Address, timestamp clock.Instant) (wire.Address, bool) {
	// Send directly. Subnet-local broadcast needs no special case here:
	// inSameNetwork already covers it.
	if e.inSameNetwork(addr) || addr.IsBroadcast() {
		return addr, true
	}
	return e.routes.Lookup(addr, timestamp)
}

func (e *Interface) hasNeighbor(addr wire.Address) bool {
	nextHop, ok := e.route(addr, e.now)
	if !ok {
		return false
	}
	_, answer := e.neighborCache.Lookup(nextHop, e.now)
	return answer == NeighborFound
}

// lookupHardwareAddr resolves the hardware address a packet for dstAddr
// must be sent to. When the neighbor is unknown and discovery is not
// rate-limited, it consumes tx for an ARP request and fails with
// ErrNeighborPending; the caller retries on a later poll.
func (e *Interface) lookupHardwareAddr(tx device.TxToken, dstAddr wire.Address) (wire.EthernetAddress, error) {
	if e.isBroadcastV4(dstAddr) {
		return wire.EthernetBroadcast, nil
	}

	if dstAddr.IsMulticast() {
		// RFC 1112: map the low 23 bits of the group onto 01:00:5e.
		return wire.EthernetAddress{0x01, 0x00, 0x5e, dstAddr[1] & 0x7f, dstAddr[2], dstAddr[3]}, nil
	}

	nextHop, ok := e.route(dstAddr, e.now)
	if !ok {
		return wire.EthernetAddress{}, ErrNoRoute
	}

	hw, answer := e.neighborCache.Lookup(nextHop, e.now)
	switch answer {
	case NeighborFound:
		return hw, nil
	case NeighborRateLimited:
		return wire.EthernetAddress{}, ErrNeighborPending
	}

	srcAddr, ok := e.SourceAddrV4(nextHop)
	if !ok {
		return wire.EthernetAddress{}, ErrNoRoute
	}

	e.logger.Debug("address not in neighbor cache, sending ARP request",
		zap.Stringer("addr", nextHop))

	repr := wire.ARPRepr{
		Op:                 wire.ARPRequest,
		SourceHardwareAddr: e.hardwareAddr,
		SourceProtocolAddr: srcAddr,
		TargetHardwareAddr: wire.EthernetBroadcast,
		TargetProtocolAddr: nextHop,
	}
	e.dispatchEthernet(tx, repr.BufferLen(), wire.EthernetBroadcast, wire.EtherTypeARP, func(payload []byte) {
		repr.Emit(payload)
	})

	// The request went out; silence further discovery for a while.
	e.neighborCache.LimitRate(e.now)
	return wire.EthernetAddress{}, ErrNeighborPending
}

// dispatchIP resolves the next hop for p and emits it as one Ethernet
// frame: Ethernet header, IP header, then the protocol payload.
func (e *Interface) dispatchIP(tx device.TxToken, p packet) error {
	ipRepr := p.header
	if ipRepr.DstAddr.IsUnspecified() {
		panic("iface: dispatching packet with unspecified destination")
	}

	totalLen := wire.EthernetHeaderSize + ipRepr.BufferLen()

	dstHardwareAddr, err := e.lookupHardwareAddr(tx, ipRepr.DstAddr)
	if err != nil {
		return err
	}

	if ipRepr.BufferLen() > e.IPMTU() {
		// Fragmentation is not supported; the packet is dropped rather
		// than truncated.
		e.logger.Debug("dropping oversized packet",
			zap.Int("len", ipRepr.BufferLen()),
			zap.Int("mtu", e.IPMTU()))
		return nil
	}

	ipRepr.Ident = e.nextIdent()

	tx.Consume(totalLen, func(buf []byte) {
		frame := wire.Ethernet(buf)
		frame.Encode(&wire.EthernetFields{
			SrcAddr: e.hardwareAddr,
			DstAddr: dstHardwareAddr,
			Type:    wire.EtherTypeIPv4,
		})
		ipRepr.Emit(frame.Payload(), e.caps.Checksum)
		p.payload.emit(frame.Payload()[ipRepr.HeaderLen():], e.caps.Checksum)
	})
	return nil
}

// nextIdent returns the IPv4 identification for the next emitted datagram.
// The counter starts at a random non-zero value picked at construction.
func (e *Interface) nextIdent() uint16 {
	ident := e.ipv4Ident
	e.ipv4Ident++
	return ident
}
