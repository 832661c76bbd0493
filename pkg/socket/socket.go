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

// Package socket provides the socket state machines the interface engine
// drives, and the Set container that owns them.
//
// The set of socket kinds is closed: ICMP and Raw. The engine dispatches
// over the concrete types exhaustively, so adding a kind means touching the
// engine's demux and egress loops on purpose.
package socket

import (
	"errors"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

var (
	// ErrBufferFull is returned when a socket's bounded transmit queue
	// cannot take another packet.
	ErrBufferFull = errors.New("socket: buffer full")

	// ErrInvalidState is returned when an operation does not fit the
	// socket's current binding state.
	ErrInvalidState = errors.New("socket: invalid state")

	// ErrUnaddressable is returned when a send names no usable remote
	// address.
	ErrUnaddressable = errors.New("socket: unaddressable")
)

// Context is the window a socket gets into the interface engine during a
// bounded callback. Sockets must not retain it.
type Context interface {
	// Now is the timestamp of the poll call being processed.
	Now() clock.Instant

	// ChecksumCaps is the device checksum policy in effect.
	ChecksumCaps() wire.ChecksumCapabilities

	// IPMTU is the maximum network-layer packet size.
	IPMTU() int

	// SourceAddrV4 picks a local IPv4 source address for talking to dst.
	SourceAddrV4(dst wire.Address) (wire.Address, bool)
}

// Socket is one protocol state machine owned by a Set.
type Socket interface {
	// PollAt returns the socket's own next-wake contract: see PollAt.
	PollAt(ctx Context) PollAt

	// isSocket seals the interface to the kinds the engine knows.
	isSocket()
}

type pollAtKind int

const (
	pollAtIngress pollAtKind = iota
	pollAtTime
	pollAtNow
)

// PollAt describes when a socket next wants the interface polled: never
// before ingress traffic arrives, at a given instant, or immediately.
type PollAt struct {
	kind pollAtKind
	time clock.Instant
}

// PollAtIngress means the socket only waits for incoming packets.
func PollAtIngress() PollAt { return PollAt{kind: pollAtIngress} }

// PollAtTime means the socket wants to be polled at t.
func PollAtTime(t clock.Instant) PollAt { return PollAt{kind: pollAtTime, time: t} }

// PollAtNow means the socket has pending work right now.
func PollAtNow() PollAt { return PollAt{kind: pollAtNow} }

// IsIngress reports whether this is the ingress-only contract.
func (p PollAt) IsIngress() bool { return p.kind == pollAtIngress }

// IsNow reports whether the socket wants immediate polling.
func (p PollAt) IsNow() bool { return p.kind == pollAtNow }

// Time returns the wake instant, if one was set.
func (p PollAt) Time() (clock.Instant, bool) {
	return p.time, p.kind == pollAtTime
}
