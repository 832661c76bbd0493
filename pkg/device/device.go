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

// Package device defines the boundary between the interface engine and raw
// packet hardware, plus a few concrete devices: an in-memory channel for
// tests, a loopback, a Linux TAP binding, and a pcap-capturing wrapper.
//
// The boundary is token based. Receive and Transmit only hand out
// single-use tokens; the actual I/O happens when a token is consumed. Both
// are non-blocking: when no frame or no transmit buffer is available they
// report false, never stall.
package device

import (
	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// Medium is the link-layer framing discipline of a device.
type Medium int

// MediumEthernet is the only medium the stack speaks.
const MediumEthernet Medium = iota

// Capabilities describes what a device can do.
type Capabilities struct {
	// Medium of the device.
	Medium Medium

	// MTU is the maximum frame size the device can send or receive,
	// including the Ethernet header but not the FCS. Note that in Linux
	// and other OSes "MTU" is the IP MTU; Ethernet MTU = IP MTU + 14.
	MTU int

	// MaxBurstSize is the maximum burst, in frames, the device can send
	// or receive. Zero means no fixed limit.
	MaxBurstSize int

	// Checksum is the device's per-protocol checksum offload policy.
	Checksum wire.ChecksumCapabilities
}

// IPMTU returns the maximum network-layer packet size.
func (c Capabilities) IPMTU() int {
	return c.MTU - wire.EthernetHeaderSize
}

// RxToken is a single-use capability representing one received frame.
type RxToken interface {
	// Consume invokes f with the frame's bytes. The bytes are only valid
	// for the duration of the call.
	Consume(f func(frame []byte))
}

// TxToken is a single-use capability representing one transmit opportunity.
type TxToken interface {
	// Consume invokes f with a transmit buffer of exactly length bytes.
	// f must fill the buffer completely; the frame is sent when f returns.
	Consume(length int, f func(buf []byte))
}

// Device is an interface for sending and receiving raw network frames.
type Device interface {
	// Receive returns a token pair for one pending frame, or ok=false if
	// no frame is currently available. The extra transmit token makes it
	// possible to generate a reply based on the received frame's contents
	// without extra buffering.
	Receive(now clock.Instant) (rx RxToken, tx TxToken, ok bool)

	// Transmit returns a transmit token, or ok=false if the device's send
	// buffers are exhausted right now.
	Transmit(now clock.Instant) (tx TxToken, ok bool)

	// Capabilities returns a description of the device.
	Capabilities() Capabilities
}
