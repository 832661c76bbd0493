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

// Package wire provides the encoding and decoding of link- and network-layer
// protocol headers.
//
// Each protocol has two levels of access. The view types (Ethernet, ARP,
// IPv4, ICMPv4) overlay a byte slice and expose bounds-checked big-endian
// field accessors; they are cheap and never copy. The Repr types are compact
// in-memory representations that can be parsed from and emitted into a view,
// validating shape and checksums along the way.
//
// Parsing untrusted input must go through the Parse functions; the plain
// accessors assume a previously validated length.
package wire

import "errors"

var (
	// ErrTruncated is returned when a buffer is too short to hold the
	// header it claims to contain.
	ErrTruncated = errors.New("wire: truncated packet")

	// ErrMalformed is returned when header fields are inconsistent or
	// describe something this stack does not speak.
	ErrMalformed = errors.New("wire: malformed packet")

	// ErrChecksum is returned when checksum verification fails.
	ErrChecksum = errors.New("wire: bad checksum")
)

// EtherType is an Ethernet frame payload type.
type EtherType uint16

// EtherTypes handled by the stack.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

// IPProtocol is an IP payload protocol number.
type IPProtocol uint8

// Well-known IP protocol numbers.
const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolTCP  IPProtocol = 6
	IPProtocolUDP  IPProtocol = 17
)

// ChecksumPolicy describes what a device does about one protocol's checksum.
// Devices capable of hardware checksumming can ask the stack to skip the
// software computation.
type ChecksumPolicy int

const (
	// ChecksumBoth verifies checksums on receive and computes them on send.
	ChecksumBoth ChecksumPolicy = iota

	// ChecksumRx only verifies checksums on receive.
	ChecksumRx

	// ChecksumTx only computes checksums on send.
	ChecksumTx

	// ChecksumNone ignores checksums completely.
	ChecksumNone
)

// VerifyRx reports whether received checksums must be verified in software.
func (p ChecksumPolicy) VerifyRx() bool {
	return p == ChecksumBoth || p == ChecksumRx
}

// ComputeTx reports whether outgoing checksums must be computed in software.
func (p ChecksumPolicy) ComputeTx() bool {
	return p == ChecksumBoth || p == ChecksumTx
}

// ChecksumCapabilities carries the per-protocol checksum policy of a device.
type ChecksumCapabilities struct {
	IPv4   ChecksumPolicy
	ICMPv4 ChecksumPolicy
}

// IgnoredChecksums is the policy set that neither verifies nor computes any
// checksum, for loopback-style devices.
func IgnoredChecksums() ChecksumCapabilities {
	return ChecksumCapabilities{IPv4: ChecksumNone, ICMPv4: ChecksumNone}
}
