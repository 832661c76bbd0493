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

package wire

import "encoding/binary"

const (
	versIHL  = 0
	tos      = 1
	totalLen = 2
	ipv4ID   = 4
	flagsFO  = 6
	ttl      = 8
	protocol = 9
	checksum = 10
	srcAddr  = 12
	dstAddr  = 16
)

const (
	// IPv4MinimumSize is the minimum (and, on emit, the only) size of an
	// IPv4 header.
	IPv4MinimumSize = 20

	// IPv4MaximumHeaderSize is the maximum size an IPv4 header can grow to
	// with options.
	IPv4MaximumHeaderSize = 60

	// IPv4MinimumMTU is the minimum MTU every IPv4 link must support, per
	// RFC 791.
	IPv4MinimumMTU = 576

	// IPv4Version is the version field value of an IPv4 header.
	IPv4Version = 4

	// ipv4MoreFragments is the MF bit of the flags field.
	ipv4MoreFragments = 1 << 13

	// ipv4FragmentOffsetMask extracts the fragment offset out of the
	// flags/fragment-offset field.
	ipv4FragmentOffsetMask = 1<<13 - 1
)

// IPv4 represents an IPv4 header stored in a byte slice.
type IPv4 []byte

// HeaderLength returns the length of the header including options.
func (b IPv4) HeaderLength() int {
	return int(b[versIHL]&0x0f) * 4
}

// Version returns the version field.
func (b IPv4) Version() int {
	return int(b[versIHL] >> 4)
}

// TotalLength returns the "total length" field.
func (b IPv4) TotalLength() uint16 {
	return binary.BigEndian.Uint16(b[totalLen:])
}

// ID returns the identification field.
func (b IPv4) ID() uint16 {
	return binary.BigEndian.Uint16(b[ipv4ID:])
}

// MoreFragments reports whether the MF flag is set.
func (b IPv4) MoreFragments() bool {
	return binary.BigEndian.Uint16(b[flagsFO:])&ipv4MoreFragments != 0
}

// FragmentOffset returns the fragment offset field, in bytes.
func (b IPv4) FragmentOffset() int {
	return int(binary.BigEndian.Uint16(b[flagsFO:])&ipv4FragmentOffsetMask) * 8
}

// TTL returns the "time to live" field.
func (b IPv4) TTL() uint8 {
	return b[ttl]
}

// Protocol returns the payload protocol number field.
func (b IPv4) Protocol() IPProtocol {
	return IPProtocol(b[protocol])
}

// Checksum returns the header checksum field.
func (b IPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(b[checksum:])
}

// SetChecksum sets the header checksum field.
func (b IPv4) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(b[checksum:], v)
}

// SourceAddress returns the "source address" field.
func (b IPv4) SourceAddress() Address {
	return AddrFromSlice(b[srcAddr:])
}

// DestinationAddress returns the "destination address" field.
func (b IPv4) DestinationAddress() Address {
	return AddrFromSlice(b[dstAddr:])
}

// Payload returns the bytes between the header (including options) and the
// end of the datagram as declared by the total length field.
func (b IPv4) Payload() []byte {
	return b[b.HeaderLength():b.TotalLength()]
}

// CalculateChecksum calculates the header checksum over the header bytes,
// including options.
func (b IPv4) CalculateChecksum() uint16 {
	return Checksum(b[:b.HeaderLength()], 0)
}

// IPv4Repr is the parsed representation of an IPv4 header. Options are
// dropped during parsing and never emitted.
type IPv4Repr struct {
	SrcAddr    Address
	DstAddr    Address
	Protocol   IPProtocol
	PayloadLen int
	HopLimit   uint8
	Ident      uint16
}

// ParseIPv4 parses and validates the IPv4 header at the start of b.
//
// Fragmented datagrams are rejected; reassembly is not supported.
func ParseIPv4(b []byte, caps ChecksumCapabilities) (IPv4Repr, error) {
	if len(b) < IPv4MinimumSize {
		return IPv4Repr{}, ErrTruncated
	}
	h := IPv4(b)
	if h.Version() != IPv4Version {
		return IPv4Repr{}, ErrMalformed
	}
	hlen := h.HeaderLength()
	tlen := int(h.TotalLength())
	if hlen < IPv4MinimumSize || hlen > tlen || tlen > len(b) {
		return IPv4Repr{}, ErrTruncated
	}
	if h.MoreFragments() || h.FragmentOffset() != 0 {
		return IPv4Repr{}, ErrMalformed
	}
	if caps.IPv4.VerifyRx() && Checksum(b[:hlen], 0) != 0xffff {
		return IPv4Repr{}, ErrChecksum
	}
	return IPv4Repr{
		SrcAddr:    h.SourceAddress(),
		DstAddr:    h.DestinationAddress(),
		Protocol:   h.Protocol(),
		PayloadLen: tlen - hlen,
		HopLimit:   h.TTL(),
		Ident:      h.ID(),
	}, nil
}

// HeaderLen returns the length of the emitted header.
func (r IPv4Repr) HeaderLen() int { return IPv4MinimumSize }

// BufferLen returns the total length of the emitted datagram.
func (r IPv4Repr) BufferLen() int { return IPv4MinimumSize + r.PayloadLen }

// Emit writes an option-less header into b, which must be at least HeaderLen
// bytes. The checksum is computed only when caps ask for it.
func (r IPv4Repr) Emit(b []byte, caps ChecksumCapabilities) {
	h := IPv4(b)
	h[versIHL] = IPv4Version<<4 | IPv4MinimumSize/4
	h[tos] = 0
	binary.BigEndian.PutUint16(h[totalLen:], uint16(IPv4MinimumSize+r.PayloadLen))
	binary.BigEndian.PutUint16(h[ipv4ID:], r.Ident)
	binary.BigEndian.PutUint16(h[flagsFO:], 0)
	h[ttl] = r.HopLimit
	h[protocol] = uint8(r.Protocol)
	h.SetChecksum(0)
	copy(h[srcAddr:][:AddressSize], r.SrcAddr[:])
	copy(h[dstAddr:][:AddressSize], r.DstAddr[:])
	if caps.IPv4.ComputeTx() {
		h.SetChecksum(^Checksum(h[:IPv4MinimumSize], 0))
	}
}
