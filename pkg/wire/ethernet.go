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
	dstMAC  = 0
	srcMAC  = 6
	ethType = 12

	// EthernetHeaderSize is the size of an Ethernet frame header.
	EthernetHeaderSize = 14
)

// EthernetFields contains the fields of an Ethernet frame header. It is used
// to describe the fields of a frame that needs to be encoded.
type EthernetFields struct {
	// SrcAddr is the "MAC source" field of an Ethernet frame header.
	SrcAddr EthernetAddress

	// DstAddr is the "MAC destination" field of an Ethernet frame header.
	DstAddr EthernetAddress

	// Type is the "ethertype" field of an Ethernet frame header.
	Type EtherType
}

// Ethernet represents an Ethernet frame header stored in a byte slice.
type Ethernet []byte

// CheckedEthernet overlays b with the Ethernet frame structure, verifying
// that it is long enough for every accessor to be safe.
func CheckedEthernet(b []byte) (Ethernet, error) {
	if len(b) < EthernetHeaderSize {
		return nil, ErrTruncated
	}
	return Ethernet(b), nil
}

// SourceAddress returns the "MAC source" field of the frame header.
func (b Ethernet) SourceAddress() EthernetAddress {
	return EthernetAddrFromSlice(b[srcMAC:])
}

// DestinationAddress returns the "MAC destination" field of the frame header.
func (b Ethernet) DestinationAddress() EthernetAddress {
	return EthernetAddrFromSlice(b[dstMAC:])
}

// Type returns the "ethertype" field of the frame header.
func (b Ethernet) Type() EtherType {
	return EtherType(binary.BigEndian.Uint16(b[ethType:]))
}

// Payload returns the bytes following the frame header.
func (b Ethernet) Payload() []byte {
	return b[EthernetHeaderSize:]
}

// Encode encodes all the fields of the Ethernet frame header.
func (b Ethernet) Encode(e *EthernetFields) {
	copy(b[dstMAC:][:EthernetAddressSize], e.DstAddr[:])
	copy(b[srcMAC:][:EthernetAddressSize], e.SrcAddr[:])
	binary.BigEndian.PutUint16(b[ethType:], uint16(e.Type))
}
