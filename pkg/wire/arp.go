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

// ARPSize is the size of an IPv4-over-Ethernet ARP packet.
const ARPSize = 2 + 2 + 1 + 1 + 2 + 2*EthernetAddressSize + 2*AddressSize

// ARPOp is an ARP opcode.
type ARPOp uint16

// ARP opcodes defined in RFC 826.
const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

// ARP is an ARP packet stored in a byte slice as described in RFC 826.
type ARP []byte

func (a ARP) hardwareAddressSpace() uint16 { return binary.BigEndian.Uint16(a[0:]) }
func (a ARP) protocolAddressSpace() uint16 { return binary.BigEndian.Uint16(a[2:]) }
func (a ARP) hardwareAddressSize() int     { return int(a[4]) }
func (a ARP) protocolAddressSize() int     { return int(a[5]) }

// Op is the ARP opcode.
func (a ARP) Op() ARPOp { return ARPOp(binary.BigEndian.Uint16(a[6:])) }

// SetOp sets the ARP opcode.
func (a ARP) SetOp(op ARPOp) {
	binary.BigEndian.PutUint16(a[6:], uint16(op))
}

// SetIPv4OverEthernet configures the ARP packet for IPv4-over-Ethernet.
func (a ARP) SetIPv4OverEthernet() {
	a[0], a[1] = 0, 1 // htypeEthernet
	binary.BigEndian.PutUint16(a[2:], uint16(EtherTypeIPv4))
	a[4] = EthernetAddressSize
	a[5] = AddressSize
}

// HardwareAddressSender is the link address of the sender.
// It is a view on to the ARP packet so it can be used to set the value.
func (a ARP) HardwareAddressSender() []byte {
	const s = 8
	return a[s : s+EthernetAddressSize]
}

// ProtocolAddressSender is the protocol address of the sender.
// It is a view on to the ARP packet so it can be used to set the value.
func (a ARP) ProtocolAddressSender() []byte {
	const s = 8 + 6
	return a[s : s+AddressSize]
}

// HardwareAddressTarget is the link address of the target.
// It is a view on to the ARP packet so it can be used to set the value.
func (a ARP) HardwareAddressTarget() []byte {
	const s = 8 + 6 + 4
	return a[s : s+EthernetAddressSize]
}

// ProtocolAddressTarget is the protocol address of the target.
// It is a view on to the ARP packet so it can be used to set the value.
func (a ARP) ProtocolAddressTarget() []byte {
	const s = 8 + 6 + 4 + 6
	return a[s : s+AddressSize]
}

// IsValid reports whether this is an ARP packet for IPv4 over Ethernet.
func (a ARP) IsValid() bool {
	if len(a) < ARPSize {
		return false
	}
	const htypeEthernet = 1
	return a.hardwareAddressSpace() == htypeEthernet &&
		a.protocolAddressSpace() == uint16(EtherTypeIPv4) &&
		a.hardwareAddressSize() == EthernetAddressSize &&
		a.protocolAddressSize() == AddressSize
}

// ARPRepr is the parsed representation of an IPv4-over-Ethernet ARP packet.
type ARPRepr struct {
	Op                 ARPOp
	SourceHardwareAddr EthernetAddress
	SourceProtocolAddr Address
	TargetHardwareAddr EthernetAddress
	TargetProtocolAddr Address
}

// ParseARP parses an IPv4-over-Ethernet ARP packet out of b.
func ParseARP(b []byte) (ARPRepr, error) {
	a := ARP(b)
	if !a.IsValid() {
		return ARPRepr{}, ErrMalformed
	}
	return ARPRepr{
		Op:                 a.Op(),
		SourceHardwareAddr: EthernetAddrFromSlice(a.HardwareAddressSender()),
		SourceProtocolAddr: AddrFromSlice(a.ProtocolAddressSender()),
		TargetHardwareAddr: EthernetAddrFromSlice(a.HardwareAddressTarget()),
		TargetProtocolAddr: AddrFromSlice(a.ProtocolAddressTarget()),
	}, nil
}

// BufferLen returns the number of bytes Emit needs.
func (r ARPRepr) BufferLen() int { return ARPSize }

// Emit writes the packet into b, which must be at least BufferLen bytes.
func (r ARPRepr) Emit(b []byte) {
	a := ARP(b)
	a.SetIPv4OverEthernet()
	a.SetOp(r.Op)
	copy(a.HardwareAddressSender(), r.SourceHardwareAddr[:])
	copy(a.ProtocolAddressSender(), r.SourceProtocolAddr[:])
	copy(a.HardwareAddressTarget(), r.TargetHardwareAddr[:])
	copy(a.ProtocolAddressTarget(), r.TargetProtocolAddr[:])
}
