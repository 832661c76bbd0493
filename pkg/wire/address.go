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

import "fmt"

// AddressSize is the size, in bytes, of an IPv4 address.
const AddressSize = 4

// Address is an IPv4 address. It is a value type so it can be used as a map
// key and compared with ==.
type Address [AddressSize]byte

// AddrFrom4 builds an Address from four octets in network order.
func AddrFrom4(a, b, c, d byte) Address {
	return Address{a, b, c, d}
}

// AddrFromSlice builds an Address from the first four bytes of b.
// It panics if b is shorter than four bytes.
func AddrFromSlice(b []byte) Address {
	var addr Address
	if copy(addr[:], b) != AddressSize {
		panic(fmt.Sprintf("wire: cannot build an IPv4 address out of %d bytes", len(b)))
	}
	return addr
}

// BroadcastAddress is the IPv4 limited broadcast address 255.255.255.255.
var BroadcastAddress = Address{0xff, 0xff, 0xff, 0xff}

// MulticastAllSystems is the IPv4 all-systems multicast group 224.0.0.1.
var MulticastAllSystems = Address{224, 0, 0, 1}

// IsUnspecified reports whether the address is 0.0.0.0.
func (a Address) IsUnspecified() bool {
	return a == Address{}
}

// IsBroadcast reports whether the address is the limited broadcast address.
// Subnet-directed broadcast depends on interface configuration and is
// decided by the interface, not here.
func (a Address) IsBroadcast() bool {
	return a == BroadcastAddress
}

// IsMulticast reports whether the address is in 224.0.0.0/4.
func (a Address) IsMulticast() bool {
	return a[0]&0xf0 == 0xe0
}

// IsUnicast reports whether the address is a plain unicast address, that is,
// neither broadcast, multicast nor unspecified.
func (a Address) IsUnicast() bool {
	return !a.IsBroadcast() && !a.IsMulticast() && !a.IsUnspecified()
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Cidr is an IPv4 address with a subnet masking prefix length.
type Cidr struct {
	Address   Address
	PrefixLen uint8
}

// CidrFrom returns the CIDR block addr/prefixLen. It panics if prefixLen is
// larger than 32; misconfiguring a prefix is a programmer error.
func CidrFrom(addr Address, prefixLen uint8) Cidr {
	if prefixLen > 32 {
		panic(fmt.Sprintf("wire: prefix length %d out of range", prefixLen))
	}
	return Cidr{Address: addr, PrefixLen: prefixLen}
}

func (c Cidr) mask() uint32 {
	if c.PrefixLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - c.PrefixLen)
}

func addrBits(a Address) uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

func addrFromBits(v uint32) Address {
	return Address{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Contains reports whether addr falls within this block.
func (c Cidr) Contains(addr Address) bool {
	return addrBits(addr)&c.mask() == addrBits(c.Address)&c.mask()
}

// Broadcast returns the subnet-directed broadcast address of the block.
// Blocks of prefix length 31 and 32 have no broadcast address.
func (c Cidr) Broadcast() (Address, bool) {
	if c.PrefixLen >= 31 {
		return Address{}, false
	}
	return addrFromBits(addrBits(c.Address) | ^c.mask()), true
}

// String implements fmt.Stringer.
func (c Cidr) String() string {
	return fmt.Sprintf("%s/%d", c.Address, c.PrefixLen)
}

// EthernetAddressSize is the size, in bytes, of an Ethernet address.
const EthernetAddressSize = 6

// EthernetAddress is an Ethernet (MAC) address.
type EthernetAddress [EthernetAddressSize]byte

// EthernetBroadcast is the Ethernet broadcast address ff:ff:ff:ff:ff:ff.
var EthernetBroadcast = EthernetAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetAddrFromSlice builds an EthernetAddress from the first six bytes
// of b. It panics if b is shorter than six bytes.
func EthernetAddrFromSlice(b []byte) EthernetAddress {
	var addr EthernetAddress
	if copy(addr[:], b) != EthernetAddressSize {
		panic(fmt.Sprintf("wire: cannot build a MAC address out of %d bytes", len(b)))
	}
	return addr
}

// IsBroadcast reports whether the address is the Ethernet broadcast address.
func (a EthernetAddress) IsBroadcast() bool {
	return a == EthernetBroadcast
}

// IsMulticast reports whether the group bit of the address is set.
func (a EthernetAddress) IsMulticast() bool {
	return a[0]&0x01 != 0
}

// IsUnicast reports whether the address is neither broadcast nor multicast.
func (a EthernetAddress) IsUnicast() bool {
	return !a.IsBroadcast() && !a.IsMulticast()
}

// String implements fmt.Stringer.
func (a EthernetAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}
