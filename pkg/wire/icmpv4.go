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
	// ICMPv4HeaderSize is the size of the fixed ICMPv4 header, which is
	// also the offset of the echo data or embedded datagram.
	ICMPv4HeaderSize = 8

	icmpv4ChecksumOffset = 2
	icmpv4IdentOffset    = 4
	icmpv4SequenceOffset = 6
)

// ICMPv4Type is the ICMP type field described in RFC 792.
type ICMPv4Type uint8

// ICMPv4 message types understood by the stack.
const (
	ICMPv4EchoReplyType      ICMPv4Type = 0
	ICMPv4DstUnreachableType ICMPv4Type = 3
	ICMPv4EchoRequestType    ICMPv4Type = 8
	ICMPv4TimeExceededType   ICMPv4Type = 11
)

// ICMPv4DstUnreachableCode is the code field of a destination-unreachable
// message.
type ICMPv4DstUnreachableCode uint8

// Destination-unreachable codes defined in RFC 792.
const (
	ICMPv4NetUnreachable   ICMPv4DstUnreachableCode = 0
	ICMPv4HostUnreachable  ICMPv4DstUnreachableCode = 1
	ICMPv4ProtoUnreachable ICMPv4DstUnreachableCode = 2
	ICMPv4PortUnreachable  ICMPv4DstUnreachableCode = 3
	ICMPv4FragRequired     ICMPv4DstUnreachableCode = 4
)

// ICMPv4TimeExceededCode is the code field of a time-exceeded message.
type ICMPv4TimeExceededCode uint8

// Time-exceeded codes defined in RFC 792.
const (
	ICMPv4TTLExpired  ICMPv4TimeExceededCode = 0
	ICMPv4FragExpired ICMPv4TimeExceededCode = 1
)

// ICMPv4 represents an ICMPv4 message stored in a byte slice.
type ICMPv4 []byte

// Type is the ICMP type field.
func (b ICMPv4) Type() ICMPv4Type { return ICMPv4Type(b[0]) }

// SetType sets the ICMP type field.
func (b ICMPv4) SetType(t ICMPv4Type) { b[0] = byte(t) }

// Code is the ICMP code field. Its meaning depends on the value of Type.
func (b ICMPv4) Code() uint8 { return b[1] }

// SetCode sets the ICMP code field.
func (b ICMPv4) SetCode(c uint8) { b[1] = c }

// Checksum is the ICMP checksum field.
func (b ICMPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(b[icmpv4ChecksumOffset:])
}

// SetChecksum sets the ICMP checksum field.
func (b ICMPv4) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(b[icmpv4ChecksumOffset:], v)
}

// Ident retrieves the echo ident field.
func (b ICMPv4) Ident() uint16 {
	return binary.BigEndian.Uint16(b[icmpv4IdentOffset:])
}

// SetIdent sets the echo ident field.
func (b ICMPv4) SetIdent(v uint16) {
	binary.BigEndian.PutUint16(b[icmpv4IdentOffset:], v)
}

// Sequence retrieves the echo sequence field.
func (b ICMPv4) Sequence() uint16 {
	return binary.BigEndian.Uint16(b[icmpv4SequenceOffset:])
}

// SetSequence sets the echo sequence field.
func (b ICMPv4) SetSequence(v uint16) {
	binary.BigEndian.PutUint16(b[icmpv4SequenceOffset:], v)
}

// Payload returns the bytes following the fixed header.
func (b ICMPv4) Payload() []byte {
	return b[ICMPv4HeaderSize:]
}

// ICMPv4Repr is the parsed representation of an ICMPv4 message. It is a
// closed union: the concrete types are ICMPv4EchoRequest, ICMPv4EchoReply,
// ICMPv4DstUnreachable and ICMPv4TimeExceeded.
type ICMPv4Repr interface {
	// BufferLen returns the number of bytes Emit needs.
	BufferLen() int

	// Emit writes the message into b, which must be exactly BufferLen
	// bytes. The checksum is computed only when caps ask for it.
	Emit(b []byte, caps ChecksumCapabilities)

	isICMPv4Repr()
}

// ICMPv4EchoRequest is an echo request message.
type ICMPv4EchoRequest struct {
	Ident uint16
	SeqNo uint16
	Data  []byte
}

// ICMPv4EchoReply is an echo reply message.
type ICMPv4EchoReply struct {
	Ident uint16
	SeqNo uint16
	Data  []byte
}

// ICMPv4DstUnreachable is a destination-unreachable message carrying the
// header and leading payload bytes of the offending datagram.
type ICMPv4DstUnreachable struct {
	Reason ICMPv4DstUnreachableCode
	Header IPv4Repr
	Data   []byte
}

// ICMPv4TimeExceeded is a time-exceeded message carrying the header and
// leading payload bytes of the offending datagram.
type ICMPv4TimeExceeded struct {
	Reason ICMPv4TimeExceededCode
	Header IPv4Repr
	Data   []byte
}

func (ICMPv4EchoRequest) isICMPv4Repr()    {}
func (ICMPv4EchoReply) isICMPv4Repr()      {}
func (ICMPv4DstUnreachable) isICMPv4Repr() {}
func (ICMPv4TimeExceeded) isICMPv4Repr()   {}

// ParseICMPv4 parses the ICMPv4 message in b. Message types outside the
// understood set are reported as malformed; the caller treats this the same
// as any other unparseable traffic.
func ParseICMPv4(b []byte, caps ChecksumCapabilities) (ICMPv4Repr, error) {
	if len(b) < ICMPv4HeaderSize {
		return nil, ErrTruncated
	}
	if caps.ICMPv4.VerifyRx() && Checksum(b, 0) != 0xffff {
		return nil, ErrChecksum
	}
	h := ICMPv4(b)
	switch h.Type() {
	case ICMPv4EchoRequestType:
		if h.Code() != 0 {
			return nil, ErrMalformed
		}
		return ICMPv4EchoRequest{Ident: h.Ident(), SeqNo: h.Sequence(), Data: h.Payload()}, nil
	case ICMPv4EchoReplyType:
		if h.Code() != 0 {
			return nil, ErrMalformed
		}
		return ICMPv4EchoReply{Ident: h.Ident(), SeqNo: h.Sequence(), Data: h.Payload()}, nil
	case ICMPv4DstUnreachableType:
		header, data, err := parseEmbedded(h.Payload())
		if err != nil {
			return nil, err
		}
		return ICMPv4DstUnreachable{
			Reason: ICMPv4DstUnreachableCode(h.Code()),
			Header: header,
			Data:   data,
		}, nil
	case ICMPv4TimeExceededType:
		header, data, err := parseEmbedded(h.Payload())
		if err != nil {
			return nil, err
		}
		return ICMPv4TimeExceeded{
			Reason: ICMPv4TimeExceededCode(h.Code()),
			Header: header,
			Data:   data,
		}, nil
	default:
		return nil, ErrMalformed
	}
}

// parseEmbedded reads the copy of the offending datagram's header inside an
// ICMP error message. The copy is allowed to be truncated mid-payload, so
// the total length field is not checked against the bytes present.
func parseEmbedded(b []byte) (IPv4Repr, []byte, error) {
	if len(b) < IPv4MinimumSize {
		return IPv4Repr{}, nil, ErrTruncated
	}
	h := IPv4(b)
	if h.Version() != IPv4Version {
		return IPv4Repr{}, nil, ErrMalformed
	}
	hlen := h.HeaderLength()
	if hlen < IPv4MinimumSize || hlen > len(b) {
		return IPv4Repr{}, nil, ErrTruncated
	}
	data := b[hlen:]
	return IPv4Repr{
		SrcAddr:    h.SourceAddress(),
		DstAddr:    h.DestinationAddress(),
		Protocol:   h.Protocol(),
		PayloadLen: len(data),
		HopLimit:   h.TTL(),
		Ident:      h.ID(),
	}, data, nil
}

// BufferLen implements ICMPv4Repr.BufferLen.
func (r ICMPv4EchoRequest) BufferLen() int { return ICMPv4HeaderSize + len(r.Data) }

// BufferLen implements ICMPv4Repr.BufferLen.
func (r ICMPv4EchoReply) BufferLen() int { return ICMPv4HeaderSize + len(r.Data) }

// BufferLen implements ICMPv4Repr.BufferLen.
func (r ICMPv4DstUnreachable) BufferLen() int {
	return ICMPv4HeaderSize + IPv4MinimumSize + len(r.Data)
}

// BufferLen implements ICMPv4Repr.BufferLen.
func (r ICMPv4TimeExceeded) BufferLen() int {
	return ICMPv4HeaderSize + IPv4MinimumSize + len(r.Data)
}

// Emit implements ICMPv4Repr.Emit.
func (r ICMPv4EchoRequest) Emit(b []byte, caps ChecksumCapabilities) {
	emitEcho(b, ICMPv4EchoRequestType, r.Ident, r.SeqNo, r.Data, caps)
}

// Emit implements ICMPv4Repr.Emit.
func (r ICMPv4EchoReply) Emit(b []byte, caps ChecksumCapabilities) {
	emitEcho(b, ICMPv4EchoReplyType, r.Ident, r.SeqNo, r.Data, caps)
}

// Emit implements ICMPv4Repr.Emit.
func (r ICMPv4DstUnreachable) Emit(b []byte, caps ChecksumCapabilities) {
	emitError(b, ICMPv4DstUnreachableType, uint8(r.Reason), r.Header, r.Data, caps)
}

// Emit implements ICMPv4Repr.Emit.
func (r ICMPv4TimeExceeded) Emit(b []byte, caps ChecksumCapabilities) {
	emitError(b, ICMPv4TimeExceededType, uint8(r.Reason), r.Header, r.Data, caps)
}

func emitEcho(b []byte, typ ICMPv4Type, ident, seq uint16, data []byte, caps ChecksumCapabilities) {
	h := ICMPv4(b)
	h.SetType(typ)
	h.SetCode(0)
	h.SetChecksum(0)
	h.SetIdent(ident)
	h.SetSequence(seq)
	copy(h.Payload(), data)
	finishChecksum(h, caps)
}

func emitError(b []byte, typ ICMPv4Type, code uint8, header IPv4Repr, data []byte, caps ChecksumCapabilities) {
	h := ICMPv4(b)
	h.SetType(typ)
	h.SetCode(code)
	h.SetChecksum(0)
	// Four unused bytes precede the embedded datagram.
	binary.BigEndian.PutUint32(h[4:], 0)
	header.Emit(h.Payload(), ChecksumCapabilities{})
	copy(h.Payload()[IPv4MinimumSize:], data)
	finishChecksum(h, caps)
}

func finishChecksum(h ICMPv4, caps ChecksumCapabilities) {
	if caps.ICMPv4.ComputeTx() {
		h.SetChecksum(^Checksum(h, 0))
	}
}
