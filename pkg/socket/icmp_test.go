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

package socket

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// testContext is the minimal engine a socket needs.
type testContext struct {
	now  clock.Instant
	src  wire.Address
	mtu  int
	caps wire.ChecksumCapabilities
}

func (c *testContext) Now() clock.Instant                        { return c.now }
func (c *testContext) ChecksumCaps() wire.ChecksumCapabilities   { return c.caps }
func (c *testContext) IPMTU() int                                { return c.mtu }
func (c *testContext) SourceAddrV4(wire.Address) (wire.Address, bool) {
	return c.src, !c.src.IsUnspecified()
}

func newTestContext() *testContext {
	return &testContext{src: wire.AddrFrom4(192, 168, 1, 1), mtu: 1500}
}

func echoRequestBytes(t *testing.T, ident, seq uint16) []byte {
	t.Helper()
	repr := wire.ICMPv4EchoRequest{Ident: ident, SeqNo: seq, Data: []byte{0xff}}
	buf := make([]byte, repr.BufferLen())
	repr.Emit(buf, wire.ChecksumCapabilities{})
	return buf
}

func TestICMPBind(t *testing.T) {
	sk := NewICMP(4, 4)

	err := sk.SendTo(echoRequestBytes(t, 1, 0), wire.AddrFrom4(10, 0, 0, 1))
	require.ErrorIs(t, err, ErrInvalidState, "an unbound socket cannot send")

	require.NoError(t, sk.Bind(BindIdent(1)))
	require.ErrorIs(t, sk.Bind(BindIdent(2)), ErrInvalidState, "rebinding is rejected")
	require.ErrorIs(t, NewICMP(1, 1).Bind(ICMPEndpoint{}), ErrUnaddressable)
}

func TestICMPAccepts(t *testing.T) {
	sk := NewICMP(4, 4)
	ctx := newTestContext()
	ip := wire.IPv4Repr{
		SrcAddr:  wire.AddrFrom4(10, 0, 0, 1),
		DstAddr:  wire.AddrFrom4(192, 168, 1, 1),
		Protocol: wire.IPProtocolICMP,
		HopLimit: 64,
	}

	matching := wire.ICMPv4EchoReply{Ident: 7, SeqNo: 1}
	require.False(t, sk.AcceptsV4(ctx, ip, matching), "an unbound socket accepts nothing")

	require.NoError(t, sk.Bind(BindIdent(7)))
	require.True(t, sk.AcceptsV4(ctx, ip, matching))
	require.True(t, sk.AcceptsV4(ctx, ip, wire.ICMPv4EchoRequest{Ident: 7}))
	require.False(t, sk.AcceptsV4(ctx, ip, wire.ICMPv4EchoReply{Ident: 8}))
	require.False(t, sk.AcceptsV4(ctx, ip, wire.ICMPv4DstUnreachable{}),
		"only echo messages are matched by ident")
}

func TestICMPProcessBoundedQueue(t *testing.T) {
	sk := NewICMP(1, 1)
	require.NoError(t, sk.Bind(BindIdent(7)))
	ctx := newTestContext()
	ip := wire.IPv4Repr{SrcAddr: wire.AddrFrom4(10, 0, 0, 1), Protocol: wire.IPProtocolICMP}

	sk.ProcessV4(ctx, ip, wire.ICMPv4EchoReply{Ident: 7, SeqNo: 1})
	sk.ProcessV4(ctx, ip, wire.ICMPv4EchoReply{Ident: 7, SeqNo: 2})

	msg, from, ok := sk.RecvFrom()
	require.True(t, ok)
	require.Equal(t, wire.AddrFrom4(10, 0, 0, 1), from)
	repr, err := wire.ParseICMPv4(msg, wire.IgnoredChecksums())
	require.NoError(t, err)
	require.Equal(t, uint16(1), repr.(wire.ICMPv4EchoReply).SeqNo, "the overflowing datagram is the one dropped")

	_, _, ok = sk.RecvFrom()
	require.False(t, ok)
}

func TestICMPDispatchKeepsPacketOnFailure(t *testing.T) {
	sk := NewICMP(4, 4)
	require.NoError(t, sk.Bind(BindIdent(7)))
	ctx := newTestContext()

	target := wire.AddrFrom4(10, 0, 0, 1)
	require.NoError(t, sk.SendTo(echoRequestBytes(t, 7, 0), target))

	errPending := errors.New("pending")
	err := sk.Dispatch(ctx, func(wire.IPv4Repr, wire.ICMPv4Repr) error { return errPending })
	require.ErrorIs(t, err, errPending)

	// The packet is still queued; a later dispatch delivers it.
	var gotIP wire.IPv4Repr
	err = sk.Dispatch(ctx, func(ip wire.IPv4Repr, _ wire.ICMPv4Repr) error {
		gotIP = ip
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, target, gotIP.DstAddr)
	require.Equal(t, ctx.src, gotIP.SrcAddr)
	require.Equal(t, wire.IPProtocolICMP, gotIP.Protocol)
	require.False(t, sk.CanRecv())

	// Queue drained: dispatch becomes a no-op.
	require.NoError(t, sk.Dispatch(ctx, func(wire.IPv4Repr, wire.ICMPv4Repr) error {
		t.Fatal("nothing should be dispatched")
		return nil
	}))
}

func TestICMPSendToValidation(t *testing.T) {
	sk := NewICMP(4, 1)
	require.NoError(t, sk.Bind(BindIdent(7)))

	err := sk.SendTo(echoRequestBytes(t, 7, 0), wire.Address{})
	require.ErrorIs(t, err, ErrUnaddressable)

	require.NoError(t, sk.SendTo(echoRequestBytes(t, 7, 0), wire.AddrFrom4(10, 0, 0, 1)))
	err = sk.SendTo(echoRequestBytes(t, 7, 1), wire.AddrFrom4(10, 0, 0, 1))
	require.ErrorIs(t, err, ErrBufferFull)
}

func TestICMPPollAt(t *testing.T) {
	sk := NewICMP(4, 4)
	require.NoError(t, sk.Bind(BindIdent(7)))
	ctx := newTestContext()

	require.True(t, sk.PollAt(ctx).IsIngress())
	require.NoError(t, sk.SendTo(echoRequestBytes(t, 7, 0), wire.AddrFrom4(10, 0, 0, 1)))
	require.True(t, sk.PollAt(ctx).IsNow(), "queued data wants an immediate poll")
}
