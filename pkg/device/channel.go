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

package device

import (
	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// Channel is an in-memory device backed by two frame queues. Frames given
// to InjectInbound become receivable; frames the stack transmits accumulate
// until drained with Outbound. It is the device used by the stack's own
// tests and by simulations.
type Channel struct {
	caps  Capabilities
	rx    [][]byte
	tx    [][]byte
	txCap int
}

// NewChannel creates a channel device with the given IP MTU and transmit
// queue capacity. Once txCap frames are pending, Transmit reports
// exhaustion until the queue is drained.
func NewChannel(ipMTU, txCap int) *Channel {
	return &Channel{
		caps: Capabilities{
			Medium: MediumEthernet,
			MTU:    ipMTU + wire.EthernetHeaderSize,
		},
		txCap: txCap,
	}
}

// InjectInbound queues a frame for reception. The slice is retained until
// consumed.
func (c *Channel) InjectInbound(frame []byte) {
	c.rx = append(c.rx, frame)
}

// Outbound drains and returns the frames transmitted so far, in order.
func (c *Channel) Outbound() [][]byte {
	out := c.tx
	c.tx = nil
	return out
}

// Receive implements Device.Receive.
func (c *Channel) Receive(now clock.Instant) (RxToken, TxToken, bool) {
	if len(c.rx) == 0 {
		return nil, nil, false
	}
	frame := c.rx[0]
	c.rx = c.rx[1:]
	return channelRxToken{frame: frame}, channelTxToken{dev: c}, true
}

// Transmit implements Device.Transmit.
func (c *Channel) Transmit(now clock.Instant) (TxToken, bool) {
	if len(c.tx) >= c.txCap {
		return nil, false
	}
	return channelTxToken{dev: c}, true
}

// Capabilities implements Device.Capabilities.
func (c *Channel) Capabilities() Capabilities {
	return c.caps
}

type channelRxToken struct {
	frame []byte
}

// Consume implements RxToken.Consume.
func (t channelRxToken) Consume(f func(frame []byte)) {
	f(t.frame)
}

type channelTxToken struct {
	dev *Channel
}

// Consume implements TxToken.Consume.
func (t channelTxToken) Consume(length int, f func(buf []byte)) {
	buf := make([]byte, length)
	f(buf)
	t.dev.tx = append(t.dev.tx, buf)
}
