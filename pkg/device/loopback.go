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

// Loopback is a device where every transmitted frame immediately becomes
// receivable. Checksums are neither computed nor verified; nothing leaves
// the process.
type Loopback struct {
	queue [][]byte
}

// NewLoopback creates a loopback device.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Receive implements Device.Receive.
func (l *Loopback) Receive(now clock.Instant) (RxToken, TxToken, bool) {
	if len(l.queue) == 0 {
		return nil, nil, false
	}
	frame := l.queue[0]
	l.queue = l.queue[1:]
	return channelRxToken{frame: frame}, loopbackTxToken{dev: l}, true
}

// Transmit implements Device.Transmit.
func (l *Loopback) Transmit(now clock.Instant) (TxToken, bool) {
	return loopbackTxToken{dev: l}, true
}

// Capabilities implements Device.Capabilities.
func (l *Loopback) Capabilities() Capabilities {
	return Capabilities{
		Medium:   MediumEthernet,
		MTU:      65535,
		Checksum: wire.IgnoredChecksums(),
	}
}

type loopbackTxToken struct {
	dev *Loopback
}

// Consume implements TxToken.Consume.
func (t loopbackTxToken) Consume(length int, f func(buf []byte)) {
	buf := make([]byte, length)
	f(buf)
	t.dev.queue = append(t.dev.queue, buf)
}
