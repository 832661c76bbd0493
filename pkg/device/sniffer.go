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
	"io"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
)

// Sniffer wraps another device and records every frame that passes through
// it, to a pcap stream, a debug logger, or both. It changes no behavior of
// the wrapped device and is intended for interactive debugging.
type Sniffer struct {
	inner  Device
	logger *zap.Logger
	pcap   *pcapgo.Writer
}

// NewSniffer wraps inner. If pcapOut is non-nil a pcap file header is
// written to it immediately and every frame follows; logger may be nil to
// disable logging.
func NewSniffer(inner Device, logger *zap.Logger, pcapOut io.Writer) (*Sniffer, error) {
	s := &Sniffer{inner: inner, logger: logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if pcapOut != nil {
		w := pcapgo.NewWriter(pcapOut)
		if err := w.WriteFileHeader(uint32(inner.Capabilities().MTU), layers.LinkTypeEthernet); err != nil {
			return nil, err
		}
		s.pcap = w
	}
	return s, nil
}

func (s *Sniffer) record(dir string, frame []byte) {
	s.logger.Debug("frame",
		zap.String("dir", dir),
		zap.Int("len", len(frame)),
	)
	if s.pcap != nil {
		_ = s.pcap.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame)
	}
}

// Receive implements Device.Receive.
func (s *Sniffer) Receive(now clock.Instant) (RxToken, TxToken, bool) {
	rx, tx, ok := s.inner.Receive(now)
	if !ok {
		return nil, nil, false
	}
	return snifferRxToken{inner: rx, s: s}, snifferTxToken{inner: tx, s: s}, true
}

// Transmit implements Device.Transmit.
func (s *Sniffer) Transmit(now clock.Instant) (TxToken, bool) {
	tx, ok := s.inner.Transmit(now)
	if !ok {
		return nil, false
	}
	return snifferTxToken{inner: tx, s: s}, true
}

// Capabilities implements Device.Capabilities.
func (s *Sniffer) Capabilities() Capabilities {
	return s.inner.Capabilities()
}

type snifferRxToken struct {
	inner RxToken
	s     *Sniffer
}

// Consume implements RxToken.Consume.
func (t snifferRxToken) Consume(f func(frame []byte)) {
	t.inner.Consume(func(frame []byte) {
		t.s.record("rx", frame)
		f(frame)
	})
}

type snifferTxToken struct {
	inner TxToken
	s     *Sniffer
}

// Consume implements TxToken.Consume.
func (t snifferTxToken) Consume(length int, f func(buf []byte)) {
	t.inner.Consume(length, func(buf []byte) {
		f(buf)
		t.s.record("tx", buf)
	})
}
