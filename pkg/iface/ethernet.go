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

package iface

import (
	"go.uber.org/zap"

	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// processEthernet runs one received frame through the pipeline and returns
// the response to emit, or nil when there is none. Malformed and foreign
// frames are dropped here without any observable effect.
func (e *Interface) processEthernet(sockets *socket.Set, frame []byte) ethernetPacket {
	eth, err := wire.CheckedEthernet(frame)
	if err != nil {
		e.logger.Debug("dropping malformed ethernet frame", zap.Error(err))
		return nil
	}

	// Ignore any packets not directed to our hardware address or any of
	// the multicast groups.
	dst := eth.DestinationAddress()
	if !dst.IsBroadcast() && !dst.IsMulticast() && dst != e.hardwareAddr {
		return nil
	}

	switch eth.Type() {
	case wire.EtherTypeARP:
		return e.processARP(eth)
	case wire.EtherTypeIPv4:
		pkt, ok := e.processIPv4(sockets, eth.SourceAddress(), eth.Payload())
		if !ok {
			return nil
		}
		return ipResponse{packet: pkt}
	default:
		// Drop all other traffic.
		return nil
	}
}
