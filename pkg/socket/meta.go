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
	"time"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// DiscoverySilenceInterval is how long a socket whose packets cannot be sent
// for lack of a resolved neighbor is skipped during egress. The neighbor
// cache rate-limits the discovery requests themselves; this keeps the egress
// loop from spinning on the blocked socket in between.
const DiscoverySilenceInterval = 3 * time.Second

type neighborState int

const (
	neighborActive neighborState = iota
	neighborWaiting
)

// Meta is the engine-owned bookkeeping attached to every socket in a Set.
type Meta struct {
	state       neighborState
	neighbor    wire.Address
	silentUntil clock.Instant
}

// EgressPermitted reports whether the socket may attempt to send during this
// egress pass. hasNeighbor tells whether an address currently resolves to a
// hardware address.
func (m *Meta) EgressPermitted(now clock.Instant, hasNeighbor func(wire.Address) bool) bool {
	switch m.state {
	case neighborActive:
		return true
	default:
		if hasNeighbor(m.neighbor) {
			m.state = neighborActive
			return true
		}
		return !now.Before(m.silentUntil)
	}
}

// NeighborMissing records that the socket's pending packet could not be sent
// because neighbor resolution for addr is still outstanding.
func (m *Meta) NeighborMissing(now clock.Instant, addr wire.Address) {
	m.state = neighborWaiting
	m.neighbor = addr
	m.silentUntil = now.Add(DiscoverySilenceInterval)
}

// PollAt folds the neighbor wait state into the socket's own next-wake
// contract: a socket blocked only on resolution wants polling as soon as
// resolution completes, or at the end of its silence window otherwise.
func (m *Meta) PollAt(socketPollAt PollAt, hasNeighbor func(wire.Address) bool) PollAt {
	switch m.state {
	case neighborActive:
		return socketPollAt
	default:
		if hasNeighbor(m.neighbor) {
			return PollAtNow()
		}
		return PollAtTime(m.silentUntil)
	}
}
