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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

func TestRouteTableSpecificityOrder(t *testing.T) {
	table := NewRouteTable(DefaultRouteTableSize)
	gwDefault := wire.AddrFrom4(192, 168, 1, 1)
	gwSubnet := wire.AddrFrom4(10, 0, 0, 1)

	// Insertion order must not matter: the less specific route goes in
	// first but the /8 still wins for addresses it covers.
	require.NoError(t, table.Add(NewIPv4GatewayRoute(gwDefault)))
	require.NoError(t, table.Add(Route{
		Cidr:      wire.CidrFrom(wire.AddrFrom4(10, 0, 0, 0), 8),
		ViaRouter: gwSubnet,
	}))

	now := clock.FromMillis(0)
	gw, ok := table.Lookup(wire.AddrFrom4(10, 1, 2, 3), now)
	require.True(t, ok)
	require.Equal(t, gwSubnet, gw)

	gw, ok = table.Lookup(wire.AddrFrom4(8, 8, 8, 8), now)
	require.True(t, ok)
	require.Equal(t, gwDefault, gw)
}

func TestRouteTableDefaultRouteReplacement(t *testing.T) {
	table := NewRouteTable(DefaultRouteTableSize)
	gw1 := wire.AddrFrom4(192, 168, 1, 1)
	gw2 := wire.AddrFrom4(192, 168, 1, 2)

	_, replaced, err := table.AddDefaultIPv4Route(gw1)
	require.NoError(t, err)
	require.False(t, replaced)

	old, replaced, err := table.AddDefaultIPv4Route(gw2)
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, gw1, old.ViaRouter)

	gw, ok := table.Lookup(wire.AddrFrom4(8, 8, 8, 8), clock.FromMillis(0))
	require.True(t, ok)
	require.Equal(t, gw2, gw)

	old, removed := table.RemoveDefaultIPv4Route()
	require.True(t, removed)
	require.Equal(t, gw2, old.ViaRouter)
	_, ok = table.Lookup(wire.AddrFrom4(8, 8, 8, 8), clock.FromMillis(0))
	require.False(t, ok)
}

func TestRouteTableCapacity(t *testing.T) {
	table := NewRouteTable(1)
	require.NoError(t, table.Add(NewIPv4GatewayRoute(wire.AddrFrom4(192, 168, 1, 1))))
	require.ErrorIs(t, table.Add(NewIPv4GatewayRoute(wire.AddrFrom4(192, 168, 1, 2))), ErrRouteTableFull)

	// Replacing the default route needs no extra slot.
	_, replaced, err := table.AddDefaultIPv4Route(wire.AddrFrom4(192, 168, 1, 3))
	require.NoError(t, err)
	require.True(t, replaced)
}

func TestRouteTableExpiry(t *testing.T) {
	table := NewRouteTable(DefaultRouteTableSize)
	gw := wire.AddrFrom4(192, 168, 1, 1)
	require.NoError(t, table.Add(Route{
		Cidr:      wire.CidrFrom(wire.AddrFrom4(10, 0, 0, 0), 8),
		ViaRouter: gw,
		ExpiresAt: clock.FromMillis(1000),
	}))

	_, ok := table.Lookup(wire.AddrFrom4(10, 0, 0, 5), clock.FromMillis(999))
	require.True(t, ok)
	_, ok = table.Lookup(wire.AddrFrom4(10, 0, 0, 5), clock.FromMillis(1000))
	require.False(t, ok)
}
