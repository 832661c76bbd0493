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
	"errors"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// ErrRouteTableFull is returned when a bounded route table has no free slot.
var ErrRouteTableFull = errors.New("iface: route table full")

// DefaultRouteTableSize bounds the route table of a freshly built interface.
const DefaultRouteTableSize = 4

// ipv4Default is the prefix of the IPv4 default route.
var ipv4Default = wire.Cidr{}

// Route says that addresses within Cidr should be sent via ViaRouter.
// A zero PreferredUntil or ExpiresAt means "forever".
type Route struct {
	Cidr           wire.Cidr
	ViaRouter      wire.Address
	PreferredUntil clock.Instant
	ExpiresAt      clock.Instant
}

// NewIPv4GatewayRoute builds the default route via gateway.
func NewIPv4GatewayRoute(gateway wire.Address) Route {
	return Route{Cidr: ipv4Default, ViaRouter: gateway}
}

// RouteTable is an ordered, bounded collection of routes. More specific
// prefixes sort ahead of less specific ones, so first-match lookup is also
// longest-prefix lookup.
type RouteTable struct {
	storage  []Route
	capacity int
}

// NewRouteTable creates a table bounded to capacity entries.
func NewRouteTable(capacity int) *RouteTable {
	return &RouteTable{capacity: capacity}
}

// Add inserts a route, keeping more specific prefixes ahead of less
// specific ones.
func (t *RouteTable) Add(route Route) error {
	if len(t.storage) >= t.capacity {
		return ErrRouteTableFull
	}
	i := len(t.storage)
	for j, r := range t.storage {
		if r.Cidr.PrefixLen < route.Cidr.PrefixLen {
			i = j
			break
		}
	}
	t.storage = append(t.storage, Route{})
	copy(t.storage[i+1:], t.storage[i:])
	t.storage[i] = route
	return nil
}

// AddDefaultIPv4Route atomically replaces any existing default route with
// one via gateway, returning the replaced route if there was one. It fails
// only when the table has no free slot.
func (t *RouteTable) AddDefaultIPv4Route(gateway wire.Address) (old Route, replaced bool, err error) {
	old, replaced = t.RemoveDefaultIPv4Route()
	if err := t.Add(NewIPv4GatewayRoute(gateway)); err != nil {
		return Route{}, false, err
	}
	return old, replaced, nil
}

// RemoveDefaultIPv4Route removes the default route, returning it if it was
// present.
func (t *RouteTable) RemoveDefaultIPv4Route() (Route, bool) {
	for i, r := range t.storage {
		if r.Cidr == ipv4Default {
			old := r
			t.storage = append(t.storage[:i], t.storage[i+1:]...)
			return old, true
		}
	}
	return Route{}, false
}

// Lookup returns the gateway for the first live route whose prefix contains
// addr.
func (t *RouteTable) Lookup(addr wire.Address, timestamp clock.Instant) (wire.Address, bool) {
	for _, r := range t.storage {
		if !r.Cidr.Contains(addr) {
			continue
		}
		if r.ExpiresAt != (clock.Instant{}) && !timestamp.Before(r.ExpiresAt) {
			continue
		}
		return r.ViaRouter, true
	}
	return wire.Address{}, false
}
