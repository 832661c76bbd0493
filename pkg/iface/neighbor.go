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
	"time"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

const (
	// NeighborTimeout is how long a resolved neighbor binding stays valid.
	NeighborTimeout = 60 * time.Second

	// NeighborRateLimitInterval is how long the cache stays silent after
	// sending a discovery request. The deadline is global, not
	// per-destination: a burst of sends to several unresolved addresses
	// shares one cooldown.
	NeighborRateLimitInterval = 1 * time.Second

	// DefaultNeighborCacheSize bounds the cache. When full, the entry
	// closest to expiry is evicted.
	DefaultNeighborCacheSize = 8
)

// NeighborAnswer is the outcome of a cache lookup.
type NeighborAnswer int

const (
	// NeighborFound means a fresh binding exists.
	NeighborFound NeighborAnswer = iota

	// NeighborRateLimited means no binding exists and a discovery request
	// was sent recently enough that another must not be sent yet.
	NeighborRateLimited

	// NeighborNotFound means no binding exists and discovery may proceed.
	NeighborNotFound
)

type neighbor struct {
	hardwareAddr wire.EthernetAddress
	expiresAt    clock.Instant
}

// NeighborCache maps protocol addresses to hardware addresses with expiry
// and discovery rate-limiting. Each interface owns exactly one.
type NeighborCache struct {
	storage     map[wire.Address]neighbor
	capacity    int
	silentUntil clock.Instant
}

// NewNeighborCache creates a cache bounded to capacity entries.
func NewNeighborCache(capacity int) *NeighborCache {
	return &NeighborCache{
		storage:  make(map[wire.Address]neighbor, capacity),
		capacity: capacity,
	}
}

// Lookup reports the binding for addr at time now.
func (c *NeighborCache) Lookup(addr wire.Address, now clock.Instant) (wire.EthernetAddress, NeighborAnswer) {
	if n, ok := c.storage[addr]; ok && now.Before(n.expiresAt) {
		return n.hardwareAddr, NeighborFound
	}
	if now.Before(c.silentUntil) {
		return wire.EthernetAddress{}, NeighborRateLimited
	}
	return wire.EthernetAddress{}, NeighborNotFound
}

// Fill inserts or overwrites the binding for addr, valid for
// NeighborTimeout from now. On a full cache the entry closest to expiry is
// evicted to make room.
func (c *NeighborCache) Fill(addr wire.Address, hardwareAddr wire.EthernetAddress, now clock.Instant) {
	if _, ok := c.storage[addr]; !ok && len(c.storage) >= c.capacity {
		var oldest wire.Address
		first := true
		for a, n := range c.storage {
			if first || n.expiresAt.Before(c.storage[oldest].expiresAt) {
				oldest = a
				first = false
			}
		}
		delete(c.storage, oldest)
	}
	c.storage[addr] = neighbor{
		hardwareAddr: hardwareAddr,
		expiresAt:    now.Add(NeighborTimeout),
	}
}

// ResetExpiryIfExisting refreshes an existing binding's hardware address and
// expiry. It never creates an entry: only address-resolution traffic may do
// that, so plain IP traffic cannot poison the cache.
func (c *NeighborCache) ResetExpiryIfExisting(addr wire.Address, hardwareAddr wire.EthernetAddress, now clock.Instant) {
	if _, ok := c.storage[addr]; ok {
		c.storage[addr] = neighbor{
			hardwareAddr: hardwareAddr,
			expiresAt:    now.Add(NeighborTimeout),
		}
	}
}

// LimitRate silences discovery until now + NeighborRateLimitInterval.
// Called after a discovery request is actually transmitted.
func (c *NeighborCache) LimitRate(now clock.Instant) {
	c.silentUntil = now.Add(NeighborRateLimitInterval)
}

// Flush drops every binding. Called whenever the local address set changes,
// since the bindings were learned under the old configuration.
func (c *NeighborCache) Flush() {
	clear(c.storage)
}
