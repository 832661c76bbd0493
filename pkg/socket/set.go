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

import "fmt"

// Handle is a stable reference to a socket inside a Set.
type Handle int

// Item is one occupied slot of a Set: the socket and the engine's metadata
// for it.
type Item struct {
	Handle Handle
	Socket Socket
	Meta   Meta
}

// Set is an indexed container of heterogeneous sockets. Slots freed by
// Remove are reused; handles stay valid until their socket is removed.
// Iteration visits sockets in slot order, which is also the egress dispatch
// order the engine guarantees.
type Set struct {
	items []*Item
}

// NewSet creates an empty socket set.
func NewSet() *Set {
	return &Set{}
}

// Add inserts a socket and returns its handle.
func (s *Set) Add(sk Socket) Handle {
	for i, item := range s.items {
		if item == nil {
			h := Handle(i)
			s.items[i] = &Item{Handle: h, Socket: sk}
			return h
		}
	}
	h := Handle(len(s.items))
	s.items = append(s.items, &Item{Handle: h, Socket: sk})
	return h
}

// Get returns the socket for h. It panics on a dangling handle; holding one
// is a programmer error.
func (s *Set) Get(h Handle) Socket {
	return s.item(h).Socket
}

// Remove deletes the socket for h and returns it. It panics on a dangling
// handle.
func (s *Set) Remove(h Handle) Socket {
	item := s.item(h)
	s.items[int(h)] = nil
	return item.Socket
}

func (s *Set) item(h Handle) *Item {
	if int(h) >= len(s.items) || s.items[int(h)] == nil {
		panic(fmt.Sprintf("socket: dangling handle %d", h))
	}
	return s.items[int(h)]
}

// Items returns the occupied slots in iteration order. The engine mutates
// sockets and metadata through the returned pointers during one bounded
// poll; other callers must treat them as read-only.
func (s *Set) Items() []*Item {
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}
