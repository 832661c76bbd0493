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

// Package clock provides the monotonic timestamps the stack runs on.
//
// The stack never reads the wall clock itself; every poll entry point takes
// an explicit Instant so that tests can drive time and so that all expiry
// decisions within one poll are made against a single value.
package clock

import (
	"fmt"
	"time"
)

// Instant is a point on a monotonic timeline, with nanosecond resolution.
// The zero Instant is the epoch of that timeline (for example, system or
// process startup); absolute wall time is never involved.
type Instant struct {
	ns int64
}

// FromNanoseconds returns the Instant ns nanoseconds after the epoch.
func FromNanoseconds(ns int64) Instant {
	return Instant{ns: ns}
}

// FromMillis returns the Instant ms milliseconds after the epoch.
func FromMillis(ms int64) Instant {
	return Instant{ns: ms * int64(time.Millisecond)}
}

// Nanoseconds returns the number of nanoseconds since the epoch.
func (i Instant) Nanoseconds() int64 {
	return i.ns
}

// Millis returns the number of whole milliseconds since the epoch.
func (i Instant) Millis() int64 {
	return i.ns / int64(time.Millisecond)
}

// Add returns i shifted forward by d.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{ns: i.ns + int64(d)}
}

// Sub returns the duration elapsed from o to i.
func (i Instant) Sub(o Instant) time.Duration {
	return time.Duration(i.ns - o.ns)
}

// Before reports whether i precedes o.
func (i Instant) Before(o Instant) bool {
	return i.ns < o.ns
}

// After reports whether i follows o.
func (i Instant) After(o Instant) bool {
	return i.ns > o.ns
}

// String implements fmt.Stringer.
func (i Instant) String() string {
	return fmt.Sprintf("@%s", time.Duration(i.ns))
}

var start = time.Now()

// Now returns the current Instant, measured from process start.
func Now() Instant {
	return Instant{ns: int64(time.Since(start))}
}
