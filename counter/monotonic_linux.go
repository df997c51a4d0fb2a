/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build linux

package counter

import (
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// monotonicRawPriority is deliberately low (preferred): CLOCK_MONOTONIC_RAW
// is always available and immune to NTP/PTP slewing of any other clock on
// the box, which is exactly the property a tick source for this algorithm
// needs.
const monotonicRawPriority = 10

// MonotonicRaw is a Timecounter backed by clock_gettime(CLOCK_MONOTONIC_RAW).
type MonotonicRaw struct {
	id uuid.UUID
}

// NewMonotonicRaw constructs the CLOCK_MONOTONIC_RAW counter; this file's
// init registers one instance.
func NewMonotonicRaw() *MonotonicRaw {
	return &MonotonicRaw{id: uuid.New()}
}

func (m *MonotonicRaw) ID() uuid.UUID { return m.id }

func (m *MonotonicRaw) Name() string { return "clock_monotonic_raw" }

func (m *MonotonicRaw) Now() Ticks {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*uint64(m.Frequency()) + uint64(ts.Nsec)*m.Frequency()/1e9
}

// Frequency is nominally 1GHz: clock_gettime reports nanoseconds, and we
// treat a nanosecond count as "ticks at 1GHz" so the rest of the core
// never needs to know this counter's units are already seconds-ish.
func (m *MonotonicRaw) Frequency() Hz { return 1_000_000_000 }

func (m *MonotonicRaw) StaticPriority() int { return monotonicRawPriority }

func init() {
	Register(NewMonotonicRaw())
}
