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

// Package counter implements the monotone tick-source abstraction: a
// priority-ordered registry of candidate Timecounters, of which exactly
// one is selected and published for lock-free reading.
package counter

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Hz is a frequency in cycles per second.
type Hz = uint64

// Ticks is a raw, monotonically increasing tick count.
type Ticks = uint64

// Timecounter is a monotone tick source with a frequency estimate,
// selectable at startup via the priority-ordered registry below.
//
// Now must be monotone and wait-free; Frequency must be constant for the
// lifetime of the process. A counter that cannot guarantee both must not
// register.
type Timecounter interface {
	ID() uuid.UUID
	Name() string
	Now() Ticks
	Frequency() Hz
	// StaticPriority ranks candidates at selection time; lower wins,
	// ties broken by registration order.
	StaticPriority() int
}

var (
	registryMu sync.Mutex
	registry   []Timecounter

	active atomic.Pointer[Timecounter]
)

// Register adds a candidate to the process-wide registry. Intended to be
// called from each concrete counter's init(), so registration order is
// fixed at link time and does not depend on any static-initialization
// ordering between translation units (replacing the CRTP + global
// registration pattern of CRTP-plus-global-registration designs).
func Register(tc Timecounter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, tc)
}

// Registered returns a snapshot of every registered candidate, in
// registration order.
func Registered() []Timecounter {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Timecounter, len(registry))
	copy(out, registry)
	return out
}

// Select sorts the registry by StaticPriority (lower wins, ties broken by
// registration order) and publishes the winner into the single active
// slot. It must be called exactly once, before any reader calls Now or
// Frequency. Returns the winner, or an error if the registry is empty —
// a Fatal-class condition per the error taxonomy: no timecounter
// available at startup.
func Select() (Timecounter, error) {
	registryMu.Lock()
	candidates := make([]Timecounter, len(registry))
	copy(candidates, registry)
	registryMu.Unlock()

	if len(candidates) == 0 {
		return nil, fmt.Errorf("counter: no timecounter registered")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].StaticPriority() < candidates[j].StaticPriority()
	})
	winner := candidates[0]
	active.Store(&winner)
	log.WithField("counter", winner.Name()).Info("selected active timecounter")
	return winner, nil
}

// Now returns the active counter's current tick value. Panics if Select
// has not run yet, matching the Fatal-at-init-only failure mode in the
// error taxonomy: this is a programming error, not a runtime condition.
func Now() Ticks {
	return activeCounter().Now()
}

// Frequency returns the active counter's frequency in Hz.
func Frequency() Hz {
	return activeCounter().Frequency()
}

// Active returns the currently published timecounter.
func Active() Timecounter {
	return activeCounter()
}

func activeCounter() Timecounter {
	p := active.Load()
	if p == nil {
		panic("counter: Now/Frequency called before Select")
	}
	return *p
}

// Scalar returns the tick/frequency conversion scalar stored by keeper:
// scalar = ((2^63)/freq) << 1, used to scale a tick delta into bintime
// fraction bits without an intermediate 128-bit multiply.
func Scalar(freqHz Hz) uint64 {
	if freqHz == 0 {
		return 0
	}
	return ((uint64(1) << 63) / freqHz) << 1
}
