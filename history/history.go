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

// Package history stores the compact form of accepted NTP exchanges,
// ordered by the server's receive timestamp, and supports the
// time-bounded range queries the clock discipline algorithm needs.
package history

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/counter"
)

// ErrDuplicate is returned by Insert when an entry with the same Tb
// already exists.
var ErrDuplicate = errors.New("history: duplicate timestamp")

// ErrOutOfDomain is returned by Insert when the sample violates the
// structural invariants (Tf > Ta, Tf-Ta representable in 32 bits,
// (Te-Tb).Sec == 0).
var ErrOutOfDomain = errors.New("history: sample out of domain")

// Timestamp is one raw 4-point NTP exchange: Ta (client send), Tb (server
// receive), Te (server transmit), Tf (client receive).
type Timestamp struct {
	Ta counter.Ticks
	Tb bintime.Bintime
	Te bintime.Bintime
	Tf counter.Ticks
}

// RTT returns Tf-Ta, the measured round-trip tick count.
func (ts Timestamp) RTT() uint64 { return ts.Tf - ts.Ta }

// ntpTimestamp is the NTP 32.32 server-receive timestamp used as the
// ordering key, matching the original's (int32 sec, uint32 frac) pair.
type ntpTimestamp struct {
	sec  int32
	frac uint32
}

func toNTP(b bintime.Bintime) ntpTimestamp {
	return ntpTimestamp{sec: int32(b.Sec), frac: uint32(b.Frac >> 32)}
}

func (n ntpTimestamp) toBintime() bintime.Bintime {
	return bintime.Bintime{Sec: int64(n.sec), Frac: uint64(n.frac) << 32}
}

// entry is the compact on-disk (in-memory) representation: f_local, Ta,
// Tb_ntp, dTe = (Te-Tb).Frac>>32, dTf = Tf-Ta.
type entry struct {
	fLocal counter.Hz
	ta     counter.Ticks
	tb     ntpTimestamp
	dTe    uint32
	dTf    uint32
}

func (e entry) toTimestamp() Timestamp {
	tb := e.tb.toBintime()
	te := tb.Add(bintime.Bintime{Sec: 0, Frac: uint64(e.dTe) << 32})
	return Timestamp{
		Ta: e.ta,
		Tb: tb,
		Te: te,
		Tf: e.ta + uint64(e.dTf),
	}
}

// History is an ordered, compact store of accepted NTP exchanges. Not
// safe for concurrent use; the time-sync server confines it to its
// single event-loop goroutine, per the concurrency model.
type History struct {
	entries []entry // sorted by tb
}

// New returns an empty History.
func New() *History { return &History{} }

// Empty reports whether the history holds no entries.
func (h *History) Empty() bool { return len(h.entries) == 0 }

// Size returns the number of stored entries.
func (h *History) Size() int { return len(h.entries) }

// Clear removes every entry.
func (h *History) Clear() { h.entries = nil }

// Contains reports whether any stored entry has the same Tb as ts.
func (h *History) Contains(ts Timestamp) bool {
	key := toNTP(ts.Tb)
	for _, e := range h.entries {
		if e.tb == key {
			return true
		}
	}
	return false
}

// Insert validates and stores ts with its associated local frequency
// estimate (0 is allowed before f_local has ever been computed). Returns
// ErrOutOfDomain if the structural invariants are violated, ErrDuplicate
// if an entry with the same Tb already exists.
func (h *History) Insert(ts Timestamp, fLocal counter.Hz) error {
	if ts.Tf <= ts.Ta {
		return fmt.Errorf("%w: Tf must be > Ta", ErrOutOfDomain)
	}
	offsetTe := ts.Te.Sub(ts.Tb)
	if ts.Tf-ts.Ta > math.MaxUint32 || offsetTe.Sec != 0 {
		return fmt.Errorf("%w: timestamp interval too big", ErrOutOfDomain)
	}

	item := entry{
		fLocal: fLocal,
		ta:     ts.Ta,
		tb:     toNTP(ts.Tb),
		dTe:    uint32(offsetTe.Frac >> 32),
		dTf:    uint32(ts.Tf - ts.Ta),
	}

	idx := sort.Search(len(h.entries), func(i int) bool {
		return !tbLess(h.entries[i].tb, item.tb)
	})
	if idx < len(h.entries) && h.entries[idx].tb == item.tb {
		return ErrDuplicate
	}
	h.entries = append(h.entries, entry{})
	copy(h.entries[idx+1:], h.entries[idx:])
	h.entries[idx] = item
	return nil
}

func tbLess(a, b ntpTimestamp) bool {
	if a.sec != b.sec {
		return a.sec < b.sec
	}
	return a.frac < b.frac
}

// Duration returns the span between the oldest and newest Tb, zero if
// empty.
func (h *History) Duration() bintime.Bintime {
	if len(h.entries) == 0 {
		return bintime.Zero
	}
	first := h.entries[0].tb.toBintime()
	last := h.entries[len(h.entries)-1].tb.toBintime()
	return last.Sub(first)
}

// LowerBound returns the index of the first entry whose Tb.Sec is >= sec.
func (h *History) LowerBound(sec int64) int {
	return sort.Search(len(h.entries), func(i int) bool {
		return int64(h.entries[i].tb.sec) >= sec
	})
}

// UpperBound returns the index of the first entry whose Tb.Sec is > sec.
func (h *History) UpperBound(sec int64) int {
	return sort.Search(len(h.entries), func(i int) bool {
		return int64(h.entries[i].tb.sec) > sec
	})
}

// Prune removes every entry whose Tb.Sec < sec.
func (h *History) Prune(sec int64) {
	idx := h.LowerBound(sec)
	h.entries = h.entries[idx:]
}

// Apply invokes f over entries in [lo, hi) (index range, typically from
// LowerBound/UpperBound), reconstructing each full Timestamp and its
// stored f_local.
func (h *History) Apply(lo, hi int, f func(Timestamp, counter.Hz)) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(h.entries) {
		hi = len(h.entries)
	}
	for _, e := range h.entries[lo:hi] {
		f(e.toTimestamp(), e.fLocal)
	}
}

// At returns the reconstructed Timestamp and f_local at index i.
func (h *History) At(i int) (Timestamp, counter.Hz) {
	e := h.entries[i]
	return e.toTimestamp(), e.fLocal
}
