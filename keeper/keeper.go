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

// Package keeper publishes the clock discipline algorithm's corrected
// wall-time parameters and exposes a wait-free Realtime reader. There is
// exactly one writer (the time-sync server's clock goroutine) and
// arbitrarily many concurrent readers on any goroutine.
package keeper

import (
	"sync/atomic"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/counter"
)

// Params is the atomically published parameter block: realtime(now) =
// RefWall + bintime_from(now_ticks - RefTicks, Freq, Scalar).
type Params struct {
	RefWall  bintime.Bintime
	RefTicks counter.Ticks
	Freq     counter.Hz
	Scalar   uint64
}

// Keeper owns the published Params and the nominal frequency used before
// the clock has ever synced (readers must never fail, per the error
// handling design: they return K + ticks/f_nominal until the first sync).
type Keeper struct {
	params  atomic.Pointer[Params]
	nominal counter.Hz
	offset  bintime.Bintime
}

// New returns a Keeper that has not synced yet; Realtime().Now() will
// return the nominal-frequency approximation, offset by K (zero until
// SeedOffset is called), until Sync is first called.
func New(nominalFreq counter.Hz) *Keeper {
	return &Keeper{nominal: nominalFreq}
}

// Setup binds the keeper to the given counter's frequency as the nominal
// rate used before the first Sync.
func (k *Keeper) Setup(tc counter.Timecounter) {
	k.nominal = tc.Frequency()
}

// SeedOffset records K, the wall-clock offset the discipline algorithm
// samples at startup (radclock.Clock.Offset). Readers use it as the
// pre-sync fallback so Realtime().Now() never reports raw ticks/f_nominal
// from the counter epoch instead of an actual wall-clock estimate.
func (k *Keeper) SeedOffset(wall bintime.Bintime) {
	k.offset = wall
}

// Sync atomically publishes a new parameter block. Called only from the
// clock discipline algorithm's single writer goroutine on each accepted
// theta_hat.
func (k *Keeper) Sync(wall bintime.Bintime, refTicks counter.Ticks, freq counter.Hz) {
	k.params.Store(&Params{
		RefWall:  wall,
		RefTicks: refTicks,
		Freq:     freq,
		Scalar:   counter.Scalar(freq),
	})
}

// Synced reports whether Sync has ever been called.
func (k *Keeper) Synced() bool { return k.params.Load() != nil }

// Realtime returns a view of the keeper's disciplined wall-clock reader.
func (k *Keeper) Realtime() Realtime { return Realtime{k: k} }

// Monotime returns a view of the keeper's raw monotonic reader.
func (k *Keeper) Monotime() Monotime { return Monotime{k: k} }

// Realtime is a wait-free reader of the disciplined wall clock.
type Realtime struct{ k *Keeper }

// Now composes the active counter's current tick with the published
// parameters. Before the first Sync it falls back to K + ticks/f_nominal,
// K being the offset seeded via SeedOffset at startup — never an error,
// per the error handling design's "readers cannot fail."
func (r Realtime) Now() bintime.Bintime {
	ticks := counter.Now()
	p := r.k.params.Load()
	if p == nil {
		return r.k.offset.Add(bintime.FromTicksFreq(ticks, r.k.nominal))
	}
	delta := bintime.FromTicksFreq(ticks-p.RefTicks, p.Freq)
	return p.RefWall.Add(delta)
}

// Monotime is a wait-free reader of the raw, undisciplined monotonic
// clock (counter.Now() scaled by the active counter's nominal frequency).
type Monotime struct{ k *Keeper }

// Now returns ticks/frequency as a Bintime, ignoring any keeper offset.
func (m Monotime) Now() bintime.Bintime {
	return bintime.FromTicksFreq(counter.Now(), counter.Frequency())
}
