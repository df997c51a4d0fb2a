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

// Package clockdiscipline is the optional hardware steering sink: it
// reads the keeper's disciplined wall-clock estimate and steers a real
// clock (the system CLOCK_REALTIME or a PHC device) towards it with a
// PI servo, rather than leaving discipline purely in software.
//
// This is a second consumer of the keeper's published parameters next
// to the control protocol's get_keeper reply: the event-loop server
// reads the keeper to answer queries, the Steerer reads it to actuate
// clock_adjtime.
package clockdiscipline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/clock"
	"github.com/openperf/timesync/keeper"
	"github.com/openperf/timesync/servo"
)

// Steerer periodically samples the gap between a keeper's disciplined
// realtime and a system clock, and actuates the system clock's
// frequency (or steps it, for large offsets) via clock_adjtime.
type Steerer struct {
	clockid int32
	keeper  *keeper.Keeper
	pi      *servo.PiServo
	now     func() time.Time
	marked  bool
}

// New builds a Steerer for clockid (unix.CLOCK_REALTIME, or a PHC
// device's phc.Device.ClockID()), disciplined by k.
func New(clockid int32, k *keeper.Keeper, cfg *servo.PiServoCfg, filterCfg *servo.PiServoFilterCfg) *Steerer {
	base := servo.DefaultServoConfig()
	maxFreq, _, err := clock.MaxFreqPPB(clockid)
	if err != nil || maxFreq == 0 {
		maxFreq = 500000
	}

	pi := servo.NewPiServo(base, cfg, 0)
	pi.SetMaxFreq(maxFreq)
	if filterCfg != nil {
		servo.NewPiServoFilter(pi, filterCfg)
	}

	return &Steerer{clockid: clockid, keeper: k, pi: pi, now: time.Now}
}

// Run samples and actuates every interval until ctx is canceled.
func (s *Steerer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Step(); err != nil {
				log.WithError(err).Debug("clockdiscipline: steering step failed")
			}
		}
	}
}

// Step samples the current offset once and actuates the clock.
func (s *Steerer) Step() error {
	if !s.keeper.Synced() {
		return nil
	}
	s.markSyncedOnce()

	offset := s.offset()
	localTs := uint64(s.now().UnixNano())
	ppb, state := s.pi.Sample(offset.Nanoseconds(), localTs)

	if state == servo.StateJump {
		return clock.Step(s.clockid, -offset)
	}
	_, err := clock.AdjFreqPPB(s.clockid, ppb)
	return err
}

// markSyncedOnce clears the kernel's unsynchronized flag the first time
// the keeper reaches sync, so tools reading ntp_adjtime's STA_UNSYNC bit
// (e.g. `adjtimex`, chrony clients) see the system clock as disciplined.
// Only meaningful for the system realtime clock; a PHC clockid has no
// such status word, so errors here are logged and otherwise ignored.
func (s *Steerer) markSyncedOnce() {
	if s.marked || s.clockid != unix.CLOCK_REALTIME {
		return
	}
	s.marked = true
	if err := clock.SetSync(); err != nil {
		log.WithError(err).Debug("clockdiscipline: SetSync failed")
	}
}

// offset returns how far the system clock is from the keeper's
// disciplined estimate: positive means the system clock is ahead.
func (s *Steerer) offset() time.Duration {
	disciplined := s.keeper.Realtime().Now()
	actual := bintime.FromTimespec(s.now())
	return actual.Sub(disciplined).ToDuration()
}
