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

// Package server implements the single-threaded event loop that owns
// one clock, one selected timecounter, and at most one NTP source, and
// answers the control protocol defined in tsapi.
package server

import (
	"math"
	"time"

	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/history"
)

// pollStages is how many exponential start-up poll intervals precede the
// steady-state 64s cadence.
const pollStages = 8

// pollPeriod implements period(i) = exp(ln(64)/8 * i) s for i < 8, else
// 64s — an exponential poll-interval ramp-up matching a fresh source's
// lack of clock history.
func pollPeriod(i int) time.Duration {
	if i >= pollStages {
		return 64 * time.Second
	}
	secs := math.Exp(math.Log(64) / float64(pollStages) * float64(i))
	return time.Duration(secs * float64(time.Second))
}

// PollClient is the exchange surface the server depends on, narrowed to
// allow a fake in tests.
type PollClient interface {
	Poll() error
	ReadReply() (history.Timestamp, error)
	Close() error
}

// source tracks one configured NTP association and its polling state.
type source struct {
	id         string
	node       string
	service    string
	pollLoopID string
	stratum    *uint8

	rxCount    uint64
	txCount    uint64
	lastTxTick counter.Ticks

	pollIndex int
	client    PollClient
}

func (s *source) nextDelay() time.Duration {
	d := pollPeriod(s.pollIndex)
	s.pollIndex++
	return d
}
