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

package server

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openperf/timesync/counter"
)

// firstPollDelay is how soon after add_source the first request fires.
const firstPollDelay = 100 * time.Nanosecond

// Run drives the single-threaded event loop: it answers control
// commands and, once a source exists, fires NTP polls on the
// exponential-then-steady-state schedule. Returns when ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	timer := time.NewTimer(firstPollDelay)
	if s.src == nil {
		if !timer.Stop() {
			<-timer.C
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.cmds:
			wasArmed := s.src != nil
			cmd.reply <- s.handle(cmd.req)
			if !wasArmed && s.src != nil {
				timer.Reset(firstPollDelay)
			}
			if wasArmed && s.src == nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
		case <-timer.C:
			if s.src == nil {
				continue
			}
			s.poll()
			timer.Reset(s.src.nextDelay())
		}
	}
}

func (s *Server) poll() {
	src := s.src
	if src == nil {
		return
	}
	if err := src.client.Poll(); err != nil {
		log.WithError(err).WithField("source", src.id).Debug("server: poll request failed")
		return
	}
	src.txCount++
	src.lastTxTick = counter.Now()

	ts, err := src.client.ReadReply()
	if err != nil {
		log.WithError(err).WithField("source", src.id).Debug("server: poll reply failed")
		return
	}
	src.rxCount++

	if err := s.clock.Update(ts); err != nil {
		log.WithError(err).WithField("source", src.id).Debug("server: clock update rejected")
	}
}
