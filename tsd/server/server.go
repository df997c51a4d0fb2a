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
	"errors"
	"net"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/keeper"
	"github.com/openperf/timesync/radclock"
	"github.com/openperf/timesync/tsapi"
)

// dialFunc opens a PollClient to node:service; overridden in tests.
type dialFunc func(node, service string) (PollClient, error)

// Server owns one clock, one selected timecounter, and at most one NTP
// source. All mutation happens on the single event-loop goroutine
// started by Run; Control may be called from any goroutine and is
// itself serialized onto that loop via a command channel.
type Server struct {
	keeper  *keeper.Keeper
	clock   *radclock.Clock
	counter counter.Timecounter
	dial    dialFunc

	stratum uint8

	src *source

	cmds chan command
}

type command struct {
	req   tsapi.Request
	reply chan tsapi.Reply
}

// New constructs a Server bound to the already-selected timecounter tc.
// dial is the function used to open NTP client sockets for add_source;
// pass exchange.Dial in production.
func New(tc counter.Timecounter, stratum uint8, dial func(node, service string) (PollClient, error)) *Server {
	k := keeper.New(tc.Frequency())
	k.Setup(tc)
	s := &Server{
		keeper:  k,
		counter: tc,
		stratum: stratum,
		dial:    dial,
		cmds:    make(chan command, 8),
	}
	s.clock = radclock.New(radclock.DefaultConfig(), tc.Frequency(), k.Sync)
	k.SeedOffset(s.clock.Offset())
	return s
}

// Keeper exposes the server's keeper for callers (e.g. the daemon's
// realtime accessor) that need read access outside the event loop.
func (s *Server) Keeper() *keeper.Keeper { return s.keeper }

// Control enqueues req onto the event loop and blocks for its reply.
// Safe to call from any goroutine.
func (s *Server) Control(req tsapi.Request) tsapi.Reply {
	reply := make(chan tsapi.Reply, 1)
	s.cmds <- command{req: req, reply: reply}
	return <-reply
}

func (s *Server) handle(req tsapi.Request) tsapi.Reply {
	switch req.Kind {
	case tsapi.KindListCounters:
		return s.handleListCounters(req)
	case tsapi.KindGetKeeper:
		return s.handleGetKeeper()
	case tsapi.KindListSources:
		return s.handleListSources(req)
	case tsapi.KindAddSource:
		return s.handleAddSource(req)
	case tsapi.KindDelSource:
		return s.handleDelSource(req)
	default:
		return tsapi.ErrorReply(tsapi.ErrCustom, 0)
	}
}

func (s *Server) handleListCounters(req tsapi.Request) tsapi.Reply {
	var out []tsapi.CounterInfo
	for _, c := range counter.Registered() {
		id := c.ID().String()
		if req.ID != "" && req.ID != id {
			continue
		}
		out = append(out, tsapi.CounterInfo{
			ID:       id,
			Name:     c.Name(),
			Priority: c.StaticPriority(),
			Active:   c.Name() == s.counter.Name(),
		})
	}
	if req.ID != "" && len(out) == 0 {
		return tsapi.ErrorReply(tsapi.ErrNotFound, 0)
	}
	return tsapi.Reply{Kind: tsapi.KindCounters, Counters: out}
}

func (s *Server) handleGetKeeper() tsapi.Reply {
	freq, _, _ := s.clock.Frequency()
	if freq == 0 {
		freq = float64(s.counter.Frequency())
	}
	now := s.keeper.Realtime().Now()
	return tsapi.Reply{
		Kind: tsapi.KindKeeperInfo,
		Keeper: &tsapi.KeeperInfo{
			RefWallSec:  now.Sec,
			RefWallFrac: now.Frac,
			RefTicks:    counter.Now(),
			FreqHz:      freq,
			Synced:      s.clock.Synced(),
		},
	}
}

func (s *Server) handleListSources(req tsapi.Request) tsapi.Reply {
	if s.src == nil {
		if req.ID != "" {
			return tsapi.ErrorReply(tsapi.ErrNotFound, 0)
		}
		return tsapi.Reply{Kind: tsapi.KindSources}
	}
	if req.ID != "" && req.ID != s.src.id {
		return tsapi.ErrorReply(tsapi.ErrNotFound, 0)
	}
	return tsapi.Reply{Kind: tsapi.KindSources, Sources: []tsapi.SourceInfo{s.src.info()}}
}

// dialErrno unwraps a dial error down to a real OS or getaddrinfo errno,
// mirroring how clock.Adjtime surfaces the raw CLOCK_ADJTIME errno
// instead of a bare boolean failure. Returns 0 if err carries neither.
func dialErrno(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return int(unix.EAI_NONAME)
		case dnsErr.IsTimeout:
			return int(unix.EAI_AGAIN)
		default:
			return int(unix.EAI_FAIL)
		}
	}
	return 0
}

func (s *Server) handleAddSource(req tsapi.Request) tsapi.Reply {
	if req.Source == nil {
		return tsapi.ErrorReply(tsapi.ErrCustom, 0)
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	service := req.Source.Service
	if service == "" {
		service = "ntp"
	}

	if s.src != nil {
		s.src.client.Close()
		s.src = nil
	}

	client, err := s.dial(req.Source.Node, service)
	if err != nil {
		log.WithError(err).WithField("node", req.Source.Node).Warn("server: add_source dial failed")
		return tsapi.ErrorReply(tsapi.ErrEAI, dialErrno(err))
	}

	s.clock.Reset()
	s.src = &source{
		id:      id,
		node:    req.Source.Node,
		service: service,
		client:  client,
	}
	return tsapi.OKReply()
}

func (s *Server) handleDelSource(req tsapi.Request) tsapi.Reply {
	if s.src == nil || (req.ID != "" && req.ID != s.src.id) {
		return tsapi.ErrorReply(tsapi.ErrNotFound, 0)
	}
	if err := s.src.client.Close(); err != nil {
		log.WithError(err).Debug("server: del_source close failed")
	}
	s.src = nil
	return tsapi.OKReply()
}

func (s *source) info() tsapi.SourceInfo {
	return tsapi.SourceInfo{
		ID:         s.id,
		Node:       s.node,
		Service:    s.service,
		PollLoopID: s.pollLoopID,
		RXCount:    s.rxCount,
		TXCount:    s.txCount,
		LastTxTick: s.lastTxTick,
		Stratum:    s.stratum,
	}
}
