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

package exchange

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/leapsectz"
	"github.com/openperf/timesync/ntp/wire"
)

// leapWindow is how far ahead of an announced leap second the server
// starts advertising LeapInsert/LeapDelete in its replies.
const leapWindow = 24 * time.Hour

// Server answers NTPv4 client requests on a UDP socket, stamping Receive
// and Transmit from realNow at the appropriate points and deriving the
// leap indicator from the system leap-second table.
type Server struct {
	conn     *net.UDPConn
	realNow  func() time.Time
	stratum  uint8
	leapSecs []leapsectz.LeapSecond
}

// NewServer binds a UDP listener on addr:service and loads the system
// leap-second table (best effort; an unreadable table just means no leap
// indicator is ever announced).
func NewServer(addr, service string, stratum uint8, realNow func() time.Time) (*Server, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, service))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	leaps, err := leapsectz.Parse()
	if err != nil {
		log.WithError(err).Debug("exchange: no leap second table available")
	}
	return &Server{conn: conn, realNow: realNow, stratum: stratum, leapSecs: leaps}, nil
}

// Close releases the listening socket.
func (s *Server) Close() error { return s.conn.Close() }

// Serve blocks, answering requests until ctx is canceled or the socket
// errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	buf := make([]byte, wire.PacketSizeBytes+16)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		receive := s.realNow()
		req, err := wire.ParsePacket(buf[:n])
		if err != nil {
			continue
		}
		reply := wire.Packet{
			Leap:      s.leapIndicator(receive),
			Mode:      wire.ModeServer,
			Stratum:   s.stratum,
			Poll:      req.Poll,
			Precision: -20,
			Origin:    req.Transmit,
			Receive:   bintime.FromTimespec(receive),
			Transmit:  bintime.FromTimespec(s.realNow()),
		}
		b := reply.Bytes()
		if _, err := s.conn.WriteToUDP(b[:], raddr); err != nil {
			log.WithError(err).Warn("exchange: reply write failed")
		}
	}
}

func (s *Server) leapIndicator(now time.Time) wire.LeapStatus {
	for _, l := range s.leapSecs {
		until := l.Time().Sub(now)
		if until > 0 && until <= leapWindow {
			if l.Nleap > 0 {
				return wire.LeapInsert
			}
			return wire.LeapDelete
		}
	}
	return wire.LeapNone
}
