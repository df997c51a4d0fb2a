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

// Package exchange drives one NTPv4 client<->server UDP round trip,
// stamping Ta/Tf from the active timecounter and producing the
// (Ta,Tb,Te,Tf) tuple the clock discipline algorithm consumes.
package exchange

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/dscp"
	"github.com/openperf/timesync/history"
	"github.com/openperf/timesync/ntp/wire"
	"github.com/openperf/timesync/timestamp"
)

// Port is the standard NTP UDP port.
const Port = 123

// defaultDSCP marks outgoing NTP requests the same way the rest of the
// timing stack marks its traffic.
const defaultDSCP = 46 // EF

// Client holds one outgoing NTP association's UDP socket.
type Client struct {
	conn   *net.UDPConn
	fd     int
	lastTx counter.Ticks
}

// Dial resolves node:service and opens a UDP socket to it, DSCP-marking
// outgoing traffic.
func Dial(node, service string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(node, service))
	if err != nil {
		return nil, fmt.Errorf("exchange: resolve %s:%s: %w", node, service, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("exchange: dial: %w", err)
	}
	fd, err := timestamp.ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// ReadReply reads the raw descriptor with recvmsg, which waits for a
	// datagram only on a blocking descriptor.
	if err := unix.SetNonblock(fd, false); err != nil {
		conn.Close()
		return nil, err
	}
	if laddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		if err := dscp.Enable(fd, laddr.IP, defaultDSCP); err != nil {
			log.WithError(err).Debug("exchange: DSCP marking unavailable")
		}
	}
	return &Client{conn: conn, fd: fd}, nil
}

// Close releases the socket.
func (c *Client) Close() error { return c.conn.Close() }

// Poll sends one NTPv4 client request, recording Ta from the active
// timecounter at send time.
func (c *Client) Poll() error {
	req := wire.Packet{
		Leap:      wire.LeapUnknown,
		Mode:      wire.ModeClient,
		Stratum:   0,
		Poll:      4,
		Precision: -6,
	}
	b := req.Bytes()
	c.lastTx = counter.Now()
	_, err := c.conn.Write(b[:])
	return err
}

// ReadReply blocks for one reply datagram and returns the completed
// (Ta,Tb,Te,Tf) exchange. Ta is the tick recorded by the preceding Poll;
// Tf is the kernel (or, failing that, userspace) RX timestamp converted
// to ticks via the active counter's nominal rate.
func (c *Client) ReadReply() (history.Timestamp, error) {
	buf, _, rxTime, err := timestamp.ReadPacketWithRXTimestamp(c.fd)
	if err != nil && len(buf) == 0 {
		return history.Timestamp{}, err
	}
	if err != nil {
		// the datagram arrived without a kernel RX timestamp
		rxTime = time.Now()
	}
	p, err := wire.ParsePacket(buf)
	if err != nil {
		return history.Timestamp{}, err
	}
	// Back-date the counter's current tick by the datagram's age.
	age := time.Since(rxTime)
	if age < 0 {
		age = 0
	}
	tf := counter.Now() - counter.Ticks(age.Seconds()*float64(counter.Frequency()))
	return history.Timestamp{
		Ta: c.lastTx,
		Tb: p.Receive,
		Te: p.Transmit,
		Tf: tf,
	}, nil
}
