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
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/openperf/timesync/tsapi"
)

// ControlListener accepts tsctl connections and serializes each request
// onto s's event loop via Control.
type ControlListener struct {
	ln net.Listener
	s  *Server
}

// ListenControl binds the control socket at addr. Serve must be called
// to start accepting connections.
func ListenControl(addr string, s *Server) (*ControlListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ControlListener{ln: ln, s: s}, nil
}

// Close stops accepting new connections.
func (c *ControlListener) Close() error { return c.ln.Close() }

// Serve accepts connections until ctx is canceled, handling one request
// per connection.
func (c *ControlListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.ln.Close()
	}()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go c.handleConn(conn)
	}
}

func (c *ControlListener) handleConn(conn net.Conn) {
	defer conn.Close()
	req, err := tsapi.ReadRequest(conn)
	if err != nil {
		log.WithError(err).Debug("tsctl control: read request failed")
		return
	}
	reply := c.s.Control(req)
	if err := tsapi.WriteReply(conn, reply); err != nil {
		log.WithError(err).Debug("tsctl control: write reply failed")
	}
}
