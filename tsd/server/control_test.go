package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openperf/timesync/tsapi"
)

func TestControlListenerRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ctl, err := ListenControl("127.0.0.1:0", s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	go ctl.Serve(ctx)

	addr := ctl.ln.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, tsapi.WriteRequest(conn, tsapi.GetKeeperRequest()))
	reply, err := tsapi.ReadReply(conn)
	require.NoError(t, err)
	require.Equal(t, tsapi.KindKeeperInfo, reply.Kind)
}
