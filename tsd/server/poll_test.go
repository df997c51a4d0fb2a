package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openperf/timesync/history"
	"github.com/openperf/timesync/tsapi"
)

func TestPollCountsExchange(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.handle(tsapi.AddSourceRequest("", tsapi.SourceConfig{Node: "ntp.example.com"}))
	require.Equal(t, tsapi.KindOK, reply.Kind)
	require.NotNil(t, s.src)

	fc := s.src.client.(*fakeClient)
	fc.replies = []history.Timestamp{{Ta: 1, Tf: 2}}

	s.poll()
	require.Equal(t, uint64(1), s.src.txCount)
	require.Equal(t, uint64(1), s.src.rxCount)
}

func TestPollNoopWithoutSource(t *testing.T) {
	s, _ := newTestServer(t)
	s.poll() // must not panic with no source configured
}
