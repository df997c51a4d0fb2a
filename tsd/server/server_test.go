package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/openperf/timesync/history"
	"github.com/openperf/timesync/tsapi"
)

type fakeTimecounter struct {
	id   uuid.UUID
	name string
	tick uint64
}

func (f *fakeTimecounter) ID() uuid.UUID     { return f.id }
func (f *fakeTimecounter) Name() string      { return f.name }
func (f *fakeTimecounter) Now() uint64       { f.tick++; return f.tick }
func (f *fakeTimecounter) Frequency() uint64 { return 1_000_000_000 }
func (f *fakeTimecounter) StaticPriority() int { return 0 }

type fakeClient struct {
	closed  bool
	replies []history.Timestamp
	idx     int
}

func (c *fakeClient) Poll() error { return nil }
func (c *fakeClient) ReadReply() (history.Timestamp, error) {
	if c.idx >= len(c.replies) {
		return history.Timestamp{}, context.DeadlineExceeded
	}
	ts := c.replies[c.idx]
	c.idx++
	return ts, nil
}
func (c *fakeClient) Close() error { c.closed = true; return nil }

func newTestServer(t *testing.T) (*Server, *fakeClient) {
	tc := &fakeTimecounter{name: "fake"}
	fc := &fakeClient{}
	s := New(tc, 2, func(node, service string) (PollClient, error) {
		return fc, nil
	})
	return s, fc
}

func TestAddSourceThenListSources(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.handle(tsapi.AddSourceRequest("", tsapi.SourceConfig{Node: "ntp.example.com"}))
	require.Equal(t, tsapi.KindOK, reply.Kind)

	list := s.handle(tsapi.ListSourcesRequest(""))
	require.Equal(t, tsapi.KindSources, list.Kind)
	require.Len(t, list.Sources, 1)
	require.Equal(t, "ntp.example.com", list.Sources[0].Node)
	require.Equal(t, "ntp", list.Sources[0].Service)
}

func TestDelSourceUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.handle(tsapi.DelSourceRequest("nonexistent"))
	require.Equal(t, tsapi.KindError, reply.Kind)
	require.Equal(t, tsapi.ErrNotFound, reply.Error.Type)
}

func TestAddSourceReplacesExisting(t *testing.T) {
	s, fc1 := newTestServer(t)
	s.handle(tsapi.AddSourceRequest("a", tsapi.SourceConfig{Node: "one.example.com"}))

	fc2 := &fakeClient{}
	s.dial = func(node, service string) (PollClient, error) { return fc2, nil }
	s.handle(tsapi.AddSourceRequest("b", tsapi.SourceConfig{Node: "two.example.com"}))

	require.True(t, fc1.closed)
	require.Equal(t, "two.example.com", s.src.node)
}

func TestGetKeeperBeforeSync(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.handle(tsapi.GetKeeperRequest())
	require.Equal(t, tsapi.KindKeeperInfo, reply.Kind)
	require.False(t, reply.Keeper.Synced)
}

func TestListCountersUnknownIDReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.handle(tsapi.ListCountersRequest("does-not-exist"))
	require.Equal(t, tsapi.KindError, reply.Kind)
}

func TestAddSourceDialFailureSurfacesErrno(t *testing.T) {
	s, _ := newTestServer(t)
	s.dial = func(node, service string) (PollClient, error) {
		return nil, &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	reply := s.handle(tsapi.AddSourceRequest("", tsapi.SourceConfig{Node: "unreachable.example.com"}))
	require.Equal(t, tsapi.KindError, reply.Kind)
	require.Equal(t, tsapi.ErrEAI, reply.Error.Type)
	require.Equal(t, int(syscall.ECONNREFUSED), reply.Error.Code)
}

func TestDialErrnoFromDNSError(t *testing.T) {
	require.Equal(t, int(unix.EAI_NONAME), dialErrno(&net.DNSError{Err: "no such host", IsNotFound: true}))
	require.Equal(t, int(unix.EAI_AGAIN), dialErrno(&net.DNSError{Err: "timeout", IsTimeout: true}))
	require.Equal(t, 0, dialErrno(fmt.Errorf("opaque failure")))
}

func TestRunRespondsToControlAndCancels(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	reply := s.Control(tsapi.GetKeeperRequest())
	require.Equal(t, tsapi.KindKeeperInfo, reply.Kind)

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
