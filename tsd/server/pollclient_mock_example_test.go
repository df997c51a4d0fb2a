package server

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/openperf/timesync/history"
	"github.com/openperf/timesync/tsapi"
)

func TestAddSourceWithGeneratedMockClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockPollClient(ctrl)
	mock.EXPECT().Poll().Return(nil)
	mock.EXPECT().ReadReply().Return(history.Timestamp{Ta: 1, Tf: 2}, nil)

	tc := &fakeTimecounter{name: "fake"}
	s := New(tc, 2, func(node, service string) (PollClient, error) {
		return mock, nil
	})

	reply := s.handle(tsapi.AddSourceRequest("", tsapi.SourceConfig{Node: "ntp.example.com"}))
	require.Equal(t, tsapi.KindOK, reply.Kind)

	s.poll()
	require.Equal(t, uint64(1), s.src.txCount)
	require.Equal(t, uint64(1), s.src.rxCount)
}
