package tsapi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := AddSourceRequest("", SourceConfig{Node: "ntp.example.com"})
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, KindAddSource, got.Kind)
	require.Equal(t, "ntp", got.Source.Service)
	require.Equal(t, "ntp.example.com", got.Source.Node)
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reply := ErrorReply(ErrNotFound, 2)
	require.NoError(t, WriteReply(&buf, reply))

	got, err := ReadReply(&buf)
	require.NoError(t, err)
	require.Equal(t, KindError, got.Kind)
	require.Equal(t, ErrNotFound, got.Error.Type)
	require.Equal(t, 2, got.Error.Code)
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0x7F, 0xFF, 0xFF, 0xFF}
	buf.Write(hdr)
	var req Request
	err := readFrame(&buf, &req)
	require.Error(t, err)
}

func TestMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, ListCountersRequest("")))
	require.NoError(t, WriteRequest(&buf, GetKeeperRequest()))

	first, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, KindListCounters, first.Kind)

	second, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, KindGetKeeper, second.Kind)
}
