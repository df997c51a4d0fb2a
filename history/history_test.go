package history

import (
	"testing"

	"github.com/openperf/timesync/bintime"
	"github.com/stretchr/testify/require"
)

func sample(taSec int64, tbSec int64, teFracTop uint32, tfDelta uint64) Timestamp {
	ta := uint64(taSec) * 1_000_000_000
	tb := bintime.Bintime{Sec: tbSec, Frac: 0}
	te := tb.Add(bintime.Bintime{Sec: 0, Frac: uint64(teFracTop) << 32})
	return Timestamp{Ta: ta, Tb: tb, Te: te, Tf: ta + tfDelta}
}

func TestEmptyReset(t *testing.T) {
	h := New()
	require.True(t, h.Empty())
	require.Equal(t, 0, h.Size())
}

func TestInsertOneSample(t *testing.T) {
	h := New()
	ts := sample(100, 1, 1, 100)
	require.NoError(t, h.Insert(ts, 0))
	require.Equal(t, 1, h.Size())
	require.True(t, h.Contains(ts))
}

func TestInsertDuplicateRejected(t *testing.T) {
	h := New()
	ts := sample(100, 1, 1, 100)
	require.NoError(t, h.Insert(ts, 0))
	err := h.Insert(ts, 0)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, 1, h.Size())
}

func TestTwoSamplesOneSecondApart(t *testing.T) {
	h := New()
	a := sample(100, 1, 1, 100)
	b := sample(200, 2, 1, 100)
	require.NoError(t, h.Insert(a, 0))
	require.NoError(t, h.Insert(b, 0))
	require.Equal(t, bintime.Bintime{Sec: 1, Frac: 0}, h.Duration())
}

func TestInsertRejectsOutOfDomain(t *testing.T) {
	h := New()
	ts := sample(100, 1, 1, 100)
	ts.Tf = ts.Ta // Tf must be > Ta
	err := h.Insert(ts, 0)
	require.ErrorIs(t, err, ErrOutOfDomain)
}

func TestPrune(t *testing.T) {
	h := New()
	require.NoError(t, h.Insert(sample(100, 1, 1, 100), 0))
	require.NoError(t, h.Insert(sample(200, 2, 1, 100), 0))
	require.NoError(t, h.Insert(sample(300, 3, 1, 100), 0))
	h.Prune(2)
	require.Equal(t, 2, h.Size())
}

func TestApplyRange(t *testing.T) {
	h := New()
	require.NoError(t, h.Insert(sample(100, 1, 1, 100), 0))
	require.NoError(t, h.Insert(sample(200, 2, 1, 100), 0))
	require.NoError(t, h.Insert(sample(300, 3, 1, 100), 0))

	lo := h.LowerBound(2)
	hi := h.UpperBound(3)
	var seen []int64
	h.Apply(lo, hi, func(ts Timestamp, _ uint64) {
		seen = append(seen, ts.Tb.Sec)
	})
	require.Equal(t, []int64{2, 3}, seen)
}
