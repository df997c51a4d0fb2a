package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertTracksMinMax(t *testing.T) {
	d := New()
	for _, v := range []uint64{500, 100, 900, 300} {
		d.Insert(v)
	}
	require.Equal(t, uint64(100), d.Min())
	require.Equal(t, uint64(900), d.Max())
	require.Equal(t, 4, d.Size())
}

func TestResetClears(t *testing.T) {
	d := New()
	d.Insert(42)
	d.Reset()
	require.Equal(t, 0, d.Size())
	require.Equal(t, uint64(0), d.Min())
}

func TestQuantileMedian(t *testing.T) {
	d := New()
	for i := uint64(1); i <= 101; i++ {
		d.Insert(i * 1000)
	}
	med := d.Quantile(0.5)
	require.InDelta(t, 51000, med, 5000)
}

func TestFilterAboveDropsFloor(t *testing.T) {
	d := New()
	for _, v := range []uint64{100, 100, 200, 300, 1000} {
		d.Insert(v)
	}
	d.FilterAbove(200)
	require.GreaterOrEqual(t, d.Min(), uint64(200))
}
