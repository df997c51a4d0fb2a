package keeper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/counter"
)

// mockPriority goes down with every newDeterministicCounter call: the
// counter registry persists across tests, so each new mock needs a lower
// priority than every earlier one to win counter.Select.
var mockPriority = 0

// newDeterministicCounter builds a counter.MockTimecounter that reports a
// fixed tick/frequency pair, the deterministic tick source these tests
// need instead of a hand-rolled struct.
func newDeterministicCounter(t *testing.T, ticks counter.Ticks, freq counter.Hz) *counter.MockTimecounter {
	t.Helper()
	mockPriority--
	ctrl := gomock.NewController(t)
	mc := counter.NewMockTimecounter(ctrl)
	mc.EXPECT().ID().Return(uuid.New()).AnyTimes()
	mc.EXPECT().Name().Return("mock").AnyTimes()
	mc.EXPECT().Now().Return(ticks).AnyTimes()
	mc.EXPECT().Frequency().Return(freq).AnyTimes()
	mc.EXPECT().StaticPriority().Return(mockPriority).AnyTimes()
	return mc
}

func TestRealtimeBeforeSyncUsesNominal(t *testing.T) {
	fc := newDeterministicCounter(t, 2_000_000_000, 1_000_000_000)
	counter.Register(fc)
	_, err := counter.Select()
	require.NoError(t, err)

	k := New(fc.Frequency())
	now := k.Realtime().Now()
	require.Equal(t, int64(2), now.Sec)
	require.False(t, k.Synced())
}

func TestRealtimeBeforeSyncUsesSeededOffset(t *testing.T) {
	fc := newDeterministicCounter(t, 2_000_000_000, 1_000_000_000)
	counter.Register(fc)
	_, err := counter.Select()
	require.NoError(t, err)

	k := New(fc.Frequency())
	k.SeedOffset(bintime.Bintime{Sec: 100, Frac: 0})
	require.False(t, k.Synced())

	now := k.Realtime().Now()
	require.Equal(t, int64(102), now.Sec)
}

func TestRealtimeAfterSync(t *testing.T) {
	fc := newDeterministicCounter(t, 1_000_000_000, 1_000_000_000)
	counter.Register(fc)
	_, err := counter.Select()
	require.NoError(t, err)

	k := New(fc.Frequency())
	wall := bintime.Bintime{Sec: 1700000000, Frac: 0}
	k.Sync(wall, 500_000_000, 1_000_000_000)
	require.True(t, k.Synced())

	now := k.Realtime().Now()
	want := wall.Add(bintime.FromTicksFreq(500_000_000, 1_000_000_000))
	require.Equal(t, want, now)
}
