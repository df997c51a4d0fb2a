package clockdiscipline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/keeper"
	"github.com/openperf/timesync/servo"
)

func TestStepNoopBeforeSync(t *testing.T) {
	k := keeper.New(1_000_000_000)
	s := New(0, k, servo.DefaultPiServoCfg(), nil)
	require.NoError(t, s.Step())
}

func TestOffsetReflectsKeeperSync(t *testing.T) {
	// Realtime().Now() reads the active counter, so one must be selected,
	// and the sync reference must be the counter's current tick.
	_, err := counter.Select()
	require.NoError(t, err)
	k := keeper.New(1_000_000_000)
	now := time.Now()
	k.Sync(bintime.FromTimespec(now), counter.Now(), 1_000_000_000)

	s := New(0, k, servo.DefaultPiServoCfg(), nil)
	s.now = func() time.Time { return now }

	require.InDelta(t, 0, float64(s.offset()), float64(time.Millisecond))
}

func TestMarkSyncedOnceSkipsNonRealtimeClockID(t *testing.T) {
	// A PHC clockid is never unix.CLOCK_REALTIME (0), so markSyncedOnce
	// must not attempt clock.SetSync() against it.
	const phcClockID = int32(-7)
	k := keeper.New(1_000_000_000)
	k.Sync(bintime.FromTimespec(time.Now()), 0, 1_000_000_000)

	s := New(phcClockID, k, servo.DefaultPiServoCfg(), nil)
	s.markSyncedOnce()
	require.False(t, s.marked)
}
