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

// Package radclock implements the clock discipline algorithm: given a
// stream of (Ta,Tb,Te,Tf) NTP exchanges, it estimates the absolute tick
// frequency f_hat, a short-horizon local frequency f_local, and the
// offset theta_hat, following Veitch's RADclock design.
package radclock

import (
	"errors"
	"math"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/openperf/timesync/bintime"
	"github.com/openperf/timesync/counter"
	"github.com/openperf/timesync/digest"
	"github.com/openperf/timesync/history"
)

// ErrDuplicate is returned by Update when the sample has already been
// recorded.
var ErrDuplicate = history.ErrDuplicate

// ErrOutOfDomain is returned by Update when the sample violates history's
// structural invariants.
var ErrOutOfDomain = history.ErrOutOfDomain

// Config holds the discipline algorithm's tunable constants. Defaults
// match RADclock's published parameters exactly.
type Config struct {
	TauStar           time.Duration
	TauLocal          time.Duration
	TauLocalWindowMax time.Duration
	MaxHistory        time.Duration
	NoisePPM          float64
	FLocalLimitPPM    float64
	FHatLimitPPM      float64
	ThetaLimitPPM     float64
}

// DefaultConfig returns the algorithm's default constants.
func DefaultConfig() Config {
	return Config{
		TauStar:           1200 * time.Second,
		TauLocal:          3600 * time.Second,
		TauLocalWindowMax: 300 * time.Second,
		MaxHistory:        2 * 3600 * time.Second,
		NoisePPM:          15,
		FLocalLimitPPM:    0.05,
		FHatLimitPPM:      0.03,
		ThetaLimitPPM:     0.01,
	}
}

// SyncFunc is the keeper.Sync-shaped callback invoked on every accepted
// theta_hat.
type SyncFunc func(wall bintime.Bintime, refTicks counter.Ticks, freq counter.Hz)

type paramState struct {
	current      float64
	errVal       float64
	lastUpdate   counter.Ticks
	hasValue     bool
}

// Clock is the RADclock discipline algorithm. It is not safe for
// concurrent use: the concurrency model confines all calls to a single
// event-loop goroutine.
type Clock struct {
	cfg Config

	nominalFreq counter.Hz
	sync        SyncFunc

	hist   *history.History
	rtts   *digest.Digest
	stats  *welford.Stats

	fHat     paramState
	fLocal   paramState
	thetaHat paramState

	fHatAccept, fHatReject         int
	fLocalAccept, fLocalReject     int
	thetaHatAccept, thetaHatReject int
	updates                        int

	k bintime.Bintime

	ticksFn func() counter.Ticks
	wallFn  func() time.Time
}

// Option configures a Clock at construction time.
type Option func(*Clock)

// WithTickSource overrides the tick reader used for initialization
// (defaults to counter.Now). Exposed for deterministic tests.
func WithTickSource(f func() counter.Ticks) Option {
	return func(c *Clock) { c.ticksFn = f }
}

// WithWallSource overrides the wall-clock reader used for initialization
// (defaults to time.Now). Exposed for deterministic tests.
func WithWallSource(f func() time.Time) Option {
	return func(c *Clock) { c.wallFn = f }
}

// New constructs a Clock against nominalFreq (the selected timecounter's
// frequency) and a callback invoked on every accepted offset estimate.
func New(cfg Config, nominalFreq counter.Hz, sync SyncFunc, opts ...Option) *Clock {
	c := &Clock{
		cfg:         cfg,
		nominalFreq: nominalFreq,
		sync:        sync,
		ticksFn:     counter.Now,
		wallFn:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.Reset()
	return c
}

// Reset clears history, parameter state and stats, and recomputes K via
// the interpolated host-offset sample.
func (c *Clock) Reset() {
	c.hist = history.New()
	c.rtts = digest.New()
	c.stats = welford.New()
	c.fHat = paramState{}
	c.fLocal = paramState{}
	c.thetaHat = paramState{}
	c.fHatAccept, c.fHatReject = 0, 0
	c.fLocalAccept, c.fLocalReject = 0, 0
	c.thetaHatAccept, c.thetaHatReject = 0, 0
	c.updates = 0
	c.k = sampleHostOffset(c.ticksFn, c.wallFn, c.nominalFreq)
}

// sampleHostOffset computes K = wall - ticks/freq using an interpolated
// (ticks, wall, ticks) triple, retrying with an escalating delta budget
// until the bracketing tick delta is small enough that the interpolation
// error is bounded.
func sampleHostOffset(ticksFn func() counter.Ticks, wallFn func() time.Time, freq counter.Hz) bintime.Bintime {
	if freq == 0 {
		return bintime.Zero
	}
	limit := freq / 1_000_000 // start at ~1us of ticks
	if limit == 0 {
		limit = 1
	}
	for try := 0; try < 1000; try++ {
		t1 := ticksFn()
		w := wallFn()
		t2 := ticksFn()
		b := t2 - t1
		if b <= limit {
			mid := t1 + b/2
			wallBt := bintime.FromTimespec(w)
			ticksBt := bintime.FromTicksFreq(mid, freq)
			return wallBt.Sub(ticksBt)
		}
		limit += limit / 100
	}
	// Give up after many retries; this mirrors a Fatal-class condition
	// at init in the error taxonomy, but we never want New() to panic —
	// last best-effort sample.
	t1 := ticksFn()
	w := wallFn()
	return bintime.FromTimespec(w).Sub(bintime.FromTicksFreq(t1, freq))
}

// thresholdPPM implements threshold_ppm(n) = max(limit, 10/(1+(n-4)^2))
// for n>4, else the constant 10 for n<=4, which is preserved as-is
// rather than smoothed into the n>4 formula.
func thresholdPPM(n int, limit float64) float64 {
	if n <= 4 {
		return 10
	}
	d := float64(n - 4)
	v := 10 / (1 + d*d)
	if v < limit {
		return limit
	}
	return v
}

func calculateUncorrectedTime(k bintime.Bintime, ticks counter.Ticks, freq counter.Hz) bintime.Bintime {
	return bintime.FromTicksFreq(ticks, freq).Add(k)
}

func calculateAbsoluteTime(theta, k bintime.Bintime, ticks counter.Ticks, freq counter.Hz) bintime.Bintime {
	return calculateUncorrectedTime(k, ticks, freq).Sub(theta)
}

// calculateTheta implements clock.cpp's calculate_theta: the midpoint of
// the corrected local send/receive times, minus the midpoint of the
// remote receive/transmit times.
func calculateTheta(ts history.Timestamp, k bintime.Bintime, freq counter.Hz) bintime.Bintime {
	cuTa := calculateUncorrectedTime(k, ts.Ta, freq)
	cuTf := calculateUncorrectedTime(k, ts.Tf, freq)
	local := cuTa.Add(cuTf).Rsh(1)
	remote := ts.Tb.Add(ts.Te).Rsh(1)
	return local.Sub(remote)
}

func calculateTickError(errTicks float64, deltaTicks float64) float64 {
	if deltaTicks == 0 {
		return 0
	}
	return errTicks * 1e9 / deltaTicks
}

// Update feeds one NTP exchange into the algorithm: records the RTT,
// (re)estimates f_hat and f_local, inserts into history, runs level-shift
// detection, then offset synchronization, publishing via Sync on accept.
func (c *Clock) Update(ts history.Timestamp) error {
	rtt := ts.RTT()
	c.rtts.Insert(rtt)

	c.doRateEstimation(ts)
	c.doLocalRateEstimation(ts)

	fLocalForStorage := counter.Hz(0)
	if c.fLocal.hasValue {
		fLocalForStorage = counter.Hz(c.fLocal.current)
	}
	if err := c.hist.Insert(ts, fLocalForStorage); err != nil {
		if errors.Is(err, history.ErrDuplicate) {
			log.Debug("radclock: duplicate sample rejected")
		}
		return err
	}
	c.hist.Prune(nowSec(ts) - int64(c.cfg.MaxHistory.Seconds()))

	c.updates++

	if c.fHat.hasValue {
		c.doOffsetSync(ts)
	}
	return nil
}

func nowSec(ts history.Timestamp) int64 { return ts.Tb.Sec }

func (c *Clock) rangeTimestamps(loSec, hiSec int64) []history.Timestamp {
	lo := c.hist.LowerBound(loSec)
	hi := c.hist.UpperBound(hiSec)
	out := make([]history.Timestamp, 0, hi-lo)
	for i := lo; i < hi; i++ {
		t, _ := c.hist.At(i)
		out = append(out, t)
	}
	return out
}

// doRateEstimation implements the absolute-frequency estimate: find two low-RTT
// samples spanning the max_history window and recompute f_hat.
func (c *Clock) doRateEstimation(ts history.Timestamp) {
	threshold := c.rtts.Quantile(0.5)
	now := ts.Tb.Sec
	from := now - int64(c.cfg.MaxHistory.Seconds())
	candidates := c.rangeTimestamps(from, now)
	candidates = append(candidates, ts)

	below := make([]history.Timestamp, 0, len(candidates))
	for _, cand := range candidates {
		if cand.RTT() <= threshold || threshold == 0 {
			below = append(below, cand)
		}
	}
	if len(below) < 2 {
		return
	}
	j := below[len(below)-1] // latest Tf
	i := below[0]            // oldest with low RTT, distinct from j
	if i.Tf == j.Tf && len(below) > 2 {
		i = below[1]
	}
	if i.Tf == j.Tf {
		return
	}

	minRTT := i.RTT()
	if j.RTT() < minRTT {
		minRTT = j.RTT()
	}
	fCandidate, errPPB := calculateTickFreq(i, j, minRTT)
	if fCandidate <= 0 || math.IsNaN(fCandidate) {
		return
	}

	n := c.fHatAccept
	dtSeconds := ts.Tb.Sub(i.Tb).ToFloat()
	if dtSeconds < 0 {
		dtSeconds = -dtSeconds
	}
	accept := true
	if c.fHat.hasValue {
		deltaPPM := math.Abs(fCandidate-c.fHat.current) / c.fHat.current * 1e6
		accept = deltaPPM <= thresholdPPM(n, c.cfg.FHatLimitPPM)*dtSeconds
	}
	if accept {
		c.fHat = paramState{current: fCandidate, errVal: errPPB, lastUpdate: ts.Tf, hasValue: true}
		c.fHatAccept++
	} else {
		c.fHatReject++
	}
}

// calculateTickFreq mirrors clock.cpp's calculate_tick_freq.
func calculateTickFreq(i, j history.Timestamp, minRTT uint64) (freq float64, errPPB float64) {
	dTa := float64(i.Ta) - float64(j.Ta)
	dTb := i.Tb.Sub(j.Tb).ToFloat()
	dTf := float64(i.Tf) - float64(j.Tf)
	dTe := i.Te.Sub(j.Te).ToFloat()
	if dTb == 0 || dTe == 0 {
		return 0, 0
	}
	freqUp := dTa / dTb
	freqDown := dTf / dTe
	eI := float64(i.RTT() - minRTT)
	eJ := float64(j.RTT() - minRTT)
	eUp := calculateTickError(eI+eJ, dTa)
	eDown := calculateTickError(eI+eJ, dTf)
	return (freqUp + freqDown) / 2, (eUp + eDown) / 2
}

// doLocalRateEstimation implements the local-frequency estimate: only runs once
// the total history span reaches tau_local.
func (c *Clock) doLocalRateEstimation(ts history.Timestamp) {
	if c.hist.Duration().ToFloat() < c.cfg.TauLocal.Seconds() {
		return
	}
	now := ts.Tb.Sec
	far := int64(math.Min(c.cfg.TauLocal.Seconds(), c.hist.Duration().ToFloat()))
	window := int64(math.Min(c.cfg.TauLocalWindowMax.Seconds(), float64(far)/2))

	near := c.rangeTimestamps(now-window, now)
	near = append(near, ts)
	far1 := c.rangeTimestamps(now-far-window, now-far+window)
	if len(near) == 0 || len(far1) == 0 {
		return
	}
	i := lowestRTT(near)
	j := lowestRTT(far1)
	if i.Tf == j.Tf {
		return
	}
	minRTT := i.RTT()
	if j.RTT() < minRTT {
		minRTT = j.RTT()
	}
	fCandidate, _ := calculateTickFreq(i, j, minRTT)
	if fCandidate <= 0 || math.IsNaN(fCandidate) {
		return
	}

	n := c.fLocalAccept
	dtSeconds := math.Abs(ts.Tb.Sub(i.Tb).ToFloat())
	accept := true
	if c.fLocal.hasValue {
		deltaPPM := math.Abs(fCandidate-c.fLocal.current) / c.fLocal.current * 1e6
		accept = deltaPPM <= thresholdPPM(n, c.cfg.FLocalLimitPPM)*dtSeconds
	}
	if accept {
		c.fLocal = paramState{current: fCandidate, lastUpdate: ts.Tf, hasValue: true}
		c.fLocalAccept++
	} else {
		c.fLocalReject++
	}
}

func lowestRTT(samples []history.Timestamp) history.Timestamp {
	best := samples[0]
	for _, s := range samples[1:] {
		if s.RTT() < best.RTT() {
			best = s
		}
	}
	return best
}

// doLevelShiftDetection implements RTT level-shift detection: filter when
// r_hat < r_hat_s and (r_hat_s - r_hat) > 16*noise*f_hat.
func (c *Clock) doLevelShiftDetection(ts history.Timestamp) uint64 {
	now := ts.Tb.Sec
	halfLocal := int64(c.cfg.TauLocal.Seconds() / 2)
	window := c.rangeTimestamps(now-halfLocal, now)
	if len(window) == 0 {
		window = []history.Timestamp{ts}
	}
	rHatS := lowestRTT(window).RTT()
	rHat := c.rtts.Min()

	if c.fHat.hasValue && rHat < rHatS {
		threshold := uint64(c.fHat.current * 16 * c.cfg.NoisePPM)
		if rHatS-rHat > threshold {
			c.rtts.FilterAbove(rHatS)
			c.hist.Prune(now - halfLocal)
			return rHatS
		}
	}
	return rHat
}

// doOffsetSync implements the weighted offset estimate and keeper publication.
func (c *Clock) doOffsetSync(ts history.Timestamp) {
	minRTT := c.doLevelShiftDetection(ts)

	now := ts.Tb.Sec
	from := now - int64(c.cfg.TauStar.Seconds())
	samples := c.rangeTimestamps(from, now)
	if len(samples) == 0 {
		samples = []history.Timestamp{ts}
	}

	fHat := c.fHat.current
	e := 4 * fHat * c.cfg.NoisePPM
	gammaHat := 0.0
	if c.fLocal.hasValue && c.fLocal.current != 0 {
		gammaHat = 1 - fHat/c.fLocal.current
	}

	var num, den float64
	for _, s := range samples {
		rtt := s.RTT()
		var eI float64
		if rtt > minRTT {
			eI = float64(rtt - minRTT)
		}
		tI := bintime.FromTicksFreq(s.Tf, counter.Hz(fHat))
		deltaT := math.Abs(bintime.FromTicksFreq(ts.Tf, counter.Hz(fHat)).Sub(tI).ToFloat())
		eIT := eI + 1e-7*deltaT
		if e == 0 {
			continue
		}
		omega := math.Exp(-((eIT / e) * (eIT / e)))
		if omega <= 1e-12 {
			continue
		}
		theta := calculateTheta(s, c.k, counter.Hz(fHat))
		num += omega * (theta.ToFloat() + gammaHat*deltaT)
		den += omega
	}
	if den == 0 {
		return
	}
	theta := bintime.FromFloat(num / den)

	var deltaT float64
	if c.fHat.hasValue {
		deltaT = bintime.FromTicksFreq(ts.Tf-c.thetaHat.lastUpdate, counter.Hz(fHat)).ToFloat()
	}

	accept := true
	if c.thetaHat.hasValue && deltaT != 0 {
		deltaPPM := math.Abs((theta.ToFloat()-c.thetaHat.current)/deltaT) * 1e6
		accept = deltaPPM <= thresholdPPM(c.thetaHatAccept, c.cfg.ThetaLimitPPM)
	}

	if !accept {
		c.thetaHatReject++
		return
	}

	c.thetaHat = paramState{current: theta.ToFloat(), lastUpdate: ts.Tf, hasValue: true}
	c.thetaHatAccept++
	c.stats.Add(theta.ToFloat())

	absNow := calculateAbsoluteTime(theta, c.k, ts.Tf, counter.Hz(fHat))
	freqForReaders := fHat
	if c.fLocal.hasValue {
		freqForReaders = c.fLocal.current
	}
	if c.sync != nil {
		c.sync(absNow, ts.Tf, counter.Hz(freqForReaders))
	}
}

// Synced reports whether theta was accepted recently: the full bintime
// delta since the last f_hat update must be within 2*tau_star, compared
// as a complete bintime rather than truncated to whole seconds.
func (c *Clock) Synced() bool {
	if c.thetaHatAccept <= 1 || !c.fHat.hasValue {
		return false
	}
	nowTicks := counter.Now()
	delta := bintime.FromTicksFreq(nowTicks-c.fHat.lastUpdate, counter.Hz(c.fHat.current))
	limit := bintime.FromFloat(2 * c.cfg.TauStar.Seconds())
	return !limit.Less(delta) // delta <= limit, compared as full bintime
}

// Frequency returns f_hat and its error, or (0,0,false) if never accepted.
func (c *Clock) Frequency() (hz float64, errPPB float64, ok bool) {
	return c.fHat.current, c.fHat.errVal, c.fHat.hasValue
}

// LocalFrequency returns f_local and its error, or (0,0,false) if never
// accepted.
func (c *Clock) LocalFrequency() (hz float64, ok bool) {
	return c.fLocal.current, c.fLocal.hasValue
}

// Offset returns K, the wall-clock offset captured at init/reset.
func (c *Clock) Offset() bintime.Bintime { return c.k }

// Theta returns the current offset estimate, if one has been accepted.
func (c *Clock) Theta() (bintime.Bintime, bool) {
	if !c.thetaHat.hasValue {
		return bintime.Zero, false
	}
	return bintime.FromFloat(c.thetaHat.current), true
}

// Stats is a snapshot of the clock's accept/reject counters and RTT
// distribution, surfaced verbatim by get_keeper.
type Stats struct {
	FrequencyAccept, FrequencyReject           int
	LocalFrequencyAccept, LocalFrequencyReject int
	ThetaAccept, ThetaReject                   int
	Updates                                    int
	Timestamps                                 int
	RTTMinimum, RTTMedian, RTTMaximum          float64
	ThetaMean, ThetaStddev                     float64
}

// StatsSnapshot returns the current Stats.
func (c *Clock) StatsSnapshot() Stats {
	s := Stats{
		FrequencyAccept:      c.fHatAccept,
		FrequencyReject:      c.fHatReject,
		LocalFrequencyAccept: c.fLocalAccept,
		LocalFrequencyReject: c.fLocalReject,
		ThetaAccept:          c.thetaHatAccept,
		ThetaReject:          c.thetaHatReject,
		Updates:              c.updates,
		Timestamps:           c.hist.Size(),
	}
	if c.rtts.Size() > 0 && c.fHatAccept > 0 {
		freq := counter.Hz(c.fHat.current)
		s.RTTMinimum = bintime.FromTicksFreq(c.rtts.Min(), freq).ToFloat()
		s.RTTMedian = bintime.FromTicksFreq(c.rtts.Quantile(0.5), freq).ToFloat()
		s.RTTMaximum = bintime.FromTicksFreq(c.rtts.Max(), freq).ToFloat()
	}
	s.ThetaMean = c.stats.Mean()
	s.ThetaStddev = c.stats.Stddev()
	return s
}
