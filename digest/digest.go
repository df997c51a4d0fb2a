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

// Package digest is the streaming quantile estimator the clock discipline
// algorithm uses for its RTT distribution. Any correct O(1)-memory
// estimator satisfies the interface the algorithm needs; this one wraps
// github.com/beorn7/perks/quantile, already part of the dependency graph
// via prometheus/client_golang, rather than a bespoke t-digest.
package digest

import (
	"sort"

	"github.com/beorn7/perks/quantile"
)

// Sample is one (value, count) pair, mirroring the t-digest centroid
// shape the discipline algorithm's level-shift filter rebuilds from.
type Sample struct {
	Value float64
	Count int
}

// Digest is a streaming, O(1)-memory quantile estimator over uint64 RTT
// values (ticks).
type Digest struct {
	targets map[float64]float64
	s       *quantile.Stream
	min     uint64
	max     uint64
	size    int
	hasData bool
}

// New returns a Digest that tracks the median (p50), used by the
// absolute-frequency estimate's "RTT <= 50th percentile" filter, and p0/p100
// for Min/Max.
func New() *Digest {
	targets := map[float64]float64{0.5: 0.01}
	return &Digest{
		targets: targets,
		s:       quantile.NewTargeted(targets),
	}
}

// Insert adds x (a tick-count RTT) to the digest.
func (d *Digest) Insert(x uint64) {
	d.s.Insert(float64(x))
	if !d.hasData || x < d.min {
		d.min = x
	}
	if !d.hasData || x > d.max {
		d.max = x
	}
	d.hasData = true
	d.size++
}

// Quantile returns the estimated value at quantile q (e.g. 0.5 for the
// median). Returns 0 if the digest is empty.
func (d *Digest) Quantile(q float64) uint64 {
	return uint64(d.s.Query(q))
}

// Min returns the smallest value ever inserted (post-Reset).
func (d *Digest) Min() uint64 { return d.min }

// Max returns the largest value ever inserted (post-Reset).
func (d *Digest) Max() uint64 { return d.max }

// Size returns the number of inserted samples.
func (d *Digest) Size() int { return d.size }

// Reset clears the digest back to empty.
func (d *Digest) Reset() {
	d.s.Reset()
	d.min, d.max, d.size, d.hasData = 0, 0, 0, false
}

// Get returns the digest's internal centroid samples sorted by value, the
// "filterable representation" the level-shift detector rebuilds from when
// dropping values below a new floor.
func (d *Digest) Get() []Sample {
	samples := d.s.Samples()
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = Sample{Value: s.Value, Count: int(s.Width)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// FilterAbove rebuilds the digest keeping only samples strictly greater
// than min, re-inserting min itself — the exact rebuild the level-shift
// detector performs on a digest floor change.
func (d *Digest) FilterAbove(min uint64) {
	kept := d.Get()
	d.Reset()
	for _, s := range kept {
		if uint64(s.Value) <= min {
			continue
		}
		for i := 0; i < s.Count; i++ {
			d.Insert(uint64(s.Value))
		}
	}
	d.Insert(min)
}
