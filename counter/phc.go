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

package counter

import (
	"os"

	"github.com/google/uuid"
	"github.com/openperf/timesync/phc"
)

// phcPriority beats MonotonicRaw: a PTP hardware clock, when present, is
// the more authoritative local tick source.
const phcPriority = 0

// PHCCounter is a Timecounter backed by a PTP hardware clock device
// (/dev/ptpN). Unlike MonotonicRaw it is not auto-registered at init time
// since the device path is operator-configured; callers open it and call
// counter.Register explicitly, giving the registry a genuine second,
// competing candidate on hardware that has one.
type PHCCounter struct {
	id  uuid.UUID
	dev *phc.Device
}

// NewPHCCounter opens the PHC device at path and wraps it as a Timecounter.
func NewPHCCounter(path string) (*PHCCounter, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &PHCCounter{id: uuid.New(), dev: phc.FromFile(f)}, nil
}

// NewPHCCounterFromInterface resolves the PHC device backing a network
// interface (e.g. "eth0") and wraps it as a Timecounter, so a source
// config can name a NIC instead of requiring the operator to know its
// /dev/ptpN path.
func NewPHCCounterFromInterface(iface string) (*PHCCounter, error) {
	path, err := phc.IfaceToPHCDevice(iface)
	if err != nil {
		return nil, err
	}
	return NewPHCCounter(path)
}

// Offset reports the PHC's instantaneous offset from the system clock
// using a single hardware cross-timestamp, a cheap diagnostic independent
// of the Now()/Frequency() path counter.Select feeds into the discipline
// loop.
func (p *PHCCounter) Offset() (phc.SysoffResult, error) {
	precise, err := p.dev.ReadSysoffPrecise()
	if err != nil {
		return phc.SysoffResult{}, err
	}
	return phc.SysoffFromPrecise(precise), nil
}

func (p *PHCCounter) ID() uuid.UUID { return p.id }

func (p *PHCCounter) Name() string { return "phc:" + p.dev.File().Name() }

// Now reads the PHC's current time and returns it as a nanosecond tick
// count, matching MonotonicRaw's units.
func (p *PHCCounter) Now() Ticks {
	t, err := p.dev.Time()
	if err != nil {
		return 0
	}
	return uint64(t.UnixNano())
}

func (p *PHCCounter) Frequency() Hz { return 1_000_000_000 }

func (p *PHCCounter) StaticPriority() int { return phcPriority }
