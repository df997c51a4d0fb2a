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

package phc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSysoffFromPrecise(t *testing.T) {
	precise := &PTPSysOffsetPrecise{
		SysRealTime: PTPClockTime{Sec: 1667818190, NSec: 552297411},
		Device:      PTPClockTime{Sec: 1667818153, NSec: 552297462},
		SysMonoRaw:  PTPClockTime{Sec: 1667818190, NSec: 552297522},
	}
	got := SysoffFromPrecise(precise)
	want := SysoffResult{
		SysTime: time.Unix(1667818190, 552297411),
		PHCTime: time.Unix(1667818153, 552297462),
		Delay:   0,
		Offset:  time.Unix(1667818153, 552297462).Sub(time.Unix(1667818190, 552297411)),
	}
	require.Equal(t, want, got)
}

func TestSysoffFromPreciseZeroDelay(t *testing.T) {
	precise := &PTPSysOffsetPrecise{
		SysRealTime: PTPClockTime{Sec: 100, NSec: 0},
		Device:      PTPClockTime{Sec: 100, NSec: 0},
	}
	got := SysoffFromPrecise(precise)
	require.Zero(t, got.Delay)
	require.Zero(t, got.Offset)
}

func TestCalcPHCOffet(t *testing.T) {
	a := SysoffResult{
		SysTime: time.Unix(1667818190, 0),
		PHCTime: time.Unix(1667818190, 0),
	}
	b := SysoffResult{
		SysTime: time.Unix(1667818191, 0),  // 1s of wall-clock elapsed
		PHCTime: time.Unix(1667818191, 100), // PHC ran 100ns fast over that second
	}
	got := CalcPHCOffet(a, b)
	require.Equal(t, 100*time.Nanosecond, got)
}
