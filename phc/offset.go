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

import "time"

// SysoffResult is a result of PHC time measurement with related data
type SysoffResult struct {
	Offset  time.Duration
	Delay   time.Duration
	SysTime time.Time
	PHCTime time.Time
}

// SysoffFromPrecise turns a single hardware cross-timestamp into a
// SysoffResult. Unlike the software-measured estimate (which brackets a
// PHC read between two CLOCK_REALTIME reads and assumes the call delay
// splits evenly), PTP_SYS_OFFSET_PRECISE reports SysRealTime as a single
// atomic sample taken by the NIC itself, so Delay is always zero here.
func SysoffFromPrecise(precise *PTPSysOffsetPrecise) SysoffResult {
	return SysoffResult{
		SysTime: precise.SysRealTime.Time(),
		PHCTime: precise.Device.Time(),
		Offset:  precise.Device.Time().Sub(precise.SysRealTime.Time()),
	}
}

// CalcPHCOffet calculates the offset between 2 SysoffResult
func CalcPHCOffet(timeAndOffsetA, timeAndOffsetB SysoffResult) (PHCDiff time.Duration) {
	sysOffset := timeAndOffsetB.SysTime.Sub(timeAndOffsetA.SysTime)
	phcOffset := timeAndOffsetB.PHCTime.Sub(timeAndOffsetA.PHCTime)
	phcOffset -= sysOffset

	return phcOffset
}
