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

/*
Package clock wraps the CLOCK_ADJTIME syscall, the actuator
clockdiscipline.Steerer drives once a keeper.Keeper reaches sync: the
same PI output that would otherwise just sit in software gets applied to
a real clock, be it CLOCK_REALTIME or a PHC's own clockid.

Adjtime issues the raw syscall; FrequencyPPB/AdjFreqPPB read and set the
clock's frequency trim; Step jumps the clock by an offset too large for
frequency trimming alone; MaxFreqPPB reports the clock's tolerance; and
SetSync clears the kernel's unsynchronized status bit once steering
begins, the same signal chrony/adjtimex consult to report clock health.
*/
package clock
