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

// Package wire implements the NTPv4 (RFC 5905) 48-byte packet format:
// serialization, deserialization, and the bintime<->NTP timestamp
// conversions.
//
// A prior C++ NTP implementation this codec's encoding was checked
// against writes the Reference Timestamp into bytes 16-23 and then
// overwrites bytes 20-23 with the Reference ID, which contradicts both
// its own decode path (which reads RefID from bytes 12-15) and the RFC
// 5905 diagram reproduced in its own header comment — a bug, not an
// intentional format. This codec places RefID at bytes 12-15 and leaves
// the Reference Timestamp untouched at 16-23: symmetric, and matching
// what the NTP wire format section of the RFC documents.
package wire

import (
	"fmt"

	"github.com/openperf/timesync/bintime"
)

// PacketSizeBytes is the fixed size of an NTPv4 header.
const PacketSizeBytes = 48

// Version is the only NTP version this codec emits or accepts.
const Version = 4

// LeapStatus is the two-bit leap indicator.
type LeapStatus uint8

// Leap indicator values.
const (
	LeapNone    LeapStatus = 0
	LeapInsert  LeapStatus = 1
	LeapDelete  LeapStatus = 2
	LeapUnknown LeapStatus = 3
)

// Mode is the three-bit NTP association mode.
type Mode uint8

// Mode values.
const (
	ModeReserved         Mode = 0
	ModeSymmetricActive  Mode = 1
	ModeSymmetricPassive Mode = 2
	ModeClient           Mode = 3
	ModeServer           Mode = 4
	ModeBroadcast        Mode = 5
	ModeControl          Mode = 6
	ModePrivate          Mode = 7
)

// ntpFudge is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01): ((1970-1900)*365+17)*86400.
const ntpFudge = 2208988800

// ShortInterval is the 32-bit "short" NTP timestamp format (16.16),
// used for RootDelay and RootDispersion.
type ShortInterval struct {
	Sec  int16
	Frac uint16
}

// Packet is one NTPv4 header.
type Packet struct {
	Leap      LeapStatus
	Mode      Mode
	Stratum   uint8
	Poll      int8
	Precision int8

	RootDelay      bintime.Bintime
	RootDispersion bintime.Bintime
	RefID          uint32

	Reference bintime.Bintime
	Origin    bintime.Bintime
	Receive   bintime.Bintime
	Transmit  bintime.Bintime
}

func toNTP32(b bintime.Bintime) [4]byte {
	var out [4]byte
	secs := uint32(b.Sec)
	out[0] = byte(secs >> 8)
	out[1] = byte(secs)
	out[2] = byte(b.Frac >> 56)
	out[3] = byte(b.Frac >> 48)
	return out
}

func fromNTP32(b []byte) bintime.Bintime {
	secs := int64(uint32(b[0])<<8 | uint32(b[1]))
	frac := uint64(b[2])<<56 | uint64(b[3])<<48
	return bintime.Bintime{Sec: secs, Frac: frac}
}

func toNTP64(b bintime.Bintime) [8]byte {
	var out [8]byte
	secs := uint32(b.Sec + ntpFudge)
	out[0] = byte(secs >> 24)
	out[1] = byte(secs >> 16)
	out[2] = byte(secs >> 8)
	out[3] = byte(secs)
	out[4] = byte(b.Frac >> 56)
	out[5] = byte(b.Frac >> 48)
	out[6] = byte(b.Frac >> 40)
	out[7] = byte(b.Frac >> 32)
	return out
}

func fromNTP64(b []byte) bintime.Bintime {
	secs := int64(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3])) - ntpFudge
	frac := uint64(b[4])<<56 | uint64(b[5])<<48 | uint64(b[6])<<40 | uint64(b[7])<<32
	return bintime.Bintime{Sec: secs, Frac: frac}
}

// Bytes serializes the packet to its 48-byte wire form.
func (p Packet) Bytes() [PacketSizeBytes]byte {
	var to [PacketSizeBytes]byte

	to[0] = byte(uint8(p.Leap)<<6 | Version<<3 | uint8(p.Mode))
	to[1] = p.Stratum
	to[2] = byte(p.Poll)
	to[3] = byte(p.Precision)

	copy(to[4:8], toNTP32(p.RootDelay)[:])
	copy(to[8:12], toNTP32(p.RootDispersion)[:])

	to[12] = byte(p.RefID >> 24)
	to[13] = byte(p.RefID >> 16)
	to[14] = byte(p.RefID >> 8)
	to[15] = byte(p.RefID)

	ref := toNTP64(p.Reference)
	copy(to[16:24], ref[:])
	org := toNTP64(p.Origin)
	copy(to[24:32], org[:])
	rx := toNTP64(p.Receive)
	copy(to[32:40], rx[:])
	tx := toNTP64(p.Transmit)
	copy(to[40:48], tx[:])

	return to
}

// ParsePacket deserializes an NTPv4 header from b. Returns an error if
// fewer than PacketSizeBytes bytes are available.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < PacketSizeBytes {
		return Packet{}, fmt.Errorf("wire: short packet: %d bytes, need %d", len(b), PacketSizeBytes)
	}
	p := Packet{
		Leap:      LeapStatus(b[0] >> 6),
		Mode:      Mode(b[0] & 0x7),
		Stratum:   b[1],
		Poll:      int8(b[2]),
		Precision: int8(b[3]),

		RootDelay:      fromNTP32(b[4:8]),
		RootDispersion: fromNTP32(b[8:12]),
		RefID:          uint32(b[12])<<24 | uint32(b[13])<<16 | uint32(b[14])<<8 | uint32(b[15]),

		Reference: fromNTP64(b[16:24]),
		Origin:    fromNTP64(b[24:32]),
		Receive:   fromNTP64(b[32:40]),
		Transmit:  fromNTP64(b[40:48]),
	}
	return p, nil
}
