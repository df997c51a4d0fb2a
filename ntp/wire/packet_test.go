package wire

import (
	"testing"
	"time"

	"github.com/openperf/timesync/bintime"
	"github.com/stretchr/testify/require"
)

func TestPacketSize(t *testing.T) {
	p := Packet{}
	b := p.Bytes()
	require.Len(t, b, PacketSizeBytes)
}

func TestRoundTrip(t *testing.T) {
	transmit := bintime.FromTimespec(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	p := Packet{
		Leap:      LeapNone,
		Mode:      ModeServer,
		Stratum:   3,
		Poll:      6,
		Precision: -20,
		RefID:     0x7F7F0101,
		Transmit:  transmit,
	}
	b := p.Bytes()
	got, err := ParsePacket(b[:])
	require.NoError(t, err)
	require.Equal(t, p.Stratum, got.Stratum)
	require.Equal(t, p.Poll, got.Poll)
	require.Equal(t, p.Precision, got.Precision)
	require.Equal(t, p.RefID, got.RefID)
	require.Equal(t, p.Transmit.Sec, got.Transmit.Sec)
}

func TestShortPacketErrors(t *testing.T) {
	_, err := ParsePacket(make([]byte, 10))
	require.Error(t, err)
}

func TestClientRequestModeFields(t *testing.T) {
	p := Packet{Leap: LeapUnknown, Mode: ModeClient, Stratum: 0}
	b := p.Bytes()
	got, err := ParsePacket(b[:])
	require.NoError(t, err)
	require.Equal(t, LeapUnknown, got.Leap)
	require.Equal(t, ModeClient, got.Mode)
}

func TestRefIDDoesNotCorruptReference(t *testing.T) {
	// Unix seconds (NTP seconds 3912345678, December 2023).
	ref := bintime.Bintime{Sec: 1703356878, Frac: 0x8000000000000000}
	p := Packet{RefID: 0xAABBCCDD, Reference: ref}
	b := p.Bytes()
	got, err := ParsePacket(b[:])
	require.NoError(t, err)
	require.Equal(t, p.RefID, got.RefID)
	require.Equal(t, ref.Sec, got.Reference.Sec)
}
