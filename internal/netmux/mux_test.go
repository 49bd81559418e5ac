package netmux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

func TestAircraftIDStableAndIncrementing(t *testing.T) {
	mx := NewMux(true, nil)
	a := mx.aircraftID(0x1)
	b := mx.aircraftID(0x2)
	a2 := mx.aircraftID(0x1)
	require.Equal(t, a, a2)
	require.NotEqual(t, a, b)
}

func TestBeastKindForShortVsLong(t *testing.T) {
	require.Equal(t, byte(beastTypeModeSShort), beastKindFor(&modes.Message{DF: 11}))
	require.Equal(t, byte(beastTypeModeSLong), beastKindFor(&modes.Message{DF: 17}))
	require.Equal(t, byte(beastTypeModeAC), beastKindFor(&modes.Message{ModeAC: true}))
}

func TestBeastReducedDropsPositionless(t *testing.T) {
	mx := NewMux(true, nil)
	require.False(t, mx.shouldEmitReduced(0, &modes.Message{DF: 4}, registry.Row{}))
	require.False(t, mx.shouldEmitReduced(0, &modes.Message{DF: 17, HasCPR: true}, registry.Row{}))
}

func TestBeastReducedCoalescesIdenticalPositions(t *testing.T) {
	mx := NewMux(true, nil)
	m := &modes.Message{DF: 17, ICAO: 0x1, HasCPR: true}
	row := registry.Row{ICAO: 0x1, HasPosition: true, Lat: 52.2, Lon: 3.9}

	require.True(t, mx.shouldEmitReduced(1000, m, row))
	require.False(t, mx.shouldEmitReduced(1050, m, row)) // identical, inside window
	require.True(t, mx.shouldEmitReduced(1150, m, row))  // window elapsed

	moved := row
	moved.Lat = 52.3
	require.True(t, mx.shouldEmitReduced(1160, m, moved)) // moved: not identical
}

func TestMuxSkipsMLATWhenNotForwarding(t *testing.T) {
	mx := NewMux(false, nil)
	// PublishMessage should return without panicking even with no listeners
	// registered, and without reaching the registry-row-dependent encoders.
	mx.PublishMessage(0, &modes.Message{MLAT: true, DF: 17}, registry.Row{}, nil)
}
