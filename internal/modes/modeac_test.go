package modes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// synthesizeModeAC builds an idealized magnitude buffer for one Mode-A/C
// reply with the given hex-octal code.
func synthesizeModeAC(code uint16) []uint16 {
	mag := make([]uint16, modeACF2Samples+32)
	for i := range mag {
		mag[i] = 50
	}
	mag[0] = 2000
	mag[modeACF2Samples] = 2000
	for slot, mask := range modeACSlotMask {
		if mask != 0 && code&mask != 0 {
			mag[modeACSlotIdx[slot]] = 2000
		}
	}
	return mag
}

func TestDetectModeACSquawk(t *testing.T) {
	mag := synthesizeModeAC(0x1200)
	stats := NewDemodStats()
	codes := DetectModeAC(mag, stats)
	require.Equal(t, []uint16{0x1200}, codes)
	require.EqualValues(t, 1, stats.ModeACFrames)

	msg := DecodeModeAC(codes[0])
	require.True(t, msg.ModeAC)
	require.Equal(t, 1200, msg.Squawk)
	require.Zero(t, msg.Altitude) // C digit empty: not a valid Mode C reply
}

func TestDetectModeACRejectsXPulse(t *testing.T) {
	mag := synthesizeModeAC(0x1200)
	mag[modeACSlotIdx[6]] = 2000 // X slot must stay empty
	require.Empty(t, DetectModeAC(mag, NewDemodStats()))
}

func TestModeAToModeC(t *testing.T) {
	// 0x0040 is C4 alone: the lowest rung of the Gillham ladder (-1200ft).
	alt, ok := ModeAToModeC(0x0040)
	require.True(t, ok)
	require.Equal(t, -12, alt)

	// D1 set is never a valid altitude.
	_, ok = ModeAToModeC(0x0031)
	require.False(t, ok)

	// C digit 0 is never a valid altitude.
	_, ok = ModeAToModeC(0x1200)
	require.False(t, ok)

	// C1 alone gray-decodes to the illegal 100s value 7.
	_, ok = ModeAToModeC(0x0010)
	require.False(t, ok)
}

func TestDecodeModeACWithAltitude(t *testing.T) {
	msg := DecodeModeAC(0x0040)
	require.Equal(t, 40, msg.Squawk)
	require.Equal(t, -1200, msg.Altitude)
	require.Equal(t, AltBarometric, msg.AltSource)
}
