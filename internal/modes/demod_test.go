package modes

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// synthesizeSamples builds an idealized magnitude buffer for the given
// frame bits so DetectFrames can be exercised without real radio hardware.
func synthesizeSamples(frame []byte, nbits int) []uint16 {
	total := preambleWindow + int(float64(nbits)*bitSamples) + 16
	mag := make([]uint16, total)
	for i := range mag {
		mag[i] = 50
	}
	for _, i := range preambleHighIdx {
		mag[i] = 2000
	}

	start := preambleWindow
	for bit := 0; bit < nbits; bit++ {
		idx := int(float64(start) + float64(bit)*bitSamples)
		set := (frame[bit/8]>>uint(7-(bit%8)))&1 == 1
		if set {
			mag[idx] = 2000
			mag[idx+1] = 50
		} else {
			mag[idx] = 50
			mag[idx+1] = 2000
		}
	}
	return mag
}

func TestDetectFramesDF17Identity(t *testing.T) {
	// DF17 TC=4 identity for ICAO 4840D6, callsign "KLM1023 ".
	frame := hexToBytes(t, "8D4840D6202CC371C32CE0576098")
	mag := synthesizeSamples(frame, LongMsgBits)

	filter := NewICAOFilter()
	stats := NewDemodStats()
	cands := DetectFrames(mag, 1, filter, stats)
	require.Len(t, cands, 1)
	require.Equal(t, LongMsgBits, cands[0].Bitlen)

	msg, err := Decode(cands[0].Bits, 0x4840D6)
	require.NoError(t, err)
	require.Equal(t, 17, msg.DF)
	require.Equal(t, "KLM1023 ", msg.Flight)
	require.Equal(t, byte(0xA0), msg.Category)
}

func TestDetectFramesRejectsNoise(t *testing.T) {
	mag := make([]uint16, 4096)
	filter := NewICAOFilter()
	stats := NewDemodStats()
	cands := DetectFrames(mag, 1, filter, stats)
	require.Empty(t, cands)
}

func hexToBytes(t *testing.T, s string) []byte {
	t.Helper()
	out, err := hex.DecodeString(s)
	require.NoError(t, err)
	return out
}
