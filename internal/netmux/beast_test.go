package netmux

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBeastEscapeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
		escaped := EscapeBeast(data)
		require.Equal(t, data, UnescapeBeast(escaped))

		// No un-doubled 0x1A should survive escaping.
		for i := 0; i < len(escaped); i++ {
			if escaped[i] != beastEscape {
				continue
			}
			require.Less(t, i+1, len(escaped), "trailing unescaped 0x1A")
			require.Equal(t, byte(beastEscape), escaped[i+1])
			i++
		}
	})
}

func TestBuildAndParseBeastFrame(t *testing.T) {
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}
	frame := BuildBeastFrame(beastTypeModeSLong, 0x1A2B3C4D5E, 0x7F, payload)

	frames, consumed := ParseBeastStream(frame)
	require.Equal(t, len(frame), consumed)
	require.Len(t, frames, 1)
	require.Equal(t, uint64(0x1A2B3C4D5E), frames[0].MLATTimestamp)
	require.Equal(t, byte(0x7F), frames[0].Signal)
	require.Equal(t, payload, frames[0].Payload)
}

func TestParseBeastStreamIncompleteFrame(t *testing.T) {
	payload := make([]byte, 14)
	frame := BuildBeastFrame(beastTypeModeSLong, 1, 0, payload)
	frames, consumed := ParseBeastStream(frame[:len(frame)-3])
	require.Empty(t, frames)
	require.Equal(t, 0, consumed)
}
