package modes

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// validLongFrame returns a 14-byte frame with a correct embedded CRC.
func validLongFrame(payload []byte) []byte {
	frame := make([]byte, LongMsgBytes)
	copy(frame, payload)
	crc := checksum(frame, LongMsgBits)
	frame[11] = byte(crc >> 16)
	frame[12] = byte(crc >> 8)
	frame[13] = byte(crc)
	return frame
}

func TestChecksumRoundTrip(t *testing.T) {
	frame := validLongFrame([]byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0})
	require.True(t, CRCOK(frame, LongMsgBits))
}

func TestFixErrorsSingleBit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 11, 11).Draw(rt, "payload")
		frame := validLongFrame(payload)
		bit := rapid.IntRange(0, LongMsgBits-1).Draw(rt, "bit")

		corrupted := make([]byte, len(frame))
		copy(corrupted, frame)
		corrupted[bit/8] ^= 1 << uint(7-(bit%8))

		require.False(t, CRCOK(corrupted, LongMsgBits))

		positions := FixErrors(corrupted, LongMsgBits, 1)
		require.Equal(t, []int{bit}, positions)
		require.Equal(t, frame, corrupted)
	})
}

func TestFixErrorsTwoBitsAggressive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 11, 11).Draw(rt, "payload")
		frame := validLongFrame(payload)
		b1 := rapid.IntRange(0, LongMsgBits-1).Draw(rt, "b1")
		b2 := rapid.IntRange(0, LongMsgBits-1).Draw(rt, "b2")
		if b1 == b2 {
			return
		}

		corrupted := make([]byte, len(frame))
		copy(corrupted, frame)
		corrupted[b1/8] ^= 1 << uint(7-(b1%8))
		corrupted[b2/8] ^= 1 << uint(7-(b2%8))

		positions := FixErrors(corrupted, LongMsgBits, 2)
		require.NotNil(t, positions)
		require.True(t, CRCOK(corrupted, LongMsgBits))
	})
}

func TestFixErrorsRespectsBudget(t *testing.T) {
	frame := validLongFrame([]byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0})
	corrupted := make([]byte, len(frame))
	copy(corrupted, frame)
	corrupted[0] ^= 1 << 7
	corrupted[5] ^= 1 << 3

	positions := FixErrors(corrupted, LongMsgBits, 0)
	require.Nil(t, positions)
}

func TestMessageLenByType(t *testing.T) {
	require.Equal(t, LongMsgBits, MessageLenByType(17))
	require.Equal(t, LongMsgBits, MessageLenByType(18))
	require.Equal(t, LongMsgBits, MessageLenByType(24))
	require.Equal(t, ShortMsgBits, MessageLenByType(0))
	require.Equal(t, ShortMsgBits, MessageLenByType(11))
}
