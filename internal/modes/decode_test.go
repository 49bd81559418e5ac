package modes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// df18Frame rewrites the KLM1023 DF17 identity fixture as a DF18 frame with
// the given control field. Decode does not re-verify the CRC, so the stale
// check bits don't matter here.
func df18Frame(t *testing.T, cf int) []byte {
	frame := hexToBytes(t, "8D4840D6202CC371C32CE0576098")
	frame[0] = byte(18<<3 | cf)
	return frame
}

func TestDecodeDF18FineTISB(t *testing.T) {
	msg, err := Decode(df18Frame(t, 2), 0x4840D6)
	require.NoError(t, err)
	require.Equal(t, 18, msg.DF)
	require.Equal(t, 2, msg.ControlField)
	require.True(t, msg.TISB)
	require.False(t, msg.NonICAO)
	require.Equal(t, "KLM1023 ", msg.Flight)
}

func TestDecodeDF18FineTISBNonICAO(t *testing.T) {
	msg, err := Decode(df18Frame(t, 5), 0x4840D6)
	require.NoError(t, err)
	require.True(t, msg.TISB)
	require.True(t, msg.NonICAO)
	require.Equal(t, "KLM1023 ", msg.Flight)
}

func TestDecodeDF18CoarseTISBFieldsAbsent(t *testing.T) {
	msg, err := Decode(df18Frame(t, 3), 0x4840D6)
	require.NoError(t, err)
	require.True(t, msg.TISB)
	require.True(t, msg.NonICAO)
	require.Empty(t, msg.Flight) // coarse ME layout is not field-parsed
}

func TestDecodeDF18ADSRRebroadcast(t *testing.T) {
	msg, err := Decode(df18Frame(t, 6), 0x4840D6)
	require.NoError(t, err)
	require.Equal(t, 6, msg.ControlField)
	require.False(t, msg.TISB)
	require.False(t, msg.NonICAO)
	require.Equal(t, "KLM1023 ", msg.Flight)
}

func TestDecodeDF18ReservedControlField(t *testing.T) {
	msg, err := Decode(df18Frame(t, 7), 0x4840D6)
	require.NoError(t, err)
	require.Equal(t, 7, msg.ControlField)
	require.Empty(t, msg.Flight)
}

func TestDecodeDF17NoControlField(t *testing.T) {
	msg, err := Decode(hexToBytes(t, "8D4840D6202CC371C32CE0576098"), 0x4840D6)
	require.NoError(t, err)
	require.False(t, msg.TISB)
	require.False(t, msg.NonICAO)
}
