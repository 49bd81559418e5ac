package netmux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

func TestEncodeSBSFields(t *testing.T) {
	row := registry.Row{ICAO: 0x4840D6, Flight: "KLM1023 ", Altitude: 38000, HasPosition: true, Lat: 52.2, Lon: 3.9}
	line := EncodeSBS(row, &modes.Message{DF: 17, Flight: "KLM1023 "}, 1, 7)
	require.True(t, strings.HasPrefix(line, "MSG,1,1,7,4840D6,,"))
	require.Contains(t, line, "KLM1023")
	require.True(t, strings.HasSuffix(line, "\n"))
}

func TestEncodeSBSBlanksAbsentFields(t *testing.T) {
	row := registry.Row{ICAO: 0x1}
	line := EncodeSBS(row, &modes.Message{DF: 11}, 1, 1)
	fields := strings.Split(strings.TrimSuffix(line, "\n"), ",")
	require.Equal(t, "", fields[14]) // lat
	require.Equal(t, "", fields[15]) // lon
}

func TestParseSBSLineFields(t *testing.T) {
	line := "MSG,3,1,7,4840D6,,2026/08/01,12:00:00.000,2026/08/01,12:00:00.000,KLM1023 ,38000,450.00000,90.00000,52.20000,3.90000,0,1000,0,0,0,0\n"
	msg, ok := ParseSBSLine(line, false)
	require.True(t, ok)
	require.Equal(t, uint32(0x4840D6), msg.ICAO)
	require.Equal(t, "KLM1023", msg.Flight)
	require.Equal(t, 38000, msg.Altitude)
	require.Equal(t, 1000, msg.Squawk)
	require.True(t, msg.HasDirectPos)
	require.InDelta(t, 52.2, msg.DirectLat, 1e-9)
	require.InDelta(t, 3.9, msg.DirectLon, 1e-9)
}

func TestParseSBSLineMLATVariant(t *testing.T) {
	msg, ok := ParseSBSLine("MSG,3,1,1,ABC123", true)
	require.True(t, ok)
	require.True(t, msg.MLAT)
	require.False(t, msg.HasDirectPos)
}

func TestParseSBSLineRejectsNonMessage(t *testing.T) {
	_, ok := ParseSBSLine("STA,,1,1,ABC123", false)
	require.False(t, ok)
	_, ok = ParseSBSLine("MSG,3,1,1,zzzzzz", false)
	require.False(t, ok)
}

func TestSBSEncodeParseRoundTrip(t *testing.T) {
	row := registry.Row{ICAO: 0x4840D6, Flight: "KLM1023 ", Altitude: 38000,
		HasPosition: true, Lat: 52.2, Lon: 3.9, Squawk: 1000}
	line := EncodeSBS(row, &modes.Message{DF: 17, HasCPR: true}, 1, 7)
	msg, ok := ParseSBSLine(line, false)
	require.True(t, ok)
	require.Equal(t, row.ICAO, msg.ICAO)
	require.Equal(t, "KLM1023", msg.Flight)
	require.True(t, msg.HasDirectPos)
	require.InDelta(t, row.Lat, msg.DirectLat, 1e-4)
}

func TestEncodeVRSJSONRoundTrip(t *testing.T) {
	rows := []registry.Row{{ICAO: 0x1, Flight: "AAA1234 ", HasPosition: true, Lat: 1, Lon: 2, Messages: 5}}
	out, err := EncodeVRSJSON(1000, rows, nil)
	require.NoError(t, err)
	require.Contains(t, string(out), `"Icao":"000001"`)
	require.Contains(t, string(out), `"now":1000`)
}

func TestEncodeNDJSONIncludesPosition(t *testing.T) {
	row := registry.Row{ICAO: 0x2, HasPosition: true, Lat: 10, Lon: 20}
	out, err := EncodeNDJSON(5, &modes.Message{DF: 17}, row)
	require.NoError(t, err)
	require.Contains(t, string(out), `"lat":10`)
}

func TestEncodeBinCraftRecordSize(t *testing.T) {
	rows := []registry.Row{{ICAO: 0x1}, {ICAO: 0x2}}
	out := EncodeBinCraft(42, rows)
	require.Equal(t, 20+len(rows)*bincraftRecordSize, len(out))
}
