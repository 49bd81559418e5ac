package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modesd/internal/cpr"
	"modesd/internal/modes"
)

func TestUpsertIdentity(t *testing.T) {
	r := New(DefaultConfig())
	msg := &modes.Message{DF: 17, ICAO: 0x4840D6, Flight: "KLM1023 ", Category: 0xA0}
	row := r.Upsert(msg)
	require.Equal(t, "KLM1023 ", row.Flight)
	require.Equal(t, byte(0xA0), row.Category)
	require.EqualValues(t, 1, row.Messages)
}

func TestUpsertCPRGlobalFix(t *testing.T) {
	r := New(DefaultConfig())
	icao := uint32(0x4840D6)

	elat17, elon17 := cpr.Encode(52.25720, 3.91937, false, false)
	olat17, olon17 := cpr.Encode(52.25720, 3.91937, true, false)

	r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPREven,
		RawLat: int(elat17), RawLon: int(elon17)})
	row := r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPROdd,
		RawLat: int(olat17), RawLon: int(olon17)})

	require.True(t, row.HasPosition)
	require.InDelta(t, 52.25720, row.Lat, 0.01)
	require.InDelta(t, 3.91937, row.Lon, 0.01)
	require.False(t, row.Reliable) // only one position accepted so far

	row = r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPREven,
		RawLat: int(elat17), RawLon: int(elon17)})
	require.True(t, row.Reliable)
}

func TestUpsertSpeedSanityRejection(t *testing.T) {
	r := New(DefaultConfig())
	icao := uint32(0x4840D6)

	elat17, elon17 := cpr.Encode(52.25720, 3.91937, false, false)
	olat17, olon17 := cpr.Encode(52.25720, 3.91937, true, false)
	r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPREven,
		RawLat: int(elat17), RawLon: int(elon17)})
	r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPROdd,
		RawLat: int(olat17), RawLon: int(olon17)})

	// ~165 NM away, arriving 100ms later: impossible ground speed.
	time.Sleep(100 * time.Millisecond)
	farLat17, farLon17 := cpr.Encode(55.0, 3.91937, false, false)
	row := r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, CPRFlag: modes.CPREven,
		RawLat: int(farLat17), RawLon: int(farLon17)})

	require.EqualValues(t, 1, row.PositionRejected)
	require.InDelta(t, 52.25720, row.Lat, 0.01) // unchanged
}

func TestUpsertDirectPosition(t *testing.T) {
	r := New(DefaultConfig())
	row := r.Upsert(&modes.Message{DF: 17, ICAO: 0x5, HasDirectPos: true, DirectLat: 52.2, DirectLon: 3.9})
	require.True(t, row.HasPosition)
	require.InDelta(t, 52.2, row.Lat, 1e-9)
	require.InDelta(t, 3.9, row.Lon, 1e-9)
}

func TestUpsertTISBTrackFileDoesNotShadowICAO(t *testing.T) {
	r := New(DefaultConfig())
	addr := uint32(0x4840D6)

	// A TIS-B track-file number equal to a real aircraft's ICAO address must
	// land in its own keyspace, not overwrite the real track.
	r.Upsert(&modes.Message{DF: 18, ICAO: addr, TISB: true, NonICAO: true, Flight: "TRACKFIL"})
	r.Upsert(&modes.Message{DF: 17, ICAO: addr, Flight: "KLM1023 "})
	require.Equal(t, 2, r.Count())

	rows := r.Snapshot(nil)
	require.Len(t, rows, 2)
	var tisb, adsb int
	for _, row := range rows {
		if row.TISB {
			tisb++
			require.Equal(t, "TRACKFIL", row.Flight)
		} else {
			adsb++
			require.Equal(t, "KLM1023 ", row.Flight)
		}
	}
	require.Equal(t, 1, tisb)
	require.Equal(t, 1, adsb)
}

func TestExpireRemovesStaleTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GraceMs = 0
	r := New(cfg)
	r.Upsert(&modes.Message{DF: 17, ICAO: 0x123456, Flight: "TEST1234"})
	require.Equal(t, 1, r.Count())

	removed := r.Expire(1 << 50) // far enough in the future that grace always elapsed
	require.Equal(t, 1, removed)
	require.Equal(t, 0, r.Count())
}

func TestSnapshotFilter(t *testing.T) {
	r := New(DefaultConfig())
	r.Upsert(&modes.Message{DF: 17, ICAO: 0x1, Flight: "AAA1234 "})
	r.Upsert(&modes.Message{DF: 17, ICAO: 0x2, Flight: "BBB1234 "})

	rows := r.Snapshot(func(row Row) bool { return row.ICAO == 0x1 })
	require.Len(t, rows, 1)
	require.Equal(t, uint32(0x1), rows[0].ICAO)
}

func TestAltitudeGNSSPriorityOverBarometric(t *testing.T) {
	r := New(DefaultConfig())
	icao := uint32(0x99)
	r.Upsert(&modes.Message{DF: 17, ICAO: icao, HasCPR: true, Altitude: 35000, AltSource: modes.AltGNSS})
	row := r.Upsert(&modes.Message{DF: 0, ICAO: icao, Altitude: 1000})
	// Barometric arriving within the GNSS skew window must not override.
	require.Equal(t, 35000, row.Altitude)
	require.Equal(t, modes.AltGNSS, row.AltSource)
}
