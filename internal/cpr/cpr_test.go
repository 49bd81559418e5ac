package cpr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestEncodeDecodeRoundTrip exercises the global-resolution round trip:
// encode a random position as even+odd CPR halves, then recover it via
// Global, and check the recovered position is within 5m (airborne accuracy).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lat := rapid.Float64Range(-80, 80).Draw(rt, "lat")
		lon := rapid.Float64Range(-179, 179).Draw(rt, "lon")

		// Right at an NL zone boundary the even and odd halves can land in
		// different zones, which Global correctly rejects; those draws don't
		// exercise the round-trip property.
		if nlFunction(lat-0.01) != nlFunction(lat+0.01) {
			return
		}

		elat, elon := Encode(lat, lon, false, false)
		olat, olon := Encode(lat, lon, true, false)

		pos, ok := Global(
			Half{Lat17: int(elat), Lon17: int(elon), TimeMs: 1000},
			Half{Lat17: int(olat), Lon17: int(olon), TimeMs: 1000},
			1000,
		)
		require.True(t, ok)
		// 5m expressed as degrees of latitude, and as metres along the
		// parallel for longitude.
		require.InDelta(t, lat, pos.Lat, 5.0/111_320)
		require.InDelta(t, 0, (pos.Lon-lon)*111_320*math.Cos(lat*math.Pi/180), 5.0)
	})
}

func TestGlobalRejectsStaleSkew(t *testing.T) {
	even := Half{Lat17: 1000, Lon17: 1000, TimeMs: 0}
	odd := Half{Lat17: 1000, Lon17: 1000, TimeMs: 20_000}
	_, ok := Global(even, odd, 20_000)
	require.False(t, ok)
}

func TestGlobalRejectsBothStale(t *testing.T) {
	even := Half{Lat17: 1000, Lon17: 1000, TimeMs: 0}
	odd := Half{Lat17: 1000, Lon17: 1000, TimeMs: 500}
	_, ok := Global(even, odd, 50_000)
	require.False(t, ok)
}

func TestLocalRejectsOutOfRange(t *testing.T) {
	// Local decoding resolves the half to the candidate nearest the
	// reference: (40,-74) encoded and resolved near (0,0) lands at about
	// (-2.0,-1.5), roughly 151 NM away, which a 100 NM range rejects.
	ref := Position{Lat: 0, Lon: 0}
	lat17, lon17 := Encode(40, -74, false, false)
	_, ok := LocalEven(Half{Lat17: int(lat17), Lon17: int(lon17)}, ref, 100)
	require.False(t, ok)
}

func TestLocalAcceptsNearby(t *testing.T) {
	ref := Position{Lat: 52.30, Lon: 4.76}
	lat17, lon17 := Encode(52.31, 4.78, false, false)
	pos, ok := LocalEven(Half{Lat17: int(lat17), Lon17: int(lon17)}, ref, 180)
	require.True(t, ok)
	require.InDelta(t, 52.31, pos.Lat, 0.01)
	require.InDelta(t, 4.78, pos.Lon, 0.01)
}

func TestSpeedCapKt(t *testing.T) {
	require.Equal(t, 100.0, SpeedCapKt(true, false))
	require.Equal(t, 700.0, SpeedCapKt(false, false))
	require.Equal(t, 2000.0, SpeedCapKt(false, true))
}

func TestSpeedSaneRejectsImpossibleJump(t *testing.T) {
	prev := Position{Lat: 0, Lon: 0}
	next := Position{Lat: 10, Lon: 10}
	require.False(t, SpeedSane(prev, next, 0, 1000, false, false))
}

func TestSpeedSaneAcceptsPlausibleMotion(t *testing.T) {
	prev := Position{Lat: 52.0, Lon: 4.0}
	next := Position{Lat: 52.05, Lon: 4.05}
	require.True(t, SpeedSane(prev, next, 0, 60_000, false, false))
}
