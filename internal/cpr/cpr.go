// Package cpr implements Compressed Position Reporting recovery: the full
// global and local/relative resolution contract plus a speed-sanity filter,
// with an Encode function used to exercise the CPR round-trip property in
// tests.
package cpr

import "math"

const (
	nz = 15 // number of latitude zones per hemisphere, the Mode S constant

	airDlat0 = 360.0 / 60
	airDlat1 = 360.0 / 59
	cprScale = 131072.0 // 2^17
)

// Half is one CPR-encoded position report (an even or odd half).
type Half struct {
	Lat17   int
	Lon17   int
	TimeMs  int64
	Surface bool
}

// Position is a resolved WGS84 position.
type Position struct {
	Lat, Lon float64
}

// modFunc is the always-positive modulo used throughout CPR math.
func modFunc(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}

// nlFunction returns the number of longitude zones for a given latitude,
// from the precomputed table in ICAO Annex 10 / 1090-WP-9-14. Symmetric
// about the equator.
func nlFunction(lat float64) int {
	if lat < 0 {
		lat = -lat
	}
	switch {
	case lat < 10.47047130:
		return 59
	case lat < 14.82817437:
		return 58
	case lat < 18.18626357:
		return 57
	case lat < 21.02939493:
		return 56
	case lat < 23.54504487:
		return 55
	case lat < 25.82924707:
		return 54
	case lat < 27.93898710:
		return 53
	case lat < 29.91135686:
		return 52
	case lat < 31.77209708:
		return 51
	case lat < 33.53993436:
		return 50
	case lat < 35.22899598:
		return 49
	case lat < 36.85025108:
		return 48
	case lat < 38.41241892:
		return 47
	case lat < 39.92256684:
		return 46
	case lat < 41.38651832:
		return 45
	case lat < 42.80914012:
		return 44
	case lat < 44.19454951:
		return 43
	case lat < 45.54626723:
		return 42
	case lat < 46.86733252:
		return 41
	case lat < 48.16039128:
		return 40
	case lat < 49.42776439:
		return 39
	case lat < 50.67150166:
		return 38
	case lat < 51.89342469:
		return 37
	case lat < 53.09516153:
		return 36
	case lat < 54.27817472:
		return 35
	case lat < 55.44378444:
		return 34
	case lat < 56.59318756:
		return 33
	case lat < 57.72747354:
		return 32
	case lat < 58.84763776:
		return 31
	case lat < 59.95459277:
		return 30
	case lat < 61.04917774:
		return 29
	case lat < 62.13216659:
		return 28
	case lat < 63.20427479:
		return 27
	case lat < 64.26616523:
		return 26
	case lat < 65.31845310:
		return 25
	case lat < 66.36171008:
		return 24
	case lat < 67.39646774:
		return 23
	case lat < 68.42322022:
		return 22
	case lat < 69.44242631:
		return 21
	case lat < 70.45451075:
		return 20
	case lat < 71.45986473:
		return 19
	case lat < 72.45884545:
		return 18
	case lat < 73.45177442:
		return 17
	case lat < 74.43893416:
		return 16
	case lat < 75.42056257:
		return 15
	case lat < 76.39684391:
		return 14
	case lat < 77.36789461:
		return 13
	case lat < 78.33374083:
		return 12
	case lat < 79.29428225:
		return 11
	case lat < 80.24923213:
		return 10
	case lat < 81.19801349:
		return 9
	case lat < 82.13956981:
		return 8
	case lat < 83.07199445:
		return 7
	case lat < 83.99173563:
		return 6
	case lat < 84.89166191:
		return 5
	case lat < 85.75541621:
		return 4
	case lat < 86.53536998:
		return 3
	case lat < 87.00000000:
		return 2
	default:
		return 1
	}
}

func nFunction(lat float64, odd bool) int {
	dec := 0
	if odd {
		dec = 1
	}
	n := nlFunction(lat) - dec
	if n < 1 {
		n = 1
	}
	return n
}

func dlonFunction(lat float64, odd bool) float64 {
	return 360.0 / float64(nFunction(lat, odd))
}

// Global resolves a position from one even and one odd half: both halves
// valid, at least one fresh (<=10s old relative to now), receiver skew
// between them <=10s, and the resulting latitude must lie within +-90 degrees
// and agree on the same NL zone for both halves.
func Global(even, odd Half, now int64) (Position, bool) {
	const maxSkewMs = 10_000
	const freshMs = 10_000

	if skew := even.TimeMs - odd.TimeMs; skew > maxSkewMs || skew < -maxSkewMs {
		return Position{}, false
	}
	evenFresh := now-even.TimeMs <= freshMs
	oddFresh := now-odd.TimeMs <= freshMs
	if !evenFresh && !oddFresh {
		return Position{}, false
	}

	dlat0, dlat1 := airDlat0, airDlat1
	if even.Surface {
		dlat0, dlat1 = airDlat0/4, airDlat1/4
	}

	lat0, lat1 := float64(even.Lat17), float64(odd.Lat17)
	lon0, lon1 := float64(even.Lon17), float64(odd.Lon17)

	j := int(math.Floor((59*lat0-60*lat1)/cprScale + 0.5))
	rlat0 := dlat0 * (float64(modFunc(j, 60)) + lat0/cprScale)
	rlat1 := dlat1 * (float64(modFunc(j, 59)) + lat1/cprScale)

	if rlat0 >= 270 {
		rlat0 -= 360
	}
	if rlat1 >= 270 {
		rlat1 -= 360
	}
	if rlat0 < -90 || rlat0 > 90 || rlat1 < -90 || rlat1 > 90 {
		return Position{}, false
	}

	if nlFunction(rlat0) != nlFunction(rlat1) {
		return Position{}, false
	}

	var lat, lon float64
	useEven := even.TimeMs >= odd.TimeMs
	if useEven {
		lat = rlat0
	} else {
		lat = rlat1
	}

	ni := nFunction(lat, !useEven)
	m := math.Floor((lon0*float64(nlFunction(lat)-1)-lon1*float64(nlFunction(lat)))/cprScale + 0.5)
	dlon := dlonFunction(lat, !useEven)
	if useEven {
		lon = dlon * (float64(modFunc(int(m), ni)) + lon0/cprScale)
	} else {
		lon = dlon * (float64(modFunc(int(m), ni)) + lon1/cprScale)
	}
	if lon > 180 {
		lon -= 360
	}

	return Position{Lat: lat, Lon: lon}, true
}

// LocalEven and LocalOdd resolve a position from a single CPR half using a
// nearby reference (the previous accepted position, or the receiver's own
// location). maxRangeNM should be 180 for airborne, 45 for surface. The raw
// Half doesn't carry the even/odd flag itself, since the caller already
// knows it from the message format bit, hence the two named entry points
// rather than a boolean parameter.
func LocalEven(half Half, ref Position, maxRangeNM float64) (Position, bool) {
	return localResolve(half, ref, maxRangeNM, false)
}

func LocalOdd(half Half, ref Position, maxRangeNM float64) (Position, bool) {
	return localResolve(half, ref, maxRangeNM, true)
}

func localResolve(half Half, ref Position, maxRangeNM float64, odd bool) (Position, bool) {
	dlat := airDlat0
	if odd {
		dlat = airDlat1
	}
	if half.Surface {
		dlat /= 4
	}
	j := math.Floor(ref.Lat/dlat) + math.Floor(0.5+modFuncF(ref.Lat, dlat)/dlat-float64(half.Lat17)/cprScale)
	lat := dlat * (j + float64(half.Lat17)/cprScale)

	dlon := dlonFunction(lat, odd)
	m := math.Floor(ref.Lon/dlon) + math.Floor(0.5+modFuncF(ref.Lon, dlon)/dlon-float64(half.Lon17)/cprScale)
	lon := dlon * (m + float64(half.Lon17)/cprScale)

	pos := Position{Lat: lat, Lon: lon}
	if haversineNM(ref, pos) > maxRangeNM {
		return Position{}, false
	}
	return pos, true
}

func modFuncF(v, m float64) float64 {
	r := math.Mod(v, m)
	if r < 0 {
		r += m
	}
	return r
}

const earthRadiusNM = 3440.065

func haversineNM(a, b Position) float64 {
	lat1, lon1 := a.Lat*math.Pi/180, a.Lon*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lon*math.Pi/180
	dlat := lat2 - lat1
	dlon := lon2 - lon1
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusNM * math.Asin(math.Sqrt(h))
}

// Encode is the inverse of the CPR decode math: given a true position and
// which half (even/odd) to produce, it returns the 17-bit lat/lon fields a
// transmitter would send. Exists to exercise the round-trip property in
// tests.
func Encode(lat, lon float64, odd bool, surface bool) (lat17, lon17 uint32) {
	dlat := airDlat0
	if surface {
		dlat = airDlat0 / 4
	}
	if odd {
		dlat = airDlat1
		if surface {
			dlat = airDlat1 / 4
		}
	}

	yz := math.Floor(cprScale*modFuncF(lat, dlat)/dlat + 0.5)
	rlat := dlat * (yz/cprScale + math.Floor(lat/dlat))

	dlon := dlonFunction(rlat, odd)
	xz := math.Floor(cprScale*modFuncF(lon, dlon)/dlon + 0.5)

	lat17 = uint32(int(yz) & 0x1FFFF)
	lon17 = uint32(int(xz) & 0x1FFFF)
	return
}

// SpeedCapKt returns the category-specific ground-speed ceiling the
// speed-sanity filter enforces.
func SpeedCapKt(surface, supersonic bool) float64 {
	switch {
	case surface:
		return 100
	case supersonic:
		return 2000
	default:
		return 700
	}
}

// SpeedSane reports whether the implied ground speed between two
// timestamped positions is below the category cap.
func SpeedSane(prev, next Position, prevMs, nextMs int64, surface, supersonic bool) bool {
	dtHours := float64(nextMs-prevMs) / 3_600_000.0
	if dtHours <= 0 {
		return true
	}
	distNM := haversineNM(prev, next)
	speed := distNM / dtHours
	return speed <= SpeedCapKt(surface, supersonic)
}
