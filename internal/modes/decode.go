package modes

import (
	"fmt"
	"math"
)

var aisCharset = []rune("?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????")

// Decode is the pure function from a CRC-accepted bit frame to a typed
// Message. icao must already be resolved by the caller (directly from the
// frame for DF11/17/18, or via ICAOFilter.BruteForceAP for the AP-field
// DFs), since recovering it is a CRC-mechanics concern, not a field-parsing
// one. Unknown or reserved subtypes decode as "present, fields absent"
// rather than erroring.
func Decode(msg []byte, icao uint32) (*Message, error) {
	if len(msg) < ShortMsgBytes {
		return nil, fmt.Errorf("modes: frame too short: %d bytes", len(msg))
	}

	df := int(msg[0]) >> 3
	bits := MessageLenByType(df)
	if len(msg)*8 < bits {
		return nil, fmt.Errorf("modes: frame too short for DF%d: need %d bits, have %d", df, bits, len(msg)*8)
	}

	m := &Message{DF: df, ICAO: icao, CategoryHint: CategoryAirborne}

	switch df {
	case 0, 4, 16, 20:
		m.Altitude, m.AltitudeUnit = decodeAC13(msg)
		m.AltSource = AltBarometric
		if df == 4 || df == 20 {
			decodeFlightStatus(msg, m)
		}
	case 5, 21:
		decodeFlightStatus(msg, m)
		decodeSquawk(msg, m)
	case 11:
	// Capability only; nothing further to parse.
	case 17:
		decodeExtendedSquitter(msg, m)
	case 18:
		decodeDF18(msg, m)
	case 24:
		// Comm-D ELM: counted, not decoded beyond ICAO/CRC.
	}

	return m, nil
}

// decodeAC13 decodes the 13-bit AC altitude field used by DF0/4/16/20.
func decodeAC13(msg []byte) (altitude, unit int) {
	mBit := msg[3] & (1 << 6)
	qBit := msg[3] & (1 << 4)

	if mBit == 0 {
		unit = UnitFeet
		if qBit != 0 {
			n := (int(msg[2]&0x1f) << 6) |
				(int(msg[3]&0x80) >> 2) |
				(int(msg[3]&0x20) >> 1) |
				int(msg[3]&0x0f)
			altitude = n*25 - 1000
		}
		// Q=0, M=0: Gillham-encoded 100ft steps, not modeled (rare on modern
		// transponders); altitude left at 0.
	} else {
		unit = UnitMeters
	}
	return
}

// decodeAC12 decodes the 12-bit AC altitude field used by DF17/18 TC9-18.
func decodeAC12(msg []byte) (altitude, unit int) {
	qBit := msg[5] & 1
	if qBit != 0 {
		unit = UnitFeet
		n := (int(msg[5]>>1) << 4) | int((msg[6]&0xF0)>>4)
		altitude = n*25 - 1000
	}
	return
}

// decodeFlightStatus parses the flight-status (FS) field for DF4/5/20/21.
func decodeFlightStatus(msg []byte, m *Message) {
	m.FS = int(msg[0]) & 7
	m.FlightOK = true
	switch m.FS {
	case 1, 3:
		m.OnGround = true
	case 4, 5:
		m.SPI = true
	}
}

// decodeSquawk decodes the Gillham-interleaved identity (squawk) field used
// by DF5/21.
func decodeSquawk(msg []byte, m *Message) {
	var a, b, c, d byte
	a = ((msg[3] & 0x80) >> 5) | ((msg[2] & 0x02) >> 0) | ((msg[2] & 0x08) >> 3)
	b = ((msg[3] & 0x02) << 1) | ((msg[3] & 0x08) >> 2) | ((msg[3] & 0x20) >> 5)
	c = ((msg[2] & 0x01) << 2) | ((msg[2] & 0x04) >> 1) | ((msg[2] & 0x10) >> 4)
	d = ((msg[3] & 0x01) << 2) | ((msg[3] & 0x04) >> 1) | ((msg[3] & 0x10) >> 4)
	m.Squawk = int(a)*1000 + int(b)*100 + int(c)*10 + int(d)
}

// decodeDF18 dispatches on the DF18 control field, which distinguishes
// ADS-B via non-transponder devices (CF0/1), fine TIS-B (CF2/5), coarse
// TIS-B (CF3), and ADS-R rebroadcast (CF6). CF1/3/5 carry a non-ICAO
// address (a TIS-B track-file number), which the registry keys into its own
// address space so it can never shadow a real aircraft.
func decodeDF18(msg []byte, m *Message) {
	m.ControlField = int(msg[0]) & 7
	switch m.ControlField {
	case 0:
		decodeExtendedSquitter(msg, m)
	case 1:
		m.NonICAO = true
		decodeExtendedSquitter(msg, m)
	case 2:
		m.TISB = true
		decodeExtendedSquitter(msg, m)
	case 3:
		// Coarse TIS-B airborne position uses its own ME layout, not the
		// extended-squitter one; tagged but not field-parsed.
		m.TISB = true
		m.NonICAO = true
	case 5:
		m.TISB = true
		m.NonICAO = true
		decodeExtendedSquitter(msg, m)
	case 6:
		decodeExtendedSquitter(msg, m)
	default:
		// CF4 (TIS-B management) and CF7 (reserved): present, fields absent.
	}
}

// decodeExtendedSquitter dispatches DF17/18 ME field parsing by type code.
func decodeExtendedSquitter(msg []byte, m *Message) {
	meType := int(msg[4]) >> 3
	meSub := int(msg[4]) & 7

	switch {
	case meType >= 1 && meType <= 4:
		decodeIdentity(msg, m, meType)
	case meType >= 5 && meType <= 8:
		decodeSurfacePosition(msg, m)
	case meType >= 9 && meType <= 18:
		decodeAirbornePosition(msg, m, AltBarometric)
	case meType >= 20 && meType <= 22:
		decodeAirbornePosition(msg, m, AltGNSS)
	case meType == 19 && meSub >= 1 && meSub <= 4:
		decodeVelocity(msg, m, meSub)
	case meType == 28 && meSub == 1:
		decodeEmergency(msg, m)
	}
}

func decodeIdentity(msg []byte, m *Message, meType int) {
	m.Category = byte((0x0E-meType)<<4 | (int(msg[4]) & 7))

	var flight [8]rune
	flight[0] = aisCharset[msg[5]>>2]
	flight[1] = aisCharset[((msg[5]&3)<<4)|(msg[6]>>4)]
	flight[2] = aisCharset[((msg[6]&15)<<2)|(msg[7]>>6)]
	flight[3] = aisCharset[msg[7]&63]
	flight[4] = aisCharset[msg[8]>>2]
	flight[5] = aisCharset[((msg[8]&3)<<4)|(msg[9]>>4)]
	flight[6] = aisCharset[((msg[9]&15)<<2)|(msg[10]>>6)]
	flight[7] = aisCharset[msg[10]&63]
	m.Flight = string(flight[:])
}

func decodeAirbornePosition(msg []byte, m *Message, altSource int) {
	m.HasCPR = true
	if int(msg[6])&(1<<2) != 0 {
		m.CPRFlag = CPROdd
	} else {
		m.CPRFlag = CPREven
	}
	m.Altitude, m.AltitudeUnit = decodeAC12(msg)
	m.AltSource = altSource
	m.RawLat = ((int(msg[6]) & 3) << 15) | (int(msg[7]) << 7) | (int(msg[8]) >> 1)
	m.RawLon = ((int(msg[8]) & 1) << 16) | (int(msg[9]) << 8) | int(msg[10])
}

func decodeSurfacePosition(msg []byte, m *Message) {
	m.HasCPR = true
	m.Surface = true
	m.CategoryHint = CategorySurface
	if int(msg[6])&(1<<2) != 0 {
		m.CPRFlag = CPROdd
	} else {
		m.CPRFlag = CPREven
	}
	m.RawLat = ((int(msg[6]) & 3) << 15) | (int(msg[7]) << 7) | (int(msg[8]) >> 1)
	m.RawLon = ((int(msg[8]) & 1) << 16) | (int(msg[9]) << 8) | int(msg[10])

	movement := (int(msg[5]) << 1) | (int(msg[6]) >> 7)
	if movement > 1 && movement < 125 {
		m.GroundSpeed = surfaceMovementToKt(movement)
		m.VelocityKind = VelocityGroundSpeed
	}
	if int(msg[6])&(1<<3) != 0 {
		m.HeadingValid = true
		raw := ((int(msg[6]) & 7) << 4) | (int(msg[7]) >> 4)
		m.Heading = float64(raw) * (360.0 / 128.0)
	}
}

// surfaceMovementToKt maps the 7-bit movement field (ADS-B TC5-8) to knots
// using the piecewise table from the Mode S / DO-260 surface movement
// encoding.
func surfaceMovementToKt(movement int) float64 {
	switch {
	case movement == 1:
		return 0
	case movement <= 8:
		return 0.125 * float64(movement-1)
	case movement <= 12:
		return 1 + 0.25*float64(movement-9)
	case movement <= 38:
		return 2 + 0.5*float64(movement-13)
	case movement <= 93:
		return 15 + float64(movement-39)
	case movement <= 108:
		return 70 + 2*float64(movement-94)
	case movement <= 123:
		return 100 + 5*float64(movement-109)
	default:
		return 175
	}
}

func decodeVelocity(msg []byte, m *Message, meSub int) {
	switch meSub {
	case 1, 2:
		if meSub == 2 {
			m.CategoryHint = CategorySupersonic
		}
		ewDir := (int(msg[5]) & 4) >> 2
		ewV := ((int(msg[5]) & 3) << 8) | int(msg[6])
		nsDir := (int(msg[7]) & 0x80) >> 7
		nsV := ((int(msg[7]) & 0x7f) << 3) | ((int(msg[8]) & 0xe0) >> 5)

		// A zero field means "no data"; valid values are offset by one.
		if ewV > 0 {
			ewV--
		}
		if nsV > 0 {
			nsV--
		}
		if meSub == 2 {
			ewV *= 4
			nsV *= 4
		}

		ewf, nsf := float64(ewV), float64(nsV)
		if ewDir == 1 {
			ewf = -ewf
		}
		if nsDir == 1 {
			nsf = -nsf
		}

		m.VelocityKind = VelocityGroundSpeed
		m.GroundSpeed = math.Hypot(ewf, nsf)
		if m.GroundSpeed != 0 {
			heading := math.Atan2(ewf, nsf) * 360 / (2 * math.Pi)
			if heading < 0 {
				heading += 360
			}
			m.Heading = heading
			m.HeadingValid = true
		}
		decodeVertRate(msg, m)
	case 3, 4:
		m.VelocityKind = VelocityAirspeed
		if int(msg[5])&(1<<2) != 0 {
			m.HeadingValid = true
			raw := ((int(msg[5]) & 3) << 8) | int(msg[6])
			m.Heading = float64(raw) * (360.0 / 1024.0)
		}
		airspeed := ((int(msg[7]) & 0x7f) << 3) | ((int(msg[8]) & 0xe0) >> 5)
		if airspeed > 0 {
			airspeed--
			if meSub == 4 {
				airspeed *= 4
			}
			m.Airspeed = float64(airspeed)
		}
		decodeVertRate(msg, m)
	}
}

func decodeVertRate(msg []byte, m *Message) {
	source := (int(msg[8]) & 0x10) >> 4
	sign := (int(msg[8]) & 0x8) >> 3
	rate := ((int(msg[8]) & 7) << 6) | ((int(msg[9]) & 0xfc) >> 2)
	if rate == 0 {
		return // no vertical rate data
	}
	rate = (rate - 1) * 64
	if sign != 0 {
		rate = -rate
	}
	m.VertRate = rate
	m.VertRateGNSS = source == 0
}

func decodeEmergency(msg []byte, m *Message) {
	m.Emergency = (int(msg[5]) >> 5) & 7
}
