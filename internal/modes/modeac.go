package modes

// Mode-A/C replies are 13 pulse slots (C1 A1 C2 A2 C4 A4 X B1 D1 B2 D2 B4
// D4) at 1.45us spacing between two framing pulses 20.3us apart. The X slot
// is always empty in a valid reply.

// modeACF2Samples is the F1-to-F2 framing-pulse spacing at 2.4 MS/s.
const modeACF2Samples = 48

// modeACSlotIdx is the sample offset of each pulse slot's center relative to
// F1, at 2.4 MS/s (1.45us per slot).
var modeACSlotIdx = [13]int{3, 7, 10, 14, 17, 21, 24, 28, 31, 35, 38, 42, 45}

// modeACSlotMask maps each slot to its bit in the hex-octal code
// representation (A<<12 | B<<8 | C<<4 | D, three bits per octal digit).
var modeACSlotMask = [13]uint16{
	0x0010, // C1
	0x1000, // A1
	0x0020, // C2
	0x2000, // A2
	0x0040, // C4
	0x4000, // A4
	0x0000, // X, must stay empty
	0x0100, // B1
	0x0001, // D1
	0x0200, // B2
	0x0002, // D2
	0x0400, // B4
	0x0004, // D4
}

// DetectModeAC runs the optional second demodulation pass over a magnitude
// buffer, returning the hex-octal code of every Mode-A/C reply found. It is
// far less selective than the Mode-S preamble test (Mode-A/C has no CRC), so
// it requires both framing pulses well above the local noise and an empty X
// slot before accepting a candidate.
func DetectModeAC(mag []uint16, stats *DemodStats) []uint16 {
	var out []uint16
	end := len(mag) - modeACF2Samples - 2
	for off := 0; off < end; off++ {
		f1 := float64(mag[off])
		f2 := float64(mag[off+modeACF2Samples])
		quiet := (float64(mag[off+1]) + float64(mag[off+2])) / 2
		if f1 < 3*quiet+1 || f2 < 3*quiet+1 {
			continue
		}

		threshold := (f1 + f2) / 4
		var code uint16
		xSet := false
		for slot, idx := range modeACSlotIdx {
			if float64(mag[off+idx]) > threshold {
				if slot == 6 {
					xSet = true
					break
				}
				code |= modeACSlotMask[slot]
			}
		}
		if xSet {
			continue
		}

		out = append(out, code)
		if stats != nil {
			stats.ModeACFrames++
		}
		off += modeACF2Samples + 2
	}
	return out
}

// ModeAToModeC converts a hex-octal Mode A code to a Mode C altitude in
// 100ft units (possibly negative), reporting false for codes that are not a
// valid Gillham-encoded altitude.
func ModeAToModeC(modeA uint16) (int, bool) {
	// D1 set, or any illegal bit, or C completely empty: not an altitude.
	if modeA&0x8889 != 0 || modeA&0x00F0 == 0 {
		return 0, false
	}

	oneHundreds := 0
	if modeA&0x0010 != 0 {
		oneHundreds ^= 0x007
	}
	if modeA&0x0020 != 0 {
		oneHundreds ^= 0x003
	}
	if modeA&0x0040 != 0 {
		oneHundreds ^= 0x001
	}
	if oneHundreds == 5 || oneHundreds == 7 {
		return 0, false
	}

	fiveHundreds := 0
	if modeA&0x0002 != 0 {
		fiveHundreds ^= 0x0FF
	}
	if modeA&0x0004 != 0 {
		fiveHundreds ^= 0x07F
	}
	if modeA&0x1000 != 0 {
		fiveHundreds ^= 0x03F
	}
	if modeA&0x2000 != 0 {
		fiveHundreds ^= 0x01F
	}
	if modeA&0x4000 != 0 {
		fiveHundreds ^= 0x00F
	}
	if modeA&0x0100 != 0 {
		fiveHundreds ^= 0x007
	}
	if modeA&0x0200 != 0 {
		fiveHundreds ^= 0x003
	}
	if modeA&0x0400 != 0 {
		fiveHundreds ^= 0x001
	}

	if fiveHundreds&1 != 0 {
		oneHundreds = 6 - oneHundreds
	}
	return fiveHundreds*5 + oneHundreds - 13, true
}

// DecodeModeAC lifts a hex-octal Mode-A/C code into a Message: the code as
// a squawk, plus a barometric altitude when the same bits also decode as a
// valid Mode C reply (a receiver cannot tell the two apart, so both
// readings are carried on the Message).
func DecodeModeAC(modeA uint16) *Message {
	m := &Message{ModeAC: true, CRCOK: true}
	a := int(modeA>>12) & 7
	b := int(modeA>>8) & 7
	c := int(modeA>>4) & 7
	d := int(modeA) & 7
	m.Squawk = a*1000 + b*100 + c*10 + d
	m.FlightOK = true

	if alt, ok := ModeAToModeC(modeA); ok {
		m.Altitude = alt * 100
		m.AltitudeUnit = UnitFeet
		m.AltSource = AltBarometric
	}
	return m
}
