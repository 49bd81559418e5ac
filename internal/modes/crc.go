package modes

// Mode S frame lengths.
const (
	PreambleUs    = 8
	LongMsgBits   = 112
	ShortMsgBits  = 56
	LongMsgBytes  = LongMsgBits / 8
	ShortMsgBytes = ShortMsgBits / 8
	FullLen       = PreambleUs + LongMsgBits
)

// checksumTable is the Mode S CRC generator, one entry per payload bit
// position (the final 24 entries are the CRC field itself and are zero,
// since the check bits never contribute to their own residual).
var checksumTable = [112]uint32{
	0x3935ea, 0x1c9af5, 0xf1b77e, 0x78dbbf, 0xc397db, 0x9e31e9, 0xb0e2f0, 0x587178,
	0x2c38bc, 0x161c5e, 0x0b0e2f, 0xfa7d13, 0x82c48d, 0xbe9842, 0x5f4c21, 0xd05c14,
	0x682e0a, 0x341705, 0xe5f186, 0x72f8c3, 0xc68665, 0x9cb936, 0x4e5c9b, 0xd8d449,
	0x939020, 0x49c810, 0x24e408, 0x127204, 0x093902, 0x049c81, 0xfdb444, 0x7eda22,
	0x3f6d11, 0xe04c8c, 0x702646, 0x381323, 0xe3f395, 0x8e03ce, 0x4701e7, 0xdc7af7,
	0x91c77f, 0xb719bb, 0xa476d9, 0xadc168, 0x56e0b4, 0x2b705a, 0x15b82d, 0xf52612,
	0x7a9309, 0xc2b380, 0x6159c0, 0x30ace0, 0x185670, 0x0c2b38, 0x06159c, 0x030ace,
	0x018567, 0xff38b7, 0x80665f, 0xbfc92b, 0xa01e91, 0xaff54c, 0x57faa6, 0x2bfd53,
	0xea04ad, 0x8af852, 0x457c29, 0xdd4410, 0x6ea208, 0x375104, 0x1ba882, 0x0dd441,
	0xf91024, 0x7c8812, 0x3e4409, 0xe0d800, 0x706c00, 0x383600, 0x1c1b00, 0x0e0d80,
	0x0706c0, 0x038360, 0x01c1b0, 0x00e0d8, 0x00706c, 0x003836, 0x001c1b, 0xfff409,
	0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000,
	0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000,
	0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000, 0x000000,
}

// MessageLenByType returns the frame length in bits for the given Downlink
// Format.
func MessageLenByType(df int) int {
	switch df {
	case 16, 17, 18, 19, 20, 21, 24:
		return LongMsgBits
	default:
		return ShortMsgBits
	}
}

// checksum computes the 24-bit Mode S CRC residual over the first bits of
// msg by XORing in the table entry for every set bit.
func checksum(msg []byte, bits int) uint32 {
	var crc uint32
	offset := 0
	if bits == ShortMsgBits {
		offset = LongMsgBits - ShortMsgBits
	}

	for j := 0; j < bits; j++ {
		sByte := j / 8
		sBitmask := byte(1) << uint(7-(j%8))
		if msg[sByte]&sBitmask != 0 {
			crc ^= checksumTable[j+offset]
		}
	}
	return crc
}

// extractCRC reads the three trailing CRC bytes of a bits-long frame.
func extractCRC(msg []byte, bits int) uint32 {
	last := bits/8 - 1
	return uint32(msg[last-2])<<16 | uint32(msg[last-1])<<8 | uint32(msg[last])
}

// residual is the CRC syndrome: zero for a frame whose embedded CRC matches
// its computed checksum, and a fixed per-bit delta otherwise (see
// deltaForBit), which is what makes table-based correction possible.
func residual(msg []byte, bits int) uint32 {
	return extractCRC(msg, bits) ^ checksum(msg, bits)
}

// deltaForBit returns the effect that flipping bit j (0-indexed from the
// start of a bits-long frame) has on residual. For payload bits this is
// the checksum table entry; for CRC field bits (which don't pass through
// the table) it is the bit's own positional weight within the 24-bit CRC
// integer, since flipping it changes the extracted CRC value directly.
func deltaForBit(bits, j int) uint32 {
	offset := 0
	if bits == ShortMsgBits {
		offset = LongMsgBits - ShortMsgBits
	}
	if j < bits-24 {
		return checksumTable[j+offset]
	}
	k := j - (bits - 24)
	return 1 << uint(23-k)
}

// syndromeTable maps a CRC residual to the bit positions whose flip
// produces it, precomputed once at init for 1- and 2-bit error patterns
// over both frame lengths.
type syndromeTable struct {
	single map[uint32][]int
	double map[uint32][]int
}

var (
	longSyndromes  = buildSyndromeTable(LongMsgBits)
	shortSyndromes = buildSyndromeTable(ShortMsgBits)
)

func buildSyndromeTable(bits int) *syndromeTable {
	t := &syndromeTable{
		single: make(map[uint32][]int, bits),
		double: make(map[uint32][]int, bits*bits/2),
	}
	for j := 0; j < bits; j++ {
		s := deltaForBit(bits, j)
		if _, exists := t.single[s]; !exists {
			t.single[s] = []int{j}
		}
	}
	for j := 0; j < bits; j++ {
		for i := j + 1; i < bits; i++ {
			s := deltaForBit(bits, j) ^ deltaForBit(bits, i)
			if _, exists := t.double[s]; !exists {
				t.double[s] = []int{j, i}
			}
		}
	}
	return t
}

func tableForBits(bits int) *syndromeTable {
	if bits == ShortMsgBits {
		return shortSyndromes
	}
	return longSyndromes
}

// flipBits flips the given bit positions (0-indexed from frame start) in msg.
func flipBits(msg []byte, bits []int) {
	for _, j := range bits {
		msg[j/8] ^= 1 << uint(7-(j%8))
	}
}

// FixErrors attempts to repair up to maxFix bit errors in msg using the
// precomputed syndrome table. maxFix of 0 disables
// correction (only CRC verification), 1 allows single-bit fixes, and 2 (the
// "aggressive" budget) allows the two-bit search as well. On success msg is
// repaired in place and the flipped bit positions are returned; nil is
// returned if the syndrome is zero (no error) or cannot be resolved within
// budget.
func FixErrors(msg []byte, bits int, maxFix int) []int {
	s := residual(msg, bits)
	if s == 0 {
		return nil
	}
	if maxFix <= 0 {
		return nil
	}

	tbl := tableForBits(bits)
	if positions, ok := tbl.single[s]; ok {
		flipBits(msg, positions)
		return positions
	}
	if maxFix >= 2 {
		if positions, ok := tbl.double[s]; ok {
			flipBits(msg, positions)
			return positions
		}
	}
	return nil
}

// CRCOK reports whether msg's embedded CRC matches its computed checksum,
// with no attempt at correction.
func CRCOK(msg []byte, bits int) bool {
	return residual(msg, bits) == 0
}
