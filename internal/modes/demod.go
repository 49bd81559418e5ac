package modes

import (
	"math"
)

// SampleRate is the fixed input sample rate the demodulator expects.
const SampleRate = 2_400_000

// bitSamples is the (fractional) number of magnitude samples per PPM data
// bit: one Mode S bit is 1us wide at 2.4 MS/s.
var bitSamples = float64(SampleRate) / 1_000_000.0

// Preamble sample offsets, scaled from the widely known 2 MS/s dump1090
// preamble template (four 0.5us pulses with "high" samples at indices
// 0,2,7,9 and "low" troughs at 1,3,4,5,6,8, silence afterwards) to this
// system's 2.4 MS/s input via the 1.2x rate ratio.
var preambleHighIdx = [4]int{0, 2, 8, 11}
var preambleLowIdx = [6]int{1, 4, 5, 6, 7, 10}

// preambleWindow is how many leading samples a preamble match consumes
// before the data bits begin (8us at 2.4 MS/s).
var preambleWindow = int(PreambleUs * bitSamples)

// lowConfidenceThreshold is the per-bit confidence floor below which a bit
// is counted as an error for variant selection.
const lowConfidenceThreshold = 0.2

// Candidate is a demodulated frame with the quality stats a caller needs to
// decide whether to accept it.
type Candidate struct {
	Bits           []byte
	Bitlen         int
	ICAO           uint32
	SampleOffset   int
	RSSI           float64
	ErrorCount     int
	PhaseCorrected bool
}

// DemodStats accumulates the per-buffer demodulation counters.
type DemodStats struct {
	SamplesProcessed  int64
	SamplesDropped    int64
	PreamblesExamined int64
	FramesByDF        [25]int64
	ModeACFrames      int64
	BadCRC            int64
	CorrectedByBits   map[int]int64
}

// NewDemodStats returns a zeroed DemodStats.
func NewDemodStats() *DemodStats {
	return &DemodStats{CorrectedByBits: make(map[int]int64)}
}

// phaseOffsets are the nominal and +/-0.25-sample phase-correction lobes
// tried per candidate preamble.
var phaseOffsets = []float64{0, 0.25, -0.25}

// preambleScore reports whether the preamble template matches at off, and a
// confidence ratio (higher is better) usable to pick among overlapping
// detections.
func preambleScore(mag []uint16, off int) (score float64, ok bool) {
	if off < 0 || off+preambleWindow+7 > len(mag) {
		return 0, false
	}

	var highSum, lowSum float64
	for _, i := range preambleHighIdx {
		highSum += float64(mag[off+i])
	}
	for _, i := range preambleLowIdx {
		lowSum += float64(mag[off+i])
	}
	highAvg := highSum / float64(len(preambleHighIdx))
	lowAvg := lowSum / float64(len(preambleLowIdx))
	if highAvg <= lowAvg {
		return 0, false
	}

	// Quiet zone between the preamble and the start of data bits.
	for i := preambleWindow - 7; i < preambleWindow; i++ {
		if off+i >= len(mag) {
			break
		}
		if float64(mag[off+i]) > highAvg*0.5 {
			return 0, false
		}
	}

	return highAvg / (lowAvg + 1), true
}

// demodulateVariant decodes nbits PPM data bits starting at
// off+preambleWindow, with the data-region start shifted by phaseSamples, and
// returns the packed bytes plus a count of low-confidence bits.
func demodulateVariant(mag []uint16, off int, nbits int, phaseSamples float64) ([]byte, int) {
	out := make([]byte, (nbits+7)/8)
	lowConfidence := 0
	start := float64(off+preambleWindow) + phaseSamples

	for bit := 0; bit < nbits; bit++ {
		idx := int(start + float64(bit)*bitSamples)
		if idx+1 >= len(mag) {
			lowConfidence++
			continue
		}
		a, b := float64(mag[idx]), float64(mag[idx+1])
		if a > b {
			out[bit/8] |= 1 << uint(7-(bit%8))
		}
		confidence := math.Abs(a-b) / (a + b + 1)
		if confidence < lowConfidenceThreshold {
			lowConfidence++
		}
	}
	return out, lowConfidence
}

// DetectFrames scans a magnitude buffer for candidate Mode S frames,
// testing the preamble template at every offset and, on a match,
// demodulating with each phase-correction variant to pick the lowest-error
// one. fixBudget bounds CRC bit-error correction (0 disables it). The
// trailing overlap region (one long-frame length plus preamble) should
// already be included in mag by the caller.
func DetectFrames(mag []uint16, fixBudget int, filter *ICAOFilter, stats *DemodStats) []Candidate {
	var out []Candidate
	if stats == nil {
		stats = NewDemodStats()
	}
	stats.SamplesProcessed += int64(len(mag))

	limit := len(mag) - preambleWindow - LongMsgBytes*8
	for off := 0; off < limit; off++ {
		score, ok := preambleScore(mag, off)
		if !ok {
			continue
		}
		stats.PreamblesExamined++

		cand, accepted := tryDemodulate(mag, off, fixBudget, filter, stats)
		if !accepted {
			continue
		}
		cand.RSSI = rssiFromScore(score)
		out = append(out, cand)

		// A confirmed frame consumes its own length; skip past it instead
		// of rescanning inside it for another preamble.
		off += preambleWindow + int(float64(cand.Bitlen)*bitSamples) - 1
	}
	return out
}

func rssiFromScore(score float64) float64 {
	if score <= 0 {
		return -100
	}
	return 10 * math.Log10(score)
}

// tryDemodulate attempts to demodulate a 112-bit (falling back to 56-bit)
// frame at off across every phase variant, picks the best, and validates
// its CRC, correcting bit errors within fixBudget.
func tryDemodulate(mag []uint16, off int, fixBudget int, filter *ICAOFilter, stats *DemodStats) (Candidate, bool) {
	type attempt struct {
		bytes []byte
		errs  int
		phase float64
	}

	var best *attempt
	for _, phase := range phaseOffsets {
		bytes, errs := demodulateVariant(mag, off, LongMsgBits, phase)
		a := attempt{bytes: bytes, errs: errs, phase: phase}
		if best == nil || a.errs < best.errs {
			best = &a
		}
	}
	if best == nil {
		return Candidate{}, false
	}

	df := int(best.bytes[0]) >> 3
	bits := MessageLenByType(df)
	frame := best.bytes
	if bits == ShortMsgBits {
		frame = frame[:ShortMsgBytes]
	}

	corrected := FixErrors(frame, bits, fixBudget)
	crcOK := CRCOK(frame, bits)

	icao, recovered := resolveICAO(frame, df, bits, crcOK, filter)
	if !crcOK && !recovered {
		stats.BadCRC++
		return Candidate{}, false
	}
	if recovered {
		crcOK = true
	}

	if df < len(stats.FramesByDF) {
		stats.FramesByDF[df]++
	}
	if len(corrected) > 0 {
		stats.CorrectedByBits[len(corrected)]++
	}

	if df == 11 || df == 17 {
		filter.Add(icao)
	}

	return Candidate{
		Bits:           frame,
		Bitlen:         bits,
		ICAO:           icao,
		SampleOffset:   off,
		ErrorCount:     len(corrected),
		PhaseCorrected: best.phase != 0,
	}, true
}

// resolveICAO extracts the ICAO address directly from DF11/17/18 frames (it
// lives in bits 8-31 unobscured), or brute-forces it from the AP field for
// the other DFs.
func resolveICAO(frame []byte, df, bits int, crcOK bool, filter *ICAOFilter) (uint32, bool) {
	switch df {
	case 11, 17, 18:
		addr := uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3])
		return addr, crcOK
	default:
		return filter.BruteForceAP(frame, bits)
	}
}
