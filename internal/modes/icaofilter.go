package modes

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// icaoCacheTTL is the window in which a DF11/17 address with a verified
// checksum is considered "recently seen" and can be used to
// brute-force-recover the AP field of DF0/4/5/16/20/21 frames.
const icaoCacheTTL = 60 * time.Second

// ICAOFilter is the recently-seen 24-bit address set used to accept naked
// (CRC-XORed) short frames.
type ICAOFilter struct {
	cache *cache.Cache
}

// NewICAOFilter allocates a filter with the standard TTL and a cleanup
// sweep every 10s.
func NewICAOFilter() *ICAOFilter {
	return &ICAOFilter{cache: cache.New(icaoCacheTTL, 10*time.Second)}
}

// Add records addr as recently seen with a verified checksum.
func (f *ICAOFilter) Add(addr uint32) {
	f.cache.SetDefault(strconv.FormatUint(uint64(addr), 10), addr)
}

// Contains reports whether addr was seen in a DF11/17 frame with a good
// checksum within the last icaoCacheTTL.
func (f *ICAOFilter) Contains(addr uint32) bool {
	_, found := f.cache.Get(strconv.FormatUint(uint64(addr), 10))
	return found
}

// BruteForceAP recovers the ICAO address embedded in the AP (address/parity)
// field of DF0/4/5/16/20/21/24 frames by XORing the computed checksum back
// into the CRC field and checking whether the resulting address was
// recently seen.
func (f *ICAOFilter) BruteForceAP(msg []byte, bits int) (uint32, bool) {
	last := bits/8 - 1
	aux := make([]byte, len(msg))
	copy(aux, msg)

	crc := checksum(aux, bits)
	aux[last] ^= byte(crc)
	aux[last-1] ^= byte(crc >> 8)
	aux[last-2] ^= byte(crc >> 16)

	addr := uint32(aux[last-2])<<16 | uint32(aux[last-1])<<8 | uint32(aux[last])
	if f.Contains(addr) {
		return addr, true
	}
	return 0, false
}
