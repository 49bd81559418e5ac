package netmux

import (
	"bytes"
	"encoding/binary"
	"math"

	"modesd/internal/registry"
)

// binCraft is the tightly packed fixed-width binary snapshot format, for
// clients that cannot afford to parse JSON every second. The layout is a
// small header followed by one fixed-size record per aircraft; everything
// is little-endian, matching the readsb-lineage wire format this
// output mimics.
const (
	bincraftMagic      uint32 = 0x31435241 // "ARC1"
	bincraftRecordSize        = 40
)

type bincraftHeader struct {
	Magic      uint32
	NowMs      int64
	RecordSize uint32
	Count      uint32
}

// EncodeBinCraft packs rows into one binCraft snapshot buffer.
func EncodeBinCraft(nowMs int64, rows []registry.Row) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(16 + len(rows)*bincraftRecordSize)

	hdr := bincraftHeader{Magic: bincraftMagic, NowMs: nowMs, RecordSize: bincraftRecordSize, Count: uint32(len(rows))}
	binary.Write(buf, binary.LittleEndian, hdr.Magic)
	binary.Write(buf, binary.LittleEndian, hdr.NowMs)
	binary.Write(buf, binary.LittleEndian, hdr.RecordSize)
	binary.Write(buf, binary.LittleEndian, hdr.Count)

	for _, row := range rows {
		writeBinCraftRecord(buf, row)
	}
	return buf.Bytes()
}

func writeBinCraftRecord(buf *bytes.Buffer, row registry.Row) {
	var icaoFlags uint32 = row.ICAO & 0x00FFFFFF
	if row.OnGround {
		icaoFlags |= 1 << 24
	}
	if row.Reliable {
		icaoFlags |= 1 << 25
	}
	binary.Write(buf, binary.LittleEndian, icaoFlags)

	binary.Write(buf, binary.LittleEndian, int32(math.Round(row.Lat*1e6)))
	binary.Write(buf, binary.LittleEndian, int32(math.Round(row.Lon*1e6)))
	binary.Write(buf, binary.LittleEndian, int32(row.Altitude))
	binary.Write(buf, binary.LittleEndian, int16(math.Round(row.GroundSpeed*10)))
	binary.Write(buf, binary.LittleEndian, int16(math.Round(row.Heading*10)))
	binary.Write(buf, binary.LittleEndian, int16(row.VertRate))
	binary.Write(buf, binary.LittleEndian, uint16(row.Squawk))
	binary.Write(buf, binary.LittleEndian, int16(row.RSSI*10))

	var callsign [8]byte
	copy(callsign[:], row.Flight)
	buf.Write(callsign[:])

	binary.Write(buf, binary.LittleEndian, uint32(row.Messages))
	binary.Write(buf, binary.LittleEndian, uint16(row.Tile))
}
