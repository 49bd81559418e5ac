// Package tile maps aircraft positions onto the globe-tile grid used by the
// registry's tile-sharded iteration and the publisher's per-tile globe_*.json
// artifacts. Builds an s2.LatLng from degrees via s1.Angle, then derives a
// dense tile id from its s2.CellID.
package tile

import (
	"sort"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Level is the s2 cell level used for tiling. Level 4 yields 6*4^4 = 1536
// cells worldwide, coarse enough to keep globe_<tile>.json fan-out bounded
// while still localizing traffic by region, and small enough that the dense
// index below fits a 16-bit tile id.
const Level = 4

// ID is a dense tile id that fits in 16 bits. It indexes into the sorted
// table of every level-Level s2 cell, not the raw s2.CellID (which is 64
// bits), keeping the id small and stable across restarts since the cell
// tiling is deterministic.
type ID uint16

// cellIDs is every s2 cell at Level, in ascending CellID (Hilbert curve)
// order, built once at init. Position in this slice is the ID.
var cellIDs []s2.CellID

func init() {
	count := 6 * (1 << uint(2*Level))
	cellIDs = make([]s2.CellID, 0, count)
	for face := 0; face < 6; face++ {
		c := s2.CellIDFromFace(face).ChildBeginAtLevel(Level)
		end := s2.CellIDFromFace(face).ChildEndAtLevel(Level)
		for ; c != end; c = c.Next() {
			cellIDs = append(cellIDs, c)
		}
	}
	sort.Slice(cellIDs, func(i, j int) bool { return cellIDs[i] < cellIDs[j] })
}

// Of returns the tile containing the given position.
func Of(lat, lon float64) ID {
	ll := s2.LatLngFromDegrees(lat, lon)
	want := s2.CellIDFromLatLng(ll).Parent(Level)
	idx := sort.Search(len(cellIDs), func(i int) bool { return cellIDs[i] >= want })
	if idx >= len(cellIDs) || cellIDs[idx] != want {
		// Defensive: Parent(Level) of any valid leaf cell is always one of
		// cellIDs, so this only triggers on a malformed (lat,lon); clamp to
		// the nearest tile rather than panicking on publisher hot paths.
		if idx >= len(cellIDs) {
			idx = len(cellIDs) - 1
		}
	}
	return ID(idx)
}

// Center returns the lat/lon of a tile's cell center.
func Center(id ID) (lat, lon float64) {
	ll := s2.CellID(cellIDs[id]).LatLng()
	return ll.Lat.Degrees(), ll.Lng.Degrees()
}

// Neighbors returns the up-to-8 tiles adjacent to id. Computed by sampling the 8 compass points just outside the
// tile's own cell rather than walking the s2 cell graph directly, so it
// stays correct across cell-level changes without depending on a specific
// neighbor-walk API.
func Neighbors(id ID) []ID {
	lat, lon := Center(id)
	rect := s2.CellFromCellID(cellIDs[id]).RectBound()
	dLat := s1.Angle(rect.Lat.Hi - rect.Lat.Lo).Degrees()
	dLon := s1.Angle(rect.Lng.Hi - rect.Lng.Lo).Degrees()

	seen := make(map[ID]bool, 8)
	var out []ID
	for _, d := range [][2]float64{
		{dLat, 0}, {-dLat, 0}, {0, dLon}, {0, -dLon},
		{dLat, dLon}, {dLat, -dLon}, {-dLat, dLon}, {-dLat, -dLon},
	} {
		n := Of(lat+d[0], lon+d[1])
		if n != id && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Count returns the total number of tiles, used by the publisher to size its
// interleaved globe-shard rotation.
func Count() int {
	return len(cellIDs)
}
