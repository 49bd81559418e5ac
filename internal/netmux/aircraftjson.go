package netmux

import (
	"encoding/json"
	"fmt"
	"strings"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

// aircraftEntry is one element of the aircraft.json / globe-tile "aircraft"
// array. Keys are the snake_case wire names readsb-lineage consumers expect;
// omitempty keeps absent fields genuinely absent rather than zero-filled.
type aircraftEntry struct {
	Hex       string   `json:"hex"`
	Flight    string   `json:"flight,omitempty"`
	Category  string   `json:"category,omitempty"`
	AltBaro   *int     `json:"alt_baro,omitempty"`
	AltGeom   *int     `json:"alt_geom,omitempty"`
	GS        *float64 `json:"gs,omitempty"`
	TAS       *float64 `json:"tas,omitempty"`
	Track     *float64 `json:"track,omitempty"`
	BaroRate  *int     `json:"baro_rate,omitempty"`
	Squawk    string   `json:"squawk,omitempty"`
	Emergency string   `json:"emergency,omitempty"`
	SPI       int      `json:"spi,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	SeenPos   *float64 `json:"seen_pos,omitempty"`
	Tisb      bool     `json:"tisb,omitempty"`
	Seen      float64  `json:"seen"`
	Messages  uint64   `json:"messages"`
	RSSI      float64  `json:"rssi"`
}

// aircraftDoc is the top-level aircraft.json document: "now" is unix seconds
// with millisecond precision, "messages" the total accepted message count
// across the listed aircraft.
type aircraftDoc struct {
	Now      float64         `json:"now"`
	Messages uint64          `json:"messages"`
	Aircraft []aircraftEntry `json:"aircraft"`
}

// emergencyNames maps the DF17 TC28 emergency state field to its wire name.
var emergencyNames = [8]string{
	"none", "general", "lifeguard", "minfuel", "nordo", "unlawful", "downed", "reserved",
}

// EncodeAircraftJSON renders the periodic aircraft-list snapshot (used for
// aircraft.json, globe tile shards, and the rotating history ring).
func EncodeAircraftJSON(nowMs int64, rows []registry.Row) ([]byte, error) {
	doc := aircraftDoc{
		Now:      float64(nowMs) / 1000.0,
		Aircraft: make([]aircraftEntry, 0, len(rows)),
	}
	for _, row := range rows {
		doc.Messages += row.Messages
		hexStr := fmt.Sprintf("%06x", row.ICAO)
		if row.ICAO > 0xFFFFFF {
			// Non-ICAO (TIS-B track-file) addressing, rendered with the
			// conventional "~" prefix.
			hexStr = fmt.Sprintf("~%06x", row.ICAO&0xFFFFFF)
		}
		e := aircraftEntry{
			Hex:      hexStr,
			Flight:   strings.TrimSpace(row.Flight),
			Messages: row.Messages,
			RSSI:     row.RSSI,
			Tisb:     row.TISB,
			Seen:     float64(nowMs-row.LastSeenMs) / 1000.0,
		}
		if row.Category != 0 {
			e.Category = fmt.Sprintf("%02X", row.Category)
		}
		if row.Altitude != 0 {
			alt := row.Altitude
			if row.AltSource == modes.AltGNSS {
				e.AltGeom = &alt
			} else {
				e.AltBaro = &alt
			}
		}
		if row.GroundSpeed != 0 {
			gs := row.GroundSpeed
			e.GS = &gs
		}
		if row.Airspeed != 0 {
			tas := row.Airspeed
			e.TAS = &tas
		}
		if row.HeadingValid {
			trk := row.Heading
			e.Track = &trk
		}
		if row.VertRate != 0 {
			vr := row.VertRate
			e.BaroRate = &vr
		}
		if row.Squawk != 0 {
			e.Squawk = fmt.Sprintf("%04d", row.Squawk)
		}
		if row.Emergency != 0 {
			e.Emergency = emergencyNames[row.Emergency&7]
		}
		if row.SPI {
			e.SPI = 1
		}
		if row.HasPosition {
			lat, lon := row.Lat, row.Lon
			seenPos := float64(nowMs-row.SeenMs) / 1000.0
			e.Lat, e.Lon, e.SeenPos = &lat, &lon, &seenPos
		}
		doc.Aircraft = append(doc.Aircraft, e)
	}
	return json.Marshal(doc)
}
