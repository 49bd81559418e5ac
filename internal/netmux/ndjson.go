package netmux

import (
	"encoding/json"
	"fmt"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

// ndjsonMessage is one line of the newline-delimited JSON per-message
// stream, the machine-friendly sibling of the human-oriented SBS feed.
type ndjsonMessage struct {
	Now      int64   `json:"now"`
	Hex      string  `json:"hex"`
	DF       int     `json:"df"`
	CRCOK    bool    `json:"crc_ok"`
	MLAT     bool    `json:"mlat"`
	Flight   string  `json:"flight,omitempty"`
	Altitude int     `json:"altitude,omitempty"`
	Squawk   int     `json:"squawk,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	GS       float64 `json:"gs,omitempty"`
	Track    float64 `json:"track,omitempty"`
	VertRate int     `json:"vert_rate,omitempty"`
	OnGround bool    `json:"on_ground,omitempty"`
}

// EncodeNDJSON renders one message event, folding in the receiver's current
// merged view (row) for the slower-changing fields, exactly as EncodeSBS does
// for the BaseStation feed.
func EncodeNDJSON(nowMs int64, m *modes.Message, row registry.Row) ([]byte, error) {
	out := ndjsonMessage{
		Now:      nowMs,
		Hex:      fmt.Sprintf("%06X", row.ICAO&0xFFFFFF),
		DF:       m.DF,
		CRCOK:    m.CRCOK,
		MLAT:     m.MLAT,
		Flight:   row.Flight,
		Altitude: row.Altitude,
		Squawk:   row.Squawk,
		GS:       row.GroundSpeed,
		VertRate: row.VertRate,
		OnGround: row.OnGround,
	}
	if row.HasPosition {
		out.Lat, out.Lon = row.Lat, row.Lon
	}
	if row.HeadingValid {
		out.Track = row.Heading
	}
	line, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
