package netmux

import (
	"encoding/json"
	"fmt"

	"modesd/internal/registry"
)

// vrsAircraft is one entry in the VRS ("Virtual Radar Server") JSON snapshot
// schema. Field names follow the VRS wire convention (short, cryptic keys)
// rather than Go naming, since this is an output codec for a fixed
// third-party schema.
type vrsAircraft struct {
	Icao  string      `json:"Icao"`
	Call  string      `json:"Call,omitempty"`
	Alt   int         `json:"Alt,omitempty"`
	GAlt  int         `json:"GAlt,omitempty"`
	Lat   float64     `json:"Lat,omitempty"`
	Long  float64     `json:"Long,omitempty"`
	Spd   float64     `json:"Spd,omitempty"`
	Trak  float64     `json:"Trak,omitempty"`
	Vsi   int         `json:"Vsi,omitempty"`
	Sqk   string      `json:"Sqk,omitempty"`
	Gnd   bool        `json:"Gnd"`
	Help  bool        `json:"Help,omitempty"`
	Cos   [][]float64 `json:"Cos,omitempty"` // trail: lat,lon,alt triples
	CMsgs uint64      `json:"CMsgs"`
	Sig   int         `json:"Sig,omitempty"`
	Mlat  bool        `json:"Mlat,omitempty"`
	Tisb  bool        `json:"Tisb,omitempty"`
}

// vrsSnapshot is the top-level VRS AircraftList.json document.
type vrsSnapshot struct {
	Now   int64         `json:"now"`
	Src   int           `json:"src"`
	Total int           `json:"totalAc"`
	Acft  []vrsAircraft `json:"acList"`
}

// EncodeVRSJSON renders the periodic full-snapshot VRS document: a
// top-level {now, src, totalAc, acList} object, where "acList" holds one
// entry per row and "now" is epoch milliseconds.
func EncodeVRSJSON(nowMs int64, rows []registry.Row, includeTrails map[uint32][]registry.TracePoint) ([]byte, error) {
	snap := vrsSnapshot{Now: nowMs, Src: 3, Total: len(rows)}
	for _, row := range rows {
		a := vrsAircraft{
			Icao:  fmt.Sprintf("%06X", row.ICAO&0xFFFFFF),
			Call:  row.Flight,
			Gnd:   row.OnGround,
			CMsgs: row.Messages,
			Mlat:  false,
			Tisb:  row.TISB,
		}
		if row.AltSource != 0 {
			a.GAlt = row.Altitude
		} else {
			a.Alt = row.Altitude
		}
		if row.HasPosition {
			a.Lat, a.Long = row.Lat, row.Lon
		}
		a.Spd = row.GroundSpeed
		if row.HeadingValid {
			a.Trak = row.Heading
		}
		a.Vsi = row.VertRate
		if row.Squawk != 0 {
			a.Sqk = fmt.Sprintf("%04d", row.Squawk)
		}
		a.Help = row.Emergency != 0
		a.Sig = int(row.RSSI)
		if trail, ok := includeTrails[row.ICAO]; ok {
			a.Cos = make([][]float64, 0, len(trail))
			for _, p := range trail {
				a.Cos = append(a.Cos, []float64{p.Lat, p.Lon, float64(p.Altitude)})
			}
		}
		snap.Acft = append(snap.Acft, a)
	}
	return json.Marshal(snap)
}
