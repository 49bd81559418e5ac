package netmux

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

// SBS transmission types, per the Kinetic BaseStation protocol.
const (
	sbsTxIdentification  = 1
	sbsTxSurfacePosition = 2
	sbsTxAirbornePos     = 3
	sbsTxAirborneVel     = 4
	sbsTxSurveillanceAlt = 5
	sbsTxSurveillanceID  = 6
	sbsTxAllCallReply    = 8
)

func sbsTransmissionType(m *modes.Message) int {
	switch {
	case m.Flight != "":
		return sbsTxIdentification
	case m.HasCPR && m.Surface:
		return sbsTxSurfacePosition
	case m.HasCPR:
		return sbsTxAirbornePos
	case m.VelocityKind != modes.VelocityNone:
		return sbsTxAirborneVel
	case m.DF == 5 || m.DF == 21:
		return sbsTxSurveillanceID
	case m.DF == 11:
		return sbsTxAllCallReply
	default:
		return sbsTxSurveillanceAlt
	}
}

// EncodeSBS renders one BaseStation "MSG" CSV line for a just-accepted
// message, pulling the slower-changing fields (position, speed, squawk) from
// the aircraft's current merged state in row. Empty fields
// are genuinely empty, never space-padded.
func EncodeSBS(row registry.Row, m *modes.Message, sessionID, aircraftID int) string {
	now := time.Now().UTC()
	date := now.Format("2006/01/02")
	clock := now.Format("15:04:05.000")

	flight := strings.TrimSpace(row.Flight)
	cols := []string{
		"MSG",
		strconv.Itoa(sbsTransmissionType(m)),
		strconv.Itoa(sessionID),
		strconv.Itoa(aircraftID),
		fmt.Sprintf("%06X", row.ICAO&0xFFFFFF),
		"", // flight (unused positional field in this lineage; callsign carries it)
		date, clock, date, clock,
		flight,
		intOrBlank(row.Altitude, row.HasPosition || row.Altitude != 0),
		floatOrBlank(row.GroundSpeed, row.GroundSpeed != 0),
		floatOrBlank(row.Heading, row.HeadingValid),
		floatOrBlank(row.Lat, row.HasPosition),
		floatOrBlank(row.Lon, row.HasPosition),
		intOrBlank(row.VertRate, row.VertRate != 0),
		squawkOrBlank(row.Squawk),
		boolFlag(false),
		boolFlag(row.Emergency != 0),
		boolFlag(row.SPI),
		boolFlag(row.OnGround),
	}
	return strings.Join(cols, ",") + "\n"
}

// ParseSBSLine parses one inbound BaseStation "MSG" CSV line into a Message.
// Covers the plain, priority-feed, and Jaero dialects, which differ only in
// how many of the trailing columns they bother to populate; absent columns
// decode as "present, fields absent". mlat marks the feed as
// multilateration-sourced (the MLAT SBS variant), which tags every parsed
// message accordingly.
func ParseSBSLine(line string, mlat bool) (*modes.Message, bool) {
	cols := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(cols) < 5 || cols[0] != "MSG" {
		return nil, false
	}
	icao, err := strconv.ParseUint(strings.TrimSpace(cols[4]), 16, 32)
	if err != nil || icao == 0 || icao > 0xFFFFFF {
		return nil, false
	}

	m := &modes.Message{DF: 17, ICAO: uint32(icao), CRCOK: true, MLAT: mlat}

	col := func(i int) string {
		if i >= len(cols) {
			return ""
		}
		return strings.TrimSpace(cols[i])
	}

	if v := col(10); v != "" {
		m.Flight = v
	}
	if v := col(11); v != "" {
		if alt, err := strconv.Atoi(v); err == nil {
			m.Altitude = alt
			m.AltSource = modes.AltBarometric
		}
	}
	if v := col(12); v != "" {
		if gs, err := strconv.ParseFloat(v, 64); err == nil {
			m.GroundSpeed = gs
			m.VelocityKind = modes.VelocityGroundSpeed
		}
	}
	if v := col(13); v != "" {
		if trk, err := strconv.ParseFloat(v, 64); err == nil {
			m.Heading = trk
			m.HeadingValid = true
		}
	}
	lat, latErr := strconv.ParseFloat(col(14), 64)
	lon, lonErr := strconv.ParseFloat(col(15), 64)
	if latErr == nil && lonErr == nil {
		m.HasDirectPos = true
		m.DirectLat, m.DirectLon = lat, lon
	}
	if v := col(16); v != "" {
		if vr, err := strconv.Atoi(v); err == nil {
			m.VertRate = vr
		}
	}
	if v := col(17); v != "" {
		if sq, err := strconv.Atoi(v); err == nil {
			m.Squawk = sq
			m.FlightOK = true
		}
	}
	if col(21) == "1" || strings.EqualFold(col(21), "-1") {
		m.OnGround = true
	}
	return m, true
}

func intOrBlank(v int, present bool) string {
	if !present {
		return ""
	}
	return strconv.Itoa(v)
}

func floatOrBlank(v float64, present bool) string {
	if !present {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func squawkOrBlank(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%04d", v)
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
