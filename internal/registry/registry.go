// Package registry implements the aircraft track database: a sharded map of
// 24-bit ICAO address to track record, with per-field validity/expiry, a
// trace ring buffer, and globe-tile bookkeeping.
package registry

import (
	"sync"

	"modesd/internal/clock"
	"modesd/internal/cpr"
	"modesd/internal/modes"
	"modesd/internal/tile"
)

// NumShards is the shard count for the bucketed hash table. 64 shards keeps
// per-shard contention low without the memory overhead of one lock per
// aircraft.
const NumShards = 64

// Source ranks where a field's value came from, used to resolve Upsert's
// update-by-source-priority rule and altitude-source priority.
type Source int

const (
	SourceModeAC Source = iota
	SourceModeS
	SourceMLAT
	SourceTISB
	SourceADSB
)

// nonICAOBit tags tracks whose address is a TIS-B track-file number rather
// than an ICAO id, keying them outside the 24-bit ICAO space so a track-file
// number can never collide with a real aircraft.
const nonICAOBit = 1 << 24

// expiryMs is how long a field of the given source stays valid after its
// last update, absent a fresher message. These mirror the rough per-field
// TTLs readsb-lineage receivers use (position/velocity decay fastest,
// identity/squawk slowest since they change least often).
func expiryMs(source Source, field fieldKind) int64 {
	switch field {
	case fieldPosition:
		if source == SourceMLAT {
			return 30_000
		}
		return 60_000
	case fieldAltitude, fieldVelocity:
		return 15_000
	case fieldSquawk, fieldEmergency:
		return 60_000
	case fieldIdentity:
		return 600_000
	default:
		return 60_000
	}
}

type fieldKind int

const (
	fieldPosition fieldKind = iota
	fieldAltitude
	fieldIdentity
	fieldSquawk
	fieldVelocity
	fieldEmergency
	numFields
)

// fieldState is the per-field validity record: last update timestamp,
// source, and an expiry deadline computed by source priority.
type fieldState struct {
	lastUpdate int64
	source     Source
	expiry     int64
}

func (f *fieldState) valid(now int64) bool {
	return f.lastUpdate != 0 && now <= f.expiry
}

// accept applies the field's update-by-source-priority rule: the new value
// wins if its source priority is >= the stored one at an equal timestamp, or
// strictly greater at an earlier timestamp. Time never moves backwards for
// an already-populated field (validity is monotone).
func (f *fieldState) accept(now int64, source Source, field fieldKind) bool {
	if f.lastUpdate == 0 {
		return true
	}
	if now > f.lastUpdate {
		return true
	}
	if now == f.lastUpdate {
		return source >= f.source
	}
	return source > f.source
}

func (f *fieldState) update(now int64, source Source, field fieldKind) {
	f.lastUpdate = now
	f.source = source
	f.expiry = now + expiryMs(source, field)
}

// TracePoint is one recorded sample in a track's position/altitude history,
// appended at most every traceIntervalMs (30s default).
type TracePoint struct {
	TimeMs   int64
	Lat, Lon float64
	Altitude int
	OnGround bool
}

// traceCapacity bounds the ring buffer; 2880 points at the default 30s
// cadence covers 24h of history.
const traceCapacity = 2880

// trace is a fixed-size ring of TracePoints owned exclusively by its track;
// no external references into it. Serialization reads by index, oldest-first.
type trace struct {
	points [traceCapacity]TracePoint
	head   int
	count  int
}

func (t *trace) append(p TracePoint) {
	t.points[t.head] = p
	t.head = (t.head + 1) % traceCapacity
	if t.count < traceCapacity {
		t.count++
	}
}

// Snapshot returns the trace points oldest-first.
func (t *trace) Snapshot() []TracePoint {
	out := make([]TracePoint, t.count)
	start := (t.head - t.count + traceCapacity) % traceCapacity
	for i := 0; i < t.count; i++ {
		out[i] = t.points[(start+i)%traceCapacity]
	}
	return out
}

// Track is the per-aircraft state owned exclusively by the registry.
// Exported fields are protected by the shard lock the Track lives under;
// callers outside the registry only ever see a Row (a value-copy snapshot).
type Track struct {
	ICAO uint32

	// Identity.
	flight   fieldState
	Flight   string
	Category byte

	// Altitude.
	altitude  fieldState
	Altitude  int
	AltSource int

	// Squawk / emergency.
	squawk    fieldState
	Squawk    int
	emergency fieldState
	Emergency int
	SPI       bool
	OnGround  bool

	// Velocity.
	velocity     fieldState
	GroundSpeed  float64
	Airspeed     float64
	Heading      float64
	HeadingValid bool
	VertRate     int

	// Position.
	position    fieldState
	Lat, Lon    float64
	Reliable    bool
	reliableHit int
	Tile        tile.ID
	haveTile    bool

	// CPR resolution scratch.
	evenHalf, oddHalf   cpr.Half
	haveEven, haveOdd   bool
	prevPos             cpr.Position
	prevPosMs           int64
	havePrevPos         bool
	consecutiveRejected int

	PositionRejected uint64
	Messages         uint64
	RSSI             float64
	TISB             bool

	trace       trace
	lastTraceMs int64
}

func (t *Track) anyValid(now int64) bool {
	return t.flight.valid(now) || t.altitude.valid(now) || t.squawk.valid(now) ||
		t.emergency.valid(now) || t.velocity.valid(now) || t.position.valid(now)
}

// Row is a read-only, value-copy export of a Track's fields.
type Row struct {
	ICAO             uint32
	Flight           string
	Category         byte
	Altitude         int
	AltSource        int
	Squawk           int
	Emergency        int
	SPI              bool
	OnGround         bool
	GroundSpeed      float64
	Airspeed         float64
	Heading          float64
	HeadingValid     bool
	VertRate         int
	Lat, Lon         float64
	HasPosition      bool
	Reliable         bool
	Tile             tile.ID
	Messages         uint64
	RSSI             float64
	PositionRejected uint64
	TISB             bool
	SeenMs           int64 // last position update
	LastSeenMs       int64 // last update of any field
}

func (t *Track) row(now int64) Row {
	return Row{
		ICAO:             t.ICAO,
		Flight:           t.Flight,
		Category:         t.Category,
		Altitude:         t.Altitude,
		AltSource:        t.AltSource,
		Squawk:           t.Squawk,
		Emergency:        t.Emergency,
		SPI:              t.SPI,
		OnGround:         t.OnGround,
		GroundSpeed:      t.GroundSpeed,
		Airspeed:         t.Airspeed,
		Heading:          t.Heading,
		HeadingValid:     t.HeadingValid,
		VertRate:         t.VertRate,
		Lat:              t.Lat,
		Lon:              t.Lon,
		HasPosition:      t.position.valid(now),
		Reliable:         t.Reliable,
		Tile:             t.Tile,
		Messages:         t.Messages,
		RSSI:             t.RSSI,
		PositionRejected: t.PositionRejected,
		TISB:             t.TISB,
		SeenMs:           t.position.lastUpdate,
		LastSeenMs:       lastActivity(t),
	}
}

type shard struct {
	mu     sync.RWMutex
	tracks map[uint32]*Track
}

// Config controls the registry's CPR/speed-sanity/reliability thresholds.
type Config struct {
	ReceiverLat, ReceiverLon float64
	HaveReceiverPos          bool
	ReliableConfirmations    int // json_reliable, default 2
	TraceIntervalMs          int64
	GraceMs                  int64 // reaper grace period
	ConsecutiveRejectLimit   int
}

// DefaultConfig returns the registry's default thresholds.
func DefaultConfig() Config {
	return Config{
		ReliableConfirmations:  2,
		TraceIntervalMs:        30_000,
		GraceMs:                8 * 60_000,
		ConsecutiveRejectLimit: 3,
	}
}

// Registry is the sharded track database.
type Registry struct {
	shards [NumShards]shard
	cfg    Config

	tileMu    sync.RWMutex
	tileIndex map[tile.ID]map[uint32]struct{}
}

// New allocates an empty Registry.
func New(cfg Config) *Registry {
	r := &Registry{cfg: cfg, tileIndex: make(map[tile.ID]map[uint32]struct{})}
	for i := range r.shards {
		r.shards[i].tracks = make(map[uint32]*Track)
	}
	return r
}

func (r *Registry) shardFor(icao uint32) *shard {
	return &r.shards[icao%NumShards]
}

func sourceFor(m *modes.Message) Source {
	switch {
	case m.MLAT:
		return SourceMLAT
	case m.TISB:
		return SourceTISB
	case m.DF == 17 || m.DF == 18:
		return SourceADSB
	case m.ModeAC:
		return SourceModeAC
	default:
		return SourceModeS
	}
}

// trackKey maps a message to its registry key: the ICAO address, shifted
// into a separate keyspace for non-ICAO (TIS-B track-file) addressing.
func trackKey(m *modes.Message) uint32 {
	if m.NonICAO {
		return m.ICAO | nonICAOBit
	}
	return m.ICAO
}

// Upsert applies a decoded message to the registry, creating the track on
// first sight. Returns the track's current exported row.
func (r *Registry) Upsert(m *modes.Message) Row {
	now := clock.MsTime()
	src := sourceFor(m)
	key := trackKey(m)
	sh := r.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	t, ok := sh.tracks[key]
	if !ok {
		t = &Track{ICAO: key}
		sh.tracks[key] = t
	}

	if m.TISB {
		t.TISB = true
	}
	t.Messages++
	if m.SignalLevel != 0 {
		t.RSSI = t.RSSI*0.8 + m.SignalLevel*0.2
	}

	if m.Flight != "" && t.flight.accept(now, src, fieldIdentity) {
		t.flight.update(now, src, fieldIdentity)
		t.Flight = m.Flight
		t.Category = m.Category
	}

	if (m.DF == 0 || m.DF == 4 || m.DF == 16 || m.DF == 20 || m.HasCPR) && m.Altitude != 0 {
		r.acceptAltitude(t, m, now, src)
	}

	if m.FlightOK {
		t.squawk.update(now, src, fieldSquawk)
		t.OnGround = m.OnGround
		t.SPI = m.SPI
		if m.Squawk != 0 {
			t.Squawk = m.Squawk
		}
	}
	if m.DF == 17 && m.Emergency != 0 {
		t.emergency.update(now, src, fieldEmergency)
		t.Emergency = m.Emergency
	}

	if m.VelocityKind != modes.VelocityNone && t.velocity.accept(now, src, fieldVelocity) {
		t.velocity.update(now, src, fieldVelocity)
		switch m.VelocityKind {
		case modes.VelocityGroundSpeed:
			t.GroundSpeed = m.GroundSpeed
		case modes.VelocityAirspeed:
			t.Airspeed = m.Airspeed
		}
		if m.HeadingValid {
			t.Heading = m.Heading
			t.HeadingValid = true
		}
		t.VertRate = m.VertRate
	}

	if m.HasCPR {
		r.resolvePosition(t, m, now, src)
	} else if m.HasDirectPos {
		r.applyPosition(t, cpr.Position{Lat: m.DirectLat, Lon: m.DirectLon}, m, now, src)
	}

	return t.row(now)
}

// acceptAltitude implements altitude-source priority: "GNSS
// overrides barometric only when GNSS is fresher than a bounded skew".
func (r *Registry) acceptAltitude(t *Track, m *modes.Message, now int64, src Source) {
	const gnssSkewMs = 5_000
	if m.AltSource == modes.AltGNSS {
		t.altitude.update(now, src, fieldAltitude)
		t.Altitude = m.Altitude
		t.AltSource = modes.AltGNSS
		return
	}
	// Barometric: only refuse to overwrite a GNSS value that is still
	// within the bounded-skew freshness window.
	if t.AltSource == modes.AltGNSS && now-t.altitude.lastUpdate <= gnssSkewMs {
		return
	}
	t.altitude.update(now, src, fieldAltitude)
	t.Altitude = m.Altitude
	t.AltSource = modes.AltBarometric
}

// resolvePosition runs the CPR resolution path: global resolution when a
// fresh even+odd pair exists, else a local/relative resolution against the
// previous accepted position or the receiver's own location, gated by the
// speed-sanity filter.
func (r *Registry) resolvePosition(t *Track, m *modes.Message, now int64, src Source) {
	half := cpr.Half{Lat17: m.RawLat, Lon17: m.RawLon, TimeMs: now, Surface: m.Surface}
	if m.CPRFlag == modes.CPREven {
		t.evenHalf, t.haveEven = half, true
	} else {
		t.oddHalf, t.haveOdd = half, true
	}

	var pos cpr.Position
	var ok bool
	if t.haveEven && t.haveOdd {
		pos, ok = cpr.Global(t.evenHalf, t.oddHalf, now)
	}
	if !ok {
		maxRange := 180.0
		if m.Surface {
			maxRange = 45.0
		}
		ref, haveRef := r.referencePosition(t)
		if !haveRef {
			return
		}
		if m.CPRFlag == modes.CPREven {
			pos, ok = cpr.LocalEven(half, ref, maxRange)
		} else {
			pos, ok = cpr.LocalOdd(half, ref, maxRange)
		}
	}
	if !ok {
		return
	}

	r.applyPosition(t, pos, m, now, src)
}

// applyPosition runs the speed-sanity filter over a resolved candidate
// position and, if it passes, commits it: per-field validity, the reliable
// confirmation counter, the globe tile index, and the trace ring. Shared by
// the CPR path and sources that deliver lat/lon directly (SBS input, MLAT).
func (r *Registry) applyPosition(t *Track, pos cpr.Position, m *modes.Message, now int64, src Source) {
	supersonic := m.CategoryHint == modes.CategorySupersonic
	if t.havePrevPos {
		if !cpr.SpeedSane(t.prevPos, pos, t.prevPosMs, now, m.Surface, supersonic) {
			t.PositionRejected++
			t.consecutiveRejected++
			if t.consecutiveRejected >= r.cfg.ConsecutiveRejectLimit {
				// N consecutive violations trigger a position-state reset.
				t.haveEven, t.haveOdd = false, false
				t.havePrevPos = false
				t.Reliable = false
				t.reliableHit = 0
				t.consecutiveRejected = 0
			}
			return
		}
	}
	t.consecutiveRejected = 0

	t.Lat, t.Lon = pos.Lat, pos.Lon
	t.position.update(now, src, fieldPosition)
	t.prevPos, t.prevPosMs, t.havePrevPos = pos, now, true
	t.reliableHit++
	if t.reliableHit >= r.cfg.ReliableConfirmations {
		t.Reliable = true
	}

	newTile := tile.Of(pos.Lat, pos.Lon)
	if !t.haveTile || newTile != t.Tile {
		if t.haveTile {
			r.moveTile(t.ICAO, t.Tile, newTile)
		} else {
			r.addToTile(t.ICAO, newTile)
		}
		t.Tile = newTile
		t.haveTile = true
	}

	if now-t.lastTraceMs >= r.cfg.TraceIntervalMs {
		t.trace.append(TracePoint{TimeMs: now, Lat: pos.Lat, Lon: pos.Lon, Altitude: t.Altitude, OnGround: t.OnGround})
		t.lastTraceMs = now
	}
}

func (r *Registry) referencePosition(t *Track) (cpr.Position, bool) {
	if t.havePrevPos {
		return t.prevPos, true
	}
	if r.cfg.HaveReceiverPos {
		return cpr.Position{Lat: r.cfg.ReceiverLat, Lon: r.cfg.ReceiverLon}, true
	}
	return cpr.Position{}, false
}

func (r *Registry) removeFromTile(icao uint32, from tile.ID) {
	r.tileMu.Lock()
	defer r.tileMu.Unlock()
	if set, ok := r.tileIndex[from]; ok {
		delete(set, icao)
		if len(set) == 0 {
			delete(r.tileIndex, from)
		}
	}
}

func (r *Registry) addToTile(icao uint32, to tile.ID) {
	r.tileMu.Lock()
	defer r.tileMu.Unlock()
	set, ok := r.tileIndex[to]
	if !ok {
		set = make(map[uint32]struct{})
		r.tileIndex[to] = set
	}
	set[icao] = struct{}{}
}

func (r *Registry) moveTile(icao uint32, from, to tile.ID) {
	r.tileMu.Lock()
	defer r.tileMu.Unlock()
	if set, ok := r.tileIndex[from]; ok {
		delete(set, icao)
		if len(set) == 0 {
			delete(r.tileIndex, from)
		}
	}
	set, ok := r.tileIndex[to]
	if !ok {
		set = make(map[uint32]struct{})
		r.tileIndex[to] = set
	}
	set[icao] = struct{}{}
}

// Snapshot returns a consistent subset of tracks matching filter (nil means
// all), each bucket locked only for the duration of its own copy.
func (r *Registry) Snapshot(filter func(Row) bool) []Row {
	now := clock.MsTime()
	var out []Row
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, t := range sh.tracks {
			if !t.anyValid(now) {
				continue
			}
			row := t.row(now)
			if filter == nil || filter(row) {
				out = append(out, row)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Trace returns the trace point history for one aircraft, or nil if unknown.
func (r *Registry) Trace(icao uint32) []TracePoint {
	sh := r.shardFor(icao)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	t, ok := sh.tracks[icao]
	if !ok {
		return nil
	}
	return t.trace.Snapshot()
}

// IterateTile enumerates the rows currently registered to tile id, for
// per-tile globe_<tile>.json generation.
func (r *Registry) IterateTile(id tile.ID, visit func(Row)) {
	r.tileMu.RLock()
	icaos := make([]uint32, 0, len(r.tileIndex[id]))
	for icao := range r.tileIndex[id] {
		icaos = append(icaos, icao)
	}
	r.tileMu.RUnlock()

	now := clock.MsTime()
	for _, icao := range icaos {
		sh := r.shardFor(icao)
		sh.mu.RLock()
		if t, ok := sh.tracks[icao]; ok {
			visit(t.row(now))
		}
		sh.mu.RUnlock()
	}
}

// Expire walks all buckets and evicts tracks whose every field has lapsed
// past the configured grace period. Returns the number of tracks removed.
func (r *Registry) Expire(now int64) int {
	removed := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for icao, t := range sh.tracks {
			if now-lastActivity(t) > r.cfg.GraceMs {
				delete(sh.tracks, icao)
				removed++
				if t.haveTile {
					r.removeFromTile(icao, t.Tile)
				}
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func lastActivity(t *Track) int64 {
	max := t.flight.lastUpdate
	for _, v := range []int64{t.altitude.lastUpdate, t.squawk.lastUpdate, t.emergency.lastUpdate, t.velocity.lastUpdate, t.position.lastUpdate} {
		if v > max {
			max = v
		}
	}
	return max
}

// Count returns the number of live tracks across all shards.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].tracks)
		r.shards[i].mu.RUnlock()
	}
	return n
}
