package netmux

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

// Mux is the top-level network fan-out component: it owns every configured
// Listener and Connector, and offers one call per message event that
// re-encodes and broadcasts to whichever sessions want that wire format.
// ForwardMLAT gates whether MLAT-sourced frames reach the network at all;
// the registry is always updated regardless, since MLAT forwarding is
// output-only.
type Mux struct {
	log         *log.Logger
	forwardMLAT bool

	mu         sync.RWMutex
	listeners  map[Format][]*Listener
	connectors []*Connector

	sessionID    int
	aircraftIDs  map[uint32]int
	nextAircraft int

	reduceMs int64
	reduced  map[uint32]reducedEntry
}

// DefaultBeastReduceIntervalMs is the window within which identical
// position reports coalesce on the Beast-reduced feed.
const DefaultBeastReduceIntervalMs = 125

// reducedEntry remembers the last position emitted per aircraft on the
// Beast-reduced feed.
type reducedEntry struct {
	lastMs   int64
	lat, lon float64
}

// NewMux builds an empty Mux. forwardMLAT controls whether MLAT-sourced
// messages are relayed to connected clients (the registry is updated either
// way).
func NewMux(forwardMLAT bool, logger *log.Logger) *Mux {
	return &Mux{
		log:         logger,
		forwardMLAT: forwardMLAT,
		listeners:   make(map[Format][]*Listener),
		sessionID:   1,
		aircraftIDs: make(map[uint32]int),
		reduceMs:    DefaultBeastReduceIntervalMs,
		reduced:     make(map[uint32]reducedEntry),
	}
}

// SetBeastReduceInterval overrides the Beast-reduced coalescing window.
func (mx *Mux) SetBeastReduceInterval(ms int) {
	if ms > 0 {
		mx.reduceMs = int64(ms)
	}
}

// AddListener registers a listener and starts serving it under ctx.
func (mx *Mux) AddListener(ctx context.Context, addr string, cfg SessionConfig) {
	l := NewListener(addr, cfg, mx.log, nil)
	mx.mu.Lock()
	mx.listeners[cfg.Format] = append(mx.listeners[cfg.Format], l)
	mx.mu.Unlock()
	go func() {
		if err := l.Serve(ctx); err != nil && mx.log != nil {
			mx.log.Error("listener stopped", "addr", addr, "err", err)
		}
	}()
}

// AddConnector registers and starts an outbound connector under ctx. The
// connector's live session (at most one at a time) is held in a dedicated
// broadcast group registered once, so redials replace the session rather
// than accumulating stale entries.
func (mx *Mux) AddConnector(ctx context.Context, primary, alt string, redialMs int, cfg SessionConfig) {
	holder := &Listener{cfg: cfg, log: mx.log, sessions: make(map[*Session]struct{})}
	c := NewConnector(primary, alt, redialMs, cfg, mx.log, func(sess *Session) {
		holder.mu.Lock()
		for old := range holder.sessions {
			delete(holder.sessions, old)
		}
		holder.sessions[sess] = struct{}{}
		holder.mu.Unlock()
	})
	mx.mu.Lock()
	mx.listeners[cfg.Format] = append(mx.listeners[cfg.Format], holder)
	mx.connectors = append(mx.connectors, c)
	mx.mu.Unlock()
	go c.Run(ctx)
}

func (mx *Mux) broadcast(f Format, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	mx.mu.RLock()
	defer mx.mu.RUnlock()
	for _, l := range mx.listeners[f] {
		l.Broadcast(chunk)
	}
}

func (mx *Mux) aircraftID(icao uint32) int {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if id, ok := mx.aircraftIDs[icao]; ok {
		return id
	}
	mx.nextAircraft++
	mx.aircraftIDs[icao] = mx.nextAircraft
	return mx.nextAircraft
}

// PublishMessage fans one decoded message out to every interested wire
// format, after the registry has already merged it into row. Raw carries the
// original Beast-framed bytes (if the source was Beast) for verbatim
// re-emission; it may be nil for non-Beast sources.
func (mx *Mux) PublishMessage(nowMs int64, m *modes.Message, row registry.Row, raw []byte) {
	if m.MLAT && !mx.forwardMLAT {
		return
	}

	frame := BuildBeastFrame(beastKindFor(m), uint64(m.SampleTimestamp), signalByte(m.SignalLevel), beastPayload(m))
	if raw != nil {
		mx.broadcast(FormatBeastVerbatim, raw)
	} else {
		mx.broadcast(FormatBeastBinary, frame)
	}
	if mx.shouldEmitReduced(nowMs, m, row) {
		mx.broadcast(FormatBeastReduced, frame)
	}
	mx.broadcast(FormatRawHex, []byte(EncodeRawHex(beastPayload(m))))
	mx.broadcast(FormatSBS, []byte(EncodeSBS(row, m, mx.sessionID, mx.aircraftID(m.ICAO))))
	if nd, err := EncodeNDJSON(nowMs, m, row); err == nil {
		mx.broadcast(FormatNDJSON, nd)
	}
}

// PublishSnapshot pushes a periodic full VRS JSON snapshot to every VRS
// session. Called from cmd/modesd's periodic VRS ticker rather than
// per-message, since VRS is a polling-style feed rather than an event
// stream.
func (mx *Mux) PublishSnapshot(nowMs int64, rows []registry.Row) {
	data, err := EncodeVRSJSON(nowMs, rows, nil)
	if err != nil {
		if mx.log != nil {
			mx.log.Warn("encoding VRS snapshot failed", "err", err)
		}
		return
	}
	mx.broadcast(FormatVRSJSON, data)
}

// shouldEmitReduced applies the Beast-reduced feed rules: position-less
// messages are dropped outright, and a report repeating the aircraft's
// already-emitted position within the coalescing window is suppressed.
func (mx *Mux) shouldEmitReduced(nowMs int64, m *modes.Message, row registry.Row) bool {
	if !m.HasCPR && !m.HasDirectPos {
		return false
	}
	if !row.HasPosition {
		return false
	}
	mx.mu.Lock()
	defer mx.mu.Unlock()
	e, ok := mx.reduced[row.ICAO]
	if ok && e.lat == row.Lat && e.lon == row.Lon && nowMs-e.lastMs < mx.reduceMs {
		return false
	}
	mx.reduced[row.ICAO] = reducedEntry{lastMs: nowMs, lat: row.Lat, lon: row.Lon}
	return true
}

func beastKindFor(m *modes.Message) byte {
	switch {
	case m.ModeAC:
		return beastTypeModeAC
	case modes.MessageLenByType(m.DF) == modes.ShortMsgBits:
		return beastTypeModeSShort
	default:
		return beastTypeModeSLong
	}
}

func signalByte(rssi float64) byte {
	if rssi < 0 {
		return 0
	}
	if rssi > 255 {
		return 255
	}
	return byte(rssi)
}

// beastPayload returns the CRC-accepted frame bytes to re-emit: the actual
// demodulated/decoded frame when the source captured one (every ingest path
// sets Message.Raw), falling back to a minimal best-effort reconstruction
// from decoded fields only for synthetic messages that never carried one.
func beastPayload(m *modes.Message) []byte {
	if len(m.Raw) > 0 {
		return m.Raw
	}
	payload := make([]byte, 4)
	payload[0] = byte(m.ICAO >> 16)
	payload[1] = byte(m.ICAO >> 8)
	payload[2] = byte(m.ICAO)
	payload[3] = byte(m.DF << 3)
	return payload
}
