// Package publish implements the periodic publisher: a cooperative
// per-artifact timer scheduler that writes aircraft.json, globe tile
// shards, per-aircraft traces, a rotating history ring, a heatmap snapshot,
// and receiver.json, each through a temp-file + atomic-rename write
// discipline so a reader never observes a half-written file. Tile-shard and
// trace generation fan out across a bounded github.com/alitto/pond worker
// pool so one slow artifact never stalls the scheduler loop.
package publish

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	gzipFast "github.com/klauspost/compress/gzip"

	"modesd/internal/logging"
	"modesd/internal/netmux"
	"modesd/internal/registry"
	"modesd/internal/tile"
)

var log = logging.For("publish")

// Config controls artifact intervals and output directories.
type Config struct {
	JSONDir          string
	JSONIntervalMs   int // default 1000, floor 100
	TraceIntervalMs  int // default 30000
	HeatmapEnable    bool
	HeatmapIntervalS int // default 60
	HeatmapDir       string
	HistoryDir       string
	HistoryCapacity  int // entries before history_N.json rotates
	TileShards       int // N interleaved globe tile shards, round-robin
	GzipLevel        int // 3..5
	WorkerPoolSize   int

	TraceDir             string // base dir for traces/<hex[0:2]>/trace_full_<hex>.json
	TraceWriteIntervalMs int64  // per-aircraft minimum spacing between trace writes

	ReceiverUUID    uuid.UUID
	ReceiverLat     float64
	ReceiverLon     float64
	HaveReceiverPos bool
}

// DefaultConfig returns the publisher's default output settings.
func DefaultConfig() Config {
	return Config{
		JSONIntervalMs:       1000,
		TraceIntervalMs:      30_000,
		HeatmapIntervalS:     60,
		HistoryCapacity:      120,
		TileShards:           4,
		GzipLevel:            5,
		WorkerPoolSize:       4,
		TraceWriteIntervalMs: 30_000,
	}
}

// Publisher owns the per-artifact tickers and the bounded worker pool that
// executes tile-shard and trace generation in parallel.
type Publisher struct {
	cfg  Config
	reg  *registry.Registry
	pool *pond.WorkerPool

	historySeq int
	tileCursor int

	lastTraceWrite map[uint32]int64
	historyAtCap   bool
}

// New constructs a Publisher against reg. Call Run to start the tickers.
func New(cfg Config, reg *registry.Registry) *Publisher {
	if cfg.JSONIntervalMs < 100 {
		cfg.JSONIntervalMs = 100
	}
	if cfg.TileShards <= 0 {
		cfg.TileShards = 1
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	return &Publisher{cfg: cfg, reg: reg, lastTraceWrite: make(map[uint32]int64)}
}

// Run blocks, driving every configured artifact's ticker until ctx is
// canceled, at which point it performs one final aircraft.json write with a
// fresh timestamp before returning.
func (p *Publisher) Run(ctx context.Context) {
	p.pool = pond.New(p.cfg.WorkerPoolSize, p.cfg.WorkerPoolSize*4, pond.Context(ctx))
	defer p.pool.StopAndWait()

	p.writeReceiverJSON()

	jsonTicker := time.NewTicker(time.Duration(p.cfg.JSONIntervalMs) * time.Millisecond)
	defer jsonTicker.Stop()

	// One shard per wake, so a full tile cycle completes within a single
	// aircraft.json interval.
	globeTicker := time.NewTicker(time.Duration(maxInt(1, p.cfg.JSONIntervalMs/p.cfg.TileShards)) * time.Millisecond)
	defer globeTicker.Stop()

	var heatmapTicker *time.Ticker
	if p.cfg.HeatmapEnable {
		heatmapTicker = time.NewTicker(time.Duration(p.cfg.HeatmapIntervalS) * time.Second)
		defer heatmapTicker.Stop()
	}
	historyTicker := time.NewTicker(time.Duration(p.cfg.JSONIntervalMs) * 10 * time.Millisecond)
	defer historyTicker.Stop()

	var traceTicker *time.Ticker
	if p.cfg.TraceDir != "" {
		traceTicker = time.NewTicker(time.Duration(p.cfg.TraceWriteIntervalMs) * time.Millisecond)
		defer traceTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			p.writeAircraftJSON()
			return
		case <-jsonTicker.C:
			p.writeAircraftJSON()
		case <-globeTicker.C:
			p.writeGlobeShard()
		case <-historyTicker.C:
			p.rotateHistory()
		case <-heatmapTickerChan(heatmapTicker):
			p.writeHeatmap()
		case <-traceTickerChan(traceTicker):
			p.writeTraces()
		}
	}
}

func traceTickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func heatmapTickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func nowMs() int64 { return time.Now().UnixMilli() }

// writeAtomic writes data to a temp file in dir then renames it onto name,
// so a write error leaves the previous file in place untouched.
func writeAtomic(dir, name string, data []byte) error {
	if dir == "" {
		return fmt.Errorf("publish: no output directory configured for %s", name)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

// writeAtomicGzip writes both the plain and .gz variant of an artifact, the
// .gz encoded with klauspost/compress (materially faster than stdlib gzip on
// this hot path, which matters since it runs every tile-shard tick).
func writeAtomicGzip(dir, name string, data []byte, level int) error {
	if err := writeAtomic(dir, name, data); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".gz.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	gw, err := gzipFast.NewWriterLevel(tmp, level)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name+".gz"))
}

func (p *Publisher) writeAircraftJSON() {
	rows := p.reg.Snapshot(nil)
	data, err := netmux.EncodeAircraftJSON(nowMs(), rows)
	if err != nil {
		log.Warn("encoding aircraft.json failed", "err", err)
		return
	}
	if err := writeAtomic(p.cfg.JSONDir, "aircraft.json", data); err != nil {
		log.Warn("writing aircraft.json failed", "err", err)
	}
	if err := writeAtomic(p.cfg.JSONDir, "aircraft.binCraft", netmux.EncodeBinCraft(nowMs(), rows)); err != nil {
		log.Warn("writing aircraft.binCraft failed", "err", err)
	}
}

// writeGlobeShard publishes one of the N interleaved globe tile shards per
// tick, round-robin, fanning the per-tile encode work out across the worker
// pool so one slow shard never blocks the scheduler loop.
func (p *Publisher) writeGlobeShard() {
	if p.cfg.TileShards <= 0 {
		return
	}
	shard := p.tileCursor
	p.tileCursor = (p.tileCursor + 1) % p.cfg.TileShards
	n := p.cfg.TileShards

	count := tile.Count()
	for id := shard; id < count; id += n {
		tid := tile.ID(id)
		p.pool.Submit(func() {
			var rows []registry.Row
			p.reg.IterateTile(tid, func(r registry.Row) { rows = append(rows, r) })
			if len(rows) == 0 {
				return
			}
			data, err := netmux.EncodeAircraftJSON(nowMs(), rows)
			if err != nil {
				log.Warn("encoding globe tile failed", "tile", tid, "err", err)
				return
			}
			name := fmt.Sprintf("globe_%04x.json", uint16(tid))
			if err := writeAtomicGzip(p.cfg.JSONDir, name, data, p.cfg.GzipLevel); err != nil {
				log.Warn("writing globe tile failed", "tile", tid, "err", err)
			}
		})
	}
}

// rotateHistory appends the current snapshot as history_<seq>.json, wrapping
// seq back to 0 once HistoryCapacity entries have been written.
func (p *Publisher) rotateHistory() {
	if p.cfg.HistoryDir == "" {
		return
	}
	rows := p.reg.Snapshot(nil)
	data, err := netmux.EncodeAircraftJSON(nowMs(), rows)
	if err != nil {
		log.Warn("encoding history snapshot failed", "err", err)
		return
	}
	name := fmt.Sprintf("history_%d.json", p.historySeq)
	if err := writeAtomic(p.cfg.HistoryDir, name, data); err != nil {
		log.Warn("writing history snapshot failed", "err", err)
		return
	}
	if !p.historyAtCap && p.historySeq == p.cfg.HistoryCapacity-1 {
		p.historyAtCap = true
		p.writeReceiverJSON()
	}
	p.historySeq = (p.historySeq + 1) % maxInt(1, p.cfg.HistoryCapacity)
}

// writeHeatmap writes a VRS-format snapshot of every track with a current
// position, gzip-compressed via the stdlib's compress/gzip (the
// heatmap is a low-frequency, low-volume artifact, so the klauspost
// substitution's throughput advantage doesn't matter here the way it does
// for the per-tick globe shards).
func (p *Publisher) writeHeatmap() {
	if !p.cfg.HeatmapEnable || p.cfg.HeatmapDir == "" {
		return
	}
	rows := p.reg.Snapshot(func(r registry.Row) bool { return r.HasPosition })
	data, err := netmux.EncodeVRSJSON(nowMs(), rows, nil)
	if err != nil {
		log.Warn("encoding heatmap failed", "err", err)
		return
	}
	name := fmt.Sprintf("heatmap_%d.json.gz", nowMs()/1000)
	tmp, err := os.CreateTemp(p.cfg.HeatmapDir, name+".tmp-*")
	if err != nil {
		log.Warn("writing heatmap failed", "err", err)
		return
	}
	tmpName := tmp.Name()
	gw := gzip.NewWriter(tmp)
	if _, err := gw.Write(data); err == nil {
		err = gw.Close()
	}
	tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		log.Warn("writing heatmap failed", "err", err)
		return
	}
	if err := os.Rename(tmpName, filepath.Join(p.cfg.HeatmapDir, name)); err != nil {
		log.Warn("renaming heatmap failed", "err", err)
	}
}

// tracePoint is one JSON-serialized entry of a per-aircraft trace file,
// named `trace_full_<hex>.json` under `traces/<hex[0:2]>/`.
type tracePoint struct {
	TimeMs   int64   `json:"t"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude int     `json:"alt"`
	OnGround bool    `json:"gnd,omitempty"`
}

type traceDoc struct {
	ICAO   string       `json:"icao"`
	Points []tracePoint `json:"trace"`
}

// writeTraces lazily writes one trace_full_<hex>.json per positioned
// aircraft whose last write is at least TraceWriteIntervalMs old; it does
// not check whether the trace changed since that write. Fanned out across the worker pool since
// per-aircraft trace volume can be large.
func (p *Publisher) writeTraces() {
	if p.cfg.TraceDir == "" {
		return
	}
	now := nowMs()
	rows := p.reg.Snapshot(func(r registry.Row) bool { return r.HasPosition })
	for _, row := range rows {
		icao := row.ICAO
		if last, ok := p.lastTraceWrite[icao]; ok && now-last < p.cfg.TraceWriteIntervalMs {
			continue
		}
		p.lastTraceWrite[icao] = now
		p.pool.Submit(func() {
			points := p.reg.Trace(icao)
			if len(points) == 0 {
				return
			}
			doc := traceDoc{ICAO: fmt.Sprintf("%06x", icao)}
			doc.Points = make([]tracePoint, len(points))
			for i, pt := range points {
				doc.Points[i] = tracePoint{TimeMs: pt.TimeMs, Lat: pt.Lat, Lon: pt.Lon, Altitude: pt.Altitude, OnGround: pt.OnGround}
			}
			data, err := json.Marshal(doc)
			if err != nil {
				log.Warn("encoding trace failed", "icao", icao, "err", err)
				return
			}
			hex := fmt.Sprintf("%06x", icao)
			dir := filepath.Join(p.cfg.TraceDir, hex[:2])
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Warn("creating trace dir failed", "dir", dir, "err", err)
				return
			}
			name := fmt.Sprintf("trace_full_%s.json", hex)
			if err := writeAtomic(dir, name, data); err != nil {
				log.Warn("writing trace failed", "icao", icao, "err", err)
			}
		})
	}
}

// receiverDoc is the receiver.json document written on startup and when the
// rotating history ring first reaches capacity.
type receiverDoc struct {
	RefLat    float64 `json:"lat,omitempty"`
	RefLon    float64 `json:"lon,omitempty"`
	UUID      string  `json:"uuid,omitempty"`
	HistoryN  int     `json:"history,omitempty"`
	Timestamp int64   `json:"now"`
}

// writeReceiverJSON writes receiver.json. Called once at Run startup and
// again from rotateHistory the first time the history ring fills; a future
// receiver-position-change call site would call this too, but the core has
// no mechanism to change the receiver position after
// startup, so that trigger never fires in practice.
func (p *Publisher) writeReceiverJSON() {
	if p.cfg.JSONDir == "" {
		return
	}
	doc := receiverDoc{Timestamp: nowMs(), HistoryN: p.cfg.HistoryCapacity}
	if p.cfg.HaveReceiverPos {
		doc.RefLat, doc.RefLon = p.cfg.ReceiverLat, p.cfg.ReceiverLon
	}
	if p.cfg.ReceiverUUID != uuid.Nil {
		doc.UUID = p.cfg.ReceiverUUID.String()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		log.Warn("encoding receiver.json failed", "err", err)
		return
	}
	if err := writeAtomic(p.cfg.JSONDir, "receiver.json", data); err != nil {
		log.Warn("writing receiver.json failed", "err", err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
