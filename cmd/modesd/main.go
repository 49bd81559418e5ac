// Command modesd is the Mode-S/ADS-B/TIS-B receiver and fan-out service: it
// wires the config loader, registry, network multiplexer, and periodic
// publisher together under a cancellable context, with a bounded-wait,
// broadcast-and-join graceful shutdown on signal.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"modesd/internal/clock"
	"modesd/internal/config"
	"modesd/internal/ingest"
	"modesd/internal/logging"
	"modesd/internal/modes"
	"modesd/internal/netmux"
	"modesd/internal/publish"
	"modesd/internal/receiverid"
	"modesd/internal/registry"
)

var log = logging.For("main")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logging.Fatal("config", "failed to load configuration", "err", err)
	}
	if anyDebugFlagSet(cfg.Debug) {
		logging.SetLevel(charmlog.DebugLevel)
	}

	os.Exit(run(cfg))
}

// run wires and drives the whole pipeline, returning the process exit code:
// 0 for a normal shutdown, 1 for a fatal init error or abnormal shutdown.
func run(cfg config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var receiverUUID uuid.UUID
	if cfg.UUIDFile != "" {
		id, err := receiverid.LoadOrCreate(cfg.UUIDFile)
		if err != nil {
			log.Error("loading receiver uuid failed", "err", err)
			return 1
		}
		receiverUUID = id
	}

	reg := registry.New(registry.Config{
		ReceiverLat:            cfg.ReceiverLat,
		ReceiverLon:            cfg.ReceiverLon,
		HaveReceiverPos:        cfg.HaveReceiverPos,
		ReliableConfirmations:  max(cfg.ReliableConfirmations, 1),
		TraceIntervalMs:        cfg.TraceIntervalMs,
		GraceMs:                8 * 60_000,
		ConsecutiveRejectLimit: 3,
	})

	mux := netmux.NewMux(cfg.ForwardMLAT, logging.For("netmux"))
	mux.SetBeastReduceInterval(cfg.BeastReduceInterval)
	startListeners(ctx, mux, cfg)
	startConnectors(ctx, mux, cfg)

	pub := publishFromConfig(cfg, reg, receiverUUID)
	go pub.Run(ctx)

	stats := modes.NewDemodStats()
	filter := modes.NewICAOFilter()
	rolling := clock.NewStats()

	handle := func(m *modes.Message) {
		// Mode-A/C replies carry no ICAO address, so they fan out to the
		// network without a registry track behind them.
		var row registry.Row
		if !m.ModeAC || m.ICAO != 0 {
			row = reg.Upsert(m)
		}
		mux.PublishMessage(clock.MsTime(), m, row, nil)
		rolling.Lock()
		cur := rolling.Current()
		if m.DF >= 0 && m.DF < len(cur.FramesByDF) {
			cur.FramesByDF[m.DF]++
		}
		if n := m.ErrorBits; n >= 1 && n < len(cur.CorrectedBitErrors) {
			cur.CorrectedBitErrors[n]++
		}
		rolling.Unlock()
	}

	ingestDone := make(chan error, 1)
	go func() { ingestDone <- startIngest(ctx, cfg, filter, stats, handle) }()

	go runVRSSnapshotLoop(ctx, mux, reg)
	go runExpireLoop(ctx, reg, rolling)

	select {
	case <-ctx.Done():
	case err := <-ingestDone:
		if err != nil {
			log.Error("ingest source failed", "err", err)
			stop()
			return 1
		}
	}

	log.Info("shutting down")
	waitWithTimeout(ingestDone, 10*time.Second)
	return 0
}

func anyDebugFlagSet(f config.DebugFlags) bool {
	return f.Demod || f.DemodVerbose || f.CPR || f.CPRVerbose || f.Position ||
		f.Net || f.Publish || f.Registry || f.Stats || f.GlobeIndex || f.Trace ||
		f.Config || f.JSON || f.OutputCodec || f.UUID
}

func startListeners(ctx context.Context, mux *netmux.Mux, cfg config.Config) {
	addListenersForPorts := func(ports []int, sessionCfg netmux.SessionConfig) {
		for _, port := range ports {
			addr := fmt.Sprintf("%s:%d", cfg.BindAddress, port)
			mux.AddListener(ctx, addr, sessionCfg)
		}
	}

	base := netmux.SessionConfig{
		FlushSize:        cfg.NetOutputFlushSize,
		FlushIntervalMs:  cfg.NetOutputFlushInterval,
		HeartbeatSeconds: cfg.NetHeartbeatInterval,
		ForwardMLAT:      cfg.ForwardMLAT,
	}

	beastCfg := base
	beastCfg.Format = netmux.FormatBeastBinary
	addListenersForPorts(cfg.BeastPorts, beastCfg)

	beastRedCfg := base
	beastRedCfg.Format = netmux.FormatBeastReduced
	addListenersForPorts(cfg.BeastReducedPorts, beastRedCfg)

	rawCfg := base
	rawCfg.Format = netmux.FormatRawHex
	addListenersForPorts(cfg.RawPorts, rawCfg)

	sbsCfg := base
	sbsCfg.Format = netmux.FormatSBS
	addListenersForPorts(cfg.SBSPorts, sbsCfg)

	vrsCfg := base
	vrsCfg.Format = netmux.FormatVRSJSON
	addListenersForPorts(cfg.VRSPorts, vrsCfg)

	ndjsonCfg := base
	ndjsonCfg.Format = netmux.FormatNDJSON
	addListenersForPorts(cfg.NDJSONPorts, ndjsonCfg)
}

func startConnectors(ctx context.Context, mux *netmux.Mux, cfg config.Config) {
	for _, c := range cfg.Connectors {
		sessionCfg := netmux.SessionConfig{
			Format:           formatForProtocol(c.Protocol),
			FlushSize:        cfg.NetOutputFlushSize,
			FlushIntervalMs:  cfg.NetOutputFlushInterval,
			HeartbeatSeconds: cfg.NetHeartbeatInterval,
			ForwardMLAT:      cfg.ForwardMLAT,
		}
		mux.AddConnector(ctx, c.Target, c.AltTarget, c.DelayMs, sessionCfg)
	}
}

func formatForProtocol(protocol string) netmux.Format {
	switch protocol {
	case "beast_out", "beast":
		return netmux.FormatBeastBinary
	case "beast_reduce_out", "beast_reduce":
		return netmux.FormatBeastReduced
	case "raw_out", "raw":
		return netmux.FormatRawHex
	case "sbs_out", "sbs":
		return netmux.FormatSBS
	case "vrs_out", "vrs":
		return netmux.FormatVRSJSON
	default:
		return netmux.FormatNDJSON
	}
}

func publishFromConfig(cfg config.Config, reg *registry.Registry, receiverUUID uuid.UUID) *publish.Publisher {
	pc := publish.DefaultConfig()
	pc.JSONDir = cfg.JSONDir
	if cfg.JSONInterval > 0 {
		pc.JSONIntervalMs = cfg.JSONInterval
	}
	if cfg.JSONTraceInterval > 0 {
		pc.TraceIntervalMs = cfg.JSONTraceInterval
	}
	pc.HeatmapEnable = cfg.HeatmapEnable
	if cfg.HeatmapInterval > 0 {
		pc.HeatmapIntervalS = cfg.HeatmapInterval
	}
	pc.HeatmapDir = cfg.HeatmapDir
	pc.HistoryDir = cfg.HistoryDir
	pc.TraceDir = cfg.TraceDir
	pc.ReceiverUUID = receiverUUID
	pc.ReceiverLat = cfg.ReceiverLat
	pc.ReceiverLon = cfg.ReceiverLon
	pc.HaveReceiverPos = cfg.HaveReceiverPos
	return publish.New(pc, reg)
}

// startIngest runs the configured input source until ctx is canceled,
// decoding frames into Messages and handing each to handle. Returns the
// terminal error from the source (nil on a clean ctx-cancellation exit).
func startIngest(ctx context.Context, cfg config.Config, filter *modes.ICAOFilter, stats *modes.DemodStats, handle func(*modes.Message)) error {
	switch cfg.InputSource {
	case "rawhex":
		return ingest.RunSubprocessRawHex(ctx, cfg.InputTarget, func(f ingest.Frame) {
			if msg, err := ingest.DecodeRawFrame(f, cfg.CRCFixBudget, filter, stats); err == nil {
				handle(msg)
			}
		})
	case "beast":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.InputTarget)
		if err != nil {
			return fmt.Errorf("dialing beast input source %s: %w", cfg.InputTarget, err)
		}
		return ingest.RunConnBeast(ctx, conn, func(f ingest.Frame) {
			if msg, err := ingest.DecodeRawFrame(f, cfg.CRCFixBudget, filter, stats); err == nil {
				handle(msg)
			}
		})
	case "sbs", "sbs_mlat", "sbs_jaero":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", cfg.InputTarget)
		if err != nil {
			return fmt.Errorf("dialing sbs input source %s: %w", cfg.InputTarget, err)
		}
		go func() { <-ctx.Done(); conn.Close() }()
		return ingest.RunConnSBS(ctx, conn, cfg.InputSource == "sbs_mlat", handle)
	default: // "samples": raw magnitude samples from stdin through the demodulator
		ring := modes.NewRing()
		go ingest.DecodeSampleRing(ctx, ring, cfg.CRCFixBudget, cfg.ModeACEnable, filter, stats, handle)
		return ingest.RunSampleStdin(ctx, os.Stdin, ring)
	}
}

func runVRSSnapshotLoop(ctx context.Context, mux *netmux.Mux, reg *registry.Registry) {
	const vrsIntervalMs = 5000
	ticker := time.NewTicker(vrsIntervalMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mux.PublishSnapshot(clock.MsTime(), reg.Snapshot(nil))
		}
	}
}

func runExpireLoop(ctx context.Context, reg *registry.Registry, rolling *clock.Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := clock.MsTime()
			reg.Expire(now)
			rolling.RollIfDue(now)
		}
	}
}

func waitWithTimeout(done <-chan error, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("ingest worker did not exit within timeout, forcing shutdown")
		os.Exit(1)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
