// Package config loads modesd's runtime configuration from command-line
// flags (github.com/spf13/pflag) layered with an optional YAML override
// file (gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Connector describes one outbound network feed target: protocol, fallback
// target, and redial delay.
type Connector struct {
	Protocol  string `yaml:"protocol"`
	Target    string `yaml:"target"`
	AltTarget string `yaml:"alt_target"`
	DelayMs   int    `yaml:"delay_ms"`
}

// DebugFlags is the parsed form of the `-d` bitset:
// `{d,D,c,C,p,n,P,R,S,G,T,K,j,O,U}`. Each letter toggles one named debug
// category, using a `-d`/`-q` style letter-bitset convention.
type DebugFlags struct {
	Demod        bool // d: demodulator stats
	DemodVerbose bool // D: demodulator verbose per-frame
	CPR          bool // c: CPR resolution
	CPRVerbose   bool // C: CPR verbose
	Position     bool // p: position updates
	Net          bool // n: network sessions
	Publish      bool // P: publisher ticks
	Registry     bool // R: registry upsert/expire
	Stats        bool // S: stats window rollover
	GlobeIndex   bool // G: globe tile index
	Trace        bool // T: per-aircraft trace
	Config       bool // K: config load
	JSON         bool // j: JSON artifact writes
	OutputCodec  bool // O: output codec encode/decode
	UUID         bool // U: receiver uuid load/create
}

// validDebugLetters is used to reject unknown letters as a fatal
// configuration error at startup.
var validDebugLetters = "dDcCpnPRSGTKjOU"

// ParseDebugFlags turns a `-d` argument string into a DebugFlags set. An
// unrecognized letter is a fatal configuration error, not silently ignored.
func ParseDebugFlags(s string) (DebugFlags, error) {
	var f DebugFlags
	for _, r := range s {
		switch r {
		case 'd':
			f.Demod = true
		case 'D':
			f.DemodVerbose = true
		case 'c':
			f.CPR = true
		case 'C':
			f.CPRVerbose = true
		case 'p':
			f.Position = true
		case 'n':
			f.Net = true
		case 'P':
			f.Publish = true
		case 'R':
			f.Registry = true
		case 'S':
			f.Stats = true
		case 'G':
			f.GlobeIndex = true
		case 'T':
			f.Trace = true
		case 'K':
			f.Config = true
		case 'j':
			f.JSON = true
		case 'O':
			f.OutputCodec = true
		case 'U':
			f.UUID = true
		default:
			return f, fmt.Errorf("config: unrecognized debug flag %q (valid: %s)", r, validDebugLetters)
		}
	}
	return f, nil
}

// Config is the full, validated runtime configuration.
type Config struct {
	ReceiverLat     float64 `yaml:"receiver_lat"`
	ReceiverLon     float64 `yaml:"receiver_lon"`
	HaveReceiverPos bool    `yaml:"-"`
	MaxRangeMeters  float64 `yaml:"max_range_m"`

	CRCFixBudget int `yaml:"crc_fix_budget"` // 0 none, 1 single-bit, -1 aggressive (two-bit)

	ModeACEnable bool `yaml:"modeac_enable"`
	ModeACAuto   bool `yaml:"modeac_auto"`

	BindAddress       string `yaml:"bind_address"`
	BeastPorts        []int  `yaml:"beast_ports"`
	BeastReducedPorts []int  `yaml:"beast_reduced_ports"`
	RawPorts          []int  `yaml:"raw_ports"`
	SBSPorts          []int  `yaml:"sbs_ports"`
	VRSPorts          []int  `yaml:"vrs_ports"`
	NDJSONPorts       []int  `yaml:"ndjson_ports"`

	NetOutputFlushSize     int  `yaml:"net_output_flush_size"`
	NetOutputFlushInterval int  `yaml:"net_output_flush_interval_ms"`
	NetHeartbeatInterval   int  `yaml:"net_heartbeat_interval_s"`
	BeastReduceInterval    int  `yaml:"beast_reduce_interval_ms"`
	ForwardMLAT            bool `yaml:"forward_mlat"`

	Connectors []Connector `yaml:"connectors"`

	ReliableConfirmations int `yaml:"json_reliable"` // -1..4, default 2

	JSONDir           string `yaml:"json_dir"`
	JSONInterval      int    `yaml:"json_interval_ms"`
	JSONTraceInterval int    `yaml:"json_trace_interval_ms"`
	GlobeIndexMode    string `yaml:"globe_index_mode"`
	TraceIntervalMs   int64  `yaml:"trace_interval_ms"`

	HeatmapEnable   bool   `yaml:"heatmap_enable"`
	HeatmapInterval int    `yaml:"heatmap_interval_s"`
	HeatmapDir      string `yaml:"heatmap_dir"`

	HistoryDir string `yaml:"history_dir"`
	StateDir   string `yaml:"state_dir"`
	UUIDFile   string `yaml:"uuid_file"`
	TraceDir   string `yaml:"trace_dir"`

	// InputSource selects the external collaborator feeding the core:
	// "samples" reads raw magnitude samples from stdin through the
	// demodulator; "rawhex"/"beast" read pre-decoded frames from
	// InputTarget (a subprocess path for rawhex, a host:port for beast);
	// "sbs"/"sbs_mlat"/"sbs_jaero" read BaseStation CSV from a host:port.
	InputSource string `yaml:"input_source"`
	InputTarget string `yaml:"input_target"`

	Debug DebugFlags `yaml:"-"`

	// CPRFocus/ReceiverFocus are debug filters only: never consulted by any
	// accept/reject decision, diagnostic logging only.
	CPRFocus      uint32 `yaml:"-"`
	ReceiverFocus bool   `yaml:"-"`
}

// Defaults returns the configuration's documented default values.
func Defaults() Config {
	return Config{
		BindAddress:            "0.0.0.0",
		CRCFixBudget:           1,
		NetOutputFlushSize:     1280,
		NetOutputFlushInterval: 50,
		NetHeartbeatInterval:   60,
		BeastReduceInterval:    125,
		ReliableConfirmations:  2,
		JSONInterval:           1000,
		JSONTraceInterval:      30_000,
		TraceIntervalMs:        30_000,
		HeatmapInterval:        60,
		GlobeIndexMode:         "s2",
		InputSource:            "samples",
	}
}

// Load parses command-line flags (and, if -config-file names one, a YAML
// override file layered underneath them) into a validated Config. Fatal
// configuration errors are returned as plain errors; cmd/modesd logs them at
// Fatal and exits 1.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("modesd", pflag.ContinueOnError)

	cfg := Defaults()

	configFile := fs.StringP("config-file", "c", "", "YAML configuration file overriding defaults")
	lat := fs.Float64("lat", 0, "receiver latitude")
	lon := fs.Float64("lon", 0, "receiver longitude")
	haveLatLon := fs.Bool("have-position", false, "receiver position is known (enables local CPR resolution without a prior fix)")
	maxRange := fs.Float64("max-range", 0, "maximum acceptable range from the receiver, metres (0 disables the check)")
	crcFix := fs.Int("crc-fix", 1, "CRC bit-fix budget: 0 none, 1 single-bit, -1 aggressive (two-bit)")
	modeAC := fs.Bool("modeac", false, "enable Mode-A/C demodulation")
	modeACAuto := fs.Bool("modeac-auto", false, "auto-enable Mode-A/C when no DF17 traffic is seen")
	bind := fs.String("bind", cfg.BindAddress, "listener bind address")
	flushSize := fs.Int("net-output-flush-size", cfg.NetOutputFlushSize, "bytes buffered before a forced flush (max 65536)")
	flushInterval := fs.Int("net-output-flush-interval", cfg.NetOutputFlushInterval, "milliseconds buffered before a forced flush (5..1000)")
	heartbeat := fs.Int("net-heartbeat-interval", cfg.NetHeartbeatInterval, "seconds of silence before a keepalive is sent")
	beastReduceInterval := fs.Int("net-beast-reduce-interval", cfg.BeastReduceInterval, "milliseconds within which identical beast-reduced position reports coalesce")
	forwardMLAT := fs.Bool("forward-mlat", false, "relay MLAT-sourced messages to network clients (registry is always updated)")
	reliable := fs.Int("json-reliable", cfg.ReliableConfirmations, "consecutive confirmations before a position is marked reliable (-1..4)")
	jsonDir := fs.String("json-dir", "", "directory for aircraft.json / globe tile shards")
	jsonInterval := fs.Int("json-interval", cfg.JSONInterval, "milliseconds between aircraft.json writes (floor 100)")
	traceInterval := fs.Int("json-trace-interval", cfg.JSONTraceInterval, "milliseconds between per-aircraft trace writes")
	heatmapEnable := fs.Bool("heatmap", false, "enable heatmap snapshot generation")
	heatmapInterval := fs.Int("heatmap-interval", cfg.HeatmapInterval, "seconds between heatmap snapshots")
	heatmapDir := fs.String("heatmap-dir", "", "directory for heatmap snapshots")
	historyDir := fs.String("history-dir", "", "directory for history_N.json rotation")
	stateDir := fs.String("state-dir", "", "directory for internal_state persistence")
	uuidFile := fs.String("uuid-file", "", "file path for the persisted receiver uuid")
	traceDir := fs.String("trace-dir", "", "base directory for per-aircraft trace_full_<hex>.json files")
	inputSource := fs.String("input-source", cfg.InputSource, "input source: samples, rawhex, beast, sbs, sbs_mlat, or sbs_jaero")
	inputTarget := fs.String("input-target", "", "subprocess path (rawhex) or host:port (beast) for the input source")
	debugStr := fs.StringP("debug", "d", "", "debug flag letters: "+validDebugLetters)
	cprFocus := fs.Uint32("cpr-focus", 0, "diagnostic-only: log CPR resolution detail for one ICAO address")
	receiverFocus := fs.Bool("receiver-focus", false, "diagnostic-only: log extra detail about the receiver's own reference position")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configFile != "" {
		raw, err := os.ReadFile(*configFile)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", *configFile, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", *configFile, err)
		}
	}

	// Flags layer on top of the YAML file (or the baked-in defaults) only
	// when the flag was actually supplied.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "lat":
			cfg.ReceiverLat = *lat
		case "lon":
			cfg.ReceiverLon = *lon
		case "have-position":
			cfg.HaveReceiverPos = *haveLatLon
		case "max-range":
			cfg.MaxRangeMeters = *maxRange
		case "crc-fix":
			cfg.CRCFixBudget = *crcFix
		case "modeac":
			cfg.ModeACEnable = *modeAC
		case "modeac-auto":
			cfg.ModeACAuto = *modeACAuto
		case "bind":
			cfg.BindAddress = *bind
		case "net-output-flush-size":
			cfg.NetOutputFlushSize = *flushSize
		case "net-output-flush-interval":
			cfg.NetOutputFlushInterval = *flushInterval
		case "net-heartbeat-interval":
			cfg.NetHeartbeatInterval = *heartbeat
		case "net-beast-reduce-interval":
			cfg.BeastReduceInterval = *beastReduceInterval
		case "forward-mlat":
			cfg.ForwardMLAT = *forwardMLAT
		case "json-reliable":
			cfg.ReliableConfirmations = *reliable
		case "json-dir":
			cfg.JSONDir = *jsonDir
		case "json-interval":
			cfg.JSONInterval = *jsonInterval
		case "json-trace-interval":
			cfg.JSONTraceInterval = *traceInterval
		case "heatmap":
			cfg.HeatmapEnable = *heatmapEnable
		case "heatmap-interval":
			cfg.HeatmapInterval = *heatmapInterval
		case "heatmap-dir":
			cfg.HeatmapDir = *heatmapDir
		case "history-dir":
			cfg.HistoryDir = *historyDir
		case "state-dir":
			cfg.StateDir = *stateDir
		case "uuid-file":
			cfg.UUIDFile = *uuidFile
		case "trace-dir":
			cfg.TraceDir = *traceDir
		case "input-source":
			cfg.InputSource = *inputSource
		case "input-target":
			cfg.InputTarget = *inputTarget
		case "cpr-focus":
			cfg.CPRFocus = *cprFocus
		case "receiver-focus":
			cfg.ReceiverFocus = *receiverFocus
		}
	})
	if *haveLatLon {
		cfg.HaveReceiverPos = true
	}

	// -1 is the "aggressive" sentinel: a two-bit correction budget.
	if cfg.CRCFixBudget < 0 {
		cfg.CRCFixBudget = 2
	}

	if *debugStr != "" {
		flags, err := ParseDebugFlags(*debugStr)
		if err != nil {
			return cfg, err
		}
		cfg.Debug = flags
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReliableConfirmations < -1 || c.ReliableConfirmations > 4 {
		return fmt.Errorf("config: json_reliable must be in -1..4, got %d", c.ReliableConfirmations)
	}
	if c.NetOutputFlushSize <= 0 || c.NetOutputFlushSize > 65536 {
		return fmt.Errorf("config: net_output_flush_size out of range: %d", c.NetOutputFlushSize)
	}
	// TODO: the intended upper bound on the raw CLI argument is unclear (5ms
	// vs 1000ms appear in different places), so this only rejects
	// obviously-invalid (<=0) values and leaves clamping to the netmux
	// session layer rather than guessing a stricter bound here.
	if c.NetOutputFlushInterval <= 0 {
		return fmt.Errorf("config: net_output_flush_interval must be positive, got %d", c.NetOutputFlushInterval)
	}
	if c.JSONInterval < 100 {
		return fmt.Errorf("config: json_interval floor is 100ms, got %d", c.JSONInterval)
	}
	return nil
}
