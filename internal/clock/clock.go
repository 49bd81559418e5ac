// Package clock provides the single monotonic millisecond time reference
// used throughout modesd, plus the rolling statistics buckets that hang off
// it.
package clock

import (
	"sync"
	"time"
)

var (
	startWall = time.Now()
	startMono = time.Now()
)

// MsTime returns a monotonic millisecond epoch. It is the single temporal
// reference for all timestamps, expiries, and timers in the system; do not
// call time.Now directly outside this package.
func MsTime() int64 {
	return startWall.UnixMilli() + time.Since(startMono).Milliseconds()
}

// Counters holds the per-bucket tallies tracked by Stats.
type Counters struct {
	SamplesProcessed   int64
	SamplesDropped     int64
	PreamblesExamined  int64
	FramesByDF         [25]int64
	BadCRC             int64
	CorrectedBitErrors [3]int64 // histogram indexed by number of bits fixed (1 or 2; index 0 unused)
	CPUNanos           [4]int64 // per-stage: demod, decode, cpr, registry
	NetSessions        int64
	NetBytesByProto    map[string]int64
}

// NewCounters returns a zeroed Counters with its maps allocated.
func NewCounters() *Counters {
	return &Counters{NetBytesByProto: make(map[string]int64)}
}

func (c *Counters) addFrom(o *Counters) {
	c.SamplesProcessed += o.SamplesProcessed
	c.SamplesDropped += o.SamplesDropped
	c.PreamblesExamined += o.PreamblesExamined
	for i := range c.FramesByDF {
		c.FramesByDF[i] += o.FramesByDF[i]
	}
	c.BadCRC += o.BadCRC
	for i := range c.CorrectedBitErrors {
		c.CorrectedBitErrors[i] += o.CorrectedBitErrors[i]
	}
	for i := range c.CPUNanos {
		c.CPUNanos[i] += o.CPUNanos[i]
	}
	c.NetSessions += o.NetSessions
	for proto, n := range o.NetBytesByProto {
		c.NetBytesByProto[proto] += n
	}
}

// Bucket is a time-bounded window of Counters, e.g. one of the rolling
// windows named in WindowNames.
type Bucket struct {
	Start, End int64
	Counters
}

// Stats owns the "current" accumulator plus the rolling windows it feeds.
// Every 10s the current bucket is folded into each rolling window and reset.
type Stats struct {
	mu       sync.Mutex
	current  Bucket
	windows  map[string]*Bucket
	alltime  Bucket
	lastRoll int64
}

// WindowNames are the rolling stats windows tracked alongside the current bucket.
var WindowNames = []string{"10x10s", "1min", "5min", "15min", "periodic"}

// NewStats allocates a Stats with all named windows zeroed.
func NewStats() *Stats {
	s := &Stats{
		windows:  make(map[string]*Bucket, len(WindowNames)),
		lastRoll: MsTime(),
	}
	now := MsTime()
	s.current.Start = now
	s.alltime.Start = now
	for _, name := range WindowNames {
		s.windows[name] = &Bucket{Start: now, Counters: Counters{NetBytesByProto: map[string]int64{}}}
	}
	s.current.NetBytesByProto = map[string]int64{}
	s.alltime.NetBytesByProto = map[string]int64{}
	return s
}

// Current returns the live accumulator for callers to mutate in place.
func (s *Stats) Current() *Bucket {
	return &s.current
}

// Lock/Unlock expose the stats mutex so callers (the decoder, the net
// multiplexer) can safely mutate Current from a single owning goroutine
// without a data race against RollIfDue running on the stats timer.
func (s *Stats) Lock()   { s.mu.Lock() }
func (s *Stats) Unlock() { s.mu.Unlock() }

// RollIfDue folds the current bucket into every rolling window and resets it
// if at least 10s have elapsed since the last roll.
func (s *Stats) RollIfDue(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now-s.lastRoll < 10_000 {
		return
	}

	s.current.End = now
	s.alltime.addFrom(&s.current.Counters)
	s.alltime.End = now

	for _, w := range s.windows {
		w.addFrom(&s.current.Counters)
		w.End = now
	}

	s.current = Bucket{Start: now, Counters: Counters{NetBytesByProto: map[string]int64{}}}
	s.lastRoll = now
}

// Window returns a copy of the named rolling window, or nil if unknown.
func (s *Stats) Window(name string) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[name]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

// AllTime returns a copy of the all-time accumulator.
func (s *Stats) AllTime() Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alltime
}
