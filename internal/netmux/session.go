// Package netmux is the network multiplexer: it fans decoded/relayed
// traffic out to listeners and outbound connectors in whichever wire format
// each one was configured for (Beast, raw-hex, SBS, VRS JSON, NDJSON,
// binCraft), coalescing small writes and dropping slow readers under
// backpressure. Its shape is an accept-loop-per-port, one-goroutine-per-
// connection socket server with flush-size/flush-interval/heartbeat
// coalescing and backpressure-drop rules.
package netmux

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Format selects the wire encoding a Session writes.
type Format int

const (
	FormatBeastBinary Format = iota
	FormatBeastReduced
	FormatBeastVerbatim
	FormatRawHex
	FormatSBS
	FormatNDJSON
	FormatVRSJSON
)

// Defaults from "Recognized configuration options".
const (
	DefaultFlushSize        = 1280
	MaxFlushSize            = 64 * 1024
	DefaultFlushIntervalMs  = 50
	MinFlushIntervalMs      = 5
	MaxFlushIntervalMs      = 1000
	DefaultHeartbeatSeconds = 60
)

// clampFlushInterval enforces the 5ms..1000ms flush-interval band.
//
// TODO: unclear whether a configured value outside the band should be
// clamped or rejected outright; clamping was chosen here so a bad config
// degrades gracefully instead of refusing to start a listener.
func clampFlushInterval(ms int) int {
	switch {
	case ms < MinFlushIntervalMs:
		return MinFlushIntervalMs
	case ms > MaxFlushIntervalMs:
		return MaxFlushIntervalMs
	default:
		return ms
	}
}

func clampFlushSize(n int) int {
	switch {
	case n <= 0:
		return DefaultFlushSize
	case n > MaxFlushSize:
		return MaxFlushSize
	default:
		return n
	}
}

// SessionConfig controls one Session's coalescing/backpressure behavior.
type SessionConfig struct {
	Format           Format
	FlushSize        int
	FlushIntervalMs  int
	HeartbeatSeconds int
	ForwardMLAT      bool
	QueueDepth       int // in units of FlushSize; backpressure drops past 4x
}

func (c SessionConfig) normalize() SessionConfig {
	c.FlushSize = clampFlushSize(c.FlushSize)
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = DefaultFlushIntervalMs
	}
	c.FlushIntervalMs = clampFlushInterval(c.FlushIntervalMs)
	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 4
	}
	return c
}

// Session owns one outbound network connection: a writer goroutine drains a
// bounded queue of encoded chunks, coalescing them until the flush-size
// threshold, the flush-interval ticker, or the heartbeat ticker fires,
// whichever comes first. A reader that falls behind has its queue dropped
// rather than stalling the whole multiplexer.
type Session struct {
	conn net.Conn
	cfg  SessionConfig
	log  *log.Logger

	queue  chan []byte
	done   chan struct{}
	closed sync.Once

	mu        sync.Mutex
	dropped   uint64
	bytesSent uint64
}

// NewSession starts the writer goroutine and returns the live Session.
func NewSession(ctx context.Context, conn net.Conn, cfg SessionConfig, logger *log.Logger) *Session {
	cfg = cfg.normalize()
	s := &Session{
		conn: conn,
		cfg:  cfg,
		log:  logger,
		// Backpressure trips once the queue holds 4x a flush-size worth of
		// average-sized messages.
		queue: make(chan []byte, cfg.QueueDepth*cfg.FlushSize/64+16),
		done:  make(chan struct{}),
	}
	go s.writeLoop(ctx)
	return s
}

// Send enqueues an already-encoded chunk (one SBS line, one Beast frame,
// etc.). Non-blocking: a full queue drops the chunk and counts it, rather
// than backing up the producer.
func (s *Session) Send(chunk []byte) {
	select {
	case s.queue <- chunk:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Done is closed once the session has shut down, whether by Close or by a
// write error on the connection.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the writer goroutine and closes the underlying connection.
func (s *Session) Close() {
	s.closed.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Stats returns (dropped chunks, bytes written) for diagnostics.
func (s *Session) Stats() (dropped, bytesSent uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped, s.bytesSent
}

func (s *Session) writeLoop(ctx context.Context) {
	w := bufio.NewWriterSize(s.conn, s.cfg.FlushSize*2)
	flushTicker := time.NewTicker(time.Duration(s.cfg.FlushIntervalMs) * time.Millisecond)
	heartbeatTicker := time.NewTicker(time.Duration(s.cfg.HeartbeatSeconds) * time.Second)
	defer flushTicker.Stop()
	defer heartbeatTicker.Stop()
	defer s.conn.Close()

	pending := 0
	var lastWrite time.Time

	flush := func() {
		if pending == 0 {
			return
		}
		if err := w.Flush(); err != nil {
			if s.log != nil {
				s.log.Debug("session write failed", "err", err, "remote", s.conn.RemoteAddr())
			}
			s.Close()
			return
		}
		s.mu.Lock()
		s.bytesSent += uint64(pending)
		s.mu.Unlock()
		pending = 0
		lastWrite = time.Now()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-s.done:
			return
		case chunk, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			n, err := w.Write(chunk)
			pending += n
			if err != nil {
				s.Close()
				return
			}
			if pending >= s.cfg.FlushSize {
				flush()
			}
		case <-flushTicker.C:
			flush()
		case <-heartbeatTicker.C:
			if time.Since(lastWrite) >= time.Duration(s.cfg.HeartbeatSeconds)*time.Second {
				s.Send(heartbeatChunk(s.cfg.Format))
			}
		}
	}
}

// heartbeatChunk returns an idle-keepalive chunk appropriate to format, for
// the "heartbeat due" flush trigger.
func heartbeatChunk(f Format) []byte {
	switch f {
	case FormatBeastBinary, FormatBeastReduced, FormatBeastVerbatim:
		return BuildBeastFrame(beastTypeStatus, 0, 0, []byte{0x00})
	case FormatRawHex:
		return []byte("*0000;\n")
	default:
		return []byte("\n")
	}
}
