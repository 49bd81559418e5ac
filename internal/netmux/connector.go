package netmux

import (
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// Connector dials an outbound host:port and maintains a single Session to
// it, redialing with the configured interval when the connection drops. A
// second "alt" address is tried on alternating attempts, for outbound feeds
// that publish two endpoints for redundancy (e.g. a third-party aggregator).
type Connector struct {
	primary, alt string
	redialMs     int
	cfg          SessionConfig
	log          *log.Logger
	onSession    func(*Session)
}

// DefaultRedialMs is the default outbound redial interval.
const DefaultRedialMs = 30_000

// MinRedialMs / MaxRedialMs bound the configurable redial interval.
const (
	MinRedialMs = 1
	MaxRedialMs = 86_400_000
)

func clampRedial(ms int) int {
	switch {
	case ms <= 0:
		return DefaultRedialMs
	case ms < MinRedialMs:
		return MinRedialMs
	case ms > MaxRedialMs:
		return MaxRedialMs
	default:
		return ms
	}
}

// NewConnector builds a Connector. alt may be empty if there is no secondary
// endpoint.
func NewConnector(primary, alt string, redialMs int, cfg SessionConfig, logger *log.Logger, onSession func(*Session)) *Connector {
	return &Connector{primary: primary, alt: alt, redialMs: clampRedial(redialMs), cfg: cfg, log: logger, onSession: onSession}
}

// Run dials and redials until ctx is canceled, alternating primary/alt on
// each failed or dropped attempt once an alt address is configured.
func (c *Connector) Run(ctx context.Context) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	useAlt := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		addr := c.primary
		if useAlt && c.alt != "" {
			addr = c.alt
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if c.log != nil {
				c.log.Debug("connector dial failed", "addr", addr, "err", err)
			}
			if c.alt != "" {
				useAlt = !useAlt
			}
			if !sleepOrDone(ctx, c.redialMs) {
				return
			}
			continue
		}

		sess := NewSession(ctx, conn, c.cfg, c.log)
		if c.onSession != nil {
			c.onSession(sess)
		}
		sessionDone := make(chan struct{})
		go func() {
			<-ctx.Done()
			sess.Close()
			close(sessionDone)
		}()
		waitClosed(conn)
		sess.Close()

		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			return
		default:
		}
		if c.alt != "" {
			useAlt = !useAlt
		}
		if !sleepOrDone(ctx, c.redialMs) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, ms int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return true
	}
}

// waitClosed blocks until conn's read side returns EOF/error, which is how a
// write-only outbound feed notices the peer hung up.
func waitClosed(conn net.Conn) {
	buf := make([]byte, 64)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
