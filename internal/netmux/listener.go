package netmux

import (
	"context"
	"net"
	"sync"

	"github.com/charmbracelet/log"
)

// Listener accepts inbound connections on one TCP port and hands each to the
// Mux as a new outbound Session of the configured format, one goroutine per
// accepted connection.
type Listener struct {
	addr string
	cfg  SessionConfig
	log  *log.Logger

	onSession func(*Session)

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewListener constructs a Listener; call Serve to start accepting.
func NewListener(addr string, cfg SessionConfig, logger *log.Logger, onSession func(*Session)) *Listener {
	return &Listener{addr: addr, cfg: cfg, log: logger, onSession: onSession, sessions: make(map[*Session]struct{})}
}

// Serve blocks accepting connections until ctx is canceled or the listener
// fails to bind. Each accepted connection becomes a Session tracked for
// broadcast and closed on shutdown.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if l.log != nil {
					l.log.Warn("accept failed", "addr", l.addr, "err", err)
				}
				continue
			}
		}
		sess := NewSession(ctx, conn, l.cfg, l.log)
		l.mu.Lock()
		l.sessions[sess] = struct{}{}
		l.mu.Unlock()
		if l.onSession != nil {
			l.onSession(sess)
		}
		go func() {
			select {
			case <-ctx.Done():
			case <-sess.Done():
			}
			l.mu.Lock()
			delete(l.sessions, sess)
			l.mu.Unlock()
			sess.Close()
		}()
	}
}

// Broadcast fans a chunk out to every live session accepted on this listener.
func (l *Listener) Broadcast(chunk []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sess := range l.sessions {
		sess.Send(chunk)
	}
}
