package netmux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionFlushesOnSize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := SessionConfig{Format: FormatRawHex, FlushSize: 4, FlushIntervalMs: 1000, HeartbeatSeconds: 3600}
	sess := NewSession(ctx, server, cfg, nil)
	defer sess.Close()

	sess.Send([]byte("abcdef"))

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	select {
	case got := <-readDone:
		require.Equal(t, "abcdef", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}

func TestSessionDropsWhenQueueFull(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := SessionConfig{Format: FormatRawHex, FlushSize: 16, FlushIntervalMs: 1000, HeartbeatSeconds: 3600, QueueDepth: 1}
	sess := NewSession(ctx, server, cfg, nil)
	defer sess.Close()

	for i := 0; i < 10000; i++ {
		sess.Send([]byte("x"))
	}
	dropped, _ := sess.Stats()
	require.Greater(t, dropped, uint64(0))
}

func TestClampFlushInterval(t *testing.T) {
	require.Equal(t, MinFlushIntervalMs, clampFlushInterval(0))
	require.Equal(t, MaxFlushIntervalMs, clampFlushInterval(100000))
	require.Equal(t, 50, clampFlushInterval(50))
}
