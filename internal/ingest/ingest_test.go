package ingest

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modesd/internal/modes"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestDecodeRawFrameDF17(t *testing.T) {
	filter := modes.NewICAOFilter()
	stats := modes.NewDemodStats()
	f := Frame{Bytes: mustHex(t, "8D4840D6202CC371C32CE0576098"), Timestamp: 42, Signal: 120}

	msg, err := DecodeRawFrame(f, 1, filter, stats)
	require.NoError(t, err)
	require.Equal(t, uint32(0x4840D6), msg.ICAO)
	require.True(t, msg.CRCOK)
	require.Equal(t, int64(42), msg.SampleTimestamp)
	require.Equal(t, float64(120), msg.SignalLevel)
	require.Equal(t, int64(1), stats.FramesByDF[17])
}

func TestDecodeRawFrameRejectsBadLength(t *testing.T) {
	filter := modes.NewICAOFilter()
	_, err := DecodeRawFrame(Frame{Bytes: []byte{0x01, 0x02, 0x03}}, 1, filter, nil)
	require.Error(t, err)
}

func TestRunSampleStdinFeedsRing(t *testing.T) {
	ring := modes.NewRing()
	raw := make([]byte, sampleChunkSamples*2)
	for i := range raw {
		raw[i] = byte(i)
	}
	r := bytes.NewReader(raw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := RunSampleStdin(ctx, r, ring)
	require.NoError(t, err)
	require.Equal(t, 1, ring.Len())

	buf, ok := ring.Take()
	require.True(t, ok)
	require.Len(t, buf.Data, sampleChunkSamples)
	require.Equal(t, int64(0), buf.SampleTimestamp)
}

func TestRunSampleStdinCarriesOverlapAcrossChunks(t *testing.T) {
	ring := modes.NewRing()
	raw := make([]byte, sampleChunkSamples*2*2)
	r := bytes.NewReader(raw)

	err := RunSampleStdin(context.Background(), r, ring)
	require.NoError(t, err)
	require.Equal(t, 2, ring.Len())

	first, ok := ring.Take()
	require.True(t, ok)
	require.Len(t, first.Data, sampleChunkSamples)

	second, ok := ring.Take()
	require.True(t, ok)
	require.Len(t, second.Data, sampleChunkSamples+overlapSamples)
	require.Equal(t, int64(sampleChunkSamples-overlapSamples), second.SampleTimestamp)
}

func TestDecodeSampleRingStopsOnClose(t *testing.T) {
	ring := modes.NewRing()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		DecodeSampleRing(ctx, ring, 1, false, modes.NewICAOFilter(), modes.NewDemodStats(), func(*modes.Message) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DecodeSampleRing did not stop after ring close")
	}
}
