package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDebugFlags(t *testing.T) {
	f, err := ParseDebugFlags("dcP")
	require.NoError(t, err)
	require.True(t, f.Demod)
	require.True(t, f.CPR)
	require.True(t, f.Publish)
	require.False(t, f.Registry)
}

func TestParseDebugFlagsRejectsUnknown(t *testing.T) {
	_, err := ParseDebugFlags("dz")
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, 1280, cfg.NetOutputFlushSize)
	require.Equal(t, 2, cfg.ReliableConfirmations)
}

func TestLoadAppliesFlags(t *testing.T) {
	cfg, err := Load([]string{"--lat=52.1", "--lon=4.2", "--have-position", "--json-reliable=3"})
	require.NoError(t, err)
	require.InDelta(t, 52.1, cfg.ReceiverLat, 1e-9)
	require.InDelta(t, 4.2, cfg.ReceiverLon, 1e-9)
	require.True(t, cfg.HaveReceiverPos)
	require.Equal(t, 3, cfg.ReliableConfirmations)
}

func TestLoadRejectsInvalidReliable(t *testing.T) {
	_, err := Load([]string{"--json-reliable=10"})
	require.Error(t, err)
}
