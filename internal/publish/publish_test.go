package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"modesd/internal/modes"
	"modesd/internal/registry"
)

func TestWriteAircraftJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.DefaultConfig())
	reg.Upsert(&modes.Message{DF: 17, ICAO: 0x1, Flight: "TEST1234"})

	cfg := DefaultConfig()
	cfg.JSONDir = dir
	p := New(cfg, reg)
	p.writeAircraftJSON()

	data, err := os.ReadFile(filepath.Join(dir, "aircraft.json"))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "now")
	require.Contains(t, doc, "messages")
	require.Contains(t, doc, "aircraft")

	aircraft, ok := doc["aircraft"].([]interface{})
	require.True(t, ok)
	require.Len(t, aircraft, 1)
	entry := aircraft[0].(map[string]interface{})
	require.Equal(t, "000001", entry["hex"])
	require.Equal(t, "TEST1234", entry["flight"])
}

func TestRotateHistoryWraps(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(registry.DefaultConfig())
	cfg := DefaultConfig()
	cfg.HistoryDir = dir
	cfg.HistoryCapacity = 2
	p := New(cfg, reg)

	p.rotateHistory()
	p.rotateHistory()
	p.rotateHistory()

	require.FileExists(t, filepath.Join(dir, "history_0.json"))
	require.FileExists(t, filepath.Join(dir, "history_1.json"))
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeAtomic(dir, "x.json", []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "x.json", entries[0].Name())
}
