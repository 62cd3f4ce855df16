package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radar-beams/internal/pulse"
	"github.com/roman-kulish/radar-beams/internal/storage"
)

func TestParseArgs(t *testing.T) {
	c, err := ParseArgs("pulsegen", []string{
		"-db", "out.db",
		"-mode", "staggered",
		"-gates", "300",
		"-gates-long", "200",
		"-samples", "32",
		"-prt", "0.001",
		"-prt-long", "0.0015",
		"-dwells", "10",
	})
	require.NoError(t, err)

	assert.Equal(t, "out.db", c.DBPath)
	assert.Equal(t, pulse.SimStaggered, c.Sim.Mode)
	assert.Equal(t, 300, c.Sim.NGates)
	assert.Equal(t, 200, c.Sim.NGatesLong)
	assert.Equal(t, 10, c.Sim.NDwells)
	assert.Equal(t, defaultBatchSize, c.BatchSize)

	invalid := [][]string{
		{},
		{"-db", "out.db", "-batch", "0"},
		{"-db", "out.db", "-mode", "burst"},
		{"-db", "out.db", "-mode", "staggered"},
		{"-db", "out.db", "-dwells", "0"},
		{"-db", "out.db", "-unknown"},
	}
	for _, args := range invalid {
		_, err := ParseArgs("pulsegen", args)
		assert.Error(t, err, "%v", args)
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	c := NewConfig()
	c.DBPath = filepath.Join(t.TempDir(), "pulses.db")
	c.BatchSize = 7
	c.Sim.NGates = 20
	c.Sim.NSamples = 6
	c.Sim.BeamsPerDwell = 2
	c.Sim.NDwells = 4
	c.Sim.NChannels = 2

	id, err := generate(ctx, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	store := storage.NewSqliteStore(c.DBPath)
	defer store.Close()

	n, err := store.CountPulses(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(48), n)

	session, err := store.Session(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pulsegen:single", session.Source)
	require.NotNil(t, session.OpsInfo)
	assert.Equal(t, "SIM", session.OpsInfo.RadarName)

	r, err := store.ReadPulses(ctx, id)
	require.NoError(t, err)
	defer r.Close()

	p, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.NChannels())
	assert.Equal(t, 20, p.NGates)
}
