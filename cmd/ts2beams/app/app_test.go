package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radar-beams/internal/pulse"
	"github.com/roman-kulish/radar-beams/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "simulator keeps scenario defaults",
			yaml: `
source:
  type: simulator
  simulator:
    nGates: 32
output:
  dbPath: out.db
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 32, c.Source.Simulator.NGates)
				assert.Equal(t, 64, c.Source.Simulator.NSamples)
				assert.True(t, c.Source.Simulator.OpsInfo.Active())
				assert.Equal(t, 50*time.Millisecond, c.Settings.RetryDelay.Duration())
				assert.Equal(t, "info", c.Settings.LogLevel)
			},
		},
		{
			name: "archive with durations",
			yaml: `
settings:
  logLevel: debug
  retryDelay: 200ms
source:
  type: archive
  paced: true
  readTimeout: 2s
  archive:
    dbPath: in.db
    sessionID: 3
assembler:
  simulate: true
  attenMethod: crpl
  discardMissingPulses: true
  overrides:
    radarName: OVR
output:
  dbPath: out.db
  resequence: true
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 200*time.Millisecond, c.Settings.RetryDelay.Duration())
				assert.Equal(t, 2*time.Second, c.Source.ReadTimeout.Duration())
				assert.Equal(t, int64(3), c.Source.Archive.SessionID)

				dc := c.DwellConfig()
				assert.True(t, dc.Simulate)
				assert.True(t, dc.DiscardMissingPulses)
				require.NotNil(t, dc.Overrides.RadarName)
				assert.Equal(t, "OVR", *dc.Overrides.RadarName)
				require.NotNil(t, c.BeamParams().Overrides.RadarName)
			},
		},
		{
			name:    "missing output",
			yaml:    "source:\n  type: simulator\n",
			wantErr: true,
		},
		{
			name:    "unknown source",
			yaml:    "source:\n  type: radio\noutput:\n  dbPath: out.db\n",
			wantErr: true,
		},
		{
			name:    "archive without session",
			yaml:    "source:\n  archive:\n    dbPath: in.db\noutput:\n  dbPath: out.db\n",
			wantErr: true,
		},
		{
			name:    "invalid resequencer",
			yaml:    "source:\n  type: simulator\noutput:\n  dbPath: out.db\n  resequence: true\n  capacity: 4\n  flushCount: 8\n",
			wantErr: true,
		},
		{
			name:    "invalid duration",
			yaml:    "settings:\n  retryDelay: soon\nsource:\n  type: simulator\noutput:\n  dbPath: out.db\n",
			wantErr: true,
		},
		{
			name:    "invalid simulator",
			yaml:    "source:\n  type: simulator\n  simulator:\n    mode: staggered\noutput:\n  dbPath: out.db\n",
			wantErr: true,
		},
		{
			name:    "invalid attenuation",
			yaml:    "source:\n  type: simulator\nassembler:\n  attenMethod: magic\noutput:\n  dbPath: out.db\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConfig([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func simulatorConfig(t *testing.T, extra string) *Config {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "beams.db")
	c, err := ParseConfig([]byte(fmt.Sprintf(`
settings:
  workers: 3
source:
  type: simulator
  simulator:
    nGates: 32
    nSamples: 8
    nDwells: 6
output:
  dbPath: %s
  maxBatchSize: 4
  resequence: true
  capacity: 16
  flushCount: 4
%s`, dbPath, extra)))
	require.NoError(t, err)
	return c
}

func catalog(t *testing.T, dbPath string) []storage.BeamRecord {
	t.Helper()

	ctx := context.Background()
	store := storage.NewSqliteStore(dbPath)
	defer store.Close()

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	records, err := store.Beams(ctx, sessions[0].ID)
	require.NoError(t, err)
	return records
}

func seqNums(records []storage.BeamRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.SeqNum
	}
	return out
}

func TestRun_Simulator(t *testing.T) {
	c := simulatorConfig(t, "")
	require.NoError(t, Run(context.Background(), c, discardLogger()))

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, seqNums(catalog(t, c.Output.DBPath)))
}

func TestRun_Paced(t *testing.T) {
	c := simulatorConfig(t, "")
	c.Source.Paced = true
	c.Source.ReadTimeout = NewTimeDuration(50 * time.Millisecond)

	require.NoError(t, Run(context.Background(), c, discardLogger()))

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, seqNums(catalog(t, c.Output.DBPath)))
}

func TestRun_Archive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pulses.db")

	simCfg := pulse.DefaultSimConfig()
	simCfg.NGates = 16
	simCfg.NSamples = 4
	simCfg.BeamsPerDwell = 2
	simCfg.NDwells = 3

	sim, err := pulse.NewSimulator(simCfg, nil)
	require.NoError(t, err)

	archive := storage.NewSqliteStore(archivePath)
	session, err := archive.CreateSession(ctx, "simulator", sim.OpsInfo(), nil)
	require.NoError(t, err)

	var pulses []*pulse.Pulse
	for {
		p, err := sim.Next(ctx)
		if errors.Is(err, pulse.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		pulses = append(pulses, p)
	}
	require.NoError(t, archive.InsertPulses(ctx, session.ID, pulses))
	require.NoError(t, archive.Close())

	c := NewConfig()
	c.Source.Archive = &ArchiveConfig{DBPath: archivePath, SessionID: session.ID}
	c.Output.DBPath = filepath.Join(dir, "beams.db")
	require.NoError(t, c.Validate())

	require.NoError(t, Run(ctx, c, discardLogger()))

	records := catalog(t, c.Output.DBPath)
	require.Len(t, records, 6)
	for _, r := range records {
		assert.Equal(t, 4, r.NSamples)
		assert.Equal(t, 16, r.NGates)
	}
}

func TestRun_MissingArchive(t *testing.T) {
	dir := t.TempDir()
	c := NewConfig()
	c.Source.Archive = &ArchiveConfig{DBPath: filepath.Join(dir, "missing.db"), SessionID: 1}
	c.Output.DBPath = filepath.Join(dir, "beams.db")

	assert.Error(t, Run(context.Background(), c, discardLogger()))
}

func TestRun_Cancelled(t *testing.T) {
	c := simulatorConfig(t, "")
	c.Source.Simulator.NDwells = 0 // endless

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, Run(ctx, c, discardLogger()))
}
