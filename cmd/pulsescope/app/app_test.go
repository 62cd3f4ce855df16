package app

import (
	"context"
	"errors"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
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

func TestParseArgs(t *testing.T) {
	c, err := ParseArgs("pulsescope", []string{
		"-db", "pulses.db", "-s", "2", "-o", "out", "-f", "JPEG", "-theme", "thermal",
		"-min-power", "-5", "-start", "2024-01-01T00:00:00Z", "-tz", "Australia/Sydney",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), c.SessionID)
	assert.Equal(t, ImageJPEG, c.Format)
	assert.Equal(t, ThermalTheme, c.Theme)
	assert.Equal(t, "out.jpeg", c.OutputFile)
	require.NotNil(t, c.MinPower)
	assert.Equal(t, -5.0, *c.MinPower)
	assert.Nil(t, c.MaxPower)
	require.NotNil(t, c.StartTime)
	assert.Nil(t, c.EndTime)
	assert.Equal(t, "Australia/Sydney", c.TimeZone.String())

	invalid := [][]string{
		{"-s", "1", "-o", "out"},
		{"-db", "pulses.db", "-s", "0", "-o", "out"},
		{"-db", "pulses.db"},
		{"-db", "pulses.db", "-o", "out", "-f", "gif"},
		{"-db", "pulses.db", "-o", "out", "-theme", "neon"},
		{"-db", "pulses.db", "-o", "out", "-min-power", "10", "-max-power", "5"},
		{"-db", "pulses.db", "-o", "out", "-start", "yesterday"},
		{"-db", "pulses.db", "-o", "out", "-start", "2024-01-02T00:00:00Z", "-end", "2024-01-01T00:00:00Z"},
	}
	for _, args := range invalid {
		_, err := ParseArgs("pulsescope", args)
		assert.Error(t, err, args)
	}
}

func TestPowerHistogram_Bounds(t *testing.T) {
	h := NewPowerHistogram()
	assert.Equal(t, defaultPowerBounds(), h.Bounds())

	for i := range 100 {
		h.Add(float64(i))
	}
	h.Add(math.NaN())
	h.Add(math.Inf(-1))
	assert.Equal(t, uint64(100), h.Count())

	b := h.Bounds()
	assert.Equal(t, -4.0, b.Min)
	assert.Equal(t, 104.0, b.Max)
	assert.InDelta(t, 49.5, b.Mean, 1e-9)

	h.Clear()
	for range 50 {
		h.Add(20)
	}
	b = h.Bounds()
	assert.GreaterOrEqual(t, b.Max-b.Min, float64(minPowerSpan))
}

func TestColorMapper(t *testing.T) {
	cm := NewColorMapper(GrayscaleTheme, PowerBounds{Min: 0, Max: 10})

	assert.Equal(t, NoDataColor, cm.Color(math.NaN()))
	assert.Equal(t, color.RGBA{A: 0xff}, cm.Color(-20))
	assert.Equal(t, cm.Color(10), cm.Color(50))

	lo := cm.Color(2).(color.RGBA)
	hi := cm.Color(8).(color.RGBA)
	assert.Less(t, lo.R, hi.R)
}

func TestHSV_RGB(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, A: 0xff}, HSV{H: 0, S: 1, V: 1}.RGB())
	assert.Equal(t, color.RGBA{G: 255, A: 0xff}, HSV{H: 120, S: 1, V: 1}.RGB())
	assert.Equal(t, color.RGBA{B: 255, A: 0xff}, HSV{H: 240, S: 1, V: 1}.RGB())
	assert.Equal(t, color.RGBA{R: 127, G: 127, B: 127, A: 0xff}, HSV{S: 0, V: 0.5}.RGB())
}

func testPulse(t *testing.T, seq int64, powers ...float32) *pulse.Pulse {
	t.Helper()

	iq := make([]float32, 2*len(powers))
	for i, a := range powers {
		iq[2*i] = a
	}
	p, err := pulse.New(pulse.Header{
		SeqNum: seq,
		Time:   time.Unix(seq, 0).UTC(),
		NGates: len(powers),
	}, iq)
	require.NoError(t, err)
	return p
}

func TestScopeData_Add(t *testing.T) {
	s := NewScopeData(pulse.GateGeometry{StartRangeKm: 1, GateSpacingKm: 0.5})
	s.Add(testPulse(t, 2, 10, 0, 100))
	s.Add(testPulse(t, 1, 1, 1))

	assert.Equal(t, 3, s.Width)
	assert.Equal(t, 2, s.Height)
	assert.Equal(t, time.Unix(1, 0).UTC(), s.TimeStart)
	assert.Equal(t, time.Unix(2, 0).UTC(), s.TimeEnd)
	assert.InDelta(t, 2.0, s.MaxRangeKm(), 1e-9)

	assert.InDelta(t, 20.0, s.Rows[0][0], 1e-9)
	assert.True(t, math.IsNaN(s.Rows[0][1]))
	assert.InDelta(t, 40.0, s.Rows[0][2], 1e-9)
	assert.Equal(t, uint64(4), s.Histogram.Count())
}

func TestScopeRenderer(t *testing.T) {
	r, err := NewScopeRenderer(RenderConfig{Theme: DefaultTheme})
	require.NoError(t, err)

	_, err = r.Render(NewScopeData(pulse.GateGeometry{}))
	assert.True(t, errors.Is(err, ErrEmptyScope))

	s := NewScopeData(pulse.GateGeometry{GateSpacingKm: 0.15})
	for i := range 4 {
		s.Add(testPulse(t, int64(i), 1, 0, 10))
	}
	img, err := r.Render(s)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	assert.Equal(t, color.RGBA{A: 0xff}, img.At(1, 0))

	_, err = NewScopeRenderer(RenderConfig{Annotations: true})
	assert.Error(t, err)

	annotator, err := NewAnnotator(nil)
	require.NoError(t, err)
	r, err = NewScopeRenderer(RenderConfig{Annotations: true, Annotator: annotator})
	require.NoError(t, err)
	img, err = r.Render(s)
	require.NoError(t, err)
	assert.Equal(t, 4+annotator.InfoHeight(), img.Bounds().Dy())
}

func writeArchive(t *testing.T, dbPath string) int64 {
	t.Helper()
	ctx := context.Background()

	cfg := pulse.DefaultSimConfig()
	cfg.NGates = 64
	cfg.NSamples = 8
	cfg.NDwells = 4
	cfg.Targets[0].Gate = 20
	cfg.Targets[0].Width = 4
	sim, err := pulse.NewSimulator(cfg, nil)
	require.NoError(t, err)

	store := storage.NewSqliteStore(dbPath)
	defer store.Close()

	session, err := store.CreateSession(ctx, "simulator", sim.OpsInfo(), nil)
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
	require.NoError(t, store.InsertPulses(ctx, session.ID, pulses))
	return session.ID
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pulses.db")
	sessionID := writeArchive(t, dbPath)

	c, err := ParseArgs("pulsescope", []string{
		"-db", dbPath, "-s", "1", "-o", filepath.Join(dir, "scope"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), sessionID)

	require.NoError(t, Run(context.Background(), c, discardLogger()))

	f, err := os.Open(c.OutputFile)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	annotator, err := NewAnnotator(nil)
	require.NoError(t, err)
	assert.Equal(t, 32+annotator.InfoHeight(), img.Bounds().Dy())
}

func TestRun_MissingDatabase(t *testing.T) {
	c := NewConfig()
	c.DBPath = filepath.Join(t.TempDir(), "missing.db")
	c.SessionID = 1
	c.OutputFile = filepath.Join(t.TempDir(), "scope.png")

	assert.Error(t, Run(context.Background(), c, discardLogger()))
}
