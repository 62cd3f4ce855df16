package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/dispatch"
	"github.com/roman-kulish/radar-beams/internal/dwell"
	"github.com/roman-kulish/radar-beams/internal/moments"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

var (
	_ dwell.Recorder    = (*Collector)(nil)
	_ dispatch.Observer = (*Collector)(nil)
)

func TestCollector_Counters(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.PulseRead()
	c.PulseRead()
	c.PulseDiscarded(dwell.ReasonInactive)
	c.DwellDropped(dwell.ReasonOverflow)
	c.BeamAssembled("single", 64)
	c.BeamDropped(dwell.ReasonMissingPulses)
	c.BeamProcessed("single", 2*time.Millisecond)
	c.SinkFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PulsesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PulsesDiscarded.WithLabelValues(dwell.ReasonInactive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DwellsDropped.WithLabelValues(dwell.ReasonOverflow)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BeamsAssembled.WithLabelValues("single")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BeamsDropped.WithLabelValues(dwell.ReasonMissingPulses)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BeamsProcessed.WithLabelValues("single")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SinkFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ComputeDuration))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.PulseRead()
		c.PulseDiscarded("x")
		c.DwellDropped("x")
		c.BeamAssembled("single", 1)
		c.BeamDropped("x")
		c.BeamProcessed("single", time.Millisecond)
		c.SinkFailed()
	})
	assert.NoError(t, c.WatchPools(pulse.NewPool(0), nil))
	assert.NotNil(t, c.Handler())
}

func TestNewCollector_SharesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.PulseRead()
	second.PulseRead()
	assert.Equal(t, 2.0, testutil.ToFloat64(first.PulsesRead))
}

func TestCollector_WatchPools(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	pulses := pulse.NewPool(0)
	beams := beam.NewPool(0, func() *beam.Beam { return beam.New(beam.Engines{}) })
	require.NoError(t, c.WatchPools(pulses, beams))

	p := pulses.Get()
	p.Retain()
	p.Release()
	_ = pulses.Get()

	want := `
# HELP radar_pulse_pool_hits_total Pulses served from the pool.
# TYPE radar_pulse_pool_hits_total counter
radar_pulse_pool_hits_total 1
# HELP radar_pulse_pool_idle Idle pulses held for reuse.
# TYPE radar_pulse_pool_idle gauge
radar_pulse_pool_idle 0
# HELP radar_pulse_pool_misses_total Pulses allocated because the pool had none free.
# TYPE radar_pulse_pool_misses_total counter
radar_pulse_pool_misses_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want),
		"radar_pulse_pool_hits_total", "radar_pulse_pool_idle", "radar_pulse_pool_misses_total"))
}

func TestCollector_Pipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	cfg := pulse.DefaultSimConfig()
	cfg.NGates = 16
	cfg.NSamples = 8
	cfg.NDwells = 5
	cfg.Targets[0].Gate = 4

	pool := pulse.NewPool(0)
	sim, err := pulse.NewSimulator(cfg, pool)
	require.NoError(t, err)

	beams := beam.NewPool(0, func() *beam.Beam {
		return beam.New(beam.Engines{Moments: moments.NewPulsePair()})
	})
	a, err := dwell.New(sim, beams, dwell.WithPulsePool(pool), dwell.WithRecorder(c))
	require.NoError(t, err)

	sink := dispatch.SinkFunc(func(_ context.Context, b *beam.Beam) error {
		b.Release()
		return nil
	})
	d := dispatch.New(a, sink, dispatch.WithWorkers(2), dispatch.WithObserver(c))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 40.0, testutil.ToFloat64(c.PulsesRead))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.BeamsAssembled.WithLabelValues("single")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.BeamsProcessed.WithLabelValues("single")))

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "radar_beam_compute_duration_seconds_count")
}
