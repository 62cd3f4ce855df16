// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

const namespace = "radar"

// Collector records assembler and dispatcher activity. It implements
// dwell.Recorder and dispatch.Observer. A nil *Collector records nothing.
type Collector struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	PulsesRead      prometheus.Counter
	PulsesDiscarded *prometheus.CounterVec
	DwellsDropped   *prometheus.CounterVec
	BeamsAssembled  *prometheus.CounterVec
	BeamPulses      prometheus.Histogram
	BeamsDropped    *prometheus.CounterVec
	BeamsProcessed  *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	SinkFailures    prometheus.Counter
}

// NewCollector registers the pipeline metrics against reg, defaulting to the
// global registry when nil. Metrics already registered by an earlier
// collector are shared.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := Collector{reg: reg, gatherer: gatherer}
	var err error

	if c.PulsesRead, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_read_total",
		Help:      "Pulses read from the source.",
	}), "pulses_read_total"); err != nil {
		return nil, err
	}

	if c.PulsesDiscarded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_discarded_total",
		Help:      "Pulses discarded before reaching a beam, by reason.",
	}, []string{"reason"}), "pulses_discarded_total"); err != nil {
		return nil, err
	}

	if c.DwellsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dwells_dropped_total",
		Help:      "Dwells abandoned by the assembler, by reason.",
	}, []string{"reason"}), "dwells_dropped_total"); err != nil {
		return nil, err
	}

	if c.BeamsAssembled, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "beams_assembled_total",
		Help:      "Beams built by the assembler, by transmission mode.",
	}, []string{"mode"}), "beams_assembled_total"); err != nil {
		return nil, err
	}

	if c.BeamPulses, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "beam_pulses",
		Help:      "Number of pulses per assembled beam.",
		Buckets:   prometheus.ExponentialBuckets(8, 2, 8),
	}), "beam_pulses"); err != nil {
		return nil, err
	}

	if c.BeamsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "beams_dropped_total",
		Help:      "Beam pulse sets rejected by the assembler, by reason.",
	}, []string{"reason"}), "beams_dropped_total"); err != nil {
		return nil, err
	}

	if c.BeamsProcessed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "beams_processed_total",
		Help:      "Beams whose moments were computed, by transmission mode.",
	}, []string{"mode"}), "beams_processed_total"); err != nil {
		return nil, err
	}

	if c.ComputeDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "beam_compute_duration_seconds",
		Help:      "Time spent computing the moments of one beam.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"mode"}), "beam_compute_duration_seconds"); err != nil {
		return nil, err
	}

	if c.SinkFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_failures_total",
		Help:      "Beams the sink failed to consume.",
	}), "sink_failures_total"); err != nil {
		return nil, err
	}

	return &c, nil
}

// WatchPools exports the idle sizes and hit counters of the recycle pools.
// Either pool may be nil.
func (c *Collector) WatchPools(pulses *pulse.Pool, beams *beam.Pool) error {
	if c == nil {
		return nil
	}

	var errs []error
	if pulses != nil {
		errs = append(errs,
			c.gaugeFunc("pulse_pool_idle", "Idle pulses held for reuse.",
				func() float64 { return float64(pulses.Stats().Idle) }),
			c.counterFunc("pulse_pool_hits_total", "Pulses served from the pool.",
				func() float64 { return float64(pulses.Stats().Hits) }),
			c.counterFunc("pulse_pool_misses_total", "Pulses allocated because the pool had none free.",
				func() float64 { return float64(pulses.Stats().Misses) }),
			c.counterFunc("pulse_pool_purged_total", "Idle pulses discarded on gate geometry changes.",
				func() float64 { return float64(pulses.Stats().Purged) }),
		)
	}
	if beams != nil {
		errs = append(errs,
			c.gaugeFunc("beam_pool_idle", "Idle beams held for reuse.",
				func() float64 { return float64(beams.Stats().Idle) }),
			c.counterFunc("beam_pool_hits_total", "Beams served from the pool.",
				func() float64 { return float64(beams.Stats().Hits) }),
			c.counterFunc("beam_pool_misses_total", "Beams allocated because the pool had none free.",
				func() float64 { return float64(beams.Stats().Misses) }),
		)
	}
	return errors.Join(errs...)
}

func (c *Collector) gaugeFunc(name, help string, fn func() float64) error {
	_, err := register(c.reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn), name)
	return err
}

func (c *Collector) counterFunc(name, help string, fn func() float64) error {
	_, err := register(c.reg, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn), name)
	return err
}

func (c *Collector) PulseRead() {
	if c == nil {
		return
	}
	c.PulsesRead.Inc()
}

func (c *Collector) PulseDiscarded(reason string) {
	if c == nil {
		return
	}
	c.PulsesDiscarded.WithLabelValues(reason).Inc()
}

func (c *Collector) DwellDropped(reason string) {
	if c == nil {
		return
	}
	c.DwellsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) BeamAssembled(mode string, nPulses int) {
	if c == nil {
		return
	}
	c.BeamsAssembled.WithLabelValues(mode).Inc()
	c.BeamPulses.Observe(float64(nPulses))
}

func (c *Collector) BeamDropped(reason string) {
	if c == nil {
		return
	}
	c.BeamsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) BeamProcessed(mode string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.BeamsProcessed.WithLabelValues(mode).Inc()
	c.ComputeDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (c *Collector) SinkFailed() {
	if c == nil {
		return
	}
	c.SinkFailures.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds collector to reg. When an equivalent collector is already
// registered, the existing one is returned instead.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return collector, fmt.Errorf("registering %s: %w", name, err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return collector, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return existing, nil
}
