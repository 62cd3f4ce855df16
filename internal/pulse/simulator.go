package pulse

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// SimMode selects the transmission scheme produced by the Simulator.
type SimMode string

const (
	SimSingle      SimMode = "single"
	SimAlternating SimMode = "alternating"
	SimStaggered   SimMode = "staggered"
)

// Target is a point scatterer placed in the simulated field.
type Target struct {
	Gate       int     `yaml:"gate"`
	Width      int     `yaml:"width"`      // gates
	PowerDb    float64 `yaml:"powerDb"`    // relative to unit noise
	VelocityMs float64 `yaml:"velocityMs"` // radial, positive away
	ZdrDb      float64 `yaml:"zdrDb"`
	PhidpDeg   float64 `yaml:"phidpDeg"`
}

// SimConfig describes the pulse stream produced by the Simulator.
type SimConfig struct {
	Mode           SimMode  `yaml:"mode"`
	NGates         int      `yaml:"nGates"`
	NGatesLong     int      `yaml:"nGatesLong"` // staggered only
	NSamples       int      `yaml:"nSamples"`   // pulses per beam
	BeamsPerDwell  int      `yaml:"beamsPerDwell"`
	DwellsPerSweep int      `yaml:"dwellsPerSweep"`
	NDwells        int      `yaml:"nDwells"` // 0 for an endless stream
	NChannels      int      `yaml:"nChannels"`
	Prt            float64  `yaml:"prt"`     // seconds
	PrtLong        float64  `yaml:"prtLong"` // seconds, staggered only
	PulseWidthUs   float64  `yaml:"pulseWidthUs"`
	Elevation      float64  `yaml:"elevation"`
	BeamWidthDeg   float64  `yaml:"beamWidthDeg"`
	NoiseSigma     float64  `yaml:"noiseSigma"`
	Seed           uint64   `yaml:"seed"`
	Targets        []Target `yaml:"targets"`

	StartTime time.Time `yaml:"-"`
	OpsInfo   OpsInfo   `yaml:"-"`
}

// Validate checks the simulator configuration.
func (c *SimConfig) Validate() error {
	switch c.Mode {
	case SimSingle, SimAlternating:
	case SimStaggered:
		if c.PrtLong <= c.Prt {
			return fmt.Errorf("staggered mode needs prtLong > prt, got %g <= %g", c.PrtLong, c.Prt)
		}
		if c.NGatesLong <= 0 || c.NGatesLong > c.NGates {
			return fmt.Errorf("staggered mode needs 0 < nGatesLong <= nGates, got %d", c.NGatesLong)
		}
		if c.NSamples%2 != 0 {
			return fmt.Errorf("staggered mode needs an even sample count, got %d", c.NSamples)
		}
	default:
		return fmt.Errorf("unknown simulator mode '%s'", c.Mode)
	}

	var errs []error
	if c.NGates <= 0 {
		errs = append(errs, fmt.Errorf("nGates must be positive: %d", c.NGates))
	}
	if c.NSamples < 2 {
		errs = append(errs, fmt.Errorf("nSamples must be at least 2: %d", c.NSamples))
	}
	if c.BeamsPerDwell <= 0 {
		errs = append(errs, fmt.Errorf("beamsPerDwell must be positive: %d", c.BeamsPerDwell))
	}
	if c.NChannels < 1 || c.NChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("nChannels must be 1 or 2: %d", c.NChannels))
	}
	if c.Prt <= 0 {
		errs = append(errs, fmt.Errorf("prt must be positive: %g", c.Prt))
	}
	if c.NDwells < 0 {
		errs = append(errs, fmt.Errorf("nDwells must not be negative: %d", c.NDwells))
	}
	return errors.Join(errs...)
}

// DefaultSimConfig returns a small single-PRT scenario with one target.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Mode:           SimSingle,
		NGates:         500,
		NSamples:       64,
		BeamsPerDwell:  1,
		DwellsPerSweep: 360,
		NChannels:      1,
		Prt:            1e-3,
		PulseWidthUs:   1.0,
		Elevation:      0.5,
		BeamWidthDeg:   1.0,
		NoiseSigma:     1.0,
		Seed:           1,
		Targets:        []Target{{Gate: 200, Width: 20, PowerDb: 30, VelocityMs: 5, ZdrDb: 1, PhidpDeg: 20}},
		StartTime:      time.Unix(0, 0).UTC(),
		OpsInfo: OpsInfo{
			RadarName:        "SIM",
			Geometry:         GateGeometry{StartRangeKm: 0.075, GateSpacingKm: 0.15},
			WavelengthCm:     10.0,
			RadarInfoActive:  true,
			ProcessingActive: true,
		},
	}
}

// Simulator is a deterministic Source producing a synthetic pulse stream in
// the configured transmission mode. It is used for stress tests and for
// generating pulse archives.
type Simulator struct {
	cfg  SimConfig
	pool *Pool

	noise distuv.Normal

	seq     int64
	dwell   int64
	beam    int
	sample  int
	sweep   int
	clock   time.Time
	buffers [MaxChannels][]float32
}

// NewSimulator creates a simulator drawing pulses from pool, which may be nil.
func NewSimulator(cfg SimConfig, pool *Pool) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Unix(0, 0).UTC()
	}
	if cfg.DwellsPerSweep <= 0 {
		cfg.DwellsPerSweep = 360
	}
	if cfg.BeamWidthDeg <= 0 {
		cfg.BeamWidthDeg = 1.0
	}

	s := &Simulator{cfg: cfg, pool: pool}
	for ch := range cfg.NChannels {
		s.buffers[ch] = make([]float32, 2*cfg.NGates)
	}
	s.rewind()
	return s, nil
}

func (s *Simulator) rewind() {
	s.noise = distuv.Normal{
		Mu:    0,
		Sigma: s.cfg.NoiseSigma,
		Src:   rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15),
	}
	s.seq = 0
	s.dwell = 0
	s.beam = 0
	s.sample = 0
	s.sweep = 0
	s.clock = s.cfg.StartTime
}

// Reset rewinds the simulator to its first pulse, reproducing the same stream.
func (s *Simulator) Reset() error {
	s.rewind()
	return nil
}

func (s *Simulator) OpsInfo() OpsInfo {
	return s.cfg.OpsInfo
}

// Next generates the next pulse.
func (s *Simulator) Next(ctx context.Context) (*Pulse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.NDwells > 0 && s.dwell >= int64(s.cfg.NDwells) {
		return nil, ErrEndOfStream
	}

	h := s.header()
	s.fill(h)

	p := s.pool.Get()
	if err := p.Load(h, s.buffers[:s.cfg.NChannels]...); err != nil {
		return nil, fmt.Errorf("loading simulated pulse: %w", err)
	}

	s.advance(h.Prt)
	return p, nil
}

func (s *Simulator) header() Header {
	cfg := &s.cfg

	prt := cfg.Prt
	nGates := cfg.NGates
	pol := PolarizationH

	switch cfg.Mode {
	case SimAlternating:
		if s.sample%2 == 1 {
			pol = PolarizationV
		}
	case SimStaggered:
		// even samples carry the short PRT and the longer gate count
		if s.sample%2 == 1 {
			prt = cfg.PrtLong
			nGates = cfg.NGatesLong
		}
	}

	beamIndex := s.dwell*int64(cfg.BeamsPerDwell) + int64(s.beam)
	az := math.Mod(float64(beamIndex)*cfg.BeamWidthDeg+
		float64(s.sample)/float64(cfg.NSamples)*cfg.BeamWidthDeg, 360)

	lastInDwell := s.beam == cfg.BeamsPerDwell-1 && s.sample == cfg.NSamples-1
	endOfSweep := lastInDwell && (s.dwell+1)%int64(cfg.DwellsPerSweep) == 0

	return Header{
		Time:           s.clock,
		SeqNum:         s.seq,
		Azimuth:        az,
		Elevation:      cfg.Elevation,
		FixedAzimuth:   math.NaN(),
		FixedElevation: cfg.Elevation,
		Prt:            prt,
		PulseWidthUs:   cfg.PulseWidthUs,
		NGates:         nGates,
		Polarization:   pol,
		SweepNum:       s.sweep,
		DwellSeqNum:    s.dwell,
		BeamNumInDwell: s.beam,
		EndOfSweep:     endOfSweep,
	}
}

func (s *Simulator) fill(h Header) {
	cfg := &s.cfg
	wavelength := cfg.OpsInfo.WavelengthM()
	if wavelength <= 0 {
		wavelength = 0.1
	}
	elapsed := h.Time.Sub(cfg.StartTime).Seconds()

	for ch := range cfg.NChannels {
		buf := s.buffers[ch][:2*h.NGates]
		for g := range h.NGates {
			buf[2*g] = float32(s.noise.Rand())
			buf[2*g+1] = float32(s.noise.Rand())
		}

		for _, t := range cfg.Targets {
			amp := math.Pow(10, t.PowerDb/20) * cfg.NoiseSigma
			phase := 4 * math.Pi * t.VelocityMs * elapsed / wavelength
			if ch == 1 || (cfg.Mode == SimAlternating && h.Polarization == PolarizationV) {
				amp /= math.Pow(10, t.ZdrDb/20)
				phase += t.PhidpDeg * math.Pi / 180
			}
			width := max(t.Width, 1)
			for g := t.Gate; g < t.Gate+width && g < h.NGates; g++ {
				if g < 0 {
					continue
				}
				buf[2*g] += float32(amp * math.Cos(phase))
				buf[2*g+1] += float32(amp * math.Sin(phase))
			}
		}
	}
}

func (s *Simulator) advance(prt float64) {
	s.seq++
	s.clock = s.clock.Add(time.Duration(prt * float64(time.Second)))

	s.sample++
	if s.sample < s.cfg.NSamples {
		return
	}
	s.sample = 0
	s.beam++
	if s.beam < s.cfg.BeamsPerDwell {
		return
	}
	s.beam = 0
	s.dwell++
	if s.dwell%int64(s.cfg.DwellsPerSweep) == 0 {
		s.sweep++
	}
}
