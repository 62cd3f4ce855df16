package dwell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// DefaultMaxDwellPulses bounds the dwell queue when no limit is configured.
const DefaultMaxDwellPulses = 10_000

var (
	// ErrEndOfData is returned once the source is exhausted and every beam
	// of the final dwell has been delivered.
	ErrEndOfData = errors.New("no more beams")

	// ErrTryAgain is returned when the source timed out. Partial dwell state
	// is kept, so the caller may simply call NextBeam again.
	ErrTryAgain = errors.New("no pulse available, try again")
)

// Discard and drop reasons reported to the Recorder.
const (
	ReasonInactive    = "inactive"
	ReasonOutOfWindow = "out_of_window"
	ReasonZeroGates   = "zero_gates"
	ReasonOverflow    = "overflow"
	ReasonDropped     = "dropped_dwell"

	ReasonMissingPulses = "missing_pulses"
	ReasonUnaligned     = "unaligned"
)

// Recorder receives assembler events, typically to update metrics.
type Recorder interface {
	PulseRead()
	PulseDiscarded(reason string)
	DwellDropped(reason string)
	BeamAssembled(mode string, nPulses int)
	BeamDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) PulseRead()                {}
func (nopRecorder) PulseDiscarded(string)     {}
func (nopRecorder) DwellDropped(string)       {}
func (nopRecorder) BeamAssembled(string, int) {}
func (nopRecorder) BeamDropped(string)        {}

// Config controls dwell assembly.
type Config struct {
	MaxDwellPulses int
	PrtTolerance   float64

	// Simulate rewinds the source when it is exhausted instead of ending.
	Simulate bool

	// StartTime and EndTime bound the accepted pulse times when non-zero.
	StartTime time.Time
	EndTime   time.Time

	AttenMethod  beam.AttenMethod
	AttenDbPerKm float64

	// DiscardMissingPulses drops beams whose pulse sequence numbers are not
	// contiguous. Such beams are logged either way.
	DiscardMissingPulses bool

	Overrides pulse.Overrides
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxDwellPulses < 0 {
		return fmt.Errorf("max dwell pulses must not be negative: %d", c.MaxDwellPulses)
	}
	if c.PrtTolerance < 0 {
		return fmt.Errorf("prt tolerance must not be negative: %g", c.PrtTolerance)
	}
	if !c.StartTime.IsZero() && !c.EndTime.IsZero() && c.StartTime.After(c.EndTime) {
		return fmt.Errorf("start time %s is after end time %s", c.StartTime, c.EndTime)
	}
	switch c.AttenMethod {
	case "", beam.AttenNone, beam.AttenConstant, beam.AttenWavelength:
	default:
		return fmt.Errorf("unknown attenuation method '%s'", c.AttenMethod)
	}
	if c.AttenDbPerKm < 0 {
		return fmt.Errorf("attenuation must not be negative: %g dB/km", c.AttenDbPerKm)
	}
	return nil
}

type state uint8

const (
	stateIdle state = iota
	stateAccumulating
	stateDwellReady
	stateEndOfData
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAccumulating:
		return "accumulating"
	case stateDwellReady:
		return "dwell-ready"
	case stateEndOfData:
		return "end-of-data"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// WithLogger sets the logger for the assembler.
func WithLogger(logger *slog.Logger) func(*Assembler) {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithConfig sets the assembly configuration.
func WithConfig(cfg Config) func(*Assembler) {
	return func(a *Assembler) {
		a.cfg = cfg
	}
}

// WithPulsePool sets the pool the source allocates pulses from. It is purged
// when the gate geometry changes.
func WithPulsePool(pool *pulse.Pool) func(*Assembler) {
	return func(a *Assembler) {
		a.pulses = pool
	}
}

// WithRecorder sets the event recorder.
func WithRecorder(r Recorder) func(*Assembler) {
	return func(a *Assembler) {
		a.recorder = r
	}
}

// Assembler groups the pulse stream into dwells, splits every dwell into
// beam pulse sets by beam index and hands out initialized beams. It is not
// safe for concurrent use: a single producer owns it.
type Assembler struct {
	source   pulse.Source
	beams    *beam.Pool
	pulses   *pulse.Pool
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	state      state
	cached     *pulse.Pulse // look-ahead pulse seeding the next dwell
	cachedInfo pulse.OpsInfo
	dwellInfo  pulse.OpsInfo
	dwell      []*pulse.Pulse
	dwellID    int64
	lastBeam   int
	sourceDone bool
	rewound    bool
	seqNum     int64

	// pulses of a dropped dwell are discarded until the next dwell starts
	dropping bool
	dropID   int64

	// end flags go to the first beam starting after the flagged pulse
	eos endFlag
	eov endFlag

	// sequence numbers restart once the current dwell is done
	restarted bool

	opsInfo     pulse.OpsInfo
	hasGeometry bool

	set []*pulse.Pulse
}

// New creates an assembler reading from source and drawing beams from beams.
func New(source pulse.Source, beams *beam.Pool, options ...func(*Assembler)) (*Assembler, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	a := Assembler{
		source:   source,
		beams:    beams,
		logger:   logger,
		recorder: nopRecorder{},
		lastBeam: -1,
	}

	for _, option := range options {
		option(&a)
	}

	if a.cfg.MaxDwellPulses == 0 {
		a.cfg.MaxDwellPulses = DefaultMaxDwellPulses
	}
	if a.cfg.PrtTolerance == 0 {
		a.cfg.PrtTolerance = DefaultPrtTolerance
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assembler config: %w", err)
	}
	if a.recorder == nil {
		a.recorder = nopRecorder{}
	}

	return &a, nil
}

// NextBeam returns the next initialized beam in dwell order. It returns
// ErrTryAgain when the source timed out and ErrEndOfData once the stream is
// exhausted. The caller owns the beam and must eventually release it.
func (a *Assembler) NextBeam(ctx context.Context) (*beam.Beam, error) {
	for {
		switch a.state {
		case stateEndOfData:
			return nil, ErrEndOfData

		case stateIdle, stateAccumulating:
			if err := a.accumulate(ctx); err != nil {
				if errors.Is(err, pulse.ErrTimeout) {
					return nil, fmt.Errorf("%w: %w", ErrTryAgain, err)
				}
				return nil, err
			}

		case stateDwellReady:
			if set := a.nextBeamSet(); len(set) > 0 {
				if b := a.buildBeam(set); b != nil {
					return b, nil
				}
				continue
			}

			a.clearDwell()
			if a.restarted {
				a.restarted = false
				a.rebaseEndFlags()
			}
			if a.sourceDone && a.cached == nil {
				a.state = stateEndOfData
			} else {
				a.state = stateAccumulating
			}
		}
	}
}

// accumulate reads pulses into the dwell queue until a pulse of another
// dwell arrives or the source is exhausted.
func (a *Assembler) accumulate(ctx context.Context) error {
	for {
		p, info, err := a.fetch(ctx)
		if errors.Is(err, pulse.ErrEndOfStream) {
			// an empty source would otherwise be rewound forever
			if a.cfg.Simulate && !a.rewound && a.rewind() {
				a.rewound = true
				if len(a.dwell) > 0 {
					a.restarted = true
					a.markReady()
					return nil
				}
				a.rebaseEndFlags()
				continue
			}

			a.sourceDone = true
			if len(a.dwell) > 0 {
				a.markReady()
			} else {
				a.state = stateEndOfData
			}
			return nil
		}
		if err != nil {
			return err
		}
		a.rewound = false

		if a.dropping {
			if p.DwellSeqNum == a.dropID {
				a.discard(p, ReasonDropped)
				continue
			}
			a.dropping = false
		}

		if a.state == stateIdle || len(a.dwell) == 0 {
			a.state = stateAccumulating
			a.dwellID = p.DwellSeqNum
			a.dwellInfo = info
		}
		if p.DwellSeqNum != a.dwellID {
			a.cached = p
			a.cachedInfo = info
			a.markReady()
			return nil
		}

		if p.NGates == 0 {
			a.logger.Warn("zero-gate pulse, dropping dwell",
				slog.Int64("seqNum", p.SeqNum),
				slog.Int64("dwell", p.DwellSeqNum),
				slog.Int("dwellPulses", len(a.dwell)))

			a.discard(p, ReasonZeroGates)
			a.recorder.DwellDropped(ReasonZeroGates)
			a.dropDwell(p.DwellSeqNum)
			continue
		}

		a.enqueue(p)
	}
}

func (a *Assembler) markReady() {
	a.state = stateDwellReady
	a.lastBeam = -1
}

func (a *Assembler) rewind() bool {
	if err := a.source.Reset(); err != nil {
		a.logger.Error(fmt.Sprintf("rewinding source: %s", err.Error()))
		return false
	}
	a.logger.Info("source exhausted, rewinding")
	a.dropping = false
	return true
}

// fetch returns the cached pulse or the next usable pulse from the source.
func (a *Assembler) fetch(ctx context.Context) (*pulse.Pulse, pulse.OpsInfo, error) {
	if a.cached != nil {
		p := a.cached
		a.cached = nil
		return p, a.cachedInfo, nil
	}

	for {
		p, err := a.source.Next(ctx)
		if err != nil {
			return nil, pulse.OpsInfo{}, err
		}
		a.recorder.PulseRead()

		info := a.source.OpsInfo()
		if !info.Active() {
			a.discard(p, ReasonInactive)
			continue
		}
		if a.outsideWindow(p) {
			a.discard(p, ReasonOutOfWindow)
			continue
		}

		a.updateOpsInfo(info)
		return p, a.opsInfo, nil
	}
}

func (a *Assembler) outsideWindow(p *pulse.Pulse) bool {
	if !a.cfg.StartTime.IsZero() && p.Time.Before(a.cfg.StartTime) {
		return true
	}
	if !a.cfg.EndTime.IsZero() && p.Time.After(a.cfg.EndTime) {
		return true
	}
	return false
}

func (a *Assembler) discard(p *pulse.Pulse, reason string) {
	a.logger.Debug("discarding pulse", slog.Int64("seqNum", p.SeqNum), slog.String("reason", reason))
	a.recorder.PulseDiscarded(reason)
	p.Recycle()
}

func (a *Assembler) updateOpsInfo(info pulse.OpsInfo) {
	a.cfg.Overrides.Apply(&info)

	if a.hasGeometry && !a.opsInfo.SameGeometry(info) {
		purged := a.pulses.Purge()
		a.logger.Info("gate geometry changed, purged pulse pool",
			slog.Float64("startRangeKm", info.Geometry.StartRangeKm),
			slog.Float64("gateSpacingKm", info.Geometry.GateSpacingKm),
			slog.Int("purged", purged))
	}

	a.opsInfo = info
	a.hasGeometry = true
}

func (a *Assembler) enqueue(p *pulse.Pulse) {
	p.Retain()
	a.dwell = append(a.dwell, p)

	if p.EndOfSweep {
		a.eos.mark(p.SeqNum)
	}
	if p.EndOfVolume {
		a.eov.mark(p.SeqNum)
	}

	if len(a.dwell) > a.cfg.MaxDwellPulses {
		a.logger.Warn("dwell exceeds maximum size, dropping",
			slog.Int64("dwell", a.dwellID),
			slog.Int("pulses", len(a.dwell)),
			slog.Int("max", a.cfg.MaxDwellPulses))

		a.recorder.DwellDropped(ReasonOverflow)
		a.dropDwell(a.dwellID)
	}
}

func (a *Assembler) dropDwell(id int64) {
	a.clearDwell()
	a.dropping = true
	a.dropID = id
}

func (a *Assembler) clearDwell() {
	for i, p := range a.dwell {
		p.Release()
		a.dwell[i] = nil
	}
	a.dwell = a.dwell[:0]
}

// nextBeamSet collects the pulses of the lowest beam index above the last
// one delivered from the current dwell.
func (a *Assembler) nextBeamSet() []*pulse.Pulse {
	target := -1
	for _, p := range a.dwell {
		if p.BeamNumInDwell > a.lastBeam && (target < 0 || p.BeamNumInDwell < target) {
			target = p.BeamNumInDwell
		}
	}

	a.set = a.set[:0]
	if target < 0 {
		return nil
	}
	for _, p := range a.dwell {
		if p.BeamNumInDwell == target {
			a.set = append(a.set, p)
		}
	}
	a.lastBeam = target
	return a.set
}

// rebaseEndFlags hands pending end flags to the next beam after the source
// restarted its sequence numbers.
func (a *Assembler) rebaseEndFlags() {
	a.eos.rebase()
	a.eov.rebase()
}

// buildBeam initializes a beam from set. It returns nil when the set is
// rejected.
func (a *Assembler) buildBeam(set []*pulse.Pulse) *beam.Beam {
	mode := DetectMode(set, a.cfg.PrtTolerance)
	if mode.IsAlternating() {
		if set = startOnH(set); len(set) < 2 {
			a.dropBeam(ReasonUnaligned, set)
			return nil
		}
	}

	if gaps := missingPulses(set); gaps > 0 {
		a.logger.Warn("missing pulses in beam",
			slog.Int64("dwell", a.dwellID),
			slog.Int("beamInDwell", a.lastBeam),
			slog.Int64("firstSeqNum", set[0].SeqNum),
			slog.Int64("lastSeqNum", set[len(set)-1].SeqNum),
			slog.Int64("missing", gaps))

		if a.cfg.DiscardMissingPulses {
			a.dropBeam(ReasonMissingPulses, set)
			return nil
		}
	}

	nGates, nGatesLong := gateCounts(set, mode)

	prt, prtLong := set[0].Prt, set[0].Prt
	if mode.IsStaggered() {
		prt, prtLong = mode.Stagger.PrtShort, mode.Stagger.PrtLong
	}

	atten, err := beam.NewAtmosAtten(a.cfg.AttenMethod, a.cfg.AttenDbPerKm, a.dwellInfo.WavelengthCm)
	if err != nil {
		a.logger.Warn(fmt.Sprintf("atmospheric attenuation disabled: %s", err.Error()))
		atten = beam.AtmosAtten{Method: beam.AttenNone}
	}

	mid := set[len(set)/2]

	b := a.beams.Get()
	b.Init(beam.Setup{
		SeqNum:        a.seqNum,
		Pulses:        set,
		NGates:        nGates,
		NGatesPrtLong: nGatesLong,
		Elevation:     mid.Elevation,
		Azimuth:       mid.Azimuth,
		Mode:          mode,
		Prt:           prt,
		PrtLong:       prtLong,
		EndOfSweep:    a.eos.due(set[0].SeqNum),
		EndOfVolume:   a.eov.due(set[0].SeqNum),
		AtmosAtten:    atten,
		OpsInfo:       a.dwellInfo,
	})
	b.SetCalibration(a.dwellInfo.Calibration)
	b.SetStatusXML(a.dwellInfo.StatusXML)

	a.seqNum++

	a.recorder.BeamAssembled(mode.Kind.String(), len(set))
	a.logger.Debug("beam assembled",
		slog.Int64("seqNum", b.SeqNum()),
		slog.Int64("dwell", a.dwellID),
		slog.Int("beamInDwell", a.lastBeam),
		slog.String("mode", mode.String()),
		slog.Int("pulses", len(set)),
		slog.Int("nGates", nGates))

	return b
}

func (a *Assembler) dropBeam(reason string, set []*pulse.Pulse) {
	a.logger.Warn("dropping beam",
		slog.Int64("dwell", a.dwellID),
		slog.Int("beamInDwell", a.lastBeam),
		slog.Int("pulses", len(set)),
		slog.String("reason", reason))
	a.recorder.BeamDropped(reason)
}

// startOnH trims an alternating set so that it starts on an H pulse and
// holds whole H/V pairs.
func startOnH(set []*pulse.Pulse) []*pulse.Pulse {
	if len(set) > 0 && set[0].Polarization != pulse.PolarizationH {
		set = set[1:]
	}
	return set[:len(set)&^1]
}

// missingPulses counts the sequence numbers absent between consecutive
// pulses of set.
func missingPulses(set []*pulse.Pulse) int64 {
	var n int64
	for i := 1; i < len(set); i++ {
		if d := set[i].SeqNum - set[i-1].SeqNum; d != 1 {
			n += max(d-1, 1)
		}
	}
	return n
}

// endFlag holds the sequence numbers of flagged pulses, in arrival order,
// whose flag has not been handed to a beam yet.
type endFlag struct {
	seqNums []int64
}

func (f *endFlag) mark(seqNum int64) {
	f.seqNums = append(f.seqNums, seqNum)
}

// due reports whether a beam starting at firstSeqNum carries the flag and
// consumes every flag it covers.
func (f *endFlag) due(firstSeqNum int64) bool {
	n := 0
	for n < len(f.seqNums) && f.seqNums[n] < firstSeqNum {
		n++
	}
	if n == 0 {
		return false
	}
	f.seqNums = f.seqNums[:copy(f.seqNums, f.seqNums[n:])]
	return true
}

func (f *endFlag) rebase() {
	if len(f.seqNums) > 0 {
		f.seqNums = append(f.seqNums[:0], math.MinInt64)
	}
}

// DwellLen returns the number of pulses queued for the current dwell.
func (a *Assembler) DwellLen() int {
	return len(a.dwell)
}

// OpsInfo returns the operating information, with overrides applied, of
// the most recent pulse.
func (a *Assembler) OpsInfo() pulse.OpsInfo {
	return a.opsInfo
}

// Close releases the pulses held by the assembler.
func (a *Assembler) Close() {
	a.clearDwell()
	if a.cached != nil {
		a.cached.Recycle()
		a.cached = nil
	}
	a.state = stateEndOfData
}
