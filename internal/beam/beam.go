package beam

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

type state uint8

const (
	stateUninitialized state = iota
	stateInitialized
	stateProcessed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitialized:
		return "initialized"
	case stateProcessed:
		return "processed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Params enable the optional processing steps.
type Params struct {
	ZdrMedianFilterLen   int
	RhohvMedianFilterLen int
	ComputeKdp           bool
	CorrectPrecipAtten   bool
	Overrides            pulse.Overrides
}

// Setup carries what the assembler determined about a pulse set.
type Setup struct {
	SeqNum        int64
	Pulses        []*pulse.Pulse
	NGates        int
	NGatesPrtLong int
	Elevation     float64
	Azimuth       float64
	Mode          Mode
	Prt           float64
	PrtLong       float64
	EndOfSweep    bool
	EndOfVolume   bool
	AtmosAtten    AtmosAtten
	OpsInfo       pulse.OpsInfo
}

// WithLogger sets the logger used for processing warnings.
func WithLogger(logger *slog.Logger) func(*Beam) {
	return func(b *Beam) {
		b.logger = logger
	}
}

// WithParams sets the processing parameters.
func WithParams(params Params) func(*Beam) {
	return func(b *Beam) {
		b.params = params
	}
}

// Beam is one observation unit assembled from a pulse set. A beam is
// initialized by the assembler, processed once by a worker, read by a sink
// and finally released back to its pool.
type Beam struct {
	engines Engines
	params  Params
	logger  *slog.Logger

	pool   *Pool
	pooled bool // guarded by pool.mu

	state state

	seqNum       int64
	pulses       []*pulse.Pulse
	mode         Mode
	nSamples     int
	nSamplesHalf int
	nChannels    int
	dualPol      bool

	nGates         int
	nGatesPrtLong  int
	nGatesOut      int
	nGatesCombined int

	time         time.Time
	elevation    float64
	azimuth      float64
	targetEl     float64
	targetAz     float64
	fixedEl      float64
	fixedAz      float64
	scanMode     int
	sweepNum     int
	volumeNum    int
	endOfSweep   bool
	endOfVolume  bool
	pulseWidthUs float64

	prt             float64
	prtShort        float64
	prtLong         float64
	staggerM        int
	staggerN        int
	nyquist         float64
	nyquistPrtShort float64
	nyquistPrtLong  float64

	atmosAtten AtmosAtten
	opsInfo    pulse.OpsInfo
	calib      pulse.Calibration
	statusXML  string

	gates     []*GateData
	iqViews   [pulse.MaxChannels][][]float32
	fields    []Fields
	kdpIn     KdpInput
	kdpOut    KdpOutput
	medianBuf []float64
	intBuf    []int
}

// New creates a standalone beam. Beams handed out by the assembler come
// from a Pool instead.
func New(engines Engines, options ...func(*Beam)) *Beam {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	b := Beam{
		engines: engines,
		logger:  logger,
	}

	for _, option := range options {
		option(&b)
	}

	return &b
}

// Init stores the identity of the beam and retains every pulse of the set.
// It panics unless the beam is uninitialized.
func (b *Beam) Init(s Setup) {
	if b.state != stateUninitialized {
		panic(fmt.Sprintf("beam: Init in state %s", b.state))
	}
	if len(s.Pulses) == 0 {
		panic("beam: Init with an empty pulse set")
	}

	b.seqNum = s.SeqNum
	b.pulses = append(b.pulses[:0], s.Pulses...)
	for _, p := range b.pulses {
		p.Retain()
	}

	b.mode = s.Mode
	b.nSamples = len(b.pulses)
	b.nSamplesHalf = b.nSamples / 2

	b.nGates = s.NGates
	b.nGatesPrtLong = s.NGatesPrtLong
	if b.mode.IsStaggered() {
		b.nGatesOut = b.nGatesPrtLong
		b.nGatesCombined = max(b.nGates, b.nGatesPrtLong)
	} else {
		b.nGatesOut = b.nGates
		b.nGatesCombined = b.nGates
	}

	b.elevation = s.Elevation
	b.azimuth = s.Azimuth
	b.targetEl = s.Elevation
	b.targetAz = s.Azimuth
	b.prt = s.Prt
	b.prtLong = s.PrtLong
	b.endOfSweep = s.EndOfSweep
	b.endOfVolume = s.EndOfVolume
	b.atmosAtten = s.AtmosAtten

	b.opsInfo = s.OpsInfo
	b.opsInfo.Calibration = s.OpsInfo.Calibration.Clone()
	b.calib = b.opsInfo.Calibration

	b.nChannels = pulse.MaxChannels
	for _, p := range b.pulses {
		b.nChannels = min(b.nChannels, p.NChannels())
	}
	b.dualPol = b.mode.IsAlternating() || b.nChannels == 2

	b.sweepNum = b.medianHeader(func(p *pulse.Pulse) int { return p.SweepNum })
	b.volumeNum = b.medianHeader(func(p *pulse.Pulse) int { return p.VolumeNum })

	b.statusXML = ""
	b.state = stateInitialized
}

// medianHeader returns the median of a header value over the pulse set,
// which tolerates a single corrupted header.
func (b *Beam) medianHeader(get func(*pulse.Pulse) int) int {
	b.intBuf = b.intBuf[:0]
	for _, p := range b.pulses {
		b.intBuf = append(b.intBuf, get(p))
	}
	slices.Sort(b.intBuf)
	return b.intBuf[len(b.intBuf)/2]
}

// SetCalibration stores a calibration snapshot. Missing reflectivity
// baselines are derived from noise, gain and radar constant when all
// three are known and left unset otherwise.
func (b *Beam) SetCalibration(c pulse.Calibration) {
	b.calib = c.Clone()

	deriveBaseDbz(&b.calib.BaseDbz1kmHc, b.calib.NoiseDbmHc, b.calib.ReceiverGainDbHc, b.calib.RadarConstantH)
	deriveBaseDbz(&b.calib.BaseDbz1kmVc, b.calib.NoiseDbmVc, b.calib.ReceiverGainDbVc, b.calib.RadarConstantV)
	deriveBaseDbz(&b.calib.BaseDbz1kmHx, b.calib.NoiseDbmHx, b.calib.ReceiverGainDbHx, b.calib.RadarConstantH)
	deriveBaseDbz(&b.calib.BaseDbz1kmVx, b.calib.NoiseDbmVx, b.calib.ReceiverGainDbVx, b.calib.RadarConstantV)
}

func deriveBaseDbz(base **float64, noise, gain, constant *float64) {
	if *base != nil || noise == nil || gain == nil || constant == nil {
		return
	}
	v := *noise - *gain - *constant
	*base = &v
}

// SetStatusXML attaches the radar status document received with the dwell.
func (b *Beam) SetStatusXML(xml string) {
	b.statusXML = xml
}

// ComputeMoments builds the per-gate IQ series, runs the moments, filter and
// KDP collaborators and copies the results to the output fields. Every
// pulse retained by Init is released before it returns. It must be called
// exactly once per Init and panics otherwise.
func (b *Beam) ComputeMoments() {
	if b.state != stateInitialized {
		panic(fmt.Sprintf("beam: ComputeMoments in state %s", b.state))
	}

	b.prepare()
	b.allocGateData(b.nGatesCombined)
	b.loadGateIQ()
	b.computeGateMoments()
	b.applyMedianFilters()
	if b.params.ComputeKdp && b.dualPol {
		b.computeKdp()
	}
	b.copyToOutput()
	b.releasePulses()

	b.state = stateProcessed
}

func (b *Beam) prepare() {
	mid := b.pulses[b.nSamplesHalf]
	b.time = mid.Time
	b.pulseWidthUs = mid.PulseWidthUs
	b.scanMode = mid.ScanMode
	b.fixedEl = mid.FixedElevation
	b.fixedAz = mid.FixedAzimuth

	b.params.Overrides.Apply(&b.opsInfo)
	if b.params.Overrides.WavelengthCm != nil {
		wl := *b.params.Overrides.WavelengthCm
		b.calib.WavelengthCm = &wl
	}
	wavelength := b.opsInfo.WavelengthM()

	if !b.mode.IsStaggered() {
		b.staggerM, b.staggerN = 0, 0
		b.prtShort = b.prt
		b.nyquist = 0
		if b.prt > 0 {
			b.nyquist = wavelength / b.prt / 4
		}
		return
	}

	st := b.mode.Stagger
	b.prt = st.PrtShort
	b.prtShort = st.PrtShort
	b.prtLong = st.PrtLong

	m, n, ok := StaggerRatio(st.PrtShort, st.PrtLong)
	if !ok {
		b.logger.Warn("unrecognized stagger ratio, assuming 2/3",
			slog.Float64("prtShort", st.PrtShort),
			slog.Float64("prtLong", st.PrtLong),
			slog.Int64("beam", b.seqNum))
	}
	b.staggerM, b.staggerN = m, n

	b.nyquistPrtShort = wavelength / st.PrtShort / 4
	b.nyquistPrtLong = wavelength / st.PrtLong / 4
	b.nyquist = b.nyquistPrtShort * float64(m)
}

// allocGateData grows the working records to n and resets all of them.
// The allocation never shrinks.
func (b *Beam) allocGateData(n int) {
	for len(b.gates) < n {
		b.gates = append(b.gates, &GateData{})
	}
	for _, g := range b.gates {
		g.reset()
	}
}

func (b *Beam) loadGateIQ() {
	// flat per-sample channel views
	for ch := range b.nChannels {
		b.iqViews[ch] = b.iqViews[ch][:0]
		for _, p := range b.pulses {
			b.iqViews[ch] = append(b.iqViews[ch], p.IQ(ch))
		}
	}

	for gi := range b.nGatesCombined {
		g := b.gates[gi]
		for ch := range b.nChannels {
			g.IQ[ch] = growComplex(g.IQ[ch], b.nSamples)
			for i, iq := range b.iqViews[ch] {
				// a short pulse leaves the gate empty rather than being read past its end
				if 2*gi+1 < len(iq) {
					g.IQ[ch][i] = complex(float64(iq[2*gi]), float64(iq[2*gi+1]))
				}
			}
		}
	}

	if b.mode.IsStaggered() {
		b.splitStaggered()
	}
}

func (b *Beam) splitStaggered() {
	st := b.mode.Stagger

	shortParity := 0
	if !st.StartsOnShort {
		shortParity = 1
	}
	nShort := (b.nSamples + 1 - shortParity) / 2
	nLong := b.nSamples - nShort

	for gi := range b.nGatesCombined {
		g := b.gates[gi]
		for ch := range b.nChannels {
			if gi < st.NGatesShort {
				g.Short[ch] = growComplex(g.Short[ch], nShort)
			}
			if gi < st.NGatesLong {
				g.Long[ch] = growComplex(g.Long[ch], nLong)
			}

			var is, il int
			for i, v := range g.IQ[ch] {
				if i%2 == shortParity {
					if gi < st.NGatesShort {
						g.Short[ch][is] = v
					}
					is++
				} else {
					if gi < st.NGatesLong {
						g.Long[ch][il] = v
					}
					il++
				}
			}
		}
	}
}

func (b *Beam) computeGateMoments() {
	if b.engines.Moments == nil {
		return
	}

	in := GateInput{
		Mode:        b.mode,
		StaggerM:    b.staggerM,
		StaggerN:    b.staggerN,
		NChannels:   b.nChannels,
		DualPol:     b.dualPol,
		Prt:         b.prt,
		PrtLong:     b.prtLong,
		Nyquist:     b.nyquist,
		WavelengthM: b.opsInfo.WavelengthM(),
		Calibration: &b.calib,
	}

	for gi := range b.nGatesCombined {
		in.Gate = gi
		in.RangeKm = b.opsInfo.Geometry.RangeKm(gi)
		in.AtmosAttenDb = b.atmosAtten.Correction(b.elevation, in.RangeKm)
		b.engines.Moments.ComputeGate(in, b.gates[gi])
	}

	if b.mode.IsAlternating() {
		b.engines.Moments.ComputeAlternatingVelocity(b.gates[:b.nGatesCombined], b.nyquist)
	}
}

func (b *Beam) applyMedianFilters() {
	if b.engines.Median == nil {
		return
	}
	if b.params.ZdrMedianFilterLen >= 3 {
		b.medianField(b.params.ZdrMedianFilterLen, func(f *Fields) *float64 { return &f.Zdr })
	}
	if b.params.RhohvMedianFilterLen >= 3 {
		b.medianField(b.params.RhohvMedianFilterLen, func(f *Fields) *float64 { return &f.Rhohv })
	}
}

func (b *Beam) medianField(window int, field func(*Fields) *float64) {
	n := b.nGatesCombined
	b.medianBuf = resizeFloats(b.medianBuf, n)
	for gi := range n {
		b.medianBuf[gi] = *field(&b.gates[gi].Fields)
	}
	b.engines.Median.Apply(b.medianBuf, window)
	for gi := range n {
		*field(&b.gates[gi].Fields) = b.medianBuf[gi]
	}
}

func (b *Beam) computeKdp() {
	if b.engines.Kdp == nil {
		return
	}

	n := b.nGatesCombined
	in := &b.kdpIn
	in.resize(n)
	in.Time = b.time
	in.Elevation = b.elevation
	in.Azimuth = b.azimuth
	in.WavelengthCm = b.opsInfo.WavelengthCm
	in.StartRangeKm = b.opsInfo.Geometry.StartRangeKm
	in.GateSpacingKm = b.opsInfo.Geometry.GateSpacingKm
	for gi := range n {
		f := &b.gates[gi].Fields
		in.Snr[gi] = f.Snr
		in.Dbz[gi] = f.Dbz
		in.Zdr[gi] = f.Zdr
		in.Rhohv[gi] = f.Rhohv
		in.Phidp[gi] = f.Phidp
	}

	out := &b.kdpOut
	out.resize(n)
	b.engines.Kdp.Compute(in, out)

	for gi := range n {
		f := &b.gates[gi].Fields
		setIfValid(&f.Kdp, out.Kdp, gi)
		setIfValid(&f.PhidpFilt, out.PhidpFilt, gi)
		setIfValid(&f.PhidpSdev, out.PhidpSdev, gi)
		setIfValid(&f.ZdrSdev, out.ZdrSdev, gi)

		if !b.params.CorrectPrecipAtten {
			continue
		}
		setIfValid(&f.DbzAttenCorrection, out.DbzAttenCorr, gi)
		setIfValid(&f.ZdrAttenCorrection, out.ZdrAttenCorr, gi)
		if f.Dbz != Missing && f.DbzAttenCorrection != Missing {
			f.DbzAttenCorrected = f.Dbz + f.DbzAttenCorrection
		}
		if f.Zdr != Missing && f.ZdrAttenCorrection != Missing {
			f.ZdrAttenCorrected = f.Zdr + f.ZdrAttenCorrection
		}
	}
}

// setIfValid writes src[i] into dst unless the engine reported it missing.
func setIfValid(dst *float64, src []float64, i int) {
	if i >= len(src) || src[i] == Missing {
		return
	}
	*dst = src[i]
}

func (b *Beam) copyToOutput() {
	n := min(b.nGatesCombined, len(b.gates))
	if cap(b.fields) < n {
		b.fields = make([]Fields, n)
	}
	b.fields = b.fields[:n]
	for gi := range n {
		b.fields[gi] = b.gates[gi].Fields
	}
}

func (b *Beam) releasePulses() {
	for i, p := range b.pulses {
		p.Release()
		b.pulses[i] = nil
	}
	b.pulses = b.pulses[:0]

	for ch := range b.iqViews {
		clear(b.iqViews[ch])
		b.iqViews[ch] = b.iqViews[ch][:0]
	}
}

// Release hands the beam back to its pool. Pulses still retained by an
// unprocessed beam are released as well. The beam must not be used after.
func (b *Beam) Release() {
	if b.state == stateInitialized {
		b.releasePulses()
	}
	b.state = stateUninitialized
	b.statusXML = ""
	b.pool.put(b)
}

// Processed reports whether ComputeMoments has completed.
func (b *Beam) Processed() bool { return b.state == stateProcessed }

// Fields returns the moments of the output gates.
func (b *Beam) Fields() []Fields {
	return b.fields[:min(b.nGatesOut, len(b.fields))]
}

// Pulses returns the pulse set until ComputeMoments releases it.
func (b *Beam) Pulses() []*pulse.Pulse { return b.pulses }

func (b *Beam) SeqNum() int64                  { return b.seqNum }
func (b *Beam) Mode() Mode                     { return b.mode }
func (b *Beam) NSamples() int                  { return b.nSamples }
func (b *Beam) NChannels() int                 { return b.nChannels }
func (b *Beam) DualPol() bool                  { return b.dualPol }
func (b *Beam) NGates() int                    { return b.nGates }
func (b *Beam) NGatesPrtLong() int             { return b.nGatesPrtLong }
func (b *Beam) NGatesOut() int                 { return b.nGatesOut }
func (b *Beam) NGatesCombined() int            { return b.nGatesCombined }
func (b *Beam) Time() time.Time                { return b.time }
func (b *Beam) Elevation() float64             { return b.elevation }
func (b *Beam) Azimuth() float64               { return b.azimuth }
func (b *Beam) TargetElevation() float64       { return b.targetEl }
func (b *Beam) TargetAzimuth() float64         { return b.targetAz }
func (b *Beam) FixedElevation() float64        { return b.fixedEl }
func (b *Beam) FixedAzimuth() float64          { return b.fixedAz }
func (b *Beam) ScanMode() int                  { return b.scanMode }
func (b *Beam) SweepNum() int                  { return b.sweepNum }
func (b *Beam) VolumeNum() int                 { return b.volumeNum }
func (b *Beam) EndOfSweep() bool               { return b.endOfSweep }
func (b *Beam) EndOfVolume() bool              { return b.endOfVolume }
func (b *Beam) PulseWidthUs() float64          { return b.pulseWidthUs }
func (b *Beam) Prt() float64                   { return b.prt }
func (b *Beam) PrtShort() float64              { return b.prtShort }
func (b *Beam) PrtLong() float64               { return b.prtLong }
func (b *Beam) StaggerRatio() (m, n int)       { return b.staggerM, b.staggerN }
func (b *Beam) Nyquist() float64               { return b.nyquist }
func (b *Beam) NyquistPrtShort() float64       { return b.nyquistPrtShort }
func (b *Beam) NyquistPrtLong() float64        { return b.nyquistPrtLong }
func (b *Beam) AtmosAtten() AtmosAtten         { return b.atmosAtten }
func (b *Beam) OpsInfo() pulse.OpsInfo         { return b.opsInfo }
func (b *Beam) Calibration() pulse.Calibration { return b.calib }
func (b *Beam) StatusXML() string              { return b.statusXML }
