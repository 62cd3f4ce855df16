package beam

import (
	"time"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// GateInput is the beam context passed to the moments engine with each gate.
type GateInput struct {
	Gate         int
	RangeKm      float64
	Mode         Mode
	StaggerM     int
	StaggerN     int
	NChannels    int
	DualPol      bool
	Prt          float64
	PrtLong      float64
	Nyquist      float64
	WavelengthM  float64
	AtmosAttenDb float64
	Calibration  *pulse.Calibration
}

// MomentsEngine estimates moments from a gate's IQ series. Implementations
// are shared by concurrently processed beams and must not keep per-call state.
type MomentsEngine interface {
	// ComputeGate fills g.Fields from g's IQ series. Fields that cannot be
	// estimated are left at Missing.
	ComputeGate(in GateInput, g *GateData)

	// ComputeAlternatingVelocity corrects velocities of an alternating-mode
	// beam using the whole field array.
	ComputeAlternatingVelocity(gates []*GateData, nyquist float64)
}

// KdpInput carries the beam-wide arrays handed to the KDP engine. All slices
// have NGates entries; Missing marks absent values.
type KdpInput struct {
	Time          time.Time
	Elevation     float64
	Azimuth       float64
	WavelengthCm  float64
	NGates        int
	StartRangeKm  float64
	GateSpacingKm float64

	Snr   []float64
	Dbz   []float64
	Zdr   []float64
	Rhohv []float64
	Phidp []float64
}

// KdpOutput receives the KDP engine results. Gates the engine cannot compute
// are set to Missing.
type KdpOutput struct {
	Kdp          []float64
	PhidpFilt    []float64
	PhidpSdev    []float64
	ZdrSdev      []float64
	DbzAttenCorr []float64
	ZdrAttenCorr []float64
}

// KdpEngine computes KDP and derived attenuation corrections for a beam.
// Implementations must be safe for concurrent use.
type KdpEngine interface {
	Compute(in *KdpInput, out *KdpOutput)
}

// MedianFilter smooths values in place with an odd window length.
type MedianFilter interface {
	Apply(values []float64, window int)
}

// Engines groups the numeric collaborators used by a beam.
type Engines struct {
	Moments MomentsEngine
	Kdp     KdpEngine
	Median  MedianFilter
}

func (in *KdpInput) resize(n int) {
	in.NGates = n
	in.Snr = resizeFloats(in.Snr, n)
	in.Dbz = resizeFloats(in.Dbz, n)
	in.Zdr = resizeFloats(in.Zdr, n)
	in.Rhohv = resizeFloats(in.Rhohv, n)
	in.Phidp = resizeFloats(in.Phidp, n)
}

func (out *KdpOutput) resize(n int) {
	out.Kdp = resizeMissing(out.Kdp, n)
	out.PhidpFilt = resizeMissing(out.PhidpFilt, n)
	out.PhidpSdev = resizeMissing(out.PhidpSdev, n)
	out.ZdrSdev = resizeMissing(out.ZdrSdev, n)
	out.DbzAttenCorr = resizeMissing(out.DbzAttenCorr, n)
	out.ZdrAttenCorr = resizeMissing(out.ZdrAttenCorr, n)
}

func resizeFloats(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

func resizeMissing(s []float64, n int) []float64 {
	s = resizeFloats(s, n)
	for i := range s {
		s[i] = Missing
	}
	return s
}
