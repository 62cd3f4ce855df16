// Package moments provides reference implementations of the numeric
// collaborators used by beam processing: a pulse-pair moments estimator, a
// regression-based KDP estimator and a median filter.
package moments

import (
	"math"
	"math/cmplx"
	"slices"

	"github.com/roman-kulish/radar-beams/internal/beam"
)

const (
	defaultNoisePower = 1.0
	defaultMinSnrDb   = -3.0

	// neighbours used as the reference when unfolding alternating velocities
	unfoldHistory = 5
)

// PulsePair estimates moments with lag-0/lag-1 autocorrelations. It is
// stateless and safe for concurrent use.
type PulsePair struct {
	// NoisePower is the linear noise power per channel used when the
	// calibration does not report noise.
	NoisePower float64

	// MinSnrDb is the SNR below which velocity, width and polarimetric
	// moments are not estimated.
	MinSnrDb float64
}

// NewPulsePair returns an estimator with default thresholds.
func NewPulsePair() *PulsePair {
	return &PulsePair{NoisePower: defaultNoisePower, MinSnrDb: defaultMinSnrDb}
}

// ComputeGate implements beam.MomentsEngine.
func (pp *PulsePair) ComputeGate(in beam.GateInput, g *beam.GateData) {
	if in.NChannels == 0 || len(g.IQ[0]) < 2 {
		return
	}

	var h, v []complex128
	switch {
	case in.Mode.IsStaggered():
		h = g.Short[0]
	case in.Mode.IsAlternating() && in.NChannels == 1:
		h, v = splitAlternating(g.IQ[0])
	case in.NChannels == 2:
		h, v = g.IQ[0], g.IQ[1]
	default:
		h = g.IQ[0]
	}
	if len(h) == 0 {
		return
	}

	f := &g.Fields
	powerH := meanPower(h)
	if powerH == 0 {
		return
	}
	f.Cpa = phaseAlignment(h)
	if c := in.Calibration; c != nil && c.ReceiverGainDbHc != nil {
		f.Dbm = 10*math.Log10(powerH) - *c.ReceiverGainDbHc
	} else {
		f.Dbm = 10 * math.Log10(powerH)
	}

	noiseH := pp.noisePower(in)
	if powerH <= noiseH {
		return
	}
	snr := 10 * math.Log10((powerH-noiseH)/noiseH)
	f.Snr = snr
	if c := in.Calibration; c != nil && c.BaseDbz1kmHc != nil && in.RangeKm > 0 {
		f.Dbz = *c.BaseDbz1kmHc + snr + 20*math.Log10(in.RangeKm) + in.AtmosAttenDb
	}
	if snr < pp.minSnr() {
		return
	}

	switch {
	case in.Mode.IsStaggered():
		pp.staggeredVelocity(in, g)
	case in.Mode.IsAlternating():
		// co-polar lag spans two PRTs, so the estimate folds at half Nyquist
		r0, r1 := powerH, lag1(h)
		f.Vel = in.Nyquist / (2 * math.Pi) * cmplx.Phase(r1)
		f.Width = spectrumWidth(r0, cmplx.Abs(r1), in.Nyquist/2)
		f.Ncp = cmplx.Abs(r1) / r0
	default:
		r0, r1 := powerH, lag1(h)
		f.Vel = in.Nyquist / math.Pi * cmplx.Phase(r1)
		f.Width = spectrumWidth(r0, cmplx.Abs(r1), in.Nyquist)
		f.Ncp = cmplx.Abs(r1) / r0
	}

	if in.DualPol && len(v) > 0 {
		pp.dualPol(in, h, v, powerH, f)
	}
}

func (pp *PulsePair) dualPol(in beam.GateInput, h, v []complex128, powerH float64, f *beam.Fields) {
	n := min(len(h), len(v))
	powerV := meanPower(v[:n])
	if powerV <= 0 {
		return
	}

	var rvh complex128
	for i := range n {
		rvh += v[i] * cmplx.Conj(h[i])
	}
	rvh /= complex(float64(n), 0)

	zdr := 10 * math.Log10(powerH/powerV)
	phidp := cmplx.Phase(rvh) * 180 / math.Pi
	if in.Mode.IsAlternating() && in.NChannels == 1 {
		// each V sample trails its H sample by one PRT of Doppler phase
		phidp -= cmplx.Phase(lag1(h)) / 2 * 180 / math.Pi
	}
	if c := in.Calibration; c != nil {
		if c.ZdrCorrectionDb != nil {
			zdr += *c.ZdrCorrectionDb
		}
		if c.SystemPhidpDeg != nil {
			phidp -= *c.SystemPhidpDeg
		}
	}

	f.Zdr = zdr
	f.Rhohv = min(cmplx.Abs(rvh)/math.Sqrt(powerH*powerV), 1)
	f.Phidp = wrapDeg(phidp)
}

// staggeredVelocity uses the phase difference of the two lag-1 estimates,
// which folds at the extended Nyquist velocity.
func (pp *PulsePair) staggeredVelocity(in beam.GateInput, g *beam.GateData) {
	if in.Gate >= in.Mode.Stagger.NGatesLong {
		return
	}

	x := g.IQ[0]
	shortParity := 0
	if !in.Mode.Stagger.StartsOnShort {
		shortParity = 1
	}

	var rs, rl complex128
	for i := 0; i+1 < len(x); i++ {
		r := x[i+1] * cmplx.Conj(x[i])
		if i%2 == shortParity {
			rs += r
		} else {
			rl += r
		}
	}
	if rs == 0 || rl == 0 {
		return
	}

	dphi := wrapRad(cmplx.Phase(rl) - cmplx.Phase(rs))
	f := &g.Fields
	f.Vel = in.Nyquist / math.Pi * dphi

	r0 := meanPower(g.Short[0])
	rsMag := cmplx.Abs(rs) / float64(len(x)/2)
	nyqShort := in.Nyquist / float64(max(in.StaggerM, 1))
	f.Width = spectrumWidth(r0, rsMag, nyqShort)
	f.Ncp = min(rsMag/r0, 1)
}

func (pp *PulsePair) noisePower(in beam.GateInput) float64 {
	if c := in.Calibration; c != nil && c.NoiseDbmHc != nil && c.ReceiverGainDbHc != nil {
		return math.Pow(10, (*c.NoiseDbmHc+*c.ReceiverGainDbHc)/10)
	}
	if pp.NoisePower > 0 {
		return pp.NoisePower
	}
	return defaultNoisePower
}

func (pp *PulsePair) minSnr() float64 {
	if pp.MinSnrDb == 0 {
		return defaultMinSnrDb
	}
	return pp.MinSnrDb
}

// ComputeAlternatingVelocity implements beam.MomentsEngine. Velocities
// estimated at half Nyquist are unfolded against the median of recently
// accepted neighbours.
func (pp *PulsePair) ComputeAlternatingVelocity(gates []*beam.GateData, nyquist float64) {
	if nyquist <= 0 {
		return
	}

	history := make([]float64, 0, unfoldHistory)
	sorted := make([]float64, 0, unfoldHistory)
	for _, g := range gates {
		vel := g.Fields.Vel
		if vel == beam.Missing {
			continue
		}

		if len(history) > 0 {
			sorted = append(sorted[:0], history...)
			slices.Sort(sorted)
			ref := sorted[len(sorted)/2]

			best := vel
			for _, cand := range []float64{vel - nyquist, vel + nyquist} {
				if math.Abs(cand) <= nyquist && math.Abs(cand-ref) < math.Abs(best-ref) {
					best = cand
				}
			}
			vel = best
		}

		g.Fields.Vel = vel
		if len(history) == unfoldHistory {
			history = history[1:]
		}
		history = append(history, vel)
	}
}

func splitAlternating(x []complex128) (h, v []complex128) {
	h = make([]complex128, 0, (len(x)+1)/2)
	v = make([]complex128, 0, len(x)/2)
	for i, s := range x {
		if i%2 == 0 {
			h = append(h, s)
		} else {
			v = append(v, s)
		}
	}
	return h, v
}

func meanPower(x []complex128) float64 {
	var sum float64
	for _, s := range x {
		sum += real(s)*real(s) + imag(s)*imag(s)
	}
	return sum / float64(len(x))
}

func lag1(x []complex128) complex128 {
	var r complex128
	for i := 0; i+1 < len(x); i++ {
		r += x[i+1] * cmplx.Conj(x[i])
	}
	return r / complex(float64(len(x)-1), 0)
}

// phaseAlignment is |sum x| / sum |x|, close to 1 for stationary clutter.
func phaseAlignment(x []complex128) float64 {
	var sum complex128
	var mag float64
	for _, s := range x {
		sum += s
		mag += cmplx.Abs(s)
	}
	if mag == 0 {
		return beam.Missing
	}
	return cmplx.Abs(sum) / mag
}

func spectrumWidth(r0, r1, nyquist float64) float64 {
	if r1 <= 0 || r0 <= 0 {
		return beam.Missing
	}
	ratio := r0 / r1
	if ratio <= 1 {
		return 0
	}
	return 2 * nyquist / (math.Pi * math.Sqrt2) * math.Sqrt(math.Log(ratio))
}

func wrapRad(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func wrapDeg(a float64) float64 {
	for a > 180 {
		a -= 360
	}
	for a < -180 {
		a += 360
	}
	return a
}
