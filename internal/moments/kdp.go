package moments

import (
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radar-beams/internal/beam"
)

const (
	defaultKdpWindow   = 11
	defaultKdpMinSnr   = 3.0
	defaultKdpMinRhohv = 0.8

	// dB per degree of differential phase, C-band values
	defaultDbzAttenCoeff = 0.08
	defaultZdrAttenCoeff = 0.012
)

// Kdp estimates specific differential phase as half the range derivative of
// PHIDP, from a least-squares fit over a sliding window of gates.
type Kdp struct {
	WindowGates   int
	MinSnrDb      float64
	MinRhohv      float64
	DbzAttenCoeff float64
	ZdrAttenCoeff float64
}

// NewKdp returns an estimator with default settings.
func NewKdp() *Kdp {
	return &Kdp{
		WindowGates:   defaultKdpWindow,
		MinSnrDb:      defaultKdpMinSnr,
		MinRhohv:      defaultKdpMinRhohv,
		DbzAttenCoeff: defaultDbzAttenCoeff,
		ZdrAttenCoeff: defaultZdrAttenCoeff,
	}
}

// Compute implements beam.KdpEngine.
func (k *Kdp) Compute(in *beam.KdpInput, out *beam.KdpOutput) {
	n := in.NGates
	if n == 0 || in.GateSpacingKm <= 0 {
		return
	}

	window := k.WindowGates
	if window < 3 {
		window = defaultKdpWindow
	}
	half := window / 2
	minValid := half + 1

	phidp := k.conditionPhidp(in)

	xs := make([]float64, 0, window)
	ys := make([]float64, 0, window)
	zs := make([]float64, 0, window)

	for i := range n {
		xs, ys, zs = xs[:0], ys[:0], zs[:0]
		for j := max(0, i-half); j <= min(n-1, i+half); j++ {
			if phidp[j] != beam.Missing {
				xs = append(xs, in.StartRangeKm+float64(j)*in.GateSpacingKm)
				ys = append(ys, phidp[j])
			}
			if in.Zdr[j] != beam.Missing {
				zs = append(zs, in.Zdr[j])
			}
		}

		if len(zs) >= 2 {
			out.ZdrSdev[i] = stat.StdDev(zs, nil)
		}
		if len(xs) < minValid {
			continue
		}

		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		rangeKm := in.StartRangeKm + float64(i)*in.GateSpacingKm
		out.Kdp[i] = beta / 2
		out.PhidpFilt[i] = alpha + beta*rangeKm
		out.PhidpSdev[i] = stat.StdDev(ys, nil)
	}

	k.attenuation(out, n)
}

// conditionPhidp keeps PHIDP only where SNR and RHOHV indicate weather
// echo, and unfolds it along the beam.
func (k *Kdp) conditionPhidp(in *beam.KdpInput) []float64 {
	phidp := make([]float64, in.NGates)

	minSnr := k.MinSnrDb
	minRhohv := k.MinRhohv
	prev := beam.Missing
	for i := range in.NGates {
		phidp[i] = beam.Missing
		if in.Phidp[i] == beam.Missing || in.Snr[i] == beam.Missing || in.Rhohv[i] == beam.Missing {
			continue
		}
		if in.Snr[i] < minSnr || in.Rhohv[i] < minRhohv {
			continue
		}

		v := in.Phidp[i]
		if prev != beam.Missing {
			for v-prev > 180 {
				v -= 360
			}
			for prev-v > 180 {
				v += 360
			}
		}
		phidp[i] = v
		prev = v
	}
	return phidp
}

// attenuation derives reflectivity and ZDR corrections proportional to the
// accumulated differential phase.
func (k *Kdp) attenuation(out *beam.KdpOutput, n int) {
	phidp0 := beam.Missing
	for i := range n {
		if out.PhidpFilt[i] != beam.Missing {
			phidp0 = out.PhidpFilt[i]
			break
		}
	}
	if phidp0 == beam.Missing {
		return
	}

	maxDelta := 0.0
	for i := range n {
		if out.PhidpFilt[i] == beam.Missing {
			continue
		}
		maxDelta = max(maxDelta, out.PhidpFilt[i]-phidp0)
		out.DbzAttenCorr[i] = k.DbzAttenCoeff * maxDelta
		out.ZdrAttenCorr[i] = k.ZdrAttenCoeff * maxDelta
	}
}
