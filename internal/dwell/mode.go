package dwell

import (
	"math"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// DefaultPrtTolerance is the PRT difference, in seconds, below which two
// pulses are considered to share a PRT.
const DefaultPrtTolerance = 1e-5

// DetectMode classifies the transmission scheme of a beam pulse set.
// Alternating polarization takes precedence over staggered PRT.
func DetectMode(set []*pulse.Pulse, prtTolerance float64) beam.Mode {
	if isAlternating(set) {
		return beam.Alternating()
	}
	if st, ok := detectStagger(set, prtTolerance); ok {
		return beam.Staggered(st)
	}
	return beam.Single()
}

// isAlternating reports whether the polarization toggles between every pair
// of consecutive pulses.
func isAlternating(set []*pulse.Pulse) bool {
	if len(set) < 2 {
		return false
	}
	for i := 1; i < len(set); i++ {
		if set[i].Polarization == set[i-1].Polarization {
			return false
		}
	}
	return true
}

// detectStagger checks that even pulses share pulse[0]'s PRT and gate count
// and odd pulses share pulse[1]'s. The short PRT is the one with more gates,
// since the unambiguous range shrinks with the PRT.
func detectStagger(set []*pulse.Pulse, tol float64) (beam.Stagger, bool) {
	if len(set) < 2 {
		return beam.Stagger{}, false
	}

	p0, p1 := set[0], set[1]
	if math.Abs(p0.Prt-p1.Prt) <= tol {
		return beam.Stagger{}, false
	}

	for i, p := range set {
		ref := p0
		if i%2 == 1 {
			ref = p1
		}
		if math.Abs(p.Prt-ref.Prt) > tol || p.NGates != ref.NGates {
			return beam.Stagger{}, false
		}
	}

	startsOnShort := p0.NGates > p1.NGates || (p0.NGates == p1.NGates && p0.Prt < p1.Prt)
	if startsOnShort {
		return beam.Stagger{
			PrtShort:      p0.Prt,
			PrtLong:       p1.Prt,
			NGatesShort:   p0.NGates,
			NGatesLong:    p1.NGates,
			StartsOnShort: true,
		}, true
	}
	return beam.Stagger{
		PrtShort:    p1.Prt,
		PrtLong:     p0.Prt,
		NGatesShort: p1.NGates,
		NGatesLong:  p0.NGates,
	}, true
}

// gateCounts returns the working and long-PRT gate counts. Outside staggered
// mode this is the smallest gate count in the set, so no pulse is read past
// its end.
func gateCounts(set []*pulse.Pulse, mode beam.Mode) (nGates, nGatesPrtLong int) {
	if mode.IsStaggered() {
		return mode.Stagger.NGatesShort, mode.Stagger.NGatesLong
	}

	nGates = set[0].NGates
	for _, p := range set[1:] {
		nGates = min(nGates, p.NGates)
	}
	return nGates, nGates
}
