package app

import (
	"math"
	"time"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// ScopeData is a range-time matrix of channel 0 power: one row per pulse,
// one column per gate.
type ScopeData struct {
	Width, Height int
	Geometry      pulse.GateGeometry
	TimeStart     time.Time
	TimeEnd       time.Time
	Histogram     *PowerHistogram
	Rows          [][]float64 // dB, NaN where the gate had no signal
}

func NewScopeData(geometry pulse.GateGeometry) *ScopeData {
	return &ScopeData{
		Geometry:  geometry,
		Histogram: NewPowerHistogram(),
	}
}

// Add appends the power profile of p. The pulse is not retained.
func (s *ScopeData) Add(p *pulse.Pulse) {
	row := make([]float64, p.NGates)
	for gate := range row {
		pwr := p.Power(gate)
		if pwr <= 0 {
			row[gate] = math.NaN()
			continue
		}
		row[gate] = 10 * math.Log10(pwr)
		s.Histogram.Add(row[gate])
	}

	s.Rows = append(s.Rows, row)
	s.Width = max(s.Width, len(row))
	s.Height++

	if s.TimeStart.IsZero() || p.Time.Before(s.TimeStart) {
		s.TimeStart = p.Time
	}
	if s.TimeEnd.IsZero() || p.Time.After(s.TimeEnd) {
		s.TimeEnd = p.Time
	}
}

// MaxRangeKm returns the range of the last gate.
func (s *ScopeData) MaxRangeKm() float64 {
	return s.Geometry.RangeKm(max(0, s.Width-1))
}
