package beam

import "github.com/roman-kulish/radar-beams/internal/pulse"

// GateData is the working record of one gate: the IQ time series taken from
// every pulse of the beam and the moments computed from them.
//
// IQ holds one sample per pulse in arrival order. For staggered beams Short
// and Long hold the samples of the short- and long-PRT pulses; Long is empty
// beyond the long-PRT gate count.
type GateData struct {
	IQ    [pulse.MaxChannels][]complex128
	Short [pulse.MaxChannels][]complex128
	Long  [pulse.MaxChannels][]complex128

	Fields Fields
}

// reset empties the series, keeping their capacity, and clears the fields.
func (g *GateData) reset() {
	for ch := range pulse.MaxChannels {
		g.IQ[ch] = g.IQ[ch][:0]
		g.Short[ch] = g.Short[ch][:0]
		g.Long[ch] = g.Long[ch][:0]
	}
	g.Fields.Init()
}

func growComplex(s []complex128, n int) []complex128 {
	if cap(s) < n {
		return make([]complex128, n)
	}
	s = s[:n]
	clear(s)
	return s
}
