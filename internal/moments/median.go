package moments

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radar-beams/internal/beam"
)

// Median is a running median filter that ignores missing gates and leaves
// them missing.
type Median struct{}

// Apply implements beam.MedianFilter.
func (Median) Apply(values []float64, window int) {
	if window < 3 || len(values) == 0 {
		return
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2

	src := slices.Clone(values)
	buf := make([]float64, 0, window)
	for i := range values {
		if src[i] == beam.Missing {
			continue
		}

		buf = buf[:0]
		for j := max(0, i-half); j <= min(len(src)-1, i+half); j++ {
			if src[j] != beam.Missing {
				buf = append(buf, src[j])
			}
		}
		slices.Sort(buf)
		values[i] = stat.Quantile(0.5, stat.Empirical, buf, nil)
	}
}
