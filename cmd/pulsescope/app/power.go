package app

import (
	"math"
)

const (
	defaultMinPower = -10.0 // dB
	defaultMaxPower = 60.0  // dB

	// minimum dynamic range shown, dB
	minPowerSpan = 30

	// below this many samples the percentiles are meaningless
	minimumSampleCount = 20
)

// PowerBounds is the power range mapped onto the color scale.
type PowerBounds struct {
	Min  float64 // dB
	Max  float64 // dB
	Mean float64 // dB
}

func defaultPowerBounds() PowerBounds {
	return PowerBounds{
		Min:  defaultMinPower,
		Max:  defaultMaxPower,
		Mean: (defaultMinPower + defaultMaxPower) / 2,
	}
}

// PowerHistogram counts power readings in 1 dB bins.
type PowerHistogram struct {
	bins   map[int]uint64
	total  uint64
	sum    float64
	minBin int
	maxBin int
}

func NewPowerHistogram() *PowerHistogram {
	h := &PowerHistogram{}
	h.Clear()
	return h
}

// Add records one reading. NaN and infinite values are ignored.
func (h *PowerHistogram) Add(db float64) {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return
	}

	bin := int(math.Floor(db))
	h.bins[bin]++
	h.total++
	h.sum += db

	h.minBin = min(h.minBin, bin)
	h.maxBin = max(h.maxBin, bin)
}

func (h *PowerHistogram) Count() uint64 {
	return h.total
}

func (h *PowerHistogram) Clear() {
	h.bins = make(map[int]uint64)
	h.total = 0
	h.sum = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

// Bounds returns the 5th to 95th percentile range widened by a 10% margin,
// never narrower than minPowerSpan.
func (h *PowerHistogram) Bounds() PowerBounds {
	if h.total < minimumSampleCount {
		return defaultPowerBounds()
	}

	target := h.total * 5 / 100
	lo, hi := h.minBin, h.maxBin

	var count uint64
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += h.bins[bin]
		if count > target {
			lo = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += h.bins[bin]
		if count > target {
			hi = bin + 1
			break
		}
	}

	if hi-lo < minPowerSpan {
		center := (hi + lo) / 2
		lo = center - minPowerSpan/2
		hi = center + minPowerSpan/2
	}

	margin := (hi - lo) / 10
	return PowerBounds{
		Min:  float64(lo - margin),
		Max:  float64(hi + margin),
		Mean: h.sum / float64(h.total),
	}
}
