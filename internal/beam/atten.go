package beam

import (
	"fmt"
	"math"
)

// AttenMethod selects how atmospheric attenuation is corrected.
type AttenMethod string

const (
	AttenNone       AttenMethod = "none"
	AttenConstant   AttenMethod = "constant"
	AttenWavelength AttenMethod = "crpl"
)

// effective height of the attenuating layer for slant paths
const attenScaleHeightKm = 8.0

// AtmosAtten computes two-way gaseous attenuation along a beam. It is an
// immutable value so every beam carries its own copy.
type AtmosAtten struct {
	Method       AttenMethod
	DbPerKm      float64 // one-way, AttenConstant only
	WavelengthCm float64 // AttenWavelength only
}

// NewAtmosAtten builds the attenuation model for the current beam.
func NewAtmosAtten(method AttenMethod, dbPerKm, wavelengthCm float64) (AtmosAtten, error) {
	switch method {
	case "", AttenNone:
		return AtmosAtten{Method: AttenNone}, nil
	case AttenConstant:
		if dbPerKm < 0 {
			return AtmosAtten{}, fmt.Errorf("negative attenuation %g dB/km", dbPerKm)
		}
		return AtmosAtten{Method: AttenConstant, DbPerKm: dbPerKm}, nil
	case AttenWavelength:
		if wavelengthCm <= 0 {
			return AtmosAtten{}, fmt.Errorf("invalid wavelength %g cm", wavelengthCm)
		}
		return AtmosAtten{Method: AttenWavelength, WavelengthCm: wavelengthCm}, nil
	default:
		return AtmosAtten{}, fmt.Errorf("unknown attenuation method '%s'", method)
	}
}

// Correction returns the two-way attenuation in dB at the given range.
func (a AtmosAtten) Correction(elevationDeg, rangeKm float64) float64 {
	switch a.Method {
	case AttenConstant:
		return 2 * a.DbPerKm * rangeKm
	case AttenWavelength:
		return 2 * specificAtten(a.WavelengthCm) * slantPathKm(elevationDeg, rangeKm)
	default:
		return 0
	}
}

// specificAtten returns the sea-level one-way gaseous attenuation in dB/km
// for common weather radar bands.
func specificAtten(wavelengthCm float64) float64 {
	switch {
	case wavelengthCm >= 7.5: // S
		return 0.0055
	case wavelengthCm >= 4.0: // C
		return 0.0075
	case wavelengthCm >= 2.5: // X
		return 0.011
	default: // Ku and shorter
		return 0.02
	}
}

// slantPathKm is the sea-level equivalent path length of an elevated beam
// through an exponential atmosphere.
func slantPathKm(elevationDeg, rangeKm float64) float64 {
	sinEl := math.Sin(elevationDeg * math.Pi / 180)
	if sinEl < 0.01 {
		return rangeKm
	}
	h := rangeKm * sinEl
	return attenScaleHeightKm / sinEl * (1 - math.Exp(-h/attenScaleHeightKm))
}
