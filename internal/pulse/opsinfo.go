package pulse

import "math"

// Location is the radar site position.
type Location struct {
	LatitudeDeg  float64 `yaml:"latitudeDeg" json:"latitudeDeg"`
	LongitudeDeg float64 `yaml:"longitudeDeg" json:"longitudeDeg"`
	AltitudeKm   float64 `yaml:"altitudeKm" json:"altitudeKm"`
}

// GateGeometry describes the range of the first gate and the gate spacing.
type GateGeometry struct {
	StartRangeKm  float64 `yaml:"startRangeKm" json:"startRangeKm"`
	GateSpacingKm float64 `yaml:"gateSpacingKm" json:"gateSpacingKm"`
}

// RangeKm returns the range to the centre of a gate.
func (g GateGeometry) RangeKm(gate int) float64 {
	return g.StartRangeKm + float64(gate)*g.GateSpacingKm
}

// OpsInfo is the operating information published by a pulse source
// alongside its pulses: radar identity, site, gate geometry, wavelength
// and calibration.
type OpsInfo struct {
	RadarName    string       `json:"radarName"`
	Location     Location     `json:"location"`
	Geometry     GateGeometry `json:"geometry"`
	WavelengthCm float64      `json:"wavelengthCm"`
	Calibration  Calibration  `json:"calibration"`

	// RadarInfoActive and ProcessingActive are false until the stream has
	// delivered the corresponding metadata packets.
	RadarInfoActive  bool `json:"radarInfoActive"`
	ProcessingActive bool `json:"processingActive"`

	// StatusXML is the latest radar status document, attached to beams as is.
	StatusXML string `json:"-"`
}

// Active reports whether pulses accompanying this info can be processed.
func (o OpsInfo) Active() bool {
	return o.RadarInfoActive && o.ProcessingActive
}

// WavelengthM returns the wavelength in metres.
func (o OpsInfo) WavelengthM() float64 {
	return o.WavelengthCm / 100.0
}

// SameGeometry reports whether two infos describe the same gate layout.
func (o OpsInfo) SameGeometry(other OpsInfo) bool {
	const eps = 1e-6
	return math.Abs(o.Geometry.StartRangeKm-other.Geometry.StartRangeKm) < eps &&
		math.Abs(o.Geometry.GateSpacingKm-other.Geometry.GateSpacingKm) < eps
}

// Overrides replaces parts of the operating information with configured
// values. Nil fields leave the source value untouched.
type Overrides struct {
	RadarName    *string       `yaml:"radarName"`
	Location     *Location     `yaml:"location"`
	GateGeometry *GateGeometry `yaml:"gateGeometry"`
	WavelengthCm *float64      `yaml:"wavelengthCm"`
}

// Apply writes the configured overrides into info.
func (ov Overrides) Apply(info *OpsInfo) {
	if ov.RadarName != nil {
		info.RadarName = *ov.RadarName
	}
	if ov.Location != nil {
		info.Location = *ov.Location
	}
	if ov.GateGeometry != nil {
		info.Geometry = *ov.GateGeometry
	}
	if ov.WavelengthCm != nil {
		info.WavelengthCm = *ov.WavelengthCm
		info.Calibration.WavelengthCm = clonePtr(ov.WavelengthCm)
	}
}

// Calibration holds receiver calibration values. Nil means the value was
// not reported.
type Calibration struct {
	WavelengthCm *float64 `json:"wavelengthCm,omitempty"`

	NoiseDbmHc *float64 `json:"noiseDbmHc,omitempty"`
	NoiseDbmVc *float64 `json:"noiseDbmVc,omitempty"`
	NoiseDbmHx *float64 `json:"noiseDbmHx,omitempty"`
	NoiseDbmVx *float64 `json:"noiseDbmVx,omitempty"`

	ReceiverGainDbHc *float64 `json:"receiverGainDbHc,omitempty"`
	ReceiverGainDbVc *float64 `json:"receiverGainDbVc,omitempty"`
	ReceiverGainDbHx *float64 `json:"receiverGainDbHx,omitempty"`
	ReceiverGainDbVx *float64 `json:"receiverGainDbVx,omitempty"`

	RadarConstantH *float64 `json:"radarConstantH,omitempty"`
	RadarConstantV *float64 `json:"radarConstantV,omitempty"`

	BaseDbz1kmHc *float64 `json:"baseDbz1kmHc,omitempty"`
	BaseDbz1kmVc *float64 `json:"baseDbz1kmVc,omitempty"`
	BaseDbz1kmHx *float64 `json:"baseDbz1kmHx,omitempty"`
	BaseDbz1kmVx *float64 `json:"baseDbz1kmVx,omitempty"`

	ZdrCorrectionDb *float64 `json:"zdrCorrectionDb,omitempty"`
	SystemPhidpDeg  *float64 `json:"systemPhidpDeg,omitempty"`
}

// Clone returns a deep copy so that a snapshot is not affected by later
// changes to the source's calibration.
func (c Calibration) Clone() Calibration {
	return Calibration{
		WavelengthCm:     clonePtr(c.WavelengthCm),
		NoiseDbmHc:       clonePtr(c.NoiseDbmHc),
		NoiseDbmVc:       clonePtr(c.NoiseDbmVc),
		NoiseDbmHx:       clonePtr(c.NoiseDbmHx),
		NoiseDbmVx:       clonePtr(c.NoiseDbmVx),
		ReceiverGainDbHc: clonePtr(c.ReceiverGainDbHc),
		ReceiverGainDbVc: clonePtr(c.ReceiverGainDbVc),
		ReceiverGainDbHx: clonePtr(c.ReceiverGainDbHx),
		ReceiverGainDbVx: clonePtr(c.ReceiverGainDbVx),
		RadarConstantH:   clonePtr(c.RadarConstantH),
		RadarConstantV:   clonePtr(c.RadarConstantV),
		BaseDbz1kmHc:     clonePtr(c.BaseDbz1kmHc),
		BaseDbz1kmVc:     clonePtr(c.BaseDbz1kmVc),
		BaseDbz1kmHx:     clonePtr(c.BaseDbz1kmHx),
		BaseDbz1kmVx:     clonePtr(c.BaseDbz1kmVx),
		ZdrCorrectionDb:  clonePtr(c.ZdrCorrectionDb),
		SystemPhidpDeg:   clonePtr(c.SystemPhidpDeg),
	}
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
