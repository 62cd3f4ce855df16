package beam

// Missing marks a moment that could not be computed for a gate.
const Missing = -9999.0

// Fields holds the moments of one gate.
type Fields struct {
	Dbz   float64
	Vel   float64
	Width float64
	Snr   float64
	Dbm   float64
	Ncp   float64
	Zdr   float64
	Rhohv float64
	Phidp float64
	Cpa   float64

	Kdp       float64
	PhidpFilt float64
	PhidpSdev float64
	ZdrSdev   float64

	DbzAttenCorrection float64
	ZdrAttenCorrection float64
	DbzAttenCorrected  float64
	ZdrAttenCorrected  float64
}

// Init sets every field to Missing.
func (f *Fields) Init() {
	*f = Fields{
		Dbz:                Missing,
		Vel:                Missing,
		Width:              Missing,
		Snr:                Missing,
		Dbm:                Missing,
		Ncp:                Missing,
		Zdr:                Missing,
		Rhohv:              Missing,
		Phidp:              Missing,
		Cpa:                Missing,
		Kdp:                Missing,
		PhidpFilt:          Missing,
		PhidpSdev:          Missing,
		ZdrSdev:            Missing,
		DbzAttenCorrection: Missing,
		ZdrAttenCorrection: Missing,
		DbzAttenCorrected:  Missing,
		ZdrAttenCorrected:  Missing,
	}
}

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v float64) bool {
	return v == Missing
}
