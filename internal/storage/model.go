package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// Session is one recording or processing run.
type Session struct {
	ID        int64
	RunID     uuid.UUID
	StartTime time.Time
	Source    string
	OpsInfo   *pulse.OpsInfo
	Config    *string
}

// BeamRecord is the catalog entry written for every processed beam.
type BeamRecord struct {
	SessionID   int64
	SeqNum      int64
	Time        time.Time
	Elevation   float64
	Azimuth     float64
	Mode        string
	NSamples    int
	NGates      int
	NGatesOut   int
	Prt         float64
	PrtLong     float64
	Nyquist     float64
	SweepNum    int
	VolumeNum   int
	EndOfSweep  bool
	EndOfVolume bool

	// reflectivity and velocity summaries over gates with valid values
	MeanDbz sql.NullFloat64
	MaxDbz  sql.NullFloat64
	MeanVel sql.NullFloat64
}
