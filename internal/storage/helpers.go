package storage

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// encodeIQ packs interleaved I,Q values as little-endian float32.
func encodeIQ(iq []float32) []byte {
	buf := make([]byte, 0, 4*len(iq))
	for _, v := range iq {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// iqBlob returns the encoded channel, or nil for a channel the pulse does
// not carry.
func iqBlob(p *pulse.Pulse, channel int) []byte {
	if channel >= p.NChannels() {
		return nil
	}
	return encodeIQ(p.IQ(channel))
}

// decodeIQ unpacks a blob written by encodeIQ into dst, reusing its capacity.
func decodeIQ(dst []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid IQ blob length %d", len(blob))
	}
	n := len(blob) / 4
	dst = slices.Grow(dst[:0], n)[:n]
	for i := range n {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return dst, nil
}

// nullFloat maps NaN, which SQLite cannot store, to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func fromNullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func toBeamRecord(sessionID int64, b *beam.Beam) BeamRecord {
	rec := BeamRecord{
		SessionID:   sessionID,
		SeqNum:      b.SeqNum(),
		Time:        b.Time(),
		Elevation:   b.Elevation(),
		Azimuth:     b.Azimuth(),
		Mode:        b.Mode().Kind.String(),
		NSamples:    b.NSamples(),
		NGates:      b.NGates(),
		NGatesOut:   b.NGatesOut(),
		Prt:         b.Prt(),
		PrtLong:     b.PrtLong(),
		Nyquist:     b.Nyquist(),
		SweepNum:    b.SweepNum(),
		VolumeNum:   b.VolumeNum(),
		EndOfSweep:  b.EndOfSweep(),
		EndOfVolume: b.EndOfVolume(),
	}

	var dbz, vel []float64
	for _, f := range b.Fields() {
		if !beam.IsMissing(f.Dbz) {
			dbz = append(dbz, f.Dbz)
		}
		if !beam.IsMissing(f.Vel) {
			vel = append(vel, f.Vel)
		}
	}
	if len(dbz) > 0 {
		rec.MeanDbz = sql.NullFloat64{Float64: stat.Mean(dbz, nil), Valid: true}
		rec.MaxDbz = sql.NullFloat64{Float64: floats.Max(dbz), Valid: true}
	}
	if len(vel) > 0 {
		rec.MeanVel = sql.NullFloat64{Float64: stat.Mean(vel, nil), Valid: true}
	}
	return rec
}
