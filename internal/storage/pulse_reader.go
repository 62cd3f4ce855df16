package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// ReaderOption configures a PulseReader.
type ReaderOption func(*PulseReader)

// WithStartTime excludes pulses before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *PulseReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes pulses after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *PulseReader) {
		r.endTime = &t
	}
}

// WithTimeRange is equivalent to applying both WithStartTime and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *PulseReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// WithPulsePool makes the reader allocate pulses from pool.
func WithPulsePool(pool *pulse.Pool) ReaderOption {
	return func(r *PulseReader) {
		r.pool = pool
	}
}

// PulseReader replays an archived session as a pulse.Source, in sequence
// order. It is meant to be used from a single goroutine.
type PulseReader struct {
	db        *sql.DB
	sessionID int64
	session   *Session
	pool      *pulse.Pool

	startTime *time.Time
	endTime   *time.Time

	query string
	args  []any

	rows *sql.Rows
	iq   [pulse.MaxChannels][]float32
}

func newPulseReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*PulseReader, error) {
	r := &PulseReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *PulseReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: r.loadSession},
		{msg: "initializing filters", fn: r.initFilters},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *PulseReader) loadSession(ctx context.Context) (err error) {
	r.session, err = loadSession(ctx, r.db, r.sessionID)
	return err
}

func (r *PulseReader) initFilters(context.Context) error {
	if r.startTime != nil && r.endTime != nil && r.startTime.After(*r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}

	var sb strings.Builder
	sb.WriteString(selectPulsesSQL)
	r.args = append(r.args[:0], r.sessionID)

	if r.startTime != nil {
		sb.WriteString(" AND time_ns >= ?")
		r.args = append(r.args, r.startTime.UnixNano())
	}
	if r.endTime != nil {
		sb.WriteString(" AND time_ns <= ?")
		r.args = append(r.args, r.endTime.UnixNano())
	}
	sb.WriteString(" ORDER BY seq_num")

	r.query = sb.String()
	return nil
}

// Session returns the session being replayed.
func (r *PulseReader) Session() *Session {
	return r.session
}

// OpsInfo returns the operating information recorded with the session.
func (r *PulseReader) OpsInfo() pulse.OpsInfo {
	if r.session == nil || r.session.OpsInfo == nil {
		return pulse.OpsInfo{}
	}
	return *r.session.OpsInfo
}

// Next returns the next archived pulse, or pulse.ErrEndOfStream.
func (r *PulseReader) Next(ctx context.Context) (*pulse.Pulse, error) {
	if r.rows == nil {
		rows, err := r.db.QueryContext(ctx, r.query, r.args...)
		if err != nil {
			return nil, fmt.Errorf("querying pulses: %w", err)
		}
		r.rows = rows
	}

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating pulses: %w", err)
		}
		return nil, pulse.ErrEndOfStream
	}

	var h pulse.Header
	var timeNs int64
	var pol, nChannels int
	var fixedAz, fixedEl sql.NullFloat64
	var iq0, iq1 []byte

	if err := r.rows.Scan(
		&h.SeqNum,
		&timeNs,
		&h.Azimuth,
		&h.Elevation,
		&fixedAz,
		&fixedEl,
		&h.Prt,
		&h.PulseWidthUs,
		&h.NGates,
		&pol,
		&h.ScanMode,
		&h.SweepNum,
		&h.VolumeNum,
		&h.DwellSeqNum,
		&h.BeamNumInDwell,
		&h.EndOfSweep,
		&h.EndOfVolume,
		&nChannels,
		&iq0,
		&iq1,
	); err != nil {
		return nil, fmt.Errorf("scanning pulse: %w", err)
	}

	h.Time = time.Unix(0, timeNs).UTC()
	h.Polarization = pulse.Polarization(pol)
	h.FixedAzimuth = fromNullFloat(fixedAz)
	h.FixedElevation = fromNullFloat(fixedEl)

	var err error
	if r.iq[0], err = decodeIQ(r.iq[0], iq0); err != nil {
		return nil, fmt.Errorf("pulse %d channel 0: %w", h.SeqNum, err)
	}
	channels := [][]float32{r.iq[0]}
	if nChannels > 1 {
		if r.iq[1], err = decodeIQ(r.iq[1], iq1); err != nil {
			return nil, fmt.Errorf("pulse %d channel 1: %w", h.SeqNum, err)
		}
		channels = append(channels, r.iq[1])
	}

	p := r.pool.Get()
	if err = p.Load(h, channels...); err != nil {
		p.Recycle()
		return nil, fmt.Errorf("loading pulse %d: %w", h.SeqNum, err)
	}
	return p, nil
}

// Reset rewinds the reader to the first pulse in range.
func (r *PulseReader) Reset() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}

// Close releases the query. The reader must not be used afterwards.
func (r *PulseReader) Close() error {
	return r.Reset()
}
