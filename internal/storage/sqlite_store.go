package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// ErrNoData indicates that the requested session does not exist.
var ErrNoData = errors.New("no data available")

// SqliteStore keeps pulse archives and beam catalogs in a SQLite database.
// Writes go through a single WAL-mode connection, reads through a separate
// read-only one. Both are opened on first use.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the database file at dbPath. The
// schema is created with the first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1) // SQLite allows one writer

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession registers a new run under a fresh run ID. config is stored
// as JSON unless it already is a string or byte slice.
func (s *SqliteStore) CreateSession(ctx context.Context, source string, info pulse.OpsInfo, config any) (session *Session, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData = sql.NullString{String: v, Valid: true}

		case []byte:
			configData = sql.NullString{String: string(v), Valid: true}

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				return nil, fmt.Errorf("marshaling config: %w", err)
			}
			configData = sql.NullString{String: string(p), Valid: true}
		}
	}

	infoData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshaling ops info: %w", err)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	runID := uuid.New()
	result, err := stmt.ExecContext(ctx, runID.String(), source, string(infoData), configData)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting session ID: %w", err)
	}

	session = &Session{
		ID:        id,
		RunID:     runID,
		StartTime: time.Now().UTC(),
		Source:    source,
		OpsInfo:   &info,
	}
	if configData.Valid {
		session.Config = &configData.String
	}
	return session, nil
}

// Session returns a session by its ID, or ErrNoData.
func (s *SqliteStore) Session(ctx context.Context, id int64) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return loadSession(ctx, db, id)
}

// Sessions returns all sessions in creation order.
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		sess, sErr := scanSession(rows)
		if sErr != nil {
			return nil, sErr
		}
		sessions = append(sessions, sess)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func loadSession(ctx context.Context, db *sql.DB, id int64) (session *Session, err error) {
	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	session, err = scanSession(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNoData)
	}
	return session, err
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var runID string
	var info, config sql.NullString

	if err := row.Scan(&sess.ID, &runID, &sess.StartTime, &sess.Source, &info, &config); err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parsing run ID '%s': %w", runID, err)
	}
	sess.RunID = id

	if info.Valid {
		var oi pulse.OpsInfo
		if err = json.Unmarshal([]byte(info.String), &oi); err != nil {
			return nil, fmt.Errorf("unmarshaling ops info: %w", err)
		}
		sess.OpsInfo = &oi
	}
	if config.Valid {
		sess.Config = &config.String
	}
	return &sess, nil
}

// InsertPulses archives pulses in a single transaction.
func (s *SqliteStore) InsertPulses(ctx context.Context, sessionID int64, pulses []*pulse.Pulse) (err error) {
	if len(pulses) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertPulseSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, p := range pulses {
		_, err = stmt.ExecContext(
			ctx,
			sessionID,
			p.SeqNum,
			p.Time.UnixNano(),
			p.Azimuth,
			p.Elevation,
			nullFloat(p.FixedAzimuth),
			nullFloat(p.FixedElevation),
			p.Prt,
			p.PulseWidthUs,
			p.NGates,
			int(p.Polarization),
			p.ScanMode,
			p.SweepNum,
			p.VolumeNum,
			p.DwellSeqNum,
			p.BeamNumInDwell,
			p.EndOfSweep,
			p.EndOfVolume,
			p.NChannels(),
			iqBlob(p, 0),
			iqBlob(p, 1),
		)
		if err != nil {
			return fmt.Errorf("inserting pulse %d: %w", p.SeqNum, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InsertBeams adds catalog entries in a single transaction.
func (s *SqliteStore) InsertBeams(ctx context.Context, records []BeamRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertBeamSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, r := range records {
		_, err = stmt.ExecContext(
			ctx,
			r.SessionID,
			r.SeqNum,
			r.Time.UnixNano(),
			r.Elevation,
			r.Azimuth,
			r.Mode,
			r.NSamples,
			r.NGates,
			r.NGatesOut,
			r.Prt,
			r.PrtLong,
			r.Nyquist,
			r.SweepNum,
			r.VolumeNum,
			r.EndOfSweep,
			r.EndOfVolume,
			r.MeanDbz,
			r.MaxDbz,
			r.MeanVel,
		)
		if err != nil {
			return fmt.Errorf("inserting beam %d: %w", r.SeqNum, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Beams returns the catalog of a session ordered by sequence number.
func (s *SqliteStore) Beams(ctx context.Context, sessionID int64) (records []BeamRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectBeamsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying beams: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var r BeamRecord
		var timeNs int64
		if err = rows.Scan(
			&r.SessionID,
			&r.SeqNum,
			&timeNs,
			&r.Elevation,
			&r.Azimuth,
			&r.Mode,
			&r.NSamples,
			&r.NGates,
			&r.NGatesOut,
			&r.Prt,
			&r.PrtLong,
			&r.Nyquist,
			&r.SweepNum,
			&r.VolumeNum,
			&r.EndOfSweep,
			&r.EndOfVolume,
			&r.MeanDbz,
			&r.MaxDbz,
			&r.MeanVel,
		); err != nil {
			return nil, fmt.Errorf("scanning beam: %w", err)
		}
		r.Time = time.Unix(0, timeNs).UTC()
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating beams: %w", err)
	}
	return records, nil
}

// CountPulses returns the number of archived pulses of a session.
func (s *SqliteStore) CountPulses(ctx context.Context, sessionID int64) (n int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, fmt.Errorf("getting read connection: %w", err)
	}
	if err = db.QueryRowContext(ctx, countPulsesSQL, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pulses: %w", err)
	}
	return n, nil
}

// ReadPulses opens a pulse source over an archived session. The reader
// must be closed after use.
func (s *SqliteStore) ReadPulses(ctx context.Context, sessionID int64, opts ...ReaderOption) (*PulseReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newPulseReader(ctx, db, sessionID, opts...)
}

// Close closes both connections.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
