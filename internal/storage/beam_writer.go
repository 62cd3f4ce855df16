package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roman-kulish/radar-beams/internal/beam"
)

const defaultBeamBatchSize = 100

// WithBatchSize sets how many catalog rows are written per transaction.
func WithBatchSize(size int) func(*BeamWriter) {
	return func(w *BeamWriter) {
		w.batchSize = size
	}
}

// WithLogger sets the logger for the writer.
func WithLogger(logger *slog.Logger) func(*BeamWriter) {
	return func(w *BeamWriter) {
		w.logger = logger
	}
}

// BeamWriter catalogs processed beams. It consumes beams from concurrent
// workers, releases them as soon as their record is taken and writes the
// records in batches.
type BeamWriter struct {
	store     *SqliteStore
	sessionID int64
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	pending []BeamRecord
	written int
}

// NewBeamWriter creates a writer adding beams to the given session.
func NewBeamWriter(store *SqliteStore, sessionID int64, options ...func(*BeamWriter)) *BeamWriter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	w := BeamWriter{
		store:     store,
		sessionID: sessionID,
		batchSize: defaultBeamBatchSize,
		logger:    logger,
	}

	for _, option := range options {
		option(&w)
	}

	if w.batchSize <= 0 {
		w.batchSize = defaultBeamBatchSize
	}
	return &w
}

// Consume records b and releases it.
func (w *BeamWriter) Consume(ctx context.Context, b *beam.Beam) error {
	rec := toBeamRecord(w.sessionID, b)
	b.Release()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, rec)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.writePending(ctx)
}

// Flush writes the records still pending.
func (w *BeamWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writePending(ctx)
}

// Written returns the number of records stored so far.
func (w *BeamWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *BeamWriter) writePending(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	if err := w.store.InsertBeams(ctx, w.pending); err != nil {
		return fmt.Errorf("writing %d beams: %w", len(w.pending), err)
	}

	w.written += len(w.pending)
	w.logger.Debug("beams written",
		slog.Int64("session", w.sessionID),
		slog.Int("count", len(w.pending)),
		slog.Int("total", w.written))

	w.pending = w.pending[:0]
	return nil
}
