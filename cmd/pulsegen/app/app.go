package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radar-beams/internal/pulse"
	"github.com/roman-kulish/radar-beams/internal/storage"
)

// Run writes the simulated pulse stream to a new archive session.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	_, err := generate(ctx, config, logger)
	return err
}

func generate(ctx context.Context, config *Config, logger *slog.Logger) (sessionID int64, err error) {
	store := storage.NewSqliteStore(config.DBPath)
	defer func() {
		if cErr := store.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	pool := pulse.NewPool(config.BatchSize)
	sim, err := pulse.NewSimulator(config.Sim, pool)
	if err != nil {
		return 0, fmt.Errorf("creating simulator: %w", err)
	}

	session, err := store.CreateSession(ctx, "pulsegen:"+string(config.Sim.Mode), sim.OpsInfo(), config.Sim)
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}

	var count, size int
	batch := make([]*pulse.Pulse, 0, config.BatchSize)

	flush := func() error {
		if err := store.InsertPulses(ctx, session.ID, batch); err != nil {
			return err
		}
		for _, p := range batch {
			count++
			size += p.IQBytes()
			p.Recycle()
		}
		batch = batch[:0]

		if config.Verbose {
			logger.Info("pulses written", slog.Int("count", count), slog.String("iq", humanize.Bytes(uint64(size))))
		}
		return nil
	}

	for {
		p, err := sim.Next(ctx)
		if errors.Is(err, pulse.ErrEndOfStream) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("generating pulse: %w", err)
		}

		batch = append(batch, p)
		if len(batch) < config.BatchSize {
			continue
		}
		if err = flush(); err != nil {
			return 0, fmt.Errorf("storing pulses: %w", err)
		}
	}
	if err = flush(); err != nil {
		return 0, fmt.Errorf("storing pulses: %w", err)
	}

	logger.Info("archive written",
		slog.Int64("session", session.ID),
		slog.String("run", session.RunID.String()),
		slog.String("pulses", humanize.Comma(int64(count))),
		slog.String("iq", humanize.Bytes(uint64(size))))

	return session.ID, nil
}
