package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/dispatch"
	"github.com/roman-kulish/radar-beams/internal/dwell"
	"github.com/roman-kulish/radar-beams/internal/metrics"
	"github.com/roman-kulish/radar-beams/internal/moments"
	"github.com/roman-kulish/radar-beams/internal/pulse"
	"github.com/roman-kulish/radar-beams/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Run processes the configured pulse source into a beam catalog until the
// source is exhausted or ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	out := storage.NewSqliteStore(config.Output.DBPath)
	defer out.Close()

	pool := pulse.NewPool(config.Settings.PoolSize)

	src, err := openSource(ctx, &config.Source, pool)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	session, err := out.CreateSession(ctx, src.name, src.OpsInfo(), config)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info("session created",
		slog.Int64("session", session.ID),
		slog.String("run", session.RunID.String()),
		slog.String("source", src.name))

	var collector *metrics.Collector
	if config.Metrics.Enabled {
		if collector, err = metrics.NewCollector(nil); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	engines := beam.Engines{
		Moments: moments.NewPulsePair(),
		Kdp:     moments.NewKdp(),
		Median:  moments.Median{},
	}
	params := config.BeamParams()
	beams := beam.NewPool(config.Settings.PoolSize, func() *beam.Beam {
		return beam.New(engines, beam.WithLogger(logger), beam.WithParams(params))
	})
	if err = collector.WatchPools(pool, beams); err != nil {
		return fmt.Errorf("failed to watch pools: %w", err)
	}

	var input pulse.Source = src
	var stream *pulse.StreamSource
	var pulses chan *pulse.Pulse
	if config.Source.Paced {
		pulses = make(chan *pulse.Pulse)
		stream = pulse.NewStreamSource(pulses,
			pulse.WithReadTimeout(config.Source.ReadTimeout.Duration()),
			pulse.WithOpsInfo(src.OpsInfo()))
		input = stream
	}

	assembler, err := dwell.New(input, beams,
		dwell.WithLogger(logger),
		dwell.WithConfig(config.DwellConfig()),
		dwell.WithPulsePool(pool),
		dwell.WithRecorder(collector))
	if err != nil {
		return fmt.Errorf("failed to create assembler: %w", err)
	}
	defer assembler.Close()

	writer := storage.NewBeamWriter(out, session.ID,
		storage.WithBatchSize(config.Output.MaxBatchSize),
		storage.WithLogger(logger))

	var sink dispatch.Sink = writer
	var reseq *dispatch.Resequencer
	if config.Output.Resequence {
		if reseq, err = dispatch.NewResequencer(writer, config.Output.Capacity, config.Output.FlushCount); err != nil {
			return fmt.Errorf("failed to create resequencer: %w", err)
		}
		sink = reseq
	}

	dispatcher := dispatch.New(assembler, sink,
		dispatch.WithLogger(logger),
		dispatch.WithWorkers(config.Settings.Workers),
		dispatch.WithQueueSize(config.Settings.QueueSize),
		dispatch.WithRetryDelay(config.Settings.RetryDelay.Duration()),
		dispatch.WithObserver(collector))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	start := time.Now()
	g.Go(func() error {
		defer stop()
		return dispatcher.Run(runCtx)
	})
	if stream != nil {
		g.Go(func() error {
			return pace(runCtx, src, stream, pulses)
		})
	}
	if collector != nil {
		g.Go(func() error {
			return serveMetrics(runCtx, config.Metrics.Listen, collector.Handler(), logger)
		})
	}

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		logger.Info("interrupted, flushing processed beams", slog.String("cause", err.Error()))
		if err = sink.(dispatch.Flusher).Flush(context.Background()); err != nil {
			err = fmt.Errorf("flushing beams: %w", err)
		}
	}

	stats := dispatcher.Stats()
	poolStats := pool.Stats()
	attrs := []any{
		slog.String("beams", humanize.Comma(int64(stats.Beams))),
		slog.String("written", humanize.Comma(int64(writer.Written()))),
		slog.Uint64("retries", stats.Retries),
		slog.String("pulseReuse", fmt.Sprintf("%s/%s",
			humanize.Comma(int64(poolStats.Hits)), humanize.Comma(int64(poolStats.Hits+poolStats.Misses)))),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	}
	if reseq != nil {
		attrs = append(attrs, slog.Int64("skipped", reseq.Skipped()))
	}
	logger.Info("processing finished", attrs...)

	return err
}

// source is a pulse source with the resources it holds.
type source struct {
	pulse.Source
	name  string
	close func() error
}

func (s *source) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func openSource(ctx context.Context, config *SourceConfig, pool *pulse.Pool) (*source, error) {
	switch config.Type {
	case SourceArchive:
		store := storage.NewSqliteStore(config.Archive.DBPath)
		reader, err := store.ReadPulses(ctx, config.Archive.SessionID, storage.WithPulsePool(pool))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("opening archive session %d: %w", config.Archive.SessionID, err)
		}
		return &source{
			Source: reader,
			name:   fmt.Sprintf("archive:%d", config.Archive.SessionID),
			close: func() error {
				return errors.Join(reader.Close(), store.Close())
			},
		}, nil

	case SourceSimulator:
		sim, err := pulse.NewSimulator(*config.Simulator, pool)
		if err != nil {
			return nil, err
		}
		return &source{Source: sim, name: "simulator:" + string(config.Simulator.Mode)}, nil

	default:
		return nil, fmt.Errorf("unknown source type '%s'", config.Type)
	}
}

// pace replays src into pulses at the pulse repetition rate, publishing the
// operating information of every pulse to stream. Cancellation ends the
// stream without error; the dispatcher reports it.
func pace(ctx context.Context, src pulse.Source, stream *pulse.StreamSource, pulses chan<- *pulse.Pulse) error {
	defer close(pulses)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		p, err := src.Next(ctx)
		if errors.Is(err, pulse.ErrEndOfStream) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading pulse: %w", err)
		}

		timer.Reset(time.Duration(p.Prt * float64(time.Second)))
		select {
		case <-ctx.Done():
			p.Recycle()
			return nil
		case <-timer.C:
		}

		stream.SetOpsInfo(src.OpsInfo())
		select {
		case <-ctx.Done():
			p.Recycle()
			return nil
		case pulses <- p:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving metrics: %w", err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	}
}
