package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/dwell"
)

const (
	defaultQueueSize  = 64
	defaultRetryDelay = 50 * time.Millisecond
)

// BeamSource hands out initialized beams. It is implemented by
// dwell.Assembler and is only called from the producer goroutine.
type BeamSource interface {
	NextBeam(ctx context.Context) (*beam.Beam, error)
}

// BeamSourceFunc adapts a function to the BeamSource interface.
type BeamSourceFunc func(ctx context.Context) (*beam.Beam, error)

func (f BeamSourceFunc) NextBeam(ctx context.Context) (*beam.Beam, error) {
	return f(ctx)
}

// Sink consumes processed beams. Consume is called concurrently by the
// workers and must call Beam.Release once it is done with the beam, also
// when it fails.
type Sink interface {
	Consume(ctx context.Context, b *beam.Beam) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, b *beam.Beam) error

func (f SinkFunc) Consume(ctx context.Context, b *beam.Beam) error {
	return f(ctx, b)
}

// Flusher is implemented by sinks that buffer beams. Flush is called once
// after the last beam was consumed.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Discarder is implemented by sinks that hold on to beams. Discard releases
// them without passing them on and returns how many there were.
type Discarder interface {
	Discard() int
}

// Observer is notified about processing. Implementations must be safe for
// concurrent use.
type Observer interface {
	BeamProcessed(mode string, elapsed time.Duration)
	SinkFailed()
}

type nopObserver struct{}

func (nopObserver) BeamProcessed(string, time.Duration) {}
func (nopObserver) SinkFailed()                         {}

// Stats are the dispatcher counters.
type Stats struct {
	Beams   uint64
	Retries uint64
}

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *slog.Logger) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithWorkers sets the number of goroutines running ComputeMoments.
func WithWorkers(n int) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.workers = n
	}
}

// WithQueueSize sets the number of beams buffered between the producer and
// the workers.
func WithQueueSize(n int) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.queueSize = n
	}
}

// WithRetryDelay sets how long the producer waits after a source timeout.
func WithRetryDelay(delay time.Duration) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.retryDelay = delay
	}
}

// WithObserver sets the processing observer.
func WithObserver(o Observer) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// Dispatcher runs the assembler on a single producer goroutine and fans the
// beams out to a pool of workers, which compute moments and pass each beam
// to the sink. Beams reach the sink in no particular order.
type Dispatcher struct {
	source BeamSource
	sink   Sink

	logger     *slog.Logger
	observer   Observer
	workers    int
	queueSize  int
	retryDelay time.Duration

	beams   atomic.Uint64
	retries atomic.Uint64
}

// New creates a dispatcher.
func New(source BeamSource, sink Sink, options ...func(*Dispatcher)) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Dispatcher{
		source:     source,
		sink:       sink,
		logger:     logger,
		observer:   nopObserver{},
		workers:    runtime.GOMAXPROCS(0),
		queueSize:  defaultQueueSize,
		retryDelay: defaultRetryDelay,
	}

	for _, option := range options {
		option(&d)
	}

	if d.workers <= 0 {
		d.workers = 1
	}
	if d.queueSize <= 0 {
		d.queueSize = defaultQueueSize
	}
	if d.observer == nil {
		d.observer = nopObserver{}
	}

	return &d
}

// Run processes beams until the source reports the end of data, ctx is
// cancelled or the source or sink fails. Reaching the end of data is not an
// error. After a failure, beams still held by a Discarder sink are released;
// a cancelled run leaves them for a final Flush by the caller.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *beam.Beam, d.queueSize)

	g.Go(func() error {
		defer close(queue)
		return d.produce(gctx, queue)
	})

	for i := range d.workers {
		g.Go(func() error {
			return d.work(gctx, i, queue)
		})
	}

	if err := g.Wait(); err != nil {
		drain(queue)
		if dc, ok := d.sink.(Discarder); ok && ctx.Err() == nil {
			if n := dc.Discard(); n > 0 {
				d.logger.Warn("discarded beams held by the sink", slog.Int("count", n))
			}
		}
		return err
	}

	if f, ok := d.sink.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("flushing sink: %w", err)
		}
	}
	return nil
}

func (d *Dispatcher) produce(ctx context.Context, queue chan<- *beam.Beam) error {
	retry := time.NewTimer(d.retryDelay)
	retry.Stop()
	defer retry.Stop()

	for {
		b, err := d.source.NextBeam(ctx)
		switch {
		case errors.Is(err, dwell.ErrEndOfData):
			d.logger.Debug("end of data")
			return nil

		case errors.Is(err, dwell.ErrTryAgain):
			d.retries.Add(1)
			retry.Reset(d.retryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-retry.C:
			}
			continue

		case err != nil:
			return fmt.Errorf("reading beam: %w", err)
		}

		select {
		case queue <- b:
		case <-ctx.Done():
			b.Release()
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) work(ctx context.Context, id int, queue <-chan *beam.Beam) error {
	for b := range queue {
		if err := ctx.Err(); err != nil {
			b.Release()
			return err
		}

		seq := b.SeqNum()
		start := time.Now()
		b.ComputeMoments()
		d.observer.BeamProcessed(b.Mode().Kind.String(), time.Since(start))
		d.beams.Add(1)

		if err := d.sink.Consume(ctx, b); err != nil {
			d.observer.SinkFailed()
			d.logger.Error(fmt.Sprintf("sink failed: %s", err.Error()),
				slog.Int("worker", id),
				slog.Int64("beam", seq))
			return fmt.Errorf("consuming beam %d: %w", seq, err)
		}
	}
	return nil
}

// drain releases beams left in the queue after a failure.
func drain(queue <-chan *beam.Beam) {
	for b := range queue {
		b.Release()
	}
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Beams:   d.beams.Load(),
		Retries: d.retries.Load(),
	}
}
