package dispatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radar-beams/internal/beam"
	"github.com/roman-kulish/radar-beams/internal/dwell"
	"github.com/roman-kulish/radar-beams/internal/moments"
	"github.com/roman-kulish/radar-beams/internal/pulse"
)

// collector records the sequence numbers it consumed.
type collector struct {
	mu      sync.Mutex
	seqs    []int64
	flushed int
	failAt  int64
}

func newCollector() *collector {
	return &collector{failAt: -1}
}

func (c *collector) Consume(_ context.Context, b *beam.Beam) error {
	defer b.Release()

	c.mu.Lock()
	defer c.mu.Unlock()

	if b.SeqNum() == c.failAt {
		return errors.New("sink down")
	}
	c.seqs = append(c.seqs, b.SeqNum())
	return nil
}

func (c *collector) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed++
	return nil
}

func (c *collector) Seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.seqs)
}

func engines() beam.Engines {
	return beam.Engines{
		Moments: moments.NewPulsePair(),
		Kdp:     moments.NewKdp(),
		Median:  moments.Median{},
	}
}

func simAssembler(t *testing.T, nDwells int) *dwell.Assembler {
	t.Helper()

	cfg := pulse.DefaultSimConfig()
	cfg.NGates = 32
	cfg.NSamples = 8
	cfg.NDwells = nDwells
	cfg.Targets[0].Gate = 10

	pool := pulse.NewPool(0)
	sim, err := pulse.NewSimulator(cfg, pool)
	require.NoError(t, err)

	beams := beam.NewPool(0, func() *beam.Beam { return beam.New(engines()) })
	a, err := dwell.New(sim, beams, dwell.WithPulsePool(pool))
	require.NoError(t, err)
	return a
}

func newBeam(t *testing.T, seq int64) *beam.Beam {
	t.Helper()

	p, err := pulse.New(pulse.Header{NGates: 1, Prt: 1e-3}, make([]float32, 2))
	require.NoError(t, err)

	b := beam.New(beam.Engines{})
	b.Init(beam.Setup{SeqNum: seq, Pulses: []*pulse.Pulse{p}, NGates: 1, NGatesPrtLong: 1, Prt: 1e-3})
	return b
}

func TestDispatcher_ProcessesEveryBeam(t *testing.T) {
	sink := newCollector()
	d := New(simAssembler(t, 20), sink, WithWorkers(4), WithQueueSize(2))

	require.NoError(t, d.Run(context.Background()))

	seqs := sink.Seqs()
	slices.Sort(seqs)
	want := make([]int64, 20)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, seqs)
	assert.Equal(t, 1, sink.flushed)
	assert.Equal(t, uint64(20), d.Stats().Beams)
}

func TestDispatcher_ResequencedOutputIsOrdered(t *testing.T) {
	sink := newCollector()
	reseq, err := NewResequencer(sink, 64, 16)
	require.NoError(t, err)

	d := New(simAssembler(t, 30), reseq, WithWorkers(8))
	require.NoError(t, d.Run(context.Background()))

	seqs := sink.Seqs()
	require.Len(t, seqs, 30)
	assert.True(t, slices.IsSorted(seqs))
	assert.Zero(t, reseq.Size())
	assert.Equal(t, 1, sink.flushed)
}

// flaky times out a few times before every beam.
type flaky struct {
	beams   []*beam.Beam
	pending int
	misses  int
}

func (f *flaky) NextBeam(context.Context) (*beam.Beam, error) {
	if f.pending > 0 {
		f.pending--
		return nil, dwell.ErrTryAgain
	}
	if len(f.beams) == 0 {
		return nil, dwell.ErrEndOfData
	}
	f.pending = f.misses
	b := f.beams[0]
	f.beams = f.beams[1:]
	return b, nil
}

func TestDispatcher_RetriesOnTimeout(t *testing.T) {
	src := &flaky{misses: 2, pending: 2}
	for i := range 3 {
		src.beams = append(src.beams, newBeam(t, int64(i)))
	}

	sink := newCollector()
	d := New(src, sink, WithWorkers(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []int64{0, 1, 2}, sink.Seqs())
	// two misses before every beam and before the end of data
	assert.Equal(t, uint64(8), d.Stats().Retries)
}

func TestDispatcher_SourceError(t *testing.T) {
	boom := errors.New("boom")
	src := BeamSourceFunc(func(context.Context) (*beam.Beam, error) { return nil, boom })

	err := New(src, newCollector()).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_SinkError(t *testing.T) {
	sink := newCollector()
	sink.failAt = 3

	err := New(simAssembler(t, 10), sink, WithWorkers(1)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Zero(t, sink.flushed)
}

func TestDispatcher_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := BeamSourceFunc(func(ctx context.Context) (*beam.Beam, error) {
		return nil, dwell.ErrTryAgain
	})

	err := New(src, newCollector()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// outOfOrder hands out pooled beams 1 and 2, waits until the resequencer
// holds both and then calls fail.
func outOfOrder(t *testing.T, r *Resequencer, fail func() error) (BeamSource, *beam.Pool) {
	t.Helper()

	pool := beam.NewPool(0, func() *beam.Beam { return beam.New(beam.Engines{}) })
	var pending []*beam.Beam
	for _, seq := range []int64{1, 2} {
		p, err := pulse.New(pulse.Header{NGates: 1, Prt: 1e-3}, make([]float32, 2))
		require.NoError(t, err)

		b := pool.Get()
		b.Init(beam.Setup{SeqNum: seq, Pulses: []*pulse.Pulse{p}, NGates: 1, NGatesPrtLong: 1, Prt: 1e-3})
		pending = append(pending, b)
	}

	return BeamSourceFunc(func(context.Context) (*beam.Beam, error) {
		if len(pending) > 0 {
			b := pending[0]
			pending = pending[1:]
			return b, nil
		}
		deadline := time.Now().Add(time.Second)
		for r.Size() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return nil, fail()
	}), pool
}

func TestDispatcher_FailureDiscardsHeldBeams(t *testing.T) {
	sink := newCollector()
	reseq, err := NewResequencer(sink, 16, 4)
	require.NoError(t, err)

	boom := errors.New("boom")
	src, pool := outOfOrder(t, reseq, func() error { return boom })

	err = New(src, reseq, WithWorkers(1)).Run(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Zero(t, reseq.Size())
	assert.Empty(t, sink.Seqs())
	assert.Equal(t, 2, pool.Len(), "held beams returned to the pool")
}

func TestDispatcher_CancelKeepsHeldBeams(t *testing.T) {
	sink := newCollector()
	reseq, err := NewResequencer(sink, 16, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src, pool := outOfOrder(t, reseq, func() error {
		cancel()
		return ctx.Err()
	})

	err = New(src, reseq, WithWorkers(1)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, reseq.Size())
	assert.Zero(t, pool.Len())

	require.NoError(t, reseq.Flush(context.Background()))
	assert.Equal(t, []int64{1, 2}, sink.Seqs())
	assert.Equal(t, 2, pool.Len())
}

func TestDispatcher_RetryDelay(t *testing.T) {
	src := &flaky{misses: 5, pending: 5}
	d := New(src, newCollector(), WithWorkers(1), WithRetryDelay(5*time.Millisecond))

	start := time.Now()
	require.NoError(t, d.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond, "every retry waits")
	assert.Equal(t, uint64(5), d.Stats().Retries)
}

func TestResequencer_Orders(t *testing.T) {
	sink := newCollector()
	r, err := NewResequencer(sink, 10, 5)
	require.NoError(t, err)

	ctx := context.Background()
	for _, seq := range []int64{2, 0, 3, 1, 5, 4} {
		require.NoError(t, r.Consume(ctx, newBeam(t, seq)))
	}

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, sink.Seqs())
	assert.Zero(t, r.Size())
}

func TestResequencer_HoldsUntilContiguous(t *testing.T) {
	sink := newCollector()
	r, err := NewResequencer(sink, 10, 5)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Consume(ctx, newBeam(t, 1)))
	require.NoError(t, r.Consume(ctx, newBeam(t, 2)))

	assert.Empty(t, sink.Seqs())
	assert.Equal(t, 2, r.Size())

	require.NoError(t, r.Consume(ctx, newBeam(t, 0)))
	assert.Equal(t, []int64{0, 1, 2}, sink.Seqs())
}

func TestResequencer_SkipsGapWhenFull(t *testing.T) {
	sink := newCollector()
	r, err := NewResequencer(sink, 4, 2)
	require.NoError(t, err)

	// beam 0 never arrives
	ctx := context.Background()
	for _, seq := range []int64{1, 2, 3} {
		require.NoError(t, r.Consume(ctx, newBeam(t, seq)))
	}
	assert.Empty(t, sink.Seqs())

	require.NoError(t, r.Consume(ctx, newBeam(t, 4)))
	assert.Equal(t, []int64{1, 2, 3, 4}, sink.Seqs())
	assert.Equal(t, int64(1), r.Skipped())

	// late arrivals pass straight through
	require.NoError(t, r.Consume(ctx, newBeam(t, 0)))
	require.NoError(t, r.Consume(ctx, newBeam(t, 5)))
	assert.Equal(t, []int64{1, 2, 3, 4, 0, 5}, sink.Seqs())
}

func TestResequencer_FlushDrains(t *testing.T) {
	sink := newCollector()
	r, err := NewResequencer(sink, 10, 5)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Consume(ctx, newBeam(t, 3)))
	require.NoError(t, r.Consume(ctx, newBeam(t, 1)))

	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, []int64{1, 3}, sink.Seqs())
	assert.Equal(t, 1, sink.flushed)
	assert.Zero(t, r.Size())
}

func TestResequencer_ReleasesOnSinkError(t *testing.T) {
	sink := newCollector()
	sink.failAt = 0
	r, err := NewResequencer(sink, 10, 5)
	require.NoError(t, err)

	ctx := context.Background()
	b1 := newBeam(t, 1)
	require.NoError(t, r.Consume(ctx, b1))

	p := b1.Pulses()[0]
	require.Equal(t, 1, p.NClients())

	assert.Error(t, r.Consume(ctx, newBeam(t, 0)))
	assert.Zero(t, p.NClients())
}

func TestResequencer_Discard(t *testing.T) {
	sink := newCollector()
	r, err := NewResequencer(sink, 10, 5)
	require.NoError(t, err)

	ctx := context.Background()
	b := newBeam(t, 2)
	p := b.Pulses()[0]
	require.NoError(t, r.Consume(ctx, b))
	require.NoError(t, r.Consume(ctx, newBeam(t, 3)))

	assert.Equal(t, 2, r.Discard())
	assert.Zero(t, r.Size())
	assert.Zero(t, p.NClients())
	assert.Zero(t, r.Discard())

	require.NoError(t, r.Consume(ctx, newBeam(t, 0)))
	assert.Equal(t, []int64{0}, sink.Seqs())
}

func TestNewResequencer_Invalid(t *testing.T) {
	sink := newCollector()

	_, err := NewResequencer(nil, 10, 5)
	assert.Error(t, err)
	_, err = NewResequencer(sink, 0, 5)
	assert.Error(t, err)
	_, err = NewResequencer(sink, 4, 5)
	assert.Error(t, err)
}
