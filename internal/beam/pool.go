package beam

import "sync"

// DefaultPoolSize is the default maximum number of idle beams kept for reuse.
const DefaultPoolSize = 256

// PoolStats is a snapshot of pool usage counters.
type PoolStats struct {
	Idle   int
	Hits   uint64
	Misses uint64
}

// Pool recycles beams together with their gate allocations. Beams are put
// back by Beam.Release once the sink is done with them.
type Pool struct {
	mu      sync.Mutex
	free    []*Beam
	maxIdle int
	newBeam func() *Beam

	hits   uint64
	misses uint64
}

// NewPool creates a beam pool. newBeam constructs a beam when no idle one is
// available.
func NewPool(maxIdle int, newBeam func() *Beam) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultPoolSize
	}
	return &Pool{maxIdle: maxIdle, newBeam: newBeam}
}

// Get returns an uninitialized beam.
func (pl *Pool) Get() *Beam {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	for i, b := range pl.free {
		if b.state != stateUninitialized {
			continue
		}
		pl.free = append(pl.free[:i], pl.free[i+1:]...)
		b.pooled = false
		pl.hits++
		return b
	}

	pl.misses++
	b := pl.newBeam()
	b.pool = pl
	return b
}

func (pl *Pool) put(b *Beam) {
	if pl == nil {
		return
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if b.pooled || len(pl.free) >= pl.maxIdle {
		return
	}
	b.pooled = true
	pl.free = append(pl.free, b)
}

// Len returns the number of idle beams.
func (pl *Pool) Len() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.free)
}

// Stats returns a snapshot of the pool counters.
func (pl *Pool) Stats() PoolStats {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return PoolStats{
		Idle:   len(pl.free),
		Hits:   pl.hits,
		Misses: pl.misses,
	}
}
