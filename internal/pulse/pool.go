package pulse

import "sync"

// DefaultPoolSize is the default maximum number of idle pulses kept for reuse.
const DefaultPoolSize = 4096

// PoolStats is a snapshot of pool usage counters.
type PoolStats struct {
	Idle   int
	Hits   uint64
	Misses uint64
	Purged uint64
}

// Pool keeps released pulses for reuse. A nil *Pool is valid: Get allocates
// and released pulses are left to the garbage collector.
type Pool struct {
	mu      sync.Mutex
	free    []*Pulse
	maxIdle int

	hits   uint64
	misses uint64
	purged uint64
}

// NewPool creates a pool keeping at most maxIdle idle pulses.
func NewPool(maxIdle int) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultPoolSize
	}
	return &Pool{maxIdle: maxIdle}
}

// Get returns an unreferenced pulse, reusing an idle one when available.
// Release order does not follow insertion order, so entries are scanned
// front to back for one with no clients.
func (pl *Pool) Get() *Pulse {
	if pl == nil {
		return &Pulse{}
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	for i, p := range pl.free {
		if p.NClients() != 0 {
			continue
		}
		pl.free = append(pl.free[:i], pl.free[i+1:]...)
		pl.hits++
		return p
	}

	pl.misses++
	return &Pulse{pool: pl}
}

func (pl *Pool) put(p *Pulse) {
	if pl == nil {
		return
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if len(pl.free) >= pl.maxIdle {
		return
	}
	pl.free = append(pl.free, p)
}

// Purge discards every idle pulse. It is called when the gate geometry of
// the source changes and buffered pulses can no longer be reused sensibly.
func (pl *Pool) Purge() int {
	if pl == nil {
		return 0
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	n := len(pl.free)
	clear(pl.free)
	pl.free = pl.free[:0]
	pl.purged += uint64(n)
	return n
}

// Len returns the number of idle pulses.
func (pl *Pool) Len() int {
	if pl == nil {
		return 0
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.free)
}

// Stats returns a snapshot of the pool counters.
func (pl *Pool) Stats() PoolStats {
	if pl == nil {
		return PoolStats{}
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()
	return PoolStats{
		Idle:   len(pl.free),
		Hits:   pl.hits,
		Misses: pl.misses,
		Purged: pl.purged,
	}
}
