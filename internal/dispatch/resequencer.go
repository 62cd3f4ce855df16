package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roman-kulish/radar-beams/internal/beam"
)

// node is an internal linked list node of the resequencer.
type node struct {
	beam *beam.Beam
	next *node
}

// Resequencer is a Sink that restores the beam order lost between parallel
// workers. Beams are kept in a list ordered by sequence number and passed to
// the next sink as soon as they are contiguous with the last one emitted.
//
// When the list reaches its capacity, the oldest flushCount beams are emitted
// anyway and the gaps before them are skipped, so a beam that never arrives
// cannot stall the output. A beam arriving after its slot was skipped is
// emitted immediately.
type Resequencer struct {
	next Sink

	capacity   int
	flushCount int

	mu      sync.Mutex
	head    *node
	size    int
	nextSeq int64
	skipped int64
}

// NewResequencer creates a resequencer in front of next. The first expected
// sequence number is zero.
func NewResequencer(next Sink, capacity, flushCount int) (*Resequencer, error) {
	if next == nil {
		return nil, errors.New("resequencer needs a sink")
	}
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid resequencer parameters: capacity=%d, flushCount=%d", capacity, flushCount)
	}
	return &Resequencer{
		next:       next,
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Consume queues b and forwards every beam that is now in order.
func (r *Resequencer) Consume(ctx context.Context, b *beam.Beam) error {
	if b == nil {
		return errors.New("cannot consume nil beam")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.insert(b)

	ready := r.ready()
	if r.size >= r.capacity {
		ready = append(ready, r.flush()...)
		ready = append(ready, r.ready()...)
	}
	return r.emit(ctx, ready)
}

// Flush forwards all queued beams in sequence order.
func (r *Resequencer) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	beams := r.drainAll()
	if n := len(beams); n > 0 {
		r.nextSeq = max(r.nextSeq, beams[n-1].SeqNum()+1)
	}
	if err := r.emit(ctx, beams); err != nil {
		return err
	}

	if f, ok := r.next.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// Discard releases every queued beam without forwarding it and returns how
// many were dropped. The expected sequence number is left as it is.
func (r *Resequencer) Discard() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	beams := r.drainAll()
	for _, b := range beams {
		b.Release()
	}
	return len(beams)
}

// Size returns the number of queued beams.
func (r *Resequencer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Skipped returns the number of sequence numbers given up on so far.
func (r *Resequencer) Skipped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

func (r *Resequencer) insert(b *beam.Beam) {
	seq := b.SeqNum()
	if r.head == nil || seq < r.head.beam.SeqNum() {
		r.head = &node{beam: b, next: r.head}
		r.size++
		return
	}

	current := r.head
	for current.next != nil && current.next.beam.SeqNum() <= seq {
		current = current.next
	}
	current.next = &node{beam: b, next: current.next}
	r.size++
}

// ready pops the head while it is due. Late beams, below nextSeq, are due
// as well.
func (r *Resequencer) ready() []*beam.Beam {
	var beams []*beam.Beam
	for r.head != nil && r.head.beam.SeqNum() <= r.nextSeq {
		b := r.head.beam
		r.head = r.head.next
		r.size--

		if b.SeqNum() == r.nextSeq {
			r.nextSeq++
		}
		beams = append(beams, b)
	}
	return beams
}

// flush pops the oldest flushCount beams regardless of gaps.
func (r *Resequencer) flush() []*beam.Beam {
	count := min(r.flushCount, r.size)

	beams := make([]*beam.Beam, 0, count)
	for range count {
		b := r.head.beam
		r.head = r.head.next
		r.size--

		if seq := b.SeqNum(); seq >= r.nextSeq {
			r.skipped += seq - r.nextSeq
			r.nextSeq = seq + 1
		}
		beams = append(beams, b)
	}
	return beams
}

func (r *Resequencer) drainAll() []*beam.Beam {
	beams := make([]*beam.Beam, 0, r.size)
	for current := r.head; current != nil; current = current.next {
		beams = append(beams, current.beam)
	}
	r.head = nil
	r.size = 0
	return beams
}

// emit hands beams to the next sink. Once it fails, the remaining beams
// are released here since nobody else owns them.
func (r *Resequencer) emit(ctx context.Context, beams []*beam.Beam) error {
	for i, b := range beams {
		if err := r.next.Consume(ctx, b); err != nil {
			for _, rest := range beams[i+1:] {
				rest.Release()
			}
			return err
		}
	}
	return nil
}
