package pulse

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// MaxChannels is the maximum number of receiver channels a pulse can carry.
const MaxChannels = 2

// ErrIQLength is returned by Load when a channel holds fewer than 2*NGates values.
var ErrIQLength = errors.New("iq channel shorter than gate count")

// Polarization is the transmit polarization of a single pulse.
type Polarization uint8

const (
	PolarizationH Polarization = iota
	PolarizationV
)

func (p Polarization) String() string {
	switch p {
	case PolarizationH:
		return "H"
	case PolarizationV:
		return "V"
	default:
		return fmt.Sprintf("Polarization(%d)", uint8(p))
	}
}

// Header holds the per-pulse metadata reported by the digitizer.
type Header struct {
	Time   time.Time
	SeqNum int64

	Azimuth        float64 // deg
	Elevation      float64 // deg
	FixedAzimuth   float64 // deg, NaN when unknown
	FixedElevation float64 // deg, NaN when unknown

	Prt          float64 // seconds, from previous pulse to this one
	PulseWidthUs float64
	NGates       int
	Polarization Polarization
	ScanMode     int

	SweepNum       int
	VolumeNum      int
	DwellSeqNum    int64
	BeamNumInDwell int

	EndOfSweep  bool
	EndOfVolume bool
}

// Pulse is one transmit/receive cycle: a header plus one or two channels of
// interleaved I,Q samples, two values per gate.
//
// A pulse is shared between the dwell queue and any beam built from it.
// Every holder calls Retain once and Release once; the last Release hands
// the pulse back to the pool it came from. IQ data must not be modified
// while any holder exists.
type Pulse struct {
	Header

	iq        [MaxChannels][]float32
	nChannels int

	clients atomic.Int32
	pool    *Pool
}

// New allocates a pulse that does not belong to any pool.
func New(h Header, iq ...[]float32) (*Pulse, error) {
	p := &Pulse{}
	if err := p.Load(h, iq...); err != nil {
		return nil, err
	}
	return p, nil
}

// Load replaces the header and IQ data, reusing the pulse's buffers where
// their capacity allows. Loading a pulse that is still referenced is a
// programming error and panics.
func (p *Pulse) Load(h Header, iq ...[]float32) error {
	if n := p.clients.Load(); n != 0 {
		panic(fmt.Sprintf("pulse: load with %d active clients", n))
	}
	if len(iq) == 0 || len(iq) > MaxChannels {
		return fmt.Errorf("invalid channel count %d", len(iq))
	}

	want := 2 * h.NGates
	for ch, data := range iq {
		if len(data) < want {
			return fmt.Errorf("channel %d: %w: have %d values, need %d", ch, ErrIQLength, len(data), want)
		}
	}

	p.Header = h
	p.nChannels = len(iq)
	for ch := range MaxChannels {
		if ch >= len(iq) {
			p.iq[ch] = p.iq[ch][:0]
			continue
		}
		p.iq[ch] = append(p.iq[ch][:0], iq[ch][:want]...)
	}
	return nil
}

// IQ returns the interleaved I,Q values of a channel, or nil if the pulse
// does not carry that channel. The slice must be treated as read-only.
func (p *Pulse) IQ(channel int) []float32 {
	if channel < 0 || channel >= p.nChannels {
		return nil
	}
	return p.iq[channel]
}

// NChannels returns the number of receiver channels.
func (p *Pulse) NChannels() int {
	return p.nChannels
}

// Retain registers one more holder of the pulse.
func (p *Pulse) Retain() {
	p.clients.Add(1)
}

// Release drops one holder. The pulse returns to its pool once the last
// holder has released it.
func (p *Pulse) Release() {
	n := p.clients.Add(-1)
	switch {
	case n < 0:
		panic("pulse: released more times than retained")
	case n == 0:
		p.pool.put(p)
	}
}

// Recycle returns a pulse nobody retained back to its pool. It is a no-op for
// referenced pulses.
func (p *Pulse) Recycle() {
	if p.clients.Load() == 0 {
		p.pool.put(p)
	}
}

// NClients returns the number of current holders.
func (p *Pulse) NClients() int {
	return int(p.clients.Load())
}

// Power returns |I|^2+|Q|^2 of channel 0 at the given gate.
func (p *Pulse) Power(gate int) float64 {
	if gate < 0 || gate >= p.NGates || p.nChannels == 0 {
		return 0
	}
	i := float64(p.iq[0][2*gate])
	q := float64(p.iq[0][2*gate+1])
	return i*i + q*q
}

// IQBytes returns the size of the sample payload in bytes.
func (p *Pulse) IQBytes() int {
	return p.nChannels * 2 * p.NGates * 4
}
