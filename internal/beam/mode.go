package beam

import (
	"fmt"
	"math"
)

// Kind is the transmission scheme of a beam's pulse set.
type Kind uint8

const (
	KindSingle Kind = iota
	KindAlternating
	KindStaggered
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindAlternating:
		return "alternating"
	case KindStaggered:
		return "staggered"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Stagger describes a staggered-PRT pulse set. The short PRT is the one with
// more gates. StartsOnShort reports whether pulse[0] belongs to the short PRT.
type Stagger struct {
	PrtShort      float64
	PrtLong       float64
	NGatesShort   int
	NGatesLong    int
	StartsOnShort bool
}

// Mode is decided once per beam and threaded through processing.
type Mode struct {
	Kind    Kind
	Stagger Stagger // only set for KindStaggered
}

func Single() Mode      { return Mode{Kind: KindSingle} }
func Alternating() Mode { return Mode{Kind: KindAlternating} }

func Staggered(s Stagger) Mode {
	return Mode{Kind: KindStaggered, Stagger: s}
}

func (m Mode) IsStaggered() bool   { return m.Kind == KindStaggered }
func (m Mode) IsAlternating() bool { return m.Kind == KindAlternating }

func (m Mode) String() string {
	if m.Kind != KindStaggered {
		return m.Kind.String()
	}
	return fmt.Sprintf("staggered(%gs/%gs, %d/%d gates)",
		m.Stagger.PrtShort, m.Stagger.PrtLong, m.Stagger.NGatesShort, m.Stagger.NGatesLong)
}

// StaggerRatio returns the integer ratio M:N of short to long PRT. The PRT
// ratio is rounded to the nearest 1/60 and matched against 2:3, 3:4 and 4:5.
// ok is false when nothing matches, in which case 2:3 is returned.
func StaggerRatio(prtShort, prtLong float64) (m, n int, ok bool) {
	if prtLong <= 0 {
		return 2, 3, false
	}
	ratio60 := int(math.Floor(prtShort/prtLong*60 + 0.5))
	switch ratio60 {
	case 40:
		return 2, 3, true
	case 45:
		return 3, 4, true
	case 48:
		return 4, 5, true
	default:
		return 2, 3, false
	}
}
