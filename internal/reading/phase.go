// Package reading implements the tarot reading flow: the ordered phases of
// a reading, which earlier phases a user may return to, the stepper view
// derived from them, and the session that drives a reading forward through
// credits, card draws and interpretation.
package reading

import (
	"fmt"
)

// Phase is one step of a reading. The zero value is PhaseIntro.
type Phase int

const (
	PhaseIntro Phase = iota
	PhaseShuffleAnimating
	PhaseDrawing
	PhaseRevealing
	PhaseReading

	phaseCount = int(PhaseReading) + 1
)

var phaseIDs = [phaseCount]string{
	PhaseIntro:            "intro",
	PhaseShuffleAnimating: "shuffle_animating",
	PhaseDrawing:          "drawing",
	PhaseRevealing:        "revealing",
	PhaseReading:          "reading",
}

// Phases returns every phase in flow order.
func Phases() []Phase {
	return []Phase{PhaseIntro, PhaseShuffleAnimating, PhaseDrawing, PhaseRevealing, PhaseReading}
}

// Valid reports whether p is one of the five phases.
func (p Phase) Valid() bool {
	return p >= PhaseIntro && p <= PhaseReading
}

// Order is the zero-based position of p in the flow. It panics for values
// outside the enumeration: that is a programming error.
func (p Phase) Order() int {
	if !p.Valid() {
		panic(fmt.Sprintf("reading: invalid phase %d", int(p)))
	}
	return int(p)
}

// String returns the stable wire id, e.g. "shuffle_animating".
func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseIDs[p]
}

// ParsePhase maps a wire id back to its Phase.
func ParsePhase(s string) (Phase, error) {
	for i, id := range phaseIDs {
		if id == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(phaseIDs[p]), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
