// internal/keyer/iambic.go
// Package keyer turns paddle and straight-key edges into Morse elements.
package keyer

import (
	"fmt"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

// State is the iambic state machine state.
type State int

const (
	Idle State = iota
	SendingDot
	SendingDash
	DotGapWait
	DashGapWait
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SendingDot:
		return "SendingDot"
	case SendingDash:
		return "SendingDash"
	case DotGapWait:
		return "DotGapWait"
	case DashGapWait:
		return "DashGapWait"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PaddleState is the physical contact state of both paddles.
type PaddleState struct {
	DotHeld  bool
	DashHeld bool
}

// Iambic is a self-timing two-paddle keyer.
//
// Time is always supplied by the caller: edges carry their timestamp and
// Advance moves the machine to now. Deadline tells the host when the next
// transition is due so it can arm a timer on the same clock that stamps
// the edges. Every element is emitted whole at its start instant.
type Iambic struct {
	state   State
	paddles PaddleState

	// latched at sequence start, so a mode change never lands mid-sequence
	mode cw.KeyerMode

	current    cw.ElementKind
	elementEnd time.Time
	gapEnd     time.Time

	// opposite paddle was held at some point during the current element or its gap
	memory bool
	// when the opposite press that set memory landed; zero if it was held at element start
	memoryAt time.Time

	// debounce window opened by the first press from Idle
	armed      bool
	armedUntil time.Time

	stopAfter bool
}

// NewIambic returns an idle keyer.
func NewIambic() *Iambic {
	return &Iambic{mode: cw.IambicB}
}

// State returns the current state.
func (k *Iambic) State() State { return k.state }

// Paddles returns the current paddle contact state.
func (k *Iambic) Paddles() PaddleState { return k.paddles }

// Mode returns the mode latched for the current (or last) sequence.
func (k *Iambic) Mode() cw.KeyerMode { return k.mode }

// Deadline reports the instant of the next scheduled transition.
func (k *Iambic) Deadline() (time.Time, bool) {
	switch k.state {
	case Idle:
		return k.armedUntil, k.armed
	case SendingDot, SendingDash:
		return k.elementEnd, true
	default:
		return k.gapEnd, true
	}
}

// Press applies a paddle closing at the given instant.
func (k *Iambic) Press(paddle cw.Paddle, at time.Time, p cw.Params) []cw.Element {
	out := k.Advance(at, p)

	switch paddle {
	case cw.PaddleDot:
		k.paddles.DotHeld = true
	case cw.PaddleDash:
		k.paddles.DashHeld = true
	default:
		return out
	}

	if k.state == Idle {
		if !k.armed {
			k.armed = true
			k.armedUntil = at.Add(p.NoiseFloor())
		}
	} else if k.isOpposite(paddle) && !k.memory {
		k.memory = true
		k.memoryAt = at
	}
	return append(out, k.Advance(at, p)...)
}

// Release applies a paddle opening at the given instant.
func (k *Iambic) Release(paddle cw.Paddle, at time.Time, p cw.Params) []cw.Element {
	out := k.Advance(at, p)

	switch paddle {
	case cw.PaddleDot:
		k.paddles.DotHeld = false
	case cw.PaddleDash:
		k.paddles.DashHeld = false
	default:
		return out
	}

	// press and release inside the debounce window is bounce
	if k.state == Idle && k.armed && !k.paddles.DotHeld && !k.paddles.DashHeld {
		k.armed = false
	}
	// so is an opposite contact shorter than the noise floor mid-sequence
	if k.state != Idle && k.isOpposite(paddle) && !k.memoryAt.IsZero() &&
		at.Sub(k.memoryAt) < p.NoiseFloor() {
		k.memory = false
		k.memoryAt = time.Time{}
	}
	return out
}

// Advance runs every transition due at or before now and returns the
// elements that started. Element start times are the exact transition
// instants, not now, so a late call does not stretch the rhythm.
func (k *Iambic) Advance(now time.Time, p cw.Params) []cw.Element {
	var out []cw.Element
	for {
		switch k.state {
		case Idle:
			if !k.armed || now.Before(k.armedUntil) {
				return out
			}
			k.armed = false
			if !p.Mode.IsIambic() {
				return out
			}
			k.mode = p.Mode
			switch {
			case k.paddles.DotHeld:
				out = append(out, k.start(cw.Dot, k.armedUntil, p))
			case k.paddles.DashHeld:
				out = append(out, k.start(cw.Dash, k.armedUntil, p))
			}

		case SendingDot, SendingDash:
			if now.Before(k.elementEnd) {
				return out
			}
			if k.stopAfter {
				k.goIdle(k.gapEnd)
				continue
			}
			if k.state == SendingDot {
				k.state = DotGapWait
			} else {
				k.state = DashGapWait
			}

		case DotGapWait, DashGapWait:
			if now.Before(k.gapEnd) {
				return out
			}
			next, ok := k.next()
			if !ok {
				k.goIdle(k.gapEnd)
				continue
			}
			out = append(out, k.start(next, k.gapEnd, p))
		}
	}
}

// Interrupt cancels the sequence at the given instant. A pending gap wait
// ends now and an element that is already sounding still finishes. A
// paddle still held when the keyer reaches Idle starts a new sequence,
// latching the mode in force at that point, once the inter-element gap has
// passed.
func (k *Iambic) Interrupt(at time.Time) {
	switch k.state {
	case SendingDot, SendingDash:
		k.stopAfter = true
	case DotGapWait, DashGapWait:
		resume := k.gapEnd
		if resume.Before(at) {
			resume = at
		}
		k.goIdle(resume)
	default:
		if !k.armed {
			k.goIdle(at)
		}
	}
}

// Reset returns to Idle and forgets paddle state.
func (k *Iambic) Reset() {
	k.paddles = PaddleState{}
	k.goIdle(time.Time{})
}

// goIdle enters Idle. A held paddle re-arms the keyer to start at resume.
func (k *Iambic) goIdle(resume time.Time) {
	k.state = Idle
	k.memory = false
	k.memoryAt = time.Time{}
	k.stopAfter = false
	k.armed = k.paddles.DotHeld || k.paddles.DashHeld
	k.armedUntil = resume
}

// next decides the element that follows a completed gap.
func (k *Iambic) next() (cw.ElementKind, bool) {
	opposite := cw.Dash
	sameHeld, oppositeHeld := k.paddles.DotHeld, k.paddles.DashHeld
	if k.current == cw.Dash {
		opposite = cw.Dot
		sameHeld, oppositeHeld = oppositeHeld, sameHeld
	}

	switch {
	case sameHeld && oppositeHeld:
		return opposite, true
	case k.mode == cw.IambicB && k.memory:
		return opposite, true
	case sameHeld:
		return k.current, true
	case oppositeHeld:
		return opposite, true
	}
	return 0, false
}

func (k *Iambic) start(kind cw.ElementKind, at time.Time, p cw.Params) cw.Element {
	el := cw.Element{Kind: kind, Start: at, Duration: p.Timing.ElementLength(kind)}
	k.current = kind
	k.elementEnd = el.End()
	k.gapEnd = k.elementEnd.Add(p.Timing.IntraGap)
	k.memoryAt = time.Time{}
	if kind == cw.Dot {
		k.state = SendingDot
		k.memory = k.paddles.DashHeld
	} else {
		k.state = SendingDash
		k.memory = k.paddles.DotHeld
	}
	return el
}

func (k *Iambic) isOpposite(paddle cw.Paddle) bool {
	if k.current == cw.Dot {
		return paddle == cw.PaddleDash
	}
	return paddle == cw.PaddleDot
}
