// internal/cw/timing.go
// Package cw implements the Morse (CW) keying model: element timing,
// classification, the code table, decoding and encoding.
package cw

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Morse code timing ratios (ITU standard)
const (
	// DahDitRatio is the ratio of dah duration to dit duration (ITU: 3:1)
	DahDitRatio = 3
	// IntraCharSpaceRatio is the space between elements within a character, in dits (ITU: 1)
	IntraCharSpaceRatio = 1
	// InterCharSpaceRatio is the space between characters, in dits (ITU: 3)
	InterCharSpaceRatio = 3
	// WordSpaceRatio is the space between words, in dits (ITU: 7)
	WordSpaceRatio = 7

	// DitsPerWord is the standard word "PARIS" = 50 dit units
	DitsPerWord = 50
	// UnitPerWPM is the dit length at 1 WPM: one minute / DitsPerWord
	UnitPerWPM = 1200 * time.Millisecond
)

// Default decision thresholds, expressed in dit units.
const (
	// DefaultNoiseFloor is the shortest key-down accepted as an element;
	// anything shorter is treated as contact bounce
	DefaultNoiseFloor = 0.3
	// DefaultDitDahBoundary splits dit from dah (midpoint of 1 and 3).
	// A duration of exactly the boundary is a dah.
	DefaultDitDahBoundary = 2.0
	// DefaultCharGap is the silence at which a character is complete
	DefaultCharGap = float64(InterCharSpaceRatio)
	// DefaultWordGap is the silence at which a word is complete
	DefaultWordGap = float64(WordSpaceRatio)
)

var (
	// ErrInvalidWPM indicates WPM must be positive
	ErrInvalidWPM = errors.New("WPM must be positive")
	// ErrInvalidMode indicates an unrecognised keyer mode
	ErrInvalidMode = errors.New("keyer mode must be one of straight, iambic_a, iambic_b")
	// ErrInvalidTolerance indicates the decision thresholds are inconsistent
	ErrInvalidTolerance = errors.New("invalid timing tolerance")
)

// Timing holds the element and gap lengths derived from a WPM value.
// It is a value type: components are handed the Timing in effect for each
// call, so changing speed never alters elements already in flight.
type Timing struct {
	WPM      int
	Unit     time.Duration // dit length
	Dash     time.Duration // 3 units
	IntraGap time.Duration // 1 unit, between elements of a character
	CharGap  time.Duration // 3 units, between characters
	WordGap  time.Duration // 7 units, between words
}

// NewTiming derives all durations from wpm using the PARIS standard.
func NewTiming(wpm int) (Timing, error) {
	if wpm <= 0 {
		return Timing{}, ErrInvalidWPM
	}
	unit := UnitPerWPM / time.Duration(wpm)
	return Timing{
		WPM:      wpm,
		Unit:     unit,
		Dash:     unit * DahDitRatio,
		IntraGap: unit * IntraCharSpaceRatio,
		CharGap:  unit * InterCharSpaceRatio,
		WordGap:  unit * WordSpaceRatio,
	}, nil
}

// Units converts a ratio of the dit length into a duration.
func (t Timing) Units(ratio float64) time.Duration {
	return time.Duration(math.Round(ratio * float64(t.Unit)))
}

// ElementLength returns the nominal sounding length of an element kind.
func (t Timing) ElementLength(k ElementKind) time.Duration {
	if k == Dash {
		return t.Dash
	}
	return t.Unit
}

// Tolerance holds the decision thresholds, in dit units.
// They are configuration rather than constants because human fists vary.
type Tolerance struct {
	// NoiseFloor discards shorter key-downs as bounce (from config: noise_floor)
	NoiseFloor float64
	// DitDah is the dit/dah boundary (from config: dit_dah_boundary)
	DitDah float64
	// CharGap is the character boundary (from config: char_gap)
	CharGap float64
	// WordGap is the word boundary (from config: word_gap)
	WordGap float64
}

// DefaultTolerance returns the ITU midpoint thresholds.
func DefaultTolerance() Tolerance {
	return Tolerance{
		NoiseFloor: DefaultNoiseFloor,
		DitDah:     DefaultDitDahBoundary,
		CharGap:    DefaultCharGap,
		WordGap:    DefaultWordGap,
	}
}

// Validate checks that thresholds are ordered sensibly.
func (t Tolerance) Validate() error {
	switch {
	case t.NoiseFloor < 0:
		return fmt.Errorf("%w: noise floor must not be negative", ErrInvalidTolerance)
	case t.DitDah <= t.NoiseFloor:
		return fmt.Errorf("%w: dit/dah boundary must exceed the noise floor", ErrInvalidTolerance)
	case t.CharGap <= IntraCharSpaceRatio:
		return fmt.Errorf("%w: char gap must exceed one unit", ErrInvalidTolerance)
	case t.WordGap <= t.CharGap:
		return fmt.Errorf("%w: word gap must exceed char gap", ErrInvalidTolerance)
	}
	return nil
}

// KeyerMode selects how key events become elements.
type KeyerMode int

const (
	Straight KeyerMode = iota
	IambicA
	IambicB
)

// IsIambic reports whether the mode uses the paddle state machine.
func (m KeyerMode) IsIambic() bool {
	return m == IambicA || m == IambicB
}

func (m KeyerMode) String() string {
	switch m {
	case Straight:
		return "straight"
	case IambicA:
		return "iambic_a"
	case IambicB:
		return "iambic_b"
	}
	return fmt.Sprintf("KeyerMode(%d)", int(m))
}

// ParseKeyerMode accepts the config spellings (straight, iambic_a, iambic_b),
// case-insensitively, with "-" or "" in place of "_".
func ParseKeyerMode(s string) (KeyerMode, error) {
	switch strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s)) {
	case "straight":
		return Straight, nil
	case "iambica":
		return IambicA, nil
	case "iambicb":
		return IambicB, nil
	}
	return Straight, fmt.Errorf("%w, got %q", ErrInvalidMode, s)
}

// Params is the session context handed to every pipeline call.
// It is owned by the orchestrating layer and passed by value.
type Params struct {
	Timing    Timing
	Mode      KeyerMode
	Tolerance Tolerance
}

// NewParams builds validated params.
func NewParams(wpm int, mode KeyerMode, tol Tolerance) (Params, error) {
	t, err := NewTiming(wpm)
	if err != nil {
		return Params{}, err
	}
	if mode < Straight || mode > IambicB {
		return Params{}, ErrInvalidMode
	}
	if err := tol.Validate(); err != nil {
		return Params{}, err
	}
	return Params{Timing: t, Mode: mode, Tolerance: tol}, nil
}

// WithWPM returns a copy with the timing recomputed for wpm.
func (p Params) WithWPM(wpm int) (Params, error) {
	t, err := NewTiming(wpm)
	if err != nil {
		return p, err
	}
	p.Timing = t
	return p, nil
}

// NoiseFloor returns the bounce threshold as a duration.
func (p Params) NoiseFloor() time.Duration { return p.Timing.Units(p.Tolerance.NoiseFloor) }

// DitDahBoundary returns the dit/dah threshold as a duration.
func (p Params) DitDahBoundary() time.Duration { return p.Timing.Units(p.Tolerance.DitDah) }

// CharBoundary returns the character gap threshold as a duration.
func (p Params) CharBoundary() time.Duration { return p.Timing.Units(p.Tolerance.CharGap) }

// WordBoundary returns the word gap threshold as a duration.
func (p Params) WordBoundary() time.Duration { return p.Timing.Units(p.Tolerance.WordGap) }
