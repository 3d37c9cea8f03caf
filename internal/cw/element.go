// internal/cw/element.go
package cw

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrOutOfOrderEvent indicates an event timestamp did not advance past the
// previous event from the same source. The event is dropped.
var ErrOutOfOrderEvent = errors.New("key event timestamp is not after the previous event")

// ElementKind is a dit or a dah.
type ElementKind uint8

const (
	Dot ElementKind = iota
	Dash
)

// Symbol returns "." or "-".
func (k ElementKind) Symbol() byte {
	if k == Dash {
		return '-'
	}
	return '.'
}

func (k ElementKind) String() string {
	if k == Dash {
		return "Dash"
	}
	return "Dot"
}

// Element is one sounded dit or dah.
type Element struct {
	Kind     ElementKind
	Start    time.Time
	Duration time.Duration
}

// End returns the instant the element stops sounding.
func (e Element) End() time.Time {
	return e.Start.Add(e.Duration)
}

// PatternOf renders element kinds as a dot/dash string, e.g. "...---...".
func PatternOf(kinds []ElementKind) string {
	var b strings.Builder
	b.Grow(len(kinds))
	for _, k := range kinds {
		b.WriteByte(k.Symbol())
	}
	return b.String()
}

// Edge is the direction of a key transition.
type Edge uint8

const (
	Press Edge = iota
	Release
)

func (e Edge) String() string {
	if e == Release {
		return "release"
	}
	return "press"
}

// Paddle identifies which contact an event came from.
type Paddle uint8

const (
	PaddleDot Paddle = iota
	PaddleDash
	PaddleStraight
)

func (p Paddle) String() string {
	switch p {
	case PaddleDot:
		return "dot"
	case PaddleDash:
		return "dash"
	case PaddleStraight:
		return "straight"
	}
	return fmt.Sprintf("Paddle(%d)", int(p))
}

// ParsePaddle accepts dot, dash or straight.
func ParsePaddle(s string) (Paddle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dot", "dit":
		return PaddleDot, nil
	case "dash", "dah":
		return PaddleDash, nil
	case "straight":
		return PaddleStraight, nil
	}
	return 0, fmt.Errorf("unknown paddle %q (want dot, dash or straight)", s)
}

// KeyEvent is a raw press or release from the input layer.
type KeyEvent struct {
	Edge   Edge
	Paddle Paddle
	At     time.Time
}

// EventOrder enforces strictly increasing timestamps for one event source.
type EventOrder struct {
	last time.Time
}

// Check accepts ev if it is newer than every event seen so far.
func (o *EventOrder) Check(ev KeyEvent) error {
	if !o.last.IsZero() && !ev.At.After(o.last) {
		return fmt.Errorf("%w: %s %s at %s", ErrOutOfOrderEvent, ev.Paddle, ev.Edge, ev.At.Format(time.StampMicro))
	}
	o.last = ev.At
	return nil
}

// Reset forgets the last timestamp.
func (o *EventOrder) Reset() {
	o.last = time.Time{}
}
