// internal/cw/encoder.go
package cw

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// UnknownPolicy decides what the encoder does with characters that have no
// Morse pattern. Either way a warning is recorded in the schedule.
type UnknownPolicy int

const (
	// SkipUnknown drops the character
	SkipUnknown UnknownPolicy = iota
	// SendError sends the error prosign (eight dits) in its place
	SendError
)

func (u UnknownPolicy) String() string {
	if u == SendError {
		return "error"
	}
	return "skip"
}

// ParseUnknownPolicy accepts "skip" or "error".
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "":
		return SkipUnknown, nil
	case "error":
		return SendError, nil
	}
	return SkipUnknown, fmt.Errorf("unknown_policy must be skip or error, got %q", s)
}

// Warning records an input character the encoder could not send as-is.
type Warning struct {
	Offset int    // byte offset in the input text
	Char   string // the offending character
}

func (w Warning) String() string {
	return fmt.Sprintf("no Morse pattern for %q at offset %d", w.Char, w.Offset)
}

// Schedule is a timed element sequence ready for playback.
// It is consumed once by the tone scheduler and then discarded.
type Schedule struct {
	Elements []Element
	Start    time.Time
	End      time.Time
	// Expected is what a matched decoder should print for this schedule
	Expected string
	Warnings []Warning
}

// Encoder converts text into a playback schedule.
type Encoder struct {
	policy UnknownPolicy
}

// NewEncoder creates an encoder with the given unknown-character policy.
func NewEncoder(policy UnknownPolicy) *Encoder {
	return &Encoder{policy: policy}
}

// Policy returns the unknown-character policy.
func (e *Encoder) Policy() UnknownPolicy {
	return e.policy
}

// Encode lays out text starting at start. Elements are separated by one
// unit, characters by three and words by seven. Runs of whitespace count
// as one word gap; leading and trailing whitespace is ignored. Prosigns are
// written in angle brackets ("<SK>") and sent without inner character gaps.
func (e *Encoder) Encode(text string, start time.Time, t Timing) Schedule {
	s := Schedule{Start: start, End: start}
	var expected strings.Builder

	cursor := start
	first := true
	pendingWord := false

	for i := 0; i < len(text); {
		r, symbol, size := nextSymbol(text[i:])
		offset := i
		i += size

		if unicode.IsSpace(r) {
			if !first {
				pendingWord = true
			}
			continue
		}

		pattern, ok := PatternFor(symbol)
		if !ok {
			s.Warnings = append(s.Warnings, Warning{Offset: offset, Char: symbol})
			if e.policy == SkipUnknown {
				continue
			}
			pattern = ErrorPattern
		}

		switch {
		case first:
		case pendingWord:
			cursor = cursor.Add(t.WordGap)
			expected.WriteByte(' ')
		default:
			cursor = cursor.Add(t.CharGap)
		}
		first = false
		pendingWord = false

		for j, k := range Kinds(pattern) {
			if j > 0 {
				cursor = cursor.Add(t.IntraGap)
			}
			el := Element{Kind: k, Start: cursor, Duration: t.ElementLength(k)}
			s.Elements = append(s.Elements, el)
			cursor = el.End()
		}
		if entry, ok := Lookup(pattern); ok {
			expected.WriteString(entry.Symbol)
		}
	}

	s.End = cursor
	s.Expected = expected.String()
	return s
}

// nextSymbol reads one rune, or one bracketed prosign if it is in the table.
func nextSymbol(s string) (r rune, symbol string, size int) {
	if s[0] == '<' {
		if end := strings.IndexByte(s, '>'); end > 1 {
			token := strings.ToUpper(s[:end+1])
			if _, ok := PatternFor(token); ok {
				return '<', token, end + 1
			}
		}
	}
	for i, c := range s {
		if i > 0 {
			return r, string(unicode.ToUpper(r)), i
		}
		r = c
	}
	return r, string(unicode.ToUpper(r)), len(s)
}
