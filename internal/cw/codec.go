// internal/cw/codec.go
package cw

import (
	"strings"
	"unicode/utf8"
)

// UnknownSymbol is emitted for element sequences that match no table entry.
const UnknownSymbol = string(utf8.RuneError)

// ErrorPattern is the "error" prosign: eight dits.
const ErrorPattern = "........"

// MaxSymbolElements bounds the symbol buffer. The longest table entry is
// the SOS prosign (9 elements); anything past this is garbage.
const MaxSymbolElements = 12

// Class groups table entries for display.
type Class uint8

const (
	Letter Class = iota
	Digit
	Punctuation
	Prosign
)

func (c Class) String() string {
	switch c {
	case Letter:
		return "letters"
	case Digit:
		return "digits"
	case Punctuation:
		return "punctuation"
	default:
		return "prosigns"
	}
}

// Entry maps one symbol to its element pattern.
// Prosign symbols are written in angle brackets, e.g. "<SK>".
type Entry struct {
	Symbol  string
	Pattern string
	Class   Class
	Meaning string
}

// table is ordered by decode priority: where a prosign shares a pattern
// with punctuation (AR and '+', BT and '=', KN and '(') the earlier entry
// wins on decode. Every entry is still encodable.
var table = []Entry{
	{"A", ".-", Letter, ""},
	{"B", "-...", Letter, ""},
	{"C", "-.-.", Letter, ""},
	{"D", "-..", Letter, ""},
	{"E", ".", Letter, ""},
	{"F", "..-.", Letter, ""},
	{"G", "--.", Letter, ""},
	{"H", "....", Letter, ""},
	{"I", "..", Letter, ""},
	{"J", ".---", Letter, ""},
	{"K", "-.-", Letter, ""},
	{"L", ".-..", Letter, ""},
	{"M", "--", Letter, ""},
	{"N", "-.", Letter, ""},
	{"O", "---", Letter, ""},
	{"P", ".--.", Letter, ""},
	{"Q", "--.-", Letter, ""},
	{"R", ".-.", Letter, ""},
	{"S", "...", Letter, ""},
	{"T", "-", Letter, ""},
	{"U", "..-", Letter, ""},
	{"V", "...-", Letter, ""},
	{"W", ".--", Letter, ""},
	{"X", "-..-", Letter, ""},
	{"Y", "-.--", Letter, ""},
	{"Z", "--..", Letter, ""},

	{"1", ".----", Digit, ""},
	{"2", "..---", Digit, ""},
	{"3", "...--", Digit, ""},
	{"4", "....-", Digit, ""},
	{"5", ".....", Digit, ""},
	{"6", "-....", Digit, ""},
	{"7", "--...", Digit, ""},
	{"8", "---..", Digit, ""},
	{"9", "----.", Digit, ""},
	{"0", "-----", Digit, ""},

	{".", ".-.-.-", Punctuation, ""},
	{",", "--..--", Punctuation, ""},
	{"?", "..--..", Punctuation, ""},
	{"'", ".----.", Punctuation, ""},
	{"!", "-.-.--", Punctuation, ""},
	{"/", "-..-.", Punctuation, ""},
	{"(", "-.--.", Punctuation, ""},
	{")", "-.--.-", Punctuation, ""},
	{"&", ".-...", Punctuation, ""},
	{":", "---...", Punctuation, ""},
	{";", "-.-.-.", Punctuation, ""},
	{"=", "-...-", Punctuation, ""},
	{"+", ".-.-.", Punctuation, ""},
	{"-", "-....-", Punctuation, ""},
	{"_", "..--.-", Punctuation, ""},
	{"\"", ".-..-.", Punctuation, ""},
	{"$", "...-..-", Punctuation, ""},
	{"@", ".--.-.", Punctuation, ""},

	{"<AA>", ".-.-", Prosign, "new line"},
	{"<AR>", ".-.-.", Prosign, "end of message"},
	{"<AS>", ".-...", Prosign, "wait"},
	{"<BT>", "-...-", Prosign, "break"},
	{"<CT>", "-.-.-", Prosign, "start copying"},
	{"<DO>", "-..---", Prosign, "change to Wabun code"},
	{"<KA>", "-.-.-.", Prosign, "invitation to transmit"},
	{"<KN>", "-.--.", Prosign, "invitation to a specific station"},
	{"<SK>", "...-.-", Prosign, "end of contact"},
	{"<SN>", "...-.", Prosign, "understood"},
	{"<SOS>", "...---...", Prosign, "distress"},
	{"<ERR>", ErrorPattern, Prosign, "erroneous transmission"},
}

var (
	byPattern = make(map[string]Entry, len(table))
	bySymbol  = make(map[string]string, len(table))
	// entries that share a pattern with an earlier one
	shadowed = make(map[string]Entry)
)

func init() {
	for _, e := range table {
		if _, ok := byPattern[e.Pattern]; ok {
			shadowed[e.Pattern] = e
		} else {
			byPattern[e.Pattern] = e
		}
		bySymbol[e.Symbol] = e.Pattern
	}
}

// Lookup decodes a dot/dash pattern.
func Lookup(pattern string) (Entry, bool) {
	e, ok := byPattern[pattern]
	return e, ok
}

// Alias returns the entry that shares pattern with the one Lookup decodes
// it to, such as "<AR>" for ".-.-.".
func Alias(pattern string) (Entry, bool) {
	e, ok := shadowed[pattern]
	return e, ok
}

// PatternFor returns the pattern for a symbol. Letters are case-insensitive;
// prosigns are given with their brackets ("<SK>").
func PatternFor(symbol string) (string, bool) {
	p, ok := bySymbol[strings.ToUpper(symbol)]
	return p, ok
}

// Table returns a copy of the code table in display order.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Kinds converts a dot/dash pattern into element kinds.
// Characters other than '.' and '-' are ignored.
func Kinds(pattern string) []ElementKind {
	out := make([]ElementKind, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '.':
			out = append(out, Dot)
		case '-':
			out = append(out, Dash)
		}
	}
	return out
}
