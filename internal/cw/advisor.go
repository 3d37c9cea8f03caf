// internal/cw/advisor.go
package cw

import (
	"strings"
	"sync"
)

// Pattern advisor defaults
const (
	// MaxRecordBuffer is the maximum number of element records kept
	MaxRecordBuffer = 50
	// MinPatternConfidence is the minimum break alignment for a match (0.0-1.0)
	MinPatternConfidence = 0.7
	// MinMatchesForHint is how many matches of a word before a gap suggestion is made
	MinMatchesForHint = 3
)

// ElementRecord is one element with the silence that followed it.
type ElementRecord struct {
	IsDah     bool
	GapUnits  float64 // silence after the element, in dit units
	IsCharEnd bool    // the decoder ended a character after this element
	IsWordEnd bool    // the decoder ended a word after this element
}

// MorsePattern represents a known multi-character word.
type MorsePattern struct {
	Text     string // the word, e.g. "CQ"
	Elements []bool // false=dit, true=dah
	Breaks   []int  // element indices after which a character ends
	Priority int    // higher wins ties
}

// CommonPatterns are words every operator keys constantly; a mis-spaced
// rendition of one is a strong hint about the operator's character gap.
var CommonPatterns = []MorsePattern{
	// CQ = -.-. --.-
	{Text: "CQ", Elements: []bool{true, false, true, false, true, true, false, true}, Breaks: []int{3}, Priority: 10},
	// DE = -.. .
	{Text: "DE", Elements: []bool{true, false, false, false}, Breaks: []int{2}, Priority: 10},
	// 73 = --... ...--
	{Text: "73", Elements: []bool{true, true, false, false, false, false, false, false, true, true}, Breaks: []int{4}, Priority: 9},
	// 5NN = ..... -. -.
	{Text: "5NN", Elements: []bool{false, false, false, false, false, true, false, true, false}, Breaks: []int{4, 6}, Priority: 9},
	// QTH = --.- - ....
	{Text: "QTH", Elements: []bool{true, true, false, true, true, false, false, false, false}, Breaks: []int{3, 4}, Priority: 7},
	// QRZ = --.- .-. --..
	{Text: "QRZ", Elements: []bool{true, true, false, true, false, true, false, true, true, false, false}, Breaks: []int{3, 6}, Priority: 7},
	// QSO = --.- ... ---
	{Text: "QSO", Elements: []bool{true, true, false, true, false, false, false, true, true, true}, Breaks: []int{3, 6}, Priority: 7},
	// QSL = --.- ... .-..
	{Text: "QSL", Elements: []bool{true, true, false, true, false, false, false, false, true, false, false}, Breaks: []int{3, 6}, Priority: 7},
	// TU = - ..-
	{Text: "TU", Elements: []bool{true, false, false, true}, Breaks: []int{0}, Priority: 8},
	// GM = --. --
	{Text: "GM", Elements: []bool{true, true, false, true, true}, Breaks: []int{2}, Priority: 7},
	// UR = ..- .-.
	{Text: "UR", Elements: []bool{false, false, true, false, true, false}, Breaks: []int{2}, Priority: 6},
	// FB = ..-. -...
	{Text: "FB", Elements: []bool{false, false, true, false, true, false, false, false}, Breaks: []int{3}, Priority: 6},
	// HR = .... .-.
	{Text: "HR", Elements: []bool{false, false, false, false, false, true, false}, Breaks: []int{3}, Priority: 5},
}

// SpacingHint is reported when a keyed word matches a common pattern.
type SpacingHint struct {
	// Original is what the decoder produced with the operator's spacing
	Original string
	// Corrected is the matched word
	Corrected string
	// Confidence is the fraction of expected character breaks the decoder found
	Confidence float64
	// SuggestedCharGap is a char gap threshold (in units) that separates this
	// operator's intra- and inter-character gaps; 0 when no suggestion
	SuggestedCharGap float64
	// Matches is how many times this word has been seen
	Matches int
}

// Misspaced reports whether the decoder split the word differently.
func (h SpacingHint) Misspaced() bool {
	return h.Original != h.Corrected
}

// HintCallback receives spacing hints.
type HintCallback func(hint SpacingHint)

// AdvisorConfig holds configuration for the pattern advisor.
type AdvisorConfig struct {
	// MinConfidence is the minimum break alignment to report a match
	MinConfidence float64
	// MinMatches is how many matches before SuggestedCharGap is filled in
	MinMatches int
}

// PatternAdvisor watches element spacing and matches complete words
// against CommonPatterns.
type PatternAdvisor struct {
	config AdvisorConfig

	mu      sync.Mutex
	records []ElementRecord
	matches map[string]int

	callback HintCallback
}

// NewPatternAdvisor creates an advisor; zero config fields take defaults.
func NewPatternAdvisor(cfg AdvisorConfig) *PatternAdvisor {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = MinPatternConfidence
	}
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = MinMatchesForHint
	}
	return &PatternAdvisor{
		config:  cfg,
		records: make([]ElementRecord, 0, MaxRecordBuffer),
		matches: make(map[string]int),
	}
}

// SetCallback sets the hint callback.
func (a *PatternAdvisor) SetCallback(cb HintCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = cb
}

// RecordElement appends a record; at a word end the word is matched.
func (a *PatternAdvisor) RecordElement(rec ElementRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, rec)
	if len(a.records) > MaxRecordBuffer {
		a.records = a.records[len(a.records)-MaxRecordBuffer:]
	}
	if !rec.IsWordEnd {
		return
	}

	word := a.records
	for i := len(a.records) - 2; i >= 0; i-- {
		if a.records[i].IsWordEnd {
			word = a.records[i+1:]
			break
		}
	}
	a.checkWord(word)
}

func (a *PatternAdvisor) checkWord(word []ElementRecord) {
	var best *MorsePattern
	bestConfidence := 0.0
	for i := range CommonPatterns {
		p := &CommonPatterns[i]
		c, ok := matchPattern(p, word)
		if !ok || c < a.config.MinConfidence {
			continue
		}
		if best == nil || c > bestConfidence || (c == bestConfidence && p.Priority > best.Priority) {
			best, bestConfidence = p, c
		}
	}
	if best == nil {
		return
	}

	a.matches[best.Text]++
	hint := SpacingHint{
		Original:   decodeRecords(word),
		Corrected:  best.Text,
		Confidence: bestConfidence,
		Matches:    a.matches[best.Text],
	}
	if hint.Matches >= a.config.MinMatches {
		hint.SuggestedCharGap = suggestedBoundary(best, word)
	}
	if a.callback != nil {
		a.callback(hint)
	}
}

// matchPattern requires identical elements and scores break alignment.
func matchPattern(p *MorsePattern, word []ElementRecord) (float64, bool) {
	if len(word) != len(p.Elements) {
		return 0, false
	}
	for i, isDah := range p.Elements {
		if word[i].IsDah != isDah {
			return 0, false
		}
	}
	if len(p.Breaks) == 0 {
		return 1, true
	}
	correct := 0
	for _, b := range p.Breaks {
		if word[b].IsCharEnd {
			correct++
		}
	}
	return float64(correct) / float64(len(p.Breaks)), true
}

// suggestedBoundary is the midpoint between the longest intra-character gap
// and the shortest inter-character gap, when they do not overlap.
func suggestedBoundary(p *MorsePattern, word []ElementRecord) float64 {
	isBreak := make(map[int]bool, len(p.Breaks))
	for _, b := range p.Breaks {
		isBreak[b] = true
	}
	maxIntra, minInter := 0.0, 0.0
	haveIntra, haveInter := false, false
	for i := 0; i < len(word)-1; i++ {
		g := word[i].GapUnits
		if isBreak[i] {
			if !haveInter || g < minInter {
				minInter = g
			}
			haveInter = true
		} else {
			if g > maxIntra {
				maxIntra = g
			}
			haveIntra = true
		}
	}
	if !haveIntra || !haveInter || minInter <= maxIntra {
		return 0
	}
	return (maxIntra + minInter) / 2
}

// decodeRecords rebuilds the text the decoder produced from the records.
func decodeRecords(word []ElementRecord) string {
	var out strings.Builder
	kinds := make([]ElementKind, 0, MaxSymbolElements)
	for i, r := range word {
		k := Dot
		if r.IsDah {
			k = Dash
		}
		kinds = append(kinds, k)
		if r.IsCharEnd || i == len(word)-1 {
			if e, ok := Lookup(PatternOf(kinds)); ok {
				out.WriteString(e.Symbol)
			} else {
				out.WriteString(UnknownSymbol)
			}
			kinds = kinds[:0]
		}
	}
	return out.String()
}

// MatchCounts returns how often each word has been matched.
func (a *PatternAdvisor) MatchCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[string]int, len(a.matches))
	for k, v := range a.matches {
		counts[k] = v
	}
	return counts
}

// Reset clears the record buffer and match counts.
func (a *PatternAdvisor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = a.records[:0]
	a.matches = make(map[string]int)
}
