// internal/cw/classifier.go
package cw

import "time"

// Classify turns one completed key-down interval into an element.
//
// Durations under the noise floor are contact bounce and yield ok=false.
// Below the dit/dah boundary is a dot; at or above it is a dash. There is no
// upper limit: a very long press is still a dash.
func Classify(press, release time.Time, p Params) (el Element, ok bool) {
	d := release.Sub(press)
	if d <= 0 || d < p.NoiseFloor() {
		return Element{}, false
	}
	kind := Dot
	if d >= p.DitDahBoundary() {
		kind = Dash
	}
	return Element{Kind: kind, Start: press, Duration: d}, true
}
