// internal/keyer/straight.go
package keyer

import (
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

// Straight tracks a single-contact key. The operator times every element;
// the key-down interval is classified on release.
type Straight struct {
	down      bool
	pressedAt time.Time
}

// Press records key-down. It reports false if the key was already down.
func (s *Straight) Press(at time.Time) bool {
	if s.down {
		return false
	}
	s.down = true
	s.pressedAt = at
	return true
}

// Release records key-up and classifies the interval. ok is false for a
// release without a press or for bounce under the noise floor.
func (s *Straight) Release(at time.Time, p cw.Params) (cw.Element, bool) {
	if !s.down {
		return cw.Element{}, false
	}
	s.down = false
	return cw.Classify(s.pressedAt, at, p)
}

// Down reports whether the key is currently closed.
func (s *Straight) Down() bool { return s.down }

// PressedAt returns when the key closed; valid while Down.
func (s *Straight) PressedAt() time.Time { return s.pressedAt }

// Reset forgets any key-down in progress.
func (s *Straight) Reset() {
	s.down = false
	s.pressedAt = time.Time{}
}
