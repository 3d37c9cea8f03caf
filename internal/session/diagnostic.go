// internal/session/diagnostic.go
package session

import (
	"fmt"
	"time"
)

// DiagnosticKind classifies a non-fatal session event.
type DiagnosticKind int

const (
	// OutOfOrderEvent: a key event was not newer than its predecessor and was dropped
	OutOfOrderEvent DiagnosticKind = iota
	// InputDropped: the input channel was full
	InputDropped
	// InvalidConfig: a setting change was rejected, the previous value stays
	InvalidConfig
	// UnknownSymbol: the decoder produced the unknown symbol
	UnknownSymbol
	// AudioUnderrun: a tone change reached the renderer after its instant
	AudioUnderrun
	// SpacingHint: a common word was keyed with misleading spacing
	SpacingHint
	// EncoderWarning: text contained a character with no pattern
	EncoderWarning
)

func (k DiagnosticKind) String() string {
	switch k {
	case OutOfOrderEvent:
		return "out_of_order_event"
	case InputDropped:
		return "input_dropped"
	case InvalidConfig:
		return "invalid_config"
	case UnknownSymbol:
		return "unknown_symbol"
	case AudioUnderrun:
		return "audio_underrun"
	case SpacingHint:
		return "spacing_hint"
	case EncoderWarning:
		return "encoder_warning"
	}
	return fmt.Sprintf("diagnostic(%d)", int(k))
}

// Diagnostic is published on the session's diagnostics channel. None of
// them end the session.
type Diagnostic struct {
	Kind   DiagnosticKind
	At     time.Time
	Err    error
	Detail string
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %v", d.Kind, d.Err)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
}
