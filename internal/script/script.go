// internal/script/script.go
// Package script loads recorded key-event sequences from YAML so they can
// be replayed through the keying pipeline.
//
// A script looks like:
//
//	name: sos straight key
//	wpm: 20
//	mode: straight
//	expect: SOS
//	events:
//	  - {at: 0ms, key: space, hold: 60ms}
//	  - {at: 120ms, paddle: straight, edge: press}
//	  - {at: 180ms, paddle: straight, edge: release}
//
// Each step names its contact either by paddle or by key; keys are mapped
// through the paddle assignment. A step with hold expands to a press at
// "at" and a release hold later.
package script

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.yaml.in/yaml/v3"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

var (
	// ErrNoEvents indicates the script contains no steps
	ErrNoEvents = errors.New("script has no events")
	// ErrUnassignedKey indicates a key with no paddle assignment
	ErrUnassignedKey = errors.New("key has no paddle assignment")
	// ErrInvalidStep indicates a malformed step
	ErrInvalidStep = errors.New("invalid script step")
)

// Script is a recorded keying session.
type Script struct {
	Name string `yaml:"name,omitempty"`
	// WPM and Mode override the configured values when set
	WPM  int    `yaml:"wpm,omitempty"`
	Mode string `yaml:"mode,omitempty"`
	// Expect is the text the replay should decode to, if known
	Expect string `yaml:"expect,omitempty"`
	Steps  []Step `yaml:"events"`
}

// Step is one scripted key action, timed from the start of the script.
type Step struct {
	At     time.Duration `yaml:"at"`
	Key    string        `yaml:"key,omitempty"`
	Paddle string        `yaml:"paddle,omitempty"`
	Edge   string        `yaml:"edge,omitempty"`
	Hold   time.Duration `yaml:"hold,omitempty"`
}

// Load reads a script from fs.
func Load(fs afero.Fs, path string) (*Script, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a script. Unknown fields are rejected so typos surface
// instead of silently changing the replay.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoEvents
		}
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, ErrNoEvents
	}
	return &s, nil
}

// Save writes s to path on fs.
func Save(fs afero.Fs, path string, s *Script) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

// Events expands the script into key events starting at start, sorted by
// time. assign maps key names to paddles; key names compare
// case-insensitively.
func (s *Script) Events(start time.Time, assign map[string]cw.Paddle) ([]cw.KeyEvent, error) {
	lookup := make(map[string]cw.Paddle, len(assign))
	for k, p := range assign {
		lookup[strings.ToLower(k)] = p
	}

	events := make([]cw.KeyEvent, 0, 2*len(s.Steps))
	for i, st := range s.Steps {
		paddle, err := st.paddle(lookup)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if st.At < 0 {
			return nil, fmt.Errorf("step %d: %w: negative time %v", i, ErrInvalidStep, st.At)
		}
		at := start.Add(st.At)

		if st.Hold > 0 {
			if st.Edge != "" {
				return nil, fmt.Errorf("step %d: %w: hold and edge are exclusive", i, ErrInvalidStep)
			}
			events = append(events,
				cw.KeyEvent{Edge: cw.Press, Paddle: paddle, At: at},
				cw.KeyEvent{Edge: cw.Release, Paddle: paddle, At: at.Add(st.Hold)})
			continue
		}

		edge, err := parseEdge(st.Edge)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		events = append(events, cw.KeyEvent{Edge: edge, Paddle: paddle, At: at})
	}

	slices.SortStableFunc(events, func(a, b cw.KeyEvent) int {
		return a.At.Compare(b.At)
	})
	return events, nil
}

func (st Step) paddle(assign map[string]cw.Paddle) (cw.Paddle, error) {
	switch {
	case st.Paddle != "" && st.Key != "":
		return 0, fmt.Errorf("%w: paddle and key are exclusive", ErrInvalidStep)
	case st.Paddle != "":
		return cw.ParsePaddle(st.Paddle)
	case st.Key != "":
		p, ok := assign[strings.ToLower(st.Key)]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnassignedKey, st.Key)
		}
		return p, nil
	}
	return 0, fmt.Errorf("%w: needs a paddle or a key", ErrInvalidStep)
}

func parseEdge(s string) (cw.Edge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "press", "down":
		return cw.Press, nil
	case "release", "up":
		return cw.Release, nil
	}
	return 0, fmt.Errorf("%w: edge must be press or release, got %q", ErrInvalidStep, s)
}

// FromEvents records events as a script with times relative to the first
// event.
func FromEvents(events []cw.KeyEvent) *Script {
	s := &Script{}
	if len(events) == 0 {
		return s
	}
	base := events[0].At
	for _, ev := range events {
		s.Steps = append(s.Steps, Step{
			At:     ev.At.Sub(base),
			Paddle: ev.Paddle.String(),
			Edge:   ev.Edge.String(),
		})
	}
	return s
}
