// internal/script/script_test.go
package script

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var testAssign = map[string]cw.Paddle{
	"Z":     cw.PaddleDot,
	"x":     cw.PaddleDash,
	"space": cw.PaddleStraight,
}

const sosScript = `
name: sos
wpm: 20
mode: straight
expect: SOS
events:
  - {at: 0ms, key: space, hold: 60ms}
  - {at: 120ms, key: space, hold: 60ms}
  - {at: 240ms, key: space, hold: 60ms}
  - {at: 480ms, paddle: straight, edge: press}
  - {at: 660ms, paddle: straight, edge: release}
`

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader(sosScript))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Name != "sos" || s.WPM != 20 || s.Mode != "straight" || s.Expect != "SOS" {
		t.Errorf("header = %+v", s)
	}
	if len(s.Steps) != 5 {
		t.Fatalf("len(Steps) = %d, want 5", len(s.Steps))
	}
	if s.Steps[1].At != 120*time.Millisecond || s.Steps[1].Hold != 60*time.Millisecond {
		t.Errorf("step 1 = %+v", s.Steps[1])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"empty document", "", ErrNoEvents},
		{"no events", "name: x\n", ErrNoEvents},
		{"unknown field", "events:\n  - {at: 0ms, paddle: dot, edge: press, colour: red}\n", nil},
		{"bad duration", "events:\n  - {at: soon, paddle: dot, edge: press}\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	s, err := Parse(strings.NewReader(sosScript))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	events, err := s.Events(testStart, testAssign)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 8 {
		t.Fatalf("len(events) = %d, want 8", len(events))
	}

	first, last := events[0], events[len(events)-1]
	if first.Edge != cw.Press || first.Paddle != cw.PaddleStraight || !first.At.Equal(testStart) {
		t.Errorf("first = %+v", first)
	}
	if last.Edge != cw.Release || !last.At.Equal(testStart.Add(660*time.Millisecond)) {
		t.Errorf("last = %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].At.Before(events[i-1].At) {
			t.Errorf("event %d out of order", i)
		}
	}
}

func TestEvents_SortsOverlappingHolds(t *testing.T) {
	s := &Script{Steps: []Step{
		{At: 0, Key: "z", Hold: 200 * time.Millisecond},
		{At: 50 * time.Millisecond, Key: "X", Hold: 50 * time.Millisecond},
	}}
	events, err := s.Events(testStart, testAssign)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	want := []struct {
		edge   cw.Edge
		paddle cw.Paddle
		at     time.Duration
	}{
		{cw.Press, cw.PaddleDot, 0},
		{cw.Press, cw.PaddleDash, 50 * time.Millisecond},
		{cw.Release, cw.PaddleDash, 100 * time.Millisecond},
		{cw.Release, cw.PaddleDot, 200 * time.Millisecond},
	}
	for i, w := range want {
		ev := events[i]
		if ev.Edge != w.edge || ev.Paddle != w.paddle || !ev.At.Equal(testStart.Add(w.at)) {
			t.Errorf("event %d = %v %v at %v, want %v %v at %v",
				i, ev.Paddle, ev.Edge, ev.At.Sub(testStart), w.paddle, w.edge, w.at)
		}
	}
}

func TestEvents_Errors(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want error
	}{
		{"unassigned key", Step{Key: "q", Edge: "press"}, ErrUnassignedKey},
		{"no contact", Step{Edge: "press"}, ErrInvalidStep},
		{"key and paddle", Step{Key: "z", Paddle: "dot", Edge: "press"}, ErrInvalidStep},
		{"bad edge", Step{Paddle: "dot", Edge: "sideways"}, ErrInvalidStep},
		{"hold with edge", Step{Paddle: "dot", Edge: "press", Hold: time.Millisecond}, ErrInvalidStep},
		{"negative time", Step{At: -time.Millisecond, Paddle: "dot", Edge: "press"}, ErrInvalidStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Script{Steps: []Step{tt.step}}
			if _, err := s.Events(testStart, testAssign); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	events := []cw.KeyEvent{
		{Edge: cw.Press, Paddle: cw.PaddleDash, At: testStart.Add(time.Second)},
		{Edge: cw.Release, Paddle: cw.PaddleDash, At: testStart.Add(time.Second + 180*time.Millisecond)},
	}
	s := FromEvents(events)
	s.Name = "t"

	if err := Save(fs, "/t.yaml", s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(fs, "/t.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, err := loaded.Events(testStart, nil)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(got) != 2 || !got[0].At.Equal(testStart) || got[1].At.Sub(got[0].At) != 180*time.Millisecond {
		t.Errorf("events = %+v", got)
	}
	if got[0].Paddle != cw.PaddleDash || got[1].Edge != cw.Release {
		t.Errorf("events = %+v", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "/none.yaml"); err == nil {
		t.Error("Load() error = nil, want error")
	}
}
