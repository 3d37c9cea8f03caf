// internal/cw/transcript.go
package cw

import (
	"context"
	"strings"
	"sync"
)

// Transcript is the append-only decoded text of a session. Writers never
// block; readers poll with Since or wait with Next.
type Transcript struct {
	mu      sync.Mutex
	entries []DecodedOutput
	notify  chan struct{}
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{notify: make(chan struct{})}
}

// Append adds an output and wakes any waiting readers.
func (t *Transcript) Append(out DecodedOutput) {
	t.mu.Lock()
	t.entries = append(t.entries, out)
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

// Len returns the number of outputs so far.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Since returns the outputs after cursor and the new cursor.
func (t *Transcript) Since(cursor int) ([]DecodedOutput, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(t.entries) {
		return nil, len(t.entries)
	}
	out := make([]DecodedOutput, len(t.entries)-cursor)
	copy(out, t.entries[cursor:])
	return out, len(t.entries)
}

// Next blocks until an output exists at cursor, or ctx is done.
func (t *Transcript) Next(ctx context.Context, cursor int) (DecodedOutput, error) {
	for {
		t.mu.Lock()
		if cursor < len(t.entries) {
			out := t.entries[cursor]
			t.mu.Unlock()
			return out, nil
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return DecodedOutput{}, ctx.Err()
		}
	}
}

// String joins all decoded text.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, e := range t.entries {
		b.WriteString(e.Text)
	}
	return b.String()
}
