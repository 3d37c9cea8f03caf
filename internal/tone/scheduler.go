// internal/tone/scheduler.go
package tone

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

// Scheduler is the producer side of the tone path. It converts elements
// and live key edges into tone changes and feeds them to the queue,
// holding back whatever does not fit, or lies beyond the window, until the
// next Pump.
type Scheduler struct {
	queue *Queue
	epoch atomic.Uint32

	// nil now hands every change over as soon as the queue has room
	now    func() time.Time
	window time.Duration

	mu      sync.Mutex
	pending []Change // time ordered, not yet in the queue
	lastOn  bool     // the last change pushed to the queue was an On
}

// NewScheduler creates a scheduler feeding q.
func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{queue: q}
}

// SetWindow limits the queue to changes due no later than now()+window.
// Later changes stay pending, so a live edge scheduled after a long
// playback is still ordered ahead of the playback's future changes.
func (s *Scheduler) SetWindow(now func() time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.window = window
}

// Queue returns the queue the renderer must consume.
func (s *Scheduler) Queue() *Queue { return s.queue }

// Epoch returns the cancellation epoch shared with the renderer.
func (s *Scheduler) Epoch() *atomic.Uint32 { return &s.epoch }

// Schedule queues the on/off pair for one element.
func (s *Scheduler) Schedule(el cw.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(el.Start, true)
	s.add(el.End(), false)
	s.pump()
}

// ScheduleAll queues every element of a schedule.
func (s *Scheduler) ScheduleAll(elements []cw.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range elements {
		s.add(el.Start, true)
		s.add(el.End(), false)
	}
	s.pump()
}

// KeyDown starts a live sidetone whose length is not yet known.
func (s *Scheduler) KeyDown(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(at, true)
	s.pump()
}

// KeyUp ends a live sidetone.
func (s *Scheduler) KeyUp(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(at, false)
	s.pump()
}

// Pump moves held-back changes into the queue and returns how many remain.
func (s *Scheduler) Pump() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pump()
	return len(s.pending)
}

// Pending returns the number of changes not yet handed to the renderer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cancel stops all future tone changes. A tone that has already started
// still gets its off change so it ends with a normal release ramp.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.epoch.Load()
	var keep *Change
	if s.lastOn {
		for i := range s.pending {
			if !s.pending[i].On {
				c := s.pending[i]
				keep = &c
				break
			}
		}
	}
	s.pending = s.pending[:0]
	if keep != nil {
		s.pending = append(s.pending, *keep)
	}
	s.epoch.Store(old + 1)
	s.pump()
}

func (s *Scheduler) add(at time.Time, on bool) {
	c := Change{At: at, On: on, Epoch: s.epoch.Load()}
	i := sort.Search(len(s.pending), func(i int) bool {
		return s.pending[i].At.After(at)
	})
	s.pending = append(s.pending, Change{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = c
}

func (s *Scheduler) pump() {
	var horizon time.Time
	if s.now != nil {
		horizon = s.now().Add(s.window)
	}
	n := 0
	for n < len(s.pending) {
		if s.now != nil && s.pending[n].At.After(horizon) {
			break
		}
		if !s.queue.Push(s.pending[n]) {
			break
		}
		s.lastOn = s.pending[n].On
		n++
	}
	if n > 0 {
		s.pending = append(s.pending[:0], s.pending[n:]...)
	}
}
