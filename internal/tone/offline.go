// internal/tone/offline.go
package tone

import (
	"github.com/ColonelBlimp/cwkeyer/internal/cw"
)

const (
	offlineQueueSize = 256
	offlineBlock     = 512
)

// RenderSchedule renders a whole schedule to mono samples without an audio
// device. The output starts at s.Start and runs until the last release ramp
// has finished. Lookahead in cfg is ignored.
func RenderSchedule(s cw.Schedule, cfg RendererConfig) ([]float32, error) {
	q, err := NewQueue(offlineQueueSize)
	if err != nil {
		return nil, err
	}
	sched := NewScheduler(q)

	cfg.Lookahead = 0
	r, err := NewRenderer(cfg, q, sched.Epoch())
	if err != nil {
		return nil, err
	}
	r.Start(s.Start)

	span := s.End.Sub(s.Start) + cfg.Ramp
	if span < 0 {
		span = 0
	}
	total := int(span.Seconds()*float64(cfg.SampleRate)) + 1
	out := make([]float32, total)

	sched.ScheduleAll(s.Elements)
	for off := 0; off < total; off += offlineBlock {
		sched.Pump()
		end := off + offlineBlock
		if end > total {
			end = total
		}
		r.Render(out[off:end])
	}
	return out, nil
}
