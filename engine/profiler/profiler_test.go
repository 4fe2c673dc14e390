package profiler

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProfilerReportsAfterInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithClock(clock.now), WithMemoryStats(false))

	for frame := 0; frame < 4; frame++ {
		stop := p.Measure("render")
		clock.advance(100 * time.Millisecond)
		stop()
		p.AddRays(1000)
		clock.advance(100 * time.Millisecond)
		if p.Tick() {
			t.Fatalf("expected no report before one second; reported at frame %d", frame)
		}
	}

	clock.advance(200 * time.Millisecond)
	if !p.Tick() {
		t.Fatalf("expected a report after one second")
	}
	s := p.Stats()
	if s.FPS != 5 {
		t.Errorf("FPS = %v, want 5", s.FPS)
	}
	if s.FrameTime != 200*time.Millisecond {
		t.Errorf("FrameTime = %v, want 200ms", s.FrameTime)
	}
	if s.RaysPerSecond != 4000 {
		t.Errorf("RaysPerSecond = %v, want 4000", s.RaysPerSecond)
	}
	if got := s.Sections["render"]; got != 80*time.Millisecond {
		t.Errorf("Sections[render] = %v, want 80ms", got)
	}

	if p.Tick() {
		t.Errorf("expected the interval to restart after a report")
	}
}

func TestProfilerStatsZeroBeforeReport(t *testing.T) {
	p := NewProfiler(WithInterval(time.Hour))
	if p.Tick() {
		t.Fatalf("expected no report within the interval")
	}
	if s := p.Stats(); s.FPS != 0 || s.Sections != nil {
		t.Errorf("Stats() = %+v, want the zero value", s)
	}
}
