package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

func newTestRenderer(t *testing.T) renderer.Renderer {
	t.Helper()
	dev, err := device.NewDevice(device.WithArenaSize(8<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	r, err := renderer.NewRenderer(dev, 4, 4)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(r.Release)
	return r
}

func loadPlane(t *testing.T, r renderer.Renderer) camera.Camera {
	t.Helper()
	ground, err := model.NewModel(r.Device(), model.WithName("ground"), model.WithMesh(model.PlaneMesh(10)))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	s := scene.NewScene("plane", scene.WithModel(ground, common.Identity4()))
	t.Cleanup(s.Release)
	cam := camera.NewCamera(
		camera.WithAspect(1),
		camera.WithController(camera.NewOrbitController(camera.WithRadius(4))),
	)
	if err := r.Load(s, cam); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return cam
}

func TestNewEngineRequiresRenderer(t *testing.T) {
	if _, err := NewEngine(); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("expected ErrNoRenderer; got %v", err)
	}
}

func TestHandleKeyToggles(t *testing.T) {
	r := newTestRenderer(t)
	e, err := NewEngine(WithRenderer(r))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	e.HandleKey(common.KeySpace)
	if r.RaytracingEnabled() {
		t.Errorf("expected space to disable ray tracing")
	}
	e.HandleKey(common.KeySpace)
	if !r.RaytracingEnabled() {
		t.Errorf("expected a second space to enable ray tracing")
	}

	paused := r.Pipeline().AnimationPaused()
	e.HandleKey(common.KeyP)
	if r.Pipeline().AnimationPaused() == paused {
		t.Errorf("expected P to toggle the light animation")
	}

	e.HandleKey(common.KeyD)
	if r.DenoiseEnabled() {
		t.Errorf("expected D to disable denoising")
	}
	e.HandleKey('Q')
	if r.DenoiseEnabled() || !r.RaytracingEnabled() {
		t.Errorf("expected an unbound key to change nothing")
	}
}

func TestHandleKeyRestartsAccumulation(t *testing.T) {
	dev, err := device.NewDevice(device.WithArenaSize(8<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	r, err := renderer.NewRenderer(dev, 4, 4, renderer.WithProgressive(true))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(r.Release)
	loadPlane(t, r)
	e, err := NewEngine(WithRenderer(r))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	for i := range 3 {
		if err := e.RenderFrame(float32(i)); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}
	if got := r.Pipeline().AccumulatedFrames(); got != 3 {
		t.Fatalf("AccumulatedFrames() = %d, want 3", got)
	}
	e.HandleKey(common.KeyR)
	if err := e.RenderFrame(3); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if got := r.Pipeline().AccumulatedFrames(); got != 1 {
		t.Errorf("AccumulatedFrames() = %d, want 1 after R", got)
	}
}

func TestRenderFrameProfilesSections(t *testing.T) {
	r := newTestRenderer(t)
	loadPlane(t, r)
	p := profiler.NewProfiler(profiler.WithInterval(0), profiler.WithMemoryStats(false))
	e, err := NewEngine(WithRenderer(r), WithProfiler(p))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	if err := e.RenderFrame(0); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if r.FrameCount() != 1 {
		t.Errorf("FrameCount() = %d, want 1", r.FrameCount())
	}
	time.Sleep(time.Millisecond)
	if !p.Tick() {
		t.Fatalf("expected a report with a zero interval")
	}
	s := p.Stats()
	for _, section := range []string{"update", "render", "present"} {
		if _, ok := s.Sections[section]; !ok {
			t.Errorf("expected section %q in %v", section, s.Sections)
		}
	}
	if s.RaysPerSecond <= 0 {
		t.Errorf("RaysPerSecond = %v, want > 0", s.RaysPerSecond)
	}
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	r := newTestRenderer(t)
	cam := loadPlane(t, r)
	e, err := NewEngine(WithRenderer(r), WithCamera(cam), WithMaxFrames(3), WithTickRate(1000))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := e.Run(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if r.FrameCount() != 3 {
		t.Errorf("FrameCount() = %d, want 3", r.FrameCount())
	}
	if e.Camera() != cam {
		t.Errorf("expected Camera() to return the configured camera")
	}
}

func TestRunReportsFrameErrors(t *testing.T) {
	r := newTestRenderer(t)
	e, err := NewEngine(WithRenderer(r))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := e.Run(); !errors.Is(err, renderer.ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded; got %v", err)
	}
	e.Quit()
}
