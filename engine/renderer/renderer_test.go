package renderer

import (
	"errors"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	dev, err := device.NewDevice(device.WithArenaSize(8<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	return dev
}

func newTestContext(t *testing.T) *raytracing.Context {
	t.Helper()
	ctx, err := raytracing.NewContext(newTestDevice(t))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(ctx.Release)
	return ctx
}

func newTestRenderer(t *testing.T, options ...RendererBuilderOption) Renderer {
	t.Helper()
	r, err := NewRenderer(newTestDevice(t), 4, 4, options...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(r.Release)
	return r
}

func loadPlane(t *testing.T, r Renderer) {
	t.Helper()
	ground, err := model.NewModel(r.Device(), model.WithName("ground"), model.WithMesh(model.PlaneMesh(10)))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	s := scene.NewScene("plane", scene.WithModel(ground, common.Identity4()))
	t.Cleanup(s.Release)
	cam := camera.NewCamera(camera.WithPosition(common.Vec3{0, 3, 3}), camera.WithAspect(1))
	if err := r.Load(s, cam); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 2e-3
}

func TestUploadBatch(t *testing.T) {
	ctx := newTestContext(t)
	b := NewUploadBatch(ctx)
	data := common.TextureStagingData{
		Label:  "checker",
		Pixels: []byte{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 255, 255, 255, 255, 255},
		Width:  2,
		Height: 2,
	}

	if _, err := b.Upload(data); !errors.Is(err, ErrBatchNotOpen) {
		t.Errorf("expected ErrBatchNotOpen; got %v", err)
	}
	if err := b.End(); !errors.Is(err, ErrBatchNotOpen) {
		t.Errorf("expected ErrBatchNotOpen; got %v", err)
	}
	if err := b.Begin(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.Begin(); !errors.Is(err, ErrBatchAlreadyOpen) {
		t.Errorf("expected ErrBatchAlreadyOpen; got %v", err)
	}

	short := data
	short.Pixels = data.Pixels[:8]
	if _, err := b.Upload(short); err == nil {
		t.Errorf("expected an error for a short pixel buffer; got nil")
	}
	cube := data
	cube.Cube = true
	if _, err := b.Upload(cube); err == nil {
		t.Errorf("expected an error for a cube with one face; got nil")
	}

	tex, err := b.Upload(data)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.End(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	got, err := ctx.Device().ReadTexture(tex)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	want := []float32{1, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1, 1, 1, 1, 1, 1}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Errorf("texel value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDenoiseCompositorTonemapsUniformInput(t *testing.T) {
	ctx := newTestContext(t)
	c, err := NewDenoiseCompositor(ctx, device.TextureFormatRGBA16Float)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer c.Release()

	if c.Constants() != DefaultDenoiseConstants() || !c.Active() {
		t.Errorf("Constants(), Active() = %+v, %v, want the defaults and true", c.Constants(), c.Active())
	}
	if err := c.Dispatch(nil, 4, 4); err == nil {
		t.Errorf("expected an error before CreateOutputResources; got nil")
	}
	if err := c.CreateOutputResources(4, 4); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	input, err := ctx.Device().CreateTexture(device.TextureDescriptor{
		Label:  "input",
		Width:  4,
		Height: 4,
		Format: device.TextureFormatRGBA16Float,
		Usage:  device.TextureUsageStorage | device.TextureUsageSampled,
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer input.Release()

	ctx.ClearTexture(input, [4]float32{1, 1, 1, 1})
	if err := c.Dispatch(input, 4, 4); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := ctx.ExecuteCommandList(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	got, err := ctx.Device().ReadTexture(c.Output())
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i, v := range got {
		want := float32(0.5)
		if i%4 == 3 {
			want = 1
		}
		if !near(v, want) {
			t.Fatalf("output value %d = %v, want %v", i, v, want)
		}
	}
}

func TestDenoiseCompositorInactive(t *testing.T) {
	ctx := newTestContext(t)
	c, err := NewDenoiseCompositor(ctx, device.TextureFormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer c.Release()

	c.SetActive(false)
	if err := c.Dispatch(nil, 4, 4); err != nil {
		t.Errorf("expected an inactive compositor to record nothing; got %v", err)
	}
	if _, err := NewDenoiseCompositor(ctx, device.TextureFormatBGRA8Unorm); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat; got %v", err)
	}
}

func TestDenoiseCompositorReusesSlots(t *testing.T) {
	ctx := newTestContext(t)
	c, err := NewDenoiseCompositor(ctx, device.TextureFormatRGBA16Float)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer c.Release()

	if err := c.CreateOutputResources(8, 8); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	first := [2]raytracing.DescriptorHandle{c.OutputSRVHandle(0), c.OutputSRVHandle(1)}
	if err := c.CreateOutputResources(2, 2); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i := range first {
		if c.OutputSRVHandle(i) != first[i] {
			t.Errorf("OutputSRVHandle(%d) = %v, want %v", i, c.OutputSRVHandle(i), first[i])
		}
	}
	if c.Output().Width() != 2 {
		t.Errorf("Output().Width() = %d, want 2", c.Output().Width())
	}
}

func TestRendererRequiresLoad(t *testing.T) {
	r := newTestRenderer(t)
	if err := r.Update(0); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded; got %v", err)
	}
	if err := r.Render(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded; got %v", err)
	}
}

func TestRendererBypassClearsOutput(t *testing.T) {
	r := newTestRenderer(t, WithRaytracing(false), WithDenoise(false))
	loadPlane(t, r)

	if r.RaytracingEnabled() || r.DenoiseEnabled() {
		t.Fatalf("expected ray tracing and denoising off")
	}
	if err := r.Update(0); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := r.Render(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	got, err := r.Device().ReadTexture(r.Output())
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i, v := range got {
		if !near(v, BypassColor[i%4]) {
			t.Fatalf("output value %d = %v, want %v", i, v, BypassColor[i%4])
		}
	}
	if err := r.Present(); err != nil {
		t.Errorf("expected no error; got %v", err)
	}
}

func TestRendererRendersFrames(t *testing.T) {
	r := newTestRenderer(t, WithDescriptorHeapSize(64))
	loadPlane(t, r)

	for frame := 0; frame < 2; frame++ {
		if err := r.Update(float32(frame) / 60); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		if err := r.Render(); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}
	if r.FrameCount() != 2 {
		t.Errorf("FrameCount() = %d, want 2", r.FrameCount())
	}
	if r.Output() != r.Compositor().Output() {
		t.Errorf("expected the compositor output while denoising")
	}

	got, err := r.Device().ReadTexture(r.Output())
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i, v := range got {
		if math.IsNaN(float64(v)) || v < 0 || v > 1 {
			t.Fatalf("output value %d = %v, want a tonemapped value in [0, 1]", i, v)
		}
	}

	r.SetDenoiseEnabled(false)
	if r.Output() == r.Compositor().Output() {
		t.Errorf("expected the raw color output once denoising is off")
	}
}

func TestRendererResizeReusesSlots(t *testing.T) {
	r := newTestRenderer(t)
	uav := r.Pipeline().OutputUAVHandle(0)
	srv := r.Compositor().OutputSRVHandle(1)

	if err := r.Resize(8, 2); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if w, h := r.Size(); w != 8 || h != 2 {
		t.Errorf("Size() = %d, %d, want 8, 2", w, h)
	}
	if r.Pipeline().OutputUAVHandle(0) != uav || r.Compositor().OutputSRVHandle(1) != srv {
		t.Errorf("expected the resized outputs to keep their heap slots")
	}
	if err := r.Resize(0, 0); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if w, h := r.Size(); w != 1 || h != 1 {
		t.Errorf("Size() = %d, %d, want 1, 1", w, h)
	}
}
