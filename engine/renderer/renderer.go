package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrOutputsMissing    = errors.New("output resources have not been created")
	ErrNotLoaded         = errors.New("renderer has no scene loaded")
)

// BypassColor is the clear color of the output while ray tracing is disabled.
var BypassColor = [4]float32{0.3, 0.2, 0.1, 1}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	dev        device.Device
	ctx        *raytracing.Context
	pipeline   pipeline.Pipeline
	compositor *DenoiseCompositor
	batch      *UploadBatch

	width, height uint32
	frame         uint32
	loaded        bool

	// Pre-creation config collected from builder options
	outputFormat    device.TextureFormat
	denoise         bool
	raytracing      bool
	heapSize        int
	progressive     bool
	pipelineOptions []pipeline.PipelineBuilderOption
}

// Renderer drives one ray-tracing pipeline and its denoise compositor on a device.
//
// This is a high-level API that hides the context, the shader table and the upload path
// behind a Load, Update, Render and Present flow. All methods are safe for concurrent use.
type Renderer interface {
	Device() device.Device
	Context() *raytracing.Context
	Pipeline() pipeline.Pipeline
	Compositor() *DenoiseCompositor
	Size() (width, height uint32)
	FrameCount() uint32

	// Load sets the scene and camera, builds the acceleration structures and uploads the
	// pipeline resources. It must run once before the first Render.
	//
	// Parameters:
	//   - s: the scene to render
	//   - c: the camera to render from
	//
	// Returns:
	//   - error: a shader table, build or upload error
	Load(s scene.Scene, c camera.Camera) error

	// Update writes the per-frame constants of the next frame.
	//
	// Parameters:
	//   - elapsed: seconds since start
	//
	// Returns:
	//   - error: ErrNotLoaded or a pipeline error
	Update(elapsed float32) error

	// Render records and executes one frame. With ray tracing enabled it traces the scene
	// and denoises the result; disabled, it clears the output to BypassColor.
	//
	// Returns:
	//   - error: ErrNotLoaded, a recording error or a submit error
	Render() error

	// Output returns the texture Present shows: the compositor output while denoising is
	// active, the raw color output otherwise.
	Output() device.Texture

	// Present shows the output on the device surface. It does nothing on the headless device.
	//
	// Returns:
	//   - error: a surface error
	Present() error

	// Resize recreates every output at the new size. Heap slots are reused.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: a surface, texture or heap error
	Resize(width, height uint32) error

	RaytracingEnabled() bool

	// SetRaytracingEnabled toggles between tracing and the bypass clear.
	//
	// Parameters:
	//   - enabled: true to trace rays
	SetRaytracingEnabled(enabled bool)

	DenoiseEnabled() bool

	// SetDenoiseEnabled toggles the compositor. The raw color output is shown while it is off.
	//
	// Parameters:
	//   - enabled: true to denoise
	SetDenoiseEnabled(enabled bool)

	// Release frees the pipeline, the compositor and the context. The device stays with
	// its owner.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates the context, the realtime pipeline and the compositor on dev, and
// sizes their outputs.
//
// Parameters:
//   - dev: the device to render on
//   - width: the output width in pixels
//   - height: the output height in pixels
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer, ready for Load
//   - error: an error if any component cannot be created
func NewRenderer(dev device.Device, width, height uint32, options ...RendererBuilderOption) (Renderer, error) {
	if dev == nil {
		panic("renderer: NewRenderer requires a device")
	}
	r := &renderer{
		mu:           &sync.Mutex{},
		dev:          dev,
		outputFormat: pipeline.OutputFormat,
		denoise:      true,
		raytracing:   true,
	}
	for _, opt := range options {
		opt(r)
	}

	var ctxOptions []raytracing.ContextBuilderOption
	if r.heapSize > 0 {
		ctxOptions = append(ctxOptions, raytracing.WithDescriptorHeapSize(r.heapSize))
	}
	ctx, err := raytracing.NewContext(dev, ctxOptions...)
	if err != nil {
		return nil, err
	}
	r.ctx = ctx
	r.batch = NewUploadBatch(ctx)

	newPipeline := pipeline.NewRealtimeRaytracingPipeline
	if r.progressive {
		newPipeline = pipeline.NewProgressiveRaytracingPipeline
	}
	if r.pipeline, err = newPipeline(ctx, r.pipelineOptions...); err != nil {
		r.Release()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	if r.compositor, err = NewDenoiseCompositor(ctx, r.outputFormat); err != nil {
		r.Release()
		return nil, err
	}
	r.compositor.SetActive(r.denoise)

	if err := r.resizeLocked(width, height); err != nil {
		r.Release()
		return nil, err
	}
	common.Logger().Info("renderer created", "backend", dev.BackendType(), "width", width, "height", height,
		"native", ctx.UsingNativeRaytracing())
	return r, nil
}

func (r *renderer) Device() device.Device          { return r.dev }
func (r *renderer) Context() *raytracing.Context   { return r.ctx }
func (r *renderer) Pipeline() pipeline.Pipeline    { return r.pipeline }
func (r *renderer) Compositor() *DenoiseCompositor { return r.compositor }

func (r *renderer) Size() (uint32, uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

func (r *renderer) FrameCount() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

func (r *renderer) RaytracingEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raytracing
}

func (r *renderer) SetRaytracingEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raytracing = enabled
	common.Logger().Debug("ray tracing toggled", "enabled", enabled)
}

func (r *renderer) DenoiseEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compositor.Active()
}

func (r *renderer) SetDenoiseEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compositor.SetActive(enabled)
}

func (r *renderer) Load(s scene.Scene, c camera.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pipeline.SetCamera(c)
	if err := r.pipeline.SetScene(s); err != nil {
		return err
	}
	if err := r.pipeline.BuildAccelerationStructures(); err != nil {
		return err
	}
	if err := r.pipeline.LoadResources(r.batch); err != nil {
		return err
	}
	r.loaded = true
	return nil
}

func (r *renderer) Update(elapsed float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return ErrNotLoaded
	}
	return r.pipeline.Update(elapsed, r.frame, r.width, r.height)
}

func (r *renderer) Render() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return ErrNotLoaded
	}
	if r.raytracing {
		if err := r.pipeline.Render(r.width, r.height); err != nil {
			return err
		}
		if err := r.compositor.Dispatch(r.pipeline.OutputTexture(pipeline.OutputColor), r.width, r.height); err != nil {
			return err
		}
	} else {
		out := r.outputLocked()
		if out == nil {
			return ErrOutputsMissing
		}
		r.ctx.ClearTexture(out, BypassColor)
	}
	if err := r.ctx.ExecuteCommandList(); err != nil {
		return err
	}
	r.frame++
	return nil
}

func (r *renderer) Output() device.Texture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputLocked()
}

func (r *renderer) outputLocked() device.Texture {
	if r.compositor.Active() {
		return r.compositor.Output()
	}
	return r.pipeline.OutputTexture(pipeline.OutputColor)
}

func (r *renderer) Present() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.outputLocked()
	if out == nil {
		return ErrOutputsMissing
	}
	return r.dev.Present(out)
}

func (r *renderer) Resize(width, height uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resizeLocked(width, height)
}

func (r *renderer) resizeLocked(width, height uint32) error {
	width, height = max(width, 1), max(height, 1)
	if err := r.dev.ConfigureSurface(width, height); err != nil {
		return err
	}
	if err := r.pipeline.CreateOutputResources(width, height); err != nil {
		return err
	}
	if err := r.compositor.CreateOutputResources(width, height); err != nil {
		return err
	}
	r.width, r.height = width, height
	return nil
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.compositor != nil {
		r.compositor.Release()
		r.compositor = nil
	}
	if r.pipeline != nil {
		r.pipeline.Release()
		r.pipeline = nil
	}
	if r.ctx != nil {
		r.ctx.Release()
		r.ctx = nil
	}
	r.loaded = false
}
