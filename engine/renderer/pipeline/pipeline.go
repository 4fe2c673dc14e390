package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/light"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

//go:embed assets/realtime_raytracing.wgsl
var realtimeSource string

// Global root parameter slots of the realtime program.
const (
	AccelerationStructureSlot = iota
	OutputViewSlot
	PerFrameConstantsSlot
)

// Ray types. Each is a hit group index and the miss index of the same ray.
const (
	PrimaryRay = iota
	ShadowRay
)

// SecondaryMiss is the miss index of reflection rays in the progressive program. It has
// no hit group of its own; reflection rays hit through the primary hit group.
const SecondaryMiss = 2

// Output textures. The color output feeds the compositor; the albedo output carries the
// first-hit distance in alpha.
const (
	OutputColor = iota
	OutputAlbedo
	outputCount
)

const (
	realtimeMaxRecursion = 4
	realtimeMaxPayload   = 60
	realtimeMaxAttribute = 8

	// pausedTime freezes the light animation while paused.
	pausedTime float32 = 142

	// DefaultMaxIterations caps how many frames the progressive pipeline accumulates.
	DefaultMaxIterations uint32 = 1024
)

// OutputFormat is the format of both output textures.
const OutputFormat = device.TextureFormatRGBA16Float

var (
	ErrNoScene          = errors.New("pipeline has no scene")
	ErrNoCamera         = errors.New("pipeline has no camera")
	ErrResourcesMissing = errors.New("pipeline resources have not been loaded")
)

// UploadBatch is the texture upload path LoadResources uses.
type UploadBatch interface {
	Begin() error
	Upload(data common.TextureStagingData) (device.Texture, error)
	End() error
}

// Pipeline is a ray-tracing render pipeline. It owns its program, state and shader table
// and renders its scene into its output textures.
type Pipeline interface {
	Name() string
	Active() bool
	SetActive(active bool)

	// AddMaterial appends the material of the next instance. Instances past the last
	// material use DefaultMaterial.
	//
	// Parameters:
	//   - m: the material constants
	AddMaterial(m common.MaterialParams)

	SetCamera(c camera.Camera)

	// SetScene lays out the shader table for s. If the scene later gains or loses
	// instances, BuildAccelerationStructures lays the table out again.
	//
	// Parameters:
	//   - s: the scene to render
	//
	// Returns:
	//   - error: an error if the shader table cannot be created
	SetScene(s scene.Scene) error

	// LoadResources uploads the environment textures and creates the per-frame constant
	// buffer.
	//
	// Parameters:
	//   - batch: the upload batch to submit through
	//
	// Returns:
	//   - error: an upload or allocation error
	LoadResources(batch UploadBatch) error

	// CreateOutputResources (re)creates the output textures. Their heap views reuse the
	// slots of the previous outputs.
	//
	// Parameters:
	//   - width: the output width in pixels
	//   - height: the output height in pixels
	//
	// Returns:
	//   - error: a texture or descriptor heap error
	CreateOutputResources(width, height uint32) error

	// BuildAccelerationStructures builds the scene with one hit group per ray type. A
	// shader table that no longer covers the scene's instances is laid out again first.
	//
	// Returns:
	//   - error: ErrNoScene, a shader table error or a build error
	BuildAccelerationStructures() error

	// Update writes the per-frame constants.
	//
	// Parameters:
	//   - elapsed: seconds since start, which drives the light animation
	//   - frame: the number of frames rendered so far
	//   - width: the output width in pixels
	//   - height: the output height in pixels
	//
	// Returns:
	//   - error: ErrNoCamera, ErrResourcesMissing or a map error
	Update(elapsed float32, frame, width, height uint32) error

	// Render fills the shader table and records the ray dispatch.
	//
	// Parameters:
	//   - width: the launch width
	//   - height: the launch height
	//
	// Returns:
	//   - error: a missing resource, an empty size, raytracing.ErrStaleBindings when the
	//     scene changed size since the last build, or a shader table error
	Render(width, height uint32) error

	OutputCount() int
	OutputTexture(i int) device.Texture
	OutputUAVHandle(i int) raytracing.DescriptorHandle
	OutputSRVHandle(i int) raytracing.DescriptorHandle

	Program() *raytracing.Program
	State() *raytracing.State
	Bindings() *raytracing.Bindings
	Constants() common.PerFrameConstants

	AnimationPaused() bool
	SetAnimationPaused(paused bool)

	// DirectionalLight returns the swept directional light. Update re-aims it each frame.
	DirectionalLight() light.Light
	PointLight() light.Light

	// FrameAccumulation reports whether Update keeps counting accumulated frames. While
	// it is off every frame is traced from scratch.
	FrameAccumulation() bool

	// SetFrameAccumulation turns frame accumulation on or off. Turning it on pauses the
	// light animation. Either way the next frame starts a new accumulation.
	//
	// Parameters:
	//   - enabled: true to accumulate
	SetFrameAccumulation(enabled bool)

	// AccumulatedFrames returns how many frames the color output averages, capped at
	// MaxIterations.
	AccumulatedFrames() uint32

	MaxIterations() uint32

	// SetMaxIterations changes the accumulation cap. Lowering it below the frames already
	// accumulated starts a new accumulation.
	//
	// Parameters:
	//   - n: the cap, at least 1
	SetMaxIterations(n uint32)

	// ResetAccumulation makes the next Update start a new accumulation.
	ResetAccumulation()

	Release()
}

type realtimePipeline struct {
	ctx      *raytracing.Context
	library  shader.Library
	program  *raytracing.Program
	state    *raytracing.State
	bindings *raytracing.Bindings

	scene     scene.Scene
	camera    camera.Camera
	materials []common.MaterialParams

	environment      [2]common.TextureStagingData
	environmentTex   [2]device.Texture
	environmentViews [2]raytracing.DescriptorHandle
	environmentSlots [2]int
	constantBuffer   device.Buffer
	constants        common.PerFrameConstants

	outputs    [outputCount]device.Texture
	uavSlots   [outputCount]int
	srvSlots   [outputCount]int
	uavHandles [outputCount]raytracing.DescriptorHandle
	srvHandles [outputCount]raytracing.DescriptorHandle

	sun   light.Light
	bulb  light.Light
	sweep light.Sweep

	name        string
	progressive bool

	accumulate    bool
	dirty         bool // set by every change that invalidates the accumulated image
	accumCount    uint32
	maxIterations uint32
	lastViewProj  common.Mat4

	seed   uint64
	rng    *rand.Rand
	paused bool
	active bool
}

var _ Pipeline = &realtimePipeline{}

// DefaultMaterial is the material of instances without one: a grey diffuse surface.
func DefaultMaterial() common.MaterialParams {
	return material.Default()
}

// defaultSun is a red directional light. The light animation sweeps it about +Y.
func defaultSun() light.Light {
	return light.NewLight(light.LightTypeDirectional,
		light.WithDirection(common.Vec3{0.3, -0.2, -1}),
		light.WithColorIntensity([4]float32{0.9, 0, 0, 1}),
	)
}

// defaultBulb is a teal point light at the origin.
func defaultBulb() light.Light {
	return light.NewLight(light.LightTypePoint, light.WithColorIntensity([4]float32{0.2, 0.8, 0.6, 2}))
}

// NewRealtimeRaytracingPipeline creates the realtime program: ray generation, a primary
// and a shadow hit group, and a primary and a shadow miss shader. Frame accumulation
// starts off.
//
// Parameters:
//   - ctx: the context the pipeline records on
//   - options: a variadic list of PipelineBuilderOption functions
//
// Returns:
//   - Pipeline: the pipeline, without a scene or resources
//   - error: a library, program or state error
func NewRealtimeRaytracingPipeline(ctx *raytracing.Context, options ...PipelineBuilderOption) (Pipeline, error) {
	if ctx == nil {
		panic("pipeline: NewRealtimeRaytracingPipeline requires a context")
	}
	return newPipeline(ctx, "Realtime Raytracing", false, options)
}

// NewProgressiveRaytracingPipeline creates the progressive program: the realtime program
// plus the SecondaryMiss shader for reflection rays. Frame accumulation starts on, so a
// still camera converges over up to MaxIterations frames.
//
// Parameters:
//   - ctx: the context the pipeline records on
//   - options: a variadic list of PipelineBuilderOption functions
//
// Returns:
//   - Pipeline: the pipeline, without a scene or resources
//   - error: a library, program or state error
func NewProgressiveRaytracingPipeline(ctx *raytracing.Context, options ...PipelineBuilderOption) (Pipeline, error) {
	if ctx == nil {
		panic("pipeline: NewProgressiveRaytracingPipeline requires a context")
	}
	return newPipeline(ctx, "Progressive Raytracing", true, options)
}

func newPipeline(ctx *raytracing.Context, name string, progressive bool, options []PipelineBuilderOption) (Pipeline, error) {
	p := &realtimePipeline{
		ctx:              ctx,
		name:             name,
		progressive:      progressive,
		accumulate:       progressive,
		dirty:            true,
		maxIterations:    DefaultMaxIterations,
		seed:             uint64(time.Now().UnixMilli()),
		paused:           true,
		active:           true,
		uavSlots:         [outputCount]int{-1, -1},
		srvSlots:         [outputCount]int{-1, -1},
		environmentSlots: [2]int{-1, -1},
		sun:              defaultSun(),
		bulb:             defaultBulb(),
	}
	for _, opt := range options {
		opt(p)
	}
	p.sweep = light.NewSweep(p.sun.Direction())
	p.rng = rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))

	if p.library == nil {
		lib, err := DefaultLibrary()
		if err != nil {
			return nil, err
		}
		p.library = lib
	}

	programOptions := []raytracing.ProgramDescOption{
		raytracing.WithShaderLibrary(p.library),
		raytracing.WithRayGen("RayGen"),
		raytracing.WithHitGroup(PrimaryRay, "PrimaryClosestHit", ""),
		raytracing.WithMiss(PrimaryRay, "PrimaryMiss"),
		raytracing.WithHitGroup(ShadowRay, "ShadowClosestHit", "ShadowAnyHit"),
		raytracing.WithMiss(ShadowRay, "ShadowMiss"),
	}
	if progressive {
		programOptions = append(programOptions, raytracing.WithMiss(SecondaryMiss, "SecondaryMiss"))
	}
	desc := raytracing.NewProgramDesc(append(programOptions,
		raytracing.WithGlobalRootSignature(func(r *raytracing.RootSignature) {
			r.AddRootParameter(raytracing.RootParameterSRV, 0, 0)
			r.AddHeapRangesParameter(raytracing.DescriptorRange{Type: raytracing.DescriptorRangeUAV, Count: outputCount})
			r.AddRootParameter(raytracing.RootParameterCBV, 0, 0)
			r.AddStaticSampler(raytracing.StaticSampler{Linear: true, Wrap: true})
		}),
		raytracing.WithRayGenRootSignature(func(r *raytracing.RootSignature) {
			// ray contribution stride, reflection miss index
			r.AddRootConstants(0, 0, 2)
		}),
		raytracing.WithHitGroupRootSignature(func(r *raytracing.RootSignature) {
			r.AddHeapRangesParameter(raytracing.DescriptorRange{Type: raytracing.DescriptorRangeSRV, BaseRegister: 0, Space: 1, Count: 1})
			r.AddHeapRangesParameter(raytracing.DescriptorRange{Type: raytracing.DescriptorRangeSRV, BaseRegister: 1, Space: 1, Count: 1})
			r.AddRootConstants(0, 1, materialDwords)
		}),
		raytracing.WithMissRootSignature(func(r *raytracing.RootSignature) {
			r.AddHeapRangesParameter(raytracing.DescriptorRange{Type: raytracing.DescriptorRangeSRV, BaseRegister: 0, Space: 2, Count: 1})
			r.AddHeapRangesParameter(raytracing.DescriptorRange{Type: raytracing.DescriptorRangeSRV, BaseRegister: 1, Space: 2, Count: 1})
		}),
	)...)
	program, err := raytracing.NewProgram(desc)
	if err != nil {
		return nil, err
	}
	state, err := raytracing.NewState(ctx, program,
		raytracing.WithStateLabel(name),
		raytracing.WithMaxTraceRecursionDepth(realtimeMaxRecursion),
		raytracing.WithMaxAttributeSize(realtimeMaxAttribute),
		raytracing.WithMaxPayloadSize(realtimeMaxPayload),
	)
	if err != nil {
		return nil, err
	}
	p.program = program
	p.state = state
	return p, nil
}

// materialDwords is the size of common.MaterialParams in 32-bit values.
const materialDwords = 16

// DefaultLibrary returns the realtime shader library: the WGSL source for the WebGPU device
// and host shaders for the headless device.
//
// Returns:
//   - shader.Library: the library exporting RayGen, PrimaryClosestHit, PrimaryMiss,
//     ShadowClosestHit, ShadowAnyHit, ShadowMiss and SecondaryMiss
//   - error: a library error
func DefaultLibrary() (shader.Library, error) {
	return shader.NewLibrary("realtime_raytracing",
		shader.WithSource(realtimeSource),
		shader.WithHostShader("RayGen", rayGen),
		shader.WithHostShader("PrimaryClosestHit", primaryClosestHit),
		shader.WithHostShader("PrimaryMiss", primaryMiss),
		shader.WithHostShader("ShadowClosestHit", shadowClosestHit),
		shader.WithHostShader("ShadowAnyHit", shadowAnyHit),
		shader.WithHostShader("ShadowMiss", shadowMiss),
		shader.WithHostShader("SecondaryMiss", secondaryMiss),
	)
}

func (p *realtimePipeline) Name() string                        { return p.name }
func (p *realtimePipeline) Active() bool                        { return p.active }
func (p *realtimePipeline) SetActive(active bool)               { p.active = active }
func (p *realtimePipeline) OutputCount() int                    { return outputCount }
func (p *realtimePipeline) Program() *raytracing.Program        { return p.program }
func (p *realtimePipeline) State() *raytracing.State            { return p.state }
func (p *realtimePipeline) Bindings() *raytracing.Bindings      { return p.bindings }
func (p *realtimePipeline) Constants() common.PerFrameConstants { return p.constants }
func (p *realtimePipeline) AnimationPaused() bool               { return p.paused }
func (p *realtimePipeline) SetAnimationPaused(paused bool)      { p.paused = paused }
func (p *realtimePipeline) DirectionalLight() light.Light       { return p.sun }
func (p *realtimePipeline) PointLight() light.Light             { return p.bulb }
func (p *realtimePipeline) FrameAccumulation() bool             { return p.accumulate }
func (p *realtimePipeline) MaxIterations() uint32               { return p.maxIterations }
func (p *realtimePipeline) ResetAccumulation()                  { p.dirty = true }

func (p *realtimePipeline) SetFrameAccumulation(enabled bool) {
	p.accumulate = enabled
	if enabled {
		p.paused = true
	}
	p.dirty = true
}

func (p *realtimePipeline) AccumulatedFrames() uint32 {
	return min(p.accumCount, p.maxIterations)
}

func (p *realtimePipeline) SetMaxIterations(n uint32) {
	n = max(n, 1)
	if n < p.accumCount {
		p.dirty = true
	}
	p.accumCount = min(p.accumCount, p.maxIterations)
	p.maxIterations = n
}

func (p *realtimePipeline) SetCamera(c camera.Camera) {
	p.camera = c
	p.dirty = true
}

func (p *realtimePipeline) AddMaterial(m common.MaterialParams) {
	p.materials = append(p.materials, m)
	p.dirty = true
}

func (p *realtimePipeline) materialFor(instance int) common.MaterialParams {
	if instance < len(p.materials) {
		return p.materials[instance]
	}
	return DefaultMaterial()
}

func (p *realtimePipeline) OutputTexture(i int) device.Texture {
	if i < 0 || i >= outputCount {
		return nil
	}
	return p.outputs[i]
}

func (p *realtimePipeline) OutputUAVHandle(i int) raytracing.DescriptorHandle {
	if i < 0 || i >= outputCount {
		return 0
	}
	return p.uavHandles[i]
}

func (p *realtimePipeline) OutputSRVHandle(i int) raytracing.DescriptorHandle {
	if i < 0 || i >= outputCount {
		return 0
	}
	return p.srvHandles[i]
}

func (p *realtimePipeline) SetScene(s scene.Scene) error {
	if p.bindings != nil {
		p.bindings.Release()
		p.bindings = nil
	}
	bindings, err := raytracing.NewBindings(p.ctx, p.program, raytracing.WithScene(s))
	if err != nil {
		return err
	}
	p.scene = s
	p.bindings = bindings
	p.dirty = true
	return nil
}

func (p *realtimePipeline) BuildAccelerationStructures() error {
	if p.scene == nil {
		return ErrNoScene
	}
	if p.bindings == nil || p.bindings.Stale() {
		common.Logger().Debug("relaying shader table", "instances", p.scene.InstanceCount())
		if err := p.SetScene(p.scene); err != nil {
			return err
		}
	}
	p.dirty = true
	return p.scene.Build(p.ctx, p.program.HitProgramCount())
}

func (p *realtimePipeline) LoadResources(batch UploadBatch) error {
	for i := range p.environment {
		if p.environment[i].Pixels == nil {
			p.environment[i] = defaultEnvironment(i)
		}
	}
	if err := batch.Begin(); err != nil {
		return err
	}
	for i, data := range p.environment {
		tex, err := batch.Upload(data)
		if err != nil {
			return err
		}
		if p.environmentTex[i] != nil {
			p.environmentTex[i].Release()
		}
		p.environmentTex[i] = tex
	}
	if err := batch.End(); err != nil {
		return err
	}
	for i, tex := range p.environmentTex {
		handle, slot, err := p.ctx.CreateTextureSRVHandle(tex, p.environment[i].Cube, p.environmentSlots[i])
		if err != nil {
			return err
		}
		p.environmentViews[i] = handle
		p.environmentSlots[i] = slot
	}
	p.dirty = true

	if p.constantBuffer == nil {
		buf, err := p.ctx.Device().CreateBuffer(device.BufferDescriptor{
			Label: "Per Frame Constants",
			Size:  common.AlignUp(uint64(len(common.StructToBytes(&p.constants))), device.ArenaAlignment),
			Usage: device.BufferUsageConstant | device.BufferUsageUpload,
		})
		if err != nil {
			return fmt.Errorf("failed to create per-frame constants: %w", err)
		}
		p.constantBuffer = buf
	}
	return nil
}

func (p *realtimePipeline) CreateOutputResources(width, height uint32) error {
	p.dirty = true
	for i := range p.outputs {
		if p.outputs[i] != nil {
			p.outputs[i].Release()
		}
		tex, err := p.ctx.Device().CreateTexture(device.TextureDescriptor{
			Label:  fmt.Sprintf("Raytracing Output %d", i),
			Width:  width,
			Height: height,
			Format: OutputFormat,
			Usage:  device.TextureUsageStorage | device.TextureUsageSampled | device.TextureUsageCopySrc,
		})
		if err != nil {
			return err
		}
		p.outputs[i] = tex
	}

	// the UAVs form one descriptor table, so they are written before any SRV
	var err error
	for i, tex := range p.outputs {
		if p.uavHandles[i], p.uavSlots[i], err = p.ctx.CreateTextureUAVHandle(tex, p.uavSlots[i]); err != nil {
			return err
		}
	}
	if p.uavSlots[1] != p.uavSlots[0]+1 {
		return fmt.Errorf("output views landed in slots %d and %d, want adjacent slots", p.uavSlots[0], p.uavSlots[1])
	}
	for i, tex := range p.outputs {
		if p.srvHandles[i], p.srvSlots[i], err = p.ctx.CreateTextureSRVHandle(tex, false, p.srvSlots[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *realtimePipeline) Update(elapsed float32, frame, width, height uint32) error {
	if p.camera == nil {
		return ErrNoCamera
	}
	if p.constantBuffer == nil {
		return ErrResourcesMissing
	}
	if p.paused {
		elapsed = pausedTime
	}

	cam := p.camera.RaytracingParams()
	cam.Jitters = [2]float32{
		(p.rng.Float32() - 0.5) / float32(width),
		(p.rng.Float32() - 0.5) / float32(height),
	}
	cam.FrameCount = frame
	if p.dirty || !p.accumulate || p.camera.HasMoved(p.lastViewProj) {
		p.accumCount = 0
		p.lastViewProj = p.camera.ViewProjection()
		p.dirty = false
	}
	cam.AccumCount = p.accumCount
	p.accumCount++

	p.constants.CameraParams = cam
	p.sweep.Apply(p.sun, elapsed)
	p.constants.DirectionalLight = light.DirectionalParams(p.sun)
	p.constants.PointLight = light.PointParams(p.bulb)
	p.constants.Options.EnvironmentStrength = 1
	p.constants.Options.MaxIterations = p.maxIterations

	mem, err := p.constantBuffer.Map()
	if err != nil {
		return err
	}
	copy(mem, common.StructToBytes(&p.constants))
	return p.constantBuffer.Unmap()
}

func (p *realtimePipeline) Render(width, height uint32) error {
	if p.scene == nil || p.bindings == nil {
		return ErrNoScene
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("render size %dx%d is empty", width, height)
	}
	if p.bindings.Stale() {
		return fmt.Errorf("%w: rebuild the acceleration structures", raytracing.ErrStaleBindings)
	}
	if p.constantBuffer == nil {
		return ErrResourcesMissing
	}
	if p.outputs[0] == nil {
		return fmt.Errorf("pipeline outputs have not been created")
	}
	tlas, err := p.scene.TLASWrappedPointer()
	if err != nil {
		return err
	}

	// a frame that failed part way leaves arguments behind
	p.bindings.ResetVars()
	instances := p.scene.Instances()
	for rayType := 0; rayType < p.program.HitProgramCount(); rayType++ {
		for i, inst := range instances {
			vars := p.bindings.HitVars(rayType, i)
			if err := errors.Join(
				vars.AppendHeapRanges(inst.Model.VertexBufferSRVHandle()),
				vars.AppendHeapRanges(inst.Model.IndexBufferSRVHandle()),
				vars.AppendStruct(p.materialFor(i)),
			); err != nil {
				return fmt.Errorf("hit record (%d, %d): %w", rayType, i, err)
			}
		}
	}
	for rayType := 0; rayType < p.program.MissProgramCount(); rayType++ {
		vars := p.bindings.MissVars(rayType)
		if err := errors.Join(
			vars.AppendHeapRanges(p.environmentViews[0]),
			vars.AppendHeapRanges(p.environmentViews[1]),
		); err != nil {
			return fmt.Errorf("miss record %d: %w", rayType, err)
		}
	}
	reflectionMiss := uint32(PrimaryRay)
	if p.progressive {
		reflectionMiss = SecondaryMiss
	}
	if err := p.bindings.RayGenVars().Append32BitConstants([]uint32{p.bindings.RayContributionStride(), reflectionMiss}); err != nil {
		return fmt.Errorf("ray generation record: %w", err)
	}
	if err := p.bindings.Apply(p.state); err != nil {
		return err
	}

	if err := p.ctx.BindDescriptorHeap(); err != nil {
		return err
	}
	globals := p.bindings.GlobalVars()
	if err := errors.Join(
		globals.AppendSRV(tlas),
		globals.AppendHeapRanges(p.uavHandles[0]),
		globals.AppendCBV(raytracing.WrappedPointer(p.constantBuffer.Address())),
	); err != nil {
		return fmt.Errorf("global arguments: %w", err)
	}
	if err := p.ctx.Raytrace(p.bindings, p.state, width, height, 1); err != nil {
		return err
	}
	for _, tex := range p.outputs {
		p.ctx.InsertUAVBarrier(tex)
	}
	return nil
}

func (p *realtimePipeline) Release() {
	for i := range p.outputs {
		if p.outputs[i] != nil {
			p.outputs[i].Release()
			p.outputs[i] = nil
		}
	}
	for i := range p.environmentTex {
		if p.environmentTex[i] != nil {
			p.environmentTex[i].Release()
			p.environmentTex[i] = nil
		}
	}
	if p.constantBuffer != nil {
		p.constantBuffer.Release()
		p.constantBuffer = nil
	}
	if p.bindings != nil {
		p.bindings.Release()
		p.bindings = nil
	}
	if p.state != nil {
		p.state.Release()
		p.state = nil
	}
}
