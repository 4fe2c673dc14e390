// Package device abstracts the GPU the ray-tracing framework runs on. A Device owns a flat
// address space of buffers, textures, pipelines and command lists. Two backends exist: a
// headless backend that replays command lists on the CPU and runs host shaders, and a
// WebGPU backend that emulates ray dispatch with compute kernels.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/cogentcore/webgpu/wgpu"
)

// Device is the handle every other engine package allocates and submits through.
//
// Buffers, textures, pipelines and kernels are created directly on the device. Work that
// touches GPU memory is recorded on a CommandList and executed in order by Submit.
type Device interface {
	BackendType() BackendType

	// SupportsNativeRaytracing reports whether wrapped pointers are raw GPU addresses. When
	// false they encode a descriptor heap slot and an offset.
	SupportsNativeRaytracing() bool

	// CreateBuffer allocates a zeroed buffer in the device address space.
	//
	// Parameters:
	//   - desc: label, size and usage of the buffer
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error wrapping ErrOutOfArenaMemory when the arena is full
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// CreateTexture allocates a texture cleared to transparent black.
	//
	// Parameters:
	//   - desc: size, format and usage of the texture
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if the texture is empty or the backend rejects it
	CreateTexture(desc TextureDescriptor) (Texture, error)

	// WriteTexture uploads tightly packed RGBA8 pixels. Cube maps take six faces stacked
	// vertically.
	//
	// Parameters:
	//   - tex: the destination texture
	//   - pixels: width*height*layers*4 bytes
	//
	// Returns:
	//   - error: an error if the pixel data does not match the texture size
	WriteTexture(tex Texture, pixels []byte) error

	// ReadTexture returns the RGBA float values of every texel of layer 0. Only the
	// headless backend can read textures back.
	//
	// Parameters:
	//   - tex: the texture to read
	//
	// Returns:
	//   - []float32: width*height*4 values
	//   - error: errors.ErrUnsupported on backends without readback
	ReadTexture(tex Texture) ([]float32, error)

	// CreateRaytracingPipeline creates a pipeline with one shader identifier per export.
	//
	// Parameters:
	//   - desc: exports, shader libraries and trace limits
	//
	// Returns:
	//   - RaytracingPipeline: the pipeline
	//   - error: an error if an export is invalid or the backend fails to compile
	CreateRaytracingPipeline(desc RaytracingPipelineDescriptor) (RaytracingPipeline, error)

	// CreateComputeKernel creates a compute kernel.
	//
	// Parameters:
	//   - desc: the kernel source, bindings and host implementation
	//
	// Returns:
	//   - ComputeKernel: the kernel
	//   - error: an error if the backend cannot create it
	CreateComputeKernel(desc ComputeKernelDescriptor) (ComputeKernel, error)

	// AccelerationStructurePrebuildInfo returns the buffer sizes a build of inputs needs.
	//
	// Parameters:
	//   - inputs: the build inputs
	//
	// Returns:
	//   - accel.PrebuildInfo: result, scratch and instance descriptor sizes
	AccelerationStructurePrebuildInfo(inputs AccelerationStructureInputs) accel.PrebuildInfo

	// NewCommandList creates an empty command list.
	NewCommandList(label string) CommandList

	// Submit replays list in order.
	//
	// Parameters:
	//   - list: the recorded commands
	//
	// Returns:
	//   - Fence: the fence value signalled when the work completes
	//   - error: the first command failure, wrapped with the command name
	Submit(list CommandList) (Fence, error)

	// Wait blocks until fence has been signalled.
	//
	// Parameters:
	//   - fence: a value returned by Submit
	//
	// Returns:
	//   - error: ErrDeviceRemoved when the device was released before the fence completed
	Wait(fence Fence) error

	CompletedFence() Fence
	ArenaStats() ArenaStats

	// ConfigureSurface sizes the presentation surface. Devices without a surface ignore it.
	ConfigureSurface(width, height uint32) error

	// Present copies tex to the presentation surface. Devices without a surface ignore it.
	Present(tex Texture) error

	Release()
}

// device implements the backend-independent half of Device.
type device struct {
	mu *sync.Mutex

	backendType BackendType
	backend     deviceBackend

	arena    *arena
	buffers  []*buffer // sorted by address
	textures map[uint32]*texture
	nextTex  uint32

	fence    Fence
	released bool

	buildPool    worker.DynamicWorkerPool
	buildWorkers int

	// decoded acceleration structures keyed by buffer address
	cacheMu     sync.Mutex
	bottomCache map[uint64]*accel.BottomLevel
	topCache    map[uint64]*accel.TopLevel

	// Pre-creation config collected from builder options
	arenaSize            uint64
	nativeRaytracing     bool
	forceFallbackAdapter bool
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	dispatchWorkers      int
}

var _ Device = &device{}

// NewDevice creates a device for the requested backend. The headless backend is used by
// default.
//
// Parameters:
//   - options: DeviceBuilderOption values configuring the device
//
// Returns:
//   - Device: the device
//   - error: an error if the backend fails to initialise
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		mu:           &sync.Mutex{},
		backendType:  BackendTypeHeadless,
		textures:     make(map[uint32]*texture),
		bottomCache:  make(map[uint64]*accel.BottomLevel),
		topCache:     make(map[uint64]*accel.TopLevel),
		arenaSize:    DefaultArenaSize,
		buildWorkers: max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(d)
	}
	d.arena = newArena(d.arenaSize)
	d.dispatchWorkers = common.Coalesce(d.dispatchWorkers, runtime.NumCPU())

	switch d.backendType {
	case BackendTypeHeadless:
		d.backend = &headlessBackend{}
	case BackendTypeWGPU:
		d.backend = &wgpuDeviceBackend{}
		// the emulated path always addresses memory through the descriptor heap
		d.nativeRaytracing = false
	default:
		return nil, fmt.Errorf("unknown backend type %d", d.backendType)
	}
	if err := d.backend.init(d); err != nil {
		return nil, fmt.Errorf("init %s backend: %w", d.backendType, err)
	}

	// Queue size of 256 covers a scene's worth of bottom-level builds per batch.
	d.buildPool = worker.NewDynamicWorkerPool(d.buildWorkers, 256, 1*time.Second)

	common.Logger().Info("device created",
		"backend", d.backendType.String(),
		"arena_bytes", d.arena.size,
		"native_raytracing", d.nativeRaytracing,
		"build_workers", d.buildWorkers,
	)
	return d, nil
}

func (d *device) BackendType() BackendType       { return d.backendType }
func (d *device) SupportsNativeRaytracing() bool { return d.nativeRaytracing }

func (d *device) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrDeviceRemoved
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("create buffer %q: size must be greater than zero", desc.Label)
	}
	addr, err := d.arena.alloc(desc.Size)
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	b := &buffer{
		d:       d,
		label:   desc.Label,
		address: addr,
		size:    desc.Size,
		usage:   desc.Usage,
		data:    make([]byte, desc.Size),
	}
	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].address > addr })
	d.buffers = append(d.buffers, nil)
	copy(d.buffers[i+1:], d.buffers[i:])
	d.buffers[i] = b

	common.Logger().Debug("buffer created", "label", desc.Label, "address", addr, "size", desc.Size)
	return b, nil
}

func (d *device) CreateTexture(desc TextureDescriptor) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrDeviceRemoved
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("create texture %q: size %dx%d is empty", desc.Label, desc.Width, desc.Height)
	}
	if desc.Cube && desc.Width != desc.Height {
		return nil, fmt.Errorf("create texture %q: cube faces must be square, got %dx%d", desc.Label, desc.Width, desc.Height)
	}
	d.nextTex++
	t := &texture{d: d, id: d.nextTex, desc: desc}
	if err := d.backend.createTexture(t); err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	d.textures[t.id] = t
	return t, nil
}

func (d *device) WriteTexture(tex Texture, pixels []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.textureLocked(tex)
	if err != nil {
		return err
	}
	want := int(t.desc.Width * t.desc.Height * t.Layers() * 4)
	if len(pixels) != want {
		return fmt.Errorf("write texture %q: expected %d bytes, got %d", t.desc.Label, want, len(pixels))
	}
	return d.backend.writeTexture(t, pixels)
}

func (d *device) ReadTexture(tex Texture) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.textureLocked(tex)
	if err != nil {
		return nil, err
	}
	return d.backend.readTexture(t)
}

func (d *device) CreateRaytracingPipeline(desc RaytracingPipelineDescriptor) (RaytracingPipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrDeviceRemoved
	}
	p, err := newRaytracingPipeline(d, desc)
	if err != nil {
		return nil, err
	}
	if err := d.backend.createRaytracingPipeline(p); err != nil {
		return nil, fmt.Errorf("create raytracing pipeline %q: %w", desc.Label, err)
	}
	common.Logger().Debug("raytracing pipeline created", "label", desc.Label, "exports", len(desc.Exports))
	return p, nil
}

func (d *device) CreateComputeKernel(desc ComputeKernelDescriptor) (ComputeKernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrDeviceRemoved
	}
	k := &computeKernel{d: d, desc: desc}
	if err := d.backend.createComputeKernel(k); err != nil {
		return nil, fmt.Errorf("create compute kernel %q: %w", desc.Label, err)
	}
	return k, nil
}

func (d *device) AccelerationStructurePrebuildInfo(inputs AccelerationStructureInputs) accel.PrebuildInfo {
	if inputs.Type == AccelerationStructureTypeTopLevel {
		return accel.TopLevelPrebuildInfo(inputs.NumInstances)
	}
	return accel.BottomLevelPrebuildInfo(inputs.PrimitiveCount())
}

func (d *device) NewCommandList(label string) CommandList {
	return &commandList{label: label}
}

func (d *device) Submit(list CommandList) (Fence, error) {
	l, ok := list.(*commandList)
	if !ok {
		return 0, fmt.Errorf("submit: command list of type %T was not created by this device", list)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return 0, ErrDeviceRemoved
	}
	st := &replayState{rootArgs: make(map[int]RootArgument)}
	if err := d.replayLocked(l, st); err != nil {
		return 0, fmt.Errorf("submit %q: %w", l.label, err)
	}
	if err := d.backend.flush(); err != nil {
		return 0, fmt.Errorf("submit %q: %w", l.label, err)
	}
	d.fence++
	return d.fence, nil
}

func (d *device) Wait(fence Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if fence <= d.fence {
		return nil
	}
	if d.released {
		return ErrDeviceRemoved
	}
	return fmt.Errorf("wait: fence %d was never submitted (last %d)", fence, d.fence)
}

func (d *device) CompletedFence() Fence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fence
}

func (d *device) ArenaStats() ArenaStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arena.stats()
}

func (d *device) ConfigureSurface(width, height uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrDeviceRemoved
	}
	return d.backend.configureSurface(width, height)
}

func (d *device) Present(tex Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.textureLocked(tex)
	if err != nil {
		return err
	}
	return d.backend.present(t)
}

func (d *device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.backend.release()
	d.buffers = nil
	d.textures = nil
	d.mu.Unlock()

	d.buildPool.Stop()
	common.Logger().Info("device released", "backend", d.backendType.String())
}

// textureLocked validates that tex is a live texture of this device.
func (d *device) textureLocked(tex Texture) (*texture, error) {
	if d.released {
		return nil, ErrDeviceRemoved
	}
	t, ok := tex.(*texture)
	if !ok || t.d != d {
		return nil, fmt.Errorf("texture %v does not belong to this device", tex)
	}
	if t.released {
		return nil, fmt.Errorf("texture %q is released", t.desc.Label)
	}
	return t, nil
}

// bufferAtLocked finds the live buffer containing addr.
//
// Returns:
//   - *buffer: the buffer
//   - uint64: the offset of addr inside it
//   - error: an error wrapping ErrInvalidAddress when no buffer contains addr
func (d *device) bufferAtLocked(addr uint64) (*buffer, uint64, error) {
	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].address > addr })
	if i == 0 {
		return nil, 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}
	b := d.buffers[i-1]
	if addr >= b.address+b.size {
		return nil, 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, addr)
	}
	return b, addr - b.address, nil
}

// removeBufferLocked drops b from the address map and the arena.
func (d *device) removeBufferLocked(b *buffer) {
	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].address >= b.address })
	if i < len(d.buffers) && d.buffers[i] == b {
		d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
	}
	d.arena.release(b.address)
	d.invalidateLocked(b)
	b.data = nil
}

// invalidateLocked forgets decoded structures stored in b and tells the backend its
// contents changed.
func (d *device) invalidateLocked(b *buffer) {
	end := b.address + b.size
	d.cacheMu.Lock()
	for addr := range d.bottomCache {
		if addr >= b.address && addr < end {
			delete(d.bottomCache, addr)
			// decoded top levels hold pointers to the stale bottom level
			clear(d.topCache)
		}
	}
	for addr := range d.topCache {
		if addr >= b.address && addr < end {
			delete(d.topCache, addr)
		}
	}
	d.cacheMu.Unlock()
	if !d.released {
		d.backend.bufferWritten(b)
	}
}

// replayState is the binding state of one submission.
type replayState struct {
	heap     DescriptorHeapView
	rootArgs map[int]RootArgument
}

func (d *device) replayLocked(l *commandList, st *replayState) error {
	for i := 0; i < len(l.commands); i++ {
		cmd := l.commands[i]
		var err error
		switch cmd.op {
		case opBuildAccelerationStructure:
			// gather the run of consecutive builds so bottom levels can share one barrier
			j := i
			for j < len(l.commands) && l.commands[j].op == opBuildAccelerationStructure {
				j++
			}
			builds := make([]BuildAccelerationStructureDesc, 0, j-i)
			for _, c := range l.commands[i:j] {
				builds = append(builds, c.build)
			}
			err = d.runBuildsLocked(builds, st)
			i = j - 1
		case opSetDescriptorHeap:
			st.heap = cmd.heap
		case opSetRootArgument:
			st.rootArgs[cmd.slot] = cmd.arg
		case opDispatchRays:
			p, ok := cmd.pipeline.(*raytracingPipeline)
			if !ok || p.d != d {
				err = fmt.Errorf("pipeline %v does not belong to this device", cmd.pipeline)
				break
			}
			if p.released {
				err = fmt.Errorf("pipeline %q is released", p.desc.Label)
				break
			}
			err = d.backend.dispatchRays(st, p, cmd.rays)
		case opDispatch:
			k, ok := cmd.kernel.(*computeKernel)
			if !ok || k.d != d || k.released {
				err = fmt.Errorf("kernel %v is not a live kernel of this device", cmd.kernel)
				break
			}
			err = d.backend.dispatch(st, k, cmd.args, cmd.groups)
		case opUAVBarrier:
			err = d.backend.barrier()
		case opClearTexture:
			var t *texture
			if t, err = d.textureLocked(cmd.texture); err == nil {
				err = d.backend.clearTexture(t, cmd.color)
			}
		case opCopyBuffer:
			err = d.copyBufferLocked(cmd)
		}
		if err != nil {
			return fmt.Errorf("command %d (%s): %w", i, cmd.op, err)
		}
	}
	return nil
}

func (d *device) copyBufferLocked(cmd command) error {
	dst, dOff, err := d.bufferAtLocked(cmd.dst.Address() + cmd.dstOffset)
	if err != nil {
		return err
	}
	src, sOff, err := d.bufferAtLocked(cmd.src.Address() + cmd.srcOffset)
	if err != nil {
		return err
	}
	to, err := dst.bytes(dOff, cmd.size)
	if err != nil {
		return err
	}
	from, err := src.bytes(sOff, cmd.size)
	if err != nil {
		return err
	}
	copy(to, from)
	d.invalidateLocked(dst)
	return nil
}

// resolvePointerLocked turns a wrapped pointer into the buffer it addresses. Native
// pointers are GPU addresses; emulated pointers carry a heap slot in the low word and a
// byte offset in the high word.
//
// Returns:
//   - *buffer: the addressed buffer
//   - uint64: the byte offset inside it
//   - error: an error wrapping ErrInvalidAddress when the pointer resolves to nothing
func (d *device) resolvePointerLocked(ptr uint64, heap DescriptorHeapView) (*buffer, uint64, error) {
	if d.nativeRaytracing {
		return d.bufferAtLocked(ptr)
	}
	if heap == nil {
		return nil, 0, fmt.Errorf("%w: pointer %#x used with no descriptor heap bound", ErrInvalidAddress, ptr)
	}
	slot, offset := int(uint32(ptr)), ptr>>32
	desc, ok := heap.Descriptor(slot)
	if !ok || desc.Buffer == nil {
		return nil, 0, fmt.Errorf("%w: heap slot %d holds no buffer view", ErrInvalidAddress, slot)
	}
	stride := uint64(desc.Stride)
	if desc.Raw || stride == 0 {
		stride = 4
	}
	return d.bufferAtLocked(desc.Buffer.Address() + uint64(desc.FirstElement)*stride + offset)
}

// errorCollector gathers errors from concurrent tasks.
type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCollector) add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *errorCollector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.errs...)
}
