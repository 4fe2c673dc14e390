package raytracing

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// ShaderTable is the record geometry Raytrace slices into ray generation, miss and hit
// sections. Bindings implements it.
type ShaderTable interface {
	ShaderTableAddress() uint64
	RecordSize() uint32
	RayGenRecordIndex() int
	FirstMissRecordIndex() int
	FirstHitRecordIndex() int
	MissProgramCount() int
	HitProgramCount() int
	InstanceCount() int

	// GlobalArguments decodes the global arguments staged for the next dispatch.
	//
	// Returns:
	//   - []device.RootArgument: one argument per global parameter, or nil when none are staged
	//   - error: an error if the staged bytes do not match the global root signature
	GlobalArguments() ([]device.RootArgument, error)
}

// Context owns the device, the shader-visible descriptor heap and the command list that
// acceleration structure builds and ray dispatches are recorded on.
type Context struct {
	dev      device.Device
	heap     *DescriptorHeap
	list     device.CommandList
	heapSize int
	label    string
}

// NewContext creates a context on a device.
//
// Parameters:
//   - dev: the device
//   - options: a variadic list of ContextBuilderOption functions
//
// Returns:
//   - *Context: the context
//   - error: an error if the descriptor heap cannot be created
func NewContext(dev device.Device, options ...ContextBuilderOption) (*Context, error) {
	if dev == nil {
		panic("raytracing: NewContext requires a device")
	}
	c := &Context{
		dev:      dev,
		heapSize: DefaultDescriptorHeapSize,
		label:    "Raytracing Context",
	}
	for _, opt := range options {
		opt(c)
	}
	heap, err := newDescriptorHeap(dev, c.heapSize)
	if err != nil {
		return nil, err
	}
	c.heap = heap
	c.list = dev.NewCommandList(c.label)
	common.Logger().Info("raytracing context created",
		"backend", dev.BackendType(),
		"native", dev.SupportsNativeRaytracing(),
		"heap_slots", c.heapSize,
	)
	return c, nil
}

func (c *Context) Device() device.Device           { return c.dev }
func (c *Context) CommandList() device.CommandList { return c.list }
func (c *Context) DescriptorHeap() *DescriptorHeap { return c.heap }
func (c *Context) UsingNativeRaytracing() bool     { return c.dev.SupportsNativeRaytracing() }

// AllocateDescriptor returns a heap slot. A reuseIndex naming an allocated slot is returned
// as is, which lets resized resources keep their slot.
//
// Parameters:
//   - reuseIndex: a previously allocated slot, or -1 for a new one
//
// Returns:
//   - int: the slot
//   - error: an error wrapping ErrDescriptorHeapExhausted when no slot is left
func (c *Context) AllocateDescriptor(reuseIndex int) (int, error) {
	return c.heap.allocate(reuseIndex)
}

// DescriptorGPUHandle returns the GPU handle of a heap slot.
func (c *Context) DescriptorGPUHandle(index int) DescriptorHandle {
	return c.heap.handle(index)
}

// CreateBufferSRVWrappedPointer wraps a buffer for read access. Native devices get the
// buffer address; emulated devices get a heap slot holding a shader resource view.
//
// Parameters:
//   - buf: the buffer
//   - raw: true for a byte address view, false for a structured view
//   - stride: the element size of a structured view
//
// Returns:
//   - WrappedPointer: the wrapped pointer
//   - error: an error if no heap slot is left
func (c *Context) CreateBufferSRVWrappedPointer(buf device.Buffer, raw bool, stride uint32) (WrappedPointer, error) {
	if c.UsingNativeRaytracing() {
		return WrappedPointer(buf.Address()), nil
	}
	slot, err := c.writeDescriptor(-1, bufferView(device.DescriptorKindBufferSRV, buf, raw, stride))
	if err != nil {
		return 0, err
	}
	return EmulatedPointer(uint32(slot), 0), nil
}

// CreateBufferUAVWrappedPointer wraps a buffer for read-write access. Owners that rebuild
// the buffer pass the returned slot back so the rebuild overwrites the old view.
//
// Parameters:
//   - buf: the buffer
//   - reuseIndex: a slot to overwrite, or -1 for a new one
//
// Returns:
//   - WrappedPointer: the wrapped pointer
//   - int: the slot, to pass back as reuseIndex later; native devices return reuseIndex
//   - error: an error if no heap slot is left
func (c *Context) CreateBufferUAVWrappedPointer(buf device.Buffer, reuseIndex int) (WrappedPointer, int, error) {
	if c.UsingNativeRaytracing() {
		return WrappedPointer(buf.Address()), reuseIndex, nil
	}
	slot, err := c.writeDescriptor(reuseIndex, bufferView(device.DescriptorKindBufferUAV, buf, true, 0))
	if err != nil {
		return 0, -1, err
	}
	return EmulatedPointer(uint32(slot), 0), slot, nil
}

// CreateTextureSRVWrappedPointer wraps a texture for sampling. Textures have no address,
// so native devices get the slot's descriptor handle.
//
// Parameters:
//   - tex: the texture
//   - cube: true to view the texture as a cube map
//
// Returns:
//   - WrappedPointer: the wrapped pointer
//   - error: an error if no heap slot is left
func (c *Context) CreateTextureSRVWrappedPointer(tex device.Texture, cube bool) (WrappedPointer, error) {
	slot, err := c.writeDescriptor(-1, device.Descriptor{Kind: device.DescriptorKindTextureSRV, Texture: tex, Cube: cube})
	if err != nil {
		return 0, err
	}
	return c.texturePointer(slot), nil
}

// CreateTextureUAVWrappedPointer wraps a texture for writes.
//
// Parameters:
//   - tex: the texture
//
// Returns:
//   - WrappedPointer: the wrapped pointer
//   - error: an error if no heap slot is left
func (c *Context) CreateTextureUAVWrappedPointer(tex device.Texture) (WrappedPointer, error) {
	slot, err := c.writeDescriptor(-1, device.Descriptor{Kind: device.DescriptorKindTextureUAV, Texture: tex})
	if err != nil {
		return 0, err
	}
	return c.texturePointer(slot), nil
}

// CreateBufferSRVHandle writes a buffer view into a heap slot for use in descriptor tables.
//
// Parameters:
//   - buf: the buffer
//   - raw: true for a byte address view
//   - stride: the element size of a structured view
//   - reuseIndex: a slot to overwrite, or -1 for a new one
//
// Returns:
//   - DescriptorHandle: the handle of the slot
//   - int: the slot, to pass back as reuseIndex later
//   - error: an error if no heap slot is left
func (c *Context) CreateBufferSRVHandle(buf device.Buffer, raw bool, stride uint32, reuseIndex int) (DescriptorHandle, int, error) {
	slot, err := c.writeDescriptor(reuseIndex, bufferView(device.DescriptorKindBufferSRV, buf, raw, stride))
	if err != nil {
		return 0, -1, err
	}
	return c.heap.handle(slot), slot, nil
}

// CreateBufferUAVHandle writes a read-write buffer view into a new heap slot.
//
// Parameters:
//   - buf: the buffer
//
// Returns:
//   - DescriptorHandle: the handle of the slot
//   - error: an error if no heap slot is left
func (c *Context) CreateBufferUAVHandle(buf device.Buffer) (DescriptorHandle, error) {
	slot, err := c.writeDescriptor(-1, bufferView(device.DescriptorKindBufferUAV, buf, true, 0))
	if err != nil {
		return 0, err
	}
	return c.heap.handle(slot), nil
}

// CreateTextureSRVHandle writes a texture view into a heap slot.
//
// Parameters:
//   - tex: the texture
//   - cube: true to view the texture as a cube map
//   - reuseIndex: a slot to overwrite, or -1 for a new one
//
// Returns:
//   - DescriptorHandle: the handle of the slot
//   - int: the slot, to pass back as reuseIndex later
//   - error: an error if no heap slot is left
func (c *Context) CreateTextureSRVHandle(tex device.Texture, cube bool, reuseIndex int) (DescriptorHandle, int, error) {
	slot, err := c.writeDescriptor(reuseIndex, device.Descriptor{Kind: device.DescriptorKindTextureSRV, Texture: tex, Cube: cube})
	if err != nil {
		return 0, -1, err
	}
	return c.heap.handle(slot), slot, nil
}

// CreateTextureUAVHandle writes a writable texture view into a heap slot.
//
// Parameters:
//   - tex: the texture
//   - reuseIndex: a slot to overwrite, or -1 for a new one
//
// Returns:
//   - DescriptorHandle: the handle of the slot
//   - int: the slot, to pass back as reuseIndex later
//   - error: an error if no heap slot is left
func (c *Context) CreateTextureUAVHandle(tex device.Texture, reuseIndex int) (DescriptorHandle, int, error) {
	slot, err := c.writeDescriptor(reuseIndex, device.Descriptor{Kind: device.DescriptorKindTextureUAV, Texture: tex})
	if err != nil {
		return 0, -1, err
	}
	return c.heap.handle(slot), slot, nil
}

// BindDescriptorHeap uploads the heap and binds it on the command list. Wrapped pointers
// recorded after this resolve through the heap.
//
// Returns:
//   - error: an error if the heap buffer cannot be mapped
func (c *Context) BindDescriptorHeap() error {
	if err := c.heap.serialize(); err != nil {
		return err
	}
	c.list.SetDescriptorHeap(c.heap)
	return nil
}

// SetGlobalRootArgument records a global root argument.
func (c *Context) SetGlobalRootArgument(slot int, arg device.RootArgument) {
	c.list.SetComputeRootArgument(slot, arg)
}

// SetTopLevelAccelerationStructure binds a TLAS wrapped pointer at a global SRV slot.
func (c *Context) SetTopLevelAccelerationStructure(slot int, ptr WrappedPointer) {
	c.list.SetComputeRootArgument(slot, device.RootArgument{Kind: device.RootArgumentShaderResource, Address: uint64(ptr)})
}

// Raytrace records a ray dispatch over a shader table. The ray generation record is record
// 0, the miss table covers MissProgramCount records from the first miss record and the
// hit table covers HitProgramCount*InstanceCount records from the first hit record. Global
// arguments staged on the table are bound first.
//
// Parameters:
//   - table: the shader table, usually a Bindings
//   - state: the pipeline state the table was applied with
//   - width, height, depth: the launch grid
//
// Returns:
//   - error: an error for a missing table or state, an empty grid, a stale table, or malformed
//     global arguments
func (c *Context) Raytrace(table ShaderTable, state *State, width, height, depth uint32) error {
	if table == nil || state == nil {
		return fmt.Errorf("raytrace needs a shader table and a state")
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("raytrace grid %dx%d is empty", width, height)
	}
	if st, ok := table.(interface{ Stale() bool }); ok && st.Stale() {
		return fmt.Errorf("raytrace: %w", ErrStaleBindings)
	}

	globals, err := table.GlobalArguments()
	if err != nil {
		return fmt.Errorf("raytrace: %w", err)
	}
	for slot, arg := range globals {
		c.list.SetComputeRootArgument(slot, arg)
	}

	rs := uint64(table.RecordSize())
	addr := table.ShaderTableAddress()
	missCount := uint64(table.MissProgramCount())
	hitCount := uint64(table.HitProgramCount()) * uint64(table.InstanceCount())
	desc := device.DispatchRaysDesc{
		RayGenerationShaderRecord: device.GPUAddressRange{
			StartAddress: addr + uint64(table.RayGenRecordIndex())*rs,
			SizeInBytes:  rs,
		},
		MissShaderTable: device.GPUAddressRangeAndStride{
			StartAddress:  addr + uint64(table.FirstMissRecordIndex())*rs,
			SizeInBytes:   missCount * rs,
			StrideInBytes: rs,
		},
		HitGroupTable: device.GPUAddressRangeAndStride{
			StartAddress:  addr + uint64(table.FirstHitRecordIndex())*rs,
			SizeInBytes:   hitCount * rs,
			StrideInBytes: rs,
		},
		Width:  width,
		Height: height,
		Depth:  max(depth, 1),
	}
	c.list.DispatchRays(state.Pipeline(), desc)
	return nil
}

// InsertUAVBarrier records a UAV barrier on a buffer or texture.
func (c *Context) InsertUAVBarrier(resource any) {
	c.list.UAVBarrier(resource)
}

// ClearTexture records a clear of a texture.
func (c *Context) ClearTexture(tex device.Texture, color [4]float32) {
	c.list.ClearTexture(tex, color)
}

// Dispatch records a compute dispatch.
func (c *Context) Dispatch(kernel device.ComputeKernel, args []device.KernelArgument, x, y, z uint32) {
	c.list.Dispatch(kernel, args, x, y, z)
}

// ExecuteCommandList submits the recorded commands, waits for them and opens a new list.
//
// Returns:
//   - error: the first error raised while executing the list
func (c *Context) ExecuteCommandList() error {
	fence, err := c.dev.Submit(c.list)
	c.list = c.dev.NewCommandList(c.label)
	if err != nil {
		return fmt.Errorf("failed to execute %q: %w", c.label, err)
	}
	return c.dev.Wait(fence)
}

func (c *Context) Release() {
	if c.heap != nil {
		c.heap.release()
		c.heap = nil
	}
}

func (c *Context) writeDescriptor(reuseIndex int, desc device.Descriptor) (int, error) {
	slot, err := c.heap.allocate(reuseIndex)
	if err != nil {
		return -1, err
	}
	c.heap.set(slot, desc)
	return slot, nil
}

func (c *Context) texturePointer(slot int) WrappedPointer {
	if c.UsingNativeRaytracing() {
		return WrappedPointer(c.heap.handle(slot))
	}
	return EmulatedPointer(uint32(slot), 0)
}

func bufferView(kind device.DescriptorKind, buf device.Buffer, raw bool, stride uint32) device.Descriptor {
	desc := device.Descriptor{Kind: kind, Buffer: buf, Raw: raw, Stride: stride}
	if raw || stride == 0 {
		desc.Raw = true
		desc.NumElements = uint32(buf.Size() / 4)
	} else {
		desc.NumElements = uint32(buf.Size() / uint64(stride))
	}
	return desc
}
