package device

// CommandList records device work. Nothing runs until the list is passed to Device.Submit.
// A list is not safe for concurrent recording.
type CommandList interface {
	Label() string

	// Len returns the number of recorded commands.
	Len() int

	// BuildRaytracingAccelerationStructure records a BLAS or TLAS build. Consecutive
	// bottom-level builds may run in parallel; a top-level build waits for every build
	// recorded before it.
	//
	// Parameters:
	//   - desc: the build inputs, destination and scratch buffers
	BuildRaytracingAccelerationStructure(desc BuildAccelerationStructureDesc)

	// SetDescriptorHeap binds the heap used to resolve wrapped pointers and heap handles for
	// every following command.
	//
	// Parameters:
	//   - heap: the heap to bind
	SetDescriptorHeap(heap DescriptorHeapView)

	// SetComputeRootArgument records a global root argument for following dispatches.
	//
	// Parameters:
	//   - slot: the global root parameter index
	//   - arg: the value
	SetComputeRootArgument(slot int, arg RootArgument)

	// DispatchRays launches Width*Height*Depth ray-generation invocations.
	//
	// Parameters:
	//   - pipeline: the pipeline whose exports the shader table references
	//   - desc: the shader table ranges and launch grid
	DispatchRays(pipeline RaytracingPipeline, desc DispatchRaysDesc)

	// Dispatch records a compute dispatch of x*y*z workgroups.
	//
	// Parameters:
	//   - kernel: the compute kernel
	//   - args: the resources bound to the kernel's binding slots
	//   - x, y, z: the workgroup counts
	Dispatch(kernel ComputeKernel, args []KernelArgument, x, y, z uint32)

	// UAVBarrier orders writes to resource before later reads. A nil resource orders all
	// unordered access.
	//
	// Parameters:
	//   - resource: a Buffer, a Texture or nil
	UAVBarrier(resource any)

	// ClearTexture fills every texel of tex with color.
	//
	// Parameters:
	//   - tex: the texture to clear
	//   - color: RGBA clear value
	ClearTexture(tex Texture, color [4]float32)

	// CopyBuffer copies size bytes between buffers.
	//
	// Parameters:
	//   - dst: destination buffer
	//   - dstOffset: byte offset in dst
	//   - src: source buffer
	//   - srcOffset: byte offset in src
	//   - size: number of bytes
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)

	// Reset drops every recorded command.
	Reset()
}

type opcode int

const (
	opBuildAccelerationStructure opcode = iota
	opSetDescriptorHeap
	opSetRootArgument
	opDispatchRays
	opDispatch
	opUAVBarrier
	opClearTexture
	opCopyBuffer
)

func (o opcode) String() string {
	switch o {
	case opBuildAccelerationStructure:
		return "BuildRaytracingAccelerationStructure"
	case opSetDescriptorHeap:
		return "SetDescriptorHeap"
	case opSetRootArgument:
		return "SetComputeRootArgument"
	case opDispatchRays:
		return "DispatchRays"
	case opDispatch:
		return "Dispatch"
	case opUAVBarrier:
		return "UAVBarrier"
	case opClearTexture:
		return "ClearTexture"
	case opCopyBuffer:
		return "CopyBuffer"
	default:
		return "unknown"
	}
}

type command struct {
	op opcode

	build    BuildAccelerationStructureDesc
	heap     DescriptorHeapView
	slot     int
	arg      RootArgument
	pipeline RaytracingPipeline
	rays     DispatchRaysDesc
	kernel   ComputeKernel
	args     []KernelArgument
	groups   [3]uint32
	resource any
	texture  Texture
	color    [4]float32

	dst, src             Buffer
	dstOffset, srcOffset uint64
	size                 uint64
}

type commandList struct {
	label    string
	commands []command
}

var _ CommandList = &commandList{}

func (l *commandList) Label() string { return l.label }
func (l *commandList) Len() int      { return len(l.commands) }
func (l *commandList) Reset()        { l.commands = l.commands[:0] }

func (l *commandList) BuildRaytracingAccelerationStructure(desc BuildAccelerationStructureDesc) {
	l.commands = append(l.commands, command{op: opBuildAccelerationStructure, build: desc})
}

func (l *commandList) SetDescriptorHeap(heap DescriptorHeapView) {
	l.commands = append(l.commands, command{op: opSetDescriptorHeap, heap: heap})
}

func (l *commandList) SetComputeRootArgument(slot int, arg RootArgument) {
	arg.Constants = append([]uint32(nil), arg.Constants...)
	l.commands = append(l.commands, command{op: opSetRootArgument, slot: slot, arg: arg})
}

func (l *commandList) DispatchRays(pipeline RaytracingPipeline, desc DispatchRaysDesc) {
	l.commands = append(l.commands, command{op: opDispatchRays, pipeline: pipeline, rays: desc})
}

func (l *commandList) Dispatch(kernel ComputeKernel, args []KernelArgument, x, y, z uint32) {
	l.commands = append(l.commands, command{
		op:     opDispatch,
		kernel: kernel,
		args:   append([]KernelArgument(nil), args...),
		groups: [3]uint32{x, y, z},
	})
}

func (l *commandList) UAVBarrier(resource any) {
	l.commands = append(l.commands, command{op: opUAVBarrier, resource: resource})
}

func (l *commandList) ClearTexture(tex Texture, color [4]float32) {
	l.commands = append(l.commands, command{op: opClearTexture, texture: tex, color: color})
}

func (l *commandList) CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64) {
	l.commands = append(l.commands, command{
		op:        opCopyBuffer,
		dst:       dst,
		dstOffset: dstOffset,
		src:       src,
		srcOffset: srcOffset,
		size:      size,
	})
}
