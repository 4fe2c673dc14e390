package device

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

// BackendType identifies the implementation behind a Device.
type BackendType int

const (
	// BackendTypeHeadless replays command lists on the CPU and runs host shaders.
	BackendTypeHeadless BackendType = iota

	// BackendTypeWGPU emulates ray dispatch with WebGPU compute.
	BackendTypeWGPU
)

func (b BackendType) String() string {
	switch b {
	case BackendTypeHeadless:
		return "headless"
	case BackendTypeWGPU:
		return "wgpu"
	default:
		return "unknown"
	}
}

// Fence is a monotonically increasing submission marker.
type Fence uint64

// BufferUsage describes how a buffer will be used. All buffers live in the same address
// space; usage is validated by commands that care about it.
type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageConstant
	// BufferUsageUpload marks CPU-written buffers such as shader tables.
	BufferUsageUpload
	BufferUsageAccelerationStructure
	BufferUsageScratch
	BufferUsageInstanceDescs
)

// BufferDescriptor configures CreateBuffer.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureFormat enumerates the texel formats the framework uses.
type TextureFormat int

const (
	TextureFormatRGBA8Unorm TextureFormat = iota
	TextureFormatRGBA8UnormSrgb
	TextureFormatRGBA16Float
	TextureFormatRGBA32Float
	TextureFormatBGRA8Unorm
)

// BytesPerTexel returns the size of one texel of the format.
func (f TextureFormat) BytesPerTexel() uint32 {
	switch f {
	case TextureFormatRGBA16Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// TextureUsage flags.
type TextureUsage uint32

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageCopyDst
	TextureUsageCopySrc
	TextureUsageRenderAttachment
)

// TextureDescriptor configures CreateTexture.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format TextureFormat
	Usage  TextureUsage
	// Cube creates six array layers addressed as a cube map.
	Cube bool
}

// DescriptorSize is the stride of one descriptor heap entry in bytes.
const DescriptorSize = 32

// DescriptorKind is the view type stored in a heap slot.
type DescriptorKind uint32

const (
	DescriptorKindNone DescriptorKind = iota
	DescriptorKindBufferSRV
	DescriptorKindBufferUAV
	DescriptorKindTextureSRV
	DescriptorKindTextureUAV
	DescriptorKindConstantBuffer
)

// Descriptor is one heap entry. Buffer views address FirstElement*Stride bytes into
// Buffer; raw views use a 4 byte stride.
type Descriptor struct {
	Kind         DescriptorKind
	Buffer       Buffer
	Texture      Texture
	FirstElement uint32
	NumElements  uint32
	Stride       uint32
	Raw          bool
	Cube         bool
}

// DescriptorHeapView is the heap a command list binds with SetDescriptorHeap.
type DescriptorHeapView interface {
	// Descriptor returns the heap entry at index.
	//
	// Parameters:
	//   - index: the slot to read
	//
	// Returns:
	//   - Descriptor: the entry
	//   - bool: false when index is outside the allocated range
	Descriptor(index int) (Descriptor, bool)

	// Len returns the number of slots in the heap.
	Len() int

	// GPUHandleBase returns the GPU handle of slot 0.
	GPUHandleBase() uint64

	// Buffer returns the device buffer holding the serialized heap.
	Buffer() Buffer
}

// RootArgumentKind identifies the type of a root argument.
type RootArgumentKind int

const (
	RootArgumentConstantBuffer RootArgumentKind = iota
	RootArgumentShaderResource
	RootArgumentUnorderedAccess
	RootArgumentDescriptorTable
	RootArgumentConstants
)

// RootArgument is one global root parameter value.
type RootArgument struct {
	Kind RootArgumentKind
	// Address is a GPU address, wrapped pointer or heap handle depending on Kind.
	Address   uint64
	Constants []uint32
}

// GPUAddressRange is a span of shader table memory.
type GPUAddressRange struct {
	StartAddress uint64
	SizeInBytes  uint64
}

// GPUAddressRangeAndStride is a span of equally sized records.
type GPUAddressRangeAndStride struct {
	StartAddress  uint64
	SizeInBytes   uint64
	StrideInBytes uint64
}

// DispatchRaysDesc locates the shader table regions and the launch grid.
type DispatchRaysDesc struct {
	RayGenerationShaderRecord GPUAddressRange
	MissShaderTable           GPUAddressRangeAndStride
	HitGroupTable             GPUAddressRangeAndStride
	Width                     uint32
	Height                    uint32
	Depth                     uint32
}

// ShaderIdentifierSize is the size of a shader identifier at the start of each record.
const ShaderIdentifierSize = 32

// ShaderExportKind is the role of a pipeline export.
type ShaderExportKind uint32

const (
	ShaderExportNone ShaderExportKind = iota
	ShaderExportRayGen
	ShaderExportMiss
	ShaderExportHitGroup
)

// HitGroupType distinguishes triangle and procedural hit groups.
type HitGroupType int

const (
	HitGroupTypeTriangles HitGroupType = iota
	HitGroupTypeProcedural
)

// ShaderExport is one entry of a ray-tracing pipeline's export table.
type ShaderExport struct {
	Name string
	Kind ShaderExportKind
	// Shader names the ray-gen or miss function.
	Shader string
	// Hit group members; empty names are absent.
	ClosestHit   string
	AnyHit       string
	Intersection string
	HitGroupType HitGroupType
}

// BindingKind is the type of a kernel or pipeline binding slot.
type BindingKind int

const (
	BindingKindUniformBuffer BindingKind = iota
	BindingKindStorageBuffer
	BindingKindReadOnlyStorageBuffer
	BindingKindSampledTexture
	BindingKindStorageTexture
	BindingKindSampler
)

// BindingLayout describes one @group/@binding slot of a shader.
type BindingLayout struct {
	Group   uint32
	Binding uint32
	Kind    BindingKind
	Name    string
	// Cube marks sampled textures declared as cube maps.
	Cube bool
	// Format is the texel format of storage textures.
	Format TextureFormat
	// MinBindingSize is the byte size of buffer bindings when known.
	MinBindingSize uint64
}

// ShaderLibrarySource is the device-level view of a compiled shader library.
type ShaderLibrarySource struct {
	Label         string
	Source        string
	EntryPoint    string
	WorkgroupSize [3]uint32
	Bindings      []BindingLayout
	// HostShaders maps export function names to their CPU implementation.
	HostShaders map[string]HostShaderFunc
}

// RaytracingPipelineDescriptor configures CreateRaytracingPipeline.
type RaytracingPipelineDescriptor struct {
	Label                  string
	Exports                []ShaderExport
	Libraries              []ShaderLibrarySource
	MaxTraceRecursionDepth uint32
	MaxPayloadSize         uint32
	MaxAttributeSize       uint32
}

// ComputeKernelDescriptor configures CreateComputeKernel.
type ComputeKernelDescriptor struct {
	Label         string
	Source        string
	EntryPoint    string
	WorkgroupSize [3]uint32
	Bindings      []BindingLayout
	// Host runs the kernel on headless devices.
	Host HostKernelFunc
}

// KernelArgument binds a resource to one binding slot of a compute kernel.
type KernelArgument struct {
	Binding uint32
	Buffer  Buffer
	Texture Texture
	// Data is uploaded into a transient uniform buffer when set.
	Data []byte
}

// AccelerationStructureType selects a bottom or top-level build.
type AccelerationStructureType int

const (
	AccelerationStructureTypeBottomLevel AccelerationStructureType = iota
	AccelerationStructureTypeTopLevel
)

// GeometryDesc is one triangle geometry of a bottom-level build.
type GeometryDesc struct {
	VertexBuffer Buffer
	VertexOffset uint64
	VertexCount  uint32
	VertexStride uint32
	// IndexBuffer holds uint32 indices and may be nil.
	IndexBuffer Buffer
	IndexOffset uint64
	IndexCount  uint32
	Flags       accel.GeometryFlags
}

// AccelerationStructureInputs describe what a build consumes.
type AccelerationStructureInputs struct {
	Type       AccelerationStructureType
	Geometries []GeometryDesc
	// InstanceDescs holds NumInstances accel.InstanceDesc entries for top-level builds.
	InstanceDescs Buffer
	NumInstances  uint32
}

// PrimitiveCount returns the total triangle count of a bottom-level input.
func (in AccelerationStructureInputs) PrimitiveCount() uint32 {
	var n uint32
	for _, g := range in.Geometries {
		if g.IndexCount > 0 {
			n += g.IndexCount / 3
		} else {
			n += g.VertexCount / 3
		}
	}
	return n
}

// BuildAccelerationStructureDesc is recorded by BuildRaytracingAccelerationStructure.
type BuildAccelerationStructureDesc struct {
	Inputs  AccelerationStructureInputs
	Dest    Buffer
	Scratch Buffer
}
