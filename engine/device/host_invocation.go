package device

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

// HostShaderFunc is the CPU implementation of a ray-generation, closest-hit, any-hit or
// miss shader. Host shaders run with the device locked and must reach memory through the
// invocation, never through Buffer.Map.
type HostShaderFunc func(inv *HostInvocation) error

// HostKernelFunc is the CPU implementation of a compute kernel. It runs once per dispatch
// and loops over KernelInvocation.Threads itself.
type HostKernelFunc func(k *KernelInvocation) error

// rayDispatch is the state shared by every invocation of one DispatchRays.
type rayDispatch struct {
	d    *device
	st   *replayState
	p    *raytracingPipeline
	desc DispatchRaysDesc
}

// HostInvocation is one shader invocation of a ray dispatch.
type HostInvocation struct {
	rd      *rayDispatch
	launch  [3]uint32
	record  []byte
	depth   uint32
	payload any

	ray      accel.Ray
	flags    accel.RayFlags
	hit      *accel.Hit
	decision accel.Decision
}

func (inv *HostInvocation) DispatchRaysIndex() [3]uint32 { return inv.launch }

func (inv *HostInvocation) DispatchRaysDimensions() [3]uint32 {
	return [3]uint32{inv.rd.desc.Width, inv.rd.desc.Height, max(inv.rd.desc.Depth, 1)}
}

// RecursionDepth is 0 for ray generation and grows by one per nested TraceRay.
func (inv *HostInvocation) RecursionDepth() uint32 { return inv.depth }

// LocalRootArguments returns the argument bytes of the shader record being executed.
func (inv *HostInvocation) LocalRootArguments() []byte { return inv.record }

// LocalUint32 reads a 32-bit local root argument at a byte offset.
func (inv *HostInvocation) LocalUint32(offset uint32) uint32 {
	if int(offset)+4 > len(inv.record) {
		return 0
	}
	return binary.LittleEndian.Uint32(inv.record[offset:])
}

// LocalUint64 reads a descriptor-sized local root argument at a byte offset.
func (inv *HostInvocation) LocalUint64(offset uint32) uint64 {
	if int(offset)+8 > len(inv.record) {
		return 0
	}
	return binary.LittleEndian.Uint64(inv.record[offset:])
}

// LocalConstants decodes fixed-size 32-bit constants at a byte offset of the record into v.
//
// Parameters:
//   - offset: byte offset inside the local root arguments
//   - v: a pointer to a fixed-size value
//
// Returns:
//   - error: an error if the record is too short for v
func (inv *HostInvocation) LocalConstants(offset uint32, v any) error {
	if int(offset) > len(inv.record) {
		return fmt.Errorf("local constants at %d outside a %d byte record", offset, len(inv.record))
	}
	return binary.Read(bytes.NewReader(inv.record[offset:]), binary.LittleEndian, v)
}

// GlobalRootArgument returns the value recorded for a global root parameter slot.
func (inv *HostInvocation) GlobalRootArgument(slot int) (RootArgument, bool) {
	arg, ok := inv.rd.st.rootArgs[slot]
	return arg, ok
}

// GlobalConstants decodes the constant buffer bound at a global slot into v. Root constant
// buffers are bound by GPU address.
//
// Parameters:
//   - slot: the global root parameter index
//   - v: a pointer to a fixed-size value
//
// Returns:
//   - error: an error if nothing is bound or the buffer is too small
func (inv *HostInvocation) GlobalConstants(slot int, v any) error {
	arg, ok := inv.rd.st.rootArgs[slot]
	if !ok {
		return fmt.Errorf("no global root argument at slot %d", slot)
	}
	if arg.Kind == RootArgumentConstants {
		return binary.Read(bytes.NewReader(common.SliceToBytes(arg.Constants)), binary.LittleEndian, v)
	}
	b, off, err := inv.rd.d.bufferAtLocked(arg.Address)
	if err != nil {
		return fmt.Errorf("global slot %d: %w", slot, err)
	}
	return binary.Read(bytes.NewReader(b.data[off:]), binary.LittleEndian, v)
}

// DescriptorAtHandle looks up the heap entry a GPU descriptor handle points at.
func (inv *HostInvocation) DescriptorAtHandle(handle uint64) (Descriptor, bool) {
	return descriptorAtHandle(inv.rd.st.heap, handle)
}

// GlobalDescriptorTable returns entry i of the descriptor table bound at a global slot.
func (inv *HostInvocation) GlobalDescriptorTable(slot, i int) (Descriptor, bool) {
	arg, ok := inv.rd.st.rootArgs[slot]
	if !ok || arg.Kind != RootArgumentDescriptorTable {
		return Descriptor{}, false
	}
	return descriptorAtHandle(inv.rd.st.heap, arg.Address+uint64(i)*DescriptorSize)
}

// ViewBytes returns the memory a buffer descriptor covers.
//
// Parameters:
//   - desc: a buffer view
//
// Returns:
//   - []byte: the viewed range
//   - error: an error if the view is not a buffer view or leaves its buffer
func (inv *HostInvocation) ViewBytes(desc Descriptor) ([]byte, error) {
	return viewBytes(inv.rd.d, desc)
}

// Memory resolves a wrapped pointer and returns size bytes starting at it.
func (inv *HostInvocation) Memory(ptr, size uint64) ([]byte, error) {
	b, off, err := inv.rd.d.resolvePointerLocked(ptr, inv.rd.st.heap)
	if err != nil {
		return nil, err
	}
	return b.bytes(off, size)
}

// LoadTexel reads one texel, clamping coordinates to the texture.
func (inv *HostInvocation) LoadTexel(tex Texture, x, y int, layer uint32) [4]float32 {
	return loadTexel(tex, x, y, layer)
}

// StoreTexel writes one texel. Out-of-range coordinates are dropped.
func (inv *HostInvocation) StoreTexel(tex Texture, x, y int, v [4]float32) {
	storeTexel(tex, x, y, v)
}

// SampleLevel samples a 2D texture bilinearly with clamped addressing.
func (inv *HostInvocation) SampleLevel(tex Texture, u, v float32) [4]float32 {
	return sampleBilinear(tex, u, v, 0)
}

// SampleCube samples a cube map in direction dir.
func (inv *HostInvocation) SampleCube(tex Texture, dir common.Vec3) [4]float32 {
	return sampleCube(tex, dir)
}

// Payload returns the payload passed to the TraceRay that started this invocation. It is
// nil during ray generation.
func (inv *HostInvocation) Payload() any { return inv.payload }

// WorldRay returns the ray being traced by hit and miss shaders.
func (inv *HostInvocation) WorldRay() accel.Ray { return inv.ray }

func (inv *HostInvocation) RayFlags() accel.RayFlags { return inv.flags }

// Hit returns the candidate or committed hit for hit shaders.
func (inv *HostInvocation) Hit() (accel.Hit, bool) {
	if inv.hit == nil {
		return accel.Hit{}, false
	}
	return *inv.hit, true
}

// IgnoreHit rejects the current candidate from an any-hit shader.
func (inv *HostInvocation) IgnoreHit() { inv.decision = accel.Ignore }

// AcceptHitAndEndSearch commits the current candidate and stops traversal.
func (inv *HostInvocation) AcceptHitAndEndSearch() { inv.decision = accel.AcceptAndEndSearch }

// TraceRay traces a ray against the top level a wrapped pointer names and runs the hit or
// miss shader its records select. Hit records are chosen the DXR way:
// hitBase + stride*(rayContribution + multiplier*geometryIndex + instanceContribution),
// with one geometry per bottom level. Miss records are missBase + stride*missIndex.
//
// Parameters:
//   - tlas: wrapped pointer to the top level
//   - flags: ray flags
//   - mask: instance inclusion mask
//   - rayContribution: RayContributionToHitGroupIndex
//   - multiplier: MultiplierForGeometryContributionToHitGroupIndex
//   - missIndex: MissShaderIndex
//   - ray: the world-space ray
//   - payload: the payload handed to the invoked shaders
//
// Returns:
//   - error: ErrRecursionLimit past the pipeline's depth, or the first shader error
func (inv *HostInvocation) TraceRay(tlas uint64, flags accel.RayFlags, mask uint8, rayContribution, multiplier, missIndex uint32, ray accel.Ray, payload any) error {
	rd := inv.rd
	depth := inv.depth + 1
	if depth > rd.p.desc.MaxTraceRecursionDepth {
		return fmt.Errorf("%w: depth %d, pipeline allows %d", ErrRecursionLimit, depth, rd.p.desc.MaxTraceRecursionDepth)
	}
	if limit := rd.p.desc.MaxPayloadSize; limit > 0 && payload != nil {
		if size := binary.Size(payload); size > 0 && uint32(size) > limit {
			return fmt.Errorf("payload of %d bytes exceeds the pipeline maximum of %d", size, limit)
		}
	}
	top, err := rd.d.topLevelLocked(tlas, rd.st.heap)
	if err != nil {
		return fmt.Errorf("trace ray: %w", err)
	}

	child := func(record []byte, hit *accel.Hit) *HostInvocation {
		return &HostInvocation{
			rd:      rd,
			launch:  inv.launch,
			record:  record,
			depth:   depth,
			payload: payload,
			ray:     ray,
			flags:   flags,
			hit:     hit,
		}
	}

	var anyHitErr error
	opts := accel.TraceOptions{
		Flags: flags,
		Mask:  mask,
		AnyHit: func(c *accel.Hit) accel.Decision {
			record, exp, ok, err := rd.hitRecord(rayContribution + c.InstanceContribution)
			if err != nil {
				anyHitErr = err
				return accel.AcceptAndEndSearch
			}
			if !ok || exp.AnyHit == "" {
				return accel.Accept
			}
			fn, err := rd.hostShader(exp.AnyHit)
			if err != nil {
				anyHitErr = err
				return accel.AcceptAndEndSearch
			}
			ah := child(record, c)
			if err := fn(ah); err != nil {
				anyHitErr = fmt.Errorf("any-hit %q: %w", exp.AnyHit, err)
				return accel.AcceptAndEndSearch
			}
			return ah.decision
		},
	}
	hit, ok := top.Trace(ray, opts)
	if anyHitErr != nil {
		return anyHitErr
	}

	if !ok {
		record, exp, found, err := rd.missRecord(missIndex)
		if err != nil || !found {
			return err
		}
		fn, err := rd.hostShader(exp.Shader)
		if err != nil {
			return err
		}
		if err := fn(child(record, nil)); err != nil {
			return fmt.Errorf("miss %q: %w", exp.Shader, err)
		}
		return nil
	}

	if flags&accel.RayFlagSkipClosestHitShader != 0 {
		return nil
	}
	record, exp, found, err := rd.hitRecord(rayContribution + hit.InstanceContribution)
	if err != nil || !found || exp.ClosestHit == "" {
		return err
	}
	fn, err := rd.hostShader(exp.ClosestHit)
	if err != nil {
		return err
	}
	if err := fn(child(record, &hit)); err != nil {
		return fmt.Errorf("closest-hit %q: %w", exp.ClosestHit, err)
	}
	return nil
}

// hitRecord returns the argument bytes and export of hit record index. A null identifier
// or an index past the table reports found=false, which runs nothing.
func (rd *rayDispatch) hitRecord(index uint32) ([]byte, ShaderExport, bool, error) {
	t := rd.desc.HitGroupTable
	return rd.recordAt(t.StartAddress, t.SizeInBytes, t.StrideInBytes, index, ShaderExportHitGroup)
}

func (rd *rayDispatch) missRecord(index uint32) ([]byte, ShaderExport, bool, error) {
	t := rd.desc.MissShaderTable
	return rd.recordAt(t.StartAddress, t.SizeInBytes, t.StrideInBytes, index, ShaderExportMiss)
}

func (rd *rayDispatch) recordAt(start, size, stride uint64, index uint32, kind ShaderExportKind) ([]byte, ShaderExport, bool, error) {
	if stride == 0 {
		stride = size
	}
	offset := stride * uint64(index)
	if stride == 0 || offset+stride > size {
		return nil, ShaderExport{}, false, nil
	}
	b, off, err := rd.d.bufferAtLocked(start + offset)
	if err != nil {
		return nil, ShaderExport{}, false, fmt.Errorf("shader record %d: %w", index, err)
	}
	rec, err := b.bytes(off, stride)
	if err != nil {
		return nil, ShaderExport{}, false, fmt.Errorf("shader record %d: %w", index, err)
	}
	exp, ok := rd.p.exportAt(rec[:ShaderIdentifierSize])
	if !ok {
		return nil, ShaderExport{}, false, nil
	}
	if exp.Kind != kind {
		return nil, ShaderExport{}, false, fmt.Errorf("shader record %d names %q, which is not a %s export", index, exp.Name, kind)
	}
	return rec[ShaderIdentifierSize:], exp, true, nil
}

func (rd *rayDispatch) hostShader(name string) (HostShaderFunc, error) {
	fn := rd.p.host(name)
	if fn == nil {
		return nil, fmt.Errorf("pipeline %q has no host implementation of %q", rd.p.desc.Label, name)
	}
	return fn, nil
}

func (k ShaderExportKind) String() string {
	switch k {
	case ShaderExportRayGen:
		return "ray generation"
	case ShaderExportMiss:
		return "miss"
	case ShaderExportHitGroup:
		return "hit group"
	default:
		return "null"
	}
}

// KernelInvocation gives a host compute kernel access to the resources of one dispatch.
type KernelInvocation struct {
	d      *device
	k      *computeKernel
	args   map[uint32]KernelArgument
	groups [3]uint32
}

// Groups returns the dispatched workgroup counts.
func (k *KernelInvocation) Groups() [3]uint32 { return k.groups }

// Threads returns the total invocation grid: workgroup counts times workgroup size.
func (k *KernelInvocation) Threads() [3]uint32 {
	ws := k.k.WorkgroupSize()
	return [3]uint32{k.groups[0] * ws[0], k.groups[1] * ws[1], k.groups[2] * ws[2]}
}

// Texture returns the texture bound at binding, or nil.
func (k *KernelInvocation) Texture(binding uint32) Texture {
	return k.args[binding].Texture
}

// Uniform decodes the data or buffer bound at binding into v.
//
// Parameters:
//   - binding: the binding slot
//   - v: a pointer to a fixed-size value
//
// Returns:
//   - error: an error if nothing is bound or the data is too short
func (k *KernelInvocation) Uniform(binding uint32, v any) error {
	arg, ok := k.args[binding]
	if !ok {
		return fmt.Errorf("kernel %q: nothing bound at binding %d", k.k.desc.Label, binding)
	}
	data := arg.Data
	if data == nil && arg.Buffer != nil {
		b, off, err := k.d.bufferAtLocked(arg.Buffer.Address())
		if err != nil {
			return err
		}
		data = b.data[off:]
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

// LoadTexel reads a texel of the texture bound at binding.
func (k *KernelInvocation) LoadTexel(binding uint32, x, y int) [4]float32 {
	return loadTexel(k.args[binding].Texture, x, y, 0)
}

// StoreTexel writes a texel of the texture bound at binding.
func (k *KernelInvocation) StoreTexel(binding uint32, x, y int, v [4]float32) {
	storeTexel(k.args[binding].Texture, x, y, v)
}

func descriptorAtHandle(heap DescriptorHeapView, handle uint64) (Descriptor, bool) {
	if heap == nil || handle < heap.GPUHandleBase() {
		return Descriptor{}, false
	}
	delta := handle - heap.GPUHandleBase()
	if delta%DescriptorSize != 0 {
		return Descriptor{}, false
	}
	return heap.Descriptor(int(delta / DescriptorSize))
}

func viewBytes(d *device, desc Descriptor) ([]byte, error) {
	if desc.Buffer == nil {
		return nil, fmt.Errorf("%w: descriptor is not a buffer view", ErrInvalidAddress)
	}
	stride := uint64(desc.Stride)
	if desc.Raw || stride == 0 {
		stride = 4
	}
	b, off, err := d.bufferAtLocked(desc.Buffer.Address() + uint64(desc.FirstElement)*stride)
	if err != nil {
		return nil, err
	}
	size := uint64(desc.NumElements) * stride
	if size == 0 {
		size = b.size - off
	}
	return b.bytes(off, size)
}
