package device

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

type testHeap struct {
	slots []Descriptor
}

func (h *testHeap) Descriptor(i int) (Descriptor, bool) {
	if i < 0 || i >= len(h.slots) {
		return Descriptor{}, false
	}
	return h.slots[i], true
}

func (h *testHeap) Len() int              { return len(h.slots) }
func (h *testHeap) GPUHandleBase() uint64 { return 0x1000 }
func (h *testHeap) Buffer() Buffer        { return nil }

type testPayload struct {
	Value float32
}

func newTestDevice(t *testing.T, options ...DeviceBuilderOption) Device {
	t.Helper()
	d, err := NewDevice(append([]DeviceBuilderOption{WithArenaSize(1 << 20), WithBuildWorkers(2)}, options...)...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(d.Release)
	return d
}

func createBuffer(t *testing.T, d Device, label string, data []byte, size uint64) Buffer {
	t.Helper()
	b, err := d.CreateBuffer(BufferDescriptor{Label: label, Size: max(size, uint64(len(data)))})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if data != nil {
		mem, err := b.Map()
		if err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		copy(mem, data)
		if err := b.Unmap(); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}
	return b
}

func TestBufferMapLifecycle(t *testing.T) {
	d := newTestDevice(t)
	b := createBuffer(t, d, "lifecycle", nil, 100)

	if b.Address() == 0 || b.Size() != 100 {
		t.Fatalf("expected a non-null 100 byte buffer; got address %#x size %d", b.Address(), b.Size())
	}
	mem, err := b.Map()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if len(mem) != 100 {
		t.Fatalf("expected 100 mapped bytes; got %d", len(mem))
	}
	if _, err := b.Map(); !errors.Is(err, ErrMapFailed) {
		t.Fatalf("expected a second Map to fail with ErrMapFailed; got %v", err)
	}
	if err := b.Unmap(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.Unmap(); !errors.Is(err, ErrMapFailed) {
		t.Fatalf("expected Unmap of an unmapped buffer to fail; got %v", err)
	}
	b.Release()
	b.Release()
	if _, err := b.Map(); !errors.Is(err, ErrMapFailed) {
		t.Fatalf("expected Map of a released buffer to fail with ErrMapFailed; got %v", err)
	}
	if got := d.ArenaStats().Allocations; got != 0 {
		t.Errorf("Allocations = %d, want 0", got)
	}
}

func TestCreateBufferOutOfArena(t *testing.T) {
	d := newTestDevice(t, WithArenaSize(4096))
	if _, err := d.CreateBuffer(BufferDescriptor{Label: "huge", Size: 8192}); !errors.Is(err, ErrOutOfArenaMemory) {
		t.Fatalf("expected ErrOutOfArenaMemory; got %v", err)
	}
}

func TestReleasedDevice(t *testing.T) {
	d, err := NewDevice()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	d.Release()
	if _, err := d.CreateBuffer(BufferDescriptor{Size: 16}); !errors.Is(err, ErrDeviceRemoved) {
		t.Fatalf("expected ErrDeviceRemoved; got %v", err)
	}
	if _, err := d.Submit(d.NewCommandList("late")); !errors.Is(err, ErrDeviceRemoved) {
		t.Fatalf("expected ErrDeviceRemoved; got %v", err)
	}
}

func TestShaderIdentifierEncoding(t *testing.T) {
	id := EncodeShaderIdentifier(3, ShaderExportHitGroup)
	if len(id) != ShaderIdentifierSize {
		t.Fatalf("expected %d bytes; got %d", ShaderIdentifierSize, len(id))
	}
	index, kind, ok := DecodeShaderIdentifier(id)
	if !ok || index != 3 || kind != ShaderExportHitGroup {
		t.Fatalf("expected (3, hit group, true); got (%d, %v, %v)", index, kind, ok)
	}
	if _, _, ok := DecodeShaderIdentifier(make([]byte, ShaderIdentifierSize)); ok {
		t.Fatalf("expected a null identifier to decode as absent")
	}
}

func TestTexturesWriteClearRead(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.CreateTexture(TextureDescriptor{Label: "tex", Width: 2, Height: 1, Format: TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := d.WriteTexture(tex, []byte{255, 0, 0, 255}); err == nil {
		t.Fatalf("expected a size mismatch error")
	}
	if err := d.WriteTexture(tex, []byte{255, 0, 0, 255, 0, 255, 0, 255}); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	texels, err := d.ReadTexture(tex)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if texels[0] != 1 || texels[5] != 1 {
		t.Fatalf("expected red then green; got %v", texels)
	}

	list := d.NewCommandList("clear")
	list.ClearTexture(tex, [4]float32{0.3, 0.2, 0.1, 1})
	if _, err := d.Submit(list); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	texels, _ = d.ReadTexture(tex)
	if texels[4] != 0.3 || texels[7] != 1 {
		t.Fatalf("expected the clear color; got %v", texels)
	}
	if _, err := d.CreateTexture(TextureDescriptor{Width: 4, Height: 2, Cube: true}); err == nil {
		t.Fatalf("expected non-square cube faces to be rejected")
	}
}

// traceFixture builds one triangle instance on a headless device and a shader table with
// a ray generation, a miss and one hit group record.
type traceFixture struct {
	d        Device
	heap     *testHeap
	out      Texture
	table    Buffer
	pipeline RaytracingPipeline
}

const fixtureRecordSize = 64

func newTraceFixture(t *testing.T, recursion uint32, chit HostShaderFunc, withMiss bool) *traceFixture {
	t.Helper()
	d := newTestDevice(t)

	verts := []common.Vertex{
		{Position: common.Vec3{-1, -1, 0}, Normal: common.Vec3{0, 0, 1}},
		{Position: common.Vec3{1, -1, 0}, Normal: common.Vec3{0, 0, 1}},
		{Position: common.Vec3{0, 1, 0}, Normal: common.Vec3{0, 0, 1}},
	}
	vb := createBuffer(t, d, "vb", common.SliceToBytes(verts), 0)

	bottomInputs := AccelerationStructureInputs{
		Type:       AccelerationStructureTypeBottomLevel,
		Geometries: []GeometryDesc{{VertexBuffer: vb, VertexCount: 3, VertexStride: common.VertexStride, Flags: accel.GeometryFlagOpaque}},
	}
	bottomInfo := d.AccelerationStructurePrebuildInfo(bottomInputs)
	blas := createBuffer(t, d, "blas", nil, bottomInfo.ResultDataMaxSizeInBytes)

	topInfo := d.AccelerationStructurePrebuildInfo(AccelerationStructureInputs{Type: AccelerationStructureTypeTopLevel, NumInstances: 1})
	tlas := createBuffer(t, d, "tlas", nil, topInfo.ResultDataMaxSizeInBytes)

	heap := &testHeap{slots: []Descriptor{
		{Kind: DescriptorKindBufferSRV, Buffer: blas, Raw: true},
		{Kind: DescriptorKindBufferSRV, Buffer: tlas, Raw: true},
	}}
	instances := accel.EncodeInstanceDescs([]accel.InstanceDesc{{
		Transform:             common.Identity4().To3x4(),
		Mask:                  0xFF,
		AccelerationStructure: 0, // heap slot 0, offset 0
	}})
	instanceBuf := createBuffer(t, d, "instances", instances, 0)

	list := d.NewCommandList("build")
	list.SetDescriptorHeap(heap)
	list.BuildRaytracingAccelerationStructure(BuildAccelerationStructureDesc{Inputs: bottomInputs, Dest: blas})
	list.BuildRaytracingAccelerationStructure(BuildAccelerationStructureDesc{
		Inputs: AccelerationStructureInputs{Type: AccelerationStructureTypeTopLevel, InstanceDescs: instanceBuf, NumInstances: 1},
		Dest:   tlas,
	})
	fence, err := d.Submit(list)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := d.Wait(fence); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	out, err := d.CreateTexture(TextureDescriptor{Label: "out", Width: 2, Height: 1, Format: TextureFormatRGBA32Float})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	origins := []common.Vec3{{0, 0, 10}, {5, 5, 10}}
	gen := func(inv *HostInvocation) error {
		x := inv.DispatchRaysIndex()[0]
		arg, _ := inv.GlobalRootArgument(0)
		p := &testPayload{}
		ray := accel.Ray{Origin: origins[x], TMin: 0.001, Direction: common.Vec3{0, 0, -1}, TMax: 100}
		if err := inv.TraceRay(arg.Address, accel.RayFlagNone, 0xFF, 0, 1, 0, ray, p); err != nil {
			return err
		}
		inv.StoreTexel(out, int(x), 0, [4]float32{p.Value, p.Value, p.Value, 1})
		return nil
	}
	miss := func(inv *HostInvocation) error {
		inv.Payload().(*testPayload).Value = 0.5
		return nil
	}

	pipeline, err := d.CreateRaytracingPipeline(RaytracingPipelineDescriptor{
		Label: "fixture",
		Exports: []ShaderExport{
			{Name: "RayGen", Kind: ShaderExportRayGen, Shader: "gen"},
			{Name: "Miss", Kind: ShaderExportMiss, Shader: "miss"},
			{Name: "HitGroup0", Kind: ShaderExportHitGroup, ClosestHit: "chit"},
		},
		Libraries: []ShaderLibrarySource{{
			Label:       "host",
			HostShaders: map[string]HostShaderFunc{"gen": gen, "miss": miss, "chit": chit},
		}},
		MaxTraceRecursionDepth: recursion,
		MaxPayloadSize:         20,
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	records := make([]byte, 3*fixtureRecordSize)
	for i, name := range []string{"RayGen", "Miss", "HitGroup0"} {
		if name == "Miss" && !withMiss {
			continue
		}
		id, ok := pipeline.ShaderIdentifier(name)
		if !ok {
			t.Fatalf("expected an identifier for %q", name)
		}
		copy(records[i*fixtureRecordSize:], id)
	}
	table := createBuffer(t, d, "table", records, 0)

	return &traceFixture{d: d, heap: heap, out: out, table: table, pipeline: pipeline}
}

func (f *traceFixture) dispatch() error {
	base := f.table.Address()
	list := f.d.NewCommandList("trace")
	list.SetDescriptorHeap(f.heap)
	list.SetComputeRootArgument(0, RootArgument{Kind: RootArgumentShaderResource, Address: 1}) // heap slot 1
	list.DispatchRays(f.pipeline, DispatchRaysDesc{
		RayGenerationShaderRecord: GPUAddressRange{StartAddress: base, SizeInBytes: fixtureRecordSize},
		MissShaderTable:           GPUAddressRangeAndStride{StartAddress: base + fixtureRecordSize, SizeInBytes: fixtureRecordSize, StrideInBytes: fixtureRecordSize},
		HitGroupTable:             GPUAddressRangeAndStride{StartAddress: base + 2*fixtureRecordSize, SizeInBytes: fixtureRecordSize, StrideInBytes: fixtureRecordSize},
		Width:                     2,
		Height:                    1,
		Depth:                     1,
	})
	_, err := f.d.Submit(list)
	return err
}

func TestDispatchRaysHitAndMiss(t *testing.T) {
	chit := func(inv *HostInvocation) error {
		hit, ok := inv.Hit()
		if !ok || hit.InstanceIndex != 0 {
			return errors.New("expected a committed hit on instance 0")
		}
		inv.Payload().(*testPayload).Value = 1
		return nil
	}
	f := newTraceFixture(t, 1, chit, true)
	if err := f.dispatch(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	texels, err := f.d.ReadTexture(f.out)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if texels[0] != 1 {
		t.Fatalf("expected the hit pixel to be 1; got %v", texels[0])
	}
	if texels[4] != 0.5 {
		t.Fatalf("expected the miss pixel to be 0.5; got %v", texels[4])
	}
}

func TestDispatchRaysNullMissRecordIsNoOp(t *testing.T) {
	chit := func(inv *HostInvocation) error {
		inv.Payload().(*testPayload).Value = 1
		return nil
	}
	f := newTraceFixture(t, 1, chit, false)
	if err := f.dispatch(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	texels, _ := f.d.ReadTexture(f.out)
	if texels[4] != 0 {
		t.Fatalf("expected the null miss record to leave the payload untouched; got %v", texels[4])
	}
}

func TestDispatchRaysRecursionLimit(t *testing.T) {
	chit := func(inv *HostInvocation) error {
		arg, _ := inv.GlobalRootArgument(0)
		ray := inv.WorldRay()
		return inv.TraceRay(arg.Address, accel.RayFlagNone, 0xFF, 0, 1, 0, ray, inv.Payload())
	}
	f := newTraceFixture(t, 1, chit, true)
	if err := f.dispatch(); !errors.Is(err, ErrRecursionLimit) {
		t.Fatalf("expected ErrRecursionLimit; got %v", err)
	}
}

func TestNativePointersAreAddresses(t *testing.T) {
	d := newTestDevice(t, WithNativeRaytracing(true))
	if !d.SupportsNativeRaytracing() {
		t.Fatalf("expected native ray tracing to be reported")
	}
	b := createBuffer(t, d, "data", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	impl := d.(*device)
	got, off, err := impl.resolvePointerLocked(b.Address()+4, nil)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if got.Address() != b.Address() || off != 4 {
		t.Fatalf("expected offset 4 into the buffer; got %#x+%d", got.Address(), off)
	}
}

func TestEmulatedPointersUseTheHeap(t *testing.T) {
	d := newTestDevice(t)
	b := createBuffer(t, d, "data", nil, 64)
	heap := &testHeap{slots: []Descriptor{{}, {Kind: DescriptorKindBufferSRV, Buffer: b, FirstElement: 2, Stride: 8}}}
	impl := d.(*device)

	got, off, err := impl.resolvePointerLocked(uint64(4)<<32|1, heap)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if got.Address() != b.Address() || off != 20 {
		t.Fatalf("expected offset 20; got %d", off)
	}
	if _, _, err := impl.resolvePointerLocked(0, heap); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for an empty slot; got %v", err)
	}
}
