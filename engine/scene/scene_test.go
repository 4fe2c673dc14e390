package scene

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

func newTestContext(t *testing.T) *raytracing.Context {
	t.Helper()
	dev, err := device.NewDevice(device.WithArenaSize(8<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	ctx, err := raytracing.NewContext(dev)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(ctx.Release)
	return ctx
}

func newTestModel(t *testing.T, ctx *raytracing.Context, name string, mesh model.Mesh) model.Model {
	t.Helper()
	m, err := model.NewModel(ctx.Device(), model.WithName(name), model.WithMesh(mesh))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return m
}

func TestSceneBuildInstanceDescs(t *testing.T) {
	ctx := newTestContext(t)
	cube := newTestModel(t, ctx, "cube", model.CubeMesh(1))
	s := NewScene("test", WithBuildWorkers(2),
		WithModel(cube, common.Translation(common.Vec3{-2, 0, 0})),
		WithModel(cube, common.Translation(common.Vec3{2, 0, 0})),
	)
	defer s.Release()
	s.AddModel(newTestModel(t, ctx, "ground", model.PlaneMesh(10)), common.Identity4())

	if _, err := s.TLASWrappedPointer(); !errors.Is(err, ErrSceneNotBuilt) {
		t.Errorf("expected ErrSceneNotBuilt; got %v", err)
	}
	if err := s.Build(ctx, 2); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if !s.Built() || s.InstanceCount() != 3 || len(s.Models()) != 2 {
		t.Fatalf("Built() = %v, InstanceCount() = %d, models = %d, want true, 3, 2", s.Built(), s.InstanceCount(), len(s.Models()))
	}

	mem, err := s.(*scene).instanceBuffer.Map()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer s.(*scene).instanceBuffer.Unmap()
	for i, inst := range s.Instances() {
		desc := accel.DecodeInstanceDesc(mem[i*accel.InstanceDescSize:])
		ptr, _ := inst.Model.BLASWrappedPointer()
		if desc.InstanceID != uint32(i) || desc.InstanceContributionToHitGroupIndex != uint32(i) || desc.Mask != 0xFF {
			t.Errorf("instance %d = %+v, want ID and contribution %d with mask 0xFF", i, desc, i)
		}
		if desc.AccelerationStructure != uint64(ptr) {
			t.Errorf("instance %d points at %#x, want %#x", i, desc.AccelerationStructure, uint64(ptr))
		}
		if desc.Transform != inst.Transform.To3x4() {
			t.Errorf("instance %d transform = %v, want %v", i, desc.Transform, inst.Transform.To3x4())
		}
	}
}

func TestSceneBuildRejectsZeroHitGroups(t *testing.T) {
	ctx := newTestContext(t)
	s := NewScene("test")
	defer s.Release()
	if err := s.Build(ctx, 0); err == nil {
		t.Error("expected an error for zero hit groups")
	}
}

func TestSceneSetTransformMarksStale(t *testing.T) {
	ctx := newTestContext(t)
	s := NewScene("test")
	defer s.Release()
	s.AddModel(newTestModel(t, ctx, "tri", model.DefaultMesh()), common.Identity4())
	if err := s.Build(ctx, 1); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := s.SetTransform(0, common.Translation(common.Vec3{0, 1, 0})); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if s.Built() {
		t.Error("expected the scene to be stale after SetTransform")
	}
	if err := s.SetTransform(4, common.Identity4()); err == nil {
		t.Error("expected an error for an out of range instance")
	}
	if err := s.Build(ctx, 1); err != nil {
		t.Fatalf("expected no error rebuilding; got %v", err)
	}
	if !s.Built() {
		t.Error("expected the rebuilt scene to be current")
	}
}

func TestSceneRebuildReusesHeapSlot(t *testing.T) {
	dev, err := device.NewDevice(device.WithArenaSize(8<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	ctx, err := raytracing.NewContext(dev, raytracing.WithDescriptorHeapSize(8))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(ctx.Release)

	s := NewScene("test")
	defer s.Release()
	s.AddModel(newTestModel(t, ctx, "tri", model.DefaultMesh()), common.Identity4())
	if err := s.Build(ctx, 1); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	slots := ctx.DescriptorHeap().Len()
	first, err := s.TLASWrappedPointer()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	// far more rebuilds than the heap has slots
	for i := 0; i < 32; i++ {
		if err := s.SetTransform(0, common.Translation(common.Vec3{float32(i), 0, 0})); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		if err := s.Build(ctx, 1); err != nil {
			t.Fatalf("rebuild %d: expected no error; got %v", i, err)
		}
	}
	if got := ctx.DescriptorHeap().Len(); got != slots {
		t.Errorf("DescriptorHeap().Len() = %d after rebuilds, want %d", got, slots)
	}
	ptr, err := s.TLASWrappedPointer()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if ptr != first {
		t.Errorf("TLASWrappedPointer() = %v, want the original slot %v", ptr, first)
	}
	if desc, ok := ctx.DescriptorHeap().Descriptor(int(ptr.Slot())); !ok || desc.Buffer != s.TLASBuffer() {
		t.Errorf("slot %d does not view the rebuilt top level", ptr.Slot())
	}
}

// TestSceneTraceRay traces one ray per pixel: columns pick the ray, rows pick the ray type.
// Closest-hit shaders report the constant stored in their record, so every hit lands on
// the record firstHit + rayType*I + instance.
func TestSceneTraceRay(t *testing.T) {
	const width, height = 3, 2
	ctx := newTestContext(t)

	s := NewScene("trace")
	defer s.Release()
	s.AddModel(newTestModel(t, ctx, "ground", model.PlaneMesh(10)), common.Identity4())
	s.AddModel(newTestModel(t, ctx, "cube", model.CubeMesh(1)), common.Translation(common.Vec3{0, 1, 0}))
	if err := s.Build(ctx, height); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	tlas, err := s.TLASWrappedPointer()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	rays := [width]accel.Ray{
		{Origin: common.Vec3{0, 5, 0}, Direction: common.Vec3{0, -1, 0}, TMax: 100},
		{Origin: common.Vec3{3, 5, 0}, Direction: common.Vec3{0, -1, 0}, TMax: 100},
		{Origin: common.Vec3{0, 5, 0}, Direction: common.Vec3{0, 1, 0}, TMax: 100},
	}
	var stride uint32
	rayGen := func(inv *device.HostInvocation) error {
		idx := inv.DispatchRaysIndex()
		arg, _ := inv.GlobalRootArgument(0)
		var payload uint32
		rayType := idx[1]
		if err := inv.TraceRay(arg.Address, accel.RayFlagNone, 0xFF, rayType*stride, 0, rayType, rays[idx[0]], &payload); err != nil {
			return err
		}
		mem, err := inv.Memory(inv.LocalUint64(0)+uint64(idx[1]*width+idx[0])*4<<32, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(mem, payload)
		return nil
	}
	closestHit := func(inv *device.HostInvocation) error {
		*inv.Payload().(*uint32) = inv.LocalUint32(0)
		return nil
	}
	miss := func(inv *device.HostInvocation) error {
		*inv.Payload().(*uint32) = 1000 + inv.LocalUint32(0)
		return nil
	}
	lib, err := shader.NewLibrary("trace",
		shader.WithExports("RayGen", "Hit", "Miss"),
		shader.WithHostShader("RayGen", rayGen),
		shader.WithHostShader("Hit", closestHit),
		shader.WithHostShader("Miss", miss),
	)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	p, err := raytracing.NewProgram(raytracing.NewProgramDesc(
		raytracing.WithShaderLibrary(lib),
		raytracing.WithRayGen("RayGen"),
		raytracing.WithMiss(0, "Miss"),
		raytracing.WithMiss(1, "Miss"),
		raytracing.WithHitGroup(0, "Hit", ""),
		raytracing.WithHitGroup(1, "Hit", ""),
		raytracing.WithGlobalRootSignature(func(sig *raytracing.RootSignature) {
			sig.AddRootParameter(raytracing.RootParameterSRV, 0, 0)
		}),
		raytracing.WithRayGenRootSignature(func(sig *raytracing.RootSignature) {
			sig.AddRootParameter(raytracing.RootParameterUAV, 0, 0)
		}),
		raytracing.WithHitGroupRootSignature(func(sig *raytracing.RootSignature) {
			sig.AddRootConstants(0, 1, 1)
		}),
		raytracing.WithMissRootSignature(func(sig *raytracing.RootSignature) {
			sig.AddRootConstants(0, 1, 1)
		}),
	))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	state, err := raytracing.NewState(ctx, p)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer state.Release()
	b, err := raytracing.NewBindings(ctx, p, raytracing.WithScene(s))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer b.Release()
	stride = b.RayContributionStride()

	out, err := ctx.Device().CreateBuffer(device.BufferDescriptor{Label: "output", Size: width * height * 4, Usage: device.BufferUsageStorage})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer out.Release()
	outPtr, _, err := ctx.CreateBufferUAVWrappedPointer(out, -1)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	if err := b.RayGenVars().AppendUAV(outPtr); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for r := 0; r < height; r++ {
		if err := b.MissVars(r).Append32BitConstants([]uint32{uint32(r)}); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		for i := 0; i < s.InstanceCount(); i++ {
			if err := b.HitVars(r, i).Append32BitConstants([]uint32{uint32(100*r + i)}); err != nil {
				t.Fatalf("expected no error; got %v", err)
			}
		}
	}
	if err := b.GlobalVars().AppendSRV(tlas); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.Apply(state); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := ctx.BindDescriptorHeap(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := ctx.Raytrace(b, state, width, height, 1); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := ctx.ExecuteCommandList(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	mem, err := out.Map()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer out.Unmap()
	want := []uint32{
		1, 0, 1000,
		101, 100, 1001,
	}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(mem[i*4:]); got != w {
			t.Errorf("pixel (%d, %d) = %d, want %d", i%width, i/width, got, w)
		}
	}
}

func TestEmptySceneBuilds(t *testing.T) {
	ctx := newTestContext(t)
	s := NewScene("empty")
	defer s.Release()
	if err := s.Build(ctx, 1); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if s.InstanceCount() != 0 {
		t.Errorf("InstanceCount() = %d, want 0", s.InstanceCount())
	}
	if _, err := s.TLASWrappedPointer(); err != nil {
		t.Errorf("expected a top level for an empty scene; got %v", err)
	}
}
