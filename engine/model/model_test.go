package model

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
)

func newTestContext(t *testing.T) *raytracing.Context {
	t.Helper()
	dev, err := device.NewDevice(device.WithArenaSize(4<<20), device.WithBuildWorkers(2))
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

func TestNewModelDefaultTriangle(t *testing.T) {
	ctx := newTestContext(t)
	m, err := NewModel(ctx.Device())
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer m.Release()

	if m.VertexCount() != 3 || m.TriangleCount() != 1 || !m.HasIndexBuffer() {
		t.Errorf("default model = %d vertices, %d triangles, indexed %v, want 3, 1, true",
			m.VertexCount(), m.TriangleCount(), m.HasIndexBuffer())
	}
	if got := m.Mesh().Indices; len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 1 {
		t.Errorf("Indices = %v, want [0 2 1]", got)
	}
	if m.VertexBuffer().Size() != 3*common.VertexStride {
		t.Errorf("vertex buffer holds %d bytes, want %d", m.VertexBuffer().Size(), 3*common.VertexStride)
	}
	if _, err := m.BLASWrappedPointer(); !errors.Is(err, ErrModelNotBuilt) {
		t.Errorf("expected ErrModelNotBuilt; got %v", err)
	}
}

func TestNewModelRejectsBadIndices(t *testing.T) {
	ctx := newTestContext(t)
	tests := []struct {
		name string
		mesh Mesh
	}{
		{"partial triangle", Mesh{Vertices: DefaultMesh().Vertices, Indices: []uint32{0, 1}}},
		{"out of range", Mesh{Vertices: DefaultMesh().Vertices, Indices: []uint32{0, 1, 3}}},
		{"unindexed remainder", Mesh{Vertices: append(DefaultMesh().Vertices, common.Vertex{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewModel(ctx.Device(), WithMesh(tt.mesh)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestModelBuild(t *testing.T) {
	ctx := newTestContext(t)
	m, err := NewModel(ctx.Device(), WithName("cube"), WithMesh(CubeMesh(2)))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer m.Release()

	if err := m.Build(ctx); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := ctx.ExecuteCommandList(); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	m.ReleaseScratch()

	if !m.Built() {
		t.Fatal("expected the model to be built")
	}
	ptr, err := m.BLASWrappedPointer()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if desc, ok := ctx.DescriptorHeap().Descriptor(int(ptr.Slot())); !ok || desc.Buffer != m.BLASBuffer() {
		t.Errorf("BLAS pointer slot %d does not view the BLAS buffer", ptr.Slot())
	}

	data, err := m.BLASBuffer().Map()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	blas, err := accel.DecodeBottomLevel(data)
	m.BLASBuffer().Unmap()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	bounds := blas.Bounds()
	for axis := 0; axis < 3; axis++ {
		if bounds.Min[axis] != -1 || bounds.Max[axis] != 1 {
			t.Errorf("bounds = %+v, want [-1, 1] on every axis", bounds)
			break
		}
	}

	base := ctx.DescriptorHeap().GPUHandleBase()
	vb, _ := ctx.DescriptorHeap().Descriptor(int((uint64(m.VertexBufferSRVHandle()) - base) / device.DescriptorSize))
	if vb.Kind != device.DescriptorKindBufferSRV || vb.Stride != common.VertexStride || vb.NumElements != 24 {
		t.Errorf("vertex view = %+v, want 24 elements of %d bytes", vb, common.VertexStride)
	}
	ib, _ := ctx.DescriptorHeap().Descriptor(int((uint64(m.IndexBufferSRVHandle()) - base) / device.DescriptorSize))
	if ib.Stride != common.IndexStride || ib.NumElements != 36 {
		t.Errorf("index view = %+v, want 36 elements of %d bytes", ib, common.IndexStride)
	}

	// a second build records nothing and allocates no slots
	slots := ctx.DescriptorHeap().Len()
	if err := m.Build(ctx); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if ctx.DescriptorHeap().Len() != slots {
		t.Errorf("second Build allocated %d slots", ctx.DescriptorHeap().Len()-slots)
	}
}

func TestModelBuildRetryAfterHeapExhausted(t *testing.T) {
	dev, err := device.NewDevice(device.WithArenaSize(4<<20), device.WithBuildWorkers(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	// room for the bottom-level pointer and the vertex view, not the index view
	ctx, err := raytracing.NewContext(dev, raytracing.WithDescriptorHeapSize(2))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(ctx.Release)

	m, err := NewModel(dev, WithName("cube"), WithMesh(CubeMesh(1)))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer m.Release()

	allocations := dev.ArenaStats().Allocations
	for attempt := 0; attempt < 3; attempt++ {
		if err := m.Build(ctx); !errors.Is(err, raytracing.ErrDescriptorHeapExhausted) {
			t.Fatalf("attempt %d: expected ErrDescriptorHeapExhausted; got %v", attempt, err)
		}
		if got := dev.ArenaStats().Allocations; got != allocations {
			t.Errorf("attempt %d: %d arena allocations, want %d", attempt, got, allocations)
		}
		if ctx.DescriptorHeap().Len() != 2 {
			t.Errorf("attempt %d: %d heap slots in use, want 2", attempt, ctx.DescriptorHeap().Len())
		}
	}
	if m.Built() || m.BLASBuffer() != nil {
		t.Errorf("expected a failed Build to leave no bottom level behind")
	}
}

func TestMeshWinding(t *testing.T) {
	for name, mesh := range map[string]Mesh{"cube": CubeMesh(1), "plane": PlaneMesh(4), "default": DefaultMesh()} {
		for tri := 0; tri < len(mesh.Indices); tri += 3 {
			v0 := mesh.Vertices[mesh.Indices[tri]]
			v1 := mesh.Vertices[mesh.Indices[tri+1]]
			v2 := mesh.Vertices[mesh.Indices[tri+2]]
			n := v1.Position.Sub(v0.Position).Cross(v2.Position.Sub(v0.Position))
			if n.Dot(v0.Normal) <= 0 {
				t.Errorf("%s triangle %d winds against its normal %v", name, tri/3, v0.Normal)
			}
		}
	}
}

func TestComputeBoundingRadius(t *testing.T) {
	got := ComputeBoundingRadius(CubeMesh(2).Vertices)
	want := float32(1.7320508)
	if got < want-1e-5 || got > want+1e-5 {
		t.Errorf("ComputeBoundingRadius() = %v, want %v", got, want)
	}
}
