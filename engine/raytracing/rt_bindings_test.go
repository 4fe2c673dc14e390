package raytracing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestBindingsLayout(t *testing.T) {
	ctx := newTestContext(t, nil)

	tests := []struct {
		hitGroups, misses, instances int
	}{
		{1, 1, 1},
		{1, 2, 4},
		{2, 1, 3},
		{3, 2, 5},
		{4, 4, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("H%d_M%d_I%d", tt.hitGroups, tt.misses, tt.instances), func(t *testing.T) {
			p := testProgram(t, tt.hitGroups, tt.misses)
			b := newTestBindings(t, ctx, p, WithInstanceCount(tt.instances))

			wantRecords := 1 + tt.misses + tt.hitGroups*tt.instances
			if b.RecordCount() != wantRecords {
				t.Errorf("RecordCount() = %d, want %d", b.RecordCount(), wantRecords)
			}
			if b.FirstHitRecordIndex() != 1+tt.misses {
				t.Errorf("FirstHitRecordIndex() = %d, want %d", b.FirstHitRecordIndex(), 1+tt.misses)
			}
			rs := uint64(b.RecordSize())
			if rs%ShaderRecordAlignment != 0 || rs < 32+uint64(p.MaxLocalArgumentSize()) {
				t.Errorf("RecordSize() = %d is not a valid record size", rs)
			}
			if b.ShaderTableAddress()%ShaderTableAlignment != 0 {
				t.Errorf("ShaderTableAddress() = %#x is not %d byte aligned", b.ShaderTableAddress(), ShaderTableAlignment)
			}
			if b.ShaderTable().Size() < uint64(wantRecords)*rs {
				t.Errorf("table of %d bytes cannot hold %d records", b.ShaderTable().Size(), wantRecords)
			}
			for h := 0; h < tt.hitGroups; h++ {
				for i := 0; i < tt.instances; i++ {
					want := uint64(1+tt.misses+h*tt.instances+i) * rs
					if got := b.HitRecordOffset(h, i); got != want {
						t.Errorf("HitRecordOffset(%d, %d) = %d, want %d", h, i, got, want)
					}
				}
			}
			if b.RayContributionStride() != uint32(tt.instances) {
				t.Errorf("RayContributionStride() = %d, want %d", b.RayContributionStride(), tt.instances)
			}
		})
	}
}

func TestBindingsSceneScenario(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 2, 1)
	b := newTestBindings(t, ctx, p, WithScene(fakeScene{instances: 3}))

	if b.Mode() != BindingsModeScene {
		t.Errorf("Mode() = %v, want %v", b.Mode(), BindingsModeScene)
	}
	if b.RecordCount() != 8 {
		t.Errorf("RecordCount() = %d, want 8", b.RecordCount())
	}
	if b.FirstHitRecordIndex() != 2 {
		t.Errorf("FirstHitRecordIndex() = %d, want 2", b.FirstHitRecordIndex())
	}
	rs := uint64(b.RecordSize())
	if got := b.HitRecordOffset(1, 2); got != 7*rs {
		t.Errorf("HitRecordOffset(1, 2) = %d, want %d", got, 7*rs)
	}
}

func TestBindingsNoSceneDefaultsToOneInstance(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := newTestBindings(t, ctx, testProgram(t, 2, 2))
	if b.Mode() != BindingsModeNoScene || b.InstanceCount() != 1 {
		t.Errorf("Mode() = %v, InstanceCount() = %d, want no-scene with 1 instance", b.Mode(), b.InstanceCount())
	}
	if b.RecordCount() != 5 {
		t.Errorf("RecordCount() = %d, want 5", b.RecordCount())
	}
}

func TestBindingsApplyWritesRecords(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 2, 1)
	s := newTestState(t, ctx, p)
	b := newTestBindings(t, ctx, p, WithInstanceCount(2))

	if err := b.MissVars(0).AppendSRV(EmulatedPointer(3, 16)); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for h := 0; h < 2; h++ {
		for i := 0; i < 2; i++ {
			vars := b.HitVars(h, i)
			if err := vars.AppendHeapRanges(ctx.DescriptorGPUHandle(h*2 + i)); err != nil {
				t.Fatalf("expected no error; got %v", err)
			}
			if err := vars.Append32BitConstants([]uint32{uint32(h), uint32(i), 0xC0FFEE}); err != nil {
				t.Fatalf("expected no error; got %v", err)
			}
		}
	}
	if err := b.Apply(s); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	rayGenID, _ := s.ShaderIdentifier("RayGen")
	if !bytes.Equal(b.RayGenRecord()[:32], rayGenID) {
		t.Error("ray generation record does not start with its identifier")
	}
	missRecord := b.MissRecord(0)
	if got := WrappedPointer(binary.LittleEndian.Uint64(missRecord[32:])); got != EmulatedPointer(3, 16) {
		t.Errorf("miss argument = %v, want %v", got, EmulatedPointer(3, 16))
	}

	for h := 0; h < 2; h++ {
		id, _ := s.ShaderIdentifier(HitGroupExportName(h))
		for i := 0; i < 2; i++ {
			record := b.HitRecord(h, i)
			if !bytes.Equal(record[:32], id) {
				t.Errorf("hit record (%d, %d) does not start with the identifier of %s", h, i, HitGroupExportName(h))
			}
			want := make([]byte, 20)
			binary.LittleEndian.PutUint64(want, uint64(ctx.DescriptorGPUHandle(h*2+i)))
			binary.LittleEndian.PutUint32(want[8:], uint32(h))
			binary.LittleEndian.PutUint32(want[12:], uint32(i))
			binary.LittleEndian.PutUint32(want[16:], 0xC0FFEE)
			if !bytes.Equal(record[32:52], want) {
				t.Errorf("hit record (%d, %d) arguments = %x, want %x", h, i, record[32:52], want)
			}
			if !bytes.Equal(record[52:], make([]byte, len(record)-52)) {
				t.Errorf("hit record (%d, %d) tail is not zeroed", h, i)
			}
		}
	}

	mem, err := b.ShaderTable().Map()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	defer b.ShaderTable().Unmap()
	n := b.RecordCount() * int(b.RecordSize())
	if !bytes.Equal(mem[:n], b.mirror[:n]) {
		t.Error("uploaded table differs from the CPU copy")
	}
}

func TestBindingsApplyIsIdempotent(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 1, 1)
	s := newTestState(t, ctx, p)
	b := newTestBindings(t, ctx, p, WithInstanceCount(3))

	for i := 0; i < 3; i++ {
		if err := b.HitVars(0, i).AppendHeapRanges(DescriptorHandle(0x1000 + i)); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}
	if err := b.Apply(s); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	first := bytes.Clone(b.mirror)
	if err := b.Apply(s); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if !bytes.Equal(first, b.mirror) {
		t.Error("second Apply changed the table")
	}

	// appending after Apply replaces the record's arguments
	if err := b.HitVars(0, 1).Append32BitConstants([]uint32{9}); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.Apply(s); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if got := binary.LittleEndian.Uint32(b.HitRecord(0, 1)[32:]); got != 9 {
		t.Errorf("rewritten argument = %d, want 9", got)
	}
	if !bytes.Equal(b.HitRecord(0, 2), first[b.HitRecordOffset(0, 2):b.HitRecordOffset(0, 2)+uint64(b.RecordSize())]) {
		t.Error("untouched record changed")
	}
}

func TestBindingsApplyGapsGetNullRecords(t *testing.T) {
	ctx := newTestContext(t, nil)
	lib := hostLibrary(t, []string{"RayGen", "Miss", "Hit"}, nil)
	p, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithRayGen("RayGen"),
		WithMiss(1, "Miss"),
		WithHitGroup(1, "Hit", ""),
	))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	s := newTestState(t, ctx, p)
	b := newTestBindings(t, ctx, p)

	copy(b.mirror, bytes.Repeat([]byte{0xAB}, len(b.mirror)))
	if err := b.Apply(s); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	zero := make([]byte, b.RecordSize())
	if !bytes.Equal(b.MissRecord(0), zero) {
		t.Error("miss gap is not a null record")
	}
	if !bytes.Equal(b.HitRecord(0, 0), zero) {
		t.Error("hit group gap is not a null record")
	}
	if bytes.Equal(b.HitRecord(1, 0), zero) {
		t.Error("hit group 1 record is empty")
	}
}

func TestBindingsApplyUnknownIdentifier(t *testing.T) {
	ctx := newTestContext(t, nil)
	full := testProgram(t, 2, 1)
	partial := testProgram(t, 1, 1)
	s := newTestState(t, ctx, partial)
	b := newTestBindings(t, ctx, full)

	err := b.Apply(s)
	if !errors.Is(err, ErrUnknownShaderIdentifier) {
		t.Fatalf("expected ErrUnknownShaderIdentifier; got %v", err)
	}
	if !strings.Contains(err.Error(), "HitGroup1") {
		t.Errorf("expected the missing export in %v", err)
	}
}

func TestBindingsParamsCapacityMatchesSignature(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := newTestBindings(t, ctx, testProgram(t, 1, 1))

	vars := b.HitVars(0, 0)
	if vars.Capacity() != 20 {
		t.Fatalf("Capacity() = %d, want 20", vars.Capacity())
	}
	if err := vars.AppendHeapRanges(1); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := vars.Append32BitConstants([]uint32{1, 2, 3, 4}); !errors.Is(err, ErrParamsOverflow) {
		t.Errorf("expected ErrParamsOverflow; got %v", err)
	}
}

func TestBindingsGlobalArguments(t *testing.T) {
	ctx := newTestContext(t, nil)
	lib := hostLibrary(t, []string{"RayGen"}, nil)
	p, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithRayGen("RayGen"),
		WithGlobalRootSignature(func(sig *RootSignature) {
			sig.AddRootParameter(RootParameterSRV, 0, 0)
			sig.AddRootConstants(0, 0, 2)
		}),
	))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	b := newTestBindings(t, ctx, p)

	if args, err := b.GlobalArguments(); err != nil || args != nil {
		t.Fatalf("expected nothing staged; got %v, %v", args, err)
	}

	if err := b.GlobalVars().AppendSRV(EmulatedPointer(4, 0)); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if _, err := b.GlobalArguments(); err == nil {
		t.Fatal("expected an error for partially staged globals")
	}
	b.GlobalVars().Reset()

	if err := b.GlobalVars().AppendSRV(EmulatedPointer(4, 0)); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if err := b.GlobalVars().Append32BitConstants([]uint32{math.Float32bits(1.5), 7}); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	args, err := b.GlobalArguments()
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 arguments; got %d", len(args))
	}
	if args[0].Address != uint64(EmulatedPointer(4, 0)) {
		t.Errorf("args[0].Address = %#x, want %#x", args[0].Address, uint64(EmulatedPointer(4, 0)))
	}
	if len(args[1].Constants) != 2 || args[1].Constants[1] != 7 {
		t.Errorf("args[1].Constants = %v, want [%d 7]", args[1].Constants, math.Float32bits(1.5))
	}
}

func TestBindingsOutOfRangeRecords(t *testing.T) {
	ctx := newTestContext(t, nil)
	b := newTestBindings(t, ctx, testProgram(t, 2, 1), WithInstanceCount(2))

	tests := []struct {
		rayType, instance int
	}{
		{0, 2},
		{2, 0},
		{-1, 0},
		{0, -1},
	}
	for _, tt := range tests {
		if b.HitVars(tt.rayType, tt.instance) != nil || b.HitRecord(tt.rayType, tt.instance) != nil {
			t.Errorf("HitVars(%d, %d) and HitRecord: expected nil", tt.rayType, tt.instance)
		}
	}
	if b.MissVars(1) != nil || b.MissRecord(-1) != nil {
		t.Errorf("expected nil for miss index outside the table")
	}
	if b.HitVars(1, 1) == nil || b.MissVars(0) == nil {
		t.Errorf("expected Params for records inside the table")
	}
}

func TestBindingsResetVars(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 1, 1, WithRayGenRootSignature(func(sig *RootSignature) {
		sig.AddRootParameter(RootParameterUAV, 0, 0)
	}))
	b := newTestBindings(t, ctx, p)

	vars := []*Params{b.RayGenVars(), b.MissVars(0), b.HitVars(0, 0)}
	for _, v := range vars {
		if err := v.AppendHeapRanges(ctx.DescriptorGPUHandle(0)); err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
	}
	b.ResetVars()
	for i, v := range append(vars, b.GlobalVars()) {
		if v.BytesWritten() != 0 {
			t.Errorf("Params %d BytesWritten() = %d after ResetVars, want 0", i, v.BytesWritten())
		}
	}
}

func TestBindingsStaleAfterSceneGrowth(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 1, 1)
	s := newTestState(t, ctx, p)
	sc := &fakeScene{instances: 1}
	b := newTestBindings(t, ctx, p, WithScene(sc))

	if b.Stale() {
		t.Fatalf("expected a fresh table to match its scene")
	}
	sc.instances = 2
	if !b.Stale() {
		t.Fatalf("expected the table to be stale after the scene grew")
	}
	if err := b.Apply(s); !errors.Is(err, ErrStaleBindings) {
		t.Errorf("expected ErrStaleBindings from Apply; got %v", err)
	}
	if err := ctx.Raytrace(b, s, 1, 1, 1); !errors.Is(err, ErrStaleBindings) {
		t.Errorf("expected ErrStaleBindings from Raytrace; got %v", err)
	}

	fixed := newTestBindings(t, ctx, p, WithInstanceCount(2))
	if fixed.Stale() {
		t.Errorf("expected a table without a scene never to be stale")
	}
}
