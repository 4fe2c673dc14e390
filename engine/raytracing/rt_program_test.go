package raytracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

func TestNewProgramMissingRayGen(t *testing.T) {
	lib := hostLibrary(t, []string{"Miss", "Hit"}, nil)
	_, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithMiss(0, "Miss"),
		WithHitGroup(0, "Hit", ""),
	))
	if !errors.Is(err, ErrMissingRayGen) {
		t.Fatalf("expected ErrMissingRayGen; got %v", err)
	}
}

func TestNewProgramDuplicateHitGroup(t *testing.T) {
	lib := hostLibrary(t, []string{"RayGen", "HitA", "HitB"}, nil)
	_, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithRayGen("RayGen"),
		WithHitGroup(0, "HitA", ""),
		WithHitGroup(0, "HitB", ""),
	))
	if !errors.Is(err, ErrDuplicateHitGroup) {
		t.Fatalf("expected ErrDuplicateHitGroup; got %v", err)
	}
}

func TestNewProgramDuplicateMiss(t *testing.T) {
	lib := hostLibrary(t, []string{"RayGen", "MissA", "MissB"}, nil)
	_, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithRayGen("RayGen"),
		WithMiss(1, "MissA"),
		WithMiss(1, "MissB"),
	))
	if !errors.Is(err, ErrDuplicateMiss) {
		t.Fatalf("expected ErrDuplicateMiss; got %v", err)
	}
}

func TestNewProgramJoinsErrors(t *testing.T) {
	lib := hostLibrary(t, []string{"RayGen"}, nil)
	_, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithMiss(0, "Missing"),
		WithHitGroup(0, "", ""),
	))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrMissingRayGen) {
		t.Errorf("expected ErrMissingRayGen in %v", err)
	}
	for _, want := range []string{`"Missing" is not in any shader library`, "hit group 0 has no shaders"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestNewProgramRayGenSetTwice(t *testing.T) {
	lib := hostLibrary(t, []string{"A", "B"}, nil)
	if _, err := NewProgram(NewProgramDesc(WithShaderLibrary(lib), WithRayGen("A"), WithRayGen("B"))); err == nil {
		t.Fatal("expected an error for a second ray generation shader")
	}
}

func TestProgramGapsAndExports(t *testing.T) {
	lib := hostLibrary(t, []string{"RayGen", "Miss", "Shadow", "Hit", "Any", "Sphere"}, nil)
	p, err := NewProgram(NewProgramDesc(
		WithShaderLibrary(lib),
		WithRayGen("RayGen"),
		WithMiss(0, "Miss"),
		WithMiss(2, "Shadow"),
		WithMiss(3, "Miss"),
		WithHitGroup(0, "Hit", ""),
		WithProceduralHitGroup(2, "Hit", "Any", "Sphere"),
	))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	if p.MissProgramCount() != 4 {
		t.Errorf("MissProgramCount() = %d, want 4", p.MissProgramCount())
	}
	if p.HitProgramCount() != 3 {
		t.Errorf("HitProgramCount() = %d, want 3", p.HitProgramCount())
	}
	if p.Miss(1) != nil || p.HitGroup(1) != nil {
		t.Error("expected gaps at index 1")
	}
	if p.Miss(9) != nil || p.HitGroup(-1) != nil {
		t.Error("expected nil outside the declared range")
	}
	if got := p.Miss(2).Kind(); got != ShaderKindMiss {
		t.Errorf("Miss(2).Kind() = %v, want %v", got, ShaderKindMiss)
	}

	g := p.HitGroup(2)
	if g.Name() != "HitGroup2" || g.Intersection() == nil || g.AnyHit() == nil {
		t.Fatalf("unexpected hit group %+v", g)
	}

	exports := p.exports()
	names := make([]string, len(exports))
	for i, e := range exports {
		names[i] = e.Name
	}
	want := []string{"RayGen", "Miss", "Shadow", "HitGroup0", "HitGroup2"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("exports = %v, want %v", names, want)
	}
	if exports[4].HitGroupType != device.HitGroupTypeProcedural || exports[4].Intersection != "Sphere" {
		t.Errorf("unexpected procedural export %+v", exports[4])
	}
	if exports[3].HitGroupType != device.HitGroupTypeTriangles {
		t.Errorf("unexpected triangle export %+v", exports[3])
	}
}

func TestProgramMaxLocalArgumentSize(t *testing.T) {
	p := testProgram(t, 1, 1)
	if got := p.MaxLocalArgumentSize(); got != 20 {
		t.Errorf("MaxLocalArgumentSize() = %d, want 20", got)
	}
}

func TestNewStateShaderIdentifiers(t *testing.T) {
	ctx := newTestContext(t, nil)
	p := testProgram(t, 2, 1)
	s := newTestState(t, ctx, p)

	if s.MaxTraceRecursionDepth() != 1 {
		t.Errorf("MaxTraceRecursionDepth() = %d, want 1", s.MaxTraceRecursionDepth())
	}
	seen := map[string]bool{}
	for _, name := range []string{"RayGen", "Miss0", HitGroupExportName(0), HitGroupExportName(1)} {
		id, err := s.ShaderIdentifier(name)
		if err != nil {
			t.Fatalf("ShaderIdentifier(%q): expected no error; got %v", name, err)
		}
		if len(id) != device.ShaderIdentifierSize {
			t.Errorf("identifier of %q has %d bytes, want %d", name, len(id), device.ShaderIdentifierSize)
		}
		if seen[string(id)] {
			t.Errorf("identifier of %q is not unique", name)
		}
		seen[string(id)] = true
	}
	if _, err := s.ShaderIdentifier("HitGroup7"); !errors.Is(err, ErrUnknownShaderIdentifier) {
		t.Errorf("expected ErrUnknownShaderIdentifier; got %v", err)
	}
}
