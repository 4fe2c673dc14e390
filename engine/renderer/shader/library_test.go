package shader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

const rayLibrarySource = `
struct Payload {
    color: vec4<f32>,
}

//@oxy:export RayGen
fn RayGen(record: u32) {}

//@oxy:export Miss
fn Miss(record: u32, payload: ptr<function, Payload>) {}
`

func TestNewLibraryCollectsAnnotatedExports(t *testing.T) {
	noop := func(*device.HostInvocation) error { return nil }
	lib, err := NewLibrary("rt",
		WithSource(rayLibrarySource),
		WithExports("ClosestHit"),
		WithHostShader("ClosestHit", noop),
	)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	want := []string{"ClosestHit", "RayGen", "Miss"}
	got := lib.Exports()
	if len(got) != len(want) {
		t.Fatalf("Exports() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Exports()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !lib.HasExport("Miss") || lib.HasExport("Payload") {
		t.Errorf("HasExport reports the wrong export set: %v", got)
	}
	if lib.WorkgroupSize() != [3]uint32{} {
		t.Errorf("WorkgroupSize() = %v, want zero for ray libraries", lib.WorkgroupSize())
	}

	src := lib.LibrarySource()
	if src.Label != "rt" || src.HostShaders["ClosestHit"] == nil {
		t.Errorf("LibrarySource() = %+v, want label rt with a ClosestHit host shader", src)
	}
}

func TestNewLibraryRejectsUnimplementedExports(t *testing.T) {
	_, err := NewLibrary("rt",
		WithExports("RayGen", "Missing"),
		WithHostShader("RayGen", func(*device.HostInvocation) error { return nil }),
		WithHostShader("Stray", func(*device.HostInvocation) error { return nil }),
	)
	if err == nil {
		t.Fatal("expected an error for an unimplemented export")
	}
	for _, fragment := range []string{`"Missing"`, `"Stray"`} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected the error to mention %s; got %v", fragment, err)
		}
	}
}

func TestNewLibraryRejectsEmptyRayLibrary(t *testing.T) {
	if _, err := NewLibrary("empty"); err == nil {
		t.Fatal("expected an error for a library without exports")
	}
}

func TestComputeLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blur.wgsl")
	src := `
//@oxy:include denoise_constants
//@oxy:group 0 0 storage_uniform constants denoise_constants
@group(0) @binding(1) var input: texture_2d<f32>;
@group(0) @binding(2) var output: texture_storage_2d<rgba8unorm, write>;

@compute @workgroup_size(16, 16, 1)
fn blur(@builtin(global_invocation_id) id: vec3<u32>) {}
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	lib, err := NewLibrary("blur", WithKind(LibraryKindCompute), WithSourceFromPath(path))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if lib.EntryPoint() != "blur" {
		t.Errorf("EntryPoint() = %q, want %q", lib.EntryPoint(), "blur")
	}
	if lib.WorkgroupSize() != [3]uint32{16, 16, 1} {
		t.Errorf("WorkgroupSize() = %v, want [16 16 1]", lib.WorkgroupSize())
	}
	if got := lib.BindGroupVarName(0, 0); got != "constants" {
		t.Errorf("BindGroupVarName(0, 0) = %q, want %q", got, "constants")
	}
	bindings := lib.Bindings()
	if len(bindings) != 3 || bindings[0].MinBindingSize != 32 {
		t.Errorf("Bindings() = %+v, want 3 bindings with a 32 byte uniform first", bindings)
	}
	kd := lib.KernelDescriptor()
	if kd.EntryPoint != "blur" || kd.Label != "blur" {
		t.Errorf("KernelDescriptor() = %+v, want entry blur", kd)
	}
}

func TestHostOnlyComputeLibrary(t *testing.T) {
	lib, err := NewLibrary("host", WithKind(LibraryKindCompute), WithHostKernel(func(*device.KernelInvocation) error { return nil }))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if lib.WorkgroupSize() != [3]uint32{1, 1, 1} {
		t.Errorf("WorkgroupSize() = %v, want [1 1 1]", lib.WorkgroupSize())
	}
	if _, err := lib.Compile(); !errors.Is(err, ErrNoSource) {
		t.Errorf("Compile() error = %v, want ErrNoSource", err)
	}
}

func TestComputeLibraryWithoutImplementation(t *testing.T) {
	if _, err := NewLibrary("none", WithKind(LibraryKindCompute)); err == nil {
		t.Fatal("expected an error for a compute library without source or host kernel")
	}
}
