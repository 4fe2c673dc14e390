package raytracing

import (
	"fmt"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

type fakeScene struct {
	instances int
}

func (s fakeScene) InstanceCount() int { return s.instances }

func newTestContext(t *testing.T, deviceOptions []device.DeviceBuilderOption, options ...ContextBuilderOption) *Context {
	t.Helper()
	dev, err := device.NewDevice(append([]device.DeviceBuilderOption{device.WithArenaSize(4 << 20), device.WithBuildWorkers(2)}, deviceOptions...)...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(dev.Release)
	ctx, err := NewContext(dev, options...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(ctx.Release)
	return ctx
}

// hostLibrary exports every name with the matching host shader, or a no-op.
func hostLibrary(t *testing.T, names []string, hosts map[string]device.HostShaderFunc) shader.Library {
	t.Helper()
	opts := []shader.LibraryBuilderOption{shader.WithExports(names...)}
	for _, name := range names {
		fn := hosts[name]
		if fn == nil {
			fn = func(*device.HostInvocation) error { return nil }
		}
		opts = append(opts, shader.WithHostShader(name, fn))
	}
	lib, err := shader.NewLibrary("test library", opts...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return lib
}

// testProgram builds a program with hitGroups closest-hit groups and misses miss shaders.
// Hit records carry a heap range and three constants (20 bytes), miss records one SRV.
func testProgram(t *testing.T, hitGroups, misses int, extra ...ProgramDescOption) *Program {
	t.Helper()
	names := []string{"RayGen"}
	for i := 0; i < misses; i++ {
		names = append(names, fmt.Sprintf("Miss%d", i))
	}
	for i := 0; i < hitGroups; i++ {
		names = append(names, fmt.Sprintf("Hit%d", i))
	}
	opts := []ProgramDescOption{
		WithShaderLibrary(hostLibrary(t, names, nil)),
		WithRayGen("RayGen"),
		WithHitGroupRootSignature(func(sig *RootSignature) {
			sig.AddHeapRangesParameter(DescriptorRange{Type: DescriptorRangeSRV, Count: 2, Space: 1})
			sig.AddRootConstants(0, 1, 3)
		}),
		WithMissRootSignature(func(sig *RootSignature) {
			sig.AddRootParameter(RootParameterSRV, 0, 1)
		}),
	}
	for i := 0; i < misses; i++ {
		opts = append(opts, WithMiss(i, fmt.Sprintf("Miss%d", i)))
	}
	for i := 0; i < hitGroups; i++ {
		opts = append(opts, WithHitGroup(i, fmt.Sprintf("Hit%d", i), ""))
	}
	p, err := NewProgram(NewProgramDesc(append(opts, extra...)...))
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	return p
}

func newTestState(t *testing.T, ctx *Context, p *Program, options ...StateBuilderOption) *State {
	t.Helper()
	s, err := NewState(ctx, p, options...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

func newTestBindings(t *testing.T, ctx *Context, p *Program, options ...BindingsBuilderOption) *Bindings {
	t.Helper()
	b, err := NewBindings(ctx, p, options...)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	t.Cleanup(b.Release)
	return b
}
