package shader

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

const parserTestSource = `
struct Params {
    color: vec4<f32>,
    scale: f32,
}

@group(1) @binding(2) var<uniform> params: Params;
@group(1) @binding(0) var env: texture_cube<f32>;
@group(1) @binding(1) var env_sampler: sampler;
@group(0) @binding(4) var<storage, read_write> accum: array<u32>;
@group(0) @binding(5) var output: texture_storage_2d<rgba16float, write>;

// fn commented_out() {}

@compute @workgroup_size(16, 8)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    helper();
}

fn helper() {}
`

func TestParseBindings(t *testing.T) {
	got := parseBindings(parserTestSource)
	want := []device.BindingLayout{
		{Group: 0, Binding: 4, Kind: device.BindingKindStorageBuffer, Name: "accum", MinBindingSize: 4},
		{Group: 0, Binding: 5, Kind: device.BindingKindStorageTexture, Name: "output", Format: device.TextureFormatRGBA16Float},
		{Group: 1, Binding: 0, Kind: device.BindingKindSampledTexture, Name: "env", Cube: true},
		{Group: 1, Binding: 1, Kind: device.BindingKindSampler, Name: "env_sampler"},
		{Group: 1, Binding: 2, Kind: device.BindingKindUniformBuffer, Name: "params", MinBindingSize: 32},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d bindings; got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("binding %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseEntryPointAndWorkgroupSize(t *testing.T) {
	if got := parseComputeEntryPoint(parserTestSource); got != "main" {
		t.Errorf("parseComputeEntryPoint() = %q, want %q", got, "main")
	}
	if got := parseWorkgroupSize(parserTestSource); got != [3]uint32{16, 8, 1} {
		t.Errorf("parseWorkgroupSize() = %v, want [16 8 1]", got)
	}
	if got := parseWorkgroupSize("fn f() {}"); got != [3]uint32{1, 1, 1} {
		t.Errorf("parseWorkgroupSize() = %v, want [1 1 1]", got)
	}
}

func TestParseFunctionsSkipsComments(t *testing.T) {
	got := parseFunctions(parserTestSource)
	if len(got) != 2 || got[0] != "main" || got[1] != "helper" {
		t.Errorf("parseFunctions() = %v, want [main helper]", got)
	}
}

func TestClassifyResource(t *testing.T) {
	tests := []struct {
		addressSpace string
		typeName     string
		want         device.BindingKind
	}{
		{"uniform", "Params", device.BindingKindUniformBuffer},
		{"storage, read", "array<Vertex>", device.BindingKindReadOnlyStorageBuffer},
		{"storage", "array<u32>", device.BindingKindReadOnlyStorageBuffer},
		{"storage, read_write", "array<u32>", device.BindingKindStorageBuffer},
		{"", "sampler", device.BindingKindSampler},
		{"", "texture_2d<f32>", device.BindingKindSampledTexture},
		{"", "texture_storage_2d<rgba8unorm, write>", device.BindingKindStorageTexture},
	}
	for _, tt := range tests {
		if got := classifyResource(tt.addressSpace, tt.typeName).Kind; got != tt.want {
			t.Errorf("classifyResource(%q, %q) = %v, want %v", tt.addressSpace, tt.typeName, got, tt.want)
		}
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"line", "a // b\nc", "a \nc"},
		{"block opener inside line comment", "a // see x/*y\nfn keep() {}", "a \nfn keep() {}"},
		{"nested block", "a /* b /* c */ d */ e", "a  e"},
		{"line breaks in block kept", "a /* b\nc */ d", "a \n d"},
		{"line marker inside block", "a /* // */ b", "a  b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripComments(tt.source); got != tt.want {
				t.Errorf("stripComments() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveTypeLayout(t *testing.T) {
	known := map[string]wgslTypeLayout{"Light": {size: 32, align: 16}}
	tests := []struct {
		typeName string
		want     wgslTypeLayout
	}{
		{"f32", wgslTypeLayout{4, 4}},
		{"f16", wgslTypeLayout{2, 2}},
		{"vec2<f32>", wgslTypeLayout{8, 8}},
		{"vec3f", wgslTypeLayout{12, 16}},
		{"vec3<u32>", wgslTypeLayout{12, 16}},
		{"vec4h", wgslTypeLayout{8, 8}},
		{"mat3x3<f32>", wgslTypeLayout{48, 16}},
		{"mat4x4f", wgslTypeLayout{64, 16}},
		{"mat2x2<f32>", wgslTypeLayout{16, 8}},
		{"atomic<u32>", wgslTypeLayout{4, 4}},
		{"array<vec3<f32>, 4>", wgslTypeLayout{64, 16}},
		{"array<array<f32, 4>, 2>", wgslTypeLayout{32, 4}},
		{"array<Light>", wgslTypeLayout{32, 16}},
		{"array<Light, 3>", wgslTypeLayout{96, 16}},
	}
	for _, tt := range tests {
		got, ok := resolveTypeLayout(tt.typeName, known)
		if !ok || got != tt.want {
			t.Errorf("resolveTypeLayout(%q) = %+v, %v, want %+v, true", tt.typeName, got, ok, tt.want)
		}
	}
	for _, name := range []string{"Unknown", "vec5<f32>", "array<f32, n>", "atomic<f32>"} {
		if _, ok := resolveTypeLayout(name, known); ok {
			t.Errorf("resolveTypeLayout(%q) resolved, want false", name)
		}
	}
}

func TestComputeStructSizes(t *testing.T) {
	structs := []parsedStruct{
		{name: "Scene", fields: []parsedField{
			{name: "count", typeName: "u32"},
			{name: "lights", typeName: "array<Light>"},
		}},
		{name: "Light", fields: []parsedField{
			{name: "pos", typeName: "vec3<f32>"},
			{name: "color", typeName: "vec4<f32>"},
		}},
		{name: "Stage", fields: []parsedField{
			{name: "id", typeName: "vec3<u32>", isBuiltin: true},
			{name: "k", typeName: "f32"},
		}},
		{name: "Broken", fields: []parsedField{{name: "x", typeName: "Missing"}}},
	}
	got := computeStructSizes(structs)
	want := map[string]wgslTypeLayout{
		"Light": {32, 16},
		"Scene": {48, 16},
		"Stage": {4, 4},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d layouts; got %v", len(want), got)
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("layout of %s = %+v, want %+v", name, got[name], w)
		}
	}
}
