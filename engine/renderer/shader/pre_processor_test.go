package shader

import (
	"strings"
	"testing"
)

func TestPreProcessorInjectsStructsOnce(t *testing.T) {
	src := strings.Join([]string{
		"//@oxy:include material_params",
		"//@oxy:include material_params",
		"//@oxy:group 1 0 storage_uniform material material_params",
		"//@oxy:export Shade",
		"fn Shade(record: u32) {}",
	}, "\n")

	pp := NewPreProcessor()
	out, err := pp.Process(src)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if got := strings.Count(out, "struct MaterialParams"); got != 1 {
		t.Errorf("struct MaterialParams declared %d times, want 1", got)
	}
	if !strings.Contains(out, "@group(1) @binding(0) var<uniform> material: MaterialParams;") {
		t.Errorf("expected a generated uniform declaration; got\n%s", out)
	}
	if strings.Contains(out, "@oxy:") {
		t.Errorf("expected every annotation to be consumed; got\n%s", out)
	}

	decls := pp.Declarations()
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations; got %d", len(decls))
	}
	if decls[0].Type != AnnotationTypeBindingGroup || *decls[0].Group != 1 || *decls[0].Binding != 0 {
		t.Errorf("declaration 0 = %+v, want group 1 binding 0", decls[0])
	}
	if decls[1].Type != AnnotationTypeExport || decls[1].Args[0] != "Shade" {
		t.Errorf("declaration 1 = %+v, want export Shade", decls[1])
	}
}

func TestPreProcessorArrayGroup(t *testing.T) {
	out, err := NewPreProcessor().Process("//@oxy:group 1 3 storage_read vertices array<vertex>")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	want := "@group(1) @binding(3) var<storage, read> vertices: array<Vertex>;"
	if out != want {
		t.Errorf("Process() = %q, want %q", out, want)
	}
}

func TestParseAnnotationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", "//@oxy:"},
		{"unknown type", "//@oxy:provider camera"},
		{"unknown struct", "//@oxy:include lights"},
		{"include arity", "//@oxy:include vertex material_params"},
		{"bad group", "//@oxy:group x 0 storage_uniform a vertex"},
		{"bad binding", "//@oxy:group 0 y storage_uniform a vertex"},
		{"bad address space", "//@oxy:group 0 0 private a vertex"},
		{"group arity", "//@oxy:group 0 0 storage_uniform a"},
		{"export arity", "//@oxy:export"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseAnnotation(tt.line, 7); err == nil {
				t.Fatalf("expected an error for %q", tt.line)
			}
		})
	}
}

func TestParseAnnotationIgnoresPlainLines(t *testing.T) {
	a, err := parseAnnotation("// a plain comment", 1)
	if err != nil || a != nil {
		t.Errorf("parseAnnotation() = %v, %v, want nil, nil", a, err)
	}
}
