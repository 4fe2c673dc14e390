package shader

import (
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// wgslScalarSizes holds the byte size of every host-shareable scalar. A scalar aligns to
// its size.
var wgslScalarSizes = map[string]uint64{
	"f32":  4,
	"i32":  4,
	"u32":  4,
	"bool": 4,
	"f16":  2,
}

// wgslShorthandScalars maps the suffix of vec3f-style aliases to the scalar they stand for.
var wgslShorthandScalars = map[byte]string{
	'f': "f32",
	'i': "i32",
	'u': "u32",
	'h': "f16",
}

func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// vectorLayout returns the layout of an n-component vector of a scalar of the given size.
// vec3 aligns like vec4.
func vectorLayout(n, scalar uint64) wgslTypeLayout {
	if n == 3 {
		return wgslTypeLayout{size: 3 * scalar, align: 4 * scalar}
	}
	return wgslTypeLayout{size: n * scalar, align: n * scalar}
}

// primitiveLayout resolves scalars, vectors, matrices and atomics, in both the generic
// (vec3<f32>) and the aliased (vec3f) spelling.
//
// Parameters:
//   - typeName: the WGSL type name
//
// Returns:
//   - wgslTypeLayout: the size and alignment
//   - bool: false if typeName is not a primitive
func primitiveLayout(typeName string) (wgslTypeLayout, bool) {
	if size, ok := wgslScalarSizes[typeName]; ok {
		return wgslTypeLayout{size: size, align: size}, true
	}

	base, params := splitTypeParams(typeName)
	if params == "" && len(base) > 3 {
		if scalar, ok := wgslShorthandScalars[base[len(base)-1]]; ok {
			base, params = base[:len(base)-1], scalar
		}
	}
	scalar, ok := wgslScalarSizes[params]
	if !ok {
		return wgslTypeLayout{}, false
	}

	switch {
	case base == "atomic" && (params == "u32" || params == "i32"):
		return wgslTypeLayout{size: 4, align: 4}, true
	case len(base) == 4 && strings.HasPrefix(base, "vec"):
		n := uint64(base[3] - '0')
		if n < 2 || n > 4 {
			return wgslTypeLayout{}, false
		}
		return vectorLayout(n, scalar), true
	case len(base) == 6 && strings.HasPrefix(base, "mat") && base[4] == 'x':
		cols, rows := uint64(base[3]-'0'), uint64(base[5]-'0')
		if cols < 2 || cols > 4 || rows < 2 || rows > 4 {
			return wgslTypeLayout{}, false
		}
		column := vectorLayout(rows, scalar)
		return wgslTypeLayout{size: cols * roundUpAlign(column.align, column.size), align: column.align}, true
	}
	return wgslTypeLayout{}, false
}

// resolveTypeLayout resolves a type against the primitives and the structs laid out so far.
// A runtime-sized array resolves to one element stride so callers can scale it by the
// element count.
//
// Parameters:
//   - typeName: a type name such as "f32", "MaterialParams" or "array<vec4<f32>, 6>"
//   - knownTypes: the struct layouts resolved so far
//
// Returns:
//   - wgslTypeLayout: the resolved layout
//   - bool: false for unknown types and bad array counts
func resolveTypeLayout(typeName string, knownTypes map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	if layout, ok := primitiveLayout(typeName); ok {
		return layout, true
	}
	if layout, ok := knownTypes[typeName]; ok {
		return layout, true
	}

	base, params := splitTypeParams(typeName)
	if base != "array" || params == "" {
		return wgslTypeLayout{}, false
	}
	args := splitAtTopLevelCommas(params)
	elem, ok := resolveTypeLayout(strings.TrimSpace(args[0]), knownTypes)
	if !ok {
		return wgslTypeLayout{}, false
	}
	stride := roundUpAlign(elem.align, elem.size)
	if len(args) == 1 {
		return wgslTypeLayout{size: stride, align: elem.align}, true
	}
	count, err := strconv.ParseUint(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		return wgslTypeLayout{}, false
	}
	return wgslTypeLayout{size: count * stride, align: elem.align}, true
}

// computeStructLayout lays out the fields of ps in declaration order. A trailing
// runtime-sized array counts as one element, which makes the result the minimum binding
// size of a buffer of that struct. @builtin fields are skipped.
//
// Parameters:
//   - ps: the struct to lay out
//   - knownTypes: the struct layouts resolved so far
//
// Returns:
//   - wgslTypeLayout: the struct layout
//   - bool: false if some field type is not resolved yet
func computeStructLayout(ps parsedStruct, knownTypes map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	var offset uint64
	align := uint64(1)
	for _, field := range ps.fields {
		if field.isBuiltin {
			continue
		}
		layout, ok := resolveTypeLayout(field.typeName, knownTypes)
		if !ok {
			return wgslTypeLayout{}, false
		}
		align = max(align, layout.align)
		offset = roundUpAlign(layout.align, offset) + layout.size
	}
	return wgslTypeLayout{size: roundUpAlign(align, offset), align: align}, true
}

// computeStructSizes lays out every struct, repeating passes until structs that embed
// other structs are resolved. Structs that never resolve are left out of the result.
//
// Parameters:
//   - structs: the parsed structs of a module
//
// Returns:
//   - map[string]wgslTypeLayout: layouts keyed by struct name
func computeStructSizes(structs []parsedStruct) map[string]wgslTypeLayout {
	resolved := make(map[string]wgslTypeLayout, len(structs))
	pending := append([]parsedStruct(nil), structs...)
	for len(pending) > 0 {
		var unresolved []parsedStruct
		for _, ps := range pending {
			if layout, ok := computeStructLayout(ps, resolved); ok {
				resolved[ps.name] = layout
			} else {
				unresolved = append(unresolved, ps)
			}
		}
		if len(unresolved) == len(pending) {
			break
		}
		pending = unresolved
	}
	return resolved
}

// classifyResource derives the binding layout of a module-scope var. Buffers are told
// apart by address space, handle types by type name.
//
// Parameters:
//   - addressSpace: e.g. "uniform" or "storage, read_write"; empty for handle types
//   - typeName: e.g. "PerFrameConstants", "texture_cube<f32>" or "sampler"
//
// Returns:
//   - device.BindingLayout: the layout with Kind, Cube and Format set
func classifyResource(addressSpace, typeName string) device.BindingLayout {
	var b device.BindingLayout
	switch {
	case addressSpace == "uniform":
		b.Kind = device.BindingKindUniformBuffer
		return b
	case strings.Contains(addressSpace, "read_write"):
		b.Kind = device.BindingKindStorageBuffer
		return b
	case addressSpace != "":
		b.Kind = device.BindingKindReadOnlyStorageBuffer
		return b
	}

	base, params := splitTypeParams(typeName)
	switch {
	case strings.HasPrefix(base, "sampler"):
		b.Kind = device.BindingKindSampler
	case strings.HasPrefix(base, "texture_storage_"):
		b.Kind = device.BindingKindStorageTexture
		format, _, _ := strings.Cut(params, ",")
		b.Format = wgslTexelFormatMap[strings.TrimSpace(format)]
	case strings.HasPrefix(base, "texture_"):
		b.Kind = device.BindingKindSampledTexture
		b.Cube = strings.Contains(base, "cube")
	}
	return b
}

// splitTypeParams splits "texture_2d<f32>" into ("texture_2d", "f32"). Types without
// parameters come back unchanged with empty params.
func splitTypeParams(typeName string) (base string, params string) {
	base, rest, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return strings.TrimSpace(base), strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ">"))
}

// stripComments removes line comments and nestable block comments in one left-to-right
// pass, so a "/*" inside a line comment or a "//" inside a block comment is inert. Line
// breaks are kept.
//
// Parameters:
//   - source: WGSL source
//
// Returns:
//   - string: the source without comments
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		c := source[i]
		var next byte
		if i+1 < len(source) {
			next = source[i+1]
		}
		switch {
		case depth == 0 && c == '/' && next == '/':
			for i < len(source) && source[i] != '\n' {
				i++
			}
			if i < len(source) {
				sb.WriteByte('\n')
			}
		case c == '/' && next == '*':
			depth++
			i++
		case depth > 0 && c == '*' && next == '/':
			depth--
			i++
		case depth > 0:
			if c == '\n' {
				sb.WriteByte('\n')
			}
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// splitAtTopLevelCommas splits s at commas outside angle brackets, so
// "a: array<vec4<f32>, 6>, b: u32" yields two fields.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth = max(depth-1, 0)
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
