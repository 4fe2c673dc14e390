package shader

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/gogpu/naga"
)

// SPIR-V constants used by entry point reflection.
const (
	spirvMagic             = 0x07230203
	spirvHeaderWords       = 5
	spirvOpEntryPoint      = 15
	spirvOpExecutionMode   = 16
	spirvExecutionModeSize = 17
)

// ExecutionModel is the SPIR-V execution model of an entry point.
type ExecutionModel uint32

const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

// ErrNoSource is returned when compiling a library that only carries host functions.
var ErrNoSource = errors.New("shader has no WGSL source")

// EntryPoint describes one entry point found in a compiled module.
type EntryPoint struct {
	Name           string
	ExecutionModel ExecutionModel
	// WorkgroupSize is zero for non-compute entry points.
	WorkgroupSize [3]uint32
}

// CompiledModule is the SPIR-V produced by naga for a WGSL module.
type CompiledModule struct {
	Label       string
	SPIRV       []uint32
	EntryPoints []EntryPoint
}

// EntryPoint looks up a compiled entry point by name.
//
// Parameters:
//   - name: the WGSL function name of the entry point
//
// Returns:
//   - EntryPoint: the entry point
//   - bool: false when the module has no entry point with that name
func (m *CompiledModule) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// CompilePipeline assembles the ray dispatch kernel for a pipeline descriptor and
// compiles it with naga. The result must expose the kernel's oxy_main entry point.
//
// Parameters:
//   - desc: the pipeline descriptor whose libraries carry WGSL source
//
// Returns:
//   - *CompiledModule: the compiled kernel
//   - error: ErrNoSource when no library has source, or the compile error
func CompilePipeline(desc device.RaytracingPipelineDescriptor) (*CompiledModule, error) {
	hasSource := false
	for _, lib := range desc.Libraries {
		if lib.Source != "" {
			hasSource = true
			break
		}
	}
	if !hasSource {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Label, ErrNoSource)
	}

	source, _ := device.AssembleRaytracingKernel(desc)
	m, err := compileWGSL(desc.Label, source)
	if err != nil {
		return nil, err
	}
	if _, ok := m.EntryPoint("oxy_main"); !ok {
		return nil, fmt.Errorf("pipeline %q: compiled kernel has no oxy_main entry point", desc.Label)
	}
	return m, nil
}

// compileWGSL runs naga over a WGSL module and reflects its entry points.
func compileWGSL(label, source string) (*CompiledModule, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader %q: %w", label, err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("shader %q: SPIR-V length %d is not a multiple of 4", label, len(spirvBytes))
	}

	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	entryPoints, err := reflectEntryPoints(words)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", label, err)
	}
	common.Logger().Debug("compiled shader module", "label", label, "words", len(words), "entry_points", len(entryPoints))
	return &CompiledModule{Label: label, SPIRV: words, EntryPoints: entryPoints}, nil
}

// reflectEntryPoints walks a SPIR-V instruction stream and collects the OpEntryPoint
// declarations together with their LocalSize execution modes.
func reflectEntryPoints(words []uint32) ([]EntryPoint, error) {
	if len(words) < spirvHeaderWords || words[0] != spirvMagic {
		return nil, errors.New("not a SPIR-V module")
	}

	var entryPoints []EntryPoint
	byID := make(map[uint32]int)
	sizes := make(map[uint32][3]uint32)
	for i := spirvHeaderWords; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xFFFF
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("malformed instruction at word %d", i)
		}
		operands := words[i+1 : i+count]

		switch op {
		case spirvOpEntryPoint:
			if len(operands) < 3 {
				return nil, fmt.Errorf("truncated OpEntryPoint at word %d", i)
			}
			byID[operands[1]] = len(entryPoints)
			entryPoints = append(entryPoints, EntryPoint{
				Name:           decodeLiteralString(operands[2:]),
				ExecutionModel: ExecutionModel(operands[0]),
			})
		case spirvOpExecutionMode:
			if len(operands) >= 5 && operands[1] == spirvExecutionModeSize {
				sizes[operands[0]] = [3]uint32{operands[2], operands[3], operands[4]}
			}
		}
		i += count
	}

	for id, size := range sizes {
		if idx, ok := byID[id]; ok {
			entryPoints[idx].WorkgroupSize = size
		}
	}
	return entryPoints, nil
}

// decodeLiteralString reads a nul-terminated UTF-8 string packed into little-endian words.
func decodeLiteralString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			b := byte(w >> shift)
			if b == 0 {
				return string(buf)
			}
			buf = append(buf, b)
		}
	}
	return string(buf)
}
