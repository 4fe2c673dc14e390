package raytracing

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// hitGroupDesc names the member exports of one hit group.
type hitGroupDesc struct {
	closestHit   string
	anyHit       string
	intersection string
}

// ProgramDesc declares the exports and root signatures a Program is assembled from.
// Misses and hit groups are index-addressed and may leave gaps.
type ProgramDesc struct {
	libraries []shader.Library
	rayGen    string
	misses    map[int]string
	hitGroups map[int]hitGroupDesc

	rayGenSig   *RootSignature
	hitSig      *RootSignature
	missSig     *RootSignature
	globalSig   *RootSignature
	configErrs  []error
	rayGenCount int
}

type ProgramDescOption func(*ProgramDesc)

// NewProgramDesc creates a program descriptor with all specified options applied. Problems
// such as a reused index are recorded and reported by NewProgram.
//
// Parameters:
//   - options: a variadic list of ProgramDescOption functions
//
// Returns:
//   - *ProgramDesc: the descriptor
func NewProgramDesc(options ...ProgramDescOption) *ProgramDesc {
	d := &ProgramDesc{
		misses:    make(map[int]string),
		hitGroups: make(map[int]hitGroupDesc),
		rayGenSig: NewRootSignature(true),
		hitSig:    NewRootSignature(true),
		missSig:   NewRootSignature(true),
		globalSig: NewRootSignature(false),
	}
	d.Apply(options...)
	return d
}

// Apply applies further options to the descriptor.
func (d *ProgramDesc) Apply(options ...ProgramDescOption) {
	for _, opt := range options {
		opt(d)
	}
}

// WithShaderLibrary adds a library whose exports the program may name.
//
// Parameters:
//   - lib: the shader library
//
// Returns:
//   - ProgramDescOption: a function that adds the library
func WithShaderLibrary(lib shader.Library) ProgramDescOption {
	return func(d *ProgramDesc) {
		d.libraries = append(d.libraries, lib)
	}
}

// WithRayGen sets the ray generation export.
//
// Parameters:
//   - name: the export name
//
// Returns:
//   - ProgramDescOption: a function that sets the ray generation shader
func WithRayGen(name string) ProgramDescOption {
	return func(d *ProgramDesc) {
		d.rayGen = name
		d.rayGenCount++
		if d.rayGenCount > 1 {
			d.configErrs = append(d.configErrs, fmt.Errorf("ray generation shader set twice, %q replaces the first", name))
		}
	}
}

// WithMiss sets the miss export at index.
//
// Parameters:
//   - index: the miss shader index, which TraceRay selects with MissShaderIndex
//   - name: the export name
//
// Returns:
//   - ProgramDescOption: a function that adds the miss shader
func WithMiss(index int, name string) ProgramDescOption {
	return func(d *ProgramDesc) {
		if index < 0 {
			d.configErrs = append(d.configErrs, fmt.Errorf("miss %q has negative index %d", name, index))
			return
		}
		if prev, ok := d.misses[index]; ok {
			d.configErrs = append(d.configErrs, fmt.Errorf("%w: %d holds %q, %q rejected", ErrDuplicateMiss, index, prev, name))
			return
		}
		d.misses[index] = name
	}
}

// WithHitGroup sets a triangle hit group at index. Either export may be empty.
//
// Parameters:
//   - index: the hit group index, which is the ray type
//   - closestHit: the closest-hit export
//   - anyHit: the any-hit export
//
// Returns:
//   - ProgramDescOption: a function that adds the hit group
func WithHitGroup(index int, closestHit, anyHit string) ProgramDescOption {
	return WithProceduralHitGroup(index, closestHit, anyHit, "")
}

// WithProceduralHitGroup sets a hit group with an intersection export at index.
//
// Parameters:
//   - index: the hit group index, which is the ray type
//   - closestHit: the closest-hit export
//   - anyHit: the any-hit export
//   - intersection: the intersection export, empty for triangle geometry
//
// Returns:
//   - ProgramDescOption: a function that adds the hit group
func WithProceduralHitGroup(index int, closestHit, anyHit, intersection string) ProgramDescOption {
	return func(d *ProgramDesc) {
		if index < 0 {
			d.configErrs = append(d.configErrs, fmt.Errorf("hit group has negative index %d", index))
			return
		}
		if _, ok := d.hitGroups[index]; ok {
			d.configErrs = append(d.configErrs, fmt.Errorf("%w: %d", ErrDuplicateHitGroup, index))
			return
		}
		d.hitGroups[index] = hitGroupDesc{closestHit: closestHit, anyHit: anyHit, intersection: intersection}
	}
}

// WithGlobalRootSignature configures the global root signature.
//
// Parameters:
//   - configure: a function that declares the global parameters
//
// Returns:
//   - ProgramDescOption: a function that runs configure
func WithGlobalRootSignature(configure func(*RootSignature)) ProgramDescOption {
	return func(d *ProgramDesc) { configure(d.globalSig) }
}

// WithRayGenRootSignature configures the local root signature of the ray generation record.
//
// Parameters:
//   - configure: a function that declares the ray generation parameters
//
// Returns:
//   - ProgramDescOption: a function that runs configure
func WithRayGenRootSignature(configure func(*RootSignature)) ProgramDescOption {
	return func(d *ProgramDesc) { configure(d.rayGenSig) }
}

// WithHitGroupRootSignature configures the local root signature shared by every hit group.
//
// Parameters:
//   - configure: a function that declares the hit group parameters
//
// Returns:
//   - ProgramDescOption: a function that runs configure
func WithHitGroupRootSignature(configure func(*RootSignature)) ProgramDescOption {
	return func(d *ProgramDesc) { configure(d.hitSig) }
}

// WithMissRootSignature configures the local root signature shared by every miss shader.
//
// Parameters:
//   - configure: a function that declares the miss parameters
//
// Returns:
//   - ProgramDescOption: a function that runs configure
func WithMissRootSignature(configure func(*RootSignature)) ProgramDescOption {
	return func(d *ProgramDesc) { configure(d.missSig) }
}
