package raytracing

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// ShaderKind is the stage of a ray-tracing shader.
type ShaderKind int

const (
	ShaderKindRayGen ShaderKind = iota
	ShaderKindMiss
	ShaderKindClosestHit
	ShaderKindAnyHit
	ShaderKindIntersection
)

func (k ShaderKind) String() string {
	switch k {
	case ShaderKindRayGen:
		return "raygen"
	case ShaderKindMiss:
		return "miss"
	case ShaderKindClosestHit:
		return "closesthit"
	case ShaderKindAnyHit:
		return "anyhit"
	case ShaderKindIntersection:
		return "intersection"
	default:
		return "unknown"
	}
}

// Shader is one linked entry point together with the local root signature of its records.
type Shader struct {
	name    string
	kind    ShaderKind
	library shader.Library
	sig     *RootSignature
}

func (s *Shader) Name() string                  { return s.name }
func (s *Shader) Kind() ShaderKind              { return s.kind }
func (s *Shader) Library() shader.Library       { return s.library }
func (s *Shader) RootSignature() *RootSignature { return s.sig }

// HitGroup bundles the closest-hit, any-hit and intersection shaders answering one ray type.
// Absent members are nil.
type HitGroup struct {
	index        int
	closestHit   *Shader
	anyHit       *Shader
	intersection *Shader
}

// HitGroupExportName returns the pipeline export name of hit group index.
func HitGroupExportName(index int) string {
	return fmt.Sprintf("HitGroup%d", index)
}

func (g *HitGroup) Index() int            { return g.index }
func (g *HitGroup) Name() string          { return HitGroupExportName(g.index) }
func (g *HitGroup) ClosestHit() *Shader   { return g.closestHit }
func (g *HitGroup) AnyHit() *Shader       { return g.anyHit }
func (g *HitGroup) Intersection() *Shader { return g.intersection }

func (g *HitGroup) export() device.ShaderExport {
	exp := device.ShaderExport{Name: g.Name(), Kind: device.ShaderExportHitGroup}
	if g.closestHit != nil {
		exp.ClosestHit = g.closestHit.name
	}
	if g.anyHit != nil {
		exp.AnyHit = g.anyHit.name
	}
	if g.intersection != nil {
		exp.Intersection = g.intersection.name
		exp.HitGroupType = device.HitGroupTypeProcedural
	}
	return exp
}

// Program is a validated set of ray-tracing shaders. Miss and hit group slices are indexed
// by their declared index; gaps hold nil.
type Program struct {
	libraries []shader.Library
	rayGen    *Shader
	misses    []*Shader
	hitGroups []*HitGroup

	rayGenSig *RootSignature
	hitSig    *RootSignature
	missSig   *RootSignature
	globalSig *RootSignature
}

// NewProgram validates a descriptor and links its exports to their libraries.
//
// Parameters:
//   - desc: the program descriptor
//
// Returns:
//   - *Program: the program
//   - error: every configuration problem joined, including ErrMissingRayGen,
//     ErrDuplicateMiss and ErrDuplicateHitGroup
func NewProgram(desc *ProgramDesc) (*Program, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil program descriptor: %w", ErrMissingRayGen)
	}
	errs := slices.Clone(desc.configErrs)
	p := &Program{
		libraries: desc.libraries,
		rayGenSig: desc.rayGenSig,
		hitSig:    desc.hitSig,
		missSig:   desc.missSig,
		globalSig: desc.globalSig,
	}

	link := func(name string, kind ShaderKind, sig *RootSignature) *Shader {
		if name == "" {
			return nil
		}
		for _, lib := range desc.libraries {
			if lib.HasExport(name) {
				return &Shader{name: name, kind: kind, library: lib, sig: sig}
			}
		}
		errs = append(errs, fmt.Errorf("%s export %q is not in any shader library", kind, name))
		return nil
	}

	if desc.rayGen == "" {
		errs = append(errs, ErrMissingRayGen)
	} else {
		p.rayGen = link(desc.rayGen, ShaderKindRayGen, desc.rayGenSig)
	}

	if n := maxIndex(desc.misses) + 1; n > 0 {
		p.misses = make([]*Shader, n)
		for i, name := range desc.misses {
			p.misses[i] = link(name, ShaderKindMiss, desc.missSig)
		}
	}
	if n := maxIndex(desc.hitGroups) + 1; n > 0 {
		p.hitGroups = make([]*HitGroup, n)
		for i, hg := range desc.hitGroups {
			if hg.closestHit == "" && hg.anyHit == "" && hg.intersection == "" {
				errs = append(errs, fmt.Errorf("hit group %d has no shaders", i))
				continue
			}
			p.hitGroups[i] = &HitGroup{
				index:        i,
				closestHit:   link(hg.closestHit, ShaderKindClosestHit, desc.hitSig),
				anyHit:       link(hg.anyHit, ShaderKindAnyHit, desc.hitSig),
				intersection: link(hg.intersection, ShaderKindIntersection, desc.hitSig),
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	return p, nil
}

func maxIndex[V any](m map[int]V) int {
	n := -1
	for i := range m {
		n = max(n, i)
	}
	return n
}

func (p *Program) Libraries() []shader.Library { return p.libraries }
func (p *Program) RayGen() *Shader             { return p.rayGen }

// Miss returns the miss shader at index, or nil for a gap.
func (p *Program) Miss(index int) *Shader {
	if index < 0 || index >= len(p.misses) {
		return nil
	}
	return p.misses[index]
}

// HitGroup returns the hit group at index, or nil for a gap.
func (p *Program) HitGroup(index int) *HitGroup {
	if index < 0 || index >= len(p.hitGroups) {
		return nil
	}
	return p.hitGroups[index]
}

// MissProgramCount is the number of miss records, gaps included.
func (p *Program) MissProgramCount() int { return len(p.misses) }

// HitProgramCount is the number of ray types, gaps included.
func (p *Program) HitProgramCount() int { return len(p.hitGroups) }

func (p *Program) RayGenRootSignature() *RootSignature   { return p.rayGenSig }
func (p *Program) HitGroupRootSignature() *RootSignature { return p.hitSig }
func (p *Program) MissRootSignature() *RootSignature     { return p.missSig }
func (p *Program) GlobalRootSignature() *RootSignature   { return p.globalSig }

// MaxLocalArgumentSize is the largest local argument size of any record kind.
func (p *Program) MaxLocalArgumentSize() uint32 {
	return max(p.rayGenSig.ArgumentSize(), p.hitSig.ArgumentSize(), p.missSig.ArgumentSize())
}

// exports lists the pipeline exports: ray generation, each distinct miss shader, then the
// hit groups in index order.
func (p *Program) exports() []device.ShaderExport {
	exports := []device.ShaderExport{{Name: p.rayGen.name, Kind: device.ShaderExportRayGen, Shader: p.rayGen.name}}
	seen := map[string]bool{p.rayGen.name: true}
	for _, m := range p.misses {
		if m == nil || seen[m.name] {
			continue
		}
		seen[m.name] = true
		exports = append(exports, device.ShaderExport{Name: m.name, Kind: device.ShaderExportMiss, Shader: m.name})
	}
	for _, g := range p.hitGroups {
		if g != nil {
			exports = append(exports, g.export())
		}
	}
	return exports
}
