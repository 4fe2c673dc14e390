package device

import (
	"encoding/binary"
	"fmt"
)

// RaytracingPipeline is a compiled set of ray-tracing exports.
type RaytracingPipeline interface {
	Label() string
	Exports() []ShaderExport
	MaxTraceRecursionDepth() uint32
	MaxPayloadSize() uint32
	MaxAttributeSize() uint32

	// ShaderIdentifier returns the opaque identifier written at the start of shader records
	// that should run the named export.
	//
	// Parameters:
	//   - name: the export name (ray-gen, miss or hit group)
	//
	// Returns:
	//   - []byte: ShaderIdentifierSize bytes
	//   - bool: false when the pipeline has no export with that name
	ShaderIdentifier(name string) ([]byte, bool)

	Release()
}

// ComputeKernel is a compiled compute program dispatched with CommandList.Dispatch.
type ComputeKernel interface {
	Label() string
	WorkgroupSize() [3]uint32
	Release()
}

type raytracingPipeline struct {
	d        *device
	desc     RaytracingPipelineDescriptor
	byName   map[string]int
	hosts    map[string]HostShaderFunc
	released bool

	// backend objects on the wgpu device
	handle any
}

var _ RaytracingPipeline = &raytracingPipeline{}

func newRaytracingPipeline(d *device, desc RaytracingPipelineDescriptor) (*raytracingPipeline, error) {
	p := &raytracingPipeline{
		d:      d,
		desc:   desc,
		byName: make(map[string]int, len(desc.Exports)),
		hosts:  make(map[string]HostShaderFunc),
	}
	if p.desc.MaxTraceRecursionDepth == 0 {
		p.desc.MaxTraceRecursionDepth = 1
	}
	for i, e := range desc.Exports {
		if e.Name == "" {
			return nil, fmt.Errorf("pipeline %q: export %d has no name", desc.Label, i)
		}
		if _, dup := p.byName[e.Name]; dup {
			return nil, fmt.Errorf("pipeline %q: export %q declared twice", desc.Label, e.Name)
		}
		p.byName[e.Name] = i
	}
	for _, lib := range desc.Libraries {
		for name, fn := range lib.HostShaders {
			p.hosts[name] = fn
		}
	}
	return p, nil
}

func (p *raytracingPipeline) Label() string                  { return p.desc.Label }
func (p *raytracingPipeline) Exports() []ShaderExport        { return p.desc.Exports }
func (p *raytracingPipeline) MaxTraceRecursionDepth() uint32 { return p.desc.MaxTraceRecursionDepth }
func (p *raytracingPipeline) MaxPayloadSize() uint32         { return p.desc.MaxPayloadSize }
func (p *raytracingPipeline) MaxAttributeSize() uint32       { return p.desc.MaxAttributeSize }

func (p *raytracingPipeline) ShaderIdentifier(name string) ([]byte, bool) {
	i, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return EncodeShaderIdentifier(uint32(i), p.desc.Exports[i].Kind), true
}

func (p *raytracingPipeline) Release() {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()

	if p.released {
		return
	}
	p.released = true
	p.d.backend.releasePipeline(p)
}

// exportAt returns the export named by a record identifier. A null identifier or an
// out-of-range index reports false.
func (p *raytracingPipeline) exportAt(id []byte) (ShaderExport, bool) {
	index, _, ok := DecodeShaderIdentifier(id)
	if !ok || int(index) >= len(p.desc.Exports) {
		return ShaderExport{}, false
	}
	return p.desc.Exports[index], true
}

// host returns the CPU implementation of a shader function, or nil.
func (p *raytracingPipeline) host(name string) HostShaderFunc {
	if name == "" {
		return nil
	}
	return p.hosts[name]
}

// EncodeShaderIdentifier builds the identifier of export index. The first word is index+1
// so an all-zero identifier never names an export.
//
// Parameters:
//   - index: the position of the export in the pipeline's export table
//   - kind: the export kind, stored in the second word
//
// Returns:
//   - []byte: ShaderIdentifierSize bytes
func EncodeShaderIdentifier(index uint32, kind ShaderExportKind) []byte {
	id := make([]byte, ShaderIdentifierSize)
	binary.LittleEndian.PutUint32(id[0:], index+1)
	binary.LittleEndian.PutUint32(id[4:], uint32(kind))
	return id
}

// DecodeShaderIdentifier reverses EncodeShaderIdentifier.
//
// Parameters:
//   - id: at least ShaderIdentifierSize bytes
//
// Returns:
//   - uint32: the export index
//   - ShaderExportKind: the export kind
//   - bool: false for a null or short identifier
func DecodeShaderIdentifier(id []byte) (uint32, ShaderExportKind, bool) {
	if len(id) < ShaderIdentifierSize {
		return 0, ShaderExportNone, false
	}
	word := binary.LittleEndian.Uint32(id)
	if word == 0 {
		return 0, ShaderExportNone, false
	}
	return word - 1, ShaderExportKind(binary.LittleEndian.Uint32(id[4:])), true
}

type computeKernel struct {
	d        *device
	desc     ComputeKernelDescriptor
	released bool
	handle   any
}

var _ ComputeKernel = &computeKernel{}

func (k *computeKernel) Label() string { return k.desc.Label }

func (k *computeKernel) WorkgroupSize() [3]uint32 {
	ws := k.desc.WorkgroupSize
	for i := range ws {
		if ws[i] == 0 {
			ws[i] = 1
		}
	}
	return ws
}

func (k *computeKernel) Release() {
	k.d.mu.Lock()
	defer k.d.mu.Unlock()

	if k.released {
		return
	}
	k.released = true
	k.d.backend.releaseKernel(k)
}
