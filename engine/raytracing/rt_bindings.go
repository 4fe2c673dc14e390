package raytracing

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// Shader table layout constants.
const (
	// ShaderRecordAlignment is the alignment of every record size.
	ShaderRecordAlignment = 32
	// ShaderTableAlignment is the alignment of the table start address.
	ShaderTableAlignment = 64
)

// BindingsMode selects how the hit section is sized.
type BindingsMode int

const (
	// BindingsModeScene sizes the hit section by the scene's instance count.
	BindingsModeScene BindingsMode = iota
	// BindingsModeNoScene uses a single record per hit group.
	BindingsModeNoScene
)

func (m BindingsMode) String() string {
	if m == BindingsModeScene {
		return "scene"
	}
	return "no-scene"
}

// InstanceSource reports how many TLAS instances a table must cover.
type InstanceSource interface {
	InstanceCount() int
}

// Bindings is the shader binding table of a program. The table holds, in order, the ray
// generation record, one record per miss index and one record per (ray type, instance)
// pair, ray type major. Every record is RecordSize bytes: a shader identifier followed by
// the record's local root arguments.
type Bindings struct {
	ctx     *Context
	program *Program
	mode    BindingsMode
	scene   InstanceSource

	instanceCount int
	missCount     int
	hitCount      int
	recordSize    uint32
	recordCount   int
	firstHit      int

	mirror []byte
	table  device.Buffer

	rayGenVars *Params
	missVars   []*Params
	hitVars    []*Params
	globalVars *Params
}

var _ ShaderTable = &Bindings{}

// NewBindings lays out the shader table of a program and allocates its upload buffer.
//
// Parameters:
//   - ctx: the context whose device holds the table
//   - program: the program whose records the table holds
//   - options: a variadic list of BindingsBuilderOption functions
//
// Returns:
//   - *Bindings: the bindings
//   - error: an error if the table buffer cannot be created
func NewBindings(ctx *Context, program *Program, options ...BindingsBuilderOption) (*Bindings, error) {
	if ctx == nil || program == nil {
		panic("raytracing: NewBindings requires a context and a program")
	}
	b := &Bindings{
		ctx:           ctx,
		program:       program,
		mode:          BindingsModeNoScene,
		instanceCount: -1,
	}
	for _, opt := range options {
		opt(b)
	}
	if b.instanceCount < 0 {
		b.instanceCount = 1
		if b.scene != nil {
			b.instanceCount = b.scene.InstanceCount()
		}
	}

	b.missCount = program.MissProgramCount()
	b.hitCount = program.HitProgramCount()
	b.firstHit = 1 + b.missCount
	b.recordCount = 1 + b.missCount + b.hitCount*b.instanceCount
	b.recordSize = common.AlignUp(device.ShaderIdentifierSize+program.MaxLocalArgumentSize(), ShaderRecordAlignment)

	tableSize := uint64(b.recordCount) * uint64(b.recordSize)
	b.mirror = make([]byte, tableSize)
	table, err := ctx.Device().CreateBuffer(device.BufferDescriptor{
		Label: "Shader Table",
		Size:  common.AlignUp(tableSize, ShaderTableAlignment),
		Usage: device.BufferUsageUpload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shader table: %w", err)
	}
	b.table = table

	b.rayGenVars = NewParams(program.RayGenRootSignature().ArgumentSize())
	b.missVars = make([]*Params, b.missCount)
	for i := range b.missVars {
		b.missVars[i] = NewParams(program.MissRootSignature().ArgumentSize())
	}
	b.hitVars = make([]*Params, b.hitCount*b.instanceCount)
	for i := range b.hitVars {
		b.hitVars[i] = NewParams(program.HitGroupRootSignature().ArgumentSize())
	}
	b.globalVars = NewParams(program.GlobalRootSignature().ArgumentSize())

	common.Logger().Debug("shader table laid out",
		"mode", b.mode,
		"records", b.recordCount,
		"record_size", b.recordSize,
		"miss", b.missCount,
		"hit", b.hitCount,
		"instances", b.instanceCount,
		"bytes", tableSize,
	)
	return b, nil
}

// Apply writes every record and uploads the table. Each record gets the identifier of its
// export followed by the arguments of its Params; gaps get a null identifier.
//
// Parameters:
//   - state: the pipeline state the identifiers come from
//
// Returns:
//   - error: an error wrapping ErrStaleBindings, ErrUnknownShaderIdentifier, ErrRecordOverflow
//     or device.ErrMapFailed
func (b *Bindings) Apply(state *State) error {
	if b.Stale() {
		return fmt.Errorf("%w: laid out for %d instances, scene has %d", ErrStaleBindings, b.instanceCount, b.scene.InstanceCount())
	}
	if err := b.writeRecord(b.RayGenRecord(), state, b.program.RayGen().Name(), b.rayGenVars); err != nil {
		return fmt.Errorf("ray generation record: %w", err)
	}
	for i := 0; i < b.missCount; i++ {
		name := ""
		if m := b.program.Miss(i); m != nil {
			name = m.Name()
		}
		if err := b.writeRecord(b.MissRecord(i), state, name, b.missVars[i]); err != nil {
			return fmt.Errorf("miss record %d: %w", i, err)
		}
	}
	for h := 0; h < b.hitCount; h++ {
		name := ""
		if g := b.program.HitGroup(h); g != nil {
			name = g.Name()
		}
		for i := 0; i < b.instanceCount; i++ {
			if err := b.writeRecord(b.HitRecord(h, i), state, name, b.HitVars(h, i)); err != nil {
				return fmt.Errorf("hit record (%d, %d): %w", h, i, err)
			}
		}
	}
	mem, err := b.table.Map()
	if err != nil {
		return fmt.Errorf("failed to upload shader table: %w", err)
	}
	copy(mem, b.mirror)
	if err := b.table.Unmap(); err != nil {
		return fmt.Errorf("failed to upload shader table: %w", err)
	}
	return nil
}

func (b *Bindings) writeRecord(record []byte, state *State, name string, params *Params) error {
	if name == "" {
		clear(record)
		return nil
	}
	id, err := state.ShaderIdentifier(name)
	if err != nil {
		return err
	}
	copy(record[:device.ShaderIdentifierSize], id)
	return params.ApplyRootParams(record[device.ShaderIdentifierSize:])
}

// GlobalArguments decodes the arguments appended to GlobalVars in global root signature
// order. Nothing is returned while GlobalVars is empty.
func (b *Bindings) GlobalArguments() ([]device.RootArgument, error) {
	sig := b.program.GlobalRootSignature()
	staged := b.globalVars.Bytes()
	if len(staged) == 0 {
		return nil, nil
	}
	spans := sig.argumentOffsets()
	if spans[len(spans)-1].end != uint32(len(staged)) {
		return nil, fmt.Errorf("global arguments hold %d bytes, the global root signature declares %d",
			len(staged), spans[len(spans)-1].end)
	}
	args := make([]device.RootArgument, len(spans))
	for i, p := range sig.Parameters() {
		span := staged[spans[i].start:spans[i].end]
		args[i].Kind = p.Type.argumentKind()
		if p.Type == RootParameterConstants {
			args[i].Constants = make([]uint32, p.Num32BitValues)
			for j := range args[i].Constants {
				args[i].Constants[j] = binary.LittleEndian.Uint32(span[j*4:])
			}
			continue
		}
		args[i].Address = binary.LittleEndian.Uint64(span)
	}
	// the next append restages the globals from scratch
	b.globalVars.applied = true
	return args, nil
}

func (b *Bindings) ShaderTable() device.Buffer { return b.table }
func (b *Bindings) ShaderTableAddress() uint64 { return b.table.Address() }
func (b *Bindings) RecordSize() uint32         { return b.recordSize }
func (b *Bindings) RecordCount() int           { return b.recordCount }
func (b *Bindings) RayGenRecordIndex() int     { return 0 }
func (b *Bindings) FirstMissRecordIndex() int  { return 1 }
func (b *Bindings) FirstHitRecordIndex() int   { return b.firstHit }
func (b *Bindings) HitProgramCount() int       { return b.hitCount }
func (b *Bindings) MissProgramCount() int      { return b.missCount }
func (b *Bindings) InstanceCount() int         { return b.instanceCount }
func (b *Bindings) Mode() BindingsMode         { return b.mode }
func (b *Bindings) Program() *Program          { return b.program }
func (b *Bindings) RayGenVars() *Params        { return b.rayGenVars }
func (b *Bindings) GlobalVars() *Params        { return b.globalVars }

// RayContributionStride is the RayContributionToHitGroupIndex step between ray types.
// A shader tracing ray type r passes r*RayContributionStride().
func (b *Bindings) RayContributionStride() uint32 { return uint32(b.instanceCount) }

// MissVars returns the Params of miss record rayType, or nil if the table has no such
// miss index.
func (b *Bindings) MissVars(rayType int) *Params {
	if rayType < 0 || rayType >= b.missCount {
		return nil
	}
	return b.missVars[rayType]
}

// HitVars returns the Params of the hit record answering rayType for an instance, or nil
// if the pair lies outside the table.
func (b *Bindings) HitVars(rayType, instance int) *Params {
	if !b.hitInRange(rayType, instance) {
		return nil
	}
	return b.hitVars[rayType*b.instanceCount+instance]
}

// ResetVars rewinds every record's Params and the global Params, discarding arguments
// staged by a frame that never reached Apply or Raytrace.
func (b *Bindings) ResetVars() {
	b.rayGenVars.Reset()
	for _, p := range b.missVars {
		p.Reset()
	}
	for _, p := range b.hitVars {
		p.Reset()
	}
	b.globalVars.Reset()
}

// Stale reports whether the scene the table was laid out for has since gained or lost
// instances. A stale table must be rebuilt before Apply.
func (b *Bindings) Stale() bool {
	return b.mode == BindingsModeScene && b.scene != nil && b.scene.InstanceCount() != b.instanceCount
}

func (b *Bindings) hitInRange(rayType, instance int) bool {
	return rayType >= 0 && rayType < b.hitCount && instance >= 0 && instance < b.instanceCount
}

// HitRecordOffset returns the byte offset of a hit record from the start of the table.
//
// Parameters:
//   - rayType: the hit group index
//   - instance: the TLAS instance index
//
// Returns:
//   - uint64: the record offset
func (b *Bindings) HitRecordOffset(rayType, instance int) uint64 {
	return uint64(b.firstHit+rayType*b.instanceCount+instance) * uint64(b.recordSize)
}

// RayGenRecord returns the CPU copy of the ray generation record.
func (b *Bindings) RayGenRecord() []byte {
	return b.record(0)
}

// MissRecord returns the CPU copy of miss record index, or nil if there is none.
func (b *Bindings) MissRecord(index int) []byte {
	if index < 0 || index >= b.missCount {
		return nil
	}
	return b.record(1 + index)
}

// HitRecord returns the CPU copy of the hit record for a ray type and instance, or nil if
// the pair lies outside the table.
func (b *Bindings) HitRecord(rayType, instance int) []byte {
	if !b.hitInRange(rayType, instance) {
		return nil
	}
	return b.record(b.firstHit + rayType*b.instanceCount + instance)
}

func (b *Bindings) record(index int) []byte {
	start := index * int(b.recordSize)
	return b.mirror[start : start+int(b.recordSize)]
}

func (b *Bindings) Release() {
	if b.table != nil {
		b.table.Release()
		b.table = nil
	}
}
