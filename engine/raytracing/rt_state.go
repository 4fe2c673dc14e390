package raytracing

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// Pipeline limits applied unless configured.
const (
	DefaultMaxTraceRecursionDepth = 1
	DefaultMaxPayloadSize         = 20
	DefaultMaxAttributeSize       = 8
)

// State is the pipeline state object a program is dispatched with. It owns the device
// pipeline and resolves export names to shader identifiers.
type State struct {
	label             string
	program           *Program
	pipeline          device.RaytracingPipeline
	module            *shader.CompiledModule
	maxRecursionDepth uint32
	maxPayloadSize    uint32
	maxAttributeSize  uint32
}

// NewState creates the pipeline for a program. On WebGPU devices the dispatch kernel is
// compiled with naga first so shader errors surface here.
//
// Parameters:
//   - ctx: the context owning the device
//   - program: the linked program
//   - options: a variadic list of StateBuilderOption functions
//
// Returns:
//   - *State: the pipeline state
//   - error: a compile or pipeline creation error
func NewState(ctx *Context, program *Program, options ...StateBuilderOption) (*State, error) {
	if ctx == nil || program == nil {
		panic("raytracing: NewState requires a context and a program")
	}
	s := &State{
		label:             "Raytracing Pipeline",
		program:           program,
		maxRecursionDepth: DefaultMaxTraceRecursionDepth,
		maxPayloadSize:    DefaultMaxPayloadSize,
		maxAttributeSize:  DefaultMaxAttributeSize,
	}
	for _, opt := range options {
		opt(s)
	}

	desc := device.RaytracingPipelineDescriptor{
		Label:                  s.label,
		Exports:                program.exports(),
		MaxTraceRecursionDepth: s.maxRecursionDepth,
		MaxPayloadSize:         s.maxPayloadSize,
		MaxAttributeSize:       s.maxAttributeSize,
	}
	hasSource := false
	for _, lib := range program.Libraries() {
		desc.Libraries = append(desc.Libraries, lib.LibrarySource())
		hasSource = hasSource || lib.Source() != ""
	}

	if hasSource && ctx.Device().BackendType() == device.BackendTypeWGPU {
		m, err := shader.CompilePipeline(desc)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", s.label, err)
		}
		s.module = m
	}

	p, err := ctx.Device().CreateRaytracingPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("state %q: %w", s.label, err)
	}
	s.pipeline = p
	common.Logger().Debug("raytracing state created",
		"label", s.label,
		"exports", len(desc.Exports),
		"recursion", s.maxRecursionDepth,
		"payload", s.maxPayloadSize,
		"attributes", s.maxAttributeSize,
	)
	return s, nil
}

// ShaderIdentifier returns the identifier of an export.
//
// Parameters:
//   - name: the export name; hit groups are named by HitGroupExportName
//
// Returns:
//   - []byte: device.ShaderIdentifierSize bytes
//   - error: an error wrapping ErrUnknownShaderIdentifier if the pipeline lacks the export
func (s *State) ShaderIdentifier(name string) ([]byte, error) {
	id, ok := s.pipeline.ShaderIdentifier(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in pipeline %q", ErrUnknownShaderIdentifier, name, s.label)
	}
	return id, nil
}

func (s *State) Label() string                       { return s.label }
func (s *State) Program() *Program                   { return s.program }
func (s *State) Pipeline() device.RaytracingPipeline { return s.pipeline }
func (s *State) MaxTraceRecursionDepth() uint32      { return s.maxRecursionDepth }
func (s *State) MaxPayloadSize() uint32              { return s.maxPayloadSize }
func (s *State) MaxAttributeSize() uint32            { return s.maxAttributeSize }

// Module returns the naga-compiled dispatch kernel, or nil when none was compiled.
func (s *State) Module() *shader.CompiledModule { return s.module }

func (s *State) Release() {
	if s.pipeline != nil {
		s.pipeline.Release()
	}
}
