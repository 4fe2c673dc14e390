package shader

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// LibraryKind identifies how a library's exports are consumed.
type LibraryKind int

const (
	// LibraryKindRaytracing is a collection of ray generation, miss and hit functions
	// linked into a ray-tracing pipeline.
	LibraryKindRaytracing LibraryKind = iota

	// LibraryKindCompute is a standalone module with one @compute entry point.
	LibraryKindCompute
)

// library is the implementation of the Library interface.
type library struct {
	key           string
	kind          LibraryKind
	sourcePath    string
	source        string
	exports       []string
	functions     []string
	entryPoint    string
	workgroupSize [3]uint32
	bindings      []device.BindingLayout
	hostShaders   map[string]device.HostShaderFunc
	hostKernel    device.HostKernelFunc

	pp PreProcessor
}

// Library is a loaded shader library. A ray-tracing library names the functions it exports
// to programs and may carry Go host implementations of them for the headless device. A
// compute library wraps one kernel.
type Library interface {
	// Key retrieves the unique identifier for this library.
	//
	// Returns:
	//   - string: the library's key, also used as its pipeline label
	Key() string

	Kind() LibraryKind

	// Source retrieves the pre-processed WGSL source.
	//
	// Returns:
	//   - string: the WGSL source, empty for host-only libraries
	Source() string

	// Exports returns the export names in declaration order. Names come from WithExports
	// followed by any @oxy:export annotations in the source.
	//
	// Returns:
	//   - []string: the export names
	Exports() []string

	// HasExport reports whether the library exports a function.
	//
	// Parameters:
	//   - name: the export name to look up
	//
	// Returns:
	//   - bool: true if name is exported
	HasExport(name string) bool

	Functions() []string
	EntryPoint() string

	// WorkgroupSize returns the workgroup size of a compute library, or the size the ray
	// dispatch kernel should use when set with WithWorkgroupSize. Zero means unset.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	Bindings() []device.BindingLayout

	// BindGroupVarName retrieves the variable name declared at a group and binding.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or an empty string if nothing is declared there
	BindGroupVarName(group, binding uint32) string

	// Declarations returns the group and export annotations parsed from the source.
	//
	// Returns:
	//   - []Annotation: the annotations in source order
	Declarations() []Annotation

	HostShaders() map[string]device.HostShaderFunc
	HostKernel() device.HostKernelFunc

	// Compile compiles a compute library to SPIR-V with naga. Ray-tracing libraries are
	// compiled as part of a pipeline with CompilePipeline.
	//
	// Returns:
	//   - *CompiledModule: the compiled module
	//   - error: ErrNoSource for host-only libraries, or the compile error
	Compile() (*CompiledModule, error)

	// LibrarySource converts the library into the device's pipeline library description.
	//
	// Returns:
	//   - device.ShaderLibrarySource: the device-level library
	LibrarySource() device.ShaderLibrarySource

	// KernelDescriptor converts a compute library into a kernel descriptor.
	//
	// Returns:
	//   - device.ComputeKernelDescriptor: the descriptor passed to CreateComputeKernel
	KernelDescriptor() device.ComputeKernelDescriptor
}

var _ Library = &library{}

// NewLibrary creates a Library with all specified options applied. The source is run through
// the pre-processor, then its functions, bindings and compute entry point are parsed.
// Every export must name a function in the source or have a host shader.
//
// Parameters:
//   - key: a unique identifier for the library
//   - options: a variadic list of LibraryBuilderOption functions
//
// Returns:
//   - Library: the loaded library
//   - error: every configuration problem joined together
func NewLibrary(key string, options ...LibraryBuilderOption) (Library, error) {
	l := &library{
		key:         key,
		hostShaders: make(map[string]device.HostShaderFunc),
		pp:          NewPreProcessor(),
	}
	for _, opt := range options {
		opt(l)
	}

	if l.sourcePath != "" {
		data, err := os.ReadFile(l.sourcePath)
		if err != nil {
			return nil, fmt.Errorf("library %q: failed to read source file %q: %w", key, l.sourcePath, err)
		}
		l.source = string(data)
	}
	if l.source != "" {
		if err := l.parseSource(); err != nil {
			return nil, fmt.Errorf("library %q: %w", key, err)
		}
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("library %q: %w", key, err)
	}
	return l, nil
}

func (l *library) Key() string                                   { return l.key }
func (l *library) Kind() LibraryKind                             { return l.kind }
func (l *library) Source() string                                { return l.source }
func (l *library) Exports() []string                             { return l.exports }
func (l *library) HasExport(name string) bool                    { return slices.Contains(l.exports, name) }
func (l *library) Functions() []string                           { return l.functions }
func (l *library) EntryPoint() string                            { return l.entryPoint }
func (l *library) WorkgroupSize() [3]uint32                      { return l.workgroupSize }
func (l *library) Bindings() []device.BindingLayout              { return l.bindings }
func (l *library) HostShaders() map[string]device.HostShaderFunc { return l.hostShaders }
func (l *library) HostKernel() device.HostKernelFunc             { return l.hostKernel }

func (l *library) BindGroupVarName(group, binding uint32) string {
	for _, b := range l.bindings {
		if b.Group == group && b.Binding == binding {
			return b.Name
		}
	}
	return ""
}

func (l *library) Declarations() []Annotation {
	return l.pp.Declarations()
}

func (l *library) Compile() (*CompiledModule, error) {
	if l.kind != LibraryKindCompute {
		return nil, fmt.Errorf("library %q: ray-tracing libraries compile with their pipeline", l.key)
	}
	if l.source == "" {
		return nil, fmt.Errorf("library %q: %w", l.key, ErrNoSource)
	}
	m, err := compileWGSL(l.key, l.source)
	if err != nil {
		return nil, err
	}
	if _, ok := m.EntryPoint(l.entryPoint); !ok {
		return nil, fmt.Errorf("library %q: entry point %q missing from compiled module", l.key, l.entryPoint)
	}
	return m, nil
}

func (l *library) LibrarySource() device.ShaderLibrarySource {
	return device.ShaderLibrarySource{
		Label:         l.key,
		Source:        l.source,
		EntryPoint:    l.entryPoint,
		WorkgroupSize: l.workgroupSize,
		Bindings:      l.bindings,
		HostShaders:   l.hostShaders,
	}
}

func (l *library) KernelDescriptor() device.ComputeKernelDescriptor {
	return device.ComputeKernelDescriptor{
		Label:         l.key,
		Source:        l.source,
		EntryPoint:    l.entryPoint,
		WorkgroupSize: l.workgroupSize,
		Bindings:      l.bindings,
		Host:          l.hostKernel,
	}
}

// parseSource pre-processes the source and extracts its exports, functions, bindings and,
// for compute libraries, the entry point and workgroup size.
func (l *library) parseSource() error {
	processed, err := l.pp.Process(l.source)
	if err != nil {
		return fmt.Errorf("failed to pre-process source: %w", err)
	}
	l.source = processed
	for _, a := range l.pp.Declarations() {
		if a.Type == AnnotationTypeExport && !slices.Contains(l.exports, string(a.Args[0])) {
			l.exports = append(l.exports, string(a.Args[0]))
		}
	}
	l.functions = parseFunctions(l.source)
	l.bindings = parseBindings(l.source)

	if l.kind == LibraryKindCompute {
		if l.entryPoint == "" {
			l.entryPoint = parseComputeEntryPoint(l.source)
		}
		if l.workgroupSize == [3]uint32{} {
			l.workgroupSize = parseWorkgroupSize(l.source)
		}
	}
	return nil
}

func (l *library) validate() error {
	var errs []error
	switch l.kind {
	case LibraryKindRaytracing:
		if len(l.exports) == 0 {
			errs = append(errs, errors.New("ray-tracing library exports nothing"))
		}
		for _, name := range l.exports {
			_, hosted := l.hostShaders[name]
			if !hosted && !slices.Contains(l.functions, name) {
				errs = append(errs, fmt.Errorf("export %q has neither a WGSL function nor a host shader", name))
			}
		}
		for name := range l.hostShaders {
			if !slices.Contains(l.exports, name) {
				errs = append(errs, fmt.Errorf("host shader %q is not exported", name))
			}
		}
	case LibraryKindCompute:
		if l.source == "" && l.hostKernel == nil {
			errs = append(errs, errors.New("compute library needs WGSL source or a host kernel"))
		}
		if l.source != "" && l.entryPoint == "" {
			errs = append(errs, errors.New("compute library source has no @compute entry point"))
		}
		if l.source != "" && l.entryPoint != "" && !slices.Contains(l.functions, l.entryPoint) {
			errs = append(errs, fmt.Errorf("entry point %q is not declared in the source", l.entryPoint))
		}
		if l.source == "" && l.workgroupSize == [3]uint32{} {
			l.workgroupSize = [3]uint32{1, 1, 1}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown library kind %d", l.kind))
	}
	return errors.Join(errs...)
}
