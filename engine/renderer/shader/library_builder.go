package shader

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

type LibraryBuilderOption func(*library)

// WithSource sets the library's WGSL source.
//
// Parameters:
//   - source: raw WGSL, annotations included
//
// Returns:
//   - LibraryBuilderOption: a function that sets the source
func WithSource(source string) LibraryBuilderOption {
	return func(l *library) {
		l.source = source
	}
}

// WithSourceFromPath reads the library's WGSL source from a file when the library is created.
//
// Parameters:
//   - path: the file path to read WGSL source from
//
// Returns:
//   - LibraryBuilderOption: a function that sets the source path
func WithSourceFromPath(path string) LibraryBuilderOption {
	return func(l *library) {
		l.sourcePath = path
	}
}

// WithExports adds export names to the library. Annotated exports in the source are appended after these.
//
// Parameters:
//   - names: the function names to export
//
// Returns:
//   - LibraryBuilderOption: a function that adds the exports
func WithExports(names ...string) LibraryBuilderOption {
	return func(l *library) {
		l.exports = append(l.exports, names...)
	}
}

// WithHostShader registers the Go implementation of an export. Headless devices run it in
// place of the WGSL function.
//
// Parameters:
//   - name: the export name
//   - fn: the host implementation
//
// Returns:
//   - LibraryBuilderOption: a function that registers the host shader
func WithHostShader(name string, fn device.HostShaderFunc) LibraryBuilderOption {
	return func(l *library) {
		l.hostShaders[name] = fn
	}
}

// WithHostKernel registers the Go implementation of a compute library.
//
// Parameters:
//   - fn: the host kernel
//
// Returns:
//   - LibraryBuilderOption: a function that registers the host kernel
func WithHostKernel(fn device.HostKernelFunc) LibraryBuilderOption {
	return func(l *library) {
		l.hostKernel = fn
	}
}

// WithKind sets the library kind. Libraries are ray-tracing libraries by default.
//
// Parameters:
//   - kind: the library kind
//
// Returns:
//   - LibraryBuilderOption: a function that sets the kind
func WithKind(kind LibraryKind) LibraryBuilderOption {
	return func(l *library) {
		l.kind = kind
	}
}

// WithEntryPoint overrides the parsed @compute entry point of a compute library.
//
// Parameters:
//   - name: the entry point function name
//
// Returns:
//   - LibraryBuilderOption: a function that sets the entry point
func WithEntryPoint(name string) LibraryBuilderOption {
	return func(l *library) {
		l.entryPoint = name
	}
}

// WithWorkgroupSize sets the workgroup size. For ray-tracing libraries it selects the size
// of the generated dispatch kernel.
//
// Parameters:
//   - x, y, z: workgroup dimensions
//
// Returns:
//   - LibraryBuilderOption: a function that sets the workgroup size
func WithWorkgroupSize(x, y, z uint32) LibraryBuilderOption {
	return func(l *library) {
		l.workgroupSize = [3]uint32{x, y, z}
	}
}
