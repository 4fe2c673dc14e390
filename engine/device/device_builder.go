package device

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// DeviceBuilderOption is a functional option applied to a device during construction via NewDevice.
type DeviceBuilderOption func(*device)

// WithBackend selects the device implementation.
//
// Parameters:
//   - backend: BackendTypeHeadless (default) or BackendTypeWGPU
//
// Returns:
//   - DeviceBuilderOption: a function that applies the backend option to a device
func WithBackend(backend BackendType) DeviceBuilderOption {
	return func(d *device) {
		d.backendType = backend
	}
}

// WithArenaSize sets the size of the device address space. On the WebGPU backend this is
// also the size of the storage buffer backing every device buffer.
//
// Parameters:
//   - size: the arena size in bytes
//
// Returns:
//   - DeviceBuilderOption: a function that applies the arena size option to a device
func WithArenaSize(size uint64) DeviceBuilderOption {
	return func(d *device) {
		if size > 0 {
			d.arenaSize = size
		}
	}
}

// WithNativeRaytracing makes the headless device behave like a driver with native ray
// tracing: wrapped pointers become raw GPU addresses. The WebGPU backend ignores it.
//
// Parameters:
//   - native: true for address-based wrapped pointers
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithNativeRaytracing(native bool) DeviceBuilderOption {
	return func(d *device) {
		d.nativeRaytracing = native
	}
}

// WithBuildWorkers sets how many bottom-level builds may run in parallel.
//
// Parameters:
//   - n: the worker count; values below 1 are ignored
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithBuildWorkers(n int) DeviceBuilderOption {
	return func(d *device) {
		if n > 0 {
			d.buildWorkers = n
		}
	}
}

// WithDispatchWorkers sets how many goroutines the headless backend spreads ray launches
// and host kernels over. Defaults to the CPU count.
//
// Parameters:
//   - n: the goroutine count; values below 1 are ignored
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithDispatchWorkers(n int) DeviceBuilderOption {
	return func(d *device) {
		if n > 0 {
			d.dispatchWorkers = n
		}
	}
}

// WithForceSoftwareAdapter forces WGPU to use a CPU/software fallback adapter. This requires
// a software Vulkan ICD such as SwiftShader or lavapipe.
//
// Parameters:
//   - force: true to request the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the option to a device
func WithForceSoftwareAdapter(force bool) DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = force
	}
}

// WithSurface attaches a presentation surface to a WebGPU device. The descriptor is
// platform specific and usually comes from Window.SurfaceDescriptor.
//
// Parameters:
//   - desc: the surface descriptor
//
// Returns:
//   - DeviceBuilderOption: a function that applies the surface option to a device
func WithSurface(desc *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceDescriptor = desc
	}
}
