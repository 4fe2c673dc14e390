package device

import "errors"

var (
	// ErrMapFailed is returned when a buffer cannot be mapped for CPU access.
	ErrMapFailed = errors.New("device: buffer map failed")

	// ErrDeviceRemoved is returned by every operation on a released device.
	ErrDeviceRemoved = errors.New("device: device removed")

	// ErrOutOfArenaMemory is returned when the address space cannot fit an allocation.
	ErrOutOfArenaMemory = errors.New("device: out of arena memory")

	// ErrRecursionLimit is returned when TraceRay nests deeper than the pipeline allows.
	ErrRecursionLimit = errors.New("device: trace recursion limit exceeded")

	// ErrInvalidAddress is returned when a GPU address or wrapped pointer resolves to no buffer.
	ErrInvalidAddress = errors.New("device: invalid address")
)
