package raytracing

import "errors"

var (
	// ErrMissingRayGen is returned when a program descriptor has no ray generation shader.
	ErrMissingRayGen = errors.New("raytracing: program has no ray generation shader")

	// ErrDuplicateHitGroup is returned when two hit groups claim the same index.
	ErrDuplicateHitGroup = errors.New("raytracing: duplicate hit group index")

	// ErrDuplicateMiss is returned when two miss shaders claim the same index.
	ErrDuplicateMiss = errors.New("raytracing: duplicate miss index")

	// ErrUnknownShaderIdentifier is returned when a shader table names an export the
	// pipeline does not contain.
	ErrUnknownShaderIdentifier = errors.New("raytracing: unknown shader identifier")

	// ErrParamsOverflow is returned when an append would run past a Params' storage.
	ErrParamsOverflow = errors.New("raytracing: root argument storage overflow")

	// ErrDescriptorHeapExhausted is returned when every descriptor heap slot is in use.
	ErrDescriptorHeapExhausted = errors.New("raytracing: descriptor heap exhausted")

	// ErrRecordOverflow is returned when root arguments do not fit a shader record.
	ErrRecordOverflow = errors.New("raytracing: root arguments exceed shader record")

	// ErrStaleBindings is returned when a shader table no longer covers its scene's
	// instances.
	ErrStaleBindings = errors.New("raytracing: shader table does not match the scene's instance count")
)
