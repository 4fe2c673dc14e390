package raytracing

type StateBuilderOption func(*State)

// WithMaxTraceRecursionDepth sets how deep TraceRay calls may nest.
//
// Parameters:
//   - depth: the maximum depth, ray generation's own TraceRay being depth 1
//
// Returns:
//   - StateBuilderOption: a function that sets the recursion limit
func WithMaxTraceRecursionDepth(depth uint32) StateBuilderOption {
	return func(s *State) {
		s.maxRecursionDepth = depth
	}
}

// WithMaxPayloadSize sets the largest ray payload in bytes.
//
// Parameters:
//   - size: the payload limit
//
// Returns:
//   - StateBuilderOption: a function that sets the payload limit
func WithMaxPayloadSize(size uint32) StateBuilderOption {
	return func(s *State) {
		s.maxPayloadSize = size
	}
}

// WithMaxAttributeSize sets the largest hit attribute structure in bytes.
//
// Parameters:
//   - size: the attribute limit
//
// Returns:
//   - StateBuilderOption: a function that sets the attribute limit
func WithMaxAttributeSize(size uint32) StateBuilderOption {
	return func(s *State) {
		s.maxAttributeSize = size
	}
}

// WithStateLabel names the pipeline.
func WithStateLabel(label string) StateBuilderOption {
	return func(s *State) {
		s.label = label
	}
}
