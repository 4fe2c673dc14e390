package renderer

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/pipeline"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithOutputFormat sets the format of the composited output. The default is
// pipeline.OutputFormat.
//
// Parameters:
//   - format: RGBA8Unorm, RGBA16Float or RGBA32Float
//
// Returns:
//   - RendererBuilderOption: a function that applies the output format option to a renderer
func WithOutputFormat(format device.TextureFormat) RendererBuilderOption {
	return func(r *renderer) {
		r.outputFormat = format
	}
}

// WithDenoise sets whether the compositor runs after ray tracing. It is on by default.
//
// Parameters:
//   - enabled: true to denoise
//
// Returns:
//   - RendererBuilderOption: a function that applies the denoise option to a renderer
func WithDenoise(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.denoise = enabled
	}
}

// WithRaytracing sets whether rendering starts with ray tracing or the bypass clear.
//
// Parameters:
//   - enabled: true to trace rays (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the ray tracing option to a renderer
func WithRaytracing(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.raytracing = enabled
	}
}

// WithDescriptorHeapSize sets the slot count of the context's descriptor heap.
//
// Parameters:
//   - slots: the number of descriptor slots
//
// Returns:
//   - RendererBuilderOption: a function that applies the heap size option to a renderer
func WithDescriptorHeapSize(slots int) RendererBuilderOption {
	return func(r *renderer) {
		r.heapSize = slots
	}
}

// WithProgressive selects the progressive pipeline, which accumulates frames while the
// camera holds still, instead of the realtime pipeline.
//
// Parameters:
//   - enabled: true for the progressive pipeline
//
// Returns:
//   - RendererBuilderOption: a function that applies the pipeline choice to a renderer
func WithProgressive(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.progressive = enabled
	}
}

// WithPipelineOptions forwards options to the pipeline.
//
// Parameters:
//   - options: the pipeline options
//
// Returns:
//   - RendererBuilderOption: a function that appends the pipeline options
func WithPipelineOptions(options ...pipeline.PipelineBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.pipelineOptions = append(r.pipelineOptions, options...)
	}
}
