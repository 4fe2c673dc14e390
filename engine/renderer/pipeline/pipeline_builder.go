package pipeline

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/light"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*realtimePipeline)

// WithLibrary replaces the default shader library. It must export the six realtime shaders.
//
// Parameters:
//   - lib: the shader library
//
// Returns:
//   - PipelineBuilderOption: a function that sets the library
func WithLibrary(lib shader.Library) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.library = lib
	}
}

// WithSeed seeds the jitter generator. Without it the seed is the start time in milliseconds.
//
// Parameters:
//   - seed: the generator seed
//
// Returns:
//   - PipelineBuilderOption: a function that sets the seed
func WithSeed(seed uint64) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.seed = seed
	}
}

// WithAnimationPaused sets whether the light animation starts paused. It starts paused by
// default.
//
// Parameters:
//   - paused: true to freeze the lights
//
// Returns:
//   - PipelineBuilderOption: a function that sets the paused state
func WithAnimationPaused(paused bool) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.paused = paused
	}
}

// WithEnvironmentTexture sets the equirectangular environment the primary miss shader samples.
// A procedural sky is generated when none is set.
//
// Parameters:
//   - data: the decoded texture
//
// Returns:
//   - PipelineBuilderOption: a function that sets the environment texture
func WithEnvironmentTexture(data common.TextureStagingData) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		data.Cube = false
		p.environment[0] = data
	}
}

// WithEnvironmentCube sets the cube map the primary miss shader falls back to.
//
// Parameters:
//   - data: six faces stacked vertically
//
// Returns:
//   - PipelineBuilderOption: a function that sets the environment cube
func WithEnvironmentCube(data common.TextureStagingData) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		data.Cube = true
		p.environment[1] = data
	}
}

// WithMaterials appends per-instance materials in instance order.
//
// Parameters:
//   - materials: the materials
//
// Returns:
//   - PipelineBuilderOption: a function that appends the materials
func WithMaterials(materials ...common.MaterialParams) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.materials = append(p.materials, materials...)
	}
}

// WithLightColors sets the point and directional light colors. Alpha is the intensity.
//
// Parameters:
//   - point: the point light color
//   - directional: the directional light color
//
// Returns:
//   - PipelineBuilderOption: a function that sets both colors
func WithLightColors(point, directional [4]float32) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.bulb.SetColor(common.Vec3{point[0], point[1], point[2]})
		p.bulb.SetIntensity(point[3])
		p.sun.SetColor(common.Vec3{directional[0], directional[1], directional[2]})
		p.sun.SetIntensity(directional[3])
	}
}

// WithLights replaces the directional and point lights. The sweep starts from the
// directional light's direction. A nil light keeps the default.
//
// Parameters:
//   - directional: the directional light
//   - point: the point light
//
// Returns:
//   - PipelineBuilderOption: a function that sets both lights
func WithLights(directional, point light.Light) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		if directional != nil {
			p.sun = directional
		}
		if point != nil {
			p.bulb = point
		}
	}
}

// WithFrameAccumulation overrides whether frames accumulate. The progressive pipeline
// accumulates by default and the realtime pipeline does not.
//
// Parameters:
//   - enabled: true to accumulate
//
// Returns:
//   - PipelineBuilderOption: a function that sets frame accumulation
func WithFrameAccumulation(enabled bool) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.accumulate = enabled
	}
}

// WithMaxIterations caps how many frames accumulate. Zero is raised to 1.
//
// Parameters:
//   - n: the cap, DefaultMaxIterations when unset
//
// Returns:
//   - PipelineBuilderOption: a function that sets the cap
func WithMaxIterations(n uint32) PipelineBuilderOption {
	return func(p *realtimePipeline) {
		p.maxIterations = max(n, 1)
	}
}
