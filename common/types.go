// Package common contains plain data types shared across the engine: math primitives,
// GPU-compatible constant layouts and staging data. None of these are interface-wrapped.
package common

// TextureStagingData holds RGBA pixel data pending GPU upload.
type TextureStagingData struct {
	// Label names the texture for logging and debugging.
	Label string
	// Pixels holds tightly packed rows, 4 bytes per pixel.
	Pixels []byte
	// Width is the width of the texture in pixels.
	Width uint32
	// Height is the height of the texture in pixels.
	Height uint32
	// Cube marks six square faces stacked vertically in Pixels (+X, -X, +Y, -Y, +Z, -Z).
	Cube bool
}

// Vertex is the interleaved vertex layout consumed by acceleration structure builds and
// hit shaders. Position must stay at offset 0.
type Vertex struct {
	Position Vec3
	Normal   Vec3
}

// VertexStride is the size of Vertex in bytes.
const VertexStride = 24

// IndexStride is the size of one index element in bytes. Indices are always 32-bit.
const IndexStride = 4

// MaterialType selects the shading model of a MaterialParams block.
type MaterialType uint32

const (
	// MaterialTypeDiffuse is a Lambertian surface.
	MaterialTypeDiffuse MaterialType = iota
	// MaterialTypeGlossy is a rough specular surface.
	MaterialTypeGlossy
	// MaterialTypeSpecular is a perfectly specular dielectric (glass).
	MaterialTypeSpecular
)

// MaterialParams is the per-instance material block appended as 32-bit root constants to
// every hit record. 16 dwords.
type MaterialParams struct {
	Albedo       [4]float32
	Specular     [4]float32
	Emissive     [4]float32
	Reflectivity float32
	Roughness    float32
	IoR          float32
	Type         MaterialType
}

// CameraParams carries the ray-generation camera basis. W is not normalized; its length
// is the focal distance.
type CameraParams struct {
	WorldEyePos [4]float32
	U           [4]float32
	V           [4]float32
	W           [4]float32
	Jitters     [2]float32
	FrameCount  uint32
	AccumCount  uint32
}

type DirectionalLightParams struct {
	ForwardDir [4]float32
	Color      [4]float32
}

type PointLightParams struct {
	WorldPos [4]float32
	Color    [4]float32
}

// DebugOptions toggles diagnostic outputs in the ray-generation shader.
type DebugOptions struct {
	MaxIterations            uint32
	CosineHemisphereSampling uint32
	ShowIndirectDiffuseOnly  uint32
	ShowIndirectSpecularOnly uint32
	ShowAmbientOcclusionOnly uint32
	ShowGBufferAlbedoOnly    uint32
	ShowDirectLightingOnly   uint32
	ShowFresnelTerm          uint32
	NoIndirectDiffuse        uint32
	EnvironmentStrength      float32
	Debug                    uint32
	_                        uint32
}

// PerFrameConstants is the global constant buffer bound at b0 for every dispatch.
type PerFrameConstants struct {
	CameraParams     CameraParams
	DirectionalLight DirectionalLightParams
	PointLight       PointLightParams
	Options          DebugOptions
}

// DenoiseConstants configures the two-pass denoise and tonemap compositor.
type DenoiseConstants struct {
	Exposure      float32
	Gamma         float32
	Tonemap       uint32
	GammaCorrect  uint32
	MaxKernelSize int32
	_             [3]uint32
}
