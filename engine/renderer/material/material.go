package material

import "github.com/Carmen-Shannon/oxy-rt/common"

// GlossyRoughnessLimit is the roughness below which a metallic surface becomes a glossy
// reflector.
const GlossyRoughnessLimit = 0.5

type material struct {
	name         string
	baseColor    [4]float32
	specular     [4]float32
	emissive     [4]float32
	metallic     float32
	roughness    float32
	transmission float32
	ior          float32
	shading      *common.MaterialType
}

// Material is a metallic-roughness surface description. The hit shaders do not evaluate
// it directly; Params reduces it to the per-instance root constants appended to every
// hit record of the instance.
type Material interface {
	Name() string

	// BaseColor returns the linear RGBA base color.
	//
	// Returns:
	//   - [4]float32: the base color
	BaseColor() [4]float32

	Metallic() float32

	Roughness() float32

	// Transmission returns how much light passes through the surface. Any transmission
	// makes the surface refractive.
	//
	// Returns:
	//   - float32: the transmission factor in [0, 1]
	Transmission() float32

	IoR() float32

	// Type returns the shading model the surface is traced with. An explicit WithType
	// wins; otherwise transmissive surfaces are specular, smooth metals are glossy and
	// everything else is diffuse.
	//
	// Returns:
	//   - common.MaterialType: the shading model
	Type() common.MaterialType

	// Params packs the material into hit-group root constants.
	//
	// Returns:
	//   - common.MaterialParams: the constants, reflectivity and roughness clamped to [0, 1]
	Params() common.MaterialParams
}

var _ Material = &material{}

// NewMaterial creates a new Material instance configured with the provided options.
// Without options it is a white rough dielectric with an index of refraction of 1.5.
//
// Parameters:
//   - options: a variadic list of MaterialBuilderOption functions
//
// Returns:
//   - Material: the newly created Material instance
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := &material{
		baseColor: [4]float32{1, 1, 1, 1},
		specular:  [4]float32{1, 1, 1, 1},
		roughness: 1.0,
		ior:       1.5,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Default returns the constants of instances without a material: a grey diffuse surface.
//
// Returns:
//   - common.MaterialParams: the default constants
func Default() common.MaterialParams {
	return common.MaterialParams{
		Albedo:   [4]float32{0.8, 0.8, 0.8, 1},
		Specular: [4]float32{1, 1, 1, 1},
		IoR:      1.5,
		Type:     common.MaterialTypeDiffuse,
	}
}

func (m *material) Name() string          { return m.name }
func (m *material) BaseColor() [4]float32 { return m.baseColor }
func (m *material) Metallic() float32     { return m.metallic }
func (m *material) Roughness() float32    { return m.roughness }
func (m *material) Transmission() float32 { return m.transmission }
func (m *material) IoR() float32          { return m.ior }

func (m *material) Type() common.MaterialType {
	switch {
	case m.shading != nil:
		return *m.shading
	case m.transmission > 0:
		return common.MaterialTypeSpecular
	case m.metallic >= 0.5 && m.roughness < GlossyRoughnessLimit:
		return common.MaterialTypeGlossy
	default:
		return common.MaterialTypeDiffuse
	}
}

func (m *material) Params() common.MaterialParams {
	return common.MaterialParams{
		Albedo:       m.baseColor,
		Specular:     m.specular,
		Emissive:     m.emissive,
		Reflectivity: clamp01(m.metallic),
		Roughness:    clamp01(m.roughness),
		IoR:          m.ior,
		Type:         m.Type(),
	}
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
