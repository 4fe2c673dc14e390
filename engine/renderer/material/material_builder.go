package material

import "github.com/Carmen-Shannon/oxy-rt/common"

// MaterialBuilderOption is a functional option used to configure a Material during construction.
type MaterialBuilderOption func(*material)

// WithName sets the name of the Material.
//
// Parameters:
//   - name: the name to assign to the Material
//
// Returns:
//   - MaterialBuilderOption: a function that applies the name option to a material
func WithName(name string) MaterialBuilderOption {
	return func(m *material) {
		m.name = name
	}
}

// WithBaseColor sets the base color of the Material.
//
// Parameters:
//   - color: the RGBA base color in linear space
//
// Returns:
//   - MaterialBuilderOption: a function that applies the base color option to a material
func WithBaseColor(color [4]float32) MaterialBuilderOption {
	return func(m *material) {
		m.baseColor = color
	}
}

// WithMetallic sets the metallic factor. It becomes the reflectivity constant.
//
// Parameters:
//   - metallic: the metallic factor in [0, 1]
//
// Returns:
//   - MaterialBuilderOption: a function that applies the metallic option to a material
func WithMetallic(metallic float32) MaterialBuilderOption {
	return func(m *material) {
		m.metallic = metallic
	}
}

// WithRoughness sets the roughness factor.
//
// Parameters:
//   - roughness: the roughness factor in [0, 1]
//
// Returns:
//   - MaterialBuilderOption: a function that applies the roughness option to a material
func WithRoughness(roughness float32) MaterialBuilderOption {
	return func(m *material) {
		m.roughness = roughness
	}
}

// WithEmissive sets the emitted RGB radiance.
//
// Parameters:
//   - rgb: the emissive color
//
// Returns:
//   - MaterialBuilderOption: a function that applies the emissive option to a material
func WithEmissive(rgb [3]float32) MaterialBuilderOption {
	return func(m *material) {
		m.emissive = [4]float32{rgb[0], rgb[1], rgb[2], 1}
	}
}

// WithTransmission sets the transmission factor.
//
// Parameters:
//   - transmission: the transmission factor in [0, 1]
//
// Returns:
//   - MaterialBuilderOption: a function that applies the transmission option to a material
func WithTransmission(transmission float32) MaterialBuilderOption {
	return func(m *material) {
		m.transmission = transmission
	}
}

// WithIoR sets the index of refraction. Values below 1 are ignored.
//
// Parameters:
//   - ior: the index of refraction
//
// Returns:
//   - MaterialBuilderOption: a function that applies the IoR option to a material
func WithIoR(ior float32) MaterialBuilderOption {
	return func(m *material) {
		if ior >= 1 {
			m.ior = ior
		}
	}
}

// WithType forces the shading model instead of deriving it from the factors.
//
// Parameters:
//   - t: the shading model
//
// Returns:
//   - MaterialBuilderOption: a function that applies the type option to a material
func WithType(t common.MaterialType) MaterialBuilderOption {
	return func(m *material) {
		m.shading = &t
	}
}
