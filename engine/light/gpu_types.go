package light

import "github.com/Carmen-Shannon/oxy-rt/common"

// DirectionalParams marshals a light into the directional slot of the per-frame
// constants. Color alpha carries the intensity; a disabled light is black.
//
// Parameters:
//   - l: the light, nil for none
//
// Returns:
//   - common.DirectionalLightParams: the constant buffer representation
func DirectionalParams(l Light) common.DirectionalLightParams {
	if l == nil {
		return common.DirectionalLightParams{ForwardDir: [4]float32{0, -1, 0, 0}}
	}
	d := l.Direction()
	return common.DirectionalLightParams{
		ForwardDir: [4]float32{d[0], d[1], d[2], 0},
		Color:      packColor(l),
	}
}

// PointParams marshals a light into the point slot of the per-frame constants.
//
// Parameters:
//   - l: the light, nil for none
//
// Returns:
//   - common.PointLightParams: the constant buffer representation
func PointParams(l Light) common.PointLightParams {
	if l == nil {
		return common.PointLightParams{WorldPos: [4]float32{0, 0, 0, 1}}
	}
	p := l.Position()
	return common.PointLightParams{
		WorldPos: [4]float32{p[0], p[1], p[2], 1},
		Color:    packColor(l),
	}
}

func packColor(l Light) [4]float32 {
	if !l.Enabled() {
		return [4]float32{}
	}
	c := l.Color()
	return [4]float32{c[0], c[1], c[2], l.Intensity()}
}
