package device

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Texel access for the headless backend. Textures created by other backends have no CPU
// texels; reads return zero and writes are dropped.

func cpuTexture(tex Texture) *texture {
	t, ok := tex.(*texture)
	if !ok || t.texels == nil {
		return nil
	}
	return t
}

func loadTexel(tex Texture, x, y int, layer uint32) [4]float32 {
	t := cpuTexture(tex)
	if t == nil || layer >= t.Layers() {
		return [4]float32{}
	}
	i := t.texelIndex(x, y, layer)
	return [4]float32{t.texels[i], t.texels[i+1], t.texels[i+2], t.texels[i+3]}
}

func storeTexel(tex Texture, x, y int, v [4]float32) {
	t := cpuTexture(tex)
	if t == nil || x < 0 || y < 0 || x >= int(t.desc.Width) || y >= int(t.desc.Height) {
		return
	}
	i := t.texelIndex(x, y, 0)
	copy(t.texels[i:i+4], v[:])
}

// sampleBilinear filters the four texels around (u, v) in [0, 1] texture space.
func sampleBilinear(tex Texture, u, v float32, layer uint32) [4]float32 {
	t := cpuTexture(tex)
	if t == nil {
		return [4]float32{}
	}
	fx := u*float32(t.desc.Width) - 0.5
	fy := v*float32(t.desc.Height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	ax := fx - float32(x0)
	ay := fy - float32(y0)

	c00 := loadTexel(t, x0, y0, layer)
	c10 := loadTexel(t, x0+1, y0, layer)
	c01 := loadTexel(t, x0, y0+1, layer)
	c11 := loadTexel(t, x0+1, y0+1, layer)

	var out [4]float32
	for c := range out {
		top := c00[c]*(1-ax) + c10[c]*ax
		bottom := c01[c]*(1-ax) + c11[c]*ax
		out[c] = top*(1-ay) + bottom*ay
	}
	return out
}

// sampleCube picks the face of the major axis of dir, with faces ordered
// +X, -X, +Y, -Y, +Z, -Z.
func sampleCube(tex Texture, dir common.Vec3) [4]float32 {
	ax, ay, az := abs32(dir[0]), abs32(dir[1]), abs32(dir[2])
	var face uint32
	var sc, tc, ma float32
	switch {
	case ax >= ay && ax >= az:
		ma = ax
		if dir[0] > 0 {
			face, sc, tc = 0, -dir[2], -dir[1]
		} else {
			face, sc, tc = 1, dir[2], -dir[1]
		}
	case ay >= az:
		ma = ay
		if dir[1] > 0 {
			face, sc, tc = 2, dir[0], dir[2]
		} else {
			face, sc, tc = 3, dir[0], -dir[2]
		}
	default:
		ma = az
		if dir[2] > 0 {
			face, sc, tc = 4, dir[0], -dir[1]
		} else {
			face, sc, tc = 5, -dir[0], -dir[1]
		}
	}
	if ma == 0 {
		return [4]float32{}
	}
	return sampleBilinear(tex, (sc/ma+1)/2, (tc/ma+1)/2, face)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// srgbToLinear decodes one 8-bit sRGB channel.
func srgbToLinear(c byte) float32 {
	v := float64(c) / 255
	if v <= 0.04045 {
		return float32(v / 12.92)
	}
	return float32(math.Pow((v+0.055)/1.055, 2.4))
}
