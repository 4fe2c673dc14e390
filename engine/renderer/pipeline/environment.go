package pipeline

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

func toUnorm8(v float32) byte {
	return byte(min(max(v, 0), 1)*255 + 0.5)
}

func putSky(pixels []byte, at int, dir common.Vec3) {
	c := sky(dir.Normalize(), 1)
	pixels[at] = toUnorm8(c[0])
	pixels[at+1] = toUnorm8(c[1])
	pixels[at+2] = toUnorm8(c[2])
	pixels[at+3] = 255
}

// ProceduralSky renders the procedural sky into an equirectangular RGBA8 texture.
//
// Parameters:
//   - width: the texture width in pixels
//   - height: the texture height in pixels
//
// Returns:
//   - common.TextureStagingData: the texture
func ProceduralSky(width, height uint32) common.TextureStagingData {
	pixels := make([]byte, int(width)*int(height)*4)
	for y := uint32(0); y < height; y++ {
		theta := (float64(y) + 0.5) / float64(height) * math.Pi
		for x := uint32(0); x < width; x++ {
			phi := ((float64(x)+0.5)/float64(width) - 0.5) * 2 * math.Pi
			dir := common.Vec3{
				float32(math.Sin(theta) * math.Sin(phi)),
				float32(math.Cos(theta)),
				float32(-math.Sin(theta) * math.Cos(phi)),
			}
			putSky(pixels, int(y*width+x)*4, dir)
		}
	}
	return common.TextureStagingData{Label: "Procedural Sky", Pixels: pixels, Width: width, Height: height}
}

// cubeDirection is the direction of face coordinates s, t in [-1, 1]. Faces follow
// +X, -X, +Y, -Y, +Z, -Z.
func cubeDirection(face int, s, t float32) common.Vec3 {
	switch face {
	case 0:
		return common.Vec3{1, -t, -s}
	case 1:
		return common.Vec3{-1, -t, s}
	case 2:
		return common.Vec3{s, 1, t}
	case 3:
		return common.Vec3{s, -1, -t}
	case 4:
		return common.Vec3{s, -t, 1}
	default:
		return common.Vec3{-s, -t, -1}
	}
}

// ProceduralSkyCube renders the procedural sky into a cube map of six size x size faces.
//
// Parameters:
//   - size: the face edge in pixels
//
// Returns:
//   - common.TextureStagingData: the faces stacked vertically
func ProceduralSkyCube(size uint32) common.TextureStagingData {
	n := int(size)
	pixels := make([]byte, 6*n*n*4)
	for face := 0; face < 6; face++ {
		for y := 0; y < n; y++ {
			t := (float32(y)+0.5)/float32(n)*2 - 1
			for x := 0; x < n; x++ {
				s := (float32(x)+0.5)/float32(n)*2 - 1
				putSky(pixels, ((face*n+y)*n+x)*4, cubeDirection(face, s, t))
			}
		}
	}
	return common.TextureStagingData{Label: "Procedural Sky Cube", Pixels: pixels, Width: size, Height: size, Cube: true}
}

func defaultEnvironment(i int) common.TextureStagingData {
	if i == 0 {
		return ProceduralSky(64, 32)
	}
	return ProceduralSkyCube(8)
}
