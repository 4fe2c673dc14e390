package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-rt/common"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyImage    = errors.New("image has no pixels")
	ErrCubeFaceShape = errors.New("cube faces must be square and the same size")
)

// DecodeTexture decodes a PNG, JPEG, BMP, TIFF or WebP image into tightly packed
// non-premultiplied RGBA8 pixels. Images larger than maxDimension on either side are
// downscaled with Catmull-Rom filtering, keeping the aspect ratio.
//
// Parameters:
//   - label: the label of the returned staging data
//   - data: the encoded image
//   - maxDimension: the largest allowed width or height, 0 for no limit
//
// Returns:
//   - common.TextureStagingData: the decoded pixels
//   - error: a decode error or ErrEmptyImage
func DecodeTexture(label string, data []byte, maxDimension int) (common.TextureStagingData, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return common.TextureStagingData{}, fmt.Errorf("failed to decode %q: %w", label, err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return common.TextureStagingData{}, ErrEmptyImage
	}

	tw, th := w, h
	if maxDimension > 0 && max(w, h) > maxDimension {
		if w >= h {
			tw, th = maxDimension, max(1, h*maxDimension/w)
		} else {
			tw, th = max(1, w*maxDimension/h), maxDimension
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	if tw != w || th != h {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	}
	common.Logger().Debug("texture decoded", "label", label, "format", format,
		"width", tw, "height", th, "scaled", tw != w)

	return common.TextureStagingData{
		Label:  label,
		Pixels: dst.Pix,
		Width:  uint32(tw),
		Height: uint32(th),
	}, nil
}

// LoadTexture reads and decodes an image file. The file name becomes the label.
//
// Parameters:
//   - path: the image file
//   - maxDimension: the largest allowed width or height, 0 for no limit
//
// Returns:
//   - common.TextureStagingData: the decoded pixels
//   - error: a read or decode error
func LoadTexture(path string, maxDimension int) (common.TextureStagingData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.TextureStagingData{}, fmt.Errorf("failed to read texture: %w", err)
	}
	return DecodeTexture(filepath.Base(path), data, maxDimension)
}

// LoadTextures decodes image files concurrently, at most workers at a time. The results
// keep the order of paths. The first failure cancels the files not yet started.
//
// Parameters:
//   - ctx: cancels the remaining decodes
//   - workers: the number of concurrent decodes, 0 or less for one per file
//   - maxDimension: the largest allowed width or height, 0 for no limit
//   - paths: the image files
//
// Returns:
//   - []common.TextureStagingData: the decoded textures
//   - error: the first read or decode error
func LoadTextures(ctx context.Context, workers int, maxDimension int, paths ...string) ([]common.TextureStagingData, error) {
	out := make([]common.TextureStagingData, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tex, err := LoadTexture(path, maxDimension)
			if err != nil {
				return err
			}
			out[i] = tex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// StackCubeFaces joins six square faces, in +X, -X, +Y, -Y, +Z, -Z order, into one cube
// texture.
//
// Parameters:
//   - label: the label of the cube
//   - faces: the six faces
//
// Returns:
//   - common.TextureStagingData: the faces stacked vertically with Cube set
//   - error: ErrCubeFaceShape if a face is not square or differs in size
func StackCubeFaces(label string, faces [6]common.TextureStagingData) (common.TextureStagingData, error) {
	size := faces[0].Width
	faceBytes := int(size) * int(size) * 4
	pixels := make([]byte, 0, faceBytes*6)
	for i, f := range faces {
		if f.Width != size || f.Height != size || len(f.Pixels) < faceBytes {
			return common.TextureStagingData{}, fmt.Errorf("face %d is %dx%d: %w", i, f.Width, f.Height, ErrCubeFaceShape)
		}
		pixels = append(pixels, f.Pixels[:faceBytes]...)
	}
	return common.TextureStagingData{Label: label, Pixels: pixels, Width: size, Height: size, Cube: true}, nil
}
