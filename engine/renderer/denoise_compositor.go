package renderer

import (
	_ "embed"
	"fmt"
	"math"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// denoiseTileSize is the workgroup edge of both denoise passes.
const denoiseTileSize = 16

//go:embed assets/denoise.wgsl
var denoiseSource string

// storageFormats maps the formats a denoise output may use to their WGSL storage names.
var storageFormats = map[device.TextureFormat]string{
	device.TextureFormatRGBA8Unorm:  "rgba8unorm",
	device.TextureFormatRGBA16Float: "rgba16float",
	device.TextureFormatRGBA32Float: "rgba32float",
}

// denoisePass selects the pass a dispatch runs. Matches the WGSL DenoisePass struct.
type denoisePass struct {
	Index uint32
	_     [3]uint32
}

// DenoiseCompositor filters the ray-traced image in two compute passes and tonemaps it.
// Pass 0 reads the input and writes output 0; pass 1 reads output 0 and writes output 1.
type DenoiseCompositor struct {
	ctx    *raytracing.Context
	kernel device.ComputeKernel
	format device.TextureFormat
	active bool

	constants common.DenoiseConstants

	outputs    [2]device.Texture
	uavSlots   [2]int
	srvSlots   [2]int
	uavHandles [2]raytracing.DescriptorHandle
	srvHandles [2]raytracing.DescriptorHandle
}

// DefaultDenoiseConstants returns exposure 1, gamma 2.2, tonemapping on, gamma correction
// off and a kernel of at most 12 texels.
func DefaultDenoiseConstants() common.DenoiseConstants {
	return common.DenoiseConstants{
		Exposure:      1.0,
		Gamma:         2.2,
		Tonemap:       1,
		GammaCorrect:  0,
		MaxKernelSize: 12,
	}
}

// NewDenoiseCompositor creates the denoise kernel on the context's device.
//
// Parameters:
//   - ctx: the context whose heap holds the output views
//   - format: the output texture format
//
// Returns:
//   - *DenoiseCompositor: the compositor, without outputs until CreateOutputResources
//   - error: an error if the kernel cannot be created
func NewDenoiseCompositor(ctx *raytracing.Context, format device.TextureFormat) (*DenoiseCompositor, error) {
	storage, ok := storageFormats[format]
	if !ok {
		return nil, fmt.Errorf("%w: format %d cannot be a denoise output", ErrUnsupportedFormat, format)
	}
	lib, err := shader.NewLibrary("denoise",
		shader.WithKind(shader.LibraryKindCompute),
		shader.WithSource(strings.ReplaceAll(denoiseSource, "rgba16float", storage)),
		shader.WithHostKernel(denoiseHostKernel),
	)
	if err != nil {
		return nil, err
	}
	kernel, err := ctx.Device().CreateComputeKernel(lib.KernelDescriptor())
	if err != nil {
		return nil, fmt.Errorf("failed to create denoise kernel: %w", err)
	}
	return &DenoiseCompositor{
		ctx:       ctx,
		kernel:    kernel,
		format:    format,
		active:    true,
		constants: DefaultDenoiseConstants(),
		uavSlots:  [2]int{-1, -1},
		srvSlots:  [2]int{-1, -1},
	}, nil
}

func (c *DenoiseCompositor) Active() bool                           { return c.active }
func (c *DenoiseCompositor) SetActive(active bool)                  { c.active = active }
func (c *DenoiseCompositor) Constants() common.DenoiseConstants     { return c.constants }
func (c *DenoiseCompositor) SetConstants(k common.DenoiseConstants) { c.constants = k }

// Output returns the final composited texture, or nil before CreateOutputResources.
func (c *DenoiseCompositor) Output() device.Texture { return c.outputs[1] }

// OutputSRVHandle returns the heap handle of output i viewed as a shader resource.
func (c *DenoiseCompositor) OutputSRVHandle(i int) raytracing.DescriptorHandle {
	return c.srvHandles[i]
}

// CreateOutputResources (re)creates both outputs. Their heap views overwrite the slots of
// the previous outputs, so resizing never grows the heap.
//
// Parameters:
//   - width: the output width in pixels
//   - height: the output height in pixels
//
// Returns:
//   - error: an error if a texture or heap slot cannot be created
func (c *DenoiseCompositor) CreateOutputResources(width, height uint32) error {
	for i := range c.outputs {
		if c.outputs[i] != nil {
			c.outputs[i].Release()
			c.outputs[i] = nil
		}
		tex, err := c.ctx.Device().CreateTexture(device.TextureDescriptor{
			Label:  fmt.Sprintf("Denoise Output %d", i),
			Width:  width,
			Height: height,
			Format: c.format,
			Usage:  device.TextureUsageStorage | device.TextureUsageSampled | device.TextureUsageCopySrc,
		})
		if err != nil {
			return err
		}
		c.outputs[i] = tex

		if c.uavHandles[i], c.uavSlots[i], err = c.ctx.CreateTextureUAVHandle(tex, c.uavSlots[i]); err != nil {
			return err
		}
		if c.srvHandles[i], c.srvSlots[i], err = c.ctx.CreateTextureSRVHandle(tex, false, c.srvSlots[i]); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch records both passes over input. Nothing is recorded while the compositor is
// inactive.
//
// Parameters:
//   - input: the ray-traced image
//   - width: the image width in pixels
//   - height: the image height in pixels
//
// Returns:
//   - error: an error if the outputs have not been created
func (c *DenoiseCompositor) Dispatch(input device.Texture, width, height uint32) error {
	if !c.active {
		return nil
	}
	if c.outputs[0] == nil || c.outputs[1] == nil {
		return ErrOutputsMissing
	}
	constants := common.StructToBytes(&c.constants)
	x := common.DivideByMultiple(width, denoiseTileSize)
	y := common.DivideByMultiple(height, denoiseTileSize)

	sources := [2]device.Texture{input, c.outputs[0]}
	for i, src := range sources {
		pass := denoisePass{Index: uint32(i)}
		c.ctx.Dispatch(c.kernel, []device.KernelArgument{
			{Binding: 0, Texture: src},
			{Binding: 1, Texture: c.outputs[i]},
			{Binding: 2, Data: constants},
			{Binding: 3, Data: common.StructToBytes(&pass)},
		}, x, y, 1)
		c.ctx.InsertUAVBarrier(c.outputs[i])
	}
	return nil
}

func (c *DenoiseCompositor) Release() {
	for i := range c.outputs {
		if c.outputs[i] != nil {
			c.outputs[i].Release()
			c.outputs[i] = nil
		}
	}
	if c.kernel != nil {
		c.kernel.Release()
		c.kernel = nil
	}
}

func luminance(c [4]float32) float32 {
	return 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
}

// denoiseHostKernel runs one denoise pass on the headless device. It mirrors denoise.wgsl.
func denoiseHostKernel(k *device.KernelInvocation) error {
	var constants common.DenoiseConstants
	if err := k.Uniform(2, &constants); err != nil {
		return err
	}
	var pass denoisePass
	if err := k.Uniform(3, &pass); err != nil {
		return err
	}
	in := k.Texture(0)
	if in == nil {
		return fmt.Errorf("denoise: no input texture bound")
	}
	w, h := int(in.Width()), int(in.Height())
	radius := int(max(constants.MaxKernelSize, 1) / 4)
	dx, dy := 1, 0
	if pass.Index == 1 {
		dx, dy = 0, 1
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := luminance(k.LoadTexel(0, x, y))
			var sum [3]float32
			var weight float32
			for i := -radius; i <= radius; i++ {
				c := k.LoadTexel(0, x+dx*i, y+dy*i)
				wt := 1 / (1 + float32(math.Abs(float64(luminance(c)-center)))*4)
				for j := range sum {
					sum[j] += c[j] * wt
				}
				weight += wt
			}
			out := [4]float32{sum[0] / weight, sum[1] / weight, sum[2] / weight, 1}
			if pass.Index == 1 {
				for j := 0; j < 3; j++ {
					v := out[j] * constants.Exposure
					if constants.Tonemap != 0 {
						v = v / (1 + v)
					}
					if constants.GammaCorrect != 0 {
						v = float32(math.Pow(float64(max(v, 0)), float64(1/constants.Gamma)))
					}
					out[j] = v
				}
			}
			k.StoreTexel(1, x, y, out)
		}
	}
	return nil
}
