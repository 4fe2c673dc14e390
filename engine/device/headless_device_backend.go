package device

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"golang.org/x/sync/errgroup"
)

// headlessBackend executes every command on the CPU. Ray dispatches run the host shaders
// registered on the pipeline's libraries; compute dispatches run the kernel's host function.
type headlessBackend struct {
	d *device
}

var _ deviceBackend = &headlessBackend{}

func (h *headlessBackend) init(d *device) error {
	h.d = d
	return nil
}

func (h *headlessBackend) createTexture(t *texture) error {
	t.texels = make([]float32, int(t.desc.Width*t.desc.Height*t.Layers())*4)
	return nil
}

func (h *headlessBackend) writeTexture(t *texture, pixels []byte) error {
	srgb := t.desc.Format == TextureFormatRGBA8UnormSrgb
	bgra := t.desc.Format == TextureFormatBGRA8Unorm
	for i := 0; i+3 < len(pixels); i += 4 {
		r, g, b, a := pixels[i], pixels[i+1], pixels[i+2], pixels[i+3]
		if bgra {
			r, b = b, r
		}
		if srgb {
			t.texels[i], t.texels[i+1], t.texels[i+2] = srgbToLinear(r), srgbToLinear(g), srgbToLinear(b)
		} else {
			t.texels[i], t.texels[i+1], t.texels[i+2] = float32(r)/255, float32(g)/255, float32(b)/255
		}
		t.texels[i+3] = float32(a) / 255
	}
	return nil
}

func (h *headlessBackend) readTexture(t *texture) ([]float32, error) {
	n := int(t.desc.Width*t.desc.Height) * 4
	return append([]float32(nil), t.texels[:n]...), nil
}

func (h *headlessBackend) releaseTexture(t *texture) {
	t.texels = nil
}

func (h *headlessBackend) createRaytracingPipeline(p *raytracingPipeline) error {
	if len(p.hosts) == 0 {
		common.Logger().Warn("headless pipeline has no host shaders; dispatches will fail", "label", p.desc.Label)
	}
	return nil
}

func (h *headlessBackend) releasePipeline(*raytracingPipeline) {}

func (h *headlessBackend) createComputeKernel(k *computeKernel) error {
	if k.desc.Host == nil {
		return errors.New("the headless backend needs a host implementation")
	}
	return nil
}

func (h *headlessBackend) releaseKernel(*computeKernel) {}
func (h *headlessBackend) bufferWritten(*buffer)        {}
func (h *headlessBackend) barrier() error               { return nil }
func (h *headlessBackend) flush() error                 { return nil }

func (h *headlessBackend) dispatchRays(st *replayState, p *raytracingPipeline, desc DispatchRaysDesc) error {
	if desc.Width == 0 || desc.Height == 0 {
		return nil
	}
	rd := &rayDispatch{d: h.d, st: st, p: p, desc: desc}
	gen := desc.RayGenerationShaderRecord
	if gen.SizeInBytes < ShaderIdentifierSize {
		return fmt.Errorf("ray generation record of %d bytes is shorter than an identifier", gen.SizeInBytes)
	}
	record, exp, found, err := rd.recordAt(gen.StartAddress, gen.SizeInBytes, gen.SizeInBytes, 0, ShaderExportRayGen)
	if err != nil || !found {
		return err
	}
	fn, err := rd.hostShader(exp.Shader)
	if err != nil {
		return err
	}

	depth := max(desc.Depth, 1)
	var g errgroup.Group
	g.SetLimit(h.d.dispatchWorkers)
	for z := uint32(0); z < depth; z++ {
		for y := uint32(0); y < desc.Height; y++ {
			g.Go(func() error {
				for x := uint32(0); x < desc.Width; x++ {
					inv := &HostInvocation{rd: rd, launch: [3]uint32{x, y, z}, record: record}
					if err := fn(inv); err != nil {
						return fmt.Errorf("ray generation %q at (%d, %d, %d): %w", exp.Shader, x, y, z, err)
					}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func (h *headlessBackend) dispatch(_ *replayState, k *computeKernel, args []KernelArgument, groups [3]uint32) error {
	inv := &KernelInvocation{d: h.d, k: k, args: make(map[uint32]KernelArgument, len(args)), groups: groups}
	for _, a := range args {
		inv.args[a.Binding] = a
	}
	if err := k.desc.Host(inv); err != nil {
		return fmt.Errorf("kernel %q: %w", k.desc.Label, err)
	}
	return nil
}

func (h *headlessBackend) clearTexture(t *texture, color [4]float32) error {
	for i := 0; i < len(t.texels); i += 4 {
		copy(t.texels[i:i+4], color[:])
	}
	return nil
}

func (h *headlessBackend) configureSurface(uint32, uint32) error { return nil }
func (h *headlessBackend) present(*texture) error                { return nil }
func (h *headlessBackend) release()                              {}
