package renderer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
)

var (
	ErrBatchNotOpen     = errors.New("upload batch has not begun")
	ErrBatchAlreadyOpen = errors.New("upload batch already begun")
)

type pendingUpload struct {
	tex    device.Texture
	pixels []byte
}

// UploadBatch collects texture uploads and writes them together. End flushes the context's
// command list as well, so resources recorded before the batch are ready when it returns.
type UploadBatch struct {
	ctx     *raytracing.Context
	open    bool
	pending []pendingUpload
}

// NewUploadBatch creates a closed batch on ctx.
func NewUploadBatch(ctx *raytracing.Context) *UploadBatch {
	return &UploadBatch{ctx: ctx}
}

// Begin opens the batch.
//
// Returns:
//   - error: ErrBatchAlreadyOpen if Begin was called without a matching End
func (b *UploadBatch) Begin() error {
	if b.open {
		return ErrBatchAlreadyOpen
	}
	b.open = true
	b.pending = b.pending[:0]
	return nil
}

// Upload creates a sampled texture for data and queues its pixels.
//
// Parameters:
//   - data: the decoded RGBA8 pixels
//
// Returns:
//   - device.Texture: the texture, filled once End returns
//   - error: an error if the batch is closed or the texture cannot be created
func (b *UploadBatch) Upload(data common.TextureStagingData) (device.Texture, error) {
	if !b.open {
		return nil, ErrBatchNotOpen
	}
	layers := uint32(1)
	if data.Cube {
		layers = 6
	}
	if want := int(data.Width) * int(data.Height) * int(layers) * 4; len(data.Pixels) != want {
		return nil, fmt.Errorf("texture %q: %d bytes of pixels, want %d", data.Label, len(data.Pixels), want)
	}
	tex, err := b.ctx.Device().CreateTexture(device.TextureDescriptor{
		Label:  data.Label,
		Width:  data.Width,
		Height: data.Height,
		Format: device.TextureFormatRGBA8Unorm,
		Usage:  device.TextureUsageSampled | device.TextureUsageCopyDst,
		Cube:   data.Cube,
	})
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", data.Label, err)
	}
	b.pending = append(b.pending, pendingUpload{tex: tex, pixels: data.Pixels})
	return tex, nil
}

// End writes every queued texture, then submits the context's command list and waits for it.
//
// Returns:
//   - error: the first write or submit failure
func (b *UploadBatch) End() error {
	if !b.open {
		return ErrBatchNotOpen
	}
	b.open = false
	for _, u := range b.pending {
		if err := b.ctx.Device().WriteTexture(u.tex, u.pixels); err != nil {
			return fmt.Errorf("failed to upload %q: %w", u.tex.Label(), err)
		}
	}
	common.Logger().Debug("upload batch flushed", "textures", len(b.pending))
	b.pending = b.pending[:0]
	return b.ctx.ExecuteCommandList()
}
