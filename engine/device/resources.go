package device

import (
	"fmt"
)

// Buffer is a linear allocation in the device address space. The CPU view returned by Map
// is the authoritative copy; backends that keep a GPU copy upload it after Unmap.
type Buffer interface {
	Label() string
	Address() uint64
	Size() uint64
	Usage() BufferUsage

	// Map exposes the buffer contents for CPU reads and writes until Unmap.
	//
	// Returns:
	//   - []byte: the full contents of the buffer
	//   - error: an error wrapping ErrMapFailed when the buffer is released or already mapped
	Map() ([]byte, error)

	// Unmap ends CPU access and publishes the writes to the device.
	//
	// Returns:
	//   - error: an error wrapping ErrMapFailed when the buffer is not mapped
	Unmap() error

	// Release returns the address range to the arena. Releasing twice is a no-op.
	Release()
}

// Texture is a 2D image or cube map addressable by descriptors.
type Texture interface {
	ID() uint32
	Label() string
	Width() uint32
	Height() uint32
	Format() TextureFormat
	Usage() TextureUsage
	Cube() bool
	// Layers is 6 for cube maps and 1 otherwise.
	Layers() uint32
	Release()
}

type buffer struct {
	d        *device
	label    string
	address  uint64
	size     uint64
	usage    BufferUsage
	data     []byte
	mapped   bool
	released bool
}

var _ Buffer = &buffer{}

func (b *buffer) Label() string      { return b.label }
func (b *buffer) Address() uint64    { return b.address }
func (b *buffer) Size() uint64       { return b.size }
func (b *buffer) Usage() BufferUsage { return b.usage }

func (b *buffer) Map() ([]byte, error) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()

	if b.released || b.d.released {
		return nil, fmt.Errorf("%w: %q is released", ErrMapFailed, b.label)
	}
	if b.mapped {
		return nil, fmt.Errorf("%w: %q is already mapped", ErrMapFailed, b.label)
	}
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap() error {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()

	if !b.mapped {
		return fmt.Errorf("%w: %q is not mapped", ErrMapFailed, b.label)
	}
	b.mapped = false
	b.d.invalidateLocked(b)
	return nil
}

func (b *buffer) Release() {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	b.d.removeBufferLocked(b)
}

// bytes returns size bytes at offset, or an error when the range leaves the buffer.
func (b *buffer) bytes(offset, size uint64) ([]byte, error) {
	if offset > b.size || size > b.size-offset {
		return nil, fmt.Errorf("%w: range [%d, %d) outside %q (%d bytes)", ErrInvalidAddress, offset, offset+size, b.label, b.size)
	}
	return b.data[offset : offset+size], nil
}

type texture struct {
	d        *device
	id       uint32
	desc     TextureDescriptor
	released bool

	// texels holds RGBA float32 values, layer-major, on the headless backend.
	texels []float32

	// handle and view are the wgpu objects on the wgpu backend.
	handle any
	view   any
}

var _ Texture = &texture{}

func (t *texture) ID() uint32            { return t.id }
func (t *texture) Label() string         { return t.desc.Label }
func (t *texture) Width() uint32         { return t.desc.Width }
func (t *texture) Height() uint32        { return t.desc.Height }
func (t *texture) Format() TextureFormat { return t.desc.Format }
func (t *texture) Usage() TextureUsage   { return t.desc.Usage }
func (t *texture) Cube() bool            { return t.desc.Cube }

func (t *texture) Layers() uint32 {
	if t.desc.Cube {
		return 6
	}
	return 1
}

func (t *texture) Release() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if t.released {
		return
	}
	t.released = true
	delete(t.d.textures, t.id)
	t.d.backend.releaseTexture(t)
}

// texelIndex returns the float offset of texel (x, y) in layer, clamping to the edges.
func (t *texture) texelIndex(x, y int, layer uint32) int {
	w, h := int(t.desc.Width), int(t.desc.Height)
	x = min(max(x, 0), w-1)
	y = min(max(y, 0), h-1)
	return ((int(layer)*h+y)*w + x) * 4
}
