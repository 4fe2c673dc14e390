package raytracing

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Root argument alignments inside a shader record.
const (
	descriptorAlignment = 8
	constantAlignment   = 4
	descriptorBytes     = 8
)

// Params accumulates the root arguments of one shader record in the order the stage's
// root signature declares them. Storage is fixed by AllocateStorage and every append is
// bounds checked before anything is written.
//
// After ApplyRootParams the written bytes stay in place and BytesWritten keeps reporting
// them, so applying again copies the same arguments; the next append starts the record
// over from offset zero.
type Params struct {
	data    []byte
	cursor  uint32
	applied bool
}

// NewParams creates a Params with size bytes of storage.
func NewParams(size uint32) *Params {
	p := &Params{}
	p.AllocateStorage(size)
	return p
}

// AllocateStorage reserves size bytes and rewinds the cursor. It must run before any append.
//
// Parameters:
//   - size: the worst-case argument size of the stage this Params serves
func (p *Params) AllocateStorage(size uint32) {
	p.data = make([]byte, size)
	p.cursor = 0
	p.applied = false
}

// AppendDescriptor appends a root descriptor (CBV, SRV or UAV) as an 8 byte aligned pointer.
//
// Parameters:
//   - ptr: the wrapped pointer of the viewed resource
//
// Returns:
//   - error: an error wrapping ErrParamsOverflow if the pointer does not fit
func (p *Params) AppendDescriptor(ptr WrappedPointer) error {
	return p.appendUint64(uint64(ptr))
}

// AppendCBV appends a root constant buffer view.
func (p *Params) AppendCBV(ptr WrappedPointer) error { return p.AppendDescriptor(ptr) }

// AppendSRV appends a root shader resource view.
func (p *Params) AppendSRV(ptr WrappedPointer) error { return p.AppendDescriptor(ptr) }

// AppendUAV appends a root unordered access view.
func (p *Params) AppendUAV(ptr WrappedPointer) error { return p.AppendDescriptor(ptr) }

// AppendHeapRanges appends the GPU handle of the first slot of a descriptor table.
//
// Parameters:
//   - handle: the descriptor handle starting the table
//
// Returns:
//   - error: an error wrapping ErrParamsOverflow if the handle does not fit
func (p *Params) AppendHeapRanges(handle DescriptorHandle) error {
	return p.appendUint64(uint64(handle))
}

// Append32BitConstants appends inline root constants at 4 byte alignment.
//
// Parameters:
//   - values: the constants to append
//
// Returns:
//   - error: an error wrapping ErrParamsOverflow if the constants do not fit
func (p *Params) Append32BitConstants(values []uint32) error {
	dst, err := p.reserve(constantAlignment, uint32(len(values))*4)
	if err != nil {
		return err
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], v)
	}
	return nil
}

// AppendStruct appends a fixed-size value as inline root constants. The encoded size must
// be a multiple of 4 bytes.
//
// Parameters:
//   - v: a fixed-size value or pointer to one, such as common.MaterialParams
//
// Returns:
//   - error: an error if v is not fixed-size or not 4 byte granular, or wrapping ErrParamsOverflow
func (p *Params) AppendStruct(v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("root constants of type %T are not fixed-size", v)
	}
	if size%4 != 0 {
		return fmt.Errorf("root constants of type %T are %d bytes, not a multiple of 4", v, size)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("failed to encode %T: %w", v, err)
	}
	dst, err := p.reserve(constantAlignment, uint32(size))
	if err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}

// ApplyRootParams copies the written arguments into the argument zone of a shader record
// and zero-fills the rest of it. The next append starts a new record.
//
// Parameters:
//   - record: the record bytes following the shader identifier
//
// Returns:
//   - error: an error wrapping ErrRecordOverflow if the arguments do not fit
func (p *Params) ApplyRootParams(record []byte) error {
	if int(p.cursor) > len(record) {
		return fmt.Errorf("%w: %d argument bytes, record holds %d", ErrRecordOverflow, p.cursor, len(record))
	}
	n := copy(record, p.data[:p.cursor])
	clear(record[n:])
	p.applied = true
	return nil
}

// Reset rewinds the cursor without applying.
func (p *Params) Reset() {
	clear(p.data[:p.cursor])
	p.cursor = 0
	p.applied = false
}

func (p *Params) BytesWritten() uint32 { return p.cursor }
func (p *Params) Capacity() uint32     { return uint32(len(p.data)) }

// Bytes returns a copy of the arguments written so far.
func (p *Params) Bytes() []byte { return bytes.Clone(p.data[:p.cursor]) }

func (p *Params) appendUint64(v uint64) error {
	dst, err := p.reserve(descriptorAlignment, descriptorBytes)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, v)
	return nil
}

// reserve aligns the cursor, checks capacity and returns the n bytes to write. Padding is
// zeroed. On overflow nothing moves.
func (p *Params) reserve(alignment, n uint32) ([]byte, error) {
	if p.applied {
		p.Reset()
	}
	start := common.AlignUp(p.cursor, alignment)
	end := start + n
	if end > uint32(len(p.data)) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, capacity %d", ErrParamsOverflow, n, start, len(p.data))
	}
	clear(p.data[p.cursor:start])
	p.cursor = end
	return p.data[start:end], nil
}
