package model

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
)

// ErrModelNotBuilt is returned when a model's bottom level is used before Build.
var ErrModelNotBuilt = errors.New("model bottom level has not been built")

// model is the implementation of the Model interface.
type model struct {
	name           string
	mesh           Mesh
	flags          accel.GeometryFlags
	boundingRadius float32

	vertexBuffer device.Buffer
	indexBuffer  device.Buffer
	blasBuffer   device.Buffer
	scratch      device.Buffer

	blasPointer     raytracing.WrappedPointer
	vertexSRVHandle raytracing.DescriptorHandle
	indexSRVHandle  raytracing.DescriptorHandle
	built           bool

	// heap slots of the views above, reused when a failed Build is retried
	blasSlot, vertexSlot, indexSlot int
}

// Model is triangle geometry with its GPU buffers and bottom-level acceleration structure.
// The vertex and index buffers are uploaded when the model is created; Build records the
// bottom-level build once and the result is never rebuilt.
type Model interface {
	// Name retrieves the model identifier.
	//
	// Returns:
	//   - string: the model name
	Name() string

	// Mesh returns the CPU copy of the geometry.
	//
	// Returns:
	//   - Mesh: the vertices and indices
	Mesh() Mesh

	// VertexCount returns the number of vertices in the vertex buffer.
	VertexCount() uint32

	// TriangleCount returns the number of triangles the bottom level holds.
	TriangleCount() uint32

	// HasIndexBuffer reports whether the geometry is indexed.
	HasIndexBuffer() bool

	// BoundingRadius returns the maximum vertex distance from the origin.
	BoundingRadius() float32

	// VertexBuffer returns the device buffer holding the interleaved vertices.
	VertexBuffer() device.Buffer

	// IndexBuffer returns the device buffer holding the indices, or nil when unindexed.
	IndexBuffer() device.Buffer

	// BLASBuffer returns the bottom-level result buffer, or nil before Build.
	BLASBuffer() device.Buffer

	// Build records the bottom-level build on the context's command list and creates the
	// vertex and index buffer views hit shaders read. Building an already built model does
	// nothing. The build completes when the context's command list is executed.
	//
	// Parameters:
	//   - ctx: the context to record on
	//
	// Returns:
	//   - error: a device or descriptor heap error
	Build(ctx *raytracing.Context) error

	// Built reports whether Build has run.
	Built() bool

	// BLASWrappedPointer returns the wrapped pointer instance descriptors store.
	//
	// Returns:
	//   - raytracing.WrappedPointer: the pointer to the bottom level
	//   - error: ErrModelNotBuilt before Build
	BLASWrappedPointer() (raytracing.WrappedPointer, error)

	// VertexBufferSRVHandle returns the heap handle of the structured vertex buffer view.
	VertexBufferSRVHandle() raytracing.DescriptorHandle

	// IndexBufferSRVHandle returns the heap handle of the index buffer view, or 0 when unindexed.
	IndexBufferSRVHandle() raytracing.DescriptorHandle

	// ReleaseScratch frees the build scratch buffer. Call it once the build has executed.
	ReleaseScratch()

	// Release frees every buffer the model owns.
	Release()
}

var _ Model = &model{}

// NewModel creates a Model and uploads its geometry. A model without vertices gets the
// single triangle of DefaultMesh.
//
// Parameters:
//   - dev: the device the buffers are created on
//   - options: a variadic list of ModelBuilderOption functions to configure the Model
//
// Returns:
//   - Model: the model
//   - error: an error if the geometry is malformed or a buffer cannot be created
func NewModel(dev device.Device, options ...ModelBuilderOption) (Model, error) {
	if dev == nil {
		panic("model: NewModel requires a device")
	}
	m := &model{name: "Model", flags: accel.GeometryFlagOpaque, blasSlot: -1, vertexSlot: -1, indexSlot: -1}
	for _, opt := range options {
		opt(m)
	}
	if len(m.mesh.Vertices) == 0 {
		m.mesh = DefaultMesh()
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model %q: %w", m.name, err)
	}
	if m.boundingRadius == 0 {
		m.boundingRadius = ComputeBoundingRadius(m.mesh.Vertices)
	}

	vb, err := uploadBuffer(dev, m.name+" Vertices", marshalVertices(m.mesh.Vertices))
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", m.name, err)
	}
	m.vertexBuffer = vb
	if len(m.mesh.Indices) > 0 {
		ib, err := uploadBuffer(dev, m.name+" Indices", marshalIndices(m.mesh.Indices))
		if err != nil {
			m.Release()
			return nil, fmt.Errorf("model %q: %w", m.name, err)
		}
		m.indexBuffer = ib
	}
	return m, nil
}

func (m *model) validate() error {
	if len(m.mesh.Indices) == 0 {
		if len(m.mesh.Vertices)%3 != 0 {
			return fmt.Errorf("%d unindexed vertices do not form whole triangles", len(m.mesh.Vertices))
		}
		return nil
	}
	if len(m.mesh.Indices)%3 != 0 {
		return fmt.Errorf("%d indices do not form whole triangles", len(m.mesh.Indices))
	}
	for i, idx := range m.mesh.Indices {
		if int(idx) >= len(m.mesh.Vertices) {
			return fmt.Errorf("index %d references vertex %d of %d", i, idx, len(m.mesh.Vertices))
		}
	}
	return nil
}

func uploadBuffer(dev device.Device, label string, data []byte) (device.Buffer, error) {
	buf, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: device.BufferUsageStorage | device.BufferUsageUpload,
	})
	if err != nil {
		return nil, err
	}
	mem, err := buf.Map()
	if err != nil {
		buf.Release()
		return nil, err
	}
	copy(mem, data)
	if err := buf.Unmap(); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

func (m *model) Build(ctx *raytracing.Context) error {
	if m.built {
		return nil
	}
	if m.vertexBuffer == nil {
		return fmt.Errorf("model %q has been released", m.name)
	}
	dev := ctx.Device()

	geom := device.GeometryDesc{
		VertexBuffer: m.vertexBuffer,
		VertexCount:  m.VertexCount(),
		VertexStride: common.VertexStride,
		Flags:        m.flags,
	}
	if m.indexBuffer != nil {
		geom.IndexBuffer = m.indexBuffer
		geom.IndexCount = m.TriangleCount() * 3
	}
	inputs := device.AccelerationStructureInputs{
		Type:       device.AccelerationStructureTypeBottomLevel,
		Geometries: []device.GeometryDesc{geom},
	}
	info := dev.AccelerationStructurePrebuildInfo(inputs)

	scratch, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: m.name + " BLAS Scratch",
		Size:  max(info.ScratchDataSizeInBytes, 1),
		Usage: device.BufferUsageScratch,
	})
	if err != nil {
		return fmt.Errorf("model %q: %w", m.name, err)
	}
	result, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: m.name + " BLAS",
		Size:  info.ResultDataMaxSizeInBytes,
		Usage: device.BufferUsageAccelerationStructure,
	})
	if err != nil {
		scratch.Release()
		return fmt.Errorf("model %q: %w", m.name, err)
	}

	if err := m.writeViews(ctx, result); err != nil {
		scratch.Release()
		result.Release()
		return fmt.Errorf("model %q: %w", m.name, err)
	}

	ctx.CommandList().BuildRaytracingAccelerationStructure(device.BuildAccelerationStructureDesc{
		Inputs:  inputs,
		Dest:    result,
		Scratch: scratch,
	})
	m.scratch = scratch
	m.blasBuffer = result
	m.built = true

	common.Logger().Debug("model bottom level recorded",
		"model", m.name,
		"vertices", m.VertexCount(),
		"triangles", m.TriangleCount(),
		"result", info.ResultDataMaxSizeInBytes,
		"scratch", info.ScratchDataSizeInBytes,
	)
	return nil
}

// writeViews writes the bottom-level pointer and the vertex and index views into the heap.
// Slots taken by an earlier attempt are overwritten rather than allocated again.
func (m *model) writeViews(ctx *raytracing.Context, blas device.Buffer) error {
	var err error
	if m.blasPointer, m.blasSlot, err = ctx.CreateBufferUAVWrappedPointer(blas, m.blasSlot); err != nil {
		return err
	}
	if m.vertexSRVHandle, m.vertexSlot, err = ctx.CreateBufferSRVHandle(m.vertexBuffer, false, common.VertexStride, m.vertexSlot); err != nil {
		return err
	}
	if m.indexBuffer != nil {
		if m.indexSRVHandle, m.indexSlot, err = ctx.CreateBufferSRVHandle(m.indexBuffer, false, common.IndexStride, m.indexSlot); err != nil {
			return err
		}
	}
	return nil
}

func (m *model) BLASWrappedPointer() (raytracing.WrappedPointer, error) {
	if !m.built {
		return 0, fmt.Errorf("%w: %q", ErrModelNotBuilt, m.name)
	}
	return m.blasPointer, nil
}

func (m *model) Name() string                                       { return m.name }
func (m *model) Mesh() Mesh                                         { return m.mesh }
func (m *model) VertexCount() uint32                                { return uint32(len(m.mesh.Vertices)) }
func (m *model) TriangleCount() uint32                              { return m.mesh.TriangleCount() }
func (m *model) HasIndexBuffer() bool                               { return m.indexBuffer != nil }
func (m *model) BoundingRadius() float32                            { return m.boundingRadius }
func (m *model) VertexBuffer() device.Buffer                        { return m.vertexBuffer }
func (m *model) IndexBuffer() device.Buffer                         { return m.indexBuffer }
func (m *model) BLASBuffer() device.Buffer                          { return m.blasBuffer }
func (m *model) Built() bool                                        { return m.built }
func (m *model) VertexBufferSRVHandle() raytracing.DescriptorHandle { return m.vertexSRVHandle }
func (m *model) IndexBufferSRVHandle() raytracing.DescriptorHandle  { return m.indexSRVHandle }

func (m *model) ReleaseScratch() {
	if m.scratch != nil {
		m.scratch.Release()
		m.scratch = nil
	}
}

func (m *model) Release() {
	m.ReleaseScratch()
	for _, b := range []*device.Buffer{&m.blasBuffer, &m.indexBuffer, &m.vertexBuffer} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	m.built = false
}
