package accel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

const (
	bottomLevelMagic uint32 = 0x53414C42 // "BLAS"
	topLevelMagic    uint32 = 0x53414C54 // "TLAS"

	// HeaderSize is the size of the header that starts every serialized structure.
	HeaderSize = 16
	// TriangleSize is the serialized size of one Triangle.
	TriangleSize = 40

	blasLeafSize = 2
)

// GeometryFlags mirror the D3D12 raytracing geometry flags.
type GeometryFlags uint32

const (
	GeometryFlagNone GeometryFlags = 0
	// GeometryFlagOpaque skips any-hit shaders for the geometry.
	GeometryFlagOpaque GeometryFlags = 1
	// GeometryFlagNoDuplicateAnyHitInvocation is accepted and stored. The builder never
	// duplicates primitives so any-hit runs at most once per primitive regardless.
	GeometryFlagNoDuplicateAnyHitInvocation GeometryFlags = 2
)

// ErrMalformedStructure is returned when serialized acceleration structure bytes fail to
// decode.
var ErrMalformedStructure = errors.New("malformed acceleration structure")

// PrebuildInfo reports the buffer sizes an acceleration structure build needs.
type PrebuildInfo struct {
	ResultDataMaxSizeInBytes uint64
	ScratchDataSizeInBytes   uint64
	// InstanceDescsSizeInBytes is only set for top-level builds.
	InstanceDescsSizeInBytes uint64
}

// Triangle is one primitive of a bottom-level structure, in object space.
type Triangle struct {
	V0, V1, V2 common.Vec3
	// PrimitiveIndex is the index of the triangle in the source geometry.
	PrimitiveIndex uint32
}

var _ BoundedVolume = Triangle{}

func (t Triangle) BBox() AABB {
	return EmptyAABB().Extend(t.V0).Extend(t.V1).Extend(t.V2)
}

func (t Triangle) Center() common.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Scale(1.0 / 3.0)
}

// TriangleGeometry describes the raw buffers of one triangle geometry. Only the first 12
// bytes of each vertex (a float3 position) are read.
type TriangleGeometry struct {
	Vertices     []byte
	VertexStride uint32
	VertexCount  uint32
	// Indices holds uint32 indices. When empty, vertices are read as a triangle list.
	Indices    []byte
	IndexCount uint32
	Flags      GeometryFlags
}

// PrimitiveCount returns the number of triangles the geometry describes.
func (g TriangleGeometry) PrimitiveCount() uint32 {
	if g.IndexCount > 0 {
		return g.IndexCount / 3
	}
	return g.VertexCount / 3
}

// BottomLevelPrebuildInfo returns the worst-case sizes for a bottom-level build over
// primCount triangles.
//
// Parameters:
//   - primCount: the number of triangles
//
// Returns:
//   - PrebuildInfo: result and scratch sizes
func BottomLevelPrebuildInfo(primCount uint32) PrebuildInfo {
	n := uint64(primCount)
	return PrebuildInfo{
		ResultDataMaxSizeInBytes: HeaderSize + maxNodes(n)*NodeSize + n*TriangleSize,
		ScratchDataSizeInBytes:   max(n, 1) * NodeSize,
	}
}

func maxNodes(items uint64) uint64 {
	if items == 0 {
		return 1
	}
	return 2*items - 1
}

// ReadTriangles decodes the triangles of a geometry from its raw buffers.
//
// Parameters:
//   - g: the geometry description
//
// Returns:
//   - []Triangle: the decoded triangles, PrimitiveIndex set to their source order
//   - error: when an index or vertex lies outside its buffer
func ReadTriangles(g TriangleGeometry) ([]Triangle, error) {
	if g.VertexStride < 12 {
		return nil, fmt.Errorf("%w: vertex stride %d is smaller than a float3 position", ErrMalformedStructure, g.VertexStride)
	}
	if uint64(g.VertexCount)*uint64(g.VertexStride) > uint64(len(g.Vertices))+uint64(g.VertexStride-12) {
		return nil, fmt.Errorf("%w: %d vertices of stride %d exceed a %d byte buffer", ErrMalformedStructure, g.VertexCount, g.VertexStride, len(g.Vertices))
	}
	if uint64(g.IndexCount)*4 > uint64(len(g.Indices)) {
		return nil, fmt.Errorf("%w: %d indices exceed a %d byte buffer", ErrMalformedStructure, g.IndexCount, len(g.Indices))
	}

	vertex := func(i uint32) (common.Vec3, error) {
		if i >= g.VertexCount {
			return common.Vec3{}, fmt.Errorf("%w: vertex index %d out of range (%d vertices)", ErrMalformedStructure, i, g.VertexCount)
		}
		return getVec3(g.Vertices[i*g.VertexStride:]), nil
	}
	index := func(i uint32) uint32 {
		if g.IndexCount == 0 {
			return i
		}
		return binary.LittleEndian.Uint32(g.Indices[i*4:])
	}

	count := g.PrimitiveCount()
	tris := make([]Triangle, count)
	for p := uint32(0); p < count; p++ {
		var v [3]common.Vec3
		for k := uint32(0); k < 3; k++ {
			pos, err := vertex(index(p*3 + k))
			if err != nil {
				return nil, err
			}
			v[k] = pos
		}
		tris[p] = Triangle{V0: v[0], V1: v[1], V2: v[2], PrimitiveIndex: p}
	}
	return tris, nil
}

// BuildBottomLevel builds a BVH over tris and serializes it.
//
// Layout: a 16 byte header (magic, node count, triangle count, flags), the nodes, then
// each triangle as three float3 vertices followed by its uint32 primitive index, stored in
// leaf order.
//
// Parameters:
//   - tris: the triangles to build over
//   - flags: geometry flags recorded in the header
//
// Returns:
//   - []byte: the serialized structure, never larger than BottomLevelPrebuildInfo reports
func BuildBottomLevel(tris []Triangle, flags GeometryFlags) []byte {
	items := make([]BoundedVolume, len(tris))
	for i := range tris {
		items[i] = tris[i]
	}
	nodes, order := Build(items, blasLeafSize, SurfaceAreaHeuristic{})

	out := make([]byte, HeaderSize+len(nodes)*NodeSize+len(order)*TriangleSize)
	putHeader(out, bottomLevelMagic, uint32(len(nodes)), uint32(len(order)), uint32(flags))
	off := HeaderSize
	for _, n := range nodes {
		putNode(out[off:], n)
		off += NodeSize
	}
	for _, idx := range order {
		t := tris[idx]
		putVec3(out[off:], t.V0)
		putVec3(out[off+12:], t.V1)
		putVec3(out[off+24:], t.V2)
		binary.LittleEndian.PutUint32(out[off+36:], t.PrimitiveIndex)
		off += TriangleSize
	}
	return out
}

// BottomLevel is a decoded bottom-level structure.
type BottomLevel struct {
	Nodes     []Node
	Triangles []Triangle
	Flags     GeometryFlags
}

// Bounds returns the object-space bounds of the root node.
func (b *BottomLevel) Bounds() AABB {
	if len(b.Triangles) == 0 {
		return EmptyAABB()
	}
	return b.Nodes[0].Bounds()
}

// DecodeBottomLevel parses bytes written by BuildBottomLevel. Trailing bytes are ignored
// so the full result buffer can be passed.
//
// Parameters:
//   - data: the serialized structure
//
// Returns:
//   - *BottomLevel: the decoded structure
//   - error: wrapping ErrMalformedStructure on a bad header or truncated data
func DecodeBottomLevel(data []byte) (*BottomLevel, error) {
	nodeCount, primCount, flags, err := readHeader(data, bottomLevelMagic)
	if err != nil {
		return nil, err
	}
	need := HeaderSize + uint64(nodeCount)*NodeSize + uint64(primCount)*TriangleSize
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("%w: bottom level needs %d bytes, have %d", ErrMalformedStructure, need, len(data))
	}

	b := &BottomLevel{
		Nodes:     make([]Node, nodeCount),
		Triangles: make([]Triangle, primCount),
		Flags:     GeometryFlags(flags),
	}
	off := HeaderSize
	for i := range b.Nodes {
		b.Nodes[i] = getNode(data[off:])
		off += NodeSize
	}
	for i := range b.Triangles {
		b.Triangles[i] = Triangle{
			V0:             getVec3(data[off:]),
			V1:             getVec3(data[off+12:]),
			V2:             getVec3(data[off+24:]),
			PrimitiveIndex: binary.LittleEndian.Uint32(data[off+36:]),
		}
		off += TriangleSize
	}
	if err := validateNodes(b.Nodes, len(b.Triangles)); err != nil {
		return nil, err
	}
	return b, nil
}

func validateNodes(nodes []Node, itemCount int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no root node", ErrMalformedStructure)
	}
	for i, n := range nodes {
		if n.IsLeaf() {
			first, count := n.Leaf()
			if count < 0 || first+count > itemCount {
				return fmt.Errorf("%w: leaf %d references items [%d, %d) of %d", ErrMalformedStructure, i, first, first+count, itemCount)
			}
			continue
		}
		l, r := n.Children()
		if l <= i || r <= i || l >= len(nodes) || r >= len(nodes) {
			return fmt.Errorf("%w: node %d has invalid children %d, %d", ErrMalformedStructure, i, l, r)
		}
	}
	return nil
}

func putHeader(dst []byte, magic, a, b, c uint32) {
	binary.LittleEndian.PutUint32(dst[0:], magic)
	binary.LittleEndian.PutUint32(dst[4:], a)
	binary.LittleEndian.PutUint32(dst[8:], b)
	binary.LittleEndian.PutUint32(dst[12:], c)
}

func readHeader(data []byte, magic uint32) (uint32, uint32, uint32, error) {
	if len(data) < HeaderSize {
		return 0, 0, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedStructure, len(data))
	}
	if got := binary.LittleEndian.Uint32(data); got != magic {
		return 0, 0, 0, fmt.Errorf("%w: magic %#x, want %#x", ErrMalformedStructure, got, magic)
	}
	return binary.LittleEndian.Uint32(data[4:]), binary.LittleEndian.Uint32(data[8:]), binary.LittleEndian.Uint32(data[12:]), nil
}

func putVec3(dst []byte, v common.Vec3) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v[2]))
}

func getVec3(src []byte) common.Vec3 {
	return common.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}

func putNode(dst []byte, n Node) {
	putVec3(dst[0:], n.Min)
	binary.LittleEndian.PutUint32(dst[12:], uint32(n.LData))
	putVec3(dst[16:], n.Max)
	binary.LittleEndian.PutUint32(dst[28:], uint32(n.RData))
}

func getNode(src []byte) Node {
	return Node{
		Min:   getVec3(src[0:]),
		LData: int32(binary.LittleEndian.Uint32(src[12:])),
		Max:   getVec3(src[16:]),
		RData: int32(binary.LittleEndian.Uint32(src[28:])),
	}
}
