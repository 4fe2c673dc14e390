package accel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

const (
	// InstanceDescSize is the size of one D3D12-layout instance descriptor.
	InstanceDescSize = 64
	// InstanceRecordSize is the serialized size of one top-level instance: the 64 byte
	// descriptor followed by the 48 byte world-to-object transform.
	InstanceRecordSize = InstanceDescSize + 48

	tlasLeafSize = 1
)

// InstanceFlags mirror the D3D12 raytracing instance flags.
type InstanceFlags uint8

const (
	InstanceFlagNone                          InstanceFlags = 0
	InstanceFlagTriangleCullDisable           InstanceFlags = 1
	InstanceFlagTriangleFrontCounterClockwise InstanceFlags = 2
	InstanceFlagForceOpaque                   InstanceFlags = 4
	InstanceFlagForceNonOpaque                InstanceFlags = 8
)

// InstanceDesc is one entry of the top-level instance buffer.
type InstanceDesc struct {
	// Transform is the row-major object-to-world transform.
	Transform common.Transform3x4
	// InstanceID is the user value visible to hit shaders. Only the low 24 bits are kept.
	InstanceID uint32
	Mask       uint8
	// InstanceContributionToHitGroupIndex is added to the hit record index. Only the low
	// 24 bits are kept.
	InstanceContributionToHitGroupIndex uint32
	Flags                               InstanceFlags
	// AccelerationStructure is the GPU address of the bottom-level structure.
	AccelerationStructure uint64
}

// Encode writes d into the first InstanceDescSize bytes of dst.
func (d InstanceDesc) Encode(dst []byte) {
	for i, f := range d.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], d.InstanceID&0xFFFFFF|uint32(d.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], d.InstanceContributionToHitGroupIndex&0xFFFFFF|uint32(d.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], d.AccelerationStructure)
}

// DecodeInstanceDesc reads an instance descriptor from the first InstanceDescSize bytes
// of src.
func DecodeInstanceDesc(src []byte) InstanceDesc {
	var d InstanceDesc
	for i := range d.Transform {
		d.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	idMask := binary.LittleEndian.Uint32(src[48:])
	contribFlags := binary.LittleEndian.Uint32(src[52:])
	d.InstanceID = idMask & 0xFFFFFF
	d.Mask = uint8(idMask >> 24)
	d.InstanceContributionToHitGroupIndex = contribFlags & 0xFFFFFF
	d.Flags = InstanceFlags(contribFlags >> 24)
	d.AccelerationStructure = binary.LittleEndian.Uint64(src[56:])
	return d
}

// EncodeInstanceDescs serializes descs back to back.
func EncodeInstanceDescs(descs []InstanceDesc) []byte {
	out := make([]byte, len(descs)*InstanceDescSize)
	for i, d := range descs {
		d.Encode(out[i*InstanceDescSize:])
	}
	return out
}

// TopLevelPrebuildInfo returns the worst-case sizes for a top-level build over
// instanceCount instances.
//
// Parameters:
//   - instanceCount: the number of instances
//
// Returns:
//   - PrebuildInfo: result, scratch and instance descriptor buffer sizes
func TopLevelPrebuildInfo(instanceCount uint32) PrebuildInfo {
	n := uint64(instanceCount)
	return PrebuildInfo{
		ResultDataMaxSizeInBytes: HeaderSize + maxNodes(n)*NodeSize + n*(InstanceRecordSize+4),
		ScratchDataSizeInBytes:   max(n, 1) * NodeSize,
		InstanceDescsSizeInBytes: n * InstanceDescSize,
	}
}

// Resolver maps a bottom-level GPU address to its decoded structure.
type Resolver func(address uint64) (*BottomLevel, error)

// Instance is a decoded top-level instance with its bottom level resolved.
type Instance struct {
	Desc          InstanceDesc
	ObjectToWorld common.Mat4
	WorldToObject common.Mat4
	Bottom        *BottomLevel
}

type instanceVolume struct {
	bounds AABB
}

func (v instanceVolume) BBox() AABB          { return v.bounds }
func (v instanceVolume) Center() common.Vec3 { return v.bounds.Center() }

// BuildTopLevel builds a BVH over the world bounds of each instance and serializes it.
//
// Layout: a 16 byte header (magic, node count, instance count, zero), the nodes, one
// InstanceRecordSize record per instance in original order, then a uint32 per leaf slot
// naming the instance it holds. Records keep their original order so InstanceIndex is
// stable across rebuilds.
//
// Parameters:
//   - descs: the instance descriptors
//   - resolve: looks up each descriptor's bottom-level structure for its bounds
//
// Returns:
//   - []byte: the serialized structure
//   - error: when a bottom level cannot be resolved
func BuildTopLevel(descs []InstanceDesc, resolve Resolver) ([]byte, error) {
	items := make([]BoundedVolume, len(descs))
	inverses := make([]common.Transform3x4, len(descs))
	for i, d := range descs {
		blas, err := resolve(d.AccelerationStructure)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		objectToWorld := d.Transform.ToMat4()
		inv, ok := objectToWorld.Inverse()
		if !ok {
			return nil, fmt.Errorf("%w: instance %d has a singular transform", ErrMalformedStructure, i)
		}
		inverses[i] = inv.To3x4()
		items[i] = instanceVolume{bounds: blas.Bounds().Transform(objectToWorld)}
	}
	nodes, order := Build(items, tlasLeafSize, SurfaceAreaHeuristic{})

	out := make([]byte, HeaderSize+len(nodes)*NodeSize+len(descs)*InstanceRecordSize+len(order)*4)
	putHeader(out, topLevelMagic, uint32(len(nodes)), uint32(len(descs)), 0)
	off := HeaderSize
	for _, n := range nodes {
		putNode(out[off:], n)
		off += NodeSize
	}
	for i, d := range descs {
		d.Encode(out[off:])
		for k, f := range inverses[i] {
			binary.LittleEndian.PutUint32(out[off+InstanceDescSize+k*4:], math.Float32bits(f))
		}
		off += InstanceRecordSize
	}
	for _, idx := range order {
		binary.LittleEndian.PutUint32(out[off:], uint32(idx))
		off += 4
	}
	return out, nil
}

// TopLevel is a decoded top-level structure.
type TopLevel struct {
	Nodes []Node
	// Order maps leaf slots to instance indices.
	Order     []uint32
	Instances []Instance
}

// DecodeTopLevel parses bytes written by BuildTopLevel and resolves every bottom level.
//
// Parameters:
//   - data: the serialized structure; trailing bytes are ignored
//   - resolve: looks up bottom-level structures by address
//
// Returns:
//   - *TopLevel: the decoded structure
//   - error: wrapping ErrMalformedStructure on bad data, or the resolver's error
func DecodeTopLevel(data []byte, resolve Resolver) (*TopLevel, error) {
	nodeCount, instanceCount, _, err := readHeader(data, topLevelMagic)
	if err != nil {
		return nil, err
	}
	need := HeaderSize + uint64(nodeCount)*NodeSize + uint64(instanceCount)*(InstanceRecordSize+4)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("%w: top level needs %d bytes, have %d", ErrMalformedStructure, need, len(data))
	}

	t := &TopLevel{
		Nodes:     make([]Node, nodeCount),
		Order:     make([]uint32, instanceCount),
		Instances: make([]Instance, instanceCount),
	}
	off := HeaderSize
	for i := range t.Nodes {
		t.Nodes[i] = getNode(data[off:])
		off += NodeSize
	}
	for i := range t.Instances {
		desc := DecodeInstanceDesc(data[off:])
		var w2o common.Transform3x4
		for k := range w2o {
			w2o[k] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+InstanceDescSize+k*4:]))
		}
		blas, err := resolve(desc.AccelerationStructure)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		t.Instances[i] = Instance{
			Desc:          desc,
			ObjectToWorld: desc.Transform.ToMat4(),
			WorldToObject: w2o.ToMat4(),
			Bottom:        blas,
		}
		off += InstanceRecordSize
	}
	for i := range t.Order {
		t.Order[i] = binary.LittleEndian.Uint32(data[off:])
		if t.Order[i] >= instanceCount {
			return nil, fmt.Errorf("%w: leaf slot %d references instance %d of %d", ErrMalformedStructure, i, t.Order[i], instanceCount)
		}
		off += 4
	}
	if err := validateNodes(t.Nodes, len(t.Order)); err != nil {
		return nil, err
	}
	return t, nil
}
