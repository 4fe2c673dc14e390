package model

import (
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// marshalVertices serializes vertices into the interleaved position + normal layout the
// bottom-level builds and hit shaders read. Each vertex is common.VertexStride bytes.
//
// Parameters:
//   - vertices: the vertices to serialize
//
// Returns:
//   - []byte: the vertex buffer contents
func marshalVertices(vertices []common.Vertex) []byte {
	buf := make([]byte, len(vertices)*common.VertexStride)
	for i, v := range vertices {
		b := buf[i*common.VertexStride:]
		binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(v.Position[0]))
		binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v.Position[1]))
		binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(v.Position[2]))
		binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(v.Normal[0]))
		binary.LittleEndian.PutUint32(b[16:20], math.Float32bits(v.Normal[1]))
		binary.LittleEndian.PutUint32(b[20:24], math.Float32bits(v.Normal[2]))
	}
	return buf
}

// marshalIndices serializes 32-bit indices.
func marshalIndices(indices []uint32) []byte {
	buf := make([]byte, len(indices)*common.IndexStride)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(buf[i*common.IndexStride:], idx)
	}
	return buf
}

// ComputeBoundingRadius calculates the bounding sphere radius of a vertex set as the
// maximum distance from the origin.
//
// Parameters:
//   - vertices: the vertex data to compute the bounding radius from
//
// Returns:
//   - float32: the maximum distance from the origin
func ComputeBoundingRadius(vertices []common.Vertex) float32 {
	var maxDistSq float32
	for _, v := range vertices {
		if d := v.Position.Dot(v.Position); d > maxDistSq {
			maxDistSq = d
		}
	}
	return float32(math.Sqrt(float64(maxDistSq)))
}
