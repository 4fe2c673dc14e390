package model

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Mesh is indexed triangle geometry ready to become a Model.
type Mesh struct {
	// Vertices are the interleaved positions and normals.
	Vertices []common.Vertex

	// Indices are the triangle indices. A nil slice draws Vertices as a triangle list.
	Indices []uint32
}

// TriangleCount returns the number of triangles the mesh describes.
func (m Mesh) TriangleCount() uint32 {
	if len(m.Indices) > 0 {
		return uint32(len(m.Indices) / 3)
	}
	return uint32(len(m.Vertices) / 3)
}

// DefaultMesh is the single triangle a Model falls back to when it has no vertices.
func DefaultMesh() Mesh {
	n := common.Vec3{0, 0, 1}
	return Mesh{
		Vertices: []common.Vertex{
			{Position: common.Vec3{0, 0.25, 0}, Normal: n},
			{Position: common.Vec3{0.25, -0.25, 0}, Normal: n},
			{Position: common.Vec3{-0.25, -0.25, 0}, Normal: n},
		},
		Indices: []uint32{0, 2, 1},
	}
}

// PlaneMesh creates a square in the XZ plane facing +Y.
//
// Parameters:
//   - size: the edge length
//
// Returns:
//   - Mesh: two triangles
func PlaneMesh(size float32) Mesh {
	h := size / 2
	n := common.Vec3{0, 1, 0}
	return Mesh{
		Vertices: []common.Vertex{
			{Position: common.Vec3{-h, 0, -h}, Normal: n},
			{Position: common.Vec3{h, 0, -h}, Normal: n},
			{Position: common.Vec3{h, 0, h}, Normal: n},
			{Position: common.Vec3{-h, 0, h}, Normal: n},
		},
		Indices: []uint32{0, 2, 1, 0, 3, 2},
	}
}

// CubeMesh creates an axis-aligned cube centered on the origin with flat per-face normals.
//
// Parameters:
//   - size: the edge length
//
// Returns:
//   - Mesh: 24 vertices and 12 triangles
func CubeMesh(size float32) Mesh {
	h := size / 2
	faces := []struct {
		normal, u, v common.Vec3
	}{
		{common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}, common.Vec3{0, 1, 0}},
		{common.Vec3{-1, 0, 0}, common.Vec3{0, 0, 1}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, -1}},
		{common.Vec3{0, -1, 0}, common.Vec3{1, 0, 0}, common.Vec3{0, 0, 1}},
		{common.Vec3{0, 0, 1}, common.Vec3{1, 0, 0}, common.Vec3{0, 1, 0}},
		{common.Vec3{0, 0, -1}, common.Vec3{-1, 0, 0}, common.Vec3{0, 1, 0}},
	}

	var m Mesh
	for _, f := range faces {
		base := uint32(len(m.Vertices))
		center := f.normal.Scale(h)
		for _, c := range [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			p := center.Add(f.u.Scale(c[0] * h)).Add(f.v.Scale(c[1] * h))
			m.Vertices = append(m.Vertices, common.Vertex{Position: p, Normal: f.normal})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}
