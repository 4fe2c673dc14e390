package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// extractMesh merges the triangle primitives of one glTF mesh into a single indexed mesh.
// The material of the first primitive that names one becomes the mesh material.
//
// Parameters:
//   - p: the parser holding the document
//   - meshIndex: the index of the glTF mesh
//
// Returns:
//   - ImportedMesh: the merged mesh
//   - error: an error if an accessor cannot be read or a primitive is not triangles
func extractMesh(p *gltfParser, meshIndex int) (ImportedMesh, error) {
	doc := p.document
	if meshIndex < 0 || meshIndex >= len(doc.Meshes) {
		return ImportedMesh{}, fmt.Errorf("mesh index %d out of range", meshIndex)
	}
	mesh := &doc.Meshes[meshIndex]
	out := ImportedMesh{Name: mesh.Name, Material: -1}
	if out.Name == "" {
		out.Name = fmt.Sprintf("mesh_%d", meshIndex)
	}

	for i := range mesh.Primitives {
		prim := &mesh.Primitives[i]
		vertices, indices, err := extractPrimitive(p, prim)
		if err != nil {
			return ImportedMesh{}, fmt.Errorf("mesh %q primitive %d: %w", out.Name, i, err)
		}
		base := uint32(len(out.Mesh.Vertices))
		for _, idx := range indices {
			out.Mesh.Indices = append(out.Mesh.Indices, idx+base)
		}
		out.Mesh.Vertices = append(out.Mesh.Vertices, vertices...)
		if out.Material < 0 && prim.Material != nil {
			out.Material = *prim.Material
		}
	}
	return out, nil
}

// extractPrimitive reads positions, normals and indices. Missing indices draw the vertices
// in order; missing normals are generated from the triangles.
func extractPrimitive(p *gltfParser, prim *gltfPrimitive) ([]common.Vertex, []uint32, error) {
	if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
		return nil, nil, fmt.Errorf("unsupported primitive mode: %d (only triangles supported)", *prim.Mode)
	}
	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, nil, fmt.Errorf("primitive has no POSITION attribute")
	}
	positions, err := p.readVec3(posAccessor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read positions: %w", err)
	}
	vertices := make([]common.Vertex, len(positions))
	for i, pos := range positions {
		vertices[i].Position = pos
	}

	hasNormals := false
	if normalAccessor, ok := prim.Attributes["NORMAL"]; ok {
		normals, err := p.readVec3(normalAccessor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read normals: %w", err)
		}
		for i := range min(len(normals), len(vertices)) {
			vertices[i].Normal = normals[i]
		}
		hasNormals = true
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = p.readIndices(*prim.Indices); err != nil {
			return nil, nil, fmt.Errorf("failed to read indices: %w", err)
		}
		for _, idx := range indices {
			if int(idx) >= len(vertices) {
				return nil, nil, fmt.Errorf("index %d out of range for %d vertices", idx, len(vertices))
			}
		}
	} else {
		indices = make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return nil, nil, fmt.Errorf("%d indices do not form whole triangles", len(indices))
	}

	if !hasNormals {
		generateNormals(vertices, indices)
	}
	return vertices, indices, nil
}

// generateNormals sets each vertex normal to the area-weighted average of the faces that
// share it. Vertices on no triangle get +Y.
func generateNormals(vertices []common.Vertex, indices []uint32) {
	accum := make([]common.Vec3, len(vertices))
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		p0 := vertices[i0].Position
		p1 := vertices[i1].Position
		p2 := vertices[i2].Position
		// the cross product length is twice the triangle area
		face := p1.Sub(p0).Cross(p2.Sub(p0))
		for _, idx := range [3]uint32{i0, i1, i2} {
			accum[idx] = accum[idx].Add(face)
		}
	}
	for i := range vertices {
		if accum[i].Length() < 1e-6 {
			vertices[i].Normal = common.Vec3{0, 1, 0}
			continue
		}
		vertices[i].Normal = accum[i].Normalize()
	}
}

// nodeTransform returns the local transform of a node: its matrix, or T * R * S.
func nodeTransform(n *gltfNode) common.Mat4 {
	if n.Matrix != nil {
		return common.Mat4(*n.Matrix)
	}
	m := common.Identity4()
	if n.Rotation != nil {
		m = quaternionMatrix(*n.Rotation)
	}
	if n.Scale != nil {
		for col := range 3 {
			for row := range 3 {
				m[col*4+row] *= n.Scale[col]
			}
		}
	}
	if n.Translation != nil {
		m[12], m[13], m[14] = n.Translation[0], n.Translation[1], n.Translation[2]
	}
	return m
}

// quaternionMatrix converts a unit quaternion (x, y, z, w) to a column-major rotation.
func quaternionMatrix(q [4]float32) common.Mat4 {
	x, y, z, w := q[0], q[1], q[2], q[3]
	return common.Mat4{
		1 - 2*(y*y+z*z), 2 * (x*y + z*w), 2 * (x*z - y*w), 0,
		2 * (x*y - z*w), 1 - 2*(x*x+z*z), 2 * (y*z + x*w), 0,
		2 * (x*z + y*w), 2 * (y*z - x*w), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
}
