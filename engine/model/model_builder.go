package model

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

// ModelBuilderOption is a functional option for configuring a Model via NewModel.
type ModelBuilderOption func(*model)

// WithName is an option builder that sets the name of the Model.
//
// Parameters:
//   - name: the model identifier
//
// Returns:
//   - ModelBuilderOption: a function that applies the name option to a model
func WithName(name string) ModelBuilderOption {
	return func(m *model) {
		m.name = name
	}
}

// WithMesh is an option builder that sets the vertices and indices of the Model.
//
// Parameters:
//   - mesh: the geometry to upload
//
// Returns:
//   - ModelBuilderOption: a function that applies the mesh option to a model
func WithMesh(mesh Mesh) ModelBuilderOption {
	return func(m *model) {
		m.mesh = mesh
	}
}

// WithVertices is an option builder that sets the vertices of the Model.
//
// Parameters:
//   - vertices: the interleaved positions and normals
//
// Returns:
//   - ModelBuilderOption: a function that applies the vertices option to a model
func WithVertices(vertices []common.Vertex) ModelBuilderOption {
	return func(m *model) {
		m.mesh.Vertices = vertices
	}
}

// WithIndices is an option builder that sets the triangle indices of the Model.
//
// Parameters:
//   - indices: three indices per triangle
//
// Returns:
//   - ModelBuilderOption: a function that applies the indices option to a model
func WithIndices(indices []uint32) ModelBuilderOption {
	return func(m *model) {
		m.mesh.Indices = indices
	}
}

// WithGeometryFlags is an option builder that sets the geometry flags of the bottom level.
// Models are opaque unless this option says otherwise.
//
// Parameters:
//   - flags: the geometry flags
//
// Returns:
//   - ModelBuilderOption: a function that applies the flags option to a model
func WithGeometryFlags(flags accel.GeometryFlags) ModelBuilderOption {
	return func(m *model) {
		m.flags = flags
	}
}

// WithBoundingRadius is an option builder that manually sets the bounding sphere radius
// instead of computing it from the vertices.
//
// Parameters:
//   - radius: the bounding radius to set
//
// Returns:
//   - ModelBuilderOption: a function that applies the bounding radius option to a model
func WithBoundingRadius(radius float32) ModelBuilderOption {
	return func(m *model) {
		m.boundingRadius = radius
	}
}
