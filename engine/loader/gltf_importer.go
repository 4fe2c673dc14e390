package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// maxNodeDepth bounds the node hierarchy walk so a cyclic document cannot recurse forever.
const maxNodeDepth = 64

var errNodeCycle = errors.New("node hierarchy is cyclic or too deep")

// ImportedMesh is one glTF mesh with its triangle primitives merged.
type ImportedMesh struct {
	Name string
	Mesh model.Mesh
	// Material indexes ImportedScene.Materials, or is -1 for the default material.
	Material int
}

// ImportedInstance places a mesh in the world.
type ImportedInstance struct {
	Name      string
	Mesh      int
	Transform common.Mat4
}

// ImportedScene is the CPU side of a glTF scene: meshes, their placements and the
// material constants of the document.
type ImportedScene struct {
	Name      string
	Meshes    []ImportedMesh
	Instances []ImportedInstance
	Materials []common.MaterialParams
}

// InstanceMaterials returns the material of every instance in instance order, the layout
// pipeline.WithMaterials expects.
func (s *ImportedScene) InstanceMaterials() []common.MaterialParams {
	out := make([]common.MaterialParams, len(s.Instances))
	for i, inst := range s.Instances {
		out[i] = material.Default()
		if m := s.Meshes[inst.Mesh].Material; m >= 0 && m < len(s.Materials) {
			out[i] = s.Materials[m]
		}
	}
	return out
}

// Instantiate uploads every referenced mesh as a model and places one scene instance per
// imported instance. Models are shared between instances of the same mesh.
//
// Parameters:
//   - dev: the device the geometry buffers are created on
//   - options: variadic list of SceneBuilderOption functions applied to the new scene
//
// Returns:
//   - scene.Scene: the unbuilt scene
//   - []common.MaterialParams: the material of each instance
//   - error: an error if a model cannot be created
func (s *ImportedScene) Instantiate(dev device.Device, options ...scene.SceneBuilderOption) (scene.Scene, []common.MaterialParams, error) {
	models := make([]model.Model, len(s.Meshes))
	release := func() {
		for _, m := range models {
			if m != nil {
				m.Release()
			}
		}
	}
	for _, inst := range s.Instances {
		if models[inst.Mesh] != nil {
			continue
		}
		mesh := s.Meshes[inst.Mesh]
		m, err := model.NewModel(dev, model.WithName(mesh.Name), model.WithMesh(mesh.Mesh))
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to create model %q: %w", mesh.Name, err)
		}
		models[inst.Mesh] = m
	}

	sc := scene.NewScene(s.Name, options...)
	for _, inst := range s.Instances {
		sc.AddModel(models[inst.Mesh], inst.Transform)
	}
	return sc, s.InstanceMaterials(), nil
}

// importGLTF extracts the default scene of a parsed document.
//
// Parameters:
//   - p: the parser holding the document
//   - fallbackName: the scene name used when the document names none
//   - maxDimension: the texture size limit used while averaging base color textures
//
// Returns:
//   - *ImportedScene: the imported scene
//   - error: a mesh, material or hierarchy error
func importGLTF(p *gltfParser, fallbackName string, maxDimension int) (*ImportedScene, error) {
	doc := p.document
	out := &ImportedScene{Name: gltfSceneName(doc, fallbackName)}

	meshSlots := make(map[int]int, len(doc.Meshes))
	var walk func(nodeIndex int, parent common.Mat4, depth int) error
	walk = func(nodeIndex int, parent common.Mat4, depth int) error {
		if depth > maxNodeDepth {
			return errNodeCycle
		}
		if nodeIndex < 0 || nodeIndex >= len(doc.Nodes) {
			return fmt.Errorf("node index %d out of range", nodeIndex)
		}
		node := &doc.Nodes[nodeIndex]
		world := parent.Mul(nodeTransform(node))

		if node.Mesh != nil {
			slot, ok := meshSlots[*node.Mesh]
			if !ok {
				mesh, err := extractMesh(p, *node.Mesh)
				if err != nil {
					return err
				}
				if len(mesh.Mesh.Indices) == 0 {
					mesh.Material = -1
				}
				slot = len(out.Meshes)
				meshSlots[*node.Mesh] = slot
				out.Meshes = append(out.Meshes, mesh)
			}
			if len(out.Meshes[slot].Mesh.Indices) > 0 {
				name := node.Name
				if name == "" {
					name = fmt.Sprintf("node_%d", nodeIndex)
				}
				out.Instances = append(out.Instances, ImportedInstance{Name: name, Mesh: slot, Transform: world})
			}
		}
		for _, child := range node.Children {
			if err := walk(child, world, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range gltfRootNodes(doc) {
		if err := walk(root, common.Identity4(), 0); err != nil {
			return nil, err
		}
	}

	out.Materials = make([]common.MaterialParams, len(doc.Materials))
	for i := range doc.Materials {
		m, err := extractMaterial(p, i, maxDimension)
		if err != nil {
			return nil, err
		}
		out.Materials[i] = m
	}
	return out, nil
}

// gltfRootNodes returns the nodes of the default scene, or every parentless node when the
// document has no scenes.
func gltfRootNodes(doc *gltfDocument) []int {
	if len(doc.Scenes) > 0 {
		index := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			index = *doc.Scene
		}
		return doc.Scenes[index].Nodes
	}

	isChild := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(isChild) {
				isChild[c] = true
			}
		}
	}
	var roots []int
	for i, child := range isChild {
		if !child {
			roots = append(roots, i)
		}
	}
	return roots
}

// gltfSceneName prefers the name of the default scene, then the file name without its
// extension.
func gltfSceneName(doc *gltfDocument, fallback string) string {
	var name string
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		name = doc.Scenes[*doc.Scene].Name
	}
	base := filepath.Base(fallback)
	return common.Coalesce(name, strings.TrimSuffix(base, filepath.Ext(base)), "unnamed_scene")
}
