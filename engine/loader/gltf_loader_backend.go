package loader

import (
	"fmt"
	"io"
)

// gltfSceneBackend imports .gltf and .glb files through the glTF parser and importer.
type gltfSceneBackend struct{}

var _ sceneBackend = gltfSceneBackend{}

func (gltfSceneBackend) Load(path string, maxTextureDimension int) (*ImportedScene, error) {
	p, err := parseGLTFFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	imported, err := importGLTF(p, path, maxTextureDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return imported, nil
}

func (gltfSceneBackend) LoadReader(name string, r io.Reader, binary bool, maxTextureDimension int) (*ImportedScene, error) {
	p, err := parseGLTFReader(r, binary, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", name, err)
	}
	imported, err := importGLTF(p, name, maxTextureDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to import %q: %w", name, err)
	}
	return imported, nil
}
