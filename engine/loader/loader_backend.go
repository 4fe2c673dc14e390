package loader

import "io"

// sceneBackend imports one scene file format. The loader picks a backend by file
// extension and caches whatever it returns.
type sceneBackend interface {
	// Load imports the default scene of the file at path.
	//
	// Parameters:
	//   - path: the file path
	//   - maxTextureDimension: the downscale limit for embedded images
	//
	// Returns:
	//   - *ImportedScene: the imported scene
	//   - error: a parse or extraction error
	Load(path string, maxTextureDimension int) (*ImportedScene, error)

	// LoadReader imports a scene from a stream. External resources resolve against the
	// working directory.
	//
	// Parameters:
	//   - name: the fallback scene name
	//   - r: the scene stream
	//   - binary: true if r provides the binary container of the format
	//   - maxTextureDimension: the downscale limit for embedded images
	//
	// Returns:
	//   - *ImportedScene: the imported scene
	//   - error: a parse or extraction error
	LoadReader(name string, r io.Reader, binary bool, maxTextureDimension int) (*ImportedScene, error)
}
