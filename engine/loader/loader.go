package loader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.RWMutex

	sceneCache   map[string]*ImportedScene
	textureCache map[string]common.TextureStagingData

	// scene importers keyed by lower-case file extension
	backends map[string]sceneBackend

	maxTextureDimension int
	decodeWorkers       int
}

// Loader imports glTF scenes and image textures and caches the results by path or name.
// All methods are safe for concurrent use.
type Loader interface {
	// LoadScene imports the default scene of a .gltf or .glb file. A cached import of the
	// same path is returned as is.
	//
	// Parameters:
	//   - path: the file path
	//
	// Returns:
	//   - *ImportedScene: the imported scene
	//   - error: an unsupported extension, parse or extraction error
	LoadScene(path string) (*ImportedScene, error)

	// LoadSceneReader imports a scene from r and caches it under name. External buffers and
	// images resolve against the working directory.
	//
	// Parameters:
	//   - name: the cache key and fallback scene name
	//   - r: the glTF JSON or GLB stream
	//   - isGLB: true if r provides GLB binary data
	//
	// Returns:
	//   - *ImportedScene: the imported scene
	//   - error: a parse or extraction error
	LoadSceneReader(name string, r io.Reader, isGLB bool) (*ImportedScene, error)

	// LoadTexture decodes an image file, honoring the configured size limit.
	//
	// Parameters:
	//   - path: the image file
	//
	// Returns:
	//   - common.TextureStagingData: the decoded pixels
	//   - error: a read or decode error
	LoadTexture(path string) (common.TextureStagingData, error)

	// LoadTextures decodes image files concurrently on the configured number of workers.
	// Cached files are not decoded again.
	//
	// Parameters:
	//   - ctx: cancels the remaining decodes
	//   - paths: the image files
	//
	// Returns:
	//   - []common.TextureStagingData: the textures in path order
	//   - error: the first read or decode error
	LoadTextures(ctx context.Context, paths ...string) ([]common.TextureStagingData, error)

	// LoadCubeTexture decodes six face images, in +X, -X, +Y, -Y, +Z, -Z order, into one
	// cube texture.
	//
	// Parameters:
	//   - ctx: cancels the remaining decodes
	//   - faces: the six face files
	//
	// Returns:
	//   - common.TextureStagingData: the stacked cube
	//   - error: a decode error or ErrCubeFaceShape
	LoadCubeTexture(ctx context.Context, faces [6]string) (common.TextureStagingData, error)

	// Get returns a cached scene, or nil.
	//
	// Parameters:
	//   - name: the path or name the scene was loaded under
	//
	// Returns:
	//   - *ImportedScene: the cached scene or nil
	Get(name string) *ImportedScene

	// Scenes returns a copy of the scene cache.
	//
	// Returns:
	//   - map[string]*ImportedScene: every cached scene keyed by path or name
	Scenes() map[string]*ImportedScene
}

var _ Loader = &loader{}

// NewLoader creates a Loader with empty caches.
//
// Parameters:
//   - options: variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: the loader
func NewLoader(options ...LoaderBuilderOption) Loader {
	gltf := gltfSceneBackend{}
	l := &loader{
		sceneCache:          make(map[string]*ImportedScene),
		textureCache:        make(map[string]common.TextureStagingData),
		backends:            map[string]sceneBackend{".gltf": gltf, ".glb": gltf},
		maxTextureDimension: DefaultMaxTextureDimension,
		decodeWorkers:       DefaultDecodeWorkers,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

func (l *loader) LoadScene(path string) (*ImportedScene, error) {
	if cached := l.Get(path); cached != nil {
		return cached, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	backend, ok := l.backends[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported scene format: %s", ext)
	}
	imported, err := backend.Load(path, l.maxTextureDimension)
	if err != nil {
		return nil, err
	}
	l.store(path, imported)
	return imported, nil
}

func (l *loader) LoadSceneReader(name string, r io.Reader, isGLB bool) (*ImportedScene, error) {
	if cached := l.Get(name); cached != nil {
		return cached, nil
	}
	imported, err := l.backends[".gltf"].LoadReader(name, r, isGLB, l.maxTextureDimension)
	if err != nil {
		return nil, err
	}
	l.store(name, imported)
	return imported, nil
}

func (l *loader) store(key string, s *ImportedScene) {
	l.mu.Lock()
	l.sceneCache[key] = s
	l.mu.Unlock()
	common.Logger().Info("scene imported", "name", s.Name, "meshes", len(s.Meshes),
		"instances", len(s.Instances), "materials", len(s.Materials))
}

func (l *loader) LoadTexture(path string) (common.TextureStagingData, error) {
	l.mu.RLock()
	cached, ok := l.textureCache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	tex, err := LoadTexture(path, l.maxTextureDimension)
	if err != nil {
		return common.TextureStagingData{}, err
	}
	l.mu.Lock()
	l.textureCache[path] = tex
	l.mu.Unlock()
	return tex, nil
}

func (l *loader) LoadTextures(ctx context.Context, paths ...string) ([]common.TextureStagingData, error) {
	out := make([]common.TextureStagingData, len(paths))
	var missing []string
	var slots []int

	l.mu.RLock()
	for i, path := range paths {
		if tex, ok := l.textureCache[path]; ok {
			out[i] = tex
			continue
		}
		missing = append(missing, path)
		slots = append(slots, i)
	}
	l.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}

	decoded, err := LoadTextures(ctx, l.decodeWorkers, l.maxTextureDimension, missing...)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	for j, tex := range decoded {
		l.textureCache[missing[j]] = tex
		out[slots[j]] = tex
	}
	l.mu.Unlock()
	return out, nil
}

func (l *loader) LoadCubeTexture(ctx context.Context, faces [6]string) (common.TextureStagingData, error) {
	decoded, err := l.LoadTextures(ctx, faces[:]...)
	if err != nil {
		return common.TextureStagingData{}, err
	}
	return StackCubeFaces(filepath.Base(faces[0]), [6]common.TextureStagingData(decoded))
}

func (l *loader) Get(name string) *ImportedScene {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sceneCache[name]
}

func (l *loader) Scenes() map[string]*ImportedScene {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make(map[string]*ImportedScene, len(l.sceneCache))
	for k, v := range l.sceneCache {
		result[k] = v
	}
	return result
}
