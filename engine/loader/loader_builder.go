package loader

// DefaultMaxTextureDimension is the texture size limit of a new Loader.
const DefaultMaxTextureDimension = 2048

// DefaultDecodeWorkers is the number of concurrent texture decodes of a new Loader.
const DefaultDecodeWorkers = 4

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithMaxTextureDimension is an option builder that sets the largest texture width or
// height. Larger images are downscaled on decode.
//
// Parameters:
//   - size: the limit in pixels, 0 for none
//
// Returns:
//   - LoaderBuilderOption: a function that applies the limit to a loader
func WithMaxTextureDimension(size int) LoaderBuilderOption {
	return func(l *loader) {
		l.maxTextureDimension = max(size, 0)
	}
}

// WithDecodeWorkers is an option builder that sets how many textures decode at once.
//
// Parameters:
//   - n: the worker count, 0 or less for one per file
//
// Returns:
//   - LoaderBuilderOption: a function that applies the worker count to a loader
func WithDecodeWorkers(n int) LoaderBuilderOption {
	return func(l *loader) {
		l.decodeWorkers = n
	}
}

// WithScene is an option builder that pre-populates the scene cache.
//
// Parameters:
//   - key: the cache key
//   - s: the imported scene
//
// Returns:
//   - LoaderBuilderOption: a function that caches the scene in a loader
func WithScene(key string, s *ImportedScene) LoaderBuilderOption {
	return func(l *loader) {
		l.sceneCache[key] = s
	}
}
