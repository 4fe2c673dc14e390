package raytracing

type BindingsBuilderOption func(*Bindings)

// WithScene sizes the hit section by a scene's instance count.
//
// Parameters:
//   - scene: the instance source, usually a *scene.Scene
//
// Returns:
//   - BindingsBuilderOption: a function that selects BindingsModeScene
func WithScene(scene InstanceSource) BindingsBuilderOption {
	return func(b *Bindings) {
		b.scene = scene
		b.mode = BindingsModeScene
	}
}

// WithInstanceCount overrides the number of instances the hit section covers.
//
// Parameters:
//   - n: the instance count
//
// Returns:
//   - BindingsBuilderOption: a function that sets the instance count
func WithInstanceCount(n int) BindingsBuilderOption {
	return func(b *Bindings) {
		b.instanceCount = n
	}
}
