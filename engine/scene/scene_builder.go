package scene

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithInstances adds initial instances to the scene in order.
//
// Parameters:
//   - instances: the instances to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithInstances(instances ...Instance) SceneBuilderOption {
	return func(s *scene) {
		s.instances = append(s.instances, instances...)
	}
}

// WithModel adds one instance of m at transform.
//
// Parameters:
//   - m: the model to place
//   - transform: the object-to-world transform
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithModel(m model.Model, transform common.Mat4) SceneBuilderOption {
	return func(s *scene) {
		s.instances = append(s.instances, Instance{Model: m, Transform: transform})
	}
}

// WithBuildWorkers sets the number of worker goroutines that encode instance descriptors
// during Build. Defaults to runtime.NumCPU()-1.
//
// Parameters:
//   - n: the number of build workers (minimum 1)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithBuildWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 1 {
			n = 1
		}
		s.buildWorkers = n
	}
}
