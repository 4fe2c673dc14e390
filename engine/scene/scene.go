package scene

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/model"
	"github.com/Carmen-Shannon/oxy-rt/engine/raytracing"
)

// ErrSceneNotBuilt is returned when the top level is used before Build.
var ErrSceneNotBuilt = errors.New("scene top level has not been built")

// instancesPerTask is how many instance descriptors one encode task writes.
const instancesPerTask = 256

// Instance places a model in the world.
type Instance struct {
	Model     model.Model
	Transform common.Mat4
}

// Scene is an ordered list of model instances and the top-level acceleration structure
// built over them. Instance i owns the hit records at firstHit + rayType*I + i for every
// ray type, so it gets InstanceContributionToHitGroupIndex i. The scene owns its models.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// AddModel appends an instance. The top level is stale until the next Build.
	//
	// Parameters:
	//   - m: the model to place
	//   - transform: the object-to-world transform
	//
	// Returns:
	//   - int: the instance index, which is also its InstanceID
	AddModel(m model.Model, transform common.Mat4) int

	// SetTransform replaces the transform of an instance. The top level is stale until
	// the next Build.
	//
	// Parameters:
	//   - index: the instance index
	//   - transform: the object-to-world transform
	//
	// Returns:
	//   - error: an error if index is out of range
	SetTransform(index int, transform common.Mat4) error

	// Instances returns a copy of the instance list.
	Instances() []Instance

	// Models returns each distinct model once, in first-use order.
	Models() []model.Model

	// InstanceCount returns the number of instances.
	InstanceCount() int

	// Build builds every model, then records and executes the top-level build. It blocks
	// until the device has finished.
	//
	// Parameters:
	//   - ctx: the context to build with
	//   - hitGroupCount: the number of ray types the shader table will hold, at least 1
	//
	// Returns:
	//   - error: a model, device or descriptor heap error
	Build(ctx *raytracing.Context, hitGroupCount int) error

	// Built reports whether the top level matches the instance list.
	Built() bool

	// TLASWrappedPointer returns the wrapped pointer TraceRay takes.
	//
	// Returns:
	//   - raytracing.WrappedPointer: the pointer to the top level
	//   - error: ErrSceneNotBuilt before Build
	TLASWrappedPointer() (raytracing.WrappedPointer, error)

	// TLASBuffer returns the top-level result buffer, or nil before Build.
	TLASBuffer() device.Buffer

	// Release frees the top level, the instance buffer and every model.
	Release()
}

type scene struct {
	mu *sync.RWMutex

	name      string
	instances []Instance

	tlasBuffer     device.Buffer
	instanceBuffer device.Buffer
	tlasPointer    raytracing.WrappedPointer
	tlasSlot       int
	built          bool

	buildPool    worker.DynamicWorkerPool
	buildWorkers int
}

// Ensure scene implements Scene interface.
var _ Scene = &scene{}

// NewScene creates an empty scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:           &sync.RWMutex{},
		name:         name,
		tlasSlot:     -1,
		buildWorkers: max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(s)
	}
	// created after options so WithBuildWorkers can override the default
	s.buildPool = worker.NewDynamicWorkerPool(s.buildWorkers, 256, 1*time.Second)
	return s
}

func (s *scene) Name() string {
	return s.name
}

func (s *scene) AddModel(m model.Model, transform common.Mat4) int {
	if m == nil {
		panic("scene: AddModel requires a non-nil Model")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, Instance{Model: m, Transform: transform})
	s.built = false
	return len(s.instances) - 1
}

func (s *scene) SetTransform(index int, transform common.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.instances) {
		return fmt.Errorf("instance %d out of range [0, %d)", index, len(s.instances))
	}
	s.instances[index].Transform = transform
	s.built = false
	return nil
}

func (s *scene) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instance, len(s.instances))
	copy(out, s.instances)
	return out
}

func (s *scene) Models() []model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelsLocked()
}

func (s *scene) modelsLocked() []model.Model {
	seen := make(map[model.Model]bool, len(s.instances))
	var models []model.Model
	for _, inst := range s.instances {
		if !seen[inst.Model] {
			seen[inst.Model] = true
			models = append(models, inst.Model)
		}
	}
	return models
}

func (s *scene) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func (s *scene) Build(ctx *raytracing.Context, hitGroupCount int) error {
	if ctx == nil {
		panic("scene: Build requires a non-nil Context")
	}
	if hitGroupCount < 1 {
		return fmt.Errorf("scene %q: hit group count %d must be at least 1", s.name, hitGroupCount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseTopLevelLocked()
	dev := ctx.Device()

	models := s.modelsLocked()
	for _, m := range models {
		if err := m.Build(ctx); err != nil {
			return fmt.Errorf("scene %q: %w", s.name, err)
		}
	}

	descs := make([]accel.InstanceDesc, len(s.instances))
	for i, inst := range s.instances {
		ptr, err := inst.Model.BLASWrappedPointer()
		if err != nil {
			return fmt.Errorf("scene %q instance %d: %w", s.name, i, err)
		}
		descs[i] = accel.InstanceDesc{
			Transform:                           inst.Transform.To3x4(),
			InstanceID:                          uint32(i),
			Mask:                                0xFF,
			InstanceContributionToHitGroupIndex: uint32(i),
			AccelerationStructure:               uint64(ptr),
		}
	}

	// bottom levels are addressed through the heap during the top-level build
	if err := ctx.BindDescriptorHeap(); err != nil {
		return fmt.Errorf("scene %q: %w", s.name, err)
	}

	inputs := device.AccelerationStructureInputs{
		Type:         device.AccelerationStructureTypeTopLevel,
		NumInstances: uint32(len(descs)),
	}
	if len(descs) > 0 {
		buf, err := dev.CreateBuffer(device.BufferDescriptor{
			Label: s.name + " Instance Descs",
			Size:  uint64(len(descs)) * accel.InstanceDescSize,
			Usage: device.BufferUsageInstanceDescs | device.BufferUsageUpload,
		})
		if err != nil {
			return fmt.Errorf("scene %q: %w", s.name, err)
		}
		s.instanceBuffer = buf
		if err := s.uploadInstanceDescs(buf, descs); err != nil {
			return fmt.Errorf("scene %q: %w", s.name, err)
		}
		inputs.InstanceDescs = buf
	}

	info := dev.AccelerationStructurePrebuildInfo(inputs)
	scratch, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: s.name + " TLAS Scratch",
		Size:  max(info.ScratchDataSizeInBytes, 1),
		Usage: device.BufferUsageScratch,
	})
	if err != nil {
		return fmt.Errorf("scene %q: %w", s.name, err)
	}
	defer scratch.Release()

	tlas, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: s.name + " TLAS",
		Size:  info.ResultDataMaxSizeInBytes,
		Usage: device.BufferUsageAccelerationStructure,
	})
	if err != nil {
		return fmt.Errorf("scene %q: %w", s.name, err)
	}
	s.tlasBuffer = tlas

	ctx.CommandList().BuildRaytracingAccelerationStructure(device.BuildAccelerationStructureDesc{
		Inputs:  inputs,
		Dest:    tlas,
		Scratch: scratch,
	})
	// every rebuild rewrites the same heap slot
	if s.tlasPointer, s.tlasSlot, err = ctx.CreateBufferUAVWrappedPointer(tlas, s.tlasSlot); err != nil {
		return fmt.Errorf("scene %q: %w", s.name, err)
	}

	if err := ctx.ExecuteCommandList(); err != nil {
		return fmt.Errorf("scene %q: %w", s.name, err)
	}
	for _, m := range models {
		m.ReleaseScratch()
	}
	s.built = true

	common.Logger().Info("scene built",
		"scene", s.name,
		"models", len(models),
		"instances", len(descs),
		"hitGroups", hitGroupCount,
		"tlasBytes", info.ResultDataMaxSizeInBytes,
	)
	return nil
}

// uploadInstanceDescs encodes descs into buf, a chunk of instances per build pool task.
func (s *scene) uploadInstanceDescs(buf device.Buffer, descs []accel.InstanceDesc) error {
	mem, err := buf.Map()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for start := 0; start < len(descs); start += instancesPerTask {
		end := min(start+instancesPerTask, len(descs))
		wg.Add(1)
		s.buildPool.SubmitTask(worker.Task{
			ID: start / instancesPerTask,
			Do: func() (any, error) {
				defer wg.Done()
				for i := start; i < end; i++ {
					descs[i].Encode(mem[i*accel.InstanceDescSize:])
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return buf.Unmap()
}

func (s *scene) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built
}

func (s *scene) TLASWrappedPointer() (raytracing.WrappedPointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tlasBuffer == nil {
		return 0, fmt.Errorf("%w: %q", ErrSceneNotBuilt, s.name)
	}
	return s.tlasPointer, nil
}

func (s *scene) TLASBuffer() device.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tlasBuffer
}

func (s *scene) releaseTopLevelLocked() {
	if s.tlasBuffer != nil {
		s.tlasBuffer.Release()
		s.tlasBuffer = nil
	}
	if s.instanceBuffer != nil {
		s.instanceBuffer.Release()
		s.instanceBuffer = nil
	}
	s.built = false
}

func (s *scene) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseTopLevelLocked()
	for _, m := range s.modelsLocked() {
		m.Release()
	}
	s.instances = nil
	s.buildPool.Stop()
}
