package device

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

// runBuildsLocked executes a run of consecutive acceleration structure builds. Bottom-level
// builds go to the build pool in parallel, then every top-level build runs in order once
// they have all finished.
func (d *device) runBuildsLocked(builds []BuildAccelerationStructureDesc, st *replayState) error {
	type job struct {
		desc BuildAccelerationStructureDesc
		tris []accel.Triangle
		dst  []byte
	}
	var bottoms []*job
	var tops []BuildAccelerationStructureDesc

	// geometry is read and destinations resolved up front so workers never touch the
	// address map
	for _, b := range builds {
		if b.Dest == nil {
			return fmt.Errorf("acceleration structure build without a destination buffer")
		}
		dst, off, err := d.bufferAtLocked(b.Dest.Address())
		if err != nil {
			return fmt.Errorf("build destination: %w", err)
		}
		if b.Inputs.Type == AccelerationStructureTypeTopLevel {
			tops = append(tops, b)
			continue
		}
		tris, err := d.readGeometryLocked(b.Inputs.Geometries)
		if err != nil {
			return err
		}
		bottoms = append(bottoms, &job{desc: b, tris: tris, dst: dst.data[off:]})
		d.invalidateLocked(dst)
	}

	var wg sync.WaitGroup
	var errs errorCollector
	for i, j := range bottoms {
		wg.Add(1)
		jCap := j
		d.buildPool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()

				var flags accel.GeometryFlags
				if len(jCap.desc.Inputs.Geometries) > 0 {
					flags = jCap.desc.Inputs.Geometries[0].Flags
				}
				data := accel.BuildBottomLevel(jCap.tris, flags)
				if len(data) > len(jCap.dst) {
					errs.add(fmt.Errorf("bottom level %q needs %d bytes, destination holds %d", jCap.desc.Dest.Label(), len(data), len(jCap.dst)))
					return nil, nil
				}
				copy(jCap.dst, data)
				return nil, nil
			},
		})
	}
	wg.Wait()
	if err := errs.err(); err != nil {
		return err
	}

	for _, b := range tops {
		if err := d.buildTopLevelLocked(b, st); err != nil {
			return err
		}
	}
	if len(builds) > 0 {
		common.Logger().Debug("acceleration structures built", "bottom", len(bottoms), "top", len(tops))
	}
	return nil
}

// readGeometryLocked gathers the triangles of every geometry of a bottom-level build.
// Primitive indices run across geometries.
func (d *device) readGeometryLocked(geoms []GeometryDesc) ([]accel.Triangle, error) {
	var out []accel.Triangle
	for gi, g := range geoms {
		if g.VertexBuffer == nil {
			return nil, fmt.Errorf("geometry %d has no vertex buffer", gi)
		}
		stride := g.VertexStride
		if stride == 0 {
			stride = common.VertexStride
		}
		vb, voff, err := d.bufferAtLocked(g.VertexBuffer.Address() + g.VertexOffset)
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		vertices, err := vb.bytes(voff, uint64(g.VertexCount)*uint64(stride))
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		geom := accel.TriangleGeometry{
			Vertices:     vertices,
			VertexStride: stride,
			VertexCount:  g.VertexCount,
			Flags:        g.Flags,
		}
		if g.IndexBuffer != nil && g.IndexCount > 0 {
			ib, ioff, err := d.bufferAtLocked(g.IndexBuffer.Address() + g.IndexOffset)
			if err != nil {
				return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
			}
			if geom.Indices, err = ib.bytes(ioff, uint64(g.IndexCount)*common.IndexStride); err != nil {
				return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
			}
			geom.IndexCount = g.IndexCount
		}
		tris, err := accel.ReadTriangles(geom)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %w", gi, err)
		}
		base := uint32(len(out))
		for i := range tris {
			tris[i].PrimitiveIndex += base
		}
		out = append(out, tris...)
	}
	return out, nil
}

func (d *device) buildTopLevelLocked(b BuildAccelerationStructureDesc, st *replayState) error {
	n := b.Inputs.NumInstances
	var descs []accel.InstanceDesc
	if n > 0 {
		if b.Inputs.InstanceDescs == nil {
			return fmt.Errorf("top level %q: %d instances but no instance buffer", b.Dest.Label(), n)
		}
		ib, off, err := d.bufferAtLocked(b.Inputs.InstanceDescs.Address())
		if err != nil {
			return fmt.Errorf("top level instances: %w", err)
		}
		raw, err := ib.bytes(off, uint64(n)*accel.InstanceDescSize)
		if err != nil {
			return fmt.Errorf("top level instances: %w", err)
		}
		descs = make([]accel.InstanceDesc, n)
		for i := range descs {
			descs[i] = accel.DecodeInstanceDesc(raw[i*accel.InstanceDescSize:])
		}
	}
	data, err := accel.BuildTopLevel(descs, d.bottomResolver(st.heap))
	if err != nil {
		return fmt.Errorf("top level %q: %w", b.Dest.Label(), err)
	}
	dst, off, err := d.bufferAtLocked(b.Dest.Address())
	if err != nil {
		return err
	}
	if uint64(len(data)) > dst.size-off {
		return fmt.Errorf("top level %q needs %d bytes, destination holds %d", b.Dest.Label(), len(data), dst.size-off)
	}
	copy(dst.data[off:], data)
	d.invalidateLocked(dst)
	return nil
}

// bottomResolver resolves the wrapped pointers stored in instance descriptors. Decoded
// bottom levels are cached by buffer address until the buffer is written again.
func (d *device) bottomResolver(heap DescriptorHeapView) accel.Resolver {
	return func(ptr uint64) (*accel.BottomLevel, error) {
		b, off, err := d.resolvePointerLocked(ptr, heap)
		if err != nil {
			return nil, err
		}
		key := b.address + off
		d.cacheMu.Lock()
		cached, ok := d.bottomCache[key]
		d.cacheMu.Unlock()
		if ok {
			return cached, nil
		}
		bl, err := accel.DecodeBottomLevel(b.data[off:])
		if err != nil {
			return nil, fmt.Errorf("bottom level at %#x: %w", key, err)
		}
		d.cacheMu.Lock()
		d.bottomCache[key] = bl
		d.cacheMu.Unlock()
		return bl, nil
	}
}

// topLevelLocked decodes the top level a TraceRay pointer names.
func (d *device) topLevelLocked(ptr uint64, heap DescriptorHeapView) (*accel.TopLevel, error) {
	b, off, err := d.resolvePointerLocked(ptr, heap)
	if err != nil {
		return nil, err
	}
	key := b.address + off
	d.cacheMu.Lock()
	cached, ok := d.topCache[key]
	d.cacheMu.Unlock()
	if ok {
		return cached, nil
	}
	tl, err := accel.DecodeTopLevel(b.data[off:], d.bottomResolver(heap))
	if err != nil {
		return nil, fmt.Errorf("top level at %#x: %w", key, err)
	}
	d.cacheMu.Lock()
	d.topCache[key] = tl
	d.cacheMu.Unlock()
	return tl, nil
}
