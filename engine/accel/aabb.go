// Package accel builds, serializes and traverses the acceleration structures used by the
// emulated ray-tracing path. Bottom-level structures hold triangles; top-level structures
// hold instances referencing bottom-level structures by GPU address. Both share one BVH
// node format so the same traversal loop runs on the CPU and in WGSL.
package accel

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min common.Vec3
	Max common.Vec3
}

// EmptyAABB returns an inverted box that any Extend call will overwrite.
func EmptyAABB() AABB {
	return AABB{
		Min: common.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: common.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// IsEmpty reports whether the box contains no points.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

func (b AABB) Extend(p common.Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

func (b AABB) Union(o AABB) AABB {
	return AABB{Min: b.Min.Min(o.Min), Max: b.Max.Max(o.Max)}
}

func (b AABB) Center() common.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// HalfArea returns half the surface area of the box, the quantity used by the SAH.
func (b AABB) HalfArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	s := b.Max.Sub(b.Min)
	return s[0]*s[1] + s[1]*s[2] + s[0]*s[2]
}

// Transform returns the bounds of the eight transformed corners of b.
//
// Parameters:
//   - m: the affine transform to apply
//
// Returns:
//   - AABB: the world-space bounds
func (b AABB) Transform(m common.Mat4) AABB {
	if b.IsEmpty() {
		return b
	}
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		corner := common.Vec3{b.Min[0], b.Min[1], b.Min[2]}
		if i&1 != 0 {
			corner[0] = b.Max[0]
		}
		if i&2 != 0 {
			corner[1] = b.Max[1]
		}
		if i&4 != 0 {
			corner[2] = b.Max[2]
		}
		out = out.Extend(m.TransformPoint(corner))
	}
	return out
}

// intersectRay performs a slab test and returns the entry distance. The second value is
// false when the ray misses or the entry lies beyond tMax.
func (b AABB) intersectRay(origin, invDir common.Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		t1 := (b.Min[axis] - origin[axis]) * invDir[axis]
		t2 := (b.Max[axis] - origin[axis]) * invDir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		// NaN from 0*Inf on a degenerate slab leaves the interval untouched.
		if t1 == t1 {
			tMin = max(tMin, t1)
		}
		if t2 == t2 {
			tMax = min(tMax, t2)
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}
