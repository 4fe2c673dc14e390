package accel

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// RayFlags mirror the DXR RAY_FLAG values.
type RayFlags uint32

const (
	RayFlagNone                       RayFlags = 0x00
	RayFlagForceOpaque                RayFlags = 0x01
	RayFlagForceNonOpaque             RayFlags = 0x02
	RayFlagAcceptFirstHitAndEndSearch RayFlags = 0x04
	RayFlagSkipClosestHitShader       RayFlags = 0x08
	RayFlagCullBackFacingTriangles    RayFlags = 0x10
	RayFlagCullFrontFacingTriangles   RayFlags = 0x20
	RayFlagCullOpaque                 RayFlags = 0x40
	RayFlagCullNonOpaque              RayFlags = 0x80
)

// HitKind values reported for triangle hits.
const (
	HitKindTriangleFrontFace uint8 = 0xFE
	HitKindTriangleBackFace  uint8 = 0xFF
)

// Ray is a world-space ray segment.
type Ray struct {
	Origin    common.Vec3
	TMin      float32
	Direction common.Vec3
	TMax      float32
}

// Decision is the verdict of an any-hit callback on a candidate intersection.
type Decision int

const (
	// Accept commits the candidate and continues the search for closer hits.
	Accept Decision = iota
	// Ignore discards the candidate.
	Ignore
	// AcceptAndEndSearch commits the candidate and stops traversal.
	AcceptAndEndSearch
)

// Hit describes a committed or candidate intersection.
type Hit struct {
	T                    float32
	Barycentrics         [2]float32
	HitKind              uint8
	PrimitiveIndex       uint32
	InstanceIndex        uint32
	InstanceID           uint32
	InstanceContribution uint32
	ObjectToWorld        common.Mat4
	WorldToObject        common.Mat4
	ObjectRayOrigin      common.Vec3
	ObjectRayDirection   common.Vec3
}

// AnyHitFunc is invoked for non-opaque candidate hits.
type AnyHitFunc func(candidate *Hit) Decision

// TraceOptions configures a traversal.
type TraceOptions struct {
	Flags RayFlags
	Mask  uint8
	// AnyHit runs for every non-opaque candidate. When nil every candidate is accepted.
	AnyHit AnyHitFunc
}

// maxStackDepth bounds the traversal stack. Builder trees stay well under it.
const maxStackDepth = 64

// Trace finds the closest accepted intersection of ray with the structure.
//
// Parameters:
//   - ray: the world-space ray
//   - opts: flags, instance mask and any-hit callback
//
// Returns:
//   - Hit: the committed hit
//   - bool: false when nothing was hit
func (t *TopLevel) Trace(ray Ray, opts TraceOptions) (Hit, bool) {
	var committed Hit
	found := false
	tMax := ray.TMax

	if len(t.Order) == 0 {
		return committed, false
	}

	invDir := inverse(ray.Direction)
	var stack [maxStackDepth]int
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := t.Nodes[stack[sp]]
		if _, ok := node.Bounds().intersectRay(ray.Origin, invDir, ray.TMin, tMax); !ok {
			continue
		}
		if !node.IsLeaf() {
			l, r := node.Children()
			if sp+2 > maxStackDepth {
				continue
			}
			stack[sp] = r
			stack[sp+1] = l
			sp += 2
			continue
		}

		first, count := node.Leaf()
		for slot := first; slot < first+count; slot++ {
			index := t.Order[slot]
			inst := &t.Instances[index]
			if inst.Desc.Mask&opts.Mask == 0 {
				continue
			}
			objRay := Ray{
				Origin:    inst.WorldToObject.TransformPoint(ray.Origin),
				TMin:      ray.TMin,
				Direction: inst.WorldToObject.TransformVector(ray.Direction),
				TMax:      tMax,
			}
			end := traverseBottom(inst, index, objRay, opts, &committed, &found, &tMax)
			if end {
				return committed, found
			}
		}
	}
	return committed, found
}

// traverseBottom walks one instance's bottom level. It returns true when the search must
// end.
func traverseBottom(inst *Instance, index uint32, ray Ray, opts TraceOptions, committed *Hit, found *bool, tMax *float32) bool {
	b := inst.Bottom
	if b == nil || len(b.Triangles) == 0 {
		return false
	}
	opaque := resolveOpaque(b.Flags, inst.Desc.Flags, opts.Flags)
	if opaque && opts.Flags&RayFlagCullOpaque != 0 {
		return false
	}
	if !opaque && opts.Flags&RayFlagCullNonOpaque != 0 {
		return false
	}

	invDir := inverse(ray.Direction)
	var stack [maxStackDepth]int
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := b.Nodes[stack[sp]]
		if _, ok := node.Bounds().intersectRay(ray.Origin, invDir, ray.TMin, *tMax); !ok {
			continue
		}
		if !node.IsLeaf() {
			l, r := node.Children()
			if sp+2 > maxStackDepth {
				continue
			}
			stack[sp] = r
			stack[sp+1] = l
			sp += 2
			continue
		}

		first, count := node.Leaf()
		for i := first; i < first+count; i++ {
			tri := &b.Triangles[i]
			tHit, u, v, det, ok := IntersectTriangle(ray.Origin, ray.Direction, tri.V0, tri.V1, tri.V2)
			if !ok || tHit < ray.TMin || tHit > *tMax {
				continue
			}
			front := det < 0
			if inst.Desc.Flags&InstanceFlagTriangleFrontCounterClockwise != 0 {
				front = !front
			}
			if inst.Desc.Flags&InstanceFlagTriangleCullDisable == 0 {
				if front && opts.Flags&RayFlagCullFrontFacingTriangles != 0 {
					continue
				}
				if !front && opts.Flags&RayFlagCullBackFacingTriangles != 0 {
					continue
				}
			}

			candidate := Hit{
				T:                    tHit,
				Barycentrics:         [2]float32{u, v},
				HitKind:              HitKindTriangleBackFace,
				PrimitiveIndex:       tri.PrimitiveIndex,
				InstanceIndex:        index,
				InstanceID:           inst.Desc.InstanceID,
				InstanceContribution: inst.Desc.InstanceContributionToHitGroupIndex,
				ObjectToWorld:        inst.ObjectToWorld,
				WorldToObject:        inst.WorldToObject,
				ObjectRayOrigin:      ray.Origin,
				ObjectRayDirection:   ray.Direction,
			}
			if front {
				candidate.HitKind = HitKindTriangleFrontFace
			}

			decision := Accept
			if !opaque && opts.AnyHit != nil {
				decision = opts.AnyHit(&candidate)
			}
			if decision == Ignore {
				continue
			}
			*committed = candidate
			*found = true
			*tMax = tHit
			if decision == AcceptAndEndSearch || opts.Flags&RayFlagAcceptFirstHitAndEndSearch != 0 {
				return true
			}
		}
	}
	return false
}

// resolveOpaque applies the geometry, instance and ray opacity overrides in that order.
func resolveOpaque(g GeometryFlags, inst InstanceFlags, ray RayFlags) bool {
	opaque := g&GeometryFlagOpaque != 0
	if inst&InstanceFlagForceOpaque != 0 {
		opaque = true
	} else if inst&InstanceFlagForceNonOpaque != 0 {
		opaque = false
	}
	if ray&RayFlagForceOpaque != 0 {
		opaque = true
	} else if ray&RayFlagForceNonOpaque != 0 {
		opaque = false
	}
	return opaque
}

// IntersectTriangle runs the Möller-Trumbore test.
//
// Parameters:
//   - origin, dir: the ray, in the triangle's space
//   - v0, v1, v2: the triangle vertices
//
// Returns:
//   - float32: hit distance along dir
//   - float32, float32: barycentrics of v1 and v2
//   - float32: the determinant; negative when the triangle winds clockwise seen from the ray
//   - bool: false on a miss or a ray parallel to the triangle
func IntersectTriangle(origin, dir, v0, v1, v2 common.Vec3) (float32, float32, float32, float32, bool) {
	const epsilon = 1e-9
	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -epsilon && det < epsilon {
		return 0, 0, 0, det, false
	}
	invDet := 1 / det
	s := origin.Sub(v0)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, det, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, det, false
	}
	return e2.Dot(q) * invDet, u, v, det, true
}

func inverse(d common.Vec3) common.Vec3 {
	var out common.Vec3
	for i := range d {
		if d[i] == 0 {
			out[i] = float32(math.Inf(1))
		} else {
			out[i] = 1 / d[i]
		}
	}
	return out
}
