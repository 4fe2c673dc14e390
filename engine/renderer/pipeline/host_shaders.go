package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// Host implementations of the realtime shaders for the headless device. Unlike the WGSL
// library they trace real shadow and reflection rays through the shadow hit group.

// RayPayload is the payload of primary and reflection rays. Stride is the ray contribution
// stride, carried so hit shaders can select the shadow hit group. ReflectionMiss is the
// miss index reflection rays are traced with.
type RayPayload struct {
	Color          [4]float32
	Albedo         [4]float32
	Direction      common.Vec3
	HitT           float32
	Stride         uint32
	ReflectionMiss uint32
}

// ShadowPayload is the payload of shadow rays.
type ShadowPayload struct {
	LightVisibility float32
}

const (
	rayEpsilon float32 = 0.001
	rayFar     float32 = 10000

	// hit record arguments
	localVertices = 0
	localIndices  = 8
	localMaterial = 16

	// miss record arguments
	localEquirect = 0
	localCube     = 8

	// ray generation record arguments
	localStride         = 0
	localReflectionMiss = 4

	instanceMaskAll = 0xFF
)

func xyz(v [4]float32) common.Vec3 { return common.Vec3{v[0], v[1], v[2]} }

func mul(a, b common.Vec3) common.Vec3 { return common.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }

func lerp(a, b common.Vec3, t float32) common.Vec3 { return a.Scale(1 - t).Add(b.Scale(t)) }

func reflect(d, n common.Vec3) common.Vec3 { return d.Sub(n.Scale(2 * d.Dot(n))) }

func rgba(c common.Vec3, a float32) [4]float32 { return [4]float32{c[0], c[1], c[2], a} }

var (
	skyHorizon = common.Vec3{0.9, 0.85, 0.8}
	skyZenith  = common.Vec3{0.35, 0.55, 0.9}
)

// sky is the procedural environment, shared with the WGSL library.
func sky(dir common.Vec3, strength float32) common.Vec3 {
	t := min(max(dir[1]*0.5+0.5, 0), 1)
	return lerp(skyHorizon, skyZenith, t).Scale(strength)
}

// equirectUV maps a direction to equirectangular texture coordinates.
func equirectUV(dir common.Vec3) (float32, float32) {
	d := dir.Normalize()
	u := 0.5 + float32(math.Atan2(float64(d[0]), float64(-d[2])))/(2*math.Pi)
	v := float32(math.Acos(float64(min(max(d[1], -1), 1)))) / math.Pi
	return u, v
}

func frameConstants(inv *device.HostInvocation) (common.PerFrameConstants, error) {
	var frame common.PerFrameConstants
	if err := inv.GlobalConstants(PerFrameConstantsSlot, &frame); err != nil {
		return frame, fmt.Errorf("per-frame constants: %w", err)
	}
	return frame, nil
}

func topLevel(inv *device.HostInvocation) (uint64, error) {
	arg, ok := inv.GlobalRootArgument(AccelerationStructureSlot)
	if !ok {
		return 0, fmt.Errorf("no top level bound at global slot %d", AccelerationStructureSlot)
	}
	return arg.Address, nil
}

func rayPayload(inv *device.HostInvocation) (*RayPayload, error) {
	p, ok := inv.Payload().(*RayPayload)
	if !ok {
		return nil, fmt.Errorf("payload is %T, want *RayPayload", inv.Payload())
	}
	return p, nil
}

func rayGen(inv *device.HostInvocation) error {
	frame, err := frameConstants(inv)
	if err != nil {
		return err
	}
	tlas, err := topLevel(inv)
	if err != nil {
		return err
	}
	idx := inv.DispatchRaysIndex()
	dims := inv.DispatchRaysDimensions()
	cam := frame.CameraParams
	// a converged pixel keeps its accumulated color
	if limit := frame.Options.MaxIterations; limit > 0 && cam.AccumCount >= limit {
		return nil
	}

	dx := ((float32(idx[0])+0.5)/float32(dims[0])+cam.Jitters[0])*2 - 1
	dy := ((float32(idx[1])+0.5)/float32(dims[1])+cam.Jitters[1])*2 - 1
	dir := xyz(cam.U).Scale(dx).Sub(xyz(cam.V).Scale(dy)).Add(xyz(cam.W)).Normalize()

	payload := &RayPayload{
		Direction:      dir,
		HitT:           -1,
		Stride:         inv.LocalUint32(localStride),
		ReflectionMiss: inv.LocalUint32(localReflectionMiss),
	}
	ray := accel.Ray{Origin: xyz(cam.WorldEyePos), TMin: rayEpsilon, Direction: dir, TMax: rayFar}
	if err := inv.TraceRay(tlas, accel.RayFlagNone, instanceMaskAll, PrimaryRay*payload.Stride, 0, PrimaryRay, ray, payload); err != nil {
		return err
	}

	x, y := int(idx[0]), int(idx[1])
	if out, ok := inv.GlobalDescriptorTable(OutputViewSlot, OutputColor); ok && out.Texture != nil {
		color := xyz(payload.Color)
		if cam.AccumCount > 0 {
			prev := xyz(inv.LoadTexel(out.Texture, x, y, 0))
			color = lerp(prev, color, 1/float32(cam.AccumCount+1))
		}
		inv.StoreTexel(out.Texture, x, y, rgba(color, 1))
	}
	if out, ok := inv.GlobalDescriptorTable(OutputViewSlot, OutputAlbedo); ok && out.Texture != nil {
		inv.StoreTexel(out.Texture, x, y, rgba(xyz(payload.Albedo), payload.HitT))
	}
	return nil
}

// surfaceNormal interpolates the vertex normals of the hit triangle and moves the result to
// world space. ok is false when the record names no vertex buffer.
func surfaceNormal(inv *device.HostInvocation, hit accel.Hit) (n common.Vec3, ok bool, err error) {
	vdesc, found := inv.DescriptorAtHandle(inv.LocalUint64(localVertices))
	if !found || vdesc.Buffer == nil {
		return n, false, nil
	}
	vertices, err := inv.ViewBytes(vdesc)
	if err != nil {
		return n, false, err
	}
	var indices []byte
	if idesc, found := inv.DescriptorAtHandle(inv.LocalUint64(localIndices)); found && idesc.Buffer != nil {
		if indices, err = inv.ViewBytes(idesc); err != nil {
			return n, false, err
		}
	}

	weights := [3]float32{1 - hit.Barycentrics[0] - hit.Barycentrics[1], hit.Barycentrics[0], hit.Barycentrics[1]}
	for corner, w := range weights {
		i := hit.PrimitiveIndex*3 + uint32(corner)
		if indices != nil {
			if int(i+1)*common.IndexStride > len(indices) {
				return n, false, fmt.Errorf("primitive %d reads past the index buffer", hit.PrimitiveIndex)
			}
			i = binary.LittleEndian.Uint32(indices[i*common.IndexStride:])
		}
		at := int(i)*common.VertexStride + 12
		if at+12 > len(vertices) {
			return n, false, fmt.Errorf("vertex %d is past the vertex buffer", i)
		}
		for c := 0; c < 3; c++ {
			n[c] += w * math.Float32frombits(binary.LittleEndian.Uint32(vertices[at+c*4:]))
		}
	}
	return hit.ObjectToWorld.TransformVector(n).Normalize(), true, nil
}

// shading traces shadow rays for one hit shader invocation.
type shading struct {
	inv    *device.HostInvocation
	tlas   uint64
	stride uint32
}

func (s shading) visibility(origin, dir common.Vec3, tmax float32) (float32, error) {
	payload := &ShadowPayload{}
	ray := accel.Ray{Origin: origin, TMin: rayEpsilon, Direction: dir, TMax: tmax}
	err := s.inv.TraceRay(s.tlas, accel.RayFlagAcceptFirstHitAndEndSearch, instanceMaskAll, ShadowRay*s.stride, 0, ShadowRay, ray, payload)
	return payload.LightVisibility, err
}

func (s shading) directLight(frame common.PerFrameConstants, p, n, albedo common.Vec3) (common.Vec3, error) {
	var color common.Vec3

	dl := frame.DirectionalLight
	l := xyz(dl.ForwardDir).Scale(-1).Normalize()
	if ndotl := n.Dot(l); ndotl > 0 {
		vis, err := s.visibility(p, l, rayFar)
		if err != nil {
			return color, err
		}
		color = color.Add(mul(albedo, xyz(dl.Color)).Scale(dl.Color[3] * ndotl * vis))
	}

	pl := frame.PointLight
	toLight := xyz(pl.WorldPos).Sub(p)
	dist := toLight.Length()
	if dist > rayEpsilon {
		l := toLight.Scale(1 / dist)
		if ndotl := n.Dot(l); ndotl > 0 {
			vis, err := s.visibility(p, l, dist)
			if err != nil {
				return color, err
			}
			falloff := 1 / (1 + dist*dist)
			color = color.Add(mul(albedo, xyz(pl.Color)).Scale(pl.Color[3] * ndotl * falloff * vis))
		}
	}
	return color, nil
}

func primaryClosestHit(inv *device.HostInvocation) error {
	payload, err := rayPayload(inv)
	if err != nil {
		return err
	}
	hit, _ := inv.Hit()
	var m common.MaterialParams
	if err := inv.LocalConstants(localMaterial, &m); err != nil {
		return err
	}
	albedo := xyz(m.Albedo)
	payload.Albedo = m.Albedo
	payload.HitT = hit.T

	ray := inv.WorldRay()
	n, ok, err := surfaceNormal(inv, hit)
	if err != nil {
		return err
	}
	if !ok {
		payload.Color = rgba(albedo, 1)
		return nil
	}
	if n.Dot(ray.Direction) > 0 {
		n = n.Scale(-1)
	}
	p := ray.Origin.Add(ray.Direction.Scale(hit.T))

	frame, err := frameConstants(inv)
	if err != nil {
		return err
	}
	tlas, err := topLevel(inv)
	if err != nil {
		return err
	}
	s := shading{inv: inv, tlas: tlas, stride: payload.Stride}
	color, err := s.directLight(frame, p, n, albedo)
	if err != nil {
		return err
	}
	strength := frame.Options.EnvironmentStrength
	color = color.Add(xyz(m.Emissive)).Add(mul(albedo, sky(n, strength)).Scale(0.2))

	if m.Reflectivity > 0 {
		r := reflect(ray.Direction, n)
		reflected := sky(r, strength)
		// a reflection ray and the shadow rays of its hit need two more levels
		if inv.RecursionDepth()+2 <= realtimeMaxRecursion {
			rp := &RayPayload{Direction: r, HitT: -1, Stride: payload.Stride, ReflectionMiss: payload.ReflectionMiss}
			rray := accel.Ray{Origin: p, TMin: rayEpsilon, Direction: r, TMax: rayFar}
			if err := inv.TraceRay(tlas, accel.RayFlagNone, instanceMaskAll, PrimaryRay*payload.Stride, 0, payload.ReflectionMiss, rray, rp); err != nil {
				return err
			}
			reflected = xyz(rp.Color)
		}
		color = lerp(color, mul(reflected, xyz(m.Specular)), m.Reflectivity)
	}
	payload.Color = rgba(color, 1)
	return nil
}

// environment samples the miss record's equirectangular texture, then its cube map, then
// the procedural sky.
func environment(inv *device.HostInvocation) (common.Vec3, error) {
	frame, err := frameConstants(inv)
	if err != nil {
		return common.Vec3{}, err
	}
	strength := frame.Options.EnvironmentStrength
	dir := inv.WorldRay().Direction

	if desc, ok := inv.DescriptorAtHandle(inv.LocalUint64(localEquirect)); ok && desc.Texture != nil {
		u, v := equirectUV(dir)
		return xyz(inv.SampleLevel(desc.Texture, u, v)).Scale(strength), nil
	}
	if desc, ok := inv.DescriptorAtHandle(inv.LocalUint64(localCube)); ok && desc.Texture != nil {
		return xyz(inv.SampleCube(desc.Texture, dir)).Scale(strength), nil
	}
	return sky(dir, strength), nil
}

func primaryMiss(inv *device.HostInvocation) error {
	payload, err := rayPayload(inv)
	if err != nil {
		return err
	}
	color, err := environment(inv)
	if err != nil {
		return err
	}
	payload.Color = rgba(color, 1)
	payload.Albedo = [4]float32{}
	payload.HitT = -1
	return nil
}

// secondaryMiss shades reflection rays that leave the scene. It leaves the albedo and hit
// distance of the payload alone.
func secondaryMiss(inv *device.HostInvocation) error {
	payload, err := rayPayload(inv)
	if err != nil {
		return err
	}
	color, err := environment(inv)
	if err != nil {
		return err
	}
	payload.Color = rgba(color, 1)
	return nil
}

func shadowPayload(inv *device.HostInvocation) (*ShadowPayload, error) {
	p, ok := inv.Payload().(*ShadowPayload)
	if !ok {
		return nil, fmt.Errorf("payload is %T, want *ShadowPayload", inv.Payload())
	}
	return p, nil
}

func shadowClosestHit(inv *device.HostInvocation) error {
	p, err := shadowPayload(inv)
	if err != nil {
		return err
	}
	p.LightVisibility = 0
	return nil
}

// shadowAnyHit lets light through glass.
func shadowAnyHit(inv *device.HostInvocation) error {
	var m common.MaterialParams
	if err := inv.LocalConstants(localMaterial, &m); err != nil {
		return err
	}
	if m.Type == common.MaterialTypeSpecular {
		inv.IgnoreHit()
		return nil
	}
	inv.AcceptHitAndEndSearch()
	return nil
}

func shadowMiss(inv *device.HostInvocation) error {
	p, err := shadowPayload(inv)
	if err != nil {
		return err
	}
	p.LightVisibility = 1
	return nil
}
