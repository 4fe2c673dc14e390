package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

func approx(a, b common.Vec3) bool {
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-4 {
			return false
		}
	}
	return true
}

func xyz(v [4]float32) common.Vec3 { return common.Vec3{v[0], v[1], v[2]} }

func TestRaytracingParams(t *testing.T) {
	c := NewCamera(
		WithPosition(common.Vec3{0, 0, 5}),
		WithTarget(common.Vec3{}),
		WithFov(math.Pi/2),
		WithAspect(2),
	)
	p := c.RaytracingParams()

	tests := []struct {
		name string
		got  common.Vec3
		want common.Vec3
	}{
		{"eye", xyz(p.WorldEyePos), common.Vec3{0, 0, 5}},
		{"W", xyz(p.W), common.Vec3{0, 0, -5}},
		{"U", xyz(p.U), common.Vec3{10, 0, 0}},
		{"V", xyz(p.V), common.Vec3{0, 5, 0}},
	}
	for _, tt := range tests {
		if !approx(tt.got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if p.WorldEyePos[3] != 1 || p.W[3] != 0 {
		t.Errorf("w components = %v, %v, want 1, 0", p.WorldEyePos[3], p.W[3])
	}
}

func TestHasMoved(t *testing.T) {
	c := NewCamera()
	vp := c.ViewProjection()
	if c.HasMoved(vp) {
		t.Error("expected an unchanged camera not to have moved")
	}
	c.SetAspect(1.5)
	if !c.HasMoved(vp) {
		t.Error("expected an aspect change to count as movement")
	}
	vp = c.ViewProjection()
	c.SetPosition(common.Vec3{1, 2, 3})
	if !c.HasMoved(vp) {
		t.Error("expected a position change to count as movement")
	}
}

func TestCameraFollowsController(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(2), WithElevation(0), WithAzimuth(0))
	c := NewCamera(WithController(ctrl))
	if got := c.Position(); !approx(got, common.Vec3{0, 0, 2}) {
		t.Fatalf("Position() = %v, want (0, 0, 2)", got)
	}

	vp := c.ViewProjection()
	ctrl.Orbit(10, 0)
	if c.HasMoved(vp) {
		t.Error("expected the camera to hold its pose until Update")
	}
	c.Update()
	if !c.HasMoved(vp) {
		t.Error("expected Update to pick up the orbit")
	}
	if d := c.Position().Sub(c.Target()).Length(); math.Abs(float64(d-2)) > 1e-4 {
		t.Errorf("orbit distance = %v, want 2", d)
	}
}

func TestOrbitControllerClamps(t *testing.T) {
	ctrl := NewOrbitController(WithRadiusBounds(1, 10), WithElevationBounds(-0.5, 0.5))
	ctrl.SetRadius(1000)
	if ctrl.Radius() != 10 {
		t.Errorf("Radius() = %v, want 10", ctrl.Radius())
	}
	ctrl.Zoom(1000)
	if ctrl.Radius() != 1 {
		t.Errorf("Radius() = %v, want 1", ctrl.Radius())
	}
	ctrl.Orbit(0, 1000)
	if ctrl.Elevation() != 0.5 {
		t.Errorf("Elevation() = %v, want 0.5", ctrl.Elevation())
	}
}

func TestOrbitControllerPan(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(4), WithElevation(0), WithAzimuth(0), WithPanSpeed(1))
	ctrl.PanRight(2)
	if got := ctrl.Target(); !approx(got, common.Vec3{2, 0, 0}) {
		t.Errorf("Target() = %v, want (2, 0, 0)", got)
	}
	if got := ctrl.Position(); !approx(got, common.Vec3{2, 0, 4}) {
		t.Errorf("Position() = %v, want (2, 0, 4)", got)
	}
	ctrl.PanForward(1)
	if got := ctrl.Target(); !approx(got, common.Vec3{2, 0, -1}) {
		t.Errorf("Target() = %v, want (2, 0, -1)", got)
	}
	if ctrl.Radius() != 4 {
		t.Errorf("Radius() = %v, want 4", ctrl.Radius())
	}
}
