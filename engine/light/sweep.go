package light

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// Sweep swings a directional light back and forth about +Y around a base direction.
// The swing angle at time t is sin(t*Rate)*Amplitude.
type Sweep struct {
	Base      common.Vec3
	Amplitude float32
	Rate      float32
}

// NewSweep returns a sweep of a quarter turn each way, a full period every 10*pi
// seconds.
//
// Parameters:
//   - base: the direction at t = 0
//
// Returns:
//   - Sweep: the sweep
func NewSweep(base common.Vec3) Sweep {
	return Sweep{Base: base, Amplitude: 3.14 * 0.5, Rate: 0.2}
}

// Direction returns the swept direction at elapsed seconds.
//
// Parameters:
//   - elapsed: seconds since start
//
// Returns:
//   - common.Vec3: Base rotated about +Y
func (s Sweep) Direction(elapsed float32) common.Vec3 {
	angle := math.Sin(float64(elapsed*s.Rate)) * float64(s.Amplitude)
	sin, cos := float32(math.Sin(angle)), float32(math.Cos(angle))
	x, y, z := s.Base[0], s.Base[1], s.Base[2]
	return common.Vec3{x*cos + z*sin, y, -x*sin + z*cos}
}

// Apply points l along the swept direction.
//
// Parameters:
//   - l: the light to aim
//   - elapsed: seconds since start
func (s Sweep) Apply(l Light, elapsed float32) {
	l.SetDirection(s.Direction(elapsed))
}
