package light

import "github.com/Carmen-Shannon/oxy-rt/common"

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Shadow rays toward it run to the far plane.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	// Its contribution falls off with the squared distance.
	LightTypePoint
)

func (t LightType) String() string {
	switch t {
	case LightTypeDirectional:
		return "directional"
	case LightTypePoint:
		return "point"
	default:
		return "unknown"
	}
}

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	lightType LightType
	position  common.Vec3
	direction common.Vec3
	color     common.Vec3
	intensity float32
	enabled   bool
}

// Light defines the interface for a light source evaluated by the closest hit shaders.
//
// Lights are marshaled into the per-frame constant buffer each frame via the
// gpu_types helpers. Disabled lights are marshaled with zero color.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional or point)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - common.Vec3: position as (x, y, z)
	Position() common.Vec3

	// Direction returns the normalized direction the light travels in.
	// Meaningless for point lights.
	//
	// Returns:
	//   - common.Vec3: normalized direction as (x, y, z)
	Direction() common.Vec3

	// Color returns the RGB color of the light.
	//
	// Returns:
	//   - common.Vec3: color as (r, g, b)
	Color() common.Vec3

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// Enabled returns whether this light contributes to shading.
	//
	// Returns:
	//   - bool: true if the light is enabled
	Enabled() bool

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - p: the position
	SetPosition(p common.Vec3)

	// SetDirection sets the direction of the light and normalizes it.
	//
	// Parameters:
	//   - d: the direction, normalized before it is stored
	SetDirection(d common.Vec3)

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - c: the color
	SetColor(c common.Vec3)

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetEnabled enables or disables the light.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the given type. Lights are white, enabled, have an
// intensity of 1 and point straight down unless options say otherwise.
//
// Parameters:
//   - lightType: the kind of light to create
//   - opts: optional builder options to configure the light
//
// Returns:
//   - Light: the newly created light
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType: lightType,
		direction: common.Vec3{0, -1, 0},
		color:     common.Vec3{1, 1, 1},
		intensity: 1,
		enabled:   true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType        { return l.lightType }
func (l *lightImpl) Position() common.Vec3  { return l.position }
func (l *lightImpl) Direction() common.Vec3 { return l.direction }
func (l *lightImpl) Color() common.Vec3     { return l.color }
func (l *lightImpl) Intensity() float32     { return l.intensity }
func (l *lightImpl) Enabled() bool          { return l.enabled }

func (l *lightImpl) SetPosition(p common.Vec3) {
	l.position = p
}

func (l *lightImpl) SetDirection(d common.Vec3) {
	l.direction = normalizeDirection(d)
}

func (l *lightImpl) SetColor(c common.Vec3) {
	l.color = c
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.intensity = intensity
}

func (l *lightImpl) SetEnabled(enabled bool) {
	l.enabled = enabled
}

// normalizeDirection keeps the previous default when d has no length.
func normalizeDirection(d common.Vec3) common.Vec3 {
	if d.Length() == 0 {
		return common.Vec3{0, -1, 0}
	}
	return d.Normalize()
}
