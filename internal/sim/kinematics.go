package sim

import (
	"fmt"
	"math"

	"github.com/shaunagostinho/flightsim/internal/gps"
)

const (
	// latDegreeMeters is the flat-earth length of one degree of latitude.
	latDegreeMeters = 111000.0

	// headingDelta is the angular step used to sample the tangent.
	headingDelta = 0.0001

	twoPi = 2 * math.Pi
)

// AircraftConfig describes one aircraft's fixed orbit.
type AircraftConfig struct {
	ID           string  `yaml:"id" json:"id"`
	RadiusM      float64 `yaml:"radius_m" json:"radiusM"`
	AltitudeM    float64 `yaml:"altitude_m" json:"altitudeM"`
	SpeedMPS     float64 `yaml:"speed_mps" json:"speedMps"`
	InitialAngle float64 `yaml:"initial_angle" json:"initialAngle"` // Radians
	CenterLat    float64 `yaml:"center_lat" json:"centerLat"`
	CenterLon    float64 `yaml:"center_lon" json:"centerLon"`
}

// Validate checks the config for values that would make the orbit
// degenerate (division by zero, NaN positions).
func (c AircraftConfig) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if !finite(c.RadiusM) || c.RadiusM <= 0 {
		return fmt.Errorf("%s: %w (got %v)", c.ID, ErrInvalidRadius, c.RadiusM)
	}
	if !finite(c.SpeedMPS) || c.SpeedMPS <= 0 {
		return fmt.Errorf("%s: %w (got %v)", c.ID, ErrInvalidSpeed, c.SpeedMPS)
	}
	if !finite(c.CenterLat) || !finite(c.CenterLon) ||
		math.Abs(c.CenterLat) >= 90 || math.Abs(c.CenterLon) > 180 {
		return fmt.Errorf("%s: %w (got %v,%v)", c.ID, ErrInvalidCenter, c.CenterLat, c.CenterLon)
	}
	if !finite(c.AltitudeM) {
		return fmt.Errorf("%s: %w", c.ID, ErrInvalidAltitude)
	}
	if !finite(c.InitialAngle) {
		return fmt.Errorf("%s: %w", c.ID, ErrInvalidAngle)
	}
	return nil
}

// Simulator flies one aircraft around a circle in a local flat-earth
// projection. Each Advance is a one-second step.
type Simulator struct {
	id        string
	radius    float64
	altitude  float64
	speed     float64
	centerLat float64
	centerLon float64

	angle float64 // Radians, always in [0, 2π)

	latDegreeMeters float64
	lonDegreeMeters float64
}

// NewSimulator validates cfg and places the aircraft at its initial angle.
func NewSimulator(cfg AircraftConfig) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{
		id:              cfg.ID,
		radius:          cfg.RadiusM,
		altitude:        cfg.AltitudeM,
		speed:           cfg.SpeedMPS,
		centerLat:       cfg.CenterLat,
		centerLon:       cfg.CenterLon,
		angle:           wrapAngle(cfg.InitialAngle),
		latDegreeMeters: latDegreeMeters,
		lonDegreeMeters: latDegreeMeters * math.Cos(cfg.CenterLat*math.Pi/180.0),
	}, nil
}

func (s *Simulator) ID() string { return s.id }

// Angle returns the current angular position in radians.
func (s *Simulator) Angle() float64 { return s.angle }

// Position returns the fix at the current angle without advancing.
func (s *Simulator) Position() gps.PlanePosition {
	x, y := s.offset(s.angle) // East, North
	x2, y2 := s.offset(s.angle + headingDelta)

	// atan2(east, north) gives a compass heading: 0 = North, 90 = East.
	heading := math.Atan2(x2-x, y2-y) * 180.0 / math.Pi
	if heading < 0 {
		heading += 360.0
	}
	if heading >= 360.0 {
		heading -= 360.0
	}

	return gps.PlanePosition{
		Latitude:  s.centerLat + y/s.latDegreeMeters,
		Longitude: s.centerLon + x/s.lonDegreeMeters,
		Altitude:  s.altitude,
		Speed:     s.speed,
		Heading:   heading,
	}
}

// Advance moves the aircraft one second along the circle.
func (s *Simulator) Advance() {
	angularSpeed := s.speed / s.radius
	s.angle = wrapAngle(s.angle + angularSpeed)
}

// Step returns the current fix and then advances.
func (s *Simulator) Step() gps.PlanePosition {
	pos := s.Position()
	s.Advance()
	return pos
}

func (s *Simulator) offset(angle float64) (east, north float64) {
	return s.radius * math.Cos(angle), s.radius * math.Sin(angle)
}

func wrapAngle(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	// -tiny + 2π can round up to exactly 2π.
	if a >= twoPi {
		a = 0
	}
	return a
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
