package localiser

import (
	"fmt"
	"math"
	"time"
)

// Pose is a 2D vehicle state hypothesis in map units. Heading is in degrees
// and kept in (-180, 180]; Speed is map units per scan cycle.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

// Normalized returns a copy of p with the heading wrapped into (-180, 180].
func (p Pose) Normalized() Pose {
	p.Heading = NormalizeHeading(p.Heading)
	return p
}

// HeadingRadians returns the heading converted to radians.
func (p Pose) HeadingRadians() float64 {
	return p.Heading * math.Pi / 180
}

func (p Pose) String() string {
	return fmt.Sprintf("x=%.2f y=%.2f hdg=%.2f v=%.2f", p.X, p.Y, p.Heading, p.Speed)
}

// NormalizeHeading wraps a heading in degrees into (-180, 180].
func NormalizeHeading(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return deg
	}
	h := math.Mod(deg+180, 360)
	if h < 0 {
		h += 360
	}
	h -= 180
	if h <= -180 {
		h = 180
	}
	return h
}

// HeadingDelta returns the signed shortest rotation from b to a in degrees,
// in (-180, 180].
func HeadingDelta(a, b float64) float64 {
	return NormalizeHeading(a - b)
}

// Variance holds the per-dimension variance of an estimate.
type Variance struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

// Vector returns the variances ordered x, y, heading, speed.
func (v Variance) Vector() [4]float64 {
	return [4]float64{v.X, v.Y, v.Heading, v.Speed}
}

// Estimate is the externally visible output of one localisation cycle.
type Estimate struct {
	Localiser string    `json:"localiser"`
	Cycle     int       `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
	Mean      Pose      `json:"mean"`
	Variance  Variance  `json:"variance"`
	// Score is the scan-to-map score of the reported mean pose.
	Score float64 `json:"score"`
	// Rays is the number of valid rays the scan carried.
	Rays int `json:"rays"`
}

func (e Estimate) String() string {
	return fmt.Sprintf("[%s #%d] %s var=(%.3f, %.3f, %.3f, %.3f) score=%.1f rays=%d",
		e.Localiser, e.Cycle, e.Mean,
		e.Variance.X, e.Variance.Y, e.Variance.Heading, e.Variance.Speed,
		e.Score, e.Rays)
}
