package producer

import (
	"fmt"
	"math"

	"mpc-solution-core/mpcmsg"
)

// Path is a constant-curvature reference: a straight line when Curvature
// is zero, otherwise a circular arc (positive curvature turns left).
type Path struct {
	X0        float64 `json:"x0"`
	Y0        float64 `json:"y0"`
	Heading   float64 `json:"heading"`   // rad, tangent at s = 0
	Curvature float64 `json:"curvature"` // 1/m
}

// Validate rejects non-finite parameters.
func (p Path) Validate() error {
	for _, v := range []float64{p.X0, p.Y0, p.Heading, p.Curvature} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("path has non-finite parameter %v", v)
		}
	}
	return nil
}

// PathPoint is the reference pose at an arc length.
type PathPoint struct {
	X, Y, Psi, Kappa float64
}

func (p Path) isLine() bool {
	return math.Abs(p.Curvature) < 1e-9
}

func (p Path) center() (float64, float64) {
	k := p.Curvature
	return p.X0 - math.Sin(p.Heading)/k, p.Y0 + math.Cos(p.Heading)/k
}

// At returns the reference pose at arc length s.
func (p Path) At(s float64) PathPoint {
	if p.isLine() {
		return PathPoint{
			X:   p.X0 + s*math.Cos(p.Heading),
			Y:   p.Y0 + s*math.Sin(p.Heading),
			Psi: p.Heading,
		}
	}
	k := p.Curvature
	cx, cy := p.center()
	th := p.Heading + k*s
	return PathPoint{
		X:     cx + math.Sin(th)/k,
		Y:     cy - math.Cos(th)/k,
		Psi:   th,
		Kappa: k,
	}
}

// Project returns the Frenet coordinates of (x, y): arc length of the
// closest path point and signed lateral offset, left positive. On an arc s
// is measured within half a turn of the start, (-π/|κ|, π/|κ|].
func (p Path) Project(x, y float64) (s, ey float64) {
	if p.isLine() {
		dx, dy := x-p.X0, y-p.Y0
		c, sn := math.Cos(p.Heading), math.Sin(p.Heading)
		return dx*c + dy*sn, -dx*sn + dy*c
	}
	k := p.Curvature
	cx, cy := p.center()
	rx, ry := x-cx, y-cy
	r := math.Hypot(rx, ry)
	sign := math.Copysign(1, k)

	th := math.Atan2(ry, rx) + sign*math.Pi/2
	s = mpcmsg.HeadingSymmetric.Wrap(th-p.Heading) / k
	return s, sign * (1/math.Abs(k) - r)
}

// Frenet returns s, e_y and e_psi for a pose.
func (p Path) Frenet(x, y, psi float64) (s, ey, epsi float64) {
	s, ey = p.Project(x, y)
	ref := p.At(s)
	return s, ey, mpcmsg.HeadingSymmetric.Wrap(psi - ref.Psi)
}
