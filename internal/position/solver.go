package position

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
)

// rankTolerance is the singular value cutoff relative to the largest one.
const rankTolerance = 1e-10

// Point is a position in room coordinates (meters).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FallbackPoint is returned when the system has no unique solution.
var FallbackPoint = Point{X: 5.0, Y: 5.0}

// Result is the outcome of one solve. Fallback is set when Point is
// FallbackPoint because the solve failed, not because it landed there.
type Result struct {
	Point
	Fallback bool
}

// AnchorPoints returns the anchor coordinates in solver order.
func AnchorPoints(t calibration.Table) [3]Point {
	var pts [3]Point
	for i, a := range t.Anchors() {
		pts[i] = Point{X: a.X, Y: a.Y}
	}
	return pts
}

// Solve trilaterates a position from three ranges. Subtracting the first
// anchor's circle equation from the other two gives the linear system
//
//	2(x2-x1)x + 2(y2-y1)y = r1² - r2² - x1² + x2² - y1² + y2²
//	2(x3-x1)x + 2(y3-y1)y = r1² - r3² - x1² + x3² - y1² + y3²
//
// which is solved in the least squares sense through an SVD. The result is
// clamped to the room and rounded to centimeters. Collinear or coincident
// anchors make the system rank deficient and yield FallbackPoint.
func Solve(d Distances, anchors [3]Point) Result {
	p1, p2, p3 := anchors[0], anchors[1], anchors[2]
	r1, r2, r3 := d.A1, d.A2, d.A3

	a := mat.NewDense(2, 2, []float64{
		2 * (p2.X - p1.X), 2 * (p2.Y - p1.Y),
		2 * (p3.X - p1.X), 2 * (p3.Y - p1.Y),
	})
	b := mat.NewVecDense(2, []float64{
		r1*r1 - r2*r2 - p1.X*p1.X + p2.X*p2.X - p1.Y*p1.Y + p2.Y*p2.Y,
		r1*r1 - r3*r3 - p1.X*p1.X + p3.X*p3.X - p1.Y*p1.Y + p3.Y*p3.Y,
	})
	if !finite(b.AtVec(0), b.AtVec(1), a.At(0, 0), a.At(0, 1), a.At(1, 0), a.At(1, 1)) {
		return Result{Point: FallbackPoint, Fallback: true}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Result{Point: FallbackPoint, Fallback: true}
	}
	if svd.Rank(rankTolerance) < 2 {
		return Result{Point: FallbackPoint, Fallback: true}
	}

	var sol mat.VecDense
	svd.SolveVecTo(&sol, b, 2)
	x, y := sol.AtVec(0), sol.AtVec(1)
	if !finite(x, y) {
		return Result{Point: FallbackPoint, Fallback: true}
	}

	return Result{Point: Point{
		X: Round(clamp(x, 0, config.RoomWidth), 2),
		Y: Round(clamp(y, 0, config.RoomHeight), 2),
	}}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
