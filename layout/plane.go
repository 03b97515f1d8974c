package layout

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Plane is n·p + D = 0 with a unit normal n.
type Plane struct {
	Normal r3.Vector
	D      float64
}

// Distance is the signed distance from p to the plane.
func (pl Plane) Distance(p r3.Vector) float64 {
	return pl.Normal.Dot(p) + pl.D
}

// FitPlane runs RANSAC over pts: each iteration samples three points, builds
// the plane through them and counts points within threshold. The plane with
// the most inliers wins; ties keep the earlier candidate. It returns the
// plane and the indices of its inliers.
func FitPlane(pts []r3.Vector, threshold float64, iterations int, rng *rand.Rand) (Plane, []int, error) {
	if len(pts) < 3 {
		return Plane{}, nil, fmt.Errorf("%w: %d points, need at least 3", ErrInsufficientGeometry, len(pts))
	}

	var best Plane
	var bestInliers []int
	for it := 0; it < iterations; it++ {
		i0, i1, i2 := sampleThree(len(pts), rng)
		p0, p1, p2 := pts[i0], pts[i1], pts[i2]

		cross := p1.Sub(p0).Cross(p2.Sub(p0))
		if cross.Norm() == 0 {
			// collinear sample
			continue
		}
		n := cross.Normalize()
		candidate := Plane{Normal: n, D: -n.Dot(p1)}

		var inliers []int
		for i, p := range pts {
			if math.Abs(candidate.Distance(p)) <= threshold {
				inliers = append(inliers, i)
			}
		}
		if len(inliers) > len(bestInliers) {
			best, bestInliers = candidate, inliers
		}
	}

	if len(bestInliers) < 3 {
		return Plane{}, nil, fmt.Errorf("%w: no plane with 3 inliers after %d iterations",
			ErrInsufficientGeometry, iterations)
	}
	return best, bestInliers, nil
}

// sampleThree draws three distinct indices in [0, n).
func sampleThree(n int, rng *rand.Rand) (int, int, int) {
	a := rng.Intn(n)
	b := rng.Intn(n - 1)
	if b >= a {
		b++
	}
	c := rng.Intn(n - 2)
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if c >= lo {
		c++
	}
	if c >= hi {
		c++
	}
	return a, b, c
}

// RefinePlane computes the least-squares plane through the given points:
// the normal is the right singular vector of the centred points with the
// smallest singular value. The normal keeps the orientation of hint.
func RefinePlane(pts []r3.Vector, hint r3.Vector) (Plane, error) {
	if len(pts) < 3 {
		return Plane{}, fmt.Errorf("%w: %d points, need at least 3", ErrInsufficientGeometry, len(pts))
	}

	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	data := make([]float64, 0, 3*len(pts))
	for _, p := range pts {
		d := p.Sub(c)
		data = append(data, d.X, d.Y, d.Z)
	}
	a := mat.NewDense(len(pts), 3, data)

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return Plane{}, fmt.Errorf("%w: SVD did not converge", ErrInsufficientGeometry)
	}
	var v mat.Dense
	svd.VTo(&v)
	n := r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}.Normalize()
	if n.Dot(hint) < 0 {
		n = n.Mul(-1)
	}
	return Plane{Normal: n, D: -n.Dot(c)}, nil
}
