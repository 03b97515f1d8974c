package layout

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ImageShape is the size of an equirectangular panorama in pixels.
type ImageShape struct {
	Height int `yaml:"height" json:"height"`
	Width  int `yaml:"width" json:"width"`
}

// DefaultImageShape is the 512x1024 panorama used by the benchmark.
var DefaultImageShape = ImageShape{Height: 512, Width: 1024}

// UV is a pixel coordinate: U is the column, V the row.
type UV struct {
	U float64
	V float64
}

// Spherical holds an azimuth (Theta) and elevation (Phi) in radians.
// Theta is in (-pi, pi], Phi in (-pi/2, pi/2] with positive Phi below the horizon.
type Spherical struct {
	Theta float64
	Phi   float64
}

// PixelToSpherical maps a pixel coordinate to spherical angles.
//
//	theta = 2*pi*(u/W - 0.5)
//	phi   = pi*(v/H - 0.5)
func PixelToSpherical(uv UV, shape ImageShape) Spherical {
	return Spherical{
		Theta: 2 * math.Pi * (uv.U/float64(shape.Width) - 0.5),
		Phi:   math.Pi * (uv.V/float64(shape.Height) - 0.5),
	}
}

// SphericalToPixel is the inverse of PixelToSpherical. The result is rounded
// with floor(x + 0.5) and clipped to the valid pixel range.
func SphericalToPixel(sph Spherical, shape ImageShape) (u, v int) {
	fu := math.Floor((0.5*sph.Theta/math.Pi+0.5)*float64(shape.Width) + 0.5)
	fv := math.Floor((sph.Phi/math.Pi+0.5)*float64(shape.Height) + 0.5)
	return clipInt(fu, shape.Width-1), clipInt(fv, shape.Height-1)
}

func clipInt(x float64, max int) int {
	if x < 0 {
		return 0
	}
	if x > float64(max) {
		return max
	}
	return int(x)
}

// SphericalToBearing returns the unit bearing vector for the given angles.
// The camera frame is X right, Y down, Z forward.
func SphericalToBearing(sph Spherical) r3.Vector {
	cosPhi := math.Cos(sph.Phi)
	return r3.Vector{
		X: cosPhi * math.Sin(sph.Theta),
		Y: math.Sin(sph.Phi),
		Z: cosPhi * math.Cos(sph.Theta),
	}
}

// BearingToSpherical recovers the angles of an arbitrary (not necessarily
// unit) direction. The caller must not pass a vector with x = z = 0.
func BearingToSpherical(xyz r3.Vector) Spherical {
	normXZ := math.Hypot(xyz.X, xyz.Z)
	return Spherical{
		Theta: sign(xyz.X) * math.Acos(xyz.Z/normXZ),
		Phi:   math.Asin(xyz.Y / xyz.Norm()),
	}
}

// sign mirrors numpy.sign: 0 maps to 0.
func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// BearingsToUV projects 3D directions to pixel coordinates.
func BearingsToUV(xyz []r3.Vector, shape ImageShape) [][2]int {
	out := make([][2]int, len(xyz))
	for i, p := range xyz {
		u, v := SphericalToPixel(BearingToSpherical(p), shape)
		out[i] = [2]int{u, v}
	}
	return out
}

// ColumnTheta returns the azimuth assigned to column i of a W-wide encoding.
func ColumnTheta(i, width int) float64 {
	return 2*math.Pi*float64(i)/float64(width) - math.Pi
}

// PhiCoordsToBearings decodes one row of a phi_coords encoding into unit
// bearings, one per column, with theta taken at the column positions.
func PhiCoordsToBearings(phi []float64) []r3.Vector {
	w := len(phi)
	out := make([]r3.Vector, w)
	for i, p := range phi {
		out[i] = SphericalToBearing(Spherical{Theta: ColumnTheta(i, w), Phi: p})
	}
	return out
}

// PhiCoordsToUV converts both rows of an encoding into pixel coordinates.
func PhiCoordsToUV(pc PhiCoords, shape ImageShape) (ceiling, floor [][2]int) {
	w := pc.Width()
	ceiling = make([][2]int, w)
	floor = make([][2]int, w)
	for i := 0; i < w; i++ {
		theta := ColumnTheta(i, w)
		cu, cv := SphericalToPixel(Spherical{Theta: theta, Phi: pc.Ceiling[i]}, shape)
		fu, fv := SphericalToPixel(Spherical{Theta: theta, Phi: pc.Floor[i]}, shape)
		ceiling[i] = [2]int{cu, cv}
		floor[i] = [2]int{fu, fv}
	}
	return ceiling, floor
}

// BoundType selects which image boundary a set of labelled pixels describes.
type BoundType string

const (
	BoundFloor   BoundType = "floor"
	BoundCeiling BoundType = "ceiling"
)

// BoundaryUVToPhiCoords aggregates labelled boundary pixels into one phi per
// image column: the lowest pixel (max v) for the floor, the highest (min v)
// for the ceiling. A column without samples is a labelling gap and yields an
// ErrLabelGap error naming the first empty column.
func BoundaryUVToPhiCoords(uv [][2]int, shape ImageShape, bound BoundType) ([]float64, error) {
	if bound != BoundFloor && bound != BoundCeiling {
		return nil, fmt.Errorf("unknown bound type %q", bound)
	}

	best := make([]int, shape.Width)
	seen := make([]bool, shape.Width)
	for _, p := range uv {
		u, v := p[0], p[1]
		if u < 0 || u >= shape.Width {
			continue
		}
		if !seen[u] {
			best[u], seen[u] = v, true
			continue
		}
		if bound == BoundFloor && v > best[u] {
			best[u] = v
		}
		if bound == BoundCeiling && v < best[u] {
			best[u] = v
		}
	}

	phi := make([]float64, shape.Width)
	for u := range phi {
		if !seen[u] {
			return nil, fmt.Errorf("%w: no %s samples at column %d", ErrLabelGap, bound, u)
		}
		phi[u] = (float64(best[u])/float64(shape.Height) - 0.5) * math.Pi
	}
	return phi, nil
}
