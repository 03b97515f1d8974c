package layout

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// PointCloud is a set of 3D points with an optional color per point.
type PointCloud struct {
	Points []r3.Vector
	Colors []color.RGBA // empty or len(Points)
}

// Len is the number of points.
func (pc *PointCloud) Len() int { return len(pc.Points) }

// Append adds every point of other.
func (pc *PointCloud) Append(other *PointCloud) {
	pc.Points = append(pc.Points, other.Points...)
	if len(other.Colors) == len(other.Points) && len(pc.Colors) == len(pc.Points)-len(other.Points) {
		pc.Colors = append(pc.Colors, other.Colors...)
	}
}

// hasColors reports whether every point carries a color.
func (pc *PointCloud) hasColors() bool {
	return len(pc.Colors) > 0 && len(pc.Colors) == len(pc.Points)
}

// Filter keeps the points for which keep returns true.
func (pc *PointCloud) Filter(keep func(p r3.Vector) bool) *PointCloud {
	out := &PointCloud{}
	colored := pc.hasColors()
	for i, p := range pc.Points {
		if !keep(p) {
			continue
		}
		out.Points = append(out.Points, p)
		if colored {
			out.Colors = append(out.Colors, pc.Colors[i])
		}
	}
	return out
}

// Subsample returns at most n points chosen uniformly without replacement.
func (pc *PointCloud) Subsample(n int, rng *rand.Rand) *PointCloud {
	idx := rng.Perm(pc.Len())
	if n < len(idx) {
		idx = idx[:n]
	}
	out := &PointCloud{Points: make([]r3.Vector, len(idx))}
	colored := pc.hasColors()
	if colored {
		out.Colors = make([]color.RGBA, len(idx))
	}
	for i, j := range idx {
		out.Points[i] = pc.Points[j]
		if colored {
			out.Colors[i] = pc.Colors[j]
		}
	}
	return out
}

// DepthMap is a dense range image in metres, row-major.
type DepthMap struct {
	Width  int
	Height int
	Data   []float64
}

// NewDepthMap allocates a zero (invalid everywhere) depth map.
func NewDepthMap(width, height int) *DepthMap {
	return &DepthMap{Width: width, Height: height, Data: make([]float64, width*height)}
}

// At returns the range at column u, row v.
func (d *DepthMap) At(u, v int) float64 { return d.Data[v*d.Width+u] }

// Set stores the range at column u, row v.
func (d *DepthMap) Set(u, v int, r float64) { d.Data[v*d.Width+u] = r }

// SphericalCamera back-projects equirectangular range images. The bearing of
// every pixel is computed once.
type SphericalCamera struct {
	Shape    ImageShape
	bearings []r3.Vector
}

// NewSphericalCamera precomputes the bearing grid for shape.
func NewSphericalCamera(shape ImageShape) *SphericalCamera {
	b := make([]r3.Vector, 0, shape.Width*shape.Height)
	for v := 0; v < shape.Height; v++ {
		for u := 0; u < shape.Width; u++ {
			sph := PixelToSpherical(UV{U: float64(u), V: float64(v)}, shape)
			b = append(b, SphericalToBearing(sph))
		}
	}
	return &SphericalCamera{Shape: shape, bearings: b}
}

// BackProject turns a range image into a camera-frame point cloud. Pixels
// with a non-positive or non-finite range are skipped. rgb may be nil.
func (c *SphericalCamera) BackProject(depth *DepthMap, rgb image.Image) *PointCloud {
	pc := &PointCloud{}
	var origin image.Point
	if rgb != nil {
		origin = rgb.Bounds().Min
	}
	for v := 0; v < c.Shape.Height && v < depth.Height; v++ {
		for u := 0; u < c.Shape.Width && u < depth.Width; u++ {
			r := depth.At(u, v)
			if !(r > 0) || math.IsInf(r, 0) {
				continue
			}
			pc.Points = append(pc.Points, c.bearings[v*c.Shape.Width+u].Mul(r))
			if rgb != nil {
				pc.Colors = append(pc.Colors, color.RGBAModel.Convert(rgb.At(origin.X+u, origin.Y+v)).(color.RGBA))
			}
		}
	}
	return pc
}
