package layout

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Wall-plane distances used when connecting corners; only their sign and
// ratio matter.
const (
	ceilingPlaneZ = -50.0
	floorPlaneZ   = 50.0
)

// ReadCornerFile parses a corner label file: one "x y" pixel pair per line,
// alternating ceiling and floor corner of each wall edge.
func ReadCornerFile(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, missingFile(path, err)
	}
	defer f.Close()

	var corners [][2]float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s: malformed corner line %q", path, sc.Text())
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		corners = append(corners, [2]float64{x, y})
	}
	return corners, sc.Err()
}

// CornersToPhiCoords converts corner pixels into a (2, W) encoding. The
// corners come in (ceiling, floor) pairs, one pair per vertical wall edge,
// ordered around the room. Consecutive corners are joined along the
// great-circle image of the wall between them and every column is then
// interpolated periodically.
func CornersToPhiCoords(corners [][2]float64, shape ImageShape) (PhiCoords, error) {
	n := len(corners)
	if n < 4 || n%2 != 0 {
		return PhiCoords{}, fmt.Errorf("%w: %d corners, need an even number >= 4", ErrInvalidPhiCoords, n)
	}
	h, w := float64(shape.Height), float64(shape.Width)

	// put the pair with the smallest x first
	first := 0
	for i := 2; i < n; i += 2 {
		if corners[i][0] < corners[first][0] {
			first = i
		}
	}
	cor := make([][2]float64, n)
	for i := range cor {
		cor[i] = corners[(i+first)%n]
	}

	for i := 0; i < n; i += 2 {
		if math.Abs(cor[i][0]-cor[i+1][0]) > w/100 {
			return PhiCoords{}, fmt.Errorf("%w: occluded wall edge at corner %d", ErrInvalidPhiCoords, i/2)
		}
		if cor[i][1] > cor[i+1][1] {
			return PhiCoords{}, fmt.Errorf("%w: ceiling corner %d below floor corner", ErrInvalidPhiCoords, i/2)
		}
	}

	var ceilX, ceilY, floorX, floorY []float64
	for i := 0; i < n/2; i++ {
		xs, ys := connectCorners(cor[2*i], cor[(2*i+2)%n], ceilingPlaneZ, w, h)
		ceilX, ceilY = append(ceilX, xs...), append(ceilY, ys...)
	}
	for i := 0; i < n/2; i++ {
		xs, ys := connectCorners(cor[2*i+1], cor[(2*i+3)%n], floorPlaneZ, w, h)
		floorX, floorY = append(floorX, xs...), append(floorY, ys...)
	}

	ceilX, ceilY = sortUniqueByX(ceilX, ceilY, true)
	floorX, floorY = sortUniqueByX(floorX, floorY, false)

	pc := PhiCoords{
		Ceiling: make([]float64, shape.Width),
		Floor:   make([]float64, shape.Width),
	}
	for col := 0; col < shape.Width; col++ {
		c := interpPeriodic(float64(col), ceilX, ceilY, w)
		f := interpPeriodic(float64(col), floorX, floorY, w)
		pc.Ceiling[col] = ((c+0.5)/h - 0.5) * math.Pi
		pc.Floor[col] = ((f+0.5)/h - 0.5) * math.Pi
	}
	return pc, pc.Validate()
}

func coorxToU(x, w float64) float64 { return ((x+0.5)/w - 0.5) * 2 * math.Pi }
func cooryToV(y, h float64) float64 { return ((y+0.5)/h - 0.5) * math.Pi }
func vToCoory(v, h float64) float64 { return (v/math.Pi+0.5)*h - 0.5 }

// uvToPlane intersects the ray (u, v) with the horizontal plane at z.
func uvToPlane(u, v, z float64) (float64, float64) {
	c := z / math.Tan(v)
	return c * math.Cos(u), c * math.Sin(u)
}

// connectCorners samples, at every integer column between p1 and p2, the
// image row of the straight wall edge joining them on the plane at z.
func connectCorners(p1, p2 [2]float64, z, w, h float64) ([]float64, []float64) {
	if p1[0] == p2[0] {
		return []float64{p1[0], p2[0]}, []float64{p1[1], p2[1]}
	}
	x1, y1 := uvToPlane(coorxToU(p1[0], w), cooryToV(p1[1], h), z)
	x2, y2 := uvToPlane(coorxToU(p2[0], w), cooryToV(p2[1], h), z)

	var start, end float64
	if math.Abs(p1[0]-p2[0]) < w/2 {
		start = math.Ceil(math.Min(p1[0], p2[0]))
		end = math.Floor(math.Max(p1[0], p2[0]))
	} else {
		start = math.Ceil(math.Max(p1[0], p2[0]))
		end = math.Floor(math.Min(p1[0], p2[0]) + w)
	}

	vx, vy := x2-x1, y2-y1
	var xs, ys []float64
	for c := start; c <= end; c++ {
		col := math.Mod(c, w)
		tu := math.Tan(coorxToU(col, w))
		p := (tu*x1 - y1) / (vy - tu*vx)
		dist := math.Hypot(x1+p*vx, y1+p*vy)
		xs = append(xs, col)
		ys = append(ys, vToCoory(math.Atan2(z, dist), h))
	}
	return xs, ys
}

// sortUniqueByX orders samples by column and keeps one row per column: the
// smallest row when smallFirst is set, the largest otherwise.
func sortUniqueByX(xs, ys []float64, smallFirst bool) ([]float64, []float64) {
	ymax := 0.0
	for _, y := range ys {
		ymax = math.Max(ymax, y)
	}
	if ymax == 0 {
		ymax = 1
	}
	dir := -1.0
	if smallFirst {
		dir = 1
	}

	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka := xs[idx[a]] + ys[idx[a]]/ymax*dir
		kb := xs[idx[b]] + ys[idx[b]]/ymax*dir
		return ka < kb
	})

	seen := make(map[float64]bool, len(xs))
	var ox, oy []float64
	for _, i := range idx {
		if seen[xs[i]] {
			continue
		}
		seen[xs[i]] = true
		ox = append(ox, xs[i])
		oy = append(oy, ys[i])
	}

	order := make([]int, len(ox))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ox[order[a]] < ox[order[b]] })
	sx, sy := make([]float64, len(ox)), make([]float64, len(oy))
	for i, j := range order {
		sx[i], sy[i] = ox[j], oy[j]
	}
	return sx, sy
}

// interpPeriodic linearly interpolates (xp, fp) at x with period p. xp must
// be sorted and lie in [0, p).
func interpPeriodic(x float64, xp, fp []float64, p float64) float64 {
	n := len(xp)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return fp[0]
	}
	x = math.Mod(x, p)
	if x < 0 {
		x += p
	}

	i := sort.SearchFloat64s(xp, x)
	var x0, x1, f0, f1 float64
	switch {
	case i < n && xp[i] == x:
		return fp[i]
	case i == 0:
		x0, f0 = xp[n-1]-p, fp[n-1]
		x1, f1 = xp[0], fp[0]
	case i == n:
		x0, f0 = xp[n-1], fp[n-1]
		x1, f1 = xp[0]+p, fp[0]
	default:
		x0, f0 = xp[i-1], fp[i-1]
		x1, f1 = xp[i], fp[i]
	}
	return f0 + (x-x0)*(f1-f0)/(x1-x0)
}
