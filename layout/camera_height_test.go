package layout

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
)

// ---------------------------------------------------------------------------
// synthetic scenes
// ---------------------------------------------------------------------------

// floorDepthMap renders the range image of an infinite floor at world
// y = floorY seen from a camera at height camY, with Gaussian range noise.
// Pixels that do not see the floor are left invalid.
func floorDepthMap(shape ImageShape, floorY, camY, noise float64, rng *rand.Rand) *DepthMap {
	d := NewDepthMap(shape.Width, shape.Height)
	for v := 0; v < shape.Height; v++ {
		for u := 0; u < shape.Width; u++ {
			b := SphericalToBearing(PixelToSpherical(UV{U: float64(u), V: float64(v)}, shape))
			if b.Y < 0.2 {
				continue
			}
			d.Set(u, v, (floorY-camY)/b.Y+noise*rng.NormFloat64())
		}
	}
	return d
}

func floorFrames(t *testing.T, n int, floorY, camY float64, rng *rand.Rand) []*RGBDFrame {
	t.Helper()
	shape := ImageShape{Height: 32, Width: 64}
	frames := make([]*RGBDFrame, n)
	for i := range frames {
		tr := r3.Vector{X: 0.15 * float64(i%3), Y: camY, Z: 0.1 * float64(i)}
		pose, err := NewCameraPose("", rotationY(0.3*float64(i)), tr)
		if err != nil {
			t.Fatal(err)
		}
		frames[i] = NewRGBDFrame(i, pose, floorDepthMap(shape, floorY, camY, 0.003, rng), nil)
	}
	return frames
}

func posed(frames []*RGBDFrame) []PosedFrame {
	out := make([]PosedFrame, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	return out
}

func testEstimatorConfig() CameraHeightConfig {
	cfg := DefaultCameraHeightConfig()
	cfg.PlaneIterations = 200
	cfg.RefineInliers = true
	return cfg
}

// ---------------------------------------------------------------------------
// plane fitting
// ---------------------------------------------------------------------------

func TestFitPlane_RecoversFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var pts []r3.Vector
	for i := 0; i < 300; i++ {
		pts = append(pts, r3.Vector{X: rng.Float64()*2 - 1, Y: 1.3 + 0.002*rng.NormFloat64(), Z: rng.Float64()*2 - 1})
	}
	for i := 0; i < 60; i++ {
		pts = append(pts, r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()})
	}

	plane, inliers, err := FitPlane(pts, 0.01, 200, rng)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(plane.Normal.Y) < 0.99 {
		t.Errorf("normal = %v, want close to ±Y", plane.Normal)
	}
	if !approxEqual(math.Abs(plane.D), 1.3, 0.01) {
		t.Errorf("|D| = %v, want 1.3", math.Abs(plane.D))
	}
	if len(inliers) < 290 {
		t.Errorf("inliers = %d, want nearly all 300 floor points", len(inliers))
	}

	refined, err := RefinePlane(pts[:300], plane.Normal)
	if err != nil {
		t.Fatal(err)
	}
	if refined.Normal.Dot(plane.Normal) < 0 {
		t.Error("refined normal flipped against the hint")
	}
	if !approxEqual(math.Abs(refined.D), 1.3, 0.002) {
		t.Errorf("refined |D| = %v, want 1.3", math.Abs(refined.D))
	}
}

func TestFitPlane_TooFewPoints(t *testing.T) {
	_, _, err := FitPlane([]r3.Vector{{}, {X: 1}}, 0.01, 10, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrInsufficientGeometry) {
		t.Errorf("err = %v, want ErrInsufficientGeometry", err)
	}
	// all collinear: no plane can be formed
	line := []r3.Vector{{}, {X: 1}, {X: 2}, {X: 3}}
	_, _, err = FitPlane(line, 0.01, 10, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrInsufficientGeometry) {
		t.Errorf("collinear err = %v, want ErrInsufficientGeometry", err)
	}
}

func TestSampleThree_Distinct(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a, b, c := sampleThree(3+i%5, rng)
		if a == b || b == c || a == c {
			t.Fatalf("sampleThree returned duplicates %d %d %d", a, b, c)
		}
		if n := 3 + i%5; a >= n || b >= n || c >= n {
			t.Fatalf("index out of range for n=%d: %d %d %d", n, a, b, c)
		}
	}
}

// ---------------------------------------------------------------------------
// point clouds
// ---------------------------------------------------------------------------

func TestBackProject(t *testing.T) {
	shape := ImageShape{Height: 4, Width: 8}
	cam := NewSphericalCamera(shape)
	depth := NewDepthMap(8, 4)
	depth.Set(4, 2, 2) // straight ahead
	depth.Set(1, 3, math.Inf(1))
	depth.Set(2, 3, -1)

	rgb := image.NewRGBA(image.Rect(10, 10, 18, 14))
	rgb.Set(14, 12, color.RGBA{R: 200, A: 255})

	pc := cam.BackProject(depth, rgb)
	if pc.Len() != 1 {
		t.Fatalf("BackProject kept %d points, want 1", pc.Len())
	}
	if !vecApproxEqual(pc.Points[0], r3.Vector{Z: 2}, 1e-12) {
		t.Errorf("point = %v, want (0,0,2)", pc.Points[0])
	}
	if pc.Colors[0].R != 200 {
		t.Errorf("color = %v, want red from the offset image", pc.Colors[0])
	}
}

func TestPointCloud_FilterSubsample(t *testing.T) {
	pc := &PointCloud{}
	for i := 0; i < 10; i++ {
		pc.Points = append(pc.Points, r3.Vector{X: float64(i)})
		pc.Colors = append(pc.Colors, color.RGBA{R: uint8(i)})
	}
	even := pc.Filter(func(p r3.Vector) bool { return int(p.X)%2 == 0 })
	if even.Len() != 5 || even.Colors[2].R != 4 {
		t.Errorf("Filter kept %v", even.Points)
	}

	sub := pc.Subsample(4, rand.New(rand.NewSource(3)))
	if sub.Len() != 4 || len(sub.Colors) != 4 {
		t.Fatalf("Subsample size = %d/%d, want 4", sub.Len(), len(sub.Colors))
	}
	for i, p := range sub.Points {
		if uint8(p.X) != sub.Colors[i].R {
			t.Errorf("point %v lost its color %v", p, sub.Colors[i])
		}
	}
	if all := pc.Subsample(100, rand.New(rand.NewSource(3))); all.Len() != 10 {
		t.Errorf("oversized Subsample = %d points, want 10", all.Len())
	}

	var merged PointCloud
	merged.Append(pc)
	merged.Append(even)
	if merged.Len() != 15 || len(merged.Colors) != 15 {
		t.Errorf("Append = %d points, %d colors", merged.Len(), len(merged.Colors))
	}
}

// ---------------------------------------------------------------------------
// estimator
// ---------------------------------------------------------------------------

func TestGroundPlaneEstimator_SyntheticFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	frames := floorFrames(t, 6, 1.2, 0, rng)

	est := NewGroundPlaneEstimator(testEstimatorConfig(), rng)
	h, err := est.Estimate(posed(frames))
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(h, 1.2, 0.02) {
		t.Errorf("camera height = %v, want 1.2", h)
	}
}

func TestGroundPlaneEstimator_ReportsFloorLevel(t *testing.T) {
	// cameras 0.1 m below the world origin: the estimate is the floor's
	// world y, not the distance to each camera
	rng := rand.New(rand.NewSource(5))
	frames := floorFrames(t, 6, 1.2, 0.1, rng)

	est := NewGroundPlaneEstimator(testEstimatorConfig(), rng)
	samples, err := est.Samples(posed(frames))
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != est.Config.Iterations {
		t.Errorf("samples = %d, want %d", len(samples), est.Config.Iterations)
	}
	for _, s := range samples {
		if !approxEqual(s.Height, 1.2, 0.02) {
			t.Errorf("sample around frame %s = %v, want 1.2", s.ReferenceFrame, s.Height)
		}
		if s.Inliers < 3 || s.CloudSize > est.Config.MinSamples {
			t.Errorf("sample %+v", s)
		}
	}
}

func TestGroundPlaneEstimator_MaskedCloudInReferenceFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	frames := floorFrames(t, 4, 1.2, 0, rng)
	cfg := testEstimatorConfig()
	cfg.MinSamples = 100000

	cloud, err := NewGroundPlaneEstimator(cfg, rng).MaskedPointCloud(posed(frames))
	if err != nil {
		t.Fatal(err)
	}
	if cloud.Len() == 0 {
		t.Fatal("masked cloud is empty")
	}
	for _, p := range cloud.Points {
		if normXZ(p) >= cfg.XZRadius || p.Y <= cfg.MinHeight {
			t.Fatalf("point %v escaped the mask", p)
		}
		if !approxEqual(p.Y, 1.2, 0.05) {
			t.Fatalf("point %v is not on the floor", p)
		}
	}
}

func TestGroundPlaneEstimator_NoFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// a floor 0.5 m down never passes the 0.8 m height mask
	frames := floorFrames(t, 4, 0.5, 0, rng)

	cfg := testEstimatorConfig()
	cfg.MaxAttempts = cfg.Iterations
	_, err := NewGroundPlaneEstimator(cfg, rng).Estimate(posed(frames))
	if !errors.Is(err, ErrInsufficientGeometry) {
		t.Errorf("err = %v, want ErrInsufficientGeometry", err)
	}

	if _, err := NewGroundPlaneEstimator(cfg, rng).Estimate(posed(frames[:1])); !errors.Is(err, ErrInsufficientGeometry) {
		t.Errorf("single frame err = %v, want ErrInsufficientGeometry", err)
	}
}

func TestGroundPlaneEstimator_InvalidConfig(t *testing.T) {
	cfg := testEstimatorConfig()
	cfg.MinSamples = 2
	_, err := NewGroundPlaneEstimator(cfg, rand.New(rand.NewSource(1))).Estimate(nil)
	if err == nil {
		t.Error("expected a config error")
	}
}

// ---------------------------------------------------------------------------
// per-room pipeline
// ---------------------------------------------------------------------------

func TestEstimateRoomCameraHeights(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	frames := floorFrames(t, 6, 1.2, 0.1, rng)
	scene := &RGBDScene{Name: "scene", Frames: frames}

	rooms := &SceneList{
		Rooms: []string{"scene_room0", "scene_room1"},
		Frames: map[string][]string{
			"scene_room0": {"scene_room0_0", "scene_room0_1", "scene_room0_2", "scene_room0_3", "scene_room0_4", "scene_room0_5"},
			"scene_room1": {"scene_room1_0", "scene_room1_1"}, // too small
		},
	}

	heights, err := EstimateRoomCameraHeights(scene, rooms, testEstimatorConfig(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(heights) != 1 || heights[0].RoomID != "scene_room0" || heights[0].Frames != 6 {
		t.Fatalf("heights = %+v", heights)
	}
	if !approxEqual(heights[0].FloorLevel, 1.2, 0.02) {
		t.Errorf("floor level = %v, want 1.2", heights[0].FloorLevel)
	}

	records, err := GeometryInfoRecords(scene, rooms, heights)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Fatalf("records = %d, want 6", len(records))
	}
	rec, ok := records["scene_room0_2"]
	if !ok {
		t.Fatalf("missing scene_room0_2 in %v", records)
	}
	if !approxEqual(rec.CameraHeight, 1.1, 0.02) {
		t.Errorf("cam_h = %v, want 1.1", rec.CameraHeight)
	}
	if rec.Translation[1] != 0.1 {
		t.Errorf("translation = %v", rec.Translation)
	}
}

func TestNewRand_Streams(t *testing.T) {
	a := NewRand(10, 1).Int63()
	b := NewRand(10, 1).Int63()
	c := NewRand(10, 2).Int63()
	if a != b {
		t.Error("same seed and stream must repeat")
	}
	if a == c {
		t.Error("different streams should differ")
	}
}
