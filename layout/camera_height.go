package layout

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// PosedFrame is a frame that can produce a point cloud in world coordinates.
type PosedFrame interface {
	FrameID() string
	Pose() *CameraPose
	WorldPointCloud() (*PointCloud, error)
}

// GroundPlaneEstimator recovers the camera height above the floor from a set
// of posed RGB-D frames looking at the same floor.
type GroundPlaneEstimator struct {
	Config CameraHeightConfig
	RNG    *rand.Rand
}

// NewGroundPlaneEstimator returns an estimator drawing randomness from rng.
func NewGroundPlaneEstimator(cfg CameraHeightConfig, rng *rand.Rand) *GroundPlaneEstimator {
	return &GroundPlaneEstimator{Config: cfg, RNG: rng}
}

// CameraHeightSample is one successful RANSAC hypothesis.
type CameraHeightSample struct {
	ReferenceFrame string
	Height         float64
	Inliers        int
	CloudSize      int
}

// Estimate returns the median camera height over Config.Iterations
// successful hypotheses. Each hypothesis shuffles the frames, builds a cloud
// from the frames after the first, expresses it in the first frame's
// coordinates, keeps a floor slab under the camera and fits a plane to it.
// An empty slab is retried with a fresh shuffle and does not consume an
// iteration. The loop gives up after Config.MaxAttempts draws; if nothing
// succeeded the error wraps ErrInsufficientGeometry.
func (e *GroundPlaneEstimator) Estimate(frames []PosedFrame) (float64, error) {
	samples, err := e.Samples(frames)
	if err != nil {
		return 0, err
	}
	heights := make([]float64, len(samples))
	for i, s := range samples {
		heights[i] = s.Height
	}
	return median(heights), nil
}

// Samples runs the hypothesis loop and returns every successful sample.
func (e *GroundPlaneEstimator) Samples(frames []PosedFrame) ([]CameraHeightSample, error) {
	if err := e.Config.Validate(); err != nil {
		return nil, err
	}
	if len(frames) < 2 {
		return nil, fmt.Errorf("%w: %d frames, need at least 2", ErrInsufficientGeometry, len(frames))
	}

	order := append([]PosedFrame(nil), frames...)
	var samples []CameraHeightSample
	attempts := 0
	for len(samples) < e.Config.Iterations && attempts < e.Config.MaxAttempts {
		attempts++
		e.RNG.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		cloud, err := e.MaskedPointCloud(order)
		if err != nil {
			return nil, err
		}
		if cloud.Len() < 3 {
			log.Printf("[CAM-H] attempt %d: masked cloud around %s has %d points, resampling",
				attempts, order[0].FrameID(), cloud.Len())
			continue
		}

		plane, inliers, err := FitPlane(cloud.Points, e.Config.FitError, e.Config.PlaneIterations, e.RNG)
		if err != nil {
			log.Printf("[CAM-H] attempt %d: %v", attempts, err)
			continue
		}
		if e.Config.RefineInliers {
			in := make([]r3.Vector, len(inliers))
			for i, j := range inliers {
				in[i] = cloud.Points[j]
			}
			if refined, err := RefinePlane(in, plane.Normal); err == nil {
				plane = refined
			}
		}

		h := math.Abs(plane.D) + order[0].Pose().Translation().Y
		samples = append(samples, CameraHeightSample{
			ReferenceFrame: order[0].FrameID(),
			Height:         h,
			Inliers:        len(inliers),
			CloudSize:      cloud.Len(),
		})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no plane found in %d attempts", ErrInsufficientGeometry, attempts)
	}
	if len(samples) < e.Config.Iterations {
		log.Printf("[CAM-H] only %d of %d hypotheses succeeded in %d attempts",
			len(samples), e.Config.Iterations, attempts)
	}
	return samples, nil
}

// MaskedPointCloud builds the floor slab used for one hypothesis. frames[0]
// is the reference; up to FramesPerSample-1 following frames contribute
// points. The result is in the reference camera's coordinates, limited to
// a horizontal radius of XZRadius and to y > MinHeight (camera Y points
// down), then subsampled to MinSamples points.
func (e *GroundPlaneEstimator) MaskedPointCloud(frames []PosedFrame) (*PointCloud, error) {
	end := e.Config.FramesPerSample
	if end > len(frames) {
		end = len(frames)
	}

	cloud := &PointCloud{}
	for _, fr := range frames[1:end] {
		pc, err := fr.WorldPointCloud()
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", fr.FrameID(), err)
		}
		cloud.Append(pc)
	}

	var inv mat.Dense
	if err := inv.Inverse(frames[0].Pose().AsMatrixScaled()); err != nil {
		return nil, fmt.Errorf("frame %s: inverting pose: %w", frames[0].FrameID(), err)
	}
	TransformPoints(&inv, cloud.Points)

	radius, minHeight := e.Config.XZRadius, e.Config.MinHeight
	slab := cloud.Filter(func(p r3.Vector) bool {
		return normXZ(p) < radius && p.Y > minHeight
	})
	return slab.Subsample(e.Config.MinSamples, e.RNG), nil
}
