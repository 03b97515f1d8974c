package layout

import (
	"fmt"
	"log"
	"math"

	"github.com/paulmach/orb"
)

// IoU holds the footprint (2D) and extruded-volume (3D) overlap of an
// estimated boundary with its ground truth.
type IoU struct {
	IoU2D float64 `json:"iou2d"`
	IoU3D float64 `json:"iou3d"`
}

// InvalidGroundTruth is returned when the ground-truth footprint is not a
// simple polygon and the frame cannot be scored.
var InvalidGroundTruth = IoU{IoU2D: -1, IoU3D: -1}

// Skipped reports whether the score is the invalid-ground-truth sentinel.
func (s IoU) Skipped() bool {
	return s == InvalidGroundTruth
}

// RoomProjection is one boundary projected on the floor plane at a given
// camera height.
type RoomProjection struct {
	Footprint orb.Ring // (x, z) per column, implicitly closed
	Height    float64  // floor to ceiling
}

// ProjectBoundary puts the floor boundary of pc on the plane y = cameraHeight
// and measures the room height. Each ceiling bearing is scaled so its Z
// matches the floor point of the same column; the height is the absolute
// difference between the mean ceiling y and the camera height.
func ProjectBoundary(pc PhiCoords, cameraHeight float64) RoomProjection {
	ceil := PhiCoordsToBearings(pc.Ceiling)
	floor := PhiCoordsToBearings(pc.Floor)

	ring := make(orb.Ring, len(floor))
	var sumY float64
	for i, b := range floor {
		p := b.Mul(cameraHeight / b.Y)
		ring[i] = orb.Point{p.X, p.Z}
		sumY += ceil[i].Mul(p.Z / ceil[i].Z).Y
	}
	return RoomProjection{
		Footprint: ring,
		Height:    math.Abs(sumY/float64(len(floor)) - cameraHeight),
	}
}

// Evaluate scores an estimated boundary against ground truth at the given
// camera height. Malformed encodings are returned as errors. A ground truth
// whose footprint is not a simple polygon yields InvalidGroundTruth; any
// failure on the estimate side yields a zero score.
func Evaluate(est, gt PhiCoords, cameraHeight float64) (IoU, error) {
	if err := gt.Validate(); err != nil {
		return IoU{}, fmt.Errorf("ground truth: %w", err)
	}
	if err := checkShape(est); err != nil {
		return IoU{}, fmt.Errorf("estimate: %w", err)
	}
	if !(cameraHeight > 0) {
		return IoU{}, fmt.Errorf("camera height %v: %w", cameraHeight, ErrInvalidScale)
	}

	return EvaluateFootprints(ProjectBoundary(est, cameraHeight), ProjectBoundary(gt, cameraHeight)), nil
}

// checkShape rejects an encoding whose rows are empty or of unequal width.
// Values are not range-checked: a wild estimate is scored, not rejected.
func checkShape(pc PhiCoords) error {
	if len(pc.Floor) == 0 || len(pc.Ceiling) != len(pc.Floor) {
		return fmt.Errorf("%w: rows of width %d and %d", ErrInvalidPhiCoords, len(pc.Ceiling), len(pc.Floor))
	}
	return nil
}

// EvaluateFootprints computes 2D and 3D IoU of two projected rooms.
func EvaluateFootprints(est, gt RoomProjection) IoU {
	if err := ValidateFootprint(gt.Footprint); err != nil {
		log.Printf("[EVAL] skip invalid ground truth: %v", err)
		return InvalidGroundTruth
	}
	if err := ValidateFootprint(est.Footprint); err != nil {
		return IoU{}
	}

	areaEst := ringArea(est.Footprint)
	areaGT := ringArea(gt.Footprint)
	inter, err := intersectionArea(est.Footprint, gt.Footprint)
	if err != nil {
		log.Printf("[EVAL] %v", err)
		return IoU{}
	}

	var score IoU
	if union := areaEst + areaGT - inter; union > 0 {
		score.IoU2D = clamp01(inter / union)
	}

	if finite(est.Height) && finite(gt.Height) {
		inter3D := inter * math.Min(est.Height, gt.Height)
		union3D := areaEst*est.Height + areaGT*gt.Height - inter3D
		if union3D > 0 {
			score.IoU3D = clamp01(inter3D / union3D)
		}
	}
	return score
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
