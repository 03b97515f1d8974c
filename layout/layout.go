package layout

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// minBearingY is the smallest |y| a floor bearing may have before its
// column is flagged as pointing at the horizon.
const minBearingY = 1e-9

// Layout is the room boundary seen from one panorama frame.
type Layout struct {
	ID        string // scene_room_frame key
	RoomID    string
	ImagePath string

	Pose         *CameraPose
	CameraHeight float64
	// CeilingHeight, when set, overrides the vertical-wall rule used to
	// place the ceiling boundary.
	CeilingHeight *float64

	PhiCoords PhiCoords
	Frame     ReferenceFrame

	// Derived by RecomputeData.
	BoundaryFloor   []r3.Vector
	BoundaryCeiling []r3.Vector
	CamToBoundary   []float64
	InvalidColumns  []int

	BoundScale  float64
	BoundCenter r3.Vector
}

// NewLayout returns a camera-frame layout with unit normalisation state.
func NewLayout(id, roomID string, pose *CameraPose, cameraHeight float64) *Layout {
	if pose == nil {
		pose = IdentityPose(id)
	}
	return &Layout{
		ID:           id,
		RoomID:       roomID,
		Pose:         pose,
		CameraHeight: cameraHeight,
		Frame:        FrameCamera,
		BoundScale:   1,
	}
}

// SetPhiCoords validates and stores a new encoding, then rebuilds the
// boundaries.
func (ly *Layout) SetPhiCoords(pc PhiCoords) error {
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("layout %s: %w", ly.ID, err)
	}
	ly.PhiCoords = pc
	return ly.RecomputeData()
}

// floorScale returns camera_height / by, clamping near-horizon bearings.
func (ly *Layout) floorScale(by float64) (float64, bool) {
	if math.Abs(by) < minBearingY {
		if by < 0 {
			return ly.CameraHeight / -minBearingY, false
		}
		return ly.CameraHeight / minBearingY, false
	}
	return ly.CameraHeight / by, true
}

// RecomputeData rebuilds the floor and ceiling boundaries in world
// coordinates from PhiCoords, CameraHeight, CeilingHeight and Pose.
//
// Camera Y points down, so floor points land at y = +CameraHeight in the
// camera frame and ceiling points at negative y.
func (ly *Layout) RecomputeData() error {
	if err := ly.PhiCoords.Validate(); err != nil {
		return fmt.Errorf("layout %s: %w", ly.ID, err)
	}
	if ly.Pose == nil {
		return fmt.Errorf("layout %s: %w: no pose", ly.ID, ErrMissingData)
	}

	bearingsCeil := PhiCoordsToBearings(ly.PhiCoords.Ceiling)
	bearingsFloor := PhiCoordsToBearings(ly.PhiCoords.Floor)

	w := len(bearingsFloor)
	floor := make([]r3.Vector, w)
	ceiling := make([]r3.Vector, w)
	ly.InvalidColumns = ly.InvalidColumns[:0]

	for i, b := range bearingsFloor {
		s, ok := ly.floorScale(b.Y)
		if !ok {
			ly.InvalidColumns = append(ly.InvalidColumns, i)
		}
		floor[i] = b.Mul(s)
	}

	for i, b := range bearingsCeil {
		var s float64
		if ly.CeilingHeight == nil {
			s = normXZ(floor[i]) / normXZ(b)
		} else {
			s = (ly.CameraHeight - *ly.CeilingHeight) / b.Y
		}
		ceiling[i] = b.Mul(s)
	}

	for i := range floor {
		floor[i] = ly.Pose.Transform(floor[i])
		ceiling[i] = ly.Pose.Transform(ceiling[i])
	}

	ly.BoundaryFloor = floor
	ly.BoundaryCeiling = ceiling
	ly.Frame = FrameWorld
	ly.BoundScale, ly.BoundCenter = 1, r3.Vector{}
	ly.ComputeCamToBoundary()
	return nil
}

// ComputeCamToBoundary fills CamToBoundary with the horizontal distance from
// the camera to every floor point.
func (ly *Layout) ComputeCamToBoundary() {
	d := make([]float64, len(ly.BoundaryFloor))
	for i, p := range ly.BoundaryFloor {
		if ly.Frame == FrameWorld {
			p = ly.Pose.InverseTransform(ly.denormalize(p))
		}
		d[i] = normXZ(p)
	}
	ly.CamToBoundary = d
}

// Normalized reports whether NormalizeBoundaries has been applied since the
// last RecomputeData.
func (ly *Layout) Normalized() bool {
	scaled := ly.BoundScale > 0 && ly.BoundScale != 1
	return scaled || ly.BoundCenter != (r3.Vector{})
}

// denormalize maps a normalized boundary point back to metres.
func (ly *Layout) denormalize(p r3.Vector) r3.Vector {
	if !(ly.BoundScale > 0) {
		return p
	}
	return p.Mul(ly.BoundScale).Add(ly.BoundCenter)
}

func (ly *Layout) checkNotNormalized() error {
	if ly.Normalized() {
		return fmt.Errorf("layout %s: %w: boundaries are normalized", ly.ID, ErrInvalidReferenceFrame)
	}
	return nil
}

// MaxCamToBoundary is the largest horizontal camera-to-boundary distance.
func (ly *Layout) MaxCamToBoundary() float64 {
	m := math.Inf(-1)
	for _, d := range ly.CamToBoundary {
		if d > m {
			m = d
		}
	}
	return m
}

// ApplyVOScale rescales the translation part of already computed boundaries
// to a new visual-odometry scale without a full recompute. A layout in
// FrameWorldRotationOnly ends in FrameWorld.
func (ly *Layout) ApplyVOScale(scale float64) error {
	if !(scale > 0) {
		return fmt.Errorf("layout %s: vo scale %v: %w", ly.ID, scale, ErrInvalidScale)
	}
	if err := ly.checkNotNormalized(); err != nil {
		return err
	}

	t := ly.Pose.Translation()
	vo := ly.Pose.VOScale()
	switch ly.Frame {
	case FrameWorldRotationOnly:
		ly.shift(t.Mul(scale / vo))
		ly.Frame = FrameWorld
	case FrameWorld:
		ly.shift(t.Mul((scale - vo) / vo))
	}
	return ly.Pose.SetVOScale(scale)
}

// TransformToWorldRotationOnly removes the scaled camera translation from
// world boundaries.
func (ly *Layout) TransformToWorldRotationOnly() error {
	if err := ly.checkNotNormalized(); err != nil {
		return err
	}
	if ly.Frame != FrameWorld {
		return fmt.Errorf("layout %s: %w: expected %s, have %s",
			ly.ID, ErrInvalidReferenceFrame, FrameWorld, ly.Frame)
	}
	ly.shift(ly.Pose.Translation().Mul(-1))
	ly.Frame = FrameWorldRotationOnly
	return nil
}

// TransformToWorld adds the scaled camera translation back.
func (ly *Layout) TransformToWorld() error {
	if err := ly.checkNotNormalized(); err != nil {
		return err
	}
	if ly.Frame != FrameWorldRotationOnly {
		return fmt.Errorf("layout %s: %w: expected %s, have %s",
			ly.ID, ErrInvalidReferenceFrame, FrameWorldRotationOnly, ly.Frame)
	}
	ly.shift(ly.Pose.Translation())
	ly.Frame = FrameWorld
	return nil
}

func (ly *Layout) shift(d r3.Vector) {
	for i := range ly.BoundaryFloor {
		ly.BoundaryFloor[i] = ly.BoundaryFloor[i].Add(d)
	}
	for i := range ly.BoundaryCeiling {
		ly.BoundaryCeiling[i] = ly.BoundaryCeiling[i].Add(d)
	}
}

// NormalizeBoundaries re-centres and rescales both boundaries:
// b = (b - center) / scale. BoundScale and BoundCenter accumulate so that
// b*BoundScale + BoundCenter is always the boundary point in metres.
func (ly *Layout) NormalizeBoundaries(scale float64, center r3.Vector) error {
	if !(scale > 0) {
		return fmt.Errorf("layout %s: normalize scale %v: %w", ly.ID, scale, ErrInvalidScale)
	}
	if !(ly.BoundScale > 0) {
		ly.BoundScale = 1
	}
	ly.BoundCenter = center.Mul(ly.BoundScale).Add(ly.BoundCenter)
	ly.BoundScale *= scale
	for i := range ly.BoundaryFloor {
		ly.BoundaryFloor[i] = ly.BoundaryFloor[i].Sub(center).Mul(1 / scale)
	}
	for i := range ly.BoundaryCeiling {
		ly.BoundaryCeiling[i] = ly.BoundaryCeiling[i].Sub(center).Mul(1 / scale)
	}
	return nil
}

// EstimateHeightRatio returns mean(tan|ceiling| / tan|floor|) over all
// columns with both angles clamped to [5°, 80°]. It approximates the ratio
// of camera-to-ceiling over camera-to-floor distance.
func (ly *Layout) EstimateHeightRatio() float64 {
	lo, hi := 5*math.Pi/180, 80*math.Pi/180
	clamp := func(v float64) float64 {
		return math.Min(math.Max(math.Abs(v), lo), hi)
	}
	var sum float64
	for i := range ly.PhiCoords.Floor {
		sum += math.Tan(clamp(ly.PhiCoords.Ceiling[i])) / math.Tan(clamp(ly.PhiCoords.Floor[i]))
	}
	return sum / float64(ly.PhiCoords.Width())
}

// FloorFootprint returns the floor boundary projected on the XZ plane.
func (ly *Layout) FloorFootprint() orb.Ring {
	return footprint(ly.BoundaryFloor)
}

func footprint(pts []r3.Vector) orb.Ring {
	ring := make(orb.Ring, len(pts))
	for i, p := range pts {
		ring[i] = orb.Point{p.X, p.Z}
	}
	return ring
}

func normXZ(p r3.Vector) float64 {
	return math.Hypot(p.X, p.Z)
}
