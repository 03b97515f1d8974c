package layout

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// rotationTolerance bounds ||I - RᵀR||_F for a matrix to count as a rotation.
const rotationTolerance = 1e-6

// Rotation is a row-major 3x3 rotation matrix.
type Rotation [3][3]float64

// IdentityRotation returns the identity rotation.
func IdentityRotation() Rotation {
	return Rotation{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply rotates p.
func (r Rotation) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}

// ApplyTransposed rotates p by the inverse rotation.
func (r Rotation) ApplyTransposed(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*p.X + r[1][0]*p.Y + r[2][0]*p.Z,
		Y: r[0][1]*p.X + r[1][1]*p.Y + r[2][1]*p.Z,
		Z: r[0][2]*p.X + r[1][2]*p.Y + r[2][2]*p.Z,
	}
}

func (r Rotation) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
}

// Validate reports ErrInvalidRotation unless r is orthonormal with det +1.
func (r Rotation) Validate() error {
	for i := range r {
		for j := range r[i] {
			if math.IsNaN(r[i][j]) || math.IsInf(r[i][j], 0) {
				return fmt.Errorf("%w: non-finite entry at (%d,%d)", ErrInvalidRotation, i, j)
			}
		}
	}

	rm := r.dense()
	var rtr mat.Dense
	rtr.Mul(rm.T(), rm)
	var diff mat.Dense
	diff.Sub(mat.NewDiagDense(3, []float64{1, 1, 1}), &rtr)
	if n := mat.Norm(&diff, 2); n >= rotationTolerance {
		return fmt.Errorf("%w: ||I - RᵀR|| = %g", ErrInvalidRotation, n)
	}
	if det := mat.Det(rm); det < 0 {
		return fmt.Errorf("%w: determinant %g (reflection)", ErrInvalidRotation, det)
	}
	return nil
}

// RotationFromQuaternion converts a quaternion given in (x, y, z, w) order.
// The quaternion is normalised first.
func RotationFromQuaternion(x, y, z, w float64) (Rotation, error) {
	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Rotation{}, fmt.Errorf("%w: quaternion norm %v", ErrInvalidRotation, n)
	}
	q = quat.Scale(1/n, q)
	qw, qx, qy, qz := q.Real, q.Imag, q.Jmag, q.Kmag

	return Rotation{
		{1 - 2*(qy*qy+qz*qz), 2 * (qx*qy - qz*qw), 2 * (qx*qz + qy*qw)},
		{2 * (qx*qy + qz*qw), 1 - 2*(qx*qx+qz*qz), 2 * (qy*qz - qx*qw)},
		{2 * (qx*qz - qy*qw), 2 * (qy*qz + qx*qw), 1 - 2*(qx*qx+qy*qy)},
	}, nil
}

// Quaternion returns the rotation as a unit quaternion in (x, y, z, w)
// order with a non-negative w.
func (r Rotation) Quaternion() [4]float64 {
	var q quat.Number
	tr := r[0][0] + r[1][1] + r[2][2]
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{
			Real: s / 4,
			Imag: (r[2][1] - r[1][2]) / s,
			Jmag: (r[0][2] - r[2][0]) / s,
			Kmag: (r[1][0] - r[0][1]) / s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = quat.Number{
			Real: (r[2][1] - r[1][2]) / s,
			Imag: s / 4,
			Jmag: (r[0][1] + r[1][0]) / s,
			Kmag: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = quat.Number{
			Real: (r[0][2] - r[2][0]) / s,
			Imag: (r[0][1] + r[1][0]) / s,
			Jmag: s / 4,
			Kmag: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = quat.Number{
			Real: (r[1][0] - r[0][1]) / s,
			Imag: (r[0][2] + r[2][0]) / s,
			Jmag: (r[1][2] + r[2][1]) / s,
			Kmag: s / 4,
		}
	}
	q = quat.Scale(1/quat.Abs(q), q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// CameraPose is a rigid camera-to-world transform with two independent
// corrections applied to the translation: a visual-odometry scale and a
// ground-truth scale. The composed 4x4 matrix is derived on every call and
// never stored, so the components cannot disagree with it.
type CameraPose struct {
	FrameID string

	rotation    Rotation
	translation r3.Vector
	voScale     float64
	gtScale     float64
}

// NewCameraPose validates rot and returns a pose with unit scales.
func NewCameraPose(frameID string, rot Rotation, t r3.Vector) (*CameraPose, error) {
	if err := rot.Validate(); err != nil {
		return nil, fmt.Errorf("pose %s: %w", frameID, err)
	}
	return &CameraPose{
		FrameID:     frameID,
		rotation:    rot,
		translation: t,
		voScale:     1,
		gtScale:     1,
	}, nil
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose(frameID string) *CameraPose {
	return &CameraPose{FrameID: frameID, rotation: IdentityRotation(), voScale: 1, gtScale: 1}
}

// PoseFromQuaternion builds a pose from geometry metadata: a translation and
// a quaternion in (x, y, z, w) order.
func PoseFromQuaternion(frameID string, t r3.Vector, q [4]float64) (*CameraPose, error) {
	rot, err := RotationFromQuaternion(q[0], q[1], q[2], q[3])
	if err != nil {
		return nil, fmt.Errorf("pose %s: %w", frameID, err)
	}
	return NewCameraPose(frameID, rot, t)
}

// Rotation returns the rotation block.
func (p *CameraPose) Rotation() Rotation { return p.rotation }

// SetRotation replaces the rotation block after validating it.
func (p *CameraPose) SetRotation(rot Rotation) error {
	if err := rot.Validate(); err != nil {
		return fmt.Errorf("pose %s: %w", p.FrameID, err)
	}
	p.rotation = rot
	return nil
}

// RawTranslation returns the translation without scale corrections.
func (p *CameraPose) RawTranslation() r3.Vector { return p.translation }

// SetTranslation replaces the unscaled translation.
func (p *CameraPose) SetTranslation(t r3.Vector) { p.translation = t }

// Translation returns translation * voScale * gtScale.
func (p *CameraPose) Translation() r3.Vector {
	return p.translation.Mul(p.voScale * p.gtScale)
}

func (p *CameraPose) VOScale() float64 { return p.voScale }
func (p *CameraPose) GTScale() float64 { return p.gtScale }

// SetVOScale sets the visual-odometry scale correction.
func (p *CameraPose) SetVOScale(s float64) error {
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("pose %s: vo scale %v: %w", p.FrameID, s, ErrInvalidScale)
	}
	p.voScale = s
	return nil
}

// SetGTScale sets the ground-truth scale correction.
func (p *CameraPose) SetGTScale(s float64) error {
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("pose %s: gt scale %v: %w", p.FrameID, s, ErrInvalidScale)
	}
	p.gtScale = s
	return nil
}

// Quaternion returns the rotation in (x, y, z, w) order.
func (p *CameraPose) Quaternion() [4]float64 {
	return p.rotation.Quaternion()
}

// AsMatrix returns [R | t] as a 4x4 homogeneous matrix, unscaled.
func (p *CameraPose) AsMatrix() *mat.Dense {
	return homogeneous(p.rotation, p.translation)
}

// AsMatrixScaled returns [R | t*vo*gt] as a 4x4 homogeneous matrix.
func (p *CameraPose) AsMatrixScaled() *mat.Dense {
	return homogeneous(p.rotation, p.Translation())
}

func homogeneous(r Rotation, t r3.Vector) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		r[0][0], r[0][1], r[0][2], t.X,
		r[1][0], r[1][1], r[1][2], t.Y,
		r[2][0], r[2][1], r[2][2], t.Z,
		0, 0, 0, 1,
	})
}

// Transform maps a camera-frame point to world coordinates using the scaled pose.
func (p *CameraPose) Transform(pt r3.Vector) r3.Vector {
	return p.rotation.Apply(pt).Add(p.Translation())
}

// InverseTransform maps a world point into this camera's frame.
func (p *CameraPose) InverseTransform(pt r3.Vector) r3.Vector {
	return p.rotation.ApplyTransposed(pt.Sub(p.Translation()))
}

// Clone returns an independent copy.
func (p *CameraPose) Clone() *CameraPose {
	c := *p
	return &c
}

// TransformPoints applies a 4x4 homogeneous matrix to every point in place.
func TransformPoints(m mat.Matrix, pts []r3.Vector) {
	for i, pt := range pts {
		pts[i] = r3.Vector{
			X: m.At(0, 0)*pt.X + m.At(0, 1)*pt.Y + m.At(0, 2)*pt.Z + m.At(0, 3),
			Y: m.At(1, 0)*pt.X + m.At(1, 1)*pt.Y + m.At(1, 2)*pt.Z + m.At(1, 3),
			Z: m.At(2, 0)*pt.X + m.At(2, 1)*pt.Y + m.At(2, 2)*pt.Z + m.At(2, 3),
		}
	}
}
