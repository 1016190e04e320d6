// Package spatialmath defines the rigid transforms, rotations and bounding regions used to move
// point clouds between frames.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

const (
	// OrthonormalTolerance is the tolerance used to accept a rotation block as orthonormal.
	OrthonormalTolerance = 1e-6
	// RenormalizeTolerance is the largest deviation from orthonormality that is repaired rather
	// than rejected when loading calibration data.
	RenormalizeTolerance = 1e-3
)

// Transform is a rigid transform: a proper rotation followed by a translation. Applied to a point p
// it yields R*p + t, matching a 4x4 homogeneous matrix [R t; 0 1] acting on column vectors.
type Transform struct {
	rotation    RotationMatrix
	translation r3.Vector
}

// NewIdentityTransform returns the identity transform.
func NewIdentityTransform() Transform {
	return Transform{rotation: *NewIdentityRotationMatrix()}
}

// NewTransform returns a transform with the given rotation and translation.
func NewTransform(rotation *RotationMatrix, translation r3.Vector) Transform {
	return Transform{rotation: *rotation, translation: translation}
}

// NewTransformFromQuat returns a transform with the rotation of q and the given translation.
func NewTransformFromQuat(q quat.Number, translation r3.Vector) Transform {
	return NewTransform(QuatToRotationMatrix(q), translation)
}

// NewTransformFromAxisAngle returns a transform rotating by aa and then translating.
func NewTransformFromAxisAngle(aa *R4AA, translation r3.Vector) Transform {
	return NewTransform(aa.RotationMatrix(), translation)
}

// NewTransformFromMatrix validates a 4x4 homogeneous matrix and converts it. The bottom row must be
// (0, 0, 0, 1) and the rotation block orthonormal within OrthonormalTolerance with a positive determinant.
func NewTransformFromMatrix(m mat.Matrix) (Transform, error) {
	t, err := transformFromMatrixUnchecked(m)
	if err != nil {
		return Transform{}, err
	}
	if err := t.Validate(OrthonormalTolerance); err != nil {
		return Transform{}, err
	}
	return t, nil
}

// NewTransformFromSlice is NewTransformFromMatrix for sixteen row-major values.
func NewTransformFromSlice(vals []float64) (Transform, error) {
	if len(vals) != 16 {
		return Transform{}, newInvalidTransformError("need 16 values for a 4x4 matrix, got %d", len(vals))
	}
	return NewTransformFromMatrix(mat.NewDense(4, 4, append([]float64(nil), vals...)))
}

// NewRenormalizedTransformFromMatrix is like NewTransformFromMatrix but accepts rotation blocks that
// deviate from orthonormality by up to tol and snaps them to the nearest proper rotation.
func NewRenormalizedTransformFromMatrix(m mat.Matrix, tol float64) (Transform, error) {
	t, err := transformFromMatrixUnchecked(m)
	if err != nil {
		return Transform{}, err
	}
	if err := t.Validate(tol); err != nil {
		return Transform{}, err
	}
	return t.Renormalize()
}

func transformFromMatrixUnchecked(m mat.Matrix) (Transform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Transform{}, newInvalidTransformError("expected a 4x4 matrix, got %dx%d", r, c)
	}
	for j, expected := range []float64{0, 0, 0, 1} {
		v := m.At(3, j)
		if math.IsNaN(v) || math.Abs(v-expected) > OrthonormalTolerance {
			return Transform{}, newInvalidTransformError("bottom row must be (0, 0, 0, 1), element %d is %v", j, v)
		}
	}
	var t Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Transform{}, newInvalidTransformError("non-finite rotation element at (%d, %d)", i, j)
			}
			t.rotation.mat[i*3+j] = v
		}
	}
	t.translation = r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
	if math.IsNaN(t.translation.Norm()) || math.IsInf(t.translation.Norm(), 0) {
		return Transform{}, newInvalidTransformError("non-finite translation %v", t.translation)
	}
	return t, nil
}

// Rotation returns a copy of the rotation block.
func (t Transform) Rotation() *RotationMatrix {
	rot := t.rotation
	return &rot
}

// Translation returns the translation.
func (t Transform) Translation() r3.Vector {
	return t.translation
}

// Quaternion returns the canonical unit quaternion of the rotation block.
func (t Transform) Quaternion() quat.Number {
	return t.rotation.Quaternion()
}

// Compose returns t * other, the transform that applies other first and then t.
func (t Transform) Compose(other Transform) Transform {
	return Transform{
		rotation:    *t.rotation.Mul(&other.rotation),
		translation: t.rotation.MulVec(other.translation).Add(t.translation),
	}
}

// Inverse returns the inverse transform (R^T, -R^T t).
func (t Transform) Inverse() Transform {
	rt := t.rotation.Transpose()
	return Transform{rotation: *rt, translation: rt.MulVec(t.translation).Mul(-1)}
}

// Apply transforms a point.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.rotation.MulVec(p).Add(t.translation)
}

// ApplyRotation rotates a direction, e.g. a surface normal, ignoring the translation.
func (t Transform) ApplyRotation(v r3.Vector) r3.Vector {
	return t.rotation.MulVec(v)
}

// Matrix returns the 4x4 homogeneous matrix.
func (t Transform) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, t.rotation.At(i, j))
		}
	}
	m.Set(0, 3, t.translation.X)
	m.Set(1, 3, t.translation.Y)
	m.Set(2, 3, t.translation.Z)
	m.Set(3, 3, 1)
	return m
}

// Slice returns the 4x4 homogeneous matrix as sixteen row-major values.
func (t Transform) Slice() []float64 {
	return mat.DenseCopyOf(t.Matrix()).RawMatrix().Data
}

// IsOrthonormal reports whether the rotation block is a proper rotation within tol.
func (t Transform) IsOrthonormal(tol float64) bool {
	return t.rotation.IsOrthonormal(tol)
}

// Validate returns ErrInvalidTransform, annotated, when the rotation block is not orthonormal within tol.
func (t Transform) Validate(tol float64) error {
	if det := t.rotation.Det(); det <= 0 {
		return newInvalidTransformError("rotation block has determinant %v", det)
	}
	if !t.rotation.IsOrthonormal(tol) {
		return newInvalidTransformError("rotation block is not orthonormal within %v", tol)
	}
	return nil
}

// Renormalize replaces the rotation block by the nearest proper rotation.
func (t Transform) Renormalize() (Transform, error) {
	rot, err := t.rotation.Renormalize()
	if err != nil {
		return Transform{}, err
	}
	return Transform{rotation: *rot, translation: t.translation}, nil
}

// AlmostEqual compares rotation blocks element-wise and translations component-wise within tol.
func (t Transform) AlmostEqual(other Transform, tol float64) bool {
	if !t.rotation.AlmostEqual(&other.rotation, tol) {
		return false
	}
	d := t.translation.Sub(other.translation)
	return math.Abs(d.X) <= tol && math.Abs(d.Y) <= tol && math.Abs(d.Z) <= tol
}

func (t Transform) String() string {
	aa := QuatToR4AA(t.Quaternion())
	return fmt.Sprintf("{rot: %.4f rad about (%.4f, %.4f, %.4f), trans: (%.6f, %.6f, %.6f)}",
		aa.Theta, aa.RX, aa.RY, aa.RZ, t.translation.X, t.translation.Y, t.translation.Z)
}

// RotationAngleBetween returns the angle in radians of the relative rotation between a and b.
func RotationAngleBetween(a, b Transform) float64 {
	return a.rotation.Transpose().Mul(&b.rotation).Angle()
}

// TranslationDistance returns the Euclidean distance between the translations of a and b.
func TranslationDistance(a, b Transform) float64 {
	return a.translation.Sub(b.translation).Norm()
}
