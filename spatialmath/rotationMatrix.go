package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 rotation stored in row-major order.
type RotationMatrix struct {
	mat [9]float64
}

// NewIdentityRotationMatrix returns the identity rotation.
func NewIdentityRotationMatrix() *RotationMatrix {
	return &RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrix creates a rotation matrix from nine row-major values. It does not check
// orthonormality, see IsOrthonormal.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, fmt.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], m)
	return rm, nil
}

// NewRotationMatrixFromColumns builds a rotation whose columns are the given axes.
func NewRotationMatrixFromColumns(x, y, z r3.Vector) *RotationMatrix {
	return &RotationMatrix{mat: [9]float64{
		x.X, y.X, z.X,
		x.Y, y.Y, z.Y,
		x.Z, y.Z, z.Z,
	}}
}

// QuatToRotationMatrix converts a quaternion to a rotation matrix. The quaternion is normalized first.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	n := quat.Abs(q)
	if n == 0 {
		return NewIdentityRotationMatrix()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}}
}

// At returns the element at row i, column j.
func (rm *RotationMatrix) At(i, j int) float64 {
	return rm.mat[i*3+j]
}

// Row returns row i as a vector.
func (rm *RotationMatrix) Row(i int) r3.Vector {
	return r3.Vector{X: rm.mat[i*3], Y: rm.mat[i*3+1], Z: rm.mat[i*3+2]}
}

// Col returns column j as a vector.
func (rm *RotationMatrix) Col(j int) r3.Vector {
	return r3.Vector{X: rm.mat[j], Y: rm.mat[3+j], Z: rm.mat[6+j]}
}

// Mul returns rm * other.
func (rm *RotationMatrix) Mul(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rm.mat[i*3+k] * other.mat[k*3+j]
			}
			out.mat[i*3+j] = sum
		}
	}
	return out
}

// MulVec rotates v.
func (rm *RotationMatrix) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[1]*v.Y + rm.mat[2]*v.Z,
		Y: rm.mat[3]*v.X + rm.mat[4]*v.Y + rm.mat[5]*v.Z,
		Z: rm.mat[6]*v.X + rm.mat[7]*v.Y + rm.mat[8]*v.Z,
	}
}

// Transpose returns the transpose, which is the inverse for a proper rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{mat: [9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Det returns the determinant.
func (rm *RotationMatrix) Det() float64 {
	return rm.Row(0).Dot(rm.Row(1).Cross(rm.Row(2)))
}

// IsOrthonormal reports whether R * R^T is the identity within tol and the determinant is positive.
func (rm *RotationMatrix) IsOrthonormal(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			expected := 0.
			if i == j {
				expected = 1
			}
			if math.Abs(rm.Row(i).Dot(rm.Row(j))-expected) > tol {
				return false
			}
		}
	}
	return rm.Det() > 0
}

// Renormalize returns the closest proper rotation to rm in the Frobenius sense, computed with an SVD.
func (rm *RotationMatrix) Renormalize() (*RotationMatrix, error) {
	var svd mat.SVD
	if ok := svd.Factorize(rm.Dense(), mat.SVDFull); !ok {
		return nil, newInvalidTransformError("svd of rotation block failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return properRotationFromSVD(&u, &v), nil
}

// Dense returns the rotation as a gonum matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), rm.mat[:]...))
}

// Quaternion converts the rotation to a unit quaternion with a non-negative scalar part, see CanonicalQuat.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	m00, m01, m02 := m[0], m[1], m[2]
	m10, m11, m12 := m[3], m[4], m[5]
	m20, m21, m22 := m[6], m[7], m[8]

	var q quat.Number
	// Shepperd's method: branch on the largest diagonal term to keep the square root well conditioned.
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return CanonicalQuat(q)
}

// Angle returns the rotation angle in radians, in [0, pi].
func (rm *RotationMatrix) Angle() float64 {
	trace := rm.mat[0] + rm.mat[4] + rm.mat[8]
	return math.Acos(math.Max(-1, math.Min(1, (trace-1)/2)))
}

// AlmostEqual compares element-wise within tol.
func (rm *RotationMatrix) AlmostEqual(other *RotationMatrix, tol float64) bool {
	for i := range rm.mat {
		if math.Abs(rm.mat[i]-other.mat[i]) > tol {
			return false
		}
	}
	return true
}

// properRotationFromSVD returns U * diag(1, 1, det(U V^T)) * V^T.
func properRotationFromSVD(u, v *mat.Dense) *RotationMatrix {
	var uvt mat.Dense
	uvt.Mul(u, v.T())
	d := 1.
	if mat.Det(&uvt) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})
	var tmp, r mat.Dense
	tmp.Mul(u, diag)
	r.Mul(&tmp, v.T())

	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[i*3+j] = r.At(i, j)
		}
	}
	return out
}

// RotationFromSVD returns the proper rotation closest to the 3x3 cross-covariance factorization
// H = U S V^T as used by the Kabsch algorithm: R = V * diag(1, 1, det(V U^T)) * U^T.
func RotationFromSVD(h mat.Matrix) (*RotationMatrix, error) {
	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, newInvalidTransformError("svd of cross-covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return properRotationFromSVD(&v, &u), nil
}
