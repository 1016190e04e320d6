package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// R4AA is a rotation of Theta radians about the axis (RX, RY, RZ). The axis need not be unit
// length; a zero axis is the identity rotation.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA returns the identity rotation about +z.
func NewR4AA() *R4AA {
	return &R4AA{RZ: 1}
}

// R3ToR4 splits a rotation vector, whose length is the angle, into an angle and a unit axis.
func R3ToR4(v r3.Vector) *R4AA {
	theta := v.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	axis := v.Mul(1 / theta)
	return &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
}

// QuatToR4AA converts a quaternion to an axis angle with theta in [0, pi].
func QuatToR4AA(q quat.Number) *R4AA {
	q = CanonicalQuat(q)
	sinHalf := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if sinHalf < 1e-12 {
		return NewR4AA()
	}
	return &R4AA{
		Theta: 2 * math.Atan2(sinHalf, q.Real),
		RX:    q.Imag / sinHalf,
		RY:    q.Jmag / sinHalf,
		RZ:    q.Kmag / sinHalf,
	}
}

func (r4 *R4AA) axis() (r3.Vector, bool) {
	v := r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}
	n := v.Norm()
	if n == 0 {
		return r3.Vector{}, false
	}
	return v.Mul(1 / n), true
}

// ToR3 returns the rotation vector: the unit axis scaled by the angle.
func (r4 *R4AA) ToR3() r3.Vector {
	axis, ok := r4.axis()
	if !ok {
		return r3.Vector{}
	}
	return axis.Mul(r4.Theta)
}

// Quaternion returns the unit quaternion of the rotation. The receiver is not modified.
func (r4 *R4AA) Quaternion() quat.Number {
	axis, ok := r4.axis()
	if !ok {
		return quat.Number{Real: 1}
	}
	s, c := math.Sincos(r4.Theta / 2)
	return quat.Number{Real: c, Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// RotationMatrix returns the rotation as a matrix.
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(r4.Quaternion())
}
