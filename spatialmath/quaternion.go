package spatialmath

import "gonum.org/v1/gonum/num/quat"

// CanonicalQuat normalizes q and picks a deterministic sign: the scalar part is made
// non-negative, and when it is exactly zero the first non-zero vector component is made positive.
func CanonicalQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/n, q)
	flip := false
	switch {
	case q.Real < 0:
		flip = true
	case q.Real == 0:
		for _, c := range []float64{q.Imag, q.Jmag, q.Kmag} {
			if c != 0 {
				flip = c < 0
				break
			}
		}
	}
	if flip {
		q = quat.Scale(-1, q)
	}
	return q
}

// QuaternionAlmostEqual compares two quaternions as rotations, so q and -q are equal.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	a, b = CanonicalQuat(a), CanonicalQuat(b)
	d := quat.Sub(a, b)
	if quat.Abs(d) <= tol {
		return true
	}
	// A scalar part near zero can canonicalize to opposite signs on either side of tol.
	return quat.Abs(quat.Add(a, b)) <= tol
}
