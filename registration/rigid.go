package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdgrasp/spatialmath"
)

// EstimateRigidTransform returns the rotation and translation minimizing the summed squared
// distance between the transformed src points and dst (Kabsch). The slices are paired by index.
func EstimateRigidTransform(src, dst []r3.Vector) (spatialmath.Transform, error) {
	if len(src) != len(dst) {
		return spatialmath.Transform{}, errors.Errorf("point sets differ in length: %d and %d", len(src), len(dst))
	}
	if len(src) < MinCorrespondences {
		return spatialmath.Transform{}, newInsufficientCorrespondencesError(len(src), "point pairs")
	}
	srcCenter := centroid(src)
	dstCenter := centroid(dst)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCenter)
		d := dst[i].Sub(dstCenter)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}
	rot, err := spatialmath.RotationFromSVD(h)
	if err != nil {
		return spatialmath.Transform{}, err
	}
	return spatialmath.NewTransform(rot, dstCenter.Sub(rot.MulVec(srcCenter))), nil
}

func centroid(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// normalEquations accumulates J^T J and J^T r for the 6 parameter rigid increment
// (rotation vector, translation).
type normalEquations struct {
	jtj *mat.SymDense
	jtr *mat.VecDense
}

func newNormalEquations() *normalEquations {
	return &normalEquations{jtj: mat.NewSymDense(6, nil), jtr: mat.NewVecDense(6, nil)}
}

// add accumulates one residual row with its weight.
func (ne *normalEquations) add(row [6]float64, residual, weight float64) {
	for i := 0; i < 6; i++ {
		ne.jtr.SetVec(i, ne.jtr.AtVec(i)+weight*row[i]*residual)
		for j := i; j < 6; j++ {
			ne.jtj.SetSym(i, j, ne.jtj.At(i, j)+weight*row[i]*row[j])
		}
	}
}

// solve returns the increment minimizing the linearized objective, or false when the system is
// not positive definite, as happens when the correspondences do not constrain every direction.
func (ne *normalEquations) solve() (spatialmath.Transform, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(ne.jtj); !ok {
		return spatialmath.Transform{}, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, ne.jtr); err != nil {
		return spatialmath.Transform{}, false
	}
	for i := 0; i < 6; i++ {
		if math.IsNaN(x.AtVec(i)) || math.IsInf(x.AtVec(i), 0) {
			return spatialmath.Transform{}, false
		}
	}
	return incrementTransform(
		r3.Vector{X: -x.AtVec(0), Y: -x.AtVec(1), Z: -x.AtVec(2)},
		r3.Vector{X: -x.AtVec(3), Y: -x.AtVec(4), Z: -x.AtVec(5)},
	), true
}

// incrementTransform turns a small rotation vector and translation into a rigid transform.
func incrementTransform(rotation, translation r3.Vector) spatialmath.Transform {
	return spatialmath.NewTransformFromAxisAngle(spatialmath.R3ToR4(rotation), translation)
}
