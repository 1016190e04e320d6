package registration

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/spatialmath"
	"go.viam.com/pcdgrasp/utils"
)

const ransacSampleSize = 3

// ransacIterationBound is the number of samples after which, with the given confidence, a sample of
// only inliers would have been drawn when a fraction inlierRatio of the points are inliers.
func ransacIterationBound(inlierRatio, confidence float64) int {
	p := math.Pow(inlierRatio, ransacSampleSize)
	if p <= 0 {
		return math.MaxInt
	}
	if p >= 1 {
		return 0
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if k > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(k))
}

func sampleDistinct(rnd *rand.Rand, n int, out []int) {
	for i := range out {
		for {
			v := utils.SampleRandomIntRange(0, n-1, rnd)
			unique := true
			for _, prev := range out[:i] {
				if prev == v {
					unique = false
					break
				}
			}
			if unique {
				out[i] = v
				break
			}
		}
	}
}

// edgeLengthsSimilar rejects samples whose pairwise distances differ between source and target, which
// a rigid transform cannot explain.
func edgeLengthsSimilar(src, dst []r3.Vector, ratio float64) bool {
	for i := 0; i < len(src); i++ {
		for j := i + 1; j < len(src); j++ {
			ds := src[i].Distance(src[j])
			dt := dst[i].Distance(dst[j])
			if ds < ratio*dt || dt < ratio*ds {
				return false
			}
		}
	}
	return true
}

// registerRANSAC finds the transform supported by the most source points among transforms fitted to
// random triples of correspondences.
func registerRANSAC(ctx context.Context, src, tgt *Preprocessed, corres []Correspondence, opts GlobalOptions) (*Result, error) {
	if len(corres) < MinCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(corres), "feature correspondences")
	}
	rnd := rand.New(rand.NewSource(opts.Seed))
	srcPts, tgtPts := src.Points(), tgt.Points()

	var (
		best  alignment
		bestT spatialmath.Transform
		found bool
	)
	limit := opts.MaxIterations
	picks := make([]int, ransacSampleSize)
	s := make([]r3.Vector, ransacSampleSize)
	d := make([]r3.Vector, ransacSampleSize)
	iter := 0
	for ; iter < limit; iter++ {
		if iter%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sampleDistinct(rnd, len(corres), picks)
		for k, c := range picks {
			s[k] = srcPts[corres[c].Source]
			d[k] = tgtPts[corres[c].Target]
		}
		if !edgeLengthsSimilar(s, d, opts.EdgeLengthRatio) {
			continue
		}
		t, err := EstimateRigidTransform(s, d)
		if err != nil {
			continue
		}
		if !pairsWithin(t, s, d, opts.MaxCorrespondenceDistance) {
			continue
		}
		a := evaluateAlignment(srcPts, tgt.Tree(), t, opts.MaxCorrespondenceDistance, false)
		if !found || better(a.fitness, a.rmse, best.fitness, best.rmse) {
			best, bestT, found = a, t, true
			if k := ransacIterationBound(a.fitness, opts.Confidence); k < limit {
				limit = k
			}
		}
	}
	if !found {
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "no consistent sample among %d correspondences after %d iterations", len(corres), iter)
	}

	// refit on every correspondence that agrees with the best sample
	inS, inD := consistentPairs(bestT, corres, srcPts, tgtPts, opts.MaxCorrespondenceDistance)
	if len(inS) < MinCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(inS), "inlier correspondences")
	}
	if refit, err := EstimateRigidTransform(inS, inD); err == nil {
		a := evaluateAlignment(srcPts, tgt.Tree(), refit, opts.MaxCorrespondenceDistance, false)
		if a.fitness >= best.fitness {
			best, bestT = a, refit
			inS, _ = consistentPairs(bestT, corres, srcPts, tgtPts, opts.MaxCorrespondenceDistance)
		}
	}

	return &Result{
		Transform:       bestT,
		Fitness:         best.fitness,
		InlierRMSE:      best.rmse,
		Correspondences: len(inS),
		Iterations:      iter,
		Converged:       iter < opts.MaxIterations,
	}, nil
}

func pairsWithin(t spatialmath.Transform, src, dst []r3.Vector, maxDist float64) bool {
	for i := range src {
		if t.Apply(src[i]).Distance(dst[i]) > maxDist {
			return false
		}
	}
	return true
}

func consistentPairs(t spatialmath.Transform, corres []Correspondence, srcPts, tgtPts []r3.Vector, maxDist float64) ([]r3.Vector, []r3.Vector) {
	var src, dst []r3.Vector
	for _, c := range corres {
		s, d := srcPts[c.Source], tgtPts[c.Target]
		if t.Apply(s).Distance(d) <= maxDist {
			src = append(src, s)
			dst = append(dst, d)
		}
	}
	return src, dst
}
