package registration

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"go.viam.com/pcdgrasp/spatialmath"
)

// tupleTest keeps correspondences that belong to random triples whose pairwise distances agree
// between source and target within scale. Accepted triples are appended whole, so a correspondence
// may appear more than once.
func tupleTest(rnd *rand.Rand, corres []Correspondence, srcPts, tgtPts []r3.Vector, scale float64, maxTuples int) []Correspondence {
	trials := len(corres) * 100
	picks := make([]int, ransacSampleSize)
	s := make([]r3.Vector, ransacSampleSize)
	d := make([]r3.Vector, ransacSampleSize)
	var out []Correspondence
	accepted := 0
	for i := 0; i < trials && accepted < maxTuples; i++ {
		sampleDistinct(rnd, len(corres), picks)
		for k, c := range picks {
			s[k] = srcPts[corres[c].Source]
			d[k] = tgtPts[corres[c].Target]
		}
		if !edgeLengthsSimilar(s, d, scale) {
			continue
		}
		for _, c := range picks {
			out = append(out, corres[c])
		}
		accepted++
	}
	return out
}

// registerFGR minimizes the Geman-McClure robust distance between corresponding points. The kernel
// width mu starts at the squared extent of the clouds and shrinks every four iterations until it
// reaches the squared correspondence distance, so early iterations see a convex objective and late
// ones ignore outliers.
func registerFGR(ctx context.Context, src, tgt *Preprocessed, corres []Correspondence, opts GlobalOptions) (*Result, error) {
	if len(corres) < MinCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(corres), "feature correspondences")
	}
	rnd := rand.New(rand.NewSource(opts.Seed))
	srcPts, tgtPts := src.Points(), tgt.Points()
	tuples := tupleTest(rnd, corres, srcPts, tgtPts, opts.TupleScale, opts.MaxTupleCount)
	if len(tuples) < MinCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(tuples), "tuple-tested correspondences")
	}

	// centered coordinates keep the rotation and translation parts of the problem balanced
	srcCenter, tgtCenter := centroid(srcPts), centroid(tgtPts)
	p := make([]r3.Vector, len(tuples))
	q := make([]r3.Vector, len(tuples))
	var extent float64
	for i, c := range tuples {
		p[i] = srcPts[c.Source].Sub(srcCenter)
		q[i] = tgtPts[c.Target].Sub(tgtCenter)
		extent = math.Max(extent, math.Max(p[i].Norm(), q[i].Norm()))
	}
	floor := opts.MaxCorrespondenceDistance * opts.MaxCorrespondenceDistance
	mu := math.Max(4*extent*extent, floor)

	t := spatialmath.NewIdentityTransform()
	for iter := 0; iter < opts.FGRIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iter > 0 && iter%4 == 0 && mu > floor {
			mu = math.Max(mu/opts.DivisionFactor, floor)
		}
		ne := newNormalEquations()
		for i := range p {
			a := t.Apply(p[i])
			r := a.Sub(q[i])
			w := mu / (mu + r.Norm2())
			w *= w
			ne.add([6]float64{0, a.Z, -a.Y, 1, 0, 0}, r.X, w)
			ne.add([6]float64{-a.Z, 0, a.X, 0, 1, 0}, r.Y, w)
			ne.add([6]float64{a.Y, -a.X, 0, 0, 0, 1}, r.Z, w)
		}
		delta, ok := ne.solve()
		if !ok {
			break
		}
		t = delta.Compose(t)
	}

	// undo the centering: x_t = R (x_s - c_s) + tau + c_t
	final := spatialmath.NewTransform(t.Rotation(), t.Translation().Add(tgtCenter).Sub(t.Rotation().MulVec(srcCenter)))
	a := evaluateAlignment(srcPts, tgt.Tree(), final, opts.MaxCorrespondenceDistance, false)
	return &Result{
		Transform:       final,
		Fitness:         a.fitness,
		InlierRMSE:      a.rmse,
		Correspondences: len(tuples),
		Iterations:      opts.FGRIterations,
		Converged:       true,
	}, nil
}
