package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
)

// divergenceMonitor flags a run of RMSE increases that has carried the error far above the best
// value seen.
type divergenceMonitor struct {
	window    int
	factor    float64
	increases int
	last      float64
	best      float64
	started   bool
}

// observe records the RMSE of an iteration and reports whether the run has diverged.
func (dm *divergenceMonitor) observe(rmse float64) bool {
	if !dm.started {
		dm.started = true
		dm.last, dm.best = rmse, rmse
		return false
	}
	if rmse > dm.last {
		dm.increases++
	} else {
		dm.increases = 0
	}
	dm.last = rmse
	if rmse < dm.best {
		dm.best = rmse
	}
	return dm.increases >= dm.window && rmse > dm.factor*dm.best
}

func checkICPInputs(sourceSize, targetSize int, init spatialmath.Transform, opts ICPOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := init.Validate(spatialmath.OrthonormalTolerance); err != nil {
		return errors.Wrap(err, "initial transform")
	}
	if sourceSize == 0 {
		return errors.Wrap(ErrInsufficientPoints, "source cloud is empty")
	}
	if targetSize < MinCorrespondences {
		return errors.Wrapf(ErrInsufficientPoints, "target has %d points, need at least %d", targetSize, MinCorrespondences)
	}
	return nil
}

// RefineICP aligns source to target with point-to-plane ICP starting from init. The target must
// carry normals; their sign does not matter. Running out of iterations is not an error: the best
// transform seen is returned with Converged unset. When nothing in the target is within reach of
// the initially placed source, init is returned with zero fitness.
func RefineICP(
	ctx context.Context,
	source, target pointcloud.PointCloud,
	init spatialmath.Transform,
	opts ICPOptions,
) (*Result, error) {
	if err := checkICPInputs(source.Size(), target.Size(), init, opts); err != nil {
		return nil, err
	}
	srcPts, _ := pointcloud.CloudToSlices(source)
	tgtPts, tgtData := pointcloud.CloudToSlices(target)
	normals := make([]r3.Vector, len(tgtPts))
	for i, d := range tgtData {
		if d == nil || !d.HasNormal() {
			return nil, errors.Wrapf(ErrMissingNormals, "target point %d at %v", i, tgtPts[i])
		}
		normals[i] = d.Normal()
	}
	return refinePointToPlane(ctx, srcPts, tgtPts, normals, pointcloud.NewKDTree(tgtPts), init, opts)
}

// RefineICPToTarget is RefineICP against a preprocessed target. Its normals and spatial index are
// used as they are, so a target shared between registrations is never indexed again.
func RefineICPToTarget(
	ctx context.Context,
	source pointcloud.PointCloud,
	target *Preprocessed,
	init spatialmath.Transform,
	opts ICPOptions,
) (*Result, error) {
	if err := checkICPInputs(source.Size(), target.Size(), init, opts); err != nil {
		return nil, err
	}
	srcPts, _ := pointcloud.CloudToSlices(source)
	return refinePointToPlane(ctx, srcPts, target.Points(), target.Normals(), target.Tree(), init, opts)
}

func refinePointToPlane(
	ctx context.Context,
	srcPts, tgtPts, normals []r3.Vector,
	tree NeighborIndex,
	init spatialmath.Transform,
	opts ICPOptions,
) (*Result, error) {
	t := init
	var (
		best      alignment
		bestT     spatialmath.Transform
		prev      alignment
		converged bool
		evaluated bool
	)
	monitor := divergenceMonitor{window: opts.DivergenceWindow, factor: opts.DivergenceFactor}
	consider := func(a alignment, at spatialmath.Transform) {
		if !evaluated || better(a.fitness, a.rmse, best.fitness, best.rmse) {
			best, bestT, evaluated = a, at, true
		}
	}

	iter := 0
	for ; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := evaluateAlignment(srcPts, tree, t, opts.MaxCorrespondenceDistance, true)
		if iter == 0 && a.inliers == 0 {
			return &Result{Transform: init}, nil
		}
		consider(a, t)
		if a.inliers > 0 && monitor.observe(a.rmse) {
			return nil, errors.Wrapf(ErrRegistrationDiverged,
				"rmse rose to %v over %d iterations, best was %v", a.rmse, monitor.increases, monitor.best)
		}
		if iter > 0 &&
			math.Abs(a.fitness-prev.fitness) < opts.FitnessTolerance &&
			math.Abs(a.rmse-prev.rmse) < opts.RMSETolerance {
			converged = true
			break
		}
		if a.inliers < MinCorrespondences {
			break
		}

		ne := newNormalEquations()
		for _, pair := range a.pairs {
			p := t.Apply(srcPts[pair[0]])
			q, n := tgtPts[pair[1]], normals[pair[1]]
			c := p.Cross(n)
			ne.add([6]float64{c.X, c.Y, c.Z, n.X, n.Y, n.Z}, p.Sub(q).Dot(n), 1)
		}
		delta, ok := ne.solve()
		if !ok {
			break
		}
		t = delta.Compose(t)
		prev = a
	}
	if !converged {
		consider(evaluateAlignment(srcPts, tree, t, opts.MaxCorrespondenceDistance, false), t)
	}

	return &Result{
		Transform:       bestT,
		Fitness:         best.fitness,
		InlierRMSE:      best.rmse,
		Correspondences: best.inliers,
		Iterations:      iter,
		Converged:       converged,
	}, nil
}
