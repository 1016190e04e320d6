package registration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
)

func TestRefineICPSelf(t *testing.T) {
	cloud := objectWithNormals(t)
	res, err := RefineICP(context.Background(), cloud, cloud, spatialmath.NewIdentityTransform(), DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(spatialmath.NewIdentityTransform(), 1e-9), test.ShouldBeTrue)
	test.That(t, res.Fitness, test.ShouldAlmostEqual, 1)
	test.That(t, res.InlierRMSE, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, res.Correspondences, test.ShouldEqual, cloud.Size())
	test.That(t, res.Converged, test.ShouldBeTrue)
}

func TestRefineICPSmallOffset(t *testing.T) {
	target := objectWithNormals(t)
	motion := rotationAbout(r3.Vector{X: 1, Y: 1, Z: 1}, 2, r3.Vector{X: 0.002, Y: -0.001, Z: 0.0015})
	source, err := pointcloud.ApplyTransform(target, motion)
	test.That(t, err, test.ShouldBeNil)

	res, err := RefineICP(context.Background(), source, target, spatialmath.NewIdentityTransform(), DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, res.Transform, motion.Inverse(), 0.05, 1e-4)
	test.That(t, res.Fitness, test.ShouldBeGreaterThan, 0.99)
	test.That(t, res.InlierRMSE, test.ShouldBeLessThan, 1e-4)
	test.That(t, res.Iterations, test.ShouldBeGreaterThan, 1)

	t.Run("from the exact initial guess", func(t *testing.T) {
		res, err := RefineICP(context.Background(), source, target, motion.Inverse(), DefaultICPOptions())
		test.That(t, err, test.ShouldBeNil)
		assertCloseTransform(t, res.Transform, motion.Inverse(), 0.01, 1e-6)
	})

	t.Run("iteration budget", func(t *testing.T) {
		opts := DefaultICPOptions()
		opts.MaxIterations = 1
		res, err := RefineICP(context.Background(), source, target, spatialmath.NewIdentityTransform(), opts)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Converged, test.ShouldBeFalse)
		test.That(t, res.Iterations, test.ShouldEqual, 1)
	})
}

func TestRefineICPErrors(t *testing.T) {
	target := objectWithNormals(t)

	t.Run("target without normals", func(t *testing.T) {
		bare := pointcloud.MakeAsymmetricObject(0.005)
		_, err := RefineICP(context.Background(), target, bare, spatialmath.NewIdentityTransform(), DefaultICPOptions())
		test.That(t, errors.Is(err, ErrMissingNormals), test.ShouldBeTrue)
	})

	t.Run("nothing within reach", func(t *testing.T) {
		far, err := pointcloud.ApplyTransform(target, spatialmath.NewTransform(spatialmath.NewIdentityRotationMatrix(), r3.Vector{X: 1}))
		test.That(t, err, test.ShouldBeNil)
		init := spatialmath.NewTransform(spatialmath.NewIdentityRotationMatrix(), r3.Vector{Y: 0.2})
		res, err := RefineICP(context.Background(), far, target, init, DefaultICPOptions())
		// no correspondences is a zero fitness result, not an error
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Fitness, test.ShouldEqual, 0)
		test.That(t, res.InlierRMSE, test.ShouldEqual, 0)
		test.That(t, res.Correspondences, test.ShouldEqual, 0)
		test.That(t, res.Converged, test.ShouldBeFalse)
		test.That(t, res.Transform.AlmostEqual(init, 0), test.ShouldBeTrue)
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := RefineICP(context.Background(), pointcloud.New(), target, spatialmath.NewIdentityTransform(), DefaultICPOptions())
		test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := DefaultICPOptions()
		opts.MaxCorrespondenceDistance = 0
		_, err := RefineICP(context.Background(), target, target, spatialmath.NewIdentityTransform(), opts)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := RefineICP(ctx, target, target, spatialmath.NewIdentityTransform(), DefaultICPOptions())
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}

func TestRefineICPToTarget(t *testing.T) {
	target, err := Preprocess(context.Background(), pointcloud.MakeAsymmetricObject(0.002), objectPreprocessOptions())
	test.That(t, err, test.ShouldBeNil)
	motion := rotationAbout(r3.Vector{Z: 1}, 1.5, r3.Vector{X: 0.001, Y: 0.002})
	source, err := pointcloud.ApplyTransform(target.Cloud, motion)
	test.That(t, err, test.ShouldBeNil)

	res, err := RefineICPToTarget(context.Background(), source, target, spatialmath.NewIdentityTransform(), DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	assertCloseTransform(t, res.Transform, motion.Inverse(), 0.05, 1e-4)

	// same answer as indexing the target cloud again
	fresh, err := RefineICP(context.Background(), source, target.Cloud, spatialmath.NewIdentityTransform(), DefaultICPOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Transform.AlmostEqual(fresh.Transform, 1e-12), test.ShouldBeTrue)
	test.That(t, res.Iterations, test.ShouldEqual, fresh.Iterations)

	_, err = RefineICPToTarget(context.Background(), pointcloud.New(), target, spatialmath.NewIdentityTransform(), DefaultICPOptions())
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)
}

func TestDivergenceMonitor(t *testing.T) {
	dm := divergenceMonitor{window: 5, factor: 10}
	for _, rmse := range []float64{1, 0.1, 0.2, 0.4, 0.6, 0.8} {
		test.That(t, dm.observe(rmse), test.ShouldBeFalse)
	}
	test.That(t, dm.observe(1.5), test.ShouldBeTrue)

	// a long climb that stays near the best value is not divergence
	dm = divergenceMonitor{window: 5, factor: 10}
	for _, rmse := range []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.1} {
		test.That(t, dm.observe(rmse), test.ShouldBeFalse)
	}

	// a single improvement resets the run
	dm = divergenceMonitor{window: 3, factor: 2}
	for _, rmse := range []float64{0.1, 0.3, 0.5, 0.4, 0.6, 0.7} {
		test.That(t, dm.observe(rmse), test.ShouldBeFalse)
	}
	test.That(t, dm.observe(0.8), test.ShouldBeTrue)
}
