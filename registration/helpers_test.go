package registration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/pcdgrasp/pointcloud"
	"go.viam.com/pcdgrasp/spatialmath"
	"go.viam.com/pcdgrasp/utils"
)

func objectPreprocessOptions() PreprocessOptions {
	opts := DefaultPreprocessOptions()
	opts.Orientation = pointcloud.OrientAwayFromCentroid
	return opts
}

func preprocessedObject(t *testing.T, motion spatialmath.Transform) *Preprocessed {
	t.Helper()
	cloud, err := pointcloud.ApplyTransform(pointcloud.MakeAsymmetricObject(0.004), motion)
	test.That(t, err, test.ShouldBeNil)
	pre, err := Preprocess(context.Background(), cloud, objectPreprocessOptions())
	test.That(t, err, test.ShouldBeNil)
	return pre
}

func objectWithNormals(t *testing.T) pointcloud.PointCloud {
	t.Helper()
	res, err := pointcloud.EstimateNormals(context.Background(), pointcloud.MakeAsymmetricObject(0.005), pointcloud.NormalOptions{
		Radius:      0.0125,
		MaxNN:       30,
		Orientation: pointcloud.OrientAwayFromCentroid,
	})
	test.That(t, err, test.ShouldBeNil)
	return res.Cloud
}

func rotationAbout(axis r3.Vector, deg float64, translation r3.Vector) spatialmath.Transform {
	return spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: utils.DegToRad(deg), RX: axis.X, RY: axis.Y, RZ: axis.Z}, translation)
}

func assertCloseTransform(t *testing.T, got, expected spatialmath.Transform, maxAngleDeg, maxDist float64) {
	t.Helper()
	test.That(t, spatialmath.RotationAngleBetween(got, expected), test.ShouldBeLessThan, utils.DegToRad(maxAngleDeg))
	test.That(t, spatialmath.TranslationDistance(got, expected), test.ShouldBeLessThan, maxDist)
}
