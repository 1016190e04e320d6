package grasp

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdgrasp/spatialmath"
)

func workspaceCorners(half r3.Vector) []r3.Vector {
	var corners []r3.Vector
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				corners = append(corners, r3.Vector{X: sx * half.X, Y: sy * half.Y, Z: sz * half.Z})
			}
		}
	}
	return corners
}

func overheadCamera() spatialmath.Transform {
	return spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: math.Pi, RX: 1}, r3.Vector{Z: 0.8})
}

func TestNewFrameStore(t *testing.T) {
	cam := overheadCamera()
	ref := spatialmath.NewTransform(spatialmath.NewIdentityRotationMatrix(), r3.Vector{Z: 0.05})
	corners := workspaceCorners(r3.Vector{X: 0.4, Y: 0.3, Z: 0.15})

	store, err := NewFrameStore(cam.Matrix(), ref.Matrix(), corners)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.CameraToBase().AlmostEqual(cam, 1e-12), test.ShouldBeTrue)
	test.That(t, store.BaseToCamera().AlmostEqual(cam.Inverse(), 1e-12), test.ShouldBeTrue)
	test.That(t, store.BaseToReferenceGrasp().AlmostEqual(ref, 1e-12), test.ShouldBeTrue)
	test.That(t, store.OutputFrame(), test.ShouldEqual, DefaultFrame)
	test.That(t, store.CameraOrigin().Z, test.ShouldAlmostEqual, 0.8)
	test.That(t, store.Workspace().Contains(r3.Vector{X: 0.39, Y: -0.29, Z: 0.1}), test.ShouldBeTrue)
	test.That(t, store.Workspace().Contains(r3.Vector{X: 0.41}), test.ShouldBeFalse)

	// corners are copied in and out
	corners[0] = r3.Vector{X: 100}
	got := store.WorkspaceCorners()
	test.That(t, got[0], test.ShouldNotResemble, r3.Vector{X: 100})
	got[1] = r3.Vector{X: 100}
	test.That(t, store.WorkspaceCorners()[1], test.ShouldNotResemble, r3.Vector{X: 100})

	named, err := NewFrameStore(cam.Matrix(), ref.Matrix(), got, WithOutputFrame("world"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, named.OutputFrame(), test.ShouldEqual, "world")
}

func TestFrameStoreRenormalizes(t *testing.T) {
	cam := overheadCamera().Matrix()
	// calibration exported with a few digits
	noisy := mat.DenseCopyOf(cam)
	noisy.Set(0, 0, noisy.At(0, 0)+2e-4)
	noisy.Set(1, 2, noisy.At(1, 2)-3e-4)
	ref := spatialmath.NewIdentityTransform().Matrix()
	corners := workspaceCorners(r3.Vector{X: 0.4, Y: 0.3, Z: 0.15})

	store, err := NewFrameStore(noisy, ref, corners)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.CameraToBase().IsOrthonormal(spatialmath.OrthonormalTolerance), test.ShouldBeTrue)
	test.That(t, store.CameraToBase().AlmostEqual(overheadCamera(), 1e-3), test.ShouldBeTrue)

	broken := mat.DenseCopyOf(cam)
	broken.Set(0, 0, broken.At(0, 0)+0.05)
	_, err = NewFrameStore(broken, ref, corners)
	test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera_to_base")

	_, err = NewFrameStore(noisy, ref, corners, WithRenormalizeTolerance(1e-6))
	test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
}

func TestFrameStoreBaseToCamera(t *testing.T) {
	cam := overheadCamera()
	ref := spatialmath.NewIdentityTransform().Matrix()
	corners := workspaceCorners(r3.Vector{X: 0.4, Y: 0.3, Z: 0.15})

	store, err := NewFrameStore(cam.Matrix(), ref, corners, WithBaseToCamera(cam.Inverse().Matrix()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.BaseToCamera().AlmostEqual(cam.Inverse(), 1e-12), test.ShouldBeTrue)

	shifted := spatialmath.NewTransform(cam.Inverse().Rotation(), cam.Inverse().Translation().Add(r3.Vector{X: 0.01}))
	_, err = NewFrameStore(cam.Matrix(), ref, corners, WithBaseToCamera(shifted.Matrix()))
	test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
}

func TestFrameStoreErrors(t *testing.T) {
	id := spatialmath.NewIdentityTransform().Matrix()
	_, err := NewFrameStore(id, id, []r3.Vector{{}, {X: 1}, {Y: 1}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "workspace_corners")

	_, err = NewFrameStore(mat.NewDense(3, 3, nil), id, workspaceCorners(r3.Vector{X: 1, Y: 1, Z: 1}))
	test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
}
