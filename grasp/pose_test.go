package grasp

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/pcdgrasp/spatialmath"
)

func TestComposeGraspPoseIdentity(t *testing.T) {
	ref := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: 2.1, RX: 0.3, RY: -1, RZ: 0.2}, r3.Vector{X: 0.45, Y: -0.1, Z: 0.12})
	cam := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: math.Pi, RX: 1}, r3.Vector{Z: 0.8})

	pose, err := ComposeGraspPose(spatialmath.NewIdentityTransform(), cam, ref)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Position, test.ShouldResemble, ref.Translation())
	test.That(t, pose.Orientation, test.ShouldResemble, ref.Quaternion())
	test.That(t, pose.Orientation.Real, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, quat.Abs(pose.Orientation), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, pose.Frame, test.ShouldEqual, DefaultFrame)
	test.That(t, pose.CameraToBase.AlmostEqual(cam, 0), test.ShouldBeTrue)
	test.That(t, pose.Transform().AlmostEqual(ref, 1e-12), test.ShouldBeTrue)
}

func TestComposeGraspPose(t *testing.T) {
	ref := spatialmath.NewTransform(spatialmath.NewIdentityRotationMatrix(), r3.Vector{X: 0.5})
	// the observed object sits 0.1 m further along y and is turned a quarter turn
	moved := spatialmath.NewTransformFromAxisAngle(&spatialmath.R4AA{Theta: math.Pi / 2, RZ: 1}, r3.Vector{Y: 0.1})
	pose, err := ComposeGraspPose(moved.Inverse(), spatialmath.NewIdentityTransform(), ref)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Position.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, pose.Position.Y, test.ShouldAlmostEqual, 0.6, 1e-12)
	test.That(t, pose.Position.Z, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, pose.Orientation.Real, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)
	test.That(t, pose.Orientation.Kmag, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)
}

func TestComposeGraspPoseHalfTurn(t *testing.T) {
	// a half turn has a zero scalar part; the first non-zero vector component is made positive
	rot, err := spatialmath.NewRotationMatrix([]float64{-1, 0, 0, 0, 1, 0, 0, 0, -1})
	test.That(t, err, test.ShouldBeNil)
	halfTurn := spatialmath.NewTransform(rot, r3.Vector{})
	pose, err := ComposeGraspPose(spatialmath.NewIdentityTransform(), spatialmath.NewIdentityTransform(), halfTurn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Orientation.Real, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, pose.Orientation.Jmag, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestComposeGraspPoseInvalid(t *testing.T) {
	scaled, err := spatialmath.NewRotationMatrix([]float64{2, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	bad := spatialmath.NewTransform(scaled, r3.Vector{})
	reflection, err := spatialmath.NewRotationMatrix([]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	mirrored := spatialmath.NewTransform(reflection, r3.Vector{})
	id := spatialmath.NewIdentityTransform()

	for _, args := range [][3]spatialmath.Transform{
		{bad, id, id},
		{id, bad, id},
		{id, id, bad},
		{mirrored, id, id},
	} {
		_, err := ComposeGraspPose(args[0], args[1], args[2])
		test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
	}
}

func TestPoseJSON(t *testing.T) {
	pose := Pose{
		Position:    r3.Vector{X: 0.1, Y: 0.2, Z: 0.3},
		Orientation: quat.Number{Real: 1},
		Frame:       "base",
	}
	data, err := json.Marshal(pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual,
		`{"frame":"base","position":{"x":0.1,"y":0.2,"z":0.3},"orientation":{"w":1,"x":0,"y":0,"z":0}}`)

	var back Pose
	test.That(t, json.Unmarshal([]byte(`{"frame":"world","position":{"x":1},"orientation":{"w":-2}}`), &back), test.ShouldBeNil)
	test.That(t, back.Frame, test.ShouldEqual, "world")
	test.That(t, back.Position, test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, back.Orientation, test.ShouldResemble, quat.Number{Real: 1})

	err = json.Unmarshal([]byte(`{"orientation":{}}`), &back)
	test.That(t, errors.Is(err, spatialmath.ErrInvalidTransform), test.ShouldBeTrue)
}
