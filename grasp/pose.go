// Package grasp maps the hand annotated grasp of a reference scan onto live observations of the
// same object.
package grasp

import (
	"encoding/json"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/pcdgrasp/spatialmath"
)

// DefaultFrame is the frame grasp poses are expressed in unless configured otherwise.
const DefaultFrame = "base"

// Pose is a grasp position and orientation tagged with the frame they are expressed in. The
// orientation is a unit quaternion with a non-negative scalar part.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
	Frame       string
	// CameraToBase is the calibration the observation was taken under.
	CameraToBase spatialmath.Transform
}

// Transform returns the pose as a rigid transform from the grasp frame to Frame.
func (p Pose) Transform() spatialmath.Transform {
	return spatialmath.NewTransformFromQuat(p.Orientation, p.Position)
}

func (p Pose) String() string {
	return fmt.Sprintf("%s: position (%.4f, %.4f, %.4f) orientation wxyz (%.4f, %.4f, %.4f, %.4f)",
		p.Frame, p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag)
}

type jsonVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type jsonQuaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type jsonPose struct {
	Frame       string         `json:"frame"`
	Position    jsonVector     `json:"position"`
	Orientation jsonQuaternion `json:"orientation"`
}

// MarshalJSON writes the pose in the layout of a stamped pose message.
func (p Pose) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonPose{
		Frame:    p.Frame,
		Position: jsonVector{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: jsonQuaternion{
			W: p.Orientation.Real, X: p.Orientation.Imag, Y: p.Orientation.Jmag, Z: p.Orientation.Kmag,
		},
	})
}

// UnmarshalJSON reads what MarshalJSON writes and canonicalizes the quaternion.
func (p *Pose) UnmarshalJSON(data []byte) error {
	var jp jsonPose
	if err := json.Unmarshal(data, &jp); err != nil {
		return err
	}
	q := quat.Number{Real: jp.Orientation.W, Imag: jp.Orientation.X, Jmag: jp.Orientation.Y, Kmag: jp.Orientation.Z}
	if quat.Abs(q) == 0 {
		return errors.Wrap(spatialmath.ErrInvalidTransform, "pose orientation is the zero quaternion")
	}
	*p = Pose{
		Position:     r3.Vector{X: jp.Position.X, Y: jp.Position.Y, Z: jp.Position.Z},
		Orientation:  spatialmath.CanonicalQuat(q),
		Frame:        jp.Frame,
		CameraToBase: spatialmath.NewIdentityTransform(),
	}
	return nil
}

// ComposeGraspPose maps the reference grasp into the observed object. Both clouds were moved into
// the base frame before registration, so the grasp is inverse(sourceToTarget) * baseToReferenceGrasp;
// cameraToBase is validated and kept on the pose for downstream consumers.
func ComposeGraspPose(sourceToTarget, cameraToBase, baseToReferenceGrasp spatialmath.Transform) (Pose, error) {
	for _, in := range []struct {
		name string
		t    spatialmath.Transform
	}{
		{"source to target", sourceToTarget},
		{"camera to base", cameraToBase},
		{"base to reference grasp", baseToReferenceGrasp},
	} {
		if err := in.t.Validate(spatialmath.OrthonormalTolerance); err != nil {
			return Pose{}, errors.Wrap(err, in.name)
		}
	}
	grasp := sourceToTarget.Inverse().Compose(baseToReferenceGrasp)
	return Pose{
		Position:     grasp.Translation(),
		Orientation:  grasp.Quaternion(),
		Frame:        DefaultFrame,
		CameraToBase: cameraToBase,
	}, nil
}
