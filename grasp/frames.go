package grasp

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/pcdgrasp/spatialmath"
)

// FrameStore holds the calibration of a cell: where the camera sits relative to the robot base,
// where the reference grasp sits in the base frame, and the workspace that live clouds are cropped
// to. It is immutable once built.
type FrameStore struct {
	cameraToBase         spatialmath.Transform
	baseToCamera         spatialmath.Transform
	baseToReferenceGrasp spatialmath.Transform
	workspace            *spatialmath.OrientedBox
	corners              []r3.Vector
	outputFrame          string
}

type frameStoreOptions struct {
	baseToCamera mat.Matrix
	outputFrame  string
	tolerance    float64
}

// A FrameStoreOption customizes NewFrameStore.
type FrameStoreOption func(*frameStoreOptions)

// WithBaseToCamera supplies a separately calibrated base to camera transform. It must agree with
// the inverse of camera to base.
func WithBaseToCamera(m mat.Matrix) FrameStoreOption {
	return func(o *frameStoreOptions) {
		o.baseToCamera = m
	}
}

// WithOutputFrame names the frame grasp poses are tagged with.
func WithOutputFrame(name string) FrameStoreOption {
	return func(o *frameStoreOptions) {
		o.outputFrame = name
	}
}

// WithRenormalizeTolerance sets how far from orthonormal a calibration rotation may be before it is
// rejected instead of snapped to the nearest rotation.
func WithRenormalizeTolerance(tol float64) FrameStoreOption {
	return func(o *frameStoreOptions) {
		o.tolerance = tol
	}
}

// NewFrameStore validates calibration matrices and builds the workspace box from its corner points.
func NewFrameStore(
	cameraToBase, baseToReferenceGrasp mat.Matrix,
	workspaceCorners []r3.Vector,
	opts ...FrameStoreOption,
) (*FrameStore, error) {
	o := frameStoreOptions{outputFrame: DefaultFrame, tolerance: spatialmath.RenormalizeTolerance}
	for _, opt := range opts {
		opt(&o)
	}

	camToBase, err := spatialmath.NewRenormalizedTransformFromMatrix(cameraToBase, o.tolerance)
	if err != nil {
		return nil, errors.Wrap(err, "camera_to_base")
	}
	baseToRef, err := spatialmath.NewRenormalizedTransformFromMatrix(baseToReferenceGrasp, o.tolerance)
	if err != nil {
		return nil, errors.Wrap(err, "base_to_reference_grasp")
	}
	baseToCam := camToBase.Inverse()
	if o.baseToCamera != nil {
		supplied, err := spatialmath.NewRenormalizedTransformFromMatrix(o.baseToCamera, o.tolerance)
		if err != nil {
			return nil, errors.Wrap(err, "base_to_camera")
		}
		if !supplied.Compose(camToBase).AlmostEqual(spatialmath.NewIdentityTransform(), o.tolerance) {
			return nil, errors.Wrapf(spatialmath.ErrInvalidTransform,
				"base_to_camera is not the inverse of camera_to_base within %v", o.tolerance)
		}
		baseToCam = supplied
	}

	workspace, err := spatialmath.NewOrientedBoxFromPoints(workspaceCorners)
	if err != nil {
		return nil, errors.Wrap(err, "workspace_corners")
	}
	return &FrameStore{
		cameraToBase:         camToBase,
		baseToCamera:         baseToCam,
		baseToReferenceGrasp: baseToRef,
		workspace:            workspace,
		corners:              append([]r3.Vector(nil), workspaceCorners...),
		outputFrame:          o.outputFrame,
	}, nil
}

// CameraToBase maps camera coordinates into the robot base frame.
func (fs *FrameStore) CameraToBase() spatialmath.Transform {
	return fs.cameraToBase
}

// BaseToCamera maps base coordinates into the camera frame.
func (fs *FrameStore) BaseToCamera() spatialmath.Transform {
	return fs.baseToCamera
}

// BaseToReferenceGrasp is the annotated grasp of the reference scan in the base frame.
func (fs *FrameStore) BaseToReferenceGrasp() spatialmath.Transform {
	return fs.baseToReferenceGrasp
}

// Workspace returns the region live clouds are cropped to, in the base frame.
func (fs *FrameStore) Workspace() *spatialmath.OrientedBox {
	return fs.workspace
}

// WorkspaceCorners returns a copy of the points the workspace was built from.
func (fs *FrameStore) WorkspaceCorners() []r3.Vector {
	return append([]r3.Vector(nil), fs.corners...)
}

// OutputFrame is the frame name grasp poses are tagged with.
func (fs *FrameStore) OutputFrame() string {
	return fs.outputFrame
}

// CameraOrigin is the camera position in the base frame, the viewpoint normals are oriented toward.
func (fs *FrameStore) CameraOrigin() r3.Vector {
	return fs.cameraToBase.Translation()
}
